// Package gwatchdogtest contains test doubles for the collaborators of a
// [gwatchdog.Watchdog].
//
// Every fake is safe for concurrent use,
// so the same values work when driving single cycles from a test
// and when running a started Watchdog.
package gwatchdogtest

import (
	"context"
	"strings"
	"sync"

	"github.com/gordian-engine/gwatch/gwatchdog"
)

// ManualLooper is a [gwatchdog.Looper] whose posted tasks
// only run when the test calls [*ManualLooper.RunPending].
// A looper that is never drained simulates a hung execution context.
type ManualLooper struct {
	name string

	mu      sync.Mutex
	pending []func()
	busy    bool
	stack   []byte
}

func NewManualLooper(name string) *ManualLooper {
	return &ManualLooper{name: name}
}

func (l *ManualLooper) Name() string { return l.name }

func (l *ManualLooper) Post(task func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = append(l.pending, task)
}

// Idle reports true when nothing is queued and SetBusy(true) has not been called.
func (l *ManualLooper) Idle() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.busy && len(l.pending) == 0
}

// SetBusy makes the looper report itself as non-idle
// even when no tasks are queued, like a looper stuck in unrelated work.
func (l *ManualLooper) SetBusy(busy bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.busy = busy
}

// Pending returns the number of queued tasks.
func (l *ManualLooper) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// RunPending runs all currently queued tasks on the calling goroutine,
// returning how many ran.
func (l *ManualLooper) RunPending() int {
	l.mu.Lock()
	tasks := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, t := range tasks {
		t()
	}
	return len(tasks)
}

// SetStack sets the value returned by Stack.
func (l *ManualLooper) SetStack(b []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stack = b
}

func (l *ManualLooper) Stack() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stack
}

// DumpCall is the arguments of one call to [*RecordingStackDumper.DumpStacks].
type DumpCall struct {
	Clear       bool
	PIDs        []int
	NativeProcs []string
}

// RecordingStackDumper records dump requests and returns a fixed result.
type RecordingStackDumper struct {
	mu sync.Mutex

	// Result is returned from every DumpStacks call.
	Result gwatchdog.StackDump
	Err    error

	calls  []DumpCall
	sealed []string
}

func (d *RecordingStackDumper) DumpStacks(
	_ context.Context, clear bool, pids []int, nativeProcs []string,
) (gwatchdog.StackDump, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, DumpCall{
		Clear:       clear,
		PIDs:        append([]int(nil), pids...),
		NativeProcs: append([]string(nil), nativeProcs...),
	})
	return d.Result, d.Err
}

// SealTraces records path and returns it with a "_WDT" suffix before the extension.
func (d *RecordingStackDumper) SealTraces(path string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sealed = append(d.sealed, path)
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		return path[:i] + "_WDT" + path[i:], nil
	}
	return path + "_WDT", nil
}

func (d *RecordingStackDumper) Calls() []DumpCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DumpCall(nil), d.calls...)
}

func (d *RecordingStackDumper) Sealed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.sealed...)
}

// TerminateCall is the arguments of one call to [*RecordingTerminator.Terminate].
type TerminateCall struct {
	Reason   string
	ExitCode int
}

// RecordingTerminator records termination requests instead of exiting.
type RecordingTerminator struct {
	mu    sync.Mutex
	calls []TerminateCall

	// Ch receives every call, if the buffer has room.
	Ch chan TerminateCall
}

func NewRecordingTerminator() *RecordingTerminator {
	return &RecordingTerminator{Ch: make(chan TerminateCall, 8)}
}

func (t *RecordingTerminator) Terminate(reason string, exitCode int) {
	c := TerminateCall{Reason: reason, ExitCode: exitCode}

	t.mu.Lock()
	t.calls = append(t.calls, c)
	t.mu.Unlock()

	select {
	case t.Ch <- c:
	default:
	}
}

func (t *RecordingTerminator) Calls() []TerminateCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]TerminateCall(nil), t.calls...)
}

// FixedController is a [gwatchdog.Controller] that always gives the same answer.
type FixedController struct {
	Result int
	Err    error

	mu       sync.Mutex
	subjects []string
}

func (c *FixedController) SystemNotResponding(_ context.Context, subject string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subjects = append(c.subjects, subject)
	return c.Result, c.Err
}

func (c *FixedController) Subjects() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.subjects...)
}

// RecordingEventSink records emitted events.
type RecordingEventSink struct {
	mu     sync.Mutex
	events []gwatchdog.Event
}

func (s *RecordingEventSink) EmitWatchdogEvent(e gwatchdog.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *RecordingEventSink) Events() []gwatchdog.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gwatchdog.Event(nil), s.events...)
}

// RecordingSink is a [gwatchdog.DiagnosticsSink] that records what it is given.
type RecordingSink struct {
	// If Block is non-nil, AddDiagnostic waits for it to be closed
	// or for its context to be cancelled before recording.
	Block chan struct{}

	Err error

	mu    sync.Mutex
	diags []gwatchdog.Diagnostic
}

func (s *RecordingSink) AddDiagnostic(ctx context.Context, d gwatchdog.Diagnostic) error {
	if s.Block != nil {
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-s.Block:
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.diags = append(s.diags, d)
	return s.Err
}

func (s *RecordingSink) Diagnostics() []gwatchdog.Diagnostic {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gwatchdog.Diagnostic(nil), s.diags...)
}

// RecordingKernelTrigger counts blocked-task dump requests.
type RecordingKernelTrigger struct {
	Err error

	mu sync.Mutex
	n  int
}

func (k *RecordingKernelTrigger) DumpBlockedTasks() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.n++
	return k.Err
}

func (k *RecordingKernelTrigger) Count() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.n
}
