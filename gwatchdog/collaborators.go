package gwatchdog

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Looper is the minimal surface the watchdog needs from an execution context:
// a serialized task queue that can report when it has nothing to do.
// The gloop package has an implementation.
type Looper interface {
	// Post schedules task to run on the looper, serialized with its other work.
	// Post must not block waiting for the task to run.
	Post(task func())

	// Idle reports whether the looper has no queued or running work.
	Idle() bool

	// Name identifies the looper in blocked-state descriptions.
	Name() string
}

// StackTracer is optionally implemented by a [Looper]
// that can report the current stack of its goroutine.
// The stacks of overdue loopers are logged before termination.
type StackTracer interface {
	Stack() []byte
}

// Controller is an external collaborator that may veto termination.
type Controller interface {
	// SystemNotResponding reports an overdue episode.
	// A non-negative result asks the watchdog to keep waiting;
	// a negative result allows termination.
	// Any error is treated the same as a negative result.
	SystemNotResponding(ctx context.Context, subject string) (int, error)
}

// Diagnostic is the bundle handed to a [DiagnosticsSink] on escalation.
type Diagnostic struct {
	// EpisodeID matches the ID of the [Event] emitted for the same episode.
	EpisodeID string

	// Tag is a short free-text category, "watchdog" for overdue episodes.
	Tag string

	// Process is the configured name of the hosting process.
	Process string

	Subject string

	// TracesPath is where the stack traces were written, if anywhere.
	TracesPath string

	// Traces is the content of the traces file at reporting time.
	Traces []byte

	CreatedAt time.Time
}

func (d Diagnostic) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("episode", d.EpisodeID),
		slog.String("tag", d.Tag),
		slog.String("subject", d.Subject),
		slog.String("traces_path", d.TracesPath),
		slog.Int("traces_len", len(d.Traces)),
	)
}

// DiagnosticsSink persists diagnostic bundles.
// The watchdog only waits [Config.ReportTimeout] for AddDiagnostic to return.
type DiagnosticsSink interface {
	AddDiagnostic(ctx context.Context, d Diagnostic) error
}

// StackDump is the result of [StackDumper.DumpStacks].
type StackDump struct {
	// Path of the traces file, empty if the dumper does not write files.
	Path string

	// Data is the full content of the traces file after the dump.
	Data []byte
}

// StackDumper captures stack traces of this process and others.
type StackDumper interface {
	// DumpStacks writes stack traces of the given pids and of any running
	// processes whose executable matches one of nativeProcs.
	// If clear is set, the traces file is truncated first;
	// otherwise the new traces are appended to those already present.
	DumpStacks(ctx context.Context, clear bool, pids []int, nativeProcs []string) (StackDump, error)

	// SealTraces moves the traces file at path out of the way
	// of subsequent dumps and returns its new location.
	SealTraces(path string) (string, error)
}

// KernelTrigger asks the kernel to log the stacks of all blocked tasks.
type KernelTrigger interface {
	DumpBlockedTasks() error
}

// Terminator ends the current process.
// In production, Terminate does not return.
type Terminator interface {
	Terminate(reason string, exitCode int)
}

// Event is the single structured record emitted per overdue episode.
type Event struct {
	ID      string
	Subject string

	// Names of the overdue checkers, in registration order.
	Checkers []string

	At time.Time
}

func (e Event) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", e.ID),
		slog.String("subject", e.Subject),
		slog.Any("checkers", e.Checkers),
		slog.Time("at", e.At),
	)
}

// EventSink receives the structured diagnostic event for each overdue episode.
type EventSink interface {
	EmitWatchdogEvent(e Event)
}

// Metrics receives watchdog observations.
// The gwmetrics package exports them to Prometheus.
type Metrics interface {
	RecordCompletionState(checker string, s CompletionState)
	RecordHalfwayDump()
	RecordEscalation(o EscalationOutcome)
	RecordProbePanic(checker string)
}

// ExitTerminator terminates the process with [os.Exit].
// It is the default Terminator.
type ExitTerminator struct{}

func (ExitTerminator) Terminate(_ string, exitCode int) {
	os.Exit(exitCode)
}

// CancelTerminator "terminates" by cancelling a context,
// for hosts that prefer an orderly shutdown driven by their root context.
// Use [IsTermination] to inspect the context afterwards.
type CancelTerminator struct {
	cancel context.CancelCauseFunc
}

// NewCancelTerminator returns a CancelTerminator
// and a context derived from ctx that it cancels.
func NewCancelTerminator(ctx context.Context) (*CancelTerminator, context.Context) {
	tCtx, cancel := context.WithCancelCause(ctx)
	return &CancelTerminator{cancel: cancel}, tCtx
}

func (t *CancelTerminator) Terminate(reason string, exitCode int) {
	if exitCode == RebootExitCode {
		t.cancel(ForcedTerminationError{Reason: reason})
		return
	}
	t.cancel(FailureToRespondError{Subject: reason, ExitCode: exitCode})
}

type logEventSink struct {
	log *slog.Logger
}

func (s logEventSink) EmitWatchdogEvent(e Event) {
	s.log.Warn("Watchdog event", "event", e)
}

type nopStackDumper struct{}

func (nopStackDumper) DumpStacks(context.Context, bool, []int, []string) (StackDump, error) {
	return StackDump{}, nil
}

func (nopStackDumper) SealTraces(path string) (string, error) {
	return path, nil
}

type nopKernelTrigger struct{}

func (nopKernelTrigger) DumpBlockedTasks() error { return nil }

type nopMetrics struct{}

func (nopMetrics) RecordCompletionState(string, CompletionState) {}
func (nopMetrics) RecordHalfwayDump()                            {}
func (nopMetrics) RecordEscalation(EscalationOutcome)            {}
func (nopMetrics) RecordProbePanic(string)                       {}
