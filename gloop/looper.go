// Package gloop provides Looper, a serialized task queue
// bound to a single dedicated goroutine.
//
// A Looper satisfies the watchdog's Looper and StackTracer interfaces.
package gloop

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"runtime"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"github.com/gordian-engine/gwatch/internal/gchan"
)

// Looper runs posted tasks one at a time, in posting order,
// on a goroutine that lives until the Looper's context is cancelled.
type Looper struct {
	log  *slog.Logger
	name string

	// Non-blocking notification that the queue may be non-empty.
	signal chan struct{}

	mu   sync.Mutex
	q    *queue.Queue
	busy bool

	// ID of the loop goroutine, for Stack.
	gid atomic.Int64

	done chan struct{}
}

// New returns a Looper named name whose goroutine runs until ctx is cancelled.
// Tasks still queued at that point are dropped.
func New(ctx context.Context, log *slog.Logger, name string) *Looper {
	l := &Looper{
		log:  log,
		name: name,

		signal: make(chan struct{}, 1),

		q: queue.New(),

		done: make(chan struct{}),
	}

	ready := make(chan struct{})
	go l.kernel(ctx, ready)
	<-ready

	return l
}

func (l *Looper) Name() string { return l.name }

// Post appends task to the queue. It never blocks on task execution.
func (l *Looper) Post(task func()) {
	if task == nil {
		panic(errors.New("BUG: (*Looper).Post called with nil task"))
	}

	l.mu.Lock()
	l.q.Add(task)
	l.mu.Unlock()

	_ = gchan.SendNonBlocking(l.signal, struct{}{})
}

// Idle reports whether no task is running and none is queued.
func (l *Looper) Idle() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.busy && l.q.Length() == 0
}

// Len returns the number of queued tasks, excluding a running one.
func (l *Looper) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.q.Length()
}

// Wait blocks until the Looper's goroutine has returned.
func (l *Looper) Wait() {
	<-l.done
}

// WaitIdle posts a barrier task and blocks until it runs,
// so every task posted before the call has finished.
func (l *Looper) WaitIdle(ctx context.Context) error {
	reached := make(chan struct{})
	l.Post(func() { close(reached) })

	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-l.done:
		return errors.New("looper stopped before reaching barrier")
	case <-reached:
		return nil
	}
}

func (l *Looper) kernel(ctx context.Context, ready chan<- struct{}) {
	defer close(l.done)

	l.gid.Store(currentGoroutineID())
	close(ready)

	for {
		l.mu.Lock()
		if l.q.Length() == 0 {
			l.busy = false
			l.mu.Unlock()

			select {
			case <-ctx.Done():
				l.log.Debug("Stopping due to context cancellation", "cause", context.Cause(ctx))
				return
			case <-l.signal:
				continue
			}
		}

		task := l.q.Remove().(func())
		l.busy = true
		l.mu.Unlock()

		l.run(task)

		if ctx.Err() != nil {
			l.log.Debug("Stopping due to context cancellation", "cause", context.Cause(ctx))
			return
		}
	}
}

func (l *Looper) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error(
				"Task panicked",
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()

	task()
}

// Stack returns the current stack trace of the Looper's goroutine,
// or nil if the goroutine has exited.
func (l *Looper) Stack() []byte {
	select {
	case <-l.done:
		return nil
	default:
	}

	prefix := []byte("goroutine " + strconv.FormatInt(l.gid.Load(), 10) + " ")

	all := allStacks()
	for _, g := range bytes.Split(all, []byte("\n\n")) {
		if bytes.HasPrefix(g, prefix) {
			return g
		}
	}
	return nil
}

func allStacks() []byte {
	buf := make([]byte, 64*1024)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			return buf[:n]
		}
		buf = make([]byte, 2*len(buf))
	}
}

// currentGoroutineID parses the header line of the calling goroutine's stack,
// which has the form "goroutine 123 [running]:".
func currentGoroutineID() int64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return -1
	}
	return id
}
