package gwatchdog

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Checker monitors a single [Looper].
// Checkers are created through [*Watchdog.AddChecker].
//
// All round state is guarded by the owning Watchdog's mutex,
// which is shared between the watchdog goroutine (scheduling, evaluating)
// and the looper goroutine (marking progress and completion).
type Checker struct {
	w *Watchdog

	looper  Looper
	name    string
	timeout time.Duration

	// Append-only until the watchdog starts, then immutable.
	// The round task reads it without the lock for that reason.
	probes []Probe

	// Fields below are guarded by w.mu.

	completed bool
	start     time.Time

	// Index into probes of the probe currently executing, or -1.
	current int

	// Worst state seen by the watchdog during the round in flight.
	// Only maintained in debug builds.
	observed CompletionState
}

func newChecker(w *Watchdog, looper Looper, name string, timeout time.Duration) *Checker {
	return &Checker{
		w: w,

		looper:  looper,
		name:    name,
		timeout: timeout,

		completed: true,
		current:   -1,
	}
}

func (c *Checker) Name() string { return c.name }

// Timeout returns c's wait budget for a single round.
func (c *Checker) Timeout() time.Duration { return c.timeout }

// AddProbe appends p to the probes run in every round of c.
// AddProbe panics if the watchdog has already started.
func (c *Checker) AddProbe(p Probe) {
	if p == nil {
		panic(errors.New("BUG: (*Checker).AddProbe called with nil probe"))
	}

	c.w.mu.Lock()
	defer c.w.mu.Unlock()

	if c.w.started {
		panic(fmt.Errorf("BUG: probes cannot be added to checker %q once the watchdog is running", c.name))
	}

	c.probes = append(c.probes, p)
}

// ScheduleRound posts a new round onto c's looper,
// unless one is already in flight.
//
// A checker without probes whose looper is idle is considered
// to have completed immediately, without posting anything.
//
// ScheduleRound panics if the watchdog has not started,
// because probes may still be added until then.
func (c *Checker) ScheduleRound() {
	c.w.mu.Lock()
	defer c.w.mu.Unlock()

	if !c.w.started {
		panic(fmt.Errorf("BUG: round scheduled on checker %q before the watchdog started", c.name))
	}

	c.scheduleRoundLocked(c.w.clk.Now())
}

func (c *Checker) scheduleRoundLocked(now time.Time) {
	if len(c.probes) == 0 && c.looper.Idle() {
		// An idle looper is as good as a responsive one,
		// and there is nothing else to run.
		c.completed = true
		c.current = -1
		return
	}

	if !c.completed {
		// Already have a round in flight.
		return
	}

	c.completed = false
	c.current = -1
	c.observed = Waiting
	c.start = now
	c.looper.Post(c.runRound)
}

// runRound executes on c's looper.
func (c *Checker) runRound() {
	for i, p := range c.probes {
		c.w.mu.Lock()
		invariantSingleRound(c.w.assertEnv, c)
		invariantStepAdvance(c.w.assertEnv, c, i)
		c.current = i
		c.w.mu.Unlock()

		if !c.runProbe(p) {
			// The round is abandoned in flight.
			// It will become overdue and escalate like any other stuck round.
			return
		}
	}

	c.w.mu.Lock()
	invariantSingleRound(c.w.assertEnv, c)
	invariantStepAdvance(c.w.assertEnv, c, len(c.probes))
	c.completed = true
	c.current = -1
	c.w.mu.Unlock()

	c.w.notifyRoundCompleted()
}

func (c *Checker) runProbe(p Probe) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.w.log.Error(
				"Probe panicked; round will not complete",
				"checker", c.name,
				"probe", probeName(p),
				"panic", r,
			)
			c.w.metrics.RecordProbePanic(c.name)
			ok = false
		}
	}()

	p.CheckLiveness()
	return true
}

// IsOverdue reports whether c has had a round in flight
// for longer than its wait budget as of now.
//
// At exactly the budget, IsOverdue is false
// while CompletionState already reports Overdue.
func (c *Checker) IsOverdue(now time.Time) bool {
	c.w.mu.Lock()
	defer c.w.mu.Unlock()
	return !c.completed && now.Sub(c.start) > c.timeout
}

// CompletionState reports the state of c's current round as of now.
func (c *Checker) CompletionState(now time.Time) CompletionState {
	c.w.mu.Lock()
	defer c.w.mu.Unlock()
	return c.completionStateLocked(now)
}

func (c *Checker) completionStateLocked(now time.Time) CompletionState {
	if c.completed {
		return Completed
	}

	latency := now.Sub(c.start)
	switch {
	case latency < c.timeout/2:
		return Waiting
	case latency < c.timeout:
		return WaitedHalf
	default:
		return Overdue
	}
}

// DescribeBlockedState returns a human-readable description
// of where c's current round is stuck.
func (c *Checker) DescribeBlockedState() string {
	c.w.mu.Lock()
	defer c.w.mu.Unlock()
	return c.describeBlockedStateLocked()
}

func (c *Checker) describeBlockedStateLocked() string {
	if c.current < 0 {
		return "Blocked in handler on " + c.name + " (" + c.looper.Name() + ")"
	}
	return "Blocked in probe " + probeName(c.probes[c.current]) +
		" on " + c.name + " (" + c.looper.Name() + ")"
}

// CheckerStatus is a point-in-time snapshot of a [Checker].
type CheckerStatus struct {
	Name    string
	Looper  string
	Timeout time.Duration
	Probes  int

	State CompletionState

	// Elapsed is how long the current round has been in flight;
	// zero if State is Completed.
	Elapsed time.Duration

	// CurrentProbe is the name of the executing probe, if any.
	CurrentProbe string
}

func (s CheckerStatus) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", s.Name),
		slog.String("state", s.State.String()),
		slog.Duration("elapsed", s.Elapsed),
		slog.String("current_probe", s.CurrentProbe),
	)
}

func (c *Checker) statusLocked(now time.Time) CheckerStatus {
	s := CheckerStatus{
		Name:    c.name,
		Looper:  c.looper.Name(),
		Timeout: c.timeout,
		Probes:  len(c.probes),
		State:   c.completionStateLocked(now),
	}
	if !c.completed {
		s.Elapsed = now.Sub(c.start)
	}
	if c.current >= 0 {
		s.CurrentProbe = probeName(c.probes[c.current])
	}
	return s
}
