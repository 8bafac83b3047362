//go:build debug

package gwatchdog

import (
	"fmt"

	"github.com/gordian-engine/gwatch/gassert"
)

// Assertions below are called with w.mu held.

// invariantSingleRound asserts that c's round task only runs
// while that round is still marked in flight.
// A completed round seen from a round task means a second round was posted.
func invariantSingleRound(env gassert.Env, c *Checker) {
	if !env.Enabled("gwatch.watchdog.single_round") {
		return
	}

	if c.completed {
		env.HandleAssertionFailure(fmt.Errorf(
			"checker %q: round task running with no round in flight", c.name,
		))
	}
}

// invariantStepAdvance asserts that the round on c moves to index next
// only from the step directly before it,
// and that next stays within the checker's steps
// (the step count meaning the round is completing).
func invariantStepAdvance(env gassert.Env, c *Checker, next int) {
	if !env.Enabled("gwatch.watchdog.current_step") {
		return
	}

	if next < 0 || next > len(c.probes) {
		env.HandleAssertionFailure(fmt.Errorf(
			"checker %q: step index %d out of range [0, %d]", c.name, next, len(c.probes),
		))
		return
	}

	if c.current != next-1 {
		env.HandleAssertionFailure(fmt.Errorf(
			"checker %q: advancing to step %d from %d", c.name, next, c.current,
		))
	}
}

// invariantHalfWaitState asserts that the halfway flag
// is only ever raised by a WaitedHalf evaluation.
func invariantHalfWaitState(env gassert.Env, s CompletionState) {
	if !env.Enabled("gwatch.watchdog.half_wait") {
		return
	}

	if s != WaitedHalf {
		env.HandleAssertionFailure(fmt.Errorf(
			"halfway flag raised in state %s", s,
		))
	}
}

// invariantStateMonotonic asserts that within one round,
// the watchdog never observes c moving to a better state
// without the round completing.
func invariantStateMonotonic(env gassert.Env, c *Checker, s CompletionState) {
	if !env.Enabled("gwatch.watchdog.monotonic_state") {
		return
	}

	if c.completed {
		return
	}

	if s < c.observed {
		env.HandleAssertionFailure(fmt.Errorf(
			"checker %q: state went from %s back to %s within one round", c.name, c.observed, s,
		))
		return
	}
	c.observed = s
}
