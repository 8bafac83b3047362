package gwatchdog_test

import (
	"context"
	"testing"
	"time"

	"github.com/gordian-engine/gwatch/gwatchdog"
	"github.com/gordian-engine/gwatch/gwatchdog/gwatchdogtest"
	"github.com/stretchr/testify/require"
)

func TestChecker_completionStateThresholds(t *testing.T) {
	t.Parallel()

	f := newFixture(t, gwatchdog.DefaultConfig())

	l := gwatchdogtest.NewManualLooper("main")
	c := f.W.AddCheckerWithTimeout(l, "main", 10*time.Second)
	c.AddProbe(gwatchdog.ProbeFunc(func() {}))

	f.W.MarkStartedForTest()

	start := f.Clk.Now()
	require.Equal(t, gwatchdog.Completed, c.CompletionState(start))

	c.ScheduleRound()
	require.Equal(t, 1, l.Pending())

	for _, tc := range []struct {
		elapsed time.Duration
		want    gwatchdog.CompletionState
		overdue bool
	}{
		{elapsed: 0, want: gwatchdog.Waiting},
		{elapsed: 5*time.Second - 1, want: gwatchdog.Waiting},
		{elapsed: 5 * time.Second, want: gwatchdog.WaitedHalf},
		{elapsed: 10*time.Second - 1, want: gwatchdog.WaitedHalf},

		// The state flips at the budget; IsOverdue only once past it.
		{elapsed: 10 * time.Second, want: gwatchdog.Overdue},
		{elapsed: 10*time.Second + 1, want: gwatchdog.Overdue, overdue: true},
		{elapsed: time.Hour, want: gwatchdog.Overdue, overdue: true},
	} {
		now := start.Add(tc.elapsed)
		require.Equal(t, tc.want, c.CompletionState(now), "elapsed %s", tc.elapsed)
		require.Equal(t, tc.overdue, c.IsOverdue(now), "elapsed %s", tc.elapsed)
	}

	l.RunPending()
	require.Equal(t, gwatchdog.Completed, c.CompletionState(start.Add(time.Hour)))
	require.False(t, c.IsOverdue(start.Add(time.Hour)))
}

func TestChecker_singleRoundInFlight(t *testing.T) {
	t.Parallel()

	f := newFixture(t, gwatchdog.DefaultConfig())

	l := gwatchdogtest.NewManualLooper("main")
	c := f.W.AddChecker(l, "main")

	var runs int
	c.AddProbe(gwatchdog.ProbeFunc(func() { runs++ }))
	f.W.MarkStartedForTest()

	c.ScheduleRound()
	c.ScheduleRound()
	c.ScheduleRound()
	require.Equal(t, 1, l.Pending())

	require.Equal(t, 1, l.RunPending())
	require.Equal(t, 1, runs)

	// After completion, the next schedule starts a fresh round.
	c.ScheduleRound()
	require.Equal(t, 1, l.Pending())
}

func TestChecker_probesRunInOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t, gwatchdog.DefaultConfig())

	l := gwatchdogtest.NewManualLooper("main")
	c := f.W.AddChecker(l, "main")

	var order []string
	for _, name := range []string{"first", "second", "third"} {
		c.AddProbe(gwatchdog.NamedProbe(name, func() { order = append(order, name) }))
	}
	f.W.MarkStartedForTest()

	c.ScheduleRound()
	l.RunPending()

	require.Equal(t, []string{"first", "second", "third"}, order)
}

func TestChecker_describeBlockedState(t *testing.T) {
	t.Parallel()

	f := newFixture(t, gwatchdog.DefaultConfig())

	l := gwatchdogtest.NewManualLooper("ui.looper")
	c := f.W.AddChecker(l, "ui")
	require.Equal(t, "Blocked in handler on ui (ui.looper)", c.DescribeBlockedState())

	var described string
	c.AddProbe(gwatchdog.NamedProbe("Renderer", func() {
		// The description is taken while the probe is running.
		described = c.DescribeBlockedState()
	}))
	f.W.MarkStartedForTest()

	c.ScheduleRound()
	l.RunPending()

	require.Equal(t, "Blocked in probe Renderer on ui (ui.looper)", described)
	require.Equal(t, "Blocked in handler on ui (ui.looper)", c.DescribeBlockedState())
}

type unnamedProbe struct{}

func (unnamedProbe) CheckLiveness() {}

func TestChecker_describeBlockedState_unnamedProbe(t *testing.T) {
	t.Parallel()

	f := newFixture(t, gwatchdog.DefaultConfig())

	l := gwatchdogtest.NewManualLooper("main")
	c := f.W.AddChecker(l, "main")

	var described string
	c.AddProbe(unnamedProbe{})
	c.AddProbe(gwatchdog.ProbeFunc(func() { described = c.DescribeBlockedState() }))
	f.W.MarkStartedForTest()

	c.ScheduleRound()
	l.RunPending()

	require.Equal(t, "Blocked in probe gwatchdog.ProbeFunc on main (main)", described)
}

func TestChecker_probePanicLeavesRoundInFlight(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := gwatchdog.DefaultConfig()
	cfg.DefaultTimeout = 10 * time.Second
	cfg.CheckInterval = 5 * time.Second
	f := newFixture(t, cfg)

	l := gwatchdogtest.NewManualLooper("main")
	c := f.W.AddChecker(l, "main")

	var afterPanic bool
	c.AddProbe(gwatchdog.NamedProbe("panicky", func() { panic("boom") }))
	c.AddProbe(gwatchdog.ProbeFunc(func() { afterPanic = true }))

	f.W.ScheduleRoundsForTest()
	require.NotPanics(t, func() { l.RunPending() })
	require.False(t, afterPanic, "later probes are skipped")

	require.Equal(t, "Blocked in probe panicky on main (main)", c.DescribeBlockedState())

	f.Clk.Add(5 * time.Second)
	require.Equal(t, gwatchdog.WaitedHalf, f.W.EvaluateForTest(ctx))

	// The abandoned round escalates like any other stuck round.
	require.Equal(t, gwatchdog.Overdue, f.cycle(ctx, l))
	require.Len(t, f.Term.Calls(), 1)
}

func TestChecker_ScheduleRound_beforeStartPanics(t *testing.T) {
	t.Parallel()

	f := newFixture(t, gwatchdog.DefaultConfig())

	l := gwatchdogtest.NewManualLooper("main")
	c := f.W.AddChecker(l, "main")
	c.AddProbe(gwatchdog.ProbeFunc(func() {}))

	// Checks may still be appended until start,
	// so a round must not read them yet.
	require.Panics(t, func() { c.ScheduleRound() })
	require.Zero(t, l.Pending())

	c.AddProbe(gwatchdog.ProbeFunc(func() {}))
	f.W.MarkStartedForTest()

	require.NotPanics(t, func() { c.ScheduleRound() })
	require.Equal(t, 1, l.Pending())
}
