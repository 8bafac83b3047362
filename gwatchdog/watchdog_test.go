package gwatchdog_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gordian-engine/gwatch/gassert/gasserttest"
	"github.com/gordian-engine/gwatch/gwatchdog"
	"github.com/gordian-engine/gwatch/gwatchdog/gwatchdogtest"
	"github.com/gordian-engine/gwatch/internal/gtest"
	"github.com/stretchr/testify/require"
)

// fixture is a Watchdog on a mock clock with recording collaborators.
type fixture struct {
	W   *gwatchdog.Watchdog
	Clk *clock.Mock

	Stacks *gwatchdogtest.RecordingStackDumper
	Kernel *gwatchdogtest.RecordingKernelTrigger
	Term   *gwatchdogtest.RecordingTerminator
	Events *gwatchdogtest.RecordingEventSink
	Sink   *gwatchdogtest.RecordingSink
}

func newFixture(t *testing.T, cfg gwatchdog.Config, opts ...gwatchdog.Opt) *fixture {
	t.Helper()

	f := &fixture{
		Clk: clock.NewMock(),

		Stacks: new(gwatchdogtest.RecordingStackDumper),
		Kernel: new(gwatchdogtest.RecordingKernelTrigger),
		Term:   gwatchdogtest.NewRecordingTerminator(),
		Events: new(gwatchdogtest.RecordingEventSink),
		Sink:   new(gwatchdogtest.RecordingSink),
	}

	allOpts := append([]gwatchdog.Opt{
		gwatchdog.WithClock(f.Clk),
		gwatchdog.WithStackDumper(f.Stacks),
		gwatchdog.WithKernelTrigger(f.Kernel),
		gwatchdog.WithTerminator(f.Term),
		gwatchdog.WithEventSink(f.Events),
		gwatchdog.WithDiagnosticsSink(f.Sink),
		gwatchdog.WithAssertEnv(gasserttest.DefaultEnv()),
	}, opts...)

	w, err := gwatchdog.New(gtest.NewLogger(t), cfg, allOpts...)
	require.NoError(t, err)
	f.W = w

	return f
}

// cycle runs one schedule/sleep/evaluate cycle,
// draining the given loopers right after scheduling.
func (f *fixture) cycle(ctx context.Context, drain ...*gwatchdogtest.ManualLooper) gwatchdog.CompletionState {
	f.W.ScheduleRoundsForTest()
	for _, l := range drain {
		l.RunPending()
	}
	f.Clk.Add(f.W.CheckInterval())
	return f.W.EvaluateForTest(ctx)
}

func TestNew_invalidConfig(t *testing.T) {
	t.Parallel()

	cfg := gwatchdog.DefaultConfig()
	cfg.DefaultTimeout = 0
	cfg.ReportTimeout = -1
	cfg.ProcessName = ""

	_, err := gwatchdog.New(gtest.NewLogger(t), cfg)
	require.Error(t, err)
	require.ErrorContains(t, err, "DefaultTimeout")
	require.ErrorContains(t, err, "ReportTimeout")
	require.ErrorContains(t, err, "ProcessName")
}

func TestNew_reportTimeoutBounded(t *testing.T) {
	t.Parallel()

	cfg := gwatchdog.DefaultConfig()
	cfg.ReportTimeout = time.Hour

	_, err := gwatchdog.New(gtest.NewLogger(t), cfg)
	require.ErrorContains(t, err, "ReportTimeout must not exceed 2s")

	cfg.ReportTimeout = gwatchdog.DefaultReportTimeout
	_, err = gwatchdog.New(gtest.NewLogger(t), cfg)
	require.NoError(t, err)
}

func TestNew_defaultCheckInterval(t *testing.T) {
	t.Parallel()

	cfg := gwatchdog.DefaultConfig()
	cfg.DefaultTimeout = 10 * time.Second
	cfg.CheckInterval = 0

	w, err := gwatchdog.New(gtest.NewLogger(t), cfg)
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, w.CheckInterval())
}

func TestWatchdog_registration(t *testing.T) {
	t.Parallel()

	f := newFixture(t, gwatchdog.DefaultConfig())

	require.Panics(t, func() {
		f.W.AddProbe(gwatchdog.ProbeFunc(func() {}))
	}, "AddProbe before any checker")

	monitor := f.W.AddChecker(gwatchdogtest.NewManualLooper("main"), "foreground")
	require.Equal(t, gwatchdog.DefaultTimeout, monitor.Timeout())

	io := f.W.AddCheckerWithTimeout(gwatchdogtest.NewManualLooper("io"), "io", 5*time.Second)
	require.Equal(t, 5*time.Second, io.Timeout())

	require.Panics(t, func() {
		f.W.AddChecker(gwatchdogtest.NewManualLooper("other"), "io")
	}, "duplicate name")

	f.W.AddProbe(gwatchdog.NamedProbe("activity", func() {}))

	s := f.W.Status()
	require.Len(t, s.Checkers, 2)
	require.Equal(t, 1, s.Checkers[0].Probes, "AddProbe targets the first checker")
	require.Zero(t, s.Checkers[1].Probes)

	require.Same(t, io, f.W.Checker("io"))
	require.Nil(t, f.W.Checker("missing"))

	f.W.MarkStartedForTest()

	require.Panics(t, func() {
		f.W.AddChecker(gwatchdogtest.NewManualLooper("late"), "late")
	})
	require.Panics(t, func() {
		f.W.AddProbe(gwatchdog.ProbeFunc(func() {}))
	})
	require.Panics(t, func() {
		io.AddProbe(gwatchdog.ProbeFunc(func() {}))
	})
}

func TestWatchdog_aggregateIsMaximum(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := gwatchdog.DefaultConfig()
	cfg.DefaultTimeout = 60 * time.Second
	cfg.CheckInterval = 40 * time.Second
	f := newFixture(t, cfg)

	a := gwatchdogtest.NewManualLooper("a")
	b := gwatchdogtest.NewManualLooper("b")
	f.W.AddChecker(a, "a").AddProbe(gwatchdog.ProbeFunc(func() {}))
	f.W.AddChecker(b, "b").AddProbe(gwatchdog.ProbeFunc(func() {}))

	// A completes, B is stuck past half of its budget.
	require.Equal(t, gwatchdog.WaitedHalf, f.cycle(ctx, a))

	s := f.W.Status()
	require.Equal(t, gwatchdog.Completed, s.Checkers[0].State)
	require.Equal(t, gwatchdog.WaitedHalf, s.Checkers[1].State)
	require.Equal(t, gwatchdog.WaitedHalf, s.Aggregate)
}

func TestWatchdog_halfwayDumpOncePerEpisode(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := gwatchdog.DefaultConfig()
	cfg.DefaultTimeout = 60 * time.Second
	cfg.CheckInterval = 10 * time.Second
	f := newFixture(t, cfg)

	l := gwatchdogtest.NewManualLooper("main")
	f.W.AddChecker(l, "main").AddProbe(gwatchdog.ProbeFunc(func() {}))

	var states []gwatchdog.CompletionState
	for range 5 {
		states = append(states, f.cycle(ctx))
	}
	require.Equal(t, []gwatchdog.CompletionState{
		gwatchdog.Waiting, gwatchdog.Waiting,
		gwatchdog.WaitedHalf, gwatchdog.WaitedHalf, gwatchdog.WaitedHalf,
	}, states)

	calls := f.Stacks.Calls()
	require.Len(t, calls, 1)
	require.True(t, calls[0].Clear)
	require.True(t, f.W.HalfWaitNotifiedForTest())

	// Recovery resets the flag.
	l.RunPending()
	require.Equal(t, gwatchdog.Completed, f.W.EvaluateForTest(ctx))
	require.False(t, f.W.HalfWaitNotifiedForTest())

	// A new stuck episode gets its own halfway dump.
	for range 4 {
		f.cycle(ctx)
	}
	require.Len(t, f.Stacks.Calls(), 2)

	require.Empty(t, f.Term.Calls())
}

func TestWatchdog_roundCompletionClearsHalfwayFlag(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := gwatchdog.DefaultConfig()
	cfg.DefaultTimeout = 20 * time.Second
	cfg.CheckInterval = 15 * time.Second
	f := newFixture(t, cfg)

	l := gwatchdogtest.NewManualLooper("main")
	f.W.AddChecker(l, "main").AddProbe(gwatchdog.ProbeFunc(func() {}))

	require.Equal(t, gwatchdog.WaitedHalf, f.cycle(ctx))
	require.True(t, f.W.HalfWaitNotifiedForTest())

	// The wake path re-evaluates without waiting for the next cycle.
	l.RunPending()
	f.W.NoteRoundCompletedForTest()
	require.False(t, f.W.HalfWaitNotifiedForTest())
}

func TestWatchdog_idleCheckerWithoutProbesNeverWaits(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t, gwatchdog.DefaultConfig())

	l := gwatchdogtest.NewManualLooper("idle")
	f.W.AddChecker(l, "idle")

	for i := range 1000 {
		require.Equal(t, gwatchdog.Completed, f.cycle(ctx), "cycle %d", i)
	}
	require.Zero(t, l.Pending(), "no rounds posted to an idle looper without probes")
	require.Empty(t, f.Stacks.Calls())
	require.Empty(t, f.Term.Calls())
}

func TestWatchdog_busyCheckerWithoutProbesIsChecked(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := gwatchdog.DefaultConfig()
	cfg.CheckInterval = 10 * time.Second
	f := newFixture(t, cfg)

	l := gwatchdogtest.NewManualLooper("busy")
	l.SetBusy(true)
	f.W.AddChecker(l, "busy")

	require.Equal(t, gwatchdog.Waiting, f.cycle(ctx))
	require.Equal(t, 1, l.Pending())

	// Still in flight, so no second round is posted.
	f.cycle(ctx)
	require.Equal(t, 1, l.Pending())
}

func TestWatchdog_endToEnd_stuckCheckerTerminates(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := gwatchdog.DefaultConfig()
	cfg.DefaultTimeout = 60 * time.Second
	cfg.CheckInterval = 30 * time.Second
	f := newFixture(t, cfg)

	main := gwatchdogtest.NewManualLooper("main")
	io := gwatchdogtest.NewManualLooper("io")
	ui := gwatchdogtest.NewManualLooper("ui")

	probe := gwatchdog.ProbeFunc(func() {})
	f.W.AddChecker(main, "foreground").AddProbe(probe)
	f.W.AddChecker(io, "io").AddProbe(probe)
	f.W.AddChecker(ui, "ui").AddProbe(probe)

	// Half the budget has passed at the first evaluation.
	require.Equal(t, gwatchdog.WaitedHalf, f.cycle(ctx, main, io))
	require.Equal(t, 30*time.Second, f.W.Status().Checkers[2].Elapsed)
	require.Len(t, f.Stacks.Calls(), 1)
	require.Empty(t, f.Events.Events())
	require.Empty(t, f.Term.Calls())

	// And the full budget at the second.
	require.Equal(t, gwatchdog.Overdue, f.cycle(ctx, main, io))

	calls := f.Stacks.Calls()
	require.Len(t, calls, 2)
	require.False(t, calls[1].Clear, "overdue dump appends to the halfway dump")

	events := f.Events.Events()
	require.Len(t, events, 1)
	require.Equal(t, []string{"ui"}, events[0].Checkers)
	require.Contains(t, events[0].Subject, "ui")

	require.Equal(t, 1, f.Kernel.Count())

	diags := f.Sink.Diagnostics()
	require.Len(t, diags, 1)
	require.Equal(t, events[0].ID, diags[0].EpisodeID)
	require.Equal(t, "watchdog", diags[0].Tag)

	require.Equal(t, []gwatchdogtest.TerminateCall{
		{Reason: "Blocked in handler on ui (ui)", ExitCode: gwatchdog.ExitCode},
	}, f.Term.Calls())
	require.False(t, f.W.HalfWaitNotifiedForTest())
}

func TestWatchdog_subjectJoinsAllOverdueCheckers(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := gwatchdog.DefaultConfig()
	cfg.DefaultTimeout = 10 * time.Second
	cfg.CheckInterval = 5 * time.Second
	f := newFixture(t, cfg)

	a := gwatchdogtest.NewManualLooper("looper-a")
	b := gwatchdogtest.NewManualLooper("looper-b")
	f.W.AddChecker(a, "a").AddProbe(gwatchdog.NamedProbe("lock-a", func() {}))
	f.W.AddChecker(b, "b").AddProbe(gwatchdog.ProbeFunc(func() {}))

	require.Equal(t, gwatchdog.WaitedHalf, f.cycle(ctx))

	// Both at exactly the budget: Overdue, and both named.
	require.Equal(t, gwatchdog.Overdue, f.cycle(ctx))
	require.False(t, f.W.Checker("a").IsOverdue(f.Clk.Now()))

	calls := f.Term.Calls()
	require.Len(t, calls, 1)
	require.Equal(t,
		"Blocked in handler on a (looper-a), Blocked in handler on b (looper-b)",
		calls[0].Reason,
	)
}

func TestWatchdog_processStartedPIDsIncludedInOverdueDump(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := gwatchdog.DefaultConfig()
	cfg.DefaultTimeout = 10 * time.Second
	cfg.CheckInterval = 5 * time.Second
	cfg.InterestingProcesses = []string{"media"}
	cfg.NativeStacksOfInterest = []string{"/usr/bin/mediaserver"}
	f := newFixture(t, cfg)

	f.W.ProcessStarted("media", 4242)
	f.W.ProcessStarted("unrelated", 99)

	l := gwatchdogtest.NewManualLooper("main")
	f.W.AddChecker(l, "main").AddProbe(gwatchdog.ProbeFunc(func() {}))

	f.cycle(ctx)
	f.cycle(ctx)

	calls := f.Stacks.Calls()
	require.Len(t, calls, 2)

	// Halfway dump is only of this process.
	require.Len(t, calls[0].PIDs, 1)

	require.Len(t, calls[1].PIDs, 2)
	require.Equal(t, 4242, calls[1].PIDs[1])
	require.Equal(t, []string{"/usr/bin/mediaserver"}, calls[1].NativeProcs)
}

func TestWatchdog_Reboot(t *testing.T) {
	t.Parallel()

	f := newFixture(t, gwatchdog.DefaultConfig())

	f.W.Reboot("operator request")

	require.Equal(t, []gwatchdogtest.TerminateCall{
		{Reason: "operator request", ExitCode: gwatchdog.RebootExitCode},
	}, f.Term.Calls())
}

func TestWatchdog_Start_terminatesWhenStuck(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := gwatchdog.DefaultConfig()
	cfg.DefaultTimeout = 2 * time.Second
	cfg.CheckInterval = time.Second

	// Real clock here: this exercises the goroutine and its timer.
	term := gwatchdogtest.NewRecordingTerminator()
	w, err := gwatchdog.New(
		gtest.NewLogger(t), cfg,
		gwatchdog.WithTerminator(term),
		gwatchdog.WithStackDumper(new(gwatchdogtest.RecordingStackDumper)),
	)
	require.NoError(t, err)

	w.AddChecker(gwatchdogtest.NewManualLooper("stuck"), "stuck").
		AddProbe(gwatchdog.ProbeFunc(func() {}))

	w.Start(ctx)
	defer w.Wait()
	defer cancel()

	require.Panics(t, func() { w.Start(ctx) })

	call := gtest.ReceiveOrTimeout(t, term.Ch, gtest.ScaleMs(5000))
	require.Equal(t, gwatchdog.ExitCode, call.ExitCode)
	require.Contains(t, call.Reason, "stuck")
}

func TestCancelTerminator(t *testing.T) {
	t.Parallel()

	t.Run("failure to respond", func(t *testing.T) {
		t.Parallel()

		term, ctx := gwatchdog.NewCancelTerminator(context.Background())
		require.NoError(t, ctx.Err())
		require.False(t, gwatchdog.IsTermination(ctx))

		term.Terminate("Blocked in handler on ui (ui)", gwatchdog.ExitCode)
		require.Error(t, ctx.Err())
		require.True(t, gwatchdog.IsTermination(ctx))
		require.Equal(t, gwatchdog.FailureToRespondError{
			Subject:  "Blocked in handler on ui (ui)",
			ExitCode: gwatchdog.ExitCode,
		}, context.Cause(ctx))

		// A second call does not change the cause.
		term.Terminate("again", gwatchdog.RebootExitCode)
		var ftr gwatchdog.FailureToRespondError
		require.True(t, errors.As(context.Cause(ctx), &ftr))
	})

	t.Run("reboot", func(t *testing.T) {
		t.Parallel()

		term, ctx := gwatchdog.NewCancelTerminator(context.Background())
		term.Terminate("testing purposes", gwatchdog.RebootExitCode)

		require.True(t, gwatchdog.IsTermination(ctx))
		require.Equal(t, gwatchdog.ForcedTerminationError{
			Reason: "testing purposes",
		}, context.Cause(ctx))
	})

	t.Run("parent cancellation is not termination", func(t *testing.T) {
		t.Parallel()

		parent, cancel := context.WithCancel(context.Background())
		_, ctx := gwatchdog.NewCancelTerminator(parent)
		cancel()

		require.Error(t, ctx.Err())
		require.False(t, gwatchdog.IsTermination(ctx))
	})
}
