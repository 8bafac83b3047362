package gwatchdog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gordian-engine/gwatch/gassert"
	"github.com/gordian-engine/gwatch/internal/gchan"
)

const (
	// DefaultTimeout is the default wait budget of a checker.
	DefaultTimeout = 60 * time.Second

	// ExitCode is passed to the Terminator when an overdue episode ends the process.
	ExitCode = 10

	// RebootExitCode is passed to the Terminator by [*Watchdog.Reboot].
	RebootExitCode = 11

	// DefaultReportTimeout bounds the wait on the DiagnosticsSink.
	DefaultReportTimeout = 2 * time.Second
)

// Config holds the static settings of a [Watchdog].
type Config struct {
	// Wait budget for checkers added without an explicit timeout.
	DefaultTimeout time.Duration

	// How long the watchdog sleeps between cycles.
	// Zero means half of DefaultTimeout.
	CheckInterval time.Duration

	// How long to wait for the DiagnosticsSink during escalation.
	// At most DefaultReportTimeout.
	ReportTimeout time.Duration

	// Executable paths of other processes whose stacks
	// are included in every dump.
	NativeStacksOfInterest []string

	// Names accepted by [*Watchdog.ProcessStarted].
	// Their PIDs are included in overdue dumps.
	InterestingProcesses []string

	// Process name reported in each Diagnostic.
	ProcessName string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout: DefaultTimeout,
		CheckInterval:  DefaultTimeout / 2,
		ReportTimeout:  DefaultReportTimeout,
		ProcessName:    "gwatchd",
	}
}

func (c Config) validate() error {
	var err error
	if c.DefaultTimeout <= 0 {
		err = errors.Join(err, errors.New("Config.DefaultTimeout must be positive"))
	}

	if c.CheckInterval < 0 {
		err = errors.Join(err, errors.New("Config.CheckInterval must not be negative"))
	}

	if c.CheckInterval > c.DefaultTimeout {
		err = errors.Join(err, errors.New("Config.CheckInterval must not exceed Config.DefaultTimeout"))
	}

	if c.ReportTimeout <= 0 {
		err = errors.Join(err, errors.New("Config.ReportTimeout must be positive"))
	} else if c.ReportTimeout > DefaultReportTimeout {
		err = errors.Join(err, fmt.Errorf(
			"Config.ReportTimeout must not exceed %s; got %s", DefaultReportTimeout, c.ReportTimeout,
		))
	}

	if c.ProcessName == "" {
		err = errors.Join(err, errors.New("Config.ProcessName must not be empty"))
	}

	return err
}

// Opt is an option for [New].
type Opt func(*Watchdog) error

// WithClock sets the clock used for round timing and the check interval.
// The default clock uses Go's monotonic clock reading,
// which on Linux does not advance while the host is suspended.
func WithClock(clk clock.Clock) Opt {
	return func(w *Watchdog) error {
		if clk == nil {
			return errors.New("WithClock: clock must not be nil")
		}
		w.clk = clk
		return nil
	}
}

// WithStackDumper sets the stack dumper used for halfway and overdue dumps.
func WithStackDumper(d StackDumper) Opt {
	return func(w *Watchdog) error {
		w.stacks = d
		return nil
	}
}

// WithKernelTrigger sets the kernel blocked-task dump trigger.
func WithKernelTrigger(k KernelTrigger) Opt {
	return func(w *Watchdog) error {
		w.blockedTasks = k
		return nil
	}
}

// WithDiagnosticsSink sets the sink that receives diagnostic bundles.
// Without a sink, bundles are only logged.
func WithDiagnosticsSink(s DiagnosticsSink) Opt {
	return func(w *Watchdog) error {
		w.sink = s
		return nil
	}
}

// WithTerminator sets the process-kill primitive.
// The default is [ExitTerminator].
func WithTerminator(t Terminator) Opt {
	return func(w *Watchdog) error {
		if t == nil {
			return errors.New("WithTerminator: terminator must not be nil")
		}
		w.term = t
		return nil
	}
}

// WithEventSink sets where overdue events are emitted.
// The default logs them at warn level.
func WithEventSink(s EventSink) Opt {
	return func(w *Watchdog) error {
		w.events = s
		return nil
	}
}

// WithMetrics sets the metrics receiver.
func WithMetrics(m Metrics) Opt {
	return func(w *Watchdog) error {
		w.metrics = m
		return nil
	}
}

// WithDebuggerDetector sets the function consulted before termination.
// If it reports true, the process is not terminated.
func WithDebuggerDetector(fn func() bool) Opt {
	return func(w *Watchdog) error {
		w.debuggerAttached = fn
		return nil
	}
}

// WithController sets the initial controller.
// It may be changed later with [*Watchdog.SetController].
func WithController(c Controller) Opt {
	return func(w *Watchdog) error {
		w.controller = c
		return nil
	}
}

// WithAssertEnv sets the assertion environment.
// Assertions only run in builds with the "debug" tag.
func WithAssertEnv(env gassert.Env) Opt {
	return func(w *Watchdog) error {
		w.assertEnv = env
		return nil
	}
}

// Watchdog is the round coordinator.
//
// Construct it with [New], register checkers and probes,
// then call [*Watchdog.Start] exactly once.
type Watchdog struct {
	log *slog.Logger
	cfg Config
	clk clock.Clock

	stacks           StackDumper
	blockedTasks     KernelTrigger
	sink             DiagnosticsSink
	term             Terminator
	events           EventSink
	metrics          Metrics
	debuggerAttached func() bool

	assertEnv gassert.Env

	// Signalled, without blocking, whenever a round completes.
	wake chan struct{}

	done chan struct{}

	// The single mutual-exclusion domain for all checker round state
	// and the mutable fields below.
	mu sync.Mutex

	checkers []*Checker
	started  bool

	halfWaitNotified bool
	allowRestart     bool
	controller       Controller

	// Process name -> PID, for names listed in cfg.InterestingProcesses.
	interestingPIDs map[string]int
}

// New returns a new Watchdog that is not yet running.
func New(log *slog.Logger, cfg Config, opts ...Opt) (*Watchdog, error) {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = cfg.DefaultTimeout / 2
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid watchdog config: %w", err)
	}

	w := &Watchdog{
		log: log,
		cfg: cfg,
		clk: clock.New(),

		stacks:           nopStackDumper{},
		blockedTasks:     nopKernelTrigger{},
		term:             ExitTerminator{},
		events:           logEventSink{log: log},
		metrics:          nopMetrics{},
		debuggerAttached: func() bool { return false },

		wake: make(chan struct{}, 1),
		done: make(chan struct{}),

		allowRestart: true,

		interestingPIDs: make(map[string]int),
	}

	var err error
	for _, opt := range opts {
		err = errors.Join(err, opt(w))
	}
	if err != nil {
		return nil, err
	}

	return w, nil
}

// CheckInterval returns the duration of one sleep between cycles.
func (w *Watchdog) CheckInterval() time.Duration {
	return w.cfg.CheckInterval
}

// AddChecker registers looper under name with the default wait budget.
// The first checker added is the monitor checker,
// which receives probes added through [*Watchdog.AddProbe].
//
// AddChecker panics if the watchdog has started or if name is already in use.
func (w *Watchdog) AddChecker(looper Looper, name string) *Checker {
	return w.AddCheckerWithTimeout(looper, name, w.cfg.DefaultTimeout)
}

// AddCheckerWithTimeout is like [*Watchdog.AddChecker] with an explicit wait budget.
func (w *Watchdog) AddCheckerWithTimeout(looper Looper, name string, timeout time.Duration) *Checker {
	if looper == nil {
		panic(fmt.Errorf("BUG: nil looper for checker %q", name))
	}
	if name == "" {
		panic(errors.New("BUG: checker name must not be empty"))
	}
	if timeout <= 0 {
		panic(fmt.Errorf("BUG: checker %q timeout must be positive; got %s", name, timeout))
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		panic(fmt.Errorf("BUG: checker %q cannot be added once the watchdog is running", name))
	}

	if slices.ContainsFunc(w.checkers, func(c *Checker) bool { return c.name == name }) {
		panic(fmt.Errorf("BUG: duplicate checker name %q", name))
	}

	c := newChecker(w, looper, name, timeout)
	w.checkers = append(w.checkers, c)
	return c
}

// AddProbe adds p to the monitor checker (the first checker added).
// AddProbe panics if there are no checkers or if the watchdog has started.
func (w *Watchdog) AddProbe(p Probe) {
	w.mu.Lock()
	if len(w.checkers) == 0 {
		w.mu.Unlock()
		panic(errors.New("BUG: AddProbe requires a checker to be added first"))
	}
	c := w.checkers[0]
	w.mu.Unlock()

	c.AddProbe(p)
}

// Checker returns the checker registered under name, or nil.
func (w *Watchdog) Checker(name string) *Checker {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, c := range w.checkers {
		if c.name == name {
			return c
		}
	}
	return nil
}

// SetAllowRestart controls whether an overdue episode may terminate the process.
func (w *Watchdog) SetAllowRestart(allow bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.allowRestart = allow
}

// SetController sets or clears (with nil) the external controller.
func (w *Watchdog) SetController(c Controller) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.controller = c
}

// ProcessStarted records the PID of a process of interest,
// whose stacks are then included in overdue dumps.
// Names not listed in [Config.InterestingProcesses] are ignored.
func (w *Watchdog) ProcessStarted(name string, pid int) {
	if !slices.Contains(w.cfg.InterestingProcesses, name) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.interestingPIDs[name] = pid
}

// Reboot requests immediate termination of the process,
// bypassing liveness evaluation.
func (w *Watchdog) Reboot(reason string) {
	w.log.Info("Rebooting", "reason", reason)
	w.term.Terminate(reason, RebootExitCode)
}

// Status is a point-in-time snapshot of the watchdog.
type Status struct {
	Started          bool
	AllowRestart     bool
	HalfWaitNotified bool

	// Aggregate is the maximum state over all checkers.
	Aggregate CompletionState

	Checkers []CheckerStatus
}

// Status returns a snapshot of w and its checkers.
func (w *Watchdog) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clk.Now()
	s := Status{
		Started:          w.started,
		AllowRestart:     w.allowRestart,
		HalfWaitNotified: w.halfWaitNotified,
		Checkers:         make([]CheckerStatus, len(w.checkers)),
	}
	for i, c := range w.checkers {
		s.Checkers[i] = c.statusLocked(now)
		s.Aggregate = max(s.Aggregate, s.Checkers[i].State)
	}
	return s
}

// Start launches the watchdog goroutine.
// Registration is closed from this point on.
//
// The watchdog runs until ctx is cancelled;
// in production that normally coincides with process exit.
func (w *Watchdog) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		panic(errors.New("BUG: (*Watchdog).Start called twice"))
	}
	w.started = true
	n := len(w.checkers)
	w.mu.Unlock()

	w.log.Info(
		"Starting watchdog",
		"checkers", n,
		"check_interval", w.cfg.CheckInterval,
		"default_timeout", w.cfg.DefaultTimeout,
	)

	go w.kernel(ctx)
}

// Wait blocks until the goroutine launched by Start returns.
func (w *Watchdog) Wait() {
	<-w.done
}

func (w *Watchdog) kernel(ctx context.Context) {
	defer close(w.done)

	for {
		w.scheduleRounds()

		if !w.sleep(ctx) {
			w.log.Info("Stopping due to context cancellation", "cause", context.Cause(ctx))
			return
		}

		w.evaluate(ctx)
	}
}

func (w *Watchdog) scheduleRounds() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clk.Now()
	for _, c := range w.checkers {
		c.scheduleRoundLocked(now)
	}
}

// sleep waits one check interval, reporting false if ctx was cancelled first.
// Round completions wake it early to re-evaluate a pending stuck episode,
// but do not shorten the interval.
func (w *Watchdog) sleep(ctx context.Context) bool {
	timer := w.clk.Timer(w.cfg.CheckInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case <-w.wake:
			w.noteRoundCompleted()
		}
	}
}

func (w *Watchdog) notifyRoundCompleted() {
	_ = gchan.SendNonBlocking(w.wake, struct{}{})
}

func (w *Watchdog) noteRoundCompleted() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.halfWaitNotified {
		return
	}

	if w.aggregateLocked(w.clk.Now()) == Completed {
		w.halfWaitNotified = false
		w.log.Info("All checkers recovered after halfway stack dump")
	}
}

func (w *Watchdog) aggregateLocked(now time.Time) CompletionState {
	state := Completed
	for _, c := range w.checkers {
		s := c.completionStateLocked(now)
		invariantStateMonotonic(w.assertEnv, c, s)
		w.metrics.RecordCompletionState(c.name, s)
		state = max(state, s)
	}
	return state
}

// evaluate runs the Evaluating step of a cycle and returns the aggregate state.
func (w *Watchdog) evaluate(ctx context.Context) CompletionState {
	w.mu.Lock()

	now := w.clk.Now()
	state := w.aggregateLocked(now)

	switch state {
	case Completed:
		w.halfWaitNotified = false
		w.mu.Unlock()
		return state

	case Waiting:
		w.mu.Unlock()
		return state

	case WaitedHalf:
		if w.halfWaitNotified {
			w.mu.Unlock()
			return state
		}
		invariantHalfWaitState(w.assertEnv, state)
		w.halfWaitNotified = true
		w.mu.Unlock()

		w.dumpHalfway(ctx)
		return state
	}

	ep := w.newEpisodeLocked(now)
	w.mu.Unlock()

	w.escalate(ctx, ep)
	return state
}

func (w *Watchdog) dumpHalfway(ctx context.Context) {
	w.log.Info("Waited half of the deadlock detection interval; dumping stacks")
	w.metrics.RecordHalfwayDump()

	if _, err := w.stacks.DumpStacks(
		ctx, true, []int{os.Getpid()}, w.cfg.NativeStacksOfInterest,
	); err != nil {
		w.log.Warn("Failed to dump halfway stacks", "err", err)
	}
}

// blockedChecker is a copy of an overdue checker's details,
// taken under the lock so escalation can proceed without it.
type blockedChecker struct {
	Name  string
	Desc  string
	Stack []byte
}

// episode is the state captured at the moment a cycle is found overdue.
type episode struct {
	Subject string
	Blocked []blockedChecker

	// Whether the halfway dump already primed the traces file.
	HalfDumped bool

	PIDs []int
}

func (w *Watchdog) newEpisodeLocked(now time.Time) episode {
	ep := episode{
		HalfDumped: w.halfWaitNotified,
		PIDs:       []int{os.Getpid()},
	}

	// Selected by state rather than IsOverdue,
	// so a checker at exactly its budget is still named.
	descs := make([]string, 0, len(w.checkers))
	for _, c := range w.checkers {
		if c.completionStateLocked(now) != Overdue {
			continue
		}

		b := blockedChecker{
			Name: c.name,
			Desc: c.describeBlockedStateLocked(),
		}
		if st, ok := c.looper.(StackTracer); ok {
			b.Stack = st.Stack()
		}
		ep.Blocked = append(ep.Blocked, b)
		descs = append(descs, b.Desc)
	}
	ep.Subject = strings.Join(descs, ", ")

	for _, name := range w.cfg.InterestingProcesses {
		if pid, ok := w.interestingPIDs[name]; ok && pid > 0 {
			ep.PIDs = append(ep.PIDs, pid)
		}
	}

	return ep
}
