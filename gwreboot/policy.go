// Package gwreboot contains a scheduled policy that proactively restarts
// the process during a permitted low-activity window.
//
// The policy runs independently of liveness detection
// and shares only the termination primitive with it.
package gwreboot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gordian-engine/gwatch/gwatchdog"
	"github.com/gordian-engine/gwatch/gwstore"
)

const (
	DefaultWindowStart     = 3 * time.Hour
	DefaultWindowLength    = time.Hour
	DefaultMinIdle         = 5 * time.Minute
	DefaultMinUntilWakeup  = time.Hour
	DefaultRecheckInterval = 5 * time.Minute
)

// Config holds the gates of a [Policy].
type Config struct {
	// Minimum time since the last restart before a reboot is considered.
	// Zero disables the policy.
	Interval time.Duration

	// Time-of-day window, as an offset from local midnight and a length.
	WindowStart  time.Duration
	WindowLength time.Duration

	// Minimum time the host must have been idle.
	MinIdle time.Duration

	// Minimum time until the next externally scheduled wake-up.
	MinUntilWakeup time.Duration

	// How long to wait after a veto other than the window or interval.
	RecheckInterval time.Duration

	// Location for the time-of-day window. Nil means time.Local.
	Location *time.Location
}

// DefaultConfig returns a disabled policy with default gates.
func DefaultConfig() Config {
	return Config{
		WindowStart:     DefaultWindowStart,
		WindowLength:    DefaultWindowLength,
		MinIdle:         DefaultMinIdle,
		MinUntilWakeup:  DefaultMinUntilWakeup,
		RecheckInterval: DefaultRecheckInterval,
	}
}

func (c Config) validate() error {
	var err error
	if c.Interval < 0 {
		err = errors.Join(err, errors.New("Config.Interval must not be negative"))
	}
	if c.WindowStart < 0 || c.WindowStart >= 24*time.Hour {
		err = errors.Join(err, errors.New("Config.WindowStart must be within one day"))
	}
	if c.WindowLength <= 0 || c.WindowLength > 24*time.Hour {
		err = errors.Join(err, errors.New("Config.WindowLength must be positive and at most one day"))
	}
	if c.MinIdle < 0 {
		err = errors.Join(err, errors.New("Config.MinIdle must not be negative"))
	}
	if c.MinUntilWakeup < 0 {
		err = errors.Join(err, errors.New("Config.MinUntilWakeup must not be negative"))
	}
	if c.RecheckInterval <= 0 {
		err = errors.Join(err, errors.New("Config.RecheckInterval must be positive"))
	}
	return err
}

// IdleSource reports how long the host has been idle,
// for example since the screen was turned off or the last user request.
type IdleSource interface {
	// IdleSince returns when the current idle period began,
	// and false if the host is not idle.
	IdleSince() (time.Time, bool)
}

// WakeupSource reports the next externally scheduled wake-up.
type WakeupSource interface {
	// NextWakeup returns the next scheduled wake-up,
	// and false if nothing is scheduled.
	NextWakeup() (time.Time, bool)
}

//go:generate go run golang.org/x/tools/cmd/stringer -type Veto -trimprefix=Veto .

// Veto is the reason a [Policy] check did not reboot.
type Veto uint8

const (
	NoVeto Veto = iota
	VetoDisabled
	VetoInterval
	VetoWindow
	VetoNotIdle
	VetoWakeup
)

// Decision is the result of a single [*Policy.Check].
type Decision struct {
	Veto Veto

	// Next is when the policy should check again.
	// Zero if the policy rebooted or is disabled.
	Next time.Time
}

func (d Decision) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("veto", d.Veto.String()),
		slog.Time("next", d.Next),
	)
}

// Opt is an option for [NewPolicy].
type Opt func(*Policy)

func WithClock(clk clock.Clock) Opt {
	return func(p *Policy) { p.clk = clk }
}

// WithBootTime sets the time of the last restart.
// The default is the time NewPolicy is called.
func WithBootTime(t time.Time) Opt {
	return func(p *Policy) { p.boot = t }
}

func WithIdleSource(s IdleSource) Opt {
	return func(p *Policy) { p.idle = s }
}

func WithWakeupSource(s WakeupSource) Opt {
	return func(p *Policy) { p.wakeup = s }
}

// Policy decides when to proactively restart the process.
type Policy struct {
	log *slog.Logger
	cfg Config
	clk clock.Clock

	store gwstore.RebootStore
	term  gwatchdog.Terminator

	idle   IdleSource
	wakeup WakeupSource

	boot time.Time
}

// NewPolicy returns a Policy that persists its schedule in store
// and reboots through term.
//
// Without an IdleSource the host is always considered idle,
// and without a WakeupSource no wake-up is ever scheduled.
func NewPolicy(
	log *slog.Logger,
	cfg Config,
	store gwstore.RebootStore,
	term gwatchdog.Terminator,
	opts ...Opt,
) (*Policy, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid reboot policy config: %w", err)
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	p := &Policy{
		log:   log,
		cfg:   cfg,
		clk:   clock.New(),
		store: store,
		term:  term,
	}
	for _, o := range opts {
		o(p)
	}
	if p.boot.IsZero() {
		p.boot = p.clk.Now()
	}

	return p, nil
}

// Check evaluates every gate at the current time,
// reboots if none vetoes, and otherwise persists the next attempt.
func (p *Policy) Check(ctx context.Context) (Decision, error) {
	d := p.decide(p.clk.Now())

	if d.Veto == NoVeto {
		p.log.Info("Rebooting during permitted window", "boot", p.boot)
		p.term.Terminate("scheduled reboot", gwatchdog.RebootExitCode)
		return d, nil
	}

	p.log.Debug("Reboot vetoed", "decision", d)

	if d.Next.IsZero() {
		return d, nil
	}

	if err := p.store.SaveNextRebootAttempt(ctx, d.Next); err != nil {
		return d, fmt.Errorf("failed to save next reboot attempt: %w", err)
	}
	return d, nil
}

func (p *Policy) decide(now time.Time) Decision {
	if p.cfg.Interval == 0 {
		return Decision{Veto: VetoDisabled}
	}

	due := p.boot.Add(p.cfg.Interval)
	if now.Before(due) {
		next := p.windowStartAtOrAfter(due)
		if p.inWindow(due) {
			next = due
		}
		return Decision{Veto: VetoInterval, Next: next}
	}

	if !p.inWindow(now) {
		return Decision{Veto: VetoWindow, Next: p.windowStartAtOrAfter(now)}
	}

	recheck := now.Add(p.cfg.RecheckInterval)

	if p.idle != nil {
		since, ok := p.idle.IdleSince()
		if !ok || now.Sub(since) < p.cfg.MinIdle {
			return Decision{Veto: VetoNotIdle, Next: recheck}
		}
	}

	if p.wakeup != nil {
		if w, ok := p.wakeup.NextWakeup(); ok && w.Sub(now) < p.cfg.MinUntilWakeup {
			return Decision{Veto: VetoWakeup, Next: recheck}
		}
	}

	return Decision{Veto: NoVeto}
}

// windowStartAtOrAfter returns the first window start at or after t.
func (p *Policy) windowStartAtOrAfter(t time.Time) time.Time {
	t = t.In(p.cfg.Location)
	start := midnight(t).Add(p.cfg.WindowStart)
	if start.Before(t) {
		start = midnight(t.AddDate(0, 0, 1)).Add(p.cfg.WindowStart)
	}
	return start
}

func (p *Policy) inWindow(t time.Time) bool {
	t = t.In(p.cfg.Location)

	// The window may have started yesterday and wrapped past midnight.
	for _, day := range []time.Time{t, t.AddDate(0, 0, -1)} {
		start := midnight(day).Add(p.cfg.WindowStart)
		if !t.Before(start) && t.Before(start.Add(p.cfg.WindowLength)) {
			return true
		}
	}
	return false
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Run checks at each persisted attempt time until ctx is cancelled
// or the policy reboots.
// A missing or past attempt time causes an immediate check.
func (p *Policy) Run(ctx context.Context) {
	if p.cfg.Interval == 0 {
		p.log.Info("Reboot policy disabled")
		return
	}

	for {
		next, err := p.store.LoadNextRebootAttempt(ctx)
		if err != nil && !errors.Is(err, gwstore.ErrStoreUninitialized) {
			p.log.Warn("Failed to load next reboot attempt; checking now", "err", err)
		}

		if wait := next.Sub(p.clk.Now()); wait > 0 {
			timer := p.clk.Timer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				p.log.Info("Stopping due to context cancellation", "cause", context.Cause(ctx))
				return
			case <-timer.C:
			}
		}

		d, err := p.Check(ctx)
		if err != nil {
			p.log.Warn("Reboot check failed", "err", err)
		}

		switch {
		case d.Veto == NoVeto:
			// The Terminator returned; nothing more to schedule.
			return
		case err != nil:
			// Without a persisted attempt, avoid spinning.
			if !p.sleep(ctx, p.cfg.RecheckInterval) {
				return
			}
		}

		if ctx.Err() != nil {
			p.log.Info("Stopping due to context cancellation", "cause", context.Cause(ctx))
			return
		}
	}
}

func (p *Policy) sleep(ctx context.Context, d time.Duration) bool {
	timer := p.clk.Timer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
