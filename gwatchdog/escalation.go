package gwatchdog

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/gordian-engine/gwatch/internal/gchan"
)

// escalate runs the overdue pipeline for ep,
// ending in termination unless something vetoes it.
func (w *Watchdog) escalate(ctx context.Context, ep episode) EscalationOutcome {
	id := uuid.NewString()
	log := w.log.With("episode", id)

	names := make([]string, len(ep.Blocked))
	for i, b := range ep.Blocked {
		names[i] = b.Name
	}

	w.events.EmitWatchdogEvent(Event{
		ID:       id,
		Subject:  ep.Subject,
		Checkers: names,
		At:       w.clk.Now(),
	})

	log.Warn("*** WATCHDOG DETECTED UNRESPONSIVE CHECKERS", "subject", ep.Subject)

	// Append to the halfway dump when there was one,
	// so the traces file shows how the stuck state evolved.
	dump, err := w.stacks.DumpStacks(ctx, !ep.HalfDumped, ep.PIDs, w.cfg.NativeStacksOfInterest)
	if err != nil {
		log.Warn("Failed to dump stacks", "err", err)
	}

	if err := w.blockedTasks.DumpBlockedTasks(); err != nil {
		log.Warn("Failed to trigger kernel blocked task dump", "err", err)
	}

	if dump.Path != "" {
		sealed, err := w.stacks.SealTraces(dump.Path)
		if err != nil {
			log.Warn("Failed to seal traces file", "path", dump.Path, "err", err)
		} else {
			dump.Path = sealed
		}
	}

	w.report(ctx, log, Diagnostic{
		EpisodeID:  id,
		Tag:        "watchdog",
		Process:    w.cfg.ProcessName,
		Subject:    ep.Subject,
		TracesPath: dump.Path,
		Traces:     dump.Data,
		CreatedAt:  w.clk.Now(),
	})

	outcome := w.decide(ctx, log, ep)

	w.metrics.RecordEscalation(outcome)

	w.mu.Lock()
	w.halfWaitNotified = false
	w.mu.Unlock()

	return outcome
}

// report hands d to the diagnostics sink,
// waiting no longer than the configured report timeout.
func (w *Watchdog) report(ctx context.Context, log *slog.Logger, d Diagnostic) {
	if w.sink == nil {
		log.Info("No diagnostics sink configured", "diagnostic", d)
		return
	}

	rCtx, cancel := w.clk.WithTimeout(ctx, w.cfg.ReportTimeout)
	defer cancel()

	// Buffered so the reporting goroutine never leaks on a timeout.
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.sink.AddDiagnostic(rCtx, d)
	}()

	err, ok := gchan.RecvC(rCtx, log, errCh, "waiting for diagnostics sink")
	if !ok {
		log.Warn(
			"Diagnostics sink did not respond in time; continuing",
			"timeout", w.cfg.ReportTimeout,
		)
		return
	}
	if err != nil {
		log.Warn("Failed to report diagnostic", "err", err)
		return
	}

	log.Info("Reported diagnostic", "diagnostic", d)
}

// decide consults the controller, the debugger check, and the allow-restart flag,
// in that order, and terminates if none of them intervene.
func (w *Watchdog) decide(ctx context.Context, log *slog.Logger, ep episode) EscalationOutcome {
	w.mu.Lock()
	controller := w.controller
	w.mu.Unlock()

	if controller != nil {
		log.Info("Reporting unresponsive state to controller")
		res, err := controller.SystemNotResponding(ctx, ep.Subject)
		switch {
		case err != nil:
			log.Warn("Controller failed; proceeding as if it allowed termination", "err", err)
		case res >= 0:
			log.Info("Controller requested to keep waiting", "result", res)
			return OutcomeControllerWait
		}
	}

	if w.debuggerAttached() {
		log.Warn("Debugger connected: watchdog is NOT terminating the process")
		return OutcomeDebuggerAttached
	}

	// Read late, so a change made during the pipeline still counts.
	w.mu.Lock()
	allow := w.allowRestart
	w.mu.Unlock()

	if !allow {
		log.Warn("Restart not allowed: watchdog is NOT terminating the process")
		return OutcomeRestartDisallowed
	}

	log.Error("*** WATCHDOG TERMINATING PROCESS", "subject", ep.Subject)
	for _, b := range ep.Blocked {
		if b.Stack == nil {
			log.Error("Blocked checker", "checker", b.Name, "desc", b.Desc, "stack", "<unavailable>")
			continue
		}
		log.Error("Blocked checker", "checker", b.Name, "desc", b.Desc, "stack", string(b.Stack))
	}
	log.Error("*** GOODBYE!")

	w.term.Terminate(ep.Subject, ExitCode)
	return OutcomeTerminated
}
