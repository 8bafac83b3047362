package gwatchdog

import "context"

// Hooks for driving single cycles from the external test package
// without a running watchdog goroutine.

func (w *Watchdog) ScheduleRoundsForTest() { w.scheduleRounds() }

func (w *Watchdog) EvaluateForTest(ctx context.Context) CompletionState {
	return w.evaluate(ctx)
}

func (w *Watchdog) HalfWaitNotifiedForTest() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.halfWaitNotified
}

func (w *Watchdog) NoteRoundCompletedForTest() { w.noteRoundCompleted() }

// MarkStartedForTest closes registration without launching the goroutine.
func (w *Watchdog) MarkStartedForTest() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.started = true
}
