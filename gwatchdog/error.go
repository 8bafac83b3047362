package gwatchdog

import (
	"context"
	"errors"
	"strconv"
)

// IsTermination reports whether the context was cancelled by a [CancelTerminator].
func IsTermination(ctx context.Context) bool {
	e := context.Cause(ctx)
	if e == nil {
		return false
	}

	var ftr FailureToRespondError
	if errors.As(e, &ftr) {
		return true
	}

	var ft ForcedTerminationError
	return errors.As(e, &ft)
}

// FailureToRespondError indicates that one or more checkers
// failed to complete a round within their wait budget,
// and that nothing vetoed the termination.
type FailureToRespondError struct {
	// Subject is the combined blocked-state description of every overdue checker.
	Subject string

	ExitCode int
}

func (e FailureToRespondError) Error() string {
	return "watchdog: " + e.Subject + " (exit code " + strconv.Itoa(e.ExitCode) + ")"
}

// ForcedTerminationError indicates that [*Watchdog.Reboot] was called.
type ForcedTerminationError struct {
	Reason string
}

func (e ForcedTerminationError) Error() string {
	return "Watchdog forced termination: " + e.Reason
}
