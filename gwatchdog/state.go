package gwatchdog

import "fmt"

//go:generate go run golang.org/x/tools/cmd/stringer -type CompletionState .

// CompletionState is the state of a checker's current round.
//
// The values are ordered by lateness,
// so that the aggregate state of several checkers is their maximum.
type CompletionState uint8

const (
	// Completed indicates that no round is in flight.
	Completed CompletionState = iota

	// Waiting indicates a round in flight for no more than half its budget.
	Waiting

	// WaitedHalf indicates a round in flight for more than half its budget.
	WaitedHalf

	// Overdue indicates a round in flight for more than its full budget.
	Overdue
)

// EscalationOutcome reports how an overdue episode ended.
type EscalationOutcome uint8

const (
	// OutcomeTerminated means the Terminator was invoked.
	OutcomeTerminated EscalationOutcome = iota

	// OutcomeControllerWait means the controller asked to keep waiting.
	OutcomeControllerWait

	// OutcomeDebuggerAttached means termination was suppressed by an attached debugger.
	OutcomeDebuggerAttached

	// OutcomeRestartDisallowed means termination was suppressed by [*Watchdog.SetAllowRestart].
	OutcomeRestartDisallowed
)

func (o EscalationOutcome) String() string {
	switch o {
	case OutcomeTerminated:
		return "terminated"
	case OutcomeControllerWait:
		return "controller_wait"
	case OutcomeDebuggerAttached:
		return "debugger_attached"
	case OutcomeRestartDisallowed:
		return "restart_disallowed"
	default:
		return fmt.Sprintf("EscalationOutcome(%d)", uint8(o))
	}
}
