// Package gwatchdog provides a Watchdog that periodically proves
// a set of named execution contexts ("loopers") are still responsive.
//
// Each looper is registered as a [Checker] with a wait budget.
// On every cycle the watchdog posts a round onto each checker's looper;
// the round runs the checker's registered [Probe] values, in order,
// on the looper's own goroutine.
// A round that has not completed within half its budget triggers an early stack dump,
// and a round that exceeds its full budget triggers escalation:
// diagnostics are collected and reported,
// an optional [Controller] may ask for more time,
// and otherwise the process is terminated through the configured [Terminator]
// so that a supervisor can restart it.
//
// All checkers and probes must be registered before [*Watchdog.Start];
// registering afterwards is a programming error and panics.
package gwatchdog
