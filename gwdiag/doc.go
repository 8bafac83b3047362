// Package gwdiag contains the Linux implementations of the watchdog's
// diagnostic and termination collaborators:
// stack dumps to a traces file, the sysrq blocked-task trigger,
// tracer detection, and process termination.
//
// Paths under /proc and /sys are configurable so that tests
// can point them at a temporary directory.
package gwdiag
