package gwatchdog

import "fmt"

// Probe is implemented by subsystems that want the watchdog
// to prove they can make forward progress.
//
// CheckLiveness runs on the checker's looper.
// A typical implementation acquires and releases the subsystem's main lock.
// CheckLiveness should return promptly;
// if it blocks, the round never completes and the checker becomes overdue.
type Probe interface {
	CheckLiveness()
}

// ProbeFunc adapts an ordinary function to the [Probe] interface.
type ProbeFunc func()

func (f ProbeFunc) CheckLiveness() { f() }

// NamedProbe returns a Probe whose name appears in blocked-state descriptions.
func NamedProbe(name string, fn func()) Probe {
	return namedProbe{name: name, fn: fn}
}

type namedProbe struct {
	name string
	fn   func()
}

func (p namedProbe) CheckLiveness() { p.fn() }

func (p namedProbe) String() string { return p.name }

// probeName returns p's String method result if it has one,
// otherwise its dynamic type.
func probeName(p Probe) string {
	if s, ok := p.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", p)
}
