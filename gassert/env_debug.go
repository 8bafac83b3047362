//go:build debug

package gassert

import (
	"bufio"
	"cmp"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
)

// Env is an alias to *Environment in debug builds,
// so that a field of type Env is a usable environment here
// and an empty struct otherwise.
type Env = *Environment

// Environment holds the rules deciding which assertions run.
//
// Methods on Environment are safe for concurrent use,
// except UseCaching and OnlyLogFailures,
// which must be called before any other method if at all.
type Environment struct {
	// Rule segments before a trailing wildcard.
	prefixes [][]string

	// Exact paths excluded from prefix matches.
	excludes [][]string

	exacts [][]string

	// Nil cache means caching is disabled.
	mu    sync.RWMutex
	cache map[string]bool

	// When set, failures are logged instead of panicking.
	log *slog.Logger
}

// EnvironmentFromString parses a comma-separated list of rules.
func EnvironmentFromString(in string) (*Environment, error) {
	var e Environment
	if in == "" {
		// Splitting would yield one empty rule.
		return &e, nil
	}

	var err error
	for _, r := range strings.Split(in, ",") {
		err = errors.Join(err, e.parseRule(strings.TrimSpace(r)))
	}
	if err != nil {
		return nil, err
	}

	e.sort()
	return &e, nil
}

// ParseEnvironment reads one rule per line from r.
// Blank lines and lines beginning with "#" are skipped.
// Parsing stops after five bad rules.
func ParseEnvironment(r io.Reader) (*Environment, error) {
	var e Environment

	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 512), 511)

	const errLimit = 5
	var errs []error
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if err := e.parseRule(line); err != nil {
			errs = append(errs, err)
			if len(errs) >= errLimit {
				errs = append(errs, fmt.Errorf("stopped parsing after %d errors", len(errs)))
				break
			}
		}
	}
	if err := s.Err(); err != nil {
		errs = append(errs, fmt.Errorf("failed to read rules: %w", err))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	e.sort()
	return &e, nil
}

func (e *Environment) parseRule(r string) error {
	if r == "" {
		return errors.New("received empty rule")
	}

	if strings.Contains(r, "..") {
		return fmt.Errorf("invalid rule %q: dot-separated sections may not be empty", r)
	}

	if strings.Contains(r, "!") {
		ex, ok := strings.CutPrefix(r, "!")
		if !ok {
			return fmt.Errorf("invalid rule %q: ! may only occur at the start of the rule", r)
		}
		if strings.Contains(ex, "*") {
			return fmt.Errorf("invalid rule %q: exclusions may not contain wildcards", r)
		}
		e.excludes = append(e.excludes, strings.Split(ex, "."))
		return nil
	}

	switch strings.Count(r, "*") {
	case 0:
		e.exacts = append(e.exacts, strings.Split(r, "."))
		return nil

	case 1:
		if r == "*" {
			e.prefixes = append(e.prefixes, []string{})
			return nil
		}

		p, ok := strings.CutSuffix(r, ".*")
		if !ok {
			return fmt.Errorf("invalid rule %q: * only allowed as the last segment", r)
		}
		e.prefixes = append(e.prefixes, strings.Split(p, "."))
		return nil

	default:
		return fmt.Errorf("invalid rule %q: may contain at most one *", r)
	}
}

// UseCaching makes e remember the result of Enabled for each path.
// It panics if called twice.
func (e *Environment) UseCaching() {
	if e.cache != nil {
		panic(errors.New("BUG: UseCaching called twice"))
	}

	e.cache = make(map[string]bool)
}

// OnlyLogFailures makes e log assertion failures at error level to log,
// instead of panicking.
func (e *Environment) OnlyLogFailures(log *slog.Logger) {
	e.log = log
}

// HandleAssertionFailure reports a failed assertion.
// It panics unless OnlyLogFailures was called,
// and always panics if err is nil.
func (e *Environment) HandleAssertionFailure(err error) {
	if err == nil {
		panic(errors.New("BUG: HandleAssertionFailure called with nil error"))
	}

	if e.log == nil {
		panic(fmt.Errorf("assertion failure: %w", err))
	}

	e.log.Error("Assertion failure", "err", err)
}

// Enabled reports whether assertions at the dot-separated path are enabled.
//
// A matching prefix rule enables the path unless an exclusion names it exactly.
// Otherwise the path is enabled only by an exact rule.
// A nil Environment enables nothing.
func (e *Environment) Enabled(path string) bool {
	if e == nil || (len(e.prefixes) == 0 && len(e.exacts) == 0) {
		return false
	}

	if e.cache == nil {
		return e.enabled(path)
	}

	if val, ok := e.cached(path); ok {
		return val
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Another goroutine may have filled it while we waited for the lock.
	if val, ok := e.cache[path]; ok {
		return val
	}

	val := e.enabled(path)
	e.cache[path] = val
	return val
}

func (e *Environment) enabled(path string) bool {
	parts := strings.Split(path, ".")

	for _, p := range e.prefixes {
		if len(p) >= len(parts) {
			// Sorted by length; a prefix must be strictly shorter.
			break
		}

		if slices.Equal(p, parts[:len(p)]) {
			return !slices.ContainsFunc(e.excludes, func(ex []string) bool {
				return slices.Equal(ex, parts)
			})
		}
	}

	return slices.ContainsFunc(e.exacts, func(ex []string) bool {
		return slices.Equal(ex, parts)
	})
}

func (e *Environment) cached(path string) (val, ok bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	val, ok = e.cache[path]
	return val, ok
}

// sort orders the rule sets shortest first.
func (e *Environment) sort() {
	byLen := func(a, b []string) int { return cmp.Compare(len(a), len(b)) }
	slices.SortFunc(e.prefixes, byLen)
	slices.SortFunc(e.excludes, byLen)
	slices.SortFunc(e.exacts, byLen)
}
