//go:build debug

package gassert_test

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/gordian-engine/gwatch/gassert"
	"github.com/stretchr/testify/require"
)

func TestEnvironment_rules(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name string
		in   []string
		test func(t *testing.T, e *gassert.Environment)
	}{
		{
			name: "rootWildcard",
			in:   []string{"*"},
			test: func(t *testing.T, e *gassert.Environment) {
				require.True(t, e.Enabled("gwatch"))
				require.True(t, e.Enabled("gwatch.watchdog"))
				require.True(t, e.Enabled("gwatch.watchdog.single_round"))
			},
		},
		{
			name: "rootedWildcard",
			in:   []string{"gwatch.watchdog.*"},
			test: func(t *testing.T, e *gassert.Environment) {
				// The root of a wildcard rule is not itself matched.
				require.False(t, e.Enabled("gwatch.watchdog"))

				require.True(t, e.Enabled("gwatch.watchdog.single_round"))
				require.True(t, e.Enabled("gwatch.watchdog.half_wait"))

				require.False(t, e.Enabled("gwatch.sqlite.list_order"))
			},
		},
		{
			name: "exact",
			in:   []string{"gwatch.watchdog.half_wait", "gwatch.sqlite.list_order"},
			test: func(t *testing.T, e *gassert.Environment) {
				require.True(t, e.Enabled("gwatch.watchdog.half_wait"))
				require.False(t, e.Enabled("gwatch.watchdog.half_wait_extra"))
				require.False(t, e.Enabled("gwatch.watchdog"))
				require.True(t, e.Enabled("gwatch.sqlite.list_order"))
			},
		},
		{
			name: "wildcardWithExclusion",
			in:   []string{"gwatch.*", "!gwatch.sqlite.list_order"},
			test: func(t *testing.T, e *gassert.Environment) {
				require.True(t, e.Enabled("gwatch.watchdog.single_round"))
				require.False(t, e.Enabled("gwatch.sqlite.list_order"))
				require.True(t, e.Enabled("gwatch.sqlite.saved_id"))
			},
		},
		{
			name: "shorterRuleAfterLonger",
			in:   []string{"gwatch.watchdog.current_step", "gwatch.*"},
			test: func(t *testing.T, e *gassert.Environment) {
				require.True(t, e.Enabled("gwatch.sqlite.saved_id"))
				require.True(t, e.Enabled("gwatch.watchdog.current_step"))
			},
		},
		{
			name: "empty",
			in:   nil,
			test: func(t *testing.T, e *gassert.Environment) {
				require.False(t, e.Enabled("gwatch.watchdog.single_round"))
			},
		},
	} {
		t.Run("EnvironmentFromString:"+tc.name, func(t *testing.T) {
			t.Parallel()

			e, err := gassert.EnvironmentFromString(strings.Join(tc.in, ","))
			require.NoError(t, err)
			tc.test(t, e)
		})

		t.Run("ParseEnvironment:"+tc.name, func(t *testing.T) {
			t.Parallel()

			e, err := gassert.ParseEnvironment(strings.NewReader(strings.Join(tc.in, "\n")))
			require.NoError(t, err)
			tc.test(t, e)
		})

		t.Run("cached:"+tc.name, func(t *testing.T) {
			t.Parallel()

			e, err := gassert.EnvironmentFromString(strings.Join(tc.in, ","))
			require.NoError(t, err)
			e.UseCaching()

			// Twice, to read back the cached values.
			tc.test(t, e)
			tc.test(t, e)
		})
	}
}

func TestEnvironment_parseErrors(t *testing.T) {
	t.Parallel()

	for _, in := range []string{
		"gwatch..watchdog",
		"gwatch.*.watchdog",
		"gw*tch.watchdog",
		"gwatch.*.*",
		"gwatch!.watchdog",
		"!gwatch.*",
	} {
		e, err := gassert.EnvironmentFromString(in)
		require.Error(t, err, in)
		require.Nil(t, e)

		e, err = gassert.ParseEnvironment(strings.NewReader(in))
		require.Error(t, err, in)
		require.Nil(t, e)
	}
}

func TestParseEnvironment_commentsAndBlankLines(t *testing.T) {
	t.Parallel()

	e, err := gassert.ParseEnvironment(strings.NewReader(`# Watchdog invariants only.

gwatch.watchdog.*
!gwatch.watchdog.half_wait
gwatch.sqlite.saved_id
`))
	require.NoError(t, err)

	require.True(t, e.Enabled("gwatch.watchdog.single_round"))
	require.False(t, e.Enabled("gwatch.watchdog.half_wait"))
	require.True(t, e.Enabled("gwatch.sqlite.saved_id"))
	require.False(t, e.Enabled("gwatch.sqlite.list_order"))
}

func TestEnvironment_nilEnablesNothing(t *testing.T) {
	t.Parallel()

	var e *gassert.Environment
	require.False(t, e.Enabled("gwatch.watchdog.single_round"))
}

func TestEnvironment_UseCaching_twicePanics(t *testing.T) {
	t.Parallel()

	e, err := gassert.EnvironmentFromString("*")
	require.NoError(t, err)

	e.UseCaching()
	require.Panics(t, func() { e.UseCaching() })
}

func TestEnvironment_Enabled_concurrentWithCache(t *testing.T) {
	t.Parallel()

	e, err := gassert.EnvironmentFromString("gwatch.watchdog.*")
	require.NoError(t, err)
	e.UseCaching()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				if !e.Enabled("gwatch.watchdog.single_round") {
					panic("rule unexpectedly disabled")
				}
			}
		}()
	}
	wg.Wait()
}

func TestEnvironment_HandleAssertionFailure_panics(t *testing.T) {
	t.Parallel()

	e, err := gassert.EnvironmentFromString("*")
	require.NoError(t, err)

	require.Panics(t, func() {
		e.HandleAssertionFailure(errors.New("two rounds in flight"))
	})

	require.Panics(t, func() {
		e.HandleAssertionFailure(nil)
	})
}

func TestEnvironment_HandleAssertionFailure_onlyLogs(t *testing.T) {
	t.Parallel()

	e, err := gassert.EnvironmentFromString("*")
	require.NoError(t, err)

	var buf bytes.Buffer
	e.OnlyLogFailures(slog.New(slog.NewTextHandler(&buf, nil)))

	require.NotPanics(t, func() {
		e.HandleAssertionFailure(errors.New("two rounds in flight"))
	})
	require.Contains(t, buf.String(), "two rounds in flight")

	// Nil is still a bug.
	require.Panics(t, func() {
		e.HandleAssertionFailure(nil)
	})
}
