//go:build debug

package gwsqlite

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/gordian-engine/gwatch/gassert"
	"github.com/gordian-engine/gwatch/gwatchdog"
	"github.com/gordian-engine/gwatch/gwstore"
	"github.com/stretchr/testify/require"
)

func newLoggingEnv(t *testing.T, rules string) (gassert.Env, *bytes.Buffer) {
	t.Helper()

	env, err := gassert.EnvironmentFromString(rules)
	require.NoError(t, err)

	var buf bytes.Buffer
	env.OnlyLogFailures(slog.New(slog.NewTextHandler(&buf, nil)))
	return env, &buf
}

func TestStore_tracesSizeMismatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	s, err := NewInMemStore(ctx)
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Close()) }()

	env, buf := newLoggingEnv(t, "gwatch.sqlite.traces_size")
	s.AssertEnv = env

	require.NoError(t, s.AddDiagnostic(ctx, gwatchdog.Diagnostic{
		EpisodeID: "ep-1",
		Tag:       "watchdog",
		Traces:    []byte("goroutine 1 [running]:"),
		CreatedAt: time.Unix(1_700_000_000, 0),
	}))

	_, err = s.LoadDiagnostic(ctx, "ep-1")
	require.NoError(t, err)
	require.Empty(t, buf.String())

	_, err = s.rw.ExecContext(ctx, `UPDATE diagnostics SET traces_size = 3 WHERE episode_id = 'ep-1'`)
	require.NoError(t, err)

	_, err = s.LoadDiagnostic(ctx, "ep-1")
	require.NoError(t, err)
	require.Contains(t, buf.String(), "stored traces size 3 but decoded 22 bytes")
}

func TestInvariantListOrder(t *testing.T) {
	t.Parallel()

	env, buf := newLoggingEnv(t, "gwatch.sqlite.list_order")

	base := time.Unix(1_700_000_000, 0)
	newestFirst := []gwstore.DiagnosticSummary{
		{EpisodeID: "ep-3", CreatedAt: base.Add(2 * time.Second)},
		{EpisodeID: "ep-2", CreatedAt: base.Add(time.Second)},
		{EpisodeID: "ep-1", CreatedAt: base.Add(time.Second)},
	}

	invariantListOrder(env, 3, newestFirst)
	invariantListOrder(env, -1, newestFirst)
	require.Empty(t, buf.String())

	invariantListOrder(env, 2, newestFirst)
	require.Contains(t, buf.String(), "listed 3 diagnostics with limit 2")

	buf.Reset()
	invariantListOrder(env, -1, []gwstore.DiagnosticSummary{newestFirst[2], newestFirst[0]})
	require.Contains(t, buf.String(), "at index 1 is newer than")
}
