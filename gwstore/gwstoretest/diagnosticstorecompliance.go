// Package gwstoretest contains compliance tests for the gwstore interfaces.
package gwstoretest

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/gordian-engine/gwatch/gwatchdog"
	"github.com/gordian-engine/gwatch/gwstore"
	"github.com/stretchr/testify/require"
)

type DiagnosticStoreFactory func(cleanup func(func())) (gwstore.DiagnosticStore, error)

var baseTime = time.Date(2024, 5, 17, 3, 15, 0, 0, time.UTC)

func sampleDiagnostic(id string, createdAt time.Time) gwatchdog.Diagnostic {
	return gwatchdog.Diagnostic{
		EpisodeID:  id,
		Tag:        "watchdog",
		Process:    "gwatchd",
		Subject:    "Blocked in handler on ui (ui)",
		TracesPath: "/var/lib/gwatch/traces_WDT.txt",
		Traces:     bytes.Repeat([]byte("goroutine 1 [chan receive]:\nmain.main()\n"), 200),
		CreatedAt:  createdAt,
	}
}

func TestDiagnosticStoreCompliance(t *testing.T, f DiagnosticStoreFactory) {
	t.Run("round trip", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		want := sampleDiagnostic("ep-1", baseTime)
		require.NoError(t, s.AddDiagnostic(ctx, want))

		got, err := s.LoadDiagnostic(ctx, "ep-1")
		require.NoError(t, err)

		require.True(t, want.CreatedAt.Equal(got.CreatedAt))
		got.CreatedAt = want.CreatedAt
		require.Equal(t, want, got)
	})

	t.Run("empty traces", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		d := sampleDiagnostic("ep-1", baseTime)
		d.Traces = nil
		d.TracesPath = ""
		require.NoError(t, s.AddDiagnostic(ctx, d))

		got, err := s.LoadDiagnostic(ctx, "ep-1")
		require.NoError(t, err)
		require.Empty(t, got.Traces)
		require.Empty(t, got.TracesPath)
	})

	t.Run("returns NoDiagnosticError for unknown episode", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		_, err = s.LoadDiagnostic(ctx, "nope")
		require.ErrorIs(t, err, gwstore.NoDiagnosticError{EpisodeID: "nope"})
	})

	t.Run("returns DiagnosticOverwriteError on a double add", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		d := sampleDiagnostic("ep-1", baseTime)
		require.NoError(t, s.AddDiagnostic(ctx, d))

		d.Subject = "something else"
		require.ErrorIs(t, s.AddDiagnostic(ctx, d), gwstore.DiagnosticOverwriteError{EpisodeID: "ep-1"})

		// Original is unchanged.
		got, err := s.LoadDiagnostic(ctx, "ep-1")
		require.NoError(t, err)
		require.Equal(t, "Blocked in handler on ui (ui)", got.Subject)
	})

	t.Run("rejects empty episode ID", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		require.ErrorIs(t, s.AddDiagnostic(ctx, sampleDiagnostic("", baseTime)), gwstore.ErrEmptyEpisodeID)
	})

	t.Run("list is newest first and respects limit", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		list, err := s.ListDiagnostics(ctx, 0)
		require.NoError(t, err)
		require.Empty(t, list)

		// Added out of chronological order.
		require.NoError(t, s.AddDiagnostic(ctx, sampleDiagnostic("b", baseTime.Add(time.Minute))))
		require.NoError(t, s.AddDiagnostic(ctx, sampleDiagnostic("a", baseTime)))
		require.NoError(t, s.AddDiagnostic(ctx, sampleDiagnostic("c", baseTime.Add(time.Hour))))

		list, err = s.ListDiagnostics(ctx, 0)
		require.NoError(t, err)
		require.Len(t, list, 3)
		require.Equal(t, "c", list[0].EpisodeID)
		require.Equal(t, "b", list[1].EpisodeID)
		require.Equal(t, "a", list[2].EpisodeID)

		want := sampleDiagnostic("a", baseTime)
		require.Equal(t, len(want.Traces), list[2].TracesSize)
		require.Equal(t, want.Subject, list[2].Subject)
		require.Equal(t, want.TracesPath, list[2].TracesPath)
		require.True(t, baseTime.Equal(list[2].CreatedAt))

		list, err = s.ListDiagnostics(ctx, 2)
		require.NoError(t, err)
		require.Len(t, list, 2)
		require.Equal(t, "c", list[0].EpisodeID)
		require.Equal(t, "b", list[1].EpisodeID)
	})
}
