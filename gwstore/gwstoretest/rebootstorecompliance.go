package gwstoretest

import (
	"context"
	"testing"
	"time"

	"github.com/gordian-engine/gwatch/gwstore"
	"github.com/stretchr/testify/require"
)

type RebootStoreFactory func(cleanup func(func())) (gwstore.RebootStore, error)

func TestRebootStoreCompliance(t *testing.T, f RebootStoreFactory) {
	t.Run("uninitialized", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		_, err = s.LoadNextRebootAttempt(ctx)
		require.ErrorIs(t, err, gwstore.ErrStoreUninitialized)
	})

	t.Run("latest save wins", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		first := baseTime.Add(3 * time.Hour)
		require.NoError(t, s.SaveNextRebootAttempt(ctx, first))

		got, err := s.LoadNextRebootAttempt(ctx)
		require.NoError(t, err)
		require.True(t, first.Equal(got), "want %s, got %s", first, got)

		// Moving the attempt earlier is allowed.
		second := baseTime.Add(time.Hour + 123*time.Nanosecond)
		require.NoError(t, s.SaveNextRebootAttempt(ctx, second))

		got, err = s.LoadNextRebootAttempt(ctx)
		require.NoError(t, err)
		require.True(t, second.Equal(got), "want %s, got %s", second, got)
	})
}
