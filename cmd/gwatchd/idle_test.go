package main

import (
	"context"
	"testing"
	"time"

	"github.com/gordian-engine/gwatch/gloop"
	"github.com/gordian-engine/gwatch/internal/gtest"
	"github.com/stretchr/testify/require"
)

func TestLooperIdleSource(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := gtest.NewLogger(t)
	a := gloop.New(ctx, log, "a")
	b := gloop.New(ctx, log, "b")
	defer b.Wait()
	defer a.Wait()
	defer cancel()

	s := newLooperIdleSource([]*gloop.Looper{a, b})

	since, ok := s.IdleSince()
	require.True(t, ok)

	// Repeated observations keep the start of the idle period.
	again, ok := s.IdleSince()
	require.True(t, ok)
	require.Equal(t, since, again)

	release := make(chan struct{})
	started := make(chan struct{})
	b.Post(func() {
		close(started)
		<-release
	})
	gtest.ReceiveSoon(t, started)

	_, ok = s.IdleSince()
	require.False(t, ok)

	close(release)
	require.NoError(t, b.WaitIdle(ctx))

	// The looper clears its busy flag just after the barrier task returns.
	var after time.Time
	require.Eventually(t, func() bool {
		after, ok = s.IdleSince()
		return ok
	}, time.Second, time.Millisecond)
	require.False(t, after.Before(since))
}
