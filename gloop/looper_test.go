package gloop_test

import (
	"context"
	"testing"

	"github.com/gordian-engine/gwatch/gloop"
	"github.com/gordian-engine/gwatch/gwatchdog"
	"github.com/gordian-engine/gwatch/internal/gtest"
	"github.com/stretchr/testify/require"
)

var (
	_ gwatchdog.Looper      = (*gloop.Looper)(nil)
	_ gwatchdog.StackTracer = (*gloop.Looper)(nil)
)

func TestLooper_runsTasksInOrder(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := gloop.New(ctx, gtest.NewLogger(t), "main")
	defer l.Wait()
	defer cancel()

	require.Equal(t, "main", l.Name())

	got := make(chan int, 10)
	for i := range 10 {
		l.Post(func() { got <- i })
	}

	for i := range 10 {
		require.Equal(t, i, gtest.ReceiveSoon(t, got))
	}
}

func TestLooper_Idle(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := gloop.New(ctx, gtest.NewLogger(t), "main")
	defer l.Wait()
	defer cancel()

	require.NoError(t, l.WaitIdle(ctx))
	require.Eventually(t, l.Idle, gtest.ScaleMs(500).Duration(), gtest.ScaleMs(5).Duration())

	started := make(chan struct{})
	release := make(chan struct{})
	l.Post(func() {
		close(started)
		<-release
	})
	_ = gtest.ReceiveSoon(t, started)

	// Running, with nothing queued.
	require.False(t, l.Idle())
	require.Zero(t, l.Len())

	l.Post(func() {})
	require.Equal(t, 1, l.Len())

	close(release)
	require.NoError(t, l.WaitIdle(ctx))
	require.Eventually(t, l.Idle, gtest.ScaleMs(500).Duration(), gtest.ScaleMs(5).Duration())
}

func TestLooper_recoversPanics(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := gloop.New(ctx, gtest.NewLogger(t), "main")
	defer l.Wait()
	defer cancel()

	l.Post(func() { panic("boom") })

	ran := make(chan struct{})
	l.Post(func() { close(ran) })

	_ = gtest.ReceiveSoon(t, ran)
}

func blockedInLooperTask(started chan<- struct{}, release <-chan struct{}) {
	close(started)
	<-release
}

func TestLooper_Stack(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := gloop.New(ctx, gtest.NewLogger(t), "ui")

	started := make(chan struct{})
	release := make(chan struct{})
	l.Post(func() { blockedInLooperTask(started, release) })
	_ = gtest.ReceiveSoon(t, started)

	st := string(l.Stack())
	require.Contains(t, st, "blockedInLooperTask")
	require.NotContains(t, st, "TestLooper_Stack(", "only the looper goroutine is included")

	close(release)
	cancel()
	l.Wait()

	require.Nil(t, l.Stack())
}

func TestLooper_WaitIdle_stopped(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	l := gloop.New(ctx, gtest.NewLogger(t), "main")
	cancel()
	l.Wait()

	require.Error(t, l.WaitIdle(context.Background()))
}
