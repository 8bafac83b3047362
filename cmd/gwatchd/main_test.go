package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gordian-engine/gwatch/gwhttp"
	"github.com/gordian-engine/gwatch/internal/gtest"
	"github.com/stretchr/testify/require"
)

// runCmd executes a fresh root command with args,
// returning its stdout.
func runCmd(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	root := NewRootCmd(gtest.NewLogger(t))
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&out)

	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestRun_adminRoundTrip(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := t.TempDir()
	addrFile := filepath.Join(dir, "http-addr")

	runErr := make(chan error, 1)
	go func() {
		_, err := runCmd(t, ctx, "run",
			"--http-addr=127.0.0.1:0",
			"--http-addr-file="+addrFile,
			"--traces-path="+filepath.Join(dir, "traces.txt"),
			"--sqlite-path="+filepath.Join(dir, "gwatch.sqlite"),
			"--lock-path="+filepath.Join(dir, "gwatch.lock"),
			"--sysrq-path=",
			"--detect-debugger=false",
			"--loopers=main,ui",
		)
		runErr <- err
	}()

	var addr string
	require.Eventually(t, func() bool {
		b, err := os.ReadFile(addrFile)
		if err != nil || !bytes.HasSuffix(b, []byte("\n")) {
			return false
		}
		addr = "http://" + strings.TrimSpace(string(b))
		return true
	}, 5*time.Second, 10*time.Millisecond)

	out, err := runCmd(t, ctx, "status", "--addr="+addr)
	require.NoError(t, err)

	var s gwhttp.StatusResponse
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	require.True(t, s.Started)
	require.True(t, s.AllowRestart)
	require.Equal(t, "Completed", s.Aggregate)
	require.Len(t, s.Checkers, 2)
	require.Equal(t, "main", s.Checkers[0].Name)
	require.Equal(t, "ui", s.Checkers[1].Name)

	_, err = runCmd(t, ctx, "set-allow-restart", "false", "--addr="+addr)
	require.NoError(t, err)

	out, err = runCmd(t, ctx, "status", "--addr="+addr)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	require.False(t, s.AllowRestart)

	out, err = runCmd(t, ctx, "diagnostics", "--addr="+addr)
	require.NoError(t, err)
	require.Equal(t, "EPISODE  CREATED  TRACES  SUBJECT\n", out)

	_, err = runCmd(t, ctx, "diagnostics", "missing", "--addr="+addr)
	require.ErrorContains(t, err, "404")

	// A second daemon cannot take the lock.
	_, err = runCmd(t, ctx, "run",
		"--traces-path="+filepath.Join(dir, "traces.txt"),
		"--lock-path="+filepath.Join(dir, "gwatch.lock"),
	)
	require.ErrorContains(t, err, "already running")

	cancel()
	require.NoError(t, gtest.ReceiveOrTimeout(t, runErr, gtest.ScaleMs(5000)))

	// The address file is removed on shutdown.
	_, err = os.Stat(addrFile)
	require.True(t, os.IsNotExist(err))
}

func TestRun_invalidConfig(t *testing.T) {
	t.Parallel()

	_, err := runCmd(t, context.Background(), "run", "--loopers=", "--traces-path=")
	require.ErrorContains(t, err, "invalid configuration")
}

func TestAllowRestart_invalidArg(t *testing.T) {
	t.Parallel()

	_, err := runCmd(t, context.Background(), "set-allow-restart", "maybe")
	require.ErrorContains(t, err, "invalid boolean")
}
