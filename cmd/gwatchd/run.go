package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/gordian-engine/gwatch/gassert"
	"github.com/gordian-engine/gwatch/gloop"
	"github.com/gordian-engine/gwatch/gwatchdog"
	"github.com/gordian-engine/gwatch/gwdiag"
	"github.com/gordian-engine/gwatch/gwhttp"
	"github.com/gordian-engine/gwatch/gwmetrics"
	"github.com/gordian-engine/gwatch/gwreboot"
	"github.com/gordian-engine/gwatch/gwsqlite"
	"github.com/gordian-engine/gwatch/gwstore"
	"github.com/gordian-engine/gwatch/gwstore/gwmemstore"
	"github.com/gordian-engine/gwatch/internal/gwconfig"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

func newRunCmd(rootLog *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use: "run",

		Short: "Run the watchdog daemon",

		Long: `run starts one looper per configured name, registers a checker for each,
and runs the watchdog until interrupted.

Every flag may also be set through an environment variable
named GWATCH_ followed by the upper-cased flag name,
with dashes and dots replaced by underscores,
or through the file given by --config.
`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := gwconfig.Load(cmd.Flags())
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			log, closeLog, err := newLogger(cmd.ErrOrStderr(), c)
			if err != nil {
				return err
			}
			defer closeLog()

			if c.LogFile != "" {
				rootLog.Info("Logging to file", "path", c.LogFile)
			}

			return runDaemon(cmd.Context(), log, c)
		},
	}

	gwconfig.AddFlags(cmd.Flags())

	return cmd
}

// newLogger returns the daemon logger at the configured level,
// writing to stderr and, if configured, to a rotating log file.
func newLogger(stderr io.Writer, c gwconfig.Config) (*slog.Logger, func(), error) {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFile == "" {
		return slog.New(slog.NewTextHandler(stderr, opts)), func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(c.LogFile), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	lj := &lumberjack.Logger{
		Filename:   c.LogFile,
		MaxSize:    c.LogMaxSizeMB,
		MaxBackups: c.LogMaxBackups,
		Compress:   true,
	}
	log := slog.New(slog.NewTextHandler(io.MultiWriter(stderr, lj), opts))
	return log, func() { _ = lj.Close() }, nil
}

func runDaemon(ctx context.Context, log *slog.Logger, c gwconfig.Config) error {
	if c.LockPath != "" {
		lock := flock.New(c.LockPath)
		locked, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("failed to acquire lock %q: %w", c.LockPath, err)
		}
		if !locked {
			return fmt.Errorf("gwatchd already running (lock %q held by another process)", c.LockPath)
		}
		defer func() { _ = lock.Unlock() }()
	}

	if err := os.MkdirAll(filepath.Dir(c.TracesPath), 0o755); err != nil {
		return fmt.Errorf("failed to create traces directory: %w", err)
	}

	// Only populated in debug builds.
	assertEnv, err := c.AssertEnv()
	if err != nil {
		return fmt.Errorf("failed to build assertion environment: %w", err)
	}

	diagStore, rebootStore, closeStores, err := openStores(ctx, log, c.SQLitePath, assertEnv)
	if err != nil {
		return err
	}
	defer closeStores()

	reg := prom.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	exp, err := gwmetrics.NewExporter("gwatch", reg)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	term := gwdiag.ProcessTerminator{Log: log.With("sys", "terminator")}

	opts := []gwatchdog.Opt{
		gwatchdog.WithStackDumper(gwdiag.NewFileStackDumper(log.With("sys", "stacks"), c.TracesPath, c.ProcRoot)),
		gwatchdog.WithDiagnosticsSink(diagStore),
		gwatchdog.WithTerminator(term),
		gwatchdog.WithMetrics(exp),
		gwatchdog.WithAssertEnv(assertEnv),
	}
	if c.SysrqPath != "" {
		opts = append(opts, gwatchdog.WithKernelTrigger(gwdiag.SysrqTrigger{Path: c.SysrqPath}))
	}
	if c.DetectDebugger {
		opts = append(opts, gwatchdog.WithDebuggerDetector(gwdiag.TracerDetector(c.ProcRoot)))
	}
	if c.ControllerURL != "" {
		opts = append(opts, gwatchdog.WithController(gwhttp.ControllerClient{
			URL: c.ControllerURL,
			// Bounded like the diagnostics report.
			HTTP: &http.Client{Timeout: c.ReportTimeout},
		}))
	}

	w, err := gwatchdog.New(log.With("sys", "watchdog"), c.WatchdogConfig(), opts...)
	if err != nil {
		return fmt.Errorf("failed to create watchdog: %w", err)
	}
	w.SetAllowRestart(c.AllowRestart)

	// Loopers are stopped only after the watchdog has returned.
	loopCtx, cancelLoopers := context.WithCancel(context.WithoutCancel(ctx))
	loopers := make([]*gloop.Looper, len(c.Loopers))
	for i, name := range c.Loopers {
		loopers[i] = gloop.New(loopCtx, log.With("sys", "looper", "looper", name), name)
		w.AddChecker(loopers[i], name)
	}
	defer func() {
		cancelLoopers()
		for _, l := range loopers {
			l.Wait()
		}
	}()

	for _, s := range c.FileSettings {
		w.AddProbe(gwdiag.FileSettingProbe{
			Log:  log.With("sys", "probe"),
			Path: s.Path,
			Want: s.Want,
		})
	}

	policy, err := gwreboot.NewPolicy(
		log.With("sys", "reboot"), c.Reboot, rebootStore, term,
		gwreboot.WithIdleSource(newLooperIdleSource(loopers)),
	)
	if err != nil {
		return err
	}

	wCtx, cancelW := context.WithCancel(ctx)
	w.Start(wCtx)
	defer w.Wait()
	defer cancelW()

	if c.HTTPAddr != "" {
		ln, err := net.Listen("tcp", c.HTTPAddr)
		if err != nil {
			return fmt.Errorf("failed to listen for HTTP on %q: %w", c.HTTPAddr, err)
		}

		if c.HTTPAddrFile != "" {
			addr := ln.Addr().String() + "\n"
			if err := os.WriteFile(c.HTTPAddrFile, []byte(addr), 0o600); err != nil {
				_ = ln.Close()
				return fmt.Errorf("failed to write HTTP address to file %q: %w", c.HTTPAddrFile, err)
			}
			defer func() { _ = os.Remove(c.HTTPAddrFile) }()
		}

		h := gwhttp.NewHTTPServer(wCtx, log.With("sys", "http"), gwhttp.HTTPServerConfig{
			Listener:    ln,
			Watchdog:    w,
			Diagnostics: diagStore,
			Gatherer:    reg,
		})
		defer h.Wait()

		log.Info("Admin HTTP server listening", "addr", ln.Addr().String())
	}

	policyDone := make(chan struct{})
	go func() {
		defer close(policyDone)
		policy.Run(wCtx)
	}()
	defer func() { <-policyDone }()
	defer cancelW()

	log.Info("Watchdog running", "loopers", c.Loopers, "pid", os.Getpid())

	<-ctx.Done()
	log.Info("Received interrupt; shutting down", "cause", context.Cause(ctx))

	return nil
}

// openStores returns the diagnostic and reboot stores selected by sqlitePath,
// following the same convention as the sqlite-path flag.
func openStores(
	ctx context.Context, log *slog.Logger, sqlitePath string, assertEnv gassert.Env,
) (gwstore.DiagnosticStore, gwstore.RebootStore, func(), error) {
	if sqlitePath == "" {
		log.Info("Using in-memory diagnostic store")
		return gwmemstore.NewDiagnosticStore(), gwmemstore.NewRebootStore(), func() {}, nil
	}

	var s *gwsqlite.Store
	var err error
	if sqlitePath == ":memory:" {
		s, err = gwsqlite.NewInMemStore(ctx)
	} else {
		if err := os.MkdirAll(filepath.Dir(sqlitePath), 0o755); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		s, err = gwsqlite.NewOnDiskStore(ctx, sqlitePath)
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}
	s.AssertEnv = assertEnv

	log.Info("Using SQLite diagnostic store", "path", sqlitePath, "build", s.BuildType)

	closeFn := func() {
		if err := s.Close(); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("Failed to close sqlite store", "err", err)
		}
	}
	return s, s, closeFn, nil
}
