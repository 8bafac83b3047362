// Command gwatchd runs a liveness watchdog over a set of loopers
// and provides client subcommands for its admin HTTP API.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

func main() {
	if err := mainE(); err != nil {
		os.Exit(1)
	}
}

func mainE() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	root := NewRootCmd(logger)
	if err := root.ExecuteContext(ctx); err != nil {
		logger.Info("Failure", "err", err)
		os.Stderr.Sync()
		return err
	}

	return nil
}

func NewRootCmd(log *slog.Logger) *cobra.Command {
	rootCmd := &cobra.Command{
		Use: "gwatchd SUBCOMMAND",

		CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},

		SilenceUsage: true,

		Long: `gwatchd watches a set of serialized task loopers for liveness.

Each looper is periodically asked to run a round of liveness probes.
A looper that does not finish its round within half its timeout
has its stacks dumped; one that does not finish within the full timeout
causes the process to be terminated, unless restarts are disallowed,
a debugger is attached, or the configured controller asks to keep waiting.

The run subcommand starts the daemon.
The other subcommands talk to a running daemon's admin HTTP server.
`,
	}

	rootCmd.AddCommand(
		newRunCmd(log),
		newStatusCmd(log),
		newAllowRestartCmd(log),
		newRebootCmd(log),
		newProcessStartedCmd(log),
		newDiagnosticsCmd(log),
	)

	return rootCmd
}
