package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/gordian-engine/gwatch/gwhttp"
	"github.com/spf13/cobra"
)

const (
	addrFlag    = "addr"
	defaultAddr = "http://127.0.0.1:9117"
)

func addAddrFlag(cmd *cobra.Command) {
	cmd.Flags().String(addrFlag, defaultAddr, "Base URL of the gwatchd admin HTTP server")
}

func clientFromFlags(cmd *cobra.Command) gwhttp.Client {
	addr, err := cmd.Flags().GetString(addrFlag)
	if err != nil {
		panic(fmt.Errorf("BUG: %s flag not registered: %w", addrFlag, err))
	}
	return gwhttp.Client{
		BaseURL: addr,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

func newStatusCmd(log *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use: "status",

		Short: "Print the state of a running watchdog as JSON",

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := clientFromFlags(cmd).Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(s)
		},
	}

	addAddrFlag(cmd)
	return cmd
}

func newAllowRestartCmd(log *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use: "set-allow-restart true|false",

		Short: "Control whether an overdue checker may terminate the watched process",

		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			allow, err := strconv.ParseBool(args[0])
			if err != nil {
				return fmt.Errorf("invalid boolean %q: %w", args[0], err)
			}

			if err := clientFromFlags(cmd).SetAllowRestart(cmd.Context(), allow); err != nil {
				return fmt.Errorf("failed to set allow restart: %w", err)
			}

			log.Info("Allow restart updated", "allow", allow)
			return nil
		},
	}

	addAddrFlag(cmd)
	return cmd
}

func newRebootCmd(log *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use: "reboot REASON",

		Short: "Ask a running watchdog to terminate its process immediately",

		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFromFlags(cmd).Reboot(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to request reboot: %w", err)
			}

			log.Info("Reboot requested", "reason", args[0])
			return nil
		},
	}

	addAddrFlag(cmd)
	return cmd
}

func newProcessStartedCmd(log *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use: "process-started NAME PID",

		Short: "Report the PID of a process whose stacks are dumped on escalation",

		Long: `process-started records the PID of a process of interest.
Names not listed in the daemon's --interesting-processes flag are ignored.
`,

		Args: cobra.ExactArgs(2),

		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid PID %q: %w", args[1], err)
			}

			if err := clientFromFlags(cmd).ProcessStarted(cmd.Context(), args[0], pid); err != nil {
				return fmt.Errorf("failed to report process: %w", err)
			}

			log.Info("Process reported", "name", args[0], "pid", pid)
			return nil
		},
	}

	addAddrFlag(cmd)
	return cmd
}

func newDiagnosticsCmd(log *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use: "diagnostics [EPISODE_ID]",

		Short: "List stored diagnostics, or print the traces of one episode",

		Args: cobra.RangeArgs(0, 1),

		RunE: func(cmd *cobra.Command, args []string) error {
			c := clientFromFlags(cmd)

			if len(args) == 1 {
				traces, err := c.Traces(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("failed to get traces: %w", err)
				}
				_, err = cmd.OutOrStdout().Write(traces)
				return err
			}

			limit, err := cmd.Flags().GetInt("limit")
			if err != nil {
				return err
			}
			sums, err := c.ListDiagnostics(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("failed to list diagnostics: %w", err)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
			fmt.Fprintln(tw, "EPISODE\tCREATED\tTRACES\tSUBJECT")
			for _, s := range sums {
				fmt.Fprintf(
					tw, "%s\t%s\t%d\t%s\n",
					s.EpisodeID, s.CreatedAt.Format(time.RFC3339), s.TracesSize, s.Subject,
				)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			log.Debug("Listed diagnostics", "n", len(sums))
			return nil
		},
	}

	addAddrFlag(cmd)
	cmd.Flags().Int("limit", 20, "Maximum number of diagnostics to list; zero for all")
	return cmd
}
