package gwdiag

import (
	"log/slog"
	"os"

	"golang.org/x/sys/unix"
)

// ProcessTerminator ends the current process.
//
// If Signal is set, the process first sends that signal to itself;
// with SIGKILL the exit code is then decided by the kernel, not by Terminate.
// Otherwise the process exits with the given code,
// which a supervisor can use to tell watchdog restarts apart from crashes.
type ProcessTerminator struct {
	Log *slog.Logger

	Signal unix.Signal
}

func (t ProcessTerminator) Terminate(reason string, exitCode int) {
	if t.Log != nil {
		t.Log.Error("Terminating process", "reason", reason, "exit_code", exitCode)
	}

	if t.Signal != 0 {
		if err := unix.Kill(unix.Getpid(), t.Signal); err != nil && t.Log != nil {
			t.Log.Error("Failed to signal self; exiting instead", "signal", t.Signal, "err", err)
		}
	}

	os.Exit(exitCode)
}
