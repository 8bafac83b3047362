package gwdiag

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultSysrqTriggerPath is the magic SysRq trigger file.
const DefaultSysrqTriggerPath = "/proc/sysrq-trigger"

// SysrqTrigger asks the kernel to log the stacks of all
// uninterruptible (blocked) tasks, by writing "w" to the SysRq trigger.
type SysrqTrigger struct {
	// Path defaults to DefaultSysrqTriggerPath.
	Path string
}

func (t SysrqTrigger) DumpBlockedTasks() error {
	p := t.Path
	if p == "" {
		p = DefaultSysrqTriggerPath
	}

	f, err := os.OpenFile(p, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("failed to open sysrq trigger: %w", err)
	}
	if _, err := f.WriteString("w"); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write sysrq trigger: %w", err)
	}
	return f.Close()
}

// TracerDetector returns a function reporting whether a tracer,
// such as a debugger, is attached to the current process,
// according to the TracerPid field of procRoot/self/status.
// An unreadable status file is reported as no tracer.
//
// procfs.ProcStatus does not carry TracerPid, so the file is scanned here.
func TracerDetector(procRoot string) func() bool {
	if procRoot == "" {
		procRoot = DefaultProcRoot
	}
	statusPath := filepath.Join(procRoot, "self", "status")

	return func() bool {
		f, err := os.Open(statusPath)
		if err != nil {
			return false
		}
		defer f.Close()

		pid, err := tracerPID(f)
		return err == nil && pid != 0
	}
}

func tracerPID(r io.Reader) (int, error) {
	s := bufio.NewScanner(r)
	for s.Scan() {
		v, ok := strings.CutPrefix(s.Text(), "TracerPid:")
		if !ok {
			continue
		}
		return strconv.Atoi(strings.TrimSpace(v))
	}
	if err := s.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("no TracerPid field")
}
