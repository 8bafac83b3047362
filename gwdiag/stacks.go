package gwdiag

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/pprof"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gordian-engine/gwatch/gwatchdog"
	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

// DefaultProcRoot is the mount point of procfs.
const DefaultProcRoot = "/proc"

// FileStackDumper writes stack traces to a single traces file.
//
// The calling process is dumped as a full goroutine profile
// followed by the kernel stacks of its threads.
// Other processes are dumped as the kernel stacks of each of their tasks,
// read from /proc/<pid>/task/<tid>/stack, which usually requires root.
type FileStackDumper struct {
	log *slog.Logger

	path     string
	procRoot string
}

// NewFileStackDumper returns a FileStackDumper writing to tracesPath.
// If procRoot is empty, [DefaultProcRoot] is used.
func NewFileStackDumper(log *slog.Logger, tracesPath, procRoot string) *FileStackDumper {
	if tracesPath == "" {
		panic(errors.New("BUG: NewFileStackDumper requires a traces path"))
	}
	if procRoot == "" {
		procRoot = DefaultProcRoot
	}
	return &FileStackDumper{
		log:      log,
		path:     tracesPath,
		procRoot: procRoot,
	}
}

func (d *FileStackDumper) DumpStacks(
	ctx context.Context, clear bool, pids []int, nativeProcs []string,
) (gwatchdog.StackDump, error) {
	flags := os.O_CREATE | os.O_WRONLY
	if clear {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_APPEND
	}

	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return gwatchdog.StackDump{}, fmt.Errorf("failed to create traces directory: %w", err)
	}

	f, err := os.OpenFile(d.path, flags, 0o644)
	if err != nil {
		return gwatchdog.StackDump{}, fmt.Errorf("failed to open traces file: %w", err)
	}

	all := slices.Clone(pids)
	if len(nativeProcs) > 0 {
		native, err := d.findNativePIDs(nativeProcs)
		if err != nil {
			d.log.Warn("Failed to scan for native processes", "err", err)
		}
		all = append(all, native...)
	}

	self := unix.Getpid()
	var errs error
	for _, pid := range all {
		if err := ctx.Err(); err != nil {
			errs = errors.Join(errs, context.Cause(ctx))
			break
		}

		fmt.Fprintf(f, "\n----- pid %d at %s -----\n", pid, time.Now().Format(time.DateTime))
		if pid == self {
			err = pprof.Lookup("goroutine").WriteTo(f, 2)

			// Goroutines do not show threads blocked in the kernel,
			// such as in a cgo call or a stuck syscall.
			if kerr := d.writeKernelStacks(f, pid); kerr != nil {
				d.log.Warn("Failed to dump kernel stacks of own threads", "err", kerr)
			}
		} else {
			err = d.writeKernelStacks(f, pid)
		}
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("pid %d: %w", pid, err))
		}
		fmt.Fprintf(f, "----- end %d -----\n", pid)
	}

	if err := f.Close(); err != nil {
		errs = errors.Join(errs, fmt.Errorf("failed to close traces file: %w", err))
	}

	data, err := os.ReadFile(d.path)
	if err != nil {
		errs = errors.Join(errs, fmt.Errorf("failed to read back traces file: %w", err))
	}

	return gwatchdog.StackDump{Path: d.path, Data: data}, errs
}

// writeKernelStacks writes the kernel stack of every task of pid.
// procfs has no accessor for the stack file, so that one is read directly.
func (d *FileStackDumper) writeKernelStacks(w io.Writer, pid int) error {
	fs, err := procfs.NewFS(d.procRoot)
	if err != nil {
		return err
	}

	threads, err := fs.AllThreads(pid)
	if err != nil {
		return err
	}
	slices.SortFunc(threads, func(a, b procfs.Proc) int { return cmp.Compare(a.PID, b.PID) })

	taskDir := filepath.Join(d.procRoot, strconv.Itoa(pid), "task")
	for _, t := range threads {
		tid := strconv.Itoa(t.PID)
		b, err := os.ReadFile(filepath.Join(taskDir, tid, "stack"))
		if err != nil {
			// Tasks exit concurrently with the scan.
			continue
		}

		comm, err := t.Comm()
		if err != nil {
			comm = "?"
		}
		fmt.Fprintf(w, "\n\"%s\" sysTid=%s\n", comm, tid)
		w.Write(b)
	}
	return nil
}

// findNativePIDs returns the PIDs of processes whose argv[0] is one of paths.
func (d *FileStackDumper) findNativePIDs(paths []string) ([]int, error) {
	fs, err := procfs.NewFS(d.procRoot)
	if err != nil {
		return nil, err
	}

	procs, err := fs.AllProcs()
	if err != nil {
		return nil, err
	}

	var pids []int
	for _, p := range procs {
		cmdline, err := p.CmdLine()
		if err != nil || len(cmdline) == 0 {
			// Exited, or a kernel thread.
			continue
		}

		if slices.Contains(paths, cmdline[0]) {
			pids = append(pids, p.PID)
		}
	}
	slices.Sort(pids)
	return pids, nil
}

// SealTraces renames path with a "_WDT" infix before its extension,
// so the next dump starts a new file.
func (d *FileStackDumper) SealTraces(path string) (string, error) {
	sealed := SealedTracesPath(path)
	if err := os.Rename(path, sealed); err != nil {
		return path, fmt.Errorf("failed to rename traces file: %w", err)
	}
	return sealed, nil
}

// SealedTracesPath returns the name that [*FileStackDumper.SealTraces]
// gives to path: "traces.txt" becomes "traces_WDT.txt".
func SealedTracesPath(path string) string {
	dir, base := filepath.Split(path)
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		return dir + base[:i] + "_WDT" + base[i:]
	}
	return path + "_WDT"
}
