package gwdiag

import (
	"bufio"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strings"
)

// FileSettingProbe is a liveness probe that also enforces a one-line setting,
// such as a CPU frequency governor under /sys.
// Every time it runs it reads the first line of Path,
// and if that differs from Want, it writes Want back.
//
// A missing file is not an error; the probe then does nothing.
type FileSettingProbe struct {
	Log *slog.Logger

	Path string
	Want string
}

func (p FileSettingProbe) String() string {
	return "FileSettingProbe(" + p.Path + ")"
}

func (p FileSettingProbe) CheckLiveness() {
	cur, err := readFirstLine(p.Path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			p.Log.Warn("Failed to read setting", "path", p.Path, "err", err)
		}
		return
	}

	if cur == p.Want {
		return
	}

	p.Log.Info("Changing setting", "path", p.Path, "from", cur, "to", p.Want)
	if err := os.WriteFile(p.Path, []byte(p.Want), 0); err != nil {
		p.Log.Warn("Failed to write setting", "path", p.Path, "err", err)
	}
}

func readFirstLine(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	s := bufio.NewScanner(f)
	if s.Scan() {
		return strings.TrimSpace(s.Text()), nil
	}
	return "", s.Err()
}
