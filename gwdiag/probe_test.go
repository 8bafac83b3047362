package gwdiag_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gordian-engine/gwatch/gwatchdog"
	"github.com/gordian-engine/gwatch/gwdiag"
	"github.com/gordian-engine/gwatch/internal/gtest"
	"github.com/stretchr/testify/require"
)

var _ gwatchdog.Probe = gwdiag.FileSettingProbe{}

func TestFileSettingProbe(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "scaling_governor")
	require.NoError(t, os.WriteFile(p, []byte("powersave\n"), 0o644))

	probe := gwdiag.FileSettingProbe{
		Log:  gtest.NewLogger(t),
		Path: p,
		Want: "interactive",
	}
	require.Equal(t, "FileSettingProbe("+p+")", probe.String())

	probe.CheckLiveness()

	b, err := os.ReadFile(p)
	require.NoError(t, err)
	require.Equal(t, "interactive", string(b))

	// Already at the wanted value: the file is left alone.
	require.NoError(t, os.WriteFile(p, []byte("interactive\n"), 0o644))
	probe.CheckLiveness()
	b, err = os.ReadFile(p)
	require.NoError(t, err)
	require.Equal(t, "interactive\n", string(b))
}

func TestFileSettingProbe_missingFile(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "absent")
	gwdiag.FileSettingProbe{Log: gtest.NewLogger(t), Path: p, Want: "x"}.CheckLiveness()

	require.NoFileExists(t, p)
}
