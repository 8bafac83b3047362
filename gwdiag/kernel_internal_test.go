package gwdiag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTracerPID(t *testing.T) {
	t.Parallel()

	pid, err := tracerPID(strings.NewReader("State:\tS (sleeping)\nTracerPid:\t  77\n"))
	require.NoError(t, err)
	require.Equal(t, 77, pid)

	_, err = tracerPID(strings.NewReader("State:\tS (sleeping)\n"))
	require.Error(t, err)

	_, err = tracerPID(strings.NewReader("TracerPid:\tabc\n"))
	require.Error(t, err)
}
