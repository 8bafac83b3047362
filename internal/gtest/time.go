package gtest

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// TimeFactor is a multiplier that can be controlled by the
// GWATCH_TEST_TIME_FACTOR environment variable
// to increase test-related timeouts.
//
// Watchdog tests deliberately run with tight round budgets,
// so a contended CI machine may need GWATCH_TEST_TIME_FACTOR=3
// or similar to avoid spurious overdue detections.
var TimeFactor ScaledDuration = 1

func init() {
	f := os.Getenv("GWATCH_TEST_TIME_FACTOR")
	if f == "" {
		return
	}

	n, err := strconv.Atoi(f)
	if err != nil {
		panic(fmt.Errorf(
			"failed to parse GWATCH_TEST_TIME_FACTOR (%q) into an integer: %w",
			f, err,
		))
	}

	if n <= 0 {
		panic(fmt.Errorf("GWATCH_TEST_TIME_FACTOR must be positive; got %d", n))
	}

	TimeFactor = ScaledDuration(n)
}

type ScaledDuration time.Duration

// ScaleMs returns ms in milliseconds, multiplied by [TimeFactor].
func ScaleMs(ms int64) ScaledDuration {
	return TimeFactor * ScaledDuration(ms) * ScaledDuration(time.Millisecond)
}

// Sleep calls [time.Sleep] with the given scaled duration.
func Sleep(dur ScaledDuration) {
	time.Sleep(time.Duration(dur))
}

// Duration returns d as a [time.Duration],
// for APIs such as require.Eventually.
func (d ScaledDuration) Duration() time.Duration {
	return time.Duration(d)
}
