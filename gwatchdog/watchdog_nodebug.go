//go:build !debug

package gwatchdog

import "github.com/gordian-engine/gwatch/gassert"

// No-op functions to match the debug build.

func invariantSingleRound(gassert.Env, *Checker) {}

func invariantStepAdvance(gassert.Env, *Checker, int) {}

func invariantHalfWaitState(gassert.Env, CompletionState) {}

func invariantStateMonotonic(gassert.Env, *Checker, CompletionState) {}
