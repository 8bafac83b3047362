//go:build !debug

package gassert

// Env is the assertion environment.
//
// Components that check invariants accept a gassert.Env.
// In non-debug builds Env is an empty struct and has no methods,
// so code calling into it must itself be behind the "debug" build tag.
// In debug builds Env is an alias to *Environment.
type Env struct{}
