//go:build debug

package gasserttest

import "github.com/gordian-engine/gwatch/gassert"

// DefaultEnv returns an assertion environment with every assertion enabled.
func DefaultEnv() gassert.Env {
	env, err := gassert.EnvironmentFromString("*")
	if err != nil {
		panic(err)
	}
	env.UseCaching()
	return env
}

// NopEnv returns an assertion environment with every assertion disabled.
func NopEnv() gassert.Env {
	env, err := gassert.EnvironmentFromString("")
	if err != nil {
		panic(err)
	}
	env.UseCaching()
	return env
}
