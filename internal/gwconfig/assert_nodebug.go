//go:build !debug

package gwconfig

import (
	"github.com/gordian-engine/gwatch/gassert"
	"github.com/spf13/pflag"
)

// No-op functions to match the debug build.

func addAssertRulesFlag(*pflag.FlagSet) {}

// AssertEnv returns the no-op environment in non-debug builds.
func (c Config) AssertEnv() (gassert.Env, error) {
	return gassert.Env{}, nil
}
