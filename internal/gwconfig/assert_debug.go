//go:build debug

package gwconfig

import (
	"github.com/gordian-engine/gwatch/gassert"
	"github.com/spf13/pflag"
)

func addAssertRulesFlag(fs *pflag.FlagSet) {
	// Default to all rules.
	fs.String(assertRulesFlag, "*", "Comma-separated assertion rules. Only available in debug builds. See package docs for github.com/gordian-engine/gwatch/gassert.")
}

// AssertEnv returns the assertion environment for c.AssertRules.
func (c Config) AssertEnv() (gassert.Env, error) {
	env, err := gassert.EnvironmentFromString(c.AssertRules)
	if err != nil {
		return nil, err
	}
	env.UseCaching()
	return env, nil
}
