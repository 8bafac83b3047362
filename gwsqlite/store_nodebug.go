//go:build !debug

package gwsqlite

import (
	"github.com/gordian-engine/gwatch/gassert"
	"github.com/gordian-engine/gwatch/gwstore"
)

// No-op functions to match the debug build.

func invariantTracesSize(gassert.Env, string, int, []byte) {}

func invariantListOrder(gassert.Env, int, []gwstore.DiagnosticSummary) {}
