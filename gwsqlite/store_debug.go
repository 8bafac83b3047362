//go:build debug

package gwsqlite

import (
	"fmt"

	"github.com/gordian-engine/gwatch/gassert"
	"github.com/gordian-engine/gwatch/gwstore"
)

// invariantTracesSize asserts that decompressed traces
// have the length recorded when they were stored.
func invariantTracesSize(env gassert.Env, episodeID string, size int, traces []byte) {
	if !env.Enabled("gwatch.sqlite.traces_size") {
		return
	}

	if len(traces) != size {
		env.HandleAssertionFailure(fmt.Errorf(
			"diagnostic %q: stored traces size %d but decoded %d bytes", episodeID, size, len(traces),
		))
	}
}

// invariantListOrder asserts that listed summaries are newest first
// and respect a positive limit.
func invariantListOrder(env gassert.Env, limit int, sums []gwstore.DiagnosticSummary) {
	if !env.Enabled("gwatch.sqlite.list_order") {
		return
	}

	if limit > 0 && len(sums) > limit {
		env.HandleAssertionFailure(fmt.Errorf(
			"listed %d diagnostics with limit %d", len(sums), limit,
		))
	}

	for i := 1; i < len(sums); i++ {
		if sums[i].CreatedAt.After(sums[i-1].CreatedAt) {
			env.HandleAssertionFailure(fmt.Errorf(
				"diagnostic %q at index %d is newer than %q before it",
				sums[i].EpisodeID, i, sums[i-1].EpisodeID,
			))
			return
		}
	}
}
