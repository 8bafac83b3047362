// Package gassert (gwatch assert) provides runtime assertions
// over internal invariants of the watchdog and its stores.
//
// Checking every invariant on every cycle is too expensive to leave on in production.
// But if the watchdog misbehaves, enabling the checks
// may point straight at the broken invariant.
//
// Enabling assertions takes two steps.
// First, build with the "debug" build tag,
// i.e. "go build -tags debug" or "go test -tags debug".
// Without the tag, [Env] is an empty struct and no assertion code is compiled in.
// Second, choose which assertions run, by producing an [Env] through
// [EnvironmentFromString] or [ParseEnvironment] (only present in debug builds).
// gwatchd exposes this as the --assert-rules flag in debug builds.
//
// Rules behave as follows:
//   - Components call [*Environment.Enabled] with a dot-separated path,
//     such as "gwatch.watchdog.single_round", before checking an invariant.
//   - No rules are enabled by default.
//   - The rule "*" enables every assertion.
//   - A "*" may only be the last segment of a rule,
//     so "gwatch.watchdog.*" is valid but "gwatch.*.round" is not.
//   - A leading "!" excludes an exact path from a wildcard rule,
//     so "gwatch.*,!gwatch.sqlite.list_order" enables everything under gwatch but that one.
//   - Rules without a wildcard match exactly.
//   - [EnvironmentFromString] takes a comma-separated list of rules.
//   - [ParseEnvironment] reads one rule per line from an [io.Reader],
//     skipping blank lines and lines starting with "#".
package gassert
