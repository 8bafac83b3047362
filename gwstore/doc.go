// Package gwstore contains the store interfaces for persisted watchdog state:
// diagnostic bundles reported during overdue episodes,
// and the reboot policy's next attempt time.
//
// Implementations live in gwstore/gwmemstore and gwsqlite,
// and both are checked against the compliance tests in gwstore/gwstoretest.
package gwstore

import "github.com/gordian-engine/gwatch/gwatchdog"

// A DiagnosticStore can be used directly as the watchdog's diagnostics sink.
var _ gwatchdog.DiagnosticsSink = DiagnosticStore(nil)
