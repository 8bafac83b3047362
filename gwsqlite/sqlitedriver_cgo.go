//go:build cgo && !purego

package gwsqlite

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

const (
	sqliteDriverType = "sqlite3"
	sqliteBuildType  = "cgo"
)

func isPrimaryKeyConstraintError(e error) bool {
	var sErr sqlite3.Error
	if !errors.As(e, &sErr) {
		return false
	}

	// A non-integer primary key is backed by a unique index,
	// and older SQLite versions report its violation with the generic unique code.
	return sErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
