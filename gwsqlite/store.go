// Package gwsqlite contains a SQLite-backed implementation
// of the gwstore interfaces.
//
// Build with the purego tag (or without cgo) to use the pure Go driver.
package gwsqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/trace"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang/snappy"
	"github.com/gordian-engine/gwatch/gassert"
	"github.com/gordian-engine/gwatch/gwatchdog"
	"github.com/gordian-engine/gwatch/gwstore"
)

// Store satisfies [gwstore.DiagnosticStore] and [gwstore.RebootStore].
type Store struct {
	// The string "purego" or "cgo" depending on build tags.
	BuildType string

	// Assertion environment, checked in debug builds.
	// Set it before the first call on the store.
	AssertEnv gassert.Env

	// Separate pools for reads and writes,
	// so that readers never wait behind the single writer connection.
	ro, rw *sql.DB
}

var (
	_ gwstore.DiagnosticStore = (*Store)(nil)
	_ gwstore.RebootStore     = (*Store)(nil)
)

func NewOnDiskStore(ctx context.Context, dbPath string) (*Store, error) {
	dbPath = filepath.Clean(dbPath)
	if _, err := os.Stat(dbPath); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat path %q: %w", dbPath, err)
		}

		// The startup pragmas fail without an existing file.
		// O_EXCL so that we never truncate a database created concurrently.
		f, err := os.OpenFile(dbPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err != nil {
			return nil, fmt.Errorf("failed to create empty database file: %w", err)
		}
		if err := f.Close(); err != nil {
			return nil, fmt.Errorf("failed to close new empty database file: %w", err)
		}
	}

	// With SetMaxOpenConns(1), writers block on the single connection
	// instead of failing with "database is locked".
	uri := "file:" + dbPath + "?mode=rw"

	rw, err := sql.Open(sqliteDriverType, uri)
	if err != nil {
		return nil, fmt.Errorf("error opening read-write database: %w", err)
	}
	rw.SetMaxOpenConns(1)

	// Persistent, and only relevant to on-disk databases.
	if _, err := rw.ExecContext(ctx, `PRAGMA journal_mode = WAL`); err != nil {
		return nil, fmt.Errorf("failed to set journal_mode=WAL: %w", err)
	}

	if err := pragmasRW(ctx, rw); err != nil {
		return nil, err
	}

	if err := migrate(ctx, rw); err != nil {
		return nil, err
	}

	// mode=rw is the final query parameter.
	uri = uri[:len(uri)-1] + "o"
	ro, err := sql.Open(sqliteDriverType, uri)
	if err != nil {
		return nil, fmt.Errorf("error opening read-only database: %w", err)
	}

	return &Store{
		BuildType: sqliteBuildType,

		rw: rw,
		ro: ro,
	}, nil
}

var inMemNameCounter uint32

func NewInMemStore(ctx context.Context) (*Store, error) {
	dbName := fmt.Sprintf("gwdb%d", atomic.AddUint32(&inMemNameCounter, 1))
	uri := "file:" + dbName +
		// Named and shared so that both pools see the same database.
		"?mode=memory&cache=shared" +
		// Take the write lock at the start of every transaction.
		"&_txlock=immediate"

	rw, err := sql.Open(sqliteDriverType, uri)
	if err != nil {
		return nil, fmt.Errorf("error opening read-write database: %w", err)
	}

	// Without this, concurrent writers see "table is locked"
	// errors that the busy handler does not resolve.
	rw.SetMaxOpenConns(1)

	if err := pragmasRW(ctx, rw); err != nil {
		return nil, err
	}

	if err := migrate(ctx, rw); err != nil {
		return nil, err
	}

	var ok bool
	uri, ok = strings.CutSuffix(uri, "&_txlock=immediate")
	if !ok {
		panic(fmt.Errorf("BUG: failed to cut _txlock suffix from uri %q", uri))
	}
	ro, err := sql.Open(sqliteDriverType, uri)
	if err != nil {
		return nil, fmt.Errorf("error opening read-only database: %w", err)
	}

	return &Store{
		BuildType: sqliteBuildType,

		rw: rw,
		ro: ro,
	}, nil
}

func (s *Store) Close() error {
	errRO := s.ro.Close()
	if errRO != nil {
		errRO = fmt.Errorf("error closing read-only database: %w", errRO)
	}
	errRW := s.rw.Close()
	if errRW != nil {
		errRW = fmt.Errorf("error closing read-write database: %w", errRW)
	}

	return errors.Join(errRO, errRW)
}

func (s *Store) AddDiagnostic(ctx context.Context, d gwatchdog.Diagnostic) error {
	defer trace.StartRegion(ctx, "AddDiagnostic").End()

	if d.EpisodeID == "" {
		return gwstore.ErrEmptyEpisodeID
	}

	var traces []byte
	if len(d.Traces) > 0 {
		traces = snappy.Encode(nil, d.Traces)
	}

	_, err := s.rw.ExecContext(
		ctx,
		`INSERT INTO diagnostics(
  episode_id, tag, process, subject, traces_path, traces_size, traces, created_at_ns
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.EpisodeID, d.Tag, d.Process, d.Subject,
		d.TracesPath, len(d.Traces), traces,
		d.CreatedAt.UnixNano(),
	)
	if err != nil {
		if isPrimaryKeyConstraintError(err) {
			return gwstore.DiagnosticOverwriteError{EpisodeID: d.EpisodeID}
		}
		return fmt.Errorf("failed to insert diagnostic: %w", err)
	}
	return nil
}

func (s *Store) LoadDiagnostic(ctx context.Context, episodeID string) (gwatchdog.Diagnostic, error) {
	defer trace.StartRegion(ctx, "LoadDiagnostic").End()

	d := gwatchdog.Diagnostic{EpisodeID: episodeID}
	var (
		size      int
		traces    []byte
		createdNS int64
	)
	err := s.ro.QueryRowContext(
		ctx,
		`SELECT tag, process, subject, traces_path, traces_size, traces, created_at_ns
FROM diagnostics WHERE episode_id = ?`,
		episodeID,
	).Scan(
		&d.Tag, &d.Process, &d.Subject,
		&d.TracesPath, &size, &traces,
		&createdNS,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return gwatchdog.Diagnostic{}, gwstore.NoDiagnosticError{EpisodeID: episodeID}
		}
		return gwatchdog.Diagnostic{}, fmt.Errorf("failed to load diagnostic: %w", err)
	}

	d.CreatedAt = time.Unix(0, createdNS)

	if size > 0 {
		d.Traces, err = snappy.Decode(nil, traces)
		if err != nil {
			return gwatchdog.Diagnostic{}, fmt.Errorf("failed to decompress traces: %w", err)
		}
	}
	invariantTracesSize(s.AssertEnv, episodeID, size, d.Traces)

	return d, nil
}

func (s *Store) ListDiagnostics(ctx context.Context, limit int) ([]gwstore.DiagnosticSummary, error) {
	defer trace.StartRegion(ctx, "ListDiagnostics").End()

	if limit <= 0 {
		// Negative LIMIT means no limit in SQLite.
		limit = -1
	}

	rows, err := s.ro.QueryContext(
		ctx,
		`SELECT episode_id, tag, process, subject, traces_path, traces_size, created_at_ns
FROM diagnostics ORDER BY created_at_ns DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query diagnostics: %w", err)
	}
	defer rows.Close()

	var out []gwstore.DiagnosticSummary
	for rows.Next() {
		var (
			sum       gwstore.DiagnosticSummary
			createdNS int64
		)
		if err := rows.Scan(
			&sum.EpisodeID, &sum.Tag, &sum.Process, &sum.Subject,
			&sum.TracesPath, &sum.TracesSize, &createdNS,
		); err != nil {
			return nil, fmt.Errorf("failed to scan diagnostic row: %w", err)
		}
		sum.CreatedAt = time.Unix(0, createdNS)
		out = append(out, sum)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate diagnostics: %w", err)
	}
	invariantListOrder(s.AssertEnv, limit, out)

	return out, nil
}

func (s *Store) SaveNextRebootAttempt(ctx context.Context, at time.Time) error {
	defer trace.StartRegion(ctx, "SaveNextRebootAttempt").End()

	_, err := s.rw.ExecContext(
		ctx,
		`UPDATE reboot SET next_attempt_ns = ? WHERE id = 0`,
		at.UnixNano(),
	)
	return err
}

func (s *Store) LoadNextRebootAttempt(ctx context.Context) (time.Time, error) {
	defer trace.StartRegion(ctx, "LoadNextRebootAttempt").End()

	var ns sql.NullInt64
	if err := s.ro.QueryRowContext(
		ctx,
		`SELECT next_attempt_ns FROM reboot WHERE id = 0`,
	).Scan(&ns); err != nil {
		return time.Time{}, fmt.Errorf("failed to load next reboot attempt: %w", err)
	}

	if !ns.Valid {
		return time.Time{}, gwstore.ErrStoreUninitialized
	}
	return time.Unix(0, ns.Int64), nil
}

func pragmasRW(ctx context.Context, db *sql.DB) error {
	defer trace.StartRegion(ctx, "pragmasRW").End()

	// https://www.sqlite.org/lang_analyze.html#periodically_run_pragma_optimize_
	if _, err := db.ExecContext(ctx, `PRAGMA optimize(0x10002);`); err != nil {
		return fmt.Errorf("failed to run startup PRAGMA optimize: %w", err)
	}

	return nil
}
