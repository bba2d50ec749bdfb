// Package store persists extracted facts in SQLite and serves read-only
// queries over the public views.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrSchemaTooNew is returned by Migrate when the database was written by a
// newer build.
var ErrSchemaTooNew = errors.New("store schema is newer than this build")

// Store is the SQLite data access layer. Writes go through db and are
// serialized by writeMu; queries use a separate read-only handle.
type Store struct {
	path string
	db   *sql.DB

	writeMu sync.Mutex

	roOnce sync.Once
	ro     *sql.DB
	roErr  error
}

// NewStore opens a SQLite database at dbPath with WAL mode enabled.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{path: dbPath, db: db}, nil
}

// Path is the database file the store was opened on.
func (s *Store) Path() string { return s.path }

// Close closes both connections.
func (s *Store) Close() error {
	var roErr error
	if s.ro != nil {
		roErr = s.ro.Close()
	}
	return errors.Join(s.db.Close(), roErr)
}

// DB returns the underlying *sql.DB for use in transactions.
func (s *Store) DB() *sql.DB {
	return s.db
}

// ReadDB returns the read-only handle used for queries. Statements on it
// cannot modify the database.
func (s *Store) ReadDB() (*sql.DB, error) {
	return s.reader()
}

// reader lazily opens the read-only query handle. The database must exist,
// so callers migrate through the writable handle first.
func (s *Store) reader() (*sql.DB, error) {
	s.roOnce.Do(func() {
		db, err := sql.Open("sqlite3", "file:"+s.path+"?mode=ro&_query_only=1&_busy_timeout=5000")
		if err != nil {
			s.roErr = fmt.Errorf("open read-only database: %w", err)
			return
		}
		if err := db.Ping(); err != nil {
			db.Close()
			s.roErr = fmt.Errorf("ping read-only database: %w", err)
			return
		}
		s.ro = db
	})
	return s.ro, s.roErr
}

// Migrate brings the schema up to SchemaVersion. Idempotent; applied
// versions are skipped. Each version applies in its own transaction.
func (s *Store) Migrate(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx, metaDDL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	current, err := s.schemaVersion(ctx, s.db)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if current > SchemaVersion {
		return fmt.Errorf("migrate: version %d, supported %d: %w", current, SchemaVersion, ErrSchemaTooNew)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := s.apply(ctx, m); err != nil {
			return fmt.Errorf("migrate: version %d: %w", m.version, err)
		}
	}
	return s.recordCapabilities(ctx)
}

func (s *Store) apply(ctx context.Context, m migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.ddl); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO meta_schema (version, applied_at) VALUES (?, ?)",
		m.version, time.Now().UTC()); err != nil {
		return fmt.Errorf("record version: %w", err)
	}
	return tx.Commit()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) schemaVersion(ctx context.Context, q queryer) (int, error) {
	var v int
	if err := q.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM meta_schema").Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// SchemaVersion reports the newest applied schema version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	return s.schemaVersion(ctx, s.db)
}

// Capability flags recorded on every migration.
const (
	CapLanguage      = "language"
	CapGrammar       = "grammar"
	CapBinder        = "binder"
	CapSQLiteVersion = "sqlite_version"
)

func (s *Store) recordCapabilities(ctx context.Context) error {
	var version string
	if err := s.db.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&version); err != nil {
		return fmt.Errorf("read sqlite version: %w", err)
	}
	caps := [][2]string{
		{CapLanguage, "csharp"},
		{CapGrammar, "tree-sitter-c-sharp"},
		{CapBinder, "heuristic"},
		{CapSQLiteVersion, version},
	}
	for _, c := range caps {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO meta_capabilities (name, value) VALUES (?, ?)
			 ON CONFLICT(name) DO UPDATE SET value = excluded.value`, c[0], c[1]); err != nil {
			return fmt.Errorf("record capability %s: %w", c[0], err)
		}
	}
	return nil
}

// Capabilities returns the recorded capability flags.
func (s *Store) Capabilities(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, value FROM meta_capabilities")
	if err != nil {
		return nil, fmt.Errorf("capabilities: %w", err)
	}
	defer rows.Close()

	caps := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("capabilities: %w", err)
		}
		caps[name] = value
	}
	return caps, rows.Err()
}
