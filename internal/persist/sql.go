package persist

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/feedsync/internal/clock"
	"github.com/roach88/feedsync/internal/remote"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

//go:embed schema_postgres.sql
var postgresSchema string

// Schema version tracking (SQLite user_version):
// 1 - single-row snapshots table
const currentSchemaVersion = 1

// Dialect selects the SQL flavour and driver.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// ParseDialect accepts "sqlite" or "postgres".
func ParseDialect(s string) (Dialect, error) {
	switch Dialect(s) {
	case DialectSQLite, DialectPostgres:
		return Dialect(s), nil
	}
	return "", fmt.Errorf("unknown snapshot dialect %q (want sqlite or postgres)", s)
}

func (d Dialect) driver() string {
	if d == DialectPostgres {
		return "pgx"
	}
	return "sqlite3"
}

// SQLSink stores the serialized snapshot in a single-row table.
// It implements remote.SnapshotStore.
type SQLSink struct {
	db      *sql.DB
	dialect Dialect
	clock   clock.Clock
}

var _ remote.SnapshotStore = (*SQLSink)(nil)

// Open connects to dsn with the dialect's driver and applies the schema.
// For SQLite dsn is a file path (":memory:" works for tests).
func Open(ctx context.Context, dialect Dialect, dsn string) (*SQLSink, error) {
	db, err := sql.Open(dialect.driver(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open snapshot database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect snapshot database: %w", err)
	}

	if dialect == DialectSQLite {
		// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if err := applyPragmas(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragmas: %w", err)
		}
	}

	s := NewSQLSink(db, dialect)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLSink wraps an open database. The schema is not touched; call
// Migrate when the tables may be missing.
func NewSQLSink(db *sql.DB, dialect Dialect) *SQLSink {
	return &SQLSink{db: db, dialect: dialect, clock: clock.Wall{}}
}

// WithClock sets the clock stamping saved_at.
func (s *SQLSink) WithClock(c clock.Clock) *SQLSink {
	s.clock = c
	return s
}

// Close closes the database.
func (s *SQLSink) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Migrate creates the snapshot table if needed. On SQLite it also checks
// user_version and refuses a database written by a newer schema.
func (s *SQLSink) Migrate(ctx context.Context) error {
	schema := sqliteSchema
	if s.dialect == DialectPostgres {
		schema = postgresSchema
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply snapshot schema: %w", err)
	}
	if s.dialect != DialectSQLite {
		return nil
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("snapshot database schema %d is newer than supported %d", version, currentSchemaVersion)
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func (s *SQLSink) loadQuery() string {
	if s.dialect == DialectPostgres {
		return `SELECT data FROM snapshots WHERE id = $1`
	}
	return `SELECT data FROM snapshots WHERE id = ?`
}

func (s *SQLSink) saveQuery() string {
	if s.dialect == DialectPostgres {
		return `INSERT INTO snapshots (id, data, saved_at) VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET data = excluded.data, saved_at = excluded.saved_at`
	}
	return `INSERT INTO snapshots (id, data, saved_at) VALUES (?, ?, ?)
ON CONFLICT (id) DO UPDATE SET data = excluded.data, saved_at = excluded.saved_at`
}

// LoadSnapshot returns the stored blob or remote.ErrNoSnapshot.
func (s *SQLSink) LoadSnapshot(ctx context.Context) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, s.loadQuery(), 1).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, remote.ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return data, nil
}

// SaveSnapshot replaces the stored blob.
func (s *SQLSink) SaveSnapshot(ctx context.Context, data []byte) error {
	savedAt := s.clock.Now().UnixMilli()
	if _, err := s.db.ExecContext(ctx, s.saveQuery(), 1, data, savedAt); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// SavedAt returns when the stored blob was written, or the zero time.
func (s *SQLSink) SavedAt(ctx context.Context) (time.Time, error) {
	q := `SELECT saved_at FROM snapshots WHERE id = ?`
	if s.dialect == DialectPostgres {
		q = `SELECT saved_at FROM snapshots WHERE id = $1`
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, q, 1).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("load snapshot time: %w", err)
	}
	return time.UnixMilli(ms).UTC(), nil
}
