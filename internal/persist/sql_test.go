package persist

import (
	"context"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/feedsync/internal/clock"
	"github.com/roach88/feedsync/internal/remote"
)

func openSQLite(t *testing.T) (*SQLSink, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feedsync.db")
	s, err := Open(context.Background(), DialectSQLite, path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestSQLite_EmptyLoad(t *testing.T) {
	s, _ := openSQLite(t)
	_, err := s.LoadSnapshot(context.Background())
	assert.ErrorIs(t, err, remote.ErrNoSnapshot)

	at, err := s.SavedAt(context.Background())
	require.NoError(t, err)
	assert.True(t, at.IsZero())
}

func TestSQLite_SaveOverwritesSingleRow(t *testing.T) {
	ctx := context.Background()
	s, _ := openSQLite(t)
	s.WithClock(clock.NewVirtual(t0))

	require.NoError(t, s.SaveSnapshot(ctx, []byte("first")))
	require.NoError(t, s.SaveSnapshot(ctx, []byte("second")))

	got, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	var rows int
	require.NoError(t, s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM snapshots").Scan(&rows))
	assert.Equal(t, 1, rows)

	at, err := s.SavedAt(ctx)
	require.NoError(t, err)
	assert.True(t, at.Equal(t0))
}

func TestSQLite_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	s, path := openSQLite(t)
	require.NoError(t, s.SaveSnapshot(ctx, []byte("kept")))
	require.NoError(t, s.Close())

	again, err := Open(ctx, DialectSQLite, path)
	require.NoError(t, err)
	defer again.Close()

	got, err := again.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "kept", string(got))
}

func TestSQLite_PragmasAndVersion(t *testing.T) {
	s, _ := openSQLite(t)
	ctx := context.Background()

	var mode string
	require.NoError(t, s.db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var version int
	require.NoError(t, s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestSQLite_RefusesNewerSchema(t *testing.T) {
	ctx := context.Background()
	s, path := openSQLite(t)
	_, err := s.db.ExecContext(ctx, "PRAGMA user_version = 99")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(ctx, DialectSQLite, path)
	assert.ErrorContains(t, err, "newer than supported")
}

func TestSQLite_BridgeEndToEnd(t *testing.T) {
	ctx := context.Background()
	s, _ := openSQLite(t)
	clk := clock.NewVirtual(t0)
	b := NewBridge(s, WithClock(clk))

	want := snapshotWithLikes(3)
	b.Schedule(want)
	clk.Advance(DefaultDebounce)
	require.NoError(t, b.Err())

	got := NewBridge(s).Load(ctx)
	assert.True(t, want.Equal(got))
}

func newPostgresMock(t *testing.T) (*SQLSink, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLSink(db, DialectPostgres).WithClock(clock.NewVirtual(t0)), mock
}

func TestPostgres_Migrate(t *testing.T) {
	s, mock := newPostgresMock(t)
	mock.ExpectExec(`(?s)CREATE TABLE IF NOT EXISTS snapshots.*BYTEA`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SaveUsesNumberedPlaceholders(t *testing.T) {
	s, mock := newPostgresMock(t)
	q := `(?s)^INSERT\s+INTO\s+snapshots\s*\(id,\s*data,\s*saved_at\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3\)\s*ON CONFLICT`
	mock.ExpectExec(q).
		WithArgs(1, []byte("blob"), t0.UnixMilli()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.SaveSnapshot(context.Background(), []byte("blob")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Load(t *testing.T) {
	s, mock := newPostgresMock(t)
	q := regexp.QuoteMeta(`SELECT data FROM snapshots WHERE id = $1`)

	mock.ExpectQuery(q).WithArgs(1).WillReturnRows(sqlmock.NewRows([]string{"data"}))
	_, err := s.LoadSnapshot(context.Background())
	assert.ErrorIs(t, err, remote.ErrNoSnapshot)

	mock.ExpectQuery(q).WithArgs(1).WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow([]byte("blob")))
	got, err := s.LoadSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "blob", string(got))

	mock.ExpectQuery(q).WithArgs(1).WillReturnError(assert.AnError)
	_, err = s.LoadSnapshot(context.Background())
	assert.ErrorIs(t, err, assert.AnError)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestParseDialect(t *testing.T) {
	d, err := ParseDialect("postgres")
	require.NoError(t, err)
	assert.Equal(t, DialectPostgres, d)

	_, err = ParseDialect("mysql")
	assert.Error(t, err)
}
