package main

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dvloznov/ledgerbook/migrations"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestReadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/0002_second.sql":         {Data: []byte("SELECT 2;")},
		"sql/0001_first.sql":          {Data: []byte("SELECT 1;")},
		"sql/001_invalid.sql":         {Data: []byte("-- wrong number format")},
		"sql/0003_missing_ext":        {Data: []byte("-- missing .sql")},
		"sql/invalid_0004_order.sql":  {Data: []byte("-- wrong order")},
		"sql/nested/0005_skipped.sql": {Data: []byte("SELECT 5;")},
	}

	got, err := readMigrations(fsys, "sql", zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Version)
	assert.Equal(t, "first", got[0].Name)
	assert.Equal(t, "SELECT 1;", got[0].SQL)
	assert.Len(t, got[0].Checksum, 64)
	assert.Equal(t, 2, got[1].Version)
	assert.NotEqual(t, got[0].Checksum, got[1].Checksum)
}

func TestReadMigrations_DuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/0001_a.sql": {Data: []byte("SELECT 1;")},
		"sql/0001_b.sql": {Data: []byte("SELECT 1;")},
	}
	_, err := readMigrations(fsys, "sql", zerolog.Nop())
	assert.ErrorContains(t, err, "duplicate migration version 0001")
}

func TestEmbeddedMigrationsAreOrdered(t *testing.T) {
	got, err := readMigrations(migrations.Postgres, "postgres", zerolog.Nop())
	require.NoError(t, err)
	require.NotEmpty(t, got)
	for i, m := range got {
		assert.Equal(t, i+1, m.Version, m.Filename)
	}
}

func TestPendingMigrations(t *testing.T) {
	all := []Migration{
		{Version: 1, Name: "a", Checksum: "c1"},
		{Version: 2, Name: "b", Checksum: "c2"},
		{Version: 3, Name: "c", Checksum: "c3"},
	}

	pending, err := pendingMigrations(all, []AppliedMigration{{Version: 1, Checksum: "c1"}, {Version: 2}})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 3, pending[0].Version)

	_, err = pendingMigrations(all, []AppliedMigration{{Version: 2, Checksum: "edited"}})
	assert.ErrorContains(t, err, "0002_b changed after it was applied")
}

func newMockRunner(t *testing.T) (*runner, sqlmock.Sqlmock) {
	t.Helper()
	mockDb, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDb.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDb, DriverName: "postgres"}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return &runner{db: db, appliedBy: "test", log: zerolog.Nop()}, mock
}

func TestRunner_AppliesPendingInTransaction(t *testing.T) {
	r, mock := newMockRunner(t)
	all := []Migration{
		{Version: 1, Name: "first", Filename: "0001_first.sql", SQL: "SELECT 1", Checksum: "c1"},
		{Version: 2, Name: "indexes", Filename: "0002_indexes.sql", SQL: "CREATE INDEX idx_x ON t (x)", Checksum: "c2"},
	}

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT version, name, applied_at, checksum, applied_by FROM schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"version", "name", "applied_at", "checksum", "applied_by"}).
			AddRow(1, "first", time.Now(), "c1", "test"))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX idx_x ON t (x)")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schema_migrations")).
		WithArgs(sqlmock.AnyArg(), "indexes", sqlmock.AnyArg(), "c2", "test").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := r.Run(context.Background(), all)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunner_RollsBackFailedMigration(t *testing.T) {
	r, mock := newMockRunner(t)
	all := []Migration{{Version: 1, Name: "broken", Filename: "0001_broken.sql", SQL: "ALTER TABLE nope", Checksum: "c1"}}

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"version", "name", "applied_at", "checksum", "applied_by"}))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("ALTER TABLE nope")).
		WillReturnError(errors.New("relation \"nope\" does not exist"))
	mock.ExpectRollback()

	n, err := r.Run(context.Background(), all)
	assert.ErrorContains(t, err, "executing 0001_broken.sql")
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
