package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dvloznov/ledgerbook/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockStore(t *testing.T) (*Gorm, sqlmock.Sqlmock) {
	t.Helper()
	mockDb, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDb.Close() })

	dialector := postgres.New(postgres.Config{
		Conn:       mockDb,
		DriverName: "postgres",
	})
	db, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return NewGorm(db), mock
}

func TestGorm_CreateStatement(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO "statements" (.+) VALUES (.+)`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.CreateStatement(context.Background(), newStatement("9b2f1c1e-0000-0000-0000-000000000001", "u1"))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGorm_CreateStatementWrapsFailure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO "statements"`).WillReturnError(errors.New("connection reset"))

	err := s.CreateStatement(context.Background(), newStatement("s1", "u1"))
	var pe *domain.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "create statement", pe.Op)
}

func TestGorm_TransitionAppliesWhenRowMatches(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE "statements" SET (.+) WHERE id = (.+) AND status = (.+) AND stage = (.+)`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Transition(context.Background(), "s1", domain.StateQueued, domain.StateExtracting, StatementChange{})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGorm_TransitionConflictWhenNoRowMatches(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE "statements" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	failed, _ := domain.FailedAt(domain.StageExtracting)
	err := s.Transition(context.Background(), "s1", domain.StateExtracting, failed, StatementChange{AppendError: "boom"})
	assert.ErrorIs(t, err, domain.ErrStateConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGorm_InsertIfAbsentReportsInsertedRows(t *testing.T) {
	s, mock := newMockStore(t)
	d := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO "transactions" (.+) ON CONFLICT (.+) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := s.InsertIfAbsent(context.Background(), []domain.Transaction{
		newTx("t1", "u1", "s1", "Coffee", -5, d),
		newTx("t2", "u1", "s1", "Coffee", -5, d.AddDate(0, 0, 1)),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGorm_InsertIfAbsentEmptyIsNoop(t *testing.T) {
	s, mock := newMockStore(t)

	n, err := s.InsertIfAbsent(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGorm_GetStatementForUserNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT (.+) FROM "statements" WHERE (.+)`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.GetStatementForUser(context.Background(), "u2", "s1")
	assert.True(t, domain.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGorm_StatementIDsByChecksum(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT "id" FROM "statements" WHERE user_id = (.+) AND checksum = (.+) ORDER BY created_at`).
		WithArgs("u1", "abc").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("s1"))

	ids, err := s.StatementIDsByChecksum(context.Background(), "u1", "abc")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGorm_ListStatementIDs(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT "id" FROM "statements" WHERE status = (.+) AND stage = (.+) ORDER BY created_at`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("s1").AddRow("s2"))

	ids, err := s.ListStatementIDs(context.Background(), domain.StateQueued, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, ids)
}

func TestGorm_ResetFailed(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`UPDATE "statements" SET (.+) WHERE status = (.+) RETURNING "id"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("a").AddRow("b"))

	ids, err := s.ResetFailed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGorm_ResetFailedWrapsFailure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`UPDATE "statements" SET`).WillReturnError(errors.New("connection reset"))

	_, err := s.ResetFailed(context.Background())
	var pe *domain.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "reset failed statements", pe.Op)
}
