package jobqueue

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/kaptiv/sequencer/models"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	require.NoError(t, err)

	return NewStore(gdb), mock
}

func TestClaim_ReturnsSelectedRowsInOrder(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "owner_id", "to_email", "subject", "body_text",
		"scheduled_for", "status", "attempts", "last_error", "message_id",
		"sequence_run_id", "step_id", "timezone", "created_at", "updated_at"}).
		AddRow(1, "owner-1", "a@example.com", "s", "b", time.Now(), models.JobStatusScheduled, 0, "", nil, nil, nil, "", time.Now(), time.Now()).
		AddRow(2, "owner-1", "b@example.com", "s", "b", time.Now(), models.JobStatusScheduled, 0, "", nil, nil, nil, "", time.Now(), time.Now())

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM jobs").WillReturnRows(rows)
	mock.ExpectExec("UPDATE").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	claimed, err := store.Claim(2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	require.Equal(t, uint(1), claimed[0].ID)
	require.Equal(t, uint(2), claimed[1].ID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaim_NoRowsSkipsUpdate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM jobs").WillReturnRows(sqlmock.NewRows(nil))
	mock.ExpectCommit()

	claimed, err := store.Claim(10)
	require.NoError(t, err)
	require.Empty(t, claimed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkSent(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.MarkSent(1, "provider-message-id")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReschedule(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.Reschedule(1, 1, time.Now().Add(2*time.Minute), "smtp timeout")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFailed(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.MarkFailed(1, 5, "attempts exhausted")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
