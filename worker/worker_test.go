package worker

import (
	"context"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/kaptiv/sequencer/config"
	"github.com/kaptiv/sequencer/credential"
	"github.com/kaptiv/sequencer/jobqueue"
	"github.com/kaptiv/sequencer/mailer"
	"github.com/kaptiv/sequencer/models"
	"github.com/kaptiv/sequencer/utils"
)

type stubMailer struct {
	result mailer.Result
	err    error
}

func (s *stubMailer) Send(ctx context.Context, refreshToken string, msg mailer.Message) (mailer.Result, error) {
	return s.result, s.err
}

func newMockWorker(t *testing.T, mail mailer.Sender) (*Worker, sqlmock.Sqlmock) {
	config.AppConfig.EncryptionKey = "0123456789abcdef"

	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	require.NoError(t, err)

	jobs := jobqueue.NewStore(gdb)
	creds := credential.NewStore(gdb)
	logger := log.New(log.Writer(), "TEST: ", 0)

	w := New(gdb, jobs, creds, mail, nil, nil, 10, logger)
	return w, mock
}

func TestApplyRetryPolicy_ReschedulesBelowMaxAttempts(t *testing.T) {
	w, mock := newMockWorker(t, nil)
	fixedNow := time.Date(2026, 8, 2, 12, 0, 0, 0, time.UTC)
	w.Clock = func() time.Time { return fixedNow }

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	var summary Summary
	w.applyRetryPolicy(models.Job{ID: 1, Attempts: 0}, errors.New("smtp timeout"), &summary)

	require.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Failures, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyRetryPolicy_PermanentlyFailsAtMaxAttempts(t *testing.T) {
	w, mock := newMockWorker(t, nil)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	var summary Summary
	// Attempts = MaxAttempts-1 means n+1 == MaxAttempts, the terminal branch.
	w.applyRetryPolicy(models.Job{ID: 1, Attempts: MaxAttempts - 1}, errors.New("smtp timeout"), &summary)

	require.Equal(t, 1, summary.Failed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessOne_NoCredentialMarksFailed(t *testing.T) {
	w, mock := newMockWorker(t, nil)

	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows(nil))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	var summary Summary
	w.processOne(context.Background(), models.Job{ID: 1, OwnerID: "owner-1"}, &summary)

	require.Equal(t, 1, summary.Failed)
	require.Contains(t, summary.Failures[0], "no_refresh_token")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessOne_SendsAndMarksSent(t *testing.T) {
	config.AppConfig.EncryptionKey = "0123456789abcdef"
	encrypted, err := utils.Encrypt("refresh-token")
	require.NoError(t, err)

	w, mock := newMockWorker(t, &stubMailer{result: mailer.Result{MessageID: "msg-1", ThreadID: "thread-1"}})

	credRows := sqlmock.NewRows([]string{"id", "owner_id", "email", "refresh_token", "sent_today", "last_reset_day", "created_at", "last_used_at"}).
		AddRow(1, "owner-1", "owner@example.com", encrypted, 0, nil, time.Now(), nil)
	mock.ExpectQuery("SELECT").WillReturnRows(credRows)

	// TouchLastUsed, IncrementSentToday, then MarkSent — three independent
	// single-row writes, each wrapped in its own transaction by gorm.
	for i := 0; i < 3; i++ {
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
	}

	var summary Summary
	w.processOne(context.Background(), models.Job{ID: 1, OwnerID: "owner-1", ToEmail: "recipient@example.com"}, &summary)

	require.Equal(t, 1, summary.Sent)
	require.Equal(t, 0, summary.Failed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessOne_DailyCapDefersJob(t *testing.T) {
	config.AppConfig.EncryptionKey = "0123456789abcdef"
	encrypted, err := utils.Encrypt("refresh-token")
	require.NoError(t, err)

	w, mock := newMockWorker(t, &stubMailer{})
	w.DailySendCap = 10

	newCredRows := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "owner_id", "email", "refresh_token", "sent_today", "last_reset_day", "created_at", "last_used_at"}).
			AddRow(1, "owner-1", "owner@example.com", encrypted, 10, nil, time.Now(), nil)
	}
	mock.ExpectQuery("SELECT").WillReturnRows(newCredRows())

	mock.ExpectQuery("SELECT").WillReturnRows(newCredRows())

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	var summary Summary
	w.processOne(context.Background(), models.Job{ID: 1, OwnerID: "owner-1", ToEmail: "recipient@example.com"}, &summary)

	require.Equal(t, 1, summary.Skipped)
	require.Equal(t, 0, summary.Sent)
	require.Equal(t, 0, summary.Failed)
	require.NoError(t, mock.ExpectationsWereMet())
}
