package oauthflow

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/kaptiv/sequencer/credential"
)

func newMockFlow(t *testing.T) (*Flow, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	require.NoError(t, err)

	cfg := &oauth2.Config{ClientID: "client-id", ClientSecret: "client-secret", RedirectURL: "https://example.com/callback"}
	return New(gdb, cfg, credential.NewStore(gdb)), mock
}

func TestStart_PersistsStateAndReturnsAuthURL(t *testing.T) {
	flow, mock := newMockFlow(t)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	authURL, nonce, err := flow.Start("owner-1", "https://app.example.com/return")
	require.NoError(t, err)
	require.NotEmpty(t, nonce)
	require.Contains(t, authURL, "client_id=client-id")
	require.Contains(t, authURL, "prompt=consent")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCallback_UnknownNonceRejected(t *testing.T) {
	flow, mock := newMockFlow(t)

	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows(nil))

	_, err := flow.Callback(context.Background(), "auth-code", "unknown-nonce")
	require.ErrorIs(t, err, ErrInvalidState)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCallback_ExpiredStateRejected(t *testing.T) {
	flow, mock := newMockFlow(t)

	rows := sqlmock.NewRows([]string{"id", "nonce", "owner_id", "return_url", "expires_at", "consumed_at", "created_at"}).
		AddRow(1, "nonce-1", "owner-1", "https://app.example.com", time.Now().Add(-time.Minute), nil, time.Now().Add(-20*time.Minute))
	mock.ExpectQuery("SELECT").WillReturnRows(rows)

	_, err := flow.Callback(context.Background(), "auth-code", "nonce-1")
	require.ErrorIs(t, err, ErrInvalidState)
	require.NoError(t, mock.ExpectationsWereMet(), "an expired ticket must be rejected before any consume attempt")
}

func TestCallback_ReplayedConsumeRejected(t *testing.T) {
	flow, mock := newMockFlow(t)

	rows := sqlmock.NewRows([]string{"id", "nonce", "owner_id", "return_url", "expires_at", "consumed_at", "created_at"}).
		AddRow(1, "nonce-1", "owner-1", "https://app.example.com", time.Now().Add(time.Minute), nil, time.Now())
	mock.ExpectQuery("SELECT").WillReturnRows(rows)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	_, err := flow.Callback(context.Background(), "auth-code", "nonce-1")
	require.ErrorIs(t, err, ErrInvalidState)
	require.NoError(t, mock.ExpectationsWereMet(), "losing the consume race must surface the same error as an unknown ticket")
}
