package credential

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/kaptiv/sequencer/config"
	"github.com/kaptiv/sequencer/utils"
)

func encryptForTest(plaintext string) (string, error) {
	return utils.Encrypt(plaintext)
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	config.AppConfig.EncryptionKey = "0123456789abcdef"

	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	require.NoError(t, err)

	return NewStore(gdb), mock
}

func TestUpsert_CreatesWhenAbsent(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows(nil))
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	cred, err := store.Upsert("owner-1", "owner@example.com", "refresh-token")
	require.NoError(t, err)
	require.Equal(t, "owner-1", cred.OwnerID)
	require.Equal(t, "owner@example.com", *cred.Email)
	require.NotEqual(t, "refresh-token", *cred.RefreshToken, "token must be encrypted at rest")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_UpdatesWhenPresent(t *testing.T) {
	store, mock := newMockStore(t)

	existingRows := sqlmock.NewRows([]string{"id", "owner_id", "email", "refresh_token", "sent_today", "last_reset_day", "created_at", "last_used_at"}).
		AddRow(7, "owner-1", "old@example.com", "old-encrypted", 0, nil, nil, nil)
	mock.ExpectQuery("SELECT").WillReturnRows(existingRows)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	cred, err := store.Upsert("owner-1", "new@example.com", "new-refresh-token")
	require.NoError(t, err)
	require.Equal(t, uint(7), cred.ID)
	require.Equal(t, "new@example.com", *cred.Email)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_NotFoundReturnsNilWithoutError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows(nil))

	cred, err := store.Get("owner-unknown")
	require.NoError(t, err)
	require.Nil(t, cred)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshToken_NoCredentialReturnsSentinel(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows(nil))

	_, err := store.RefreshToken("owner-unknown")
	require.ErrorIs(t, err, ErrNoRefreshToken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshToken_DecryptsStoredValue(t *testing.T) {
	store, mock := newMockStore(t)

	encrypted, err := encryptForTest("plain-refresh-token")
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"id", "owner_id", "email", "refresh_token", "sent_today", "last_reset_day", "created_at", "last_used_at"}).
		AddRow(1, "owner-1", "owner@example.com", encrypted, 0, nil, nil, nil)
	mock.ExpectQuery("SELECT").WillReturnRows(rows)

	token, err := store.RefreshToken("owner-1")
	require.NoError(t, err)
	require.Equal(t, "plain-refresh-token", token)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDailyCapReached_DisabledWhenCapIsZero(t *testing.T) {
	store, mock := newMockStore(t)

	reached, err := store.DailyCapReached("owner-1", 0)
	require.NoError(t, err)
	require.False(t, reached)
	require.NoError(t, mock.ExpectationsWereMet(), "a disabled cap must not touch the database")
}

func TestDailyCapReached_TrueAtOrAboveCap(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "owner_id", "email", "refresh_token", "sent_today", "last_reset_day", "created_at", "last_used_at"}).
		AddRow(1, "owner-1", "owner@example.com", "encrypted", 50, nil, nil, nil)
	mock.ExpectQuery("SELECT").WillReturnRows(rows)

	reached, err := store.DailyCapReached("owner-1", 50)
	require.NoError(t, err)
	require.True(t, reached)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResetDailyCounters(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	err := store.ResetDailyCounters()
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
