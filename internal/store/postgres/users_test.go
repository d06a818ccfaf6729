package postgres

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return &DB{db: sqlDB}, mock
}

func TestGetUserReturnsMatchingRow(t *testing.T) {
	db, mock := newMockDB(t)
	rows := sqlmock.NewRows([]string{"email", "password_hash", "active"}).
		AddRow("a@example.com", "hash", true)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT email, password_hash, active FROM excore_users WHERE email = $1`)).
		WithArgs("a@example.com").
		WillReturnRows(rows)

	u, err := db.GetUser(context.Background(), "a@example.com")
	require.NoError(t, err)
	require.NotNil(t, u)
	require.Equal(t, "a@example.com", u.Email)
	require.Equal(t, "hash", u.PasswordHash)
	require.True(t, u.Active)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserReturnsNilOnNoRows(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT email, password_hash, active FROM excore_users WHERE email = $1`)).
		WithArgs("missing@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"email", "password_hash", "active"}))

	u, err := db.GetUser(context.Background(), "missing@example.com")
	require.NoError(t, err)
	require.Nil(t, u)
	require.NoError(t, mock.ExpectationsWereMet())
}
