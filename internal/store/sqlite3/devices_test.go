package sqlite3

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/exchangecore/excore/internal/store/model"
)

func TestGetDeviceReturnsMatchingRow(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"user_email", "device_id", "device_type", "user_agent", "policy_key", "is_provisioned",
		"pending_policy_key", "pending_policy_expires_at", "created_at", "last_seen_at",
	}).AddRow("a@example.com", "dev1", "iPhone", "ua", uint32(42), true, uint32(0), nil, now, now)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT user_email, device_id, device_type, user_agent, policy_key, is_provisioned,
		       pending_policy_key, pending_policy_expires_at, created_at, last_seen_at
		FROM excore_devices WHERE user_email = ? AND device_id = ?`)).
		WithArgs("a@example.com", "dev1").
		WillReturnRows(rows)

	dev, err := db.GetDevice(context.Background(), "a@example.com", "dev1")
	require.NoError(t, err)
	require.NotNil(t, dev)
	require.Equal(t, "dev1", dev.DeviceID)
	require.Equal(t, uint32(42), dev.PolicyKey)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertDeviceExecutesInsertOnConflict(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO excore_devices`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := db.UpsertDevice(context.Background(), &model.Device{
		UserEmail: "a@example.com", DeviceID: "dev1", DeviceType: "iPhone", UserAgent: "ua",
		PolicyKey: 42, IsProvisioned: true,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
