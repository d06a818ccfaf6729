package sqlite3

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/exchangecore/excore/internal/store/model"
)

func TestGetFolderSyncStateReturnsMatchingRow(t *testing.T) {
	db, mock := newMockDB(t)
	rows := sqlmock.NewRows([]string{"user_email", "device_id", "sync_key"}).
		AddRow("a@example.com", "dev1", 3)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT user_email, device_id, sync_key
		FROM excore_folder_sync_state WHERE user_email = ? AND device_id = ?`)).
		WithArgs("a@example.com", "dev1").
		WillReturnRows(rows)

	st, err := db.GetFolderSyncState(context.Background(), "a@example.com", "dev1")
	require.NoError(t, err)
	require.NotNil(t, st)
	require.Equal(t, 3, st.SyncKey)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPutFolderSyncStateUpsertsOnConflict(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO excore_folder_sync_state`)).
		WithArgs("a@example.com", "dev1", 3).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := db.PutFolderSyncState(context.Background(), &model.FolderSyncState{
		UserEmail: "a@example.com", DeviceID: "dev1", SyncKey: 3,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
