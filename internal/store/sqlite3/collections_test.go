package sqlite3

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/exchangecore/excore/internal/store/model"
)

func TestEnsureDefaultHierarchyInsertsEveryFolder(t *testing.T) {
	db, mock := newMockDB(t)
	for range defaultHierarchy {
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO excore_collections`)).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}

	err := db.EnsureDefaultHierarchy(context.Background(), "a@example.com")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListCollectionsReturnsAllRows(t *testing.T) {
	db, mock := newMockDB(t)
	rows := sqlmock.NewRows([]string{"user_email", "collection_id", "parent_id", "display_name", "class"}).
		AddRow("a@example.com", "1", "0", "Inbox", "Email").
		AddRow("a@example.com", "2", "0", "Drafts", "Email")

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT user_email, collection_id, parent_id, display_name, class
		FROM excore_collections WHERE user_email = ? ORDER BY collection_id`)).
		WithArgs("a@example.com").
		WillReturnRows(rows)

	cols, err := db.ListCollections(context.Background(), "a@example.com")
	require.NoError(t, err)
	require.Len(t, cols, 2)
	require.Equal(t, model.ClassEmail, cols[0].Class)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCollectionReturnsNilOnNoRows(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT user_email, collection_id, parent_id, display_name, class
		FROM excore_collections WHERE user_email = ? AND collection_id = ?`)).
		WithArgs("a@example.com", "99").
		WillReturnRows(sqlmock.NewRows([]string{"user_email", "collection_id", "parent_id", "display_name", "class"}))

	c, err := db.GetCollection(context.Background(), "a@example.com", "99")
	require.NoError(t, err)
	require.Nil(t, c)
	require.NoError(t, mock.ExpectationsWereMet())
}
