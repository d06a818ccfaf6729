package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/exchangecore/excore/internal/store/model"
)

func emailRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "user_email", "collection_id", "subject", "sender", "recipients",
		"date_received", "is_read", "message_class", "raw_mime", "body_plain", "body_html", "deleted",
	})
}

func TestListEmailsReturnsRowsAboveSinceID(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now()
	rows := emailRows().AddRow(2, "a@example.com", "1", "Hi", "b@example.com", "a@example.com",
		now, false, model.MessageClassNote, []byte{}, "hi", "", false)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT `+emailColumns+`
		FROM excore_emails
		WHERE user_email = $1 AND collection_id = $2 AND id > $3 AND deleted = FALSE
		ORDER BY id ASC
		LIMIT $4`)).
		WithArgs("a@example.com", "1", int64(1), 10).
		WillReturnRows(rows)

	emails, err := db.ListEmails(context.Background(), "a@example.com", "1", 1, 10)
	require.NoError(t, err)
	require.Len(t, emails, 1)
	require.Equal(t, int64(2), emails[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchEmailReturnsNilOnNoRows(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT ` + emailColumns)).
		WithArgs("a@example.com", int64(5)).
		WillReturnRows(emailRows())

	e, err := db.FetchEmail(context.Background(), "a@example.com", 5)
	require.NoError(t, err)
	require.Nil(t, e)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkReadExecutesUpdate(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE excore_emails SET is_read = $1 WHERE user_email = $2 AND id = $3`)).
		WithArgs(true, "a@example.com", int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := db.MarkRead(context.Background(), "a@example.com", 5, true)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteExecutesSoftDelete(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE excore_emails SET deleted = TRUE WHERE user_email = $1 AND id = $2`)).
		WithArgs("a@example.com", int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := db.Delete(context.Background(), "a@example.com", 5)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestReturnsAssignedID(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO excore_emails`)).
		WithArgs("a@example.com", "1", "Hi", "b@example.com", "a@example.com", now,
			model.MessageClassNote, []byte{}, "hi", "").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	id, err := db.Ingest(context.Background(), &model.Email{
		UserEmail: "a@example.com", CollectionID: "1", Subject: "Hi", From: "b@example.com",
		To: "a@example.com", DateReceived: now, MessageClass: model.MessageClassNote,
		RawMIME: []byte{}, BodyPlain: "hi",
	})
	require.NoError(t, err)
	require.Equal(t, int64(7), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHighestEmailIDReturnsZeroWhenEmpty(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT MAX(id) FROM excore_emails WHERE user_email = $1 AND collection_id = $2`)).
		WithArgs("a@example.com", "1").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))

	id, err := db.HighestEmailID(context.Background(), "a@example.com", "1")
	require.NoError(t, err)
	require.Zero(t, id)
	require.NoError(t, mock.ExpectationsWereMet())
}
