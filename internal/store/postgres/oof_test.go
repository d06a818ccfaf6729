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

func TestGetOOFDecodesRepliedTo(t *testing.T) {
	db, mock := newMockDB(t)
	start := time.Now()
	end := start.Add(24 * time.Hour)
	rows := sqlmock.NewRows([]string{
		"user_email", "state", "window_start", "window_end", "internal_message", "internal_enabled",
		"external_message", "external_enabled", "external_audience", "replied_to",
	}).AddRow("a@example.com", "Enabled", start, end, "back soon", true,
		"out of office", true, "All", `{"b@example.com":"2026-01-01T00:00:00Z"}`)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT user_email, state, window_start, window_end, internal_message, internal_enabled,
		       external_message, external_enabled, external_audience, replied_to
		FROM excore_oof_settings WHERE user_email = $1`)).
		WithArgs("a@example.com").
		WillReturnRows(rows)

	s, err := db.GetOOF(context.Background(), "a@example.com")
	require.NoError(t, err)
	require.NotNil(t, s)
	require.Equal(t, model.OOFEnabled, s.State)
	require.Equal(t, model.AudienceAll, s.ExternalAudience)
	require.Contains(t, s.RepliedTo, "b@example.com")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOOFReturnsNilOnNoRows(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT user_email, state, window_start, window_end, internal_message, internal_enabled,
		       external_message, external_enabled, external_audience, replied_to
		FROM excore_oof_settings WHERE user_email = $1`)).
		WithArgs("a@example.com").
		WillReturnRows(sqlmock.NewRows([]string{
			"user_email", "state", "window_start", "window_end", "internal_message", "internal_enabled",
			"external_message", "external_enabled", "external_audience", "replied_to",
		}))

	s, err := db.GetOOF(context.Background(), "a@example.com")
	require.NoError(t, err)
	require.Nil(t, s)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPutOOFEncodesRepliedTo(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO excore_oof_settings`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := db.PutOOF(context.Background(), &model.OOFSettings{
		UserEmail: "a@example.com", State: model.OOFEnabled,
		InternalMessage: "back soon", InternalEnabled: true,
		ExternalMessage: "out of office", ExternalEnabled: true,
		ExternalAudience: model.AudienceAll,
		RepliedTo:        map[string]time.Time{},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
