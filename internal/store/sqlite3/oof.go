package sqlite3

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/exchangecore/excore/internal/store/model"
)

func (d *DB) GetOOF(ctx context.Context, userEmail string) (*model.OOFSettings, error) {
	var s model.OOFSettings
	var state, audience string
	var windowStart, windowEnd sql.NullTime
	var repliedTo sql.NullString
	err := d.db.QueryRowContext(ctx, `
		SELECT user_email, state, window_start, window_end, internal_message, internal_enabled,
		       external_message, external_enabled, external_audience, replied_to
		FROM excore_oof_settings WHERE user_email = ?`, userEmail,
	).Scan(&s.UserEmail, &state, &windowStart, &windowEnd, &s.InternalMessage, &s.InternalEnabled,
		&s.ExternalMessage, &s.ExternalEnabled, &audience, &repliedTo)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite3: get oof: %w", err)
	}
	s.State = model.OOFState(state)
	s.ExternalAudience = model.ExternalAudience(audience)
	if windowStart.Valid {
		s.WindowStart = windowStart.Time
	}
	if windowEnd.Valid {
		s.WindowEnd = windowEnd.Time
	}
	if repliedTo.Valid && repliedTo.String != "" {
		if err := json.Unmarshal([]byte(repliedTo.String), &s.RepliedTo); err != nil {
			return nil, fmt.Errorf("sqlite3: get oof: decode replied_to: %w", err)
		}
	}
	return &s, nil
}

func (d *DB) PutOOF(ctx context.Context, s *model.OOFSettings) error {
	repliedTo, err := json.Marshal(s.RepliedTo)
	if err != nil {
		return fmt.Errorf("sqlite3: put oof: encode replied_to: %w", err)
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO excore_oof_settings
			(user_email, state, window_start, window_end, internal_message, internal_enabled,
			 external_message, external_enabled, external_audience, replied_to)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_email) DO UPDATE SET
			state = excluded.state,
			window_start = excluded.window_start,
			window_end = excluded.window_end,
			internal_message = excluded.internal_message,
			internal_enabled = excluded.internal_enabled,
			external_message = excluded.external_message,
			external_enabled = excluded.external_enabled,
			external_audience = excluded.external_audience,
			replied_to = excluded.replied_to`,
		s.UserEmail, string(s.State), nullTime(s.WindowStart), nullTime(s.WindowEnd),
		s.InternalMessage, s.InternalEnabled, s.ExternalMessage, s.ExternalEnabled,
		string(s.ExternalAudience), string(repliedTo),
	)
	if err != nil {
		return fmt.Errorf("sqlite3: put oof: %w", err)
	}
	return nil
}
