package postgres

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
		FROM excore_oof_settings WHERE user_email = $1`, userEmail,
	).Scan(&s.UserEmail, &state, &windowStart, &windowEnd, &s.InternalMessage, &s.InternalEnabled,
		&s.ExternalMessage, &s.ExternalEnabled, &audience, &repliedTo)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get oof: %w", err)
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
			return nil, fmt.Errorf("postgres: get oof: decode replied_to: %w", err)
		}
	}
	return &s, nil
}

func (d *DB) PutOOF(ctx context.Context, s *model.OOFSettings) error {
	repliedTo, err := json.Marshal(s.RepliedTo)
	if err != nil {
		return fmt.Errorf("postgres: put oof: encode replied_to: %w", err)
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO excore_oof_settings
			(user_email, state, window_start, window_end, internal_message, internal_enabled,
			 external_message, external_enabled, external_audience, replied_to)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_email) DO UPDATE SET
			state = EXCLUDED.state,
			window_start = EXCLUDED.window_start,
			window_end = EXCLUDED.window_end,
			internal_message = EXCLUDED.internal_message,
			internal_enabled = EXCLUDED.internal_enabled,
			external_message = EXCLUDED.external_message,
			external_enabled = EXCLUDED.external_enabled,
			external_audience = EXCLUDED.external_audience,
			replied_to = EXCLUDED.replied_to`,
		s.UserEmail, string(s.State), nullTime(s.WindowStart), nullTime(s.WindowEnd),
		s.InternalMessage, s.InternalEnabled, s.ExternalMessage, s.ExternalEnabled,
		string(s.ExternalAudience), string(repliedTo),
	)
	if err != nil {
		return fmt.Errorf("postgres: put oof: %w", err)
	}
	return nil
}
