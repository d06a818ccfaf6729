package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/exchangecore/excore/internal/store/model"
)

func (d *DB) GetSyncState(ctx context.Context, userEmail, deviceID, collectionID string) (*model.SyncState, error) {
	var s model.SyncState
	var pendingBytes []byte
	var pendingIDs sql.NullString
	var hasPending bool
	err := d.db.QueryRowContext(ctx, `
		SELECT user_email, device_id, collection_id, cur_key, next_key, cursor,
		       max_pending_email_id, pending_bytes, pending_email_ids, pending_next_key, has_pending
		FROM excore_sync_state WHERE user_email = $1 AND device_id = $2 AND collection_id = $3`,
		userEmail, deviceID, collectionID,
	).Scan(&s.UserEmail, &s.DeviceID, &s.CollectionID, &s.CurKey, &s.NextKey, &s.Cursor,
		&s.MaxPendingEmailID, &pendingBytes, &pendingIDs, &s.PendingNextKey, &hasPending)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get sync state: %w", err)
	}
	s.PendingBytes = pendingBytes
	s.PendingEmailIDs = decodeIDs(pendingIDs.String)
	s.HasPending = hasPending
	return &s, nil
}

// PutSyncState performs an unconditional upsert of the full state; callers
// serialize access per (user, device, collection) before calling this, per
// spec.md §5's sharded-mutex design note.
func (d *DB) PutSyncState(ctx context.Context, s *model.SyncState) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO excore_sync_state
			(user_email, device_id, collection_id, cur_key, next_key, cursor,
			 max_pending_email_id, pending_bytes, pending_email_ids, pending_next_key, has_pending)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_email, device_id, collection_id) DO UPDATE SET
			cur_key = EXCLUDED.cur_key,
			next_key = EXCLUDED.next_key,
			cursor = EXCLUDED.cursor,
			max_pending_email_id = EXCLUDED.max_pending_email_id,
			pending_bytes = EXCLUDED.pending_bytes,
			pending_email_ids = EXCLUDED.pending_email_ids,
			pending_next_key = EXCLUDED.pending_next_key,
			has_pending = EXCLUDED.has_pending`,
		s.UserEmail, s.DeviceID, s.CollectionID, s.CurKey, s.NextKey, s.Cursor,
		s.MaxPendingEmailID, s.PendingBytes, encodeIDs(s.PendingEmailIDs), s.PendingNextKey, s.HasPending,
	)
	if err != nil {
		return fmt.Errorf("postgres: put sync state: %w", err)
	}
	return nil
}
