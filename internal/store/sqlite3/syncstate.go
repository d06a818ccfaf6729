package sqlite3

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
		FROM excore_sync_state WHERE user_email = ? AND device_id = ? AND collection_id = ?`,
		userEmail, deviceID, collectionID,
	).Scan(&s.UserEmail, &s.DeviceID, &s.CollectionID, &s.CurKey, &s.NextKey, &s.Cursor,
		&s.MaxPendingEmailID, &pendingBytes, &pendingIDs, &s.PendingNextKey, &hasPending)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite3: get sync state: %w", err)
	}
	s.PendingBytes = pendingBytes
	s.PendingEmailIDs = decodeIDs(pendingIDs.String)
	s.HasPending = hasPending
	return &s, nil
}

func (d *DB) PutSyncState(ctx context.Context, s *model.SyncState) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO excore_sync_state
			(user_email, device_id, collection_id, cur_key, next_key, cursor,
			 max_pending_email_id, pending_bytes, pending_email_ids, pending_next_key, has_pending)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_email, device_id, collection_id) DO UPDATE SET
			cur_key = excluded.cur_key,
			next_key = excluded.next_key,
			cursor = excluded.cursor,
			max_pending_email_id = excluded.max_pending_email_id,
			pending_bytes = excluded.pending_bytes,
			pending_email_ids = excluded.pending_email_ids,
			pending_next_key = excluded.pending_next_key,
			has_pending = excluded.has_pending`,
		s.UserEmail, s.DeviceID, s.CollectionID, s.CurKey, s.NextKey, s.Cursor,
		s.MaxPendingEmailID, s.PendingBytes, encodeIDs(s.PendingEmailIDs), s.PendingNextKey, s.HasPending,
	)
	if err != nil {
		return fmt.Errorf("sqlite3: put sync state: %w", err)
	}
	return nil
}
