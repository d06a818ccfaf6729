package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/exchangecore/excore/internal/store/model"
)

func (d *DB) GetFolderSyncState(ctx context.Context, userEmail, deviceID string) (*model.FolderSyncState, error) {
	var s model.FolderSyncState
	err := d.db.QueryRowContext(ctx, `
		SELECT user_email, device_id, sync_key
		FROM excore_folder_sync_state WHERE user_email = $1 AND device_id = $2`,
		userEmail, deviceID,
	).Scan(&s.UserEmail, &s.DeviceID, &s.SyncKey)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get folder sync state: %w", err)
	}
	return &s, nil
}

func (d *DB) PutFolderSyncState(ctx context.Context, s *model.FolderSyncState) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO excore_folder_sync_state (user_email, device_id, sync_key)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_email, device_id) DO UPDATE SET sync_key = EXCLUDED.sync_key`,
		s.UserEmail, s.DeviceID, s.SyncKey,
	)
	if err != nil {
		return fmt.Errorf("postgres: put folder sync state: %w", err)
	}
	return nil
}
