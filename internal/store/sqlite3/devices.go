package sqlite3

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/exchangecore/excore/internal/store/model"
)

func (d *DB) GetDevice(ctx context.Context, userEmail, deviceID string) (*model.Device, error) {
	var dev model.Device
	var pendingExpiry sql.NullTime
	err := d.db.QueryRowContext(ctx, `
		SELECT user_email, device_id, device_type, user_agent, policy_key, is_provisioned,
		       pending_policy_key, pending_policy_expires_at, created_at, last_seen_at
		FROM excore_devices WHERE user_email = ? AND device_id = ?`,
		userEmail, deviceID,
	).Scan(&dev.UserEmail, &dev.DeviceID, &dev.DeviceType, &dev.UserAgent, &dev.PolicyKey,
		&dev.IsProvisioned, &dev.PendingPolicyKey, &pendingExpiry, &dev.CreatedAt, &dev.LastSeenAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite3: get device: %w", err)
	}
	if pendingExpiry.Valid {
		dev.PendingPolicyExpiresAt = pendingExpiry.Time
	}
	return &dev, nil
}

// UpsertDevice inserts or updates dev. SQLite has no server-side now(), so
// timestamps are stamped in Go: created_at only on first insert (preserved
// via the DO UPDATE exclusion), last_seen_at on every call.
func (d *DB) UpsertDevice(ctx context.Context, dev *model.Device) error {
	now := time.Now().UTC()
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO excore_devices
			(user_email, device_id, device_type, user_agent, policy_key, is_provisioned,
			 pending_policy_key, pending_policy_expires_at, created_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_email, device_id) DO UPDATE SET
			device_type = excluded.device_type,
			user_agent = excluded.user_agent,
			policy_key = excluded.policy_key,
			is_provisioned = excluded.is_provisioned,
			pending_policy_key = excluded.pending_policy_key,
			pending_policy_expires_at = excluded.pending_policy_expires_at,
			last_seen_at = excluded.last_seen_at`,
		dev.UserEmail, dev.DeviceID, dev.DeviceType, dev.UserAgent, dev.PolicyKey, dev.IsProvisioned,
		dev.PendingPolicyKey, nullTime(dev.PendingPolicyExpiresAt), now, now,
	)
	if err != nil {
		return fmt.Errorf("sqlite3: upsert device: %w", err)
	}
	return nil
}
