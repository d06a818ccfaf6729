package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/exchangecore/excore/internal/store/model"
)

func (d *DB) GetDevice(ctx context.Context, userEmail, deviceID string) (*model.Device, error) {
	var dev model.Device
	var pendingExpiry sql.NullTime
	err := d.db.QueryRowContext(ctx, `
		SELECT user_email, device_id, device_type, user_agent, policy_key, is_provisioned,
		       pending_policy_key, pending_policy_expires_at, created_at, last_seen_at
		FROM excore_devices WHERE user_email = $1 AND device_id = $2`,
		userEmail, deviceID,
	).Scan(&dev.UserEmail, &dev.DeviceID, &dev.DeviceType, &dev.UserAgent, &dev.PolicyKey,
		&dev.IsProvisioned, &dev.PendingPolicyKey, &pendingExpiry, &dev.CreatedAt, &dev.LastSeenAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get device: %w", err)
	}
	if pendingExpiry.Valid {
		dev.PendingPolicyExpiresAt = pendingExpiry.Time
	}
	return &dev, nil
}

func (d *DB) UpsertDevice(ctx context.Context, dev *model.Device) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO excore_devices
			(user_email, device_id, device_type, user_agent, policy_key, is_provisioned,
			 pending_policy_key, pending_policy_expires_at, created_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		ON CONFLICT (user_email, device_id) DO UPDATE SET
			device_type = EXCLUDED.device_type,
			user_agent = EXCLUDED.user_agent,
			policy_key = EXCLUDED.policy_key,
			is_provisioned = EXCLUDED.is_provisioned,
			pending_policy_key = EXCLUDED.pending_policy_key,
			pending_policy_expires_at = EXCLUDED.pending_policy_expires_at,
			last_seen_at = now()`,
		dev.UserEmail, dev.DeviceID, dev.DeviceType, dev.UserAgent, dev.PolicyKey, dev.IsProvisioned,
		dev.PendingPolicyKey, nullTime(dev.PendingPolicyExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert device: %w", err)
	}
	return nil
}
