// Package deviceapi owns the device record lifecycle: creation on first
// authenticated request and a last-seen touch on every subsequent one,
// split from storage the way the teacher splits userapi's device API from
// userapi/storage (an api-level struct over the raw store interface,
// rather than handlers touching the store directly).
package deviceapi

import (
	"context"
	"fmt"
	"time"

	"github.com/exchangecore/excore/internal/store"
	"github.com/exchangecore/excore/internal/store/model"
)

type API struct {
	Devices store.DeviceStore
}

func NewAPI(devices store.DeviceStore) *API {
	return &API{Devices: devices}
}

// Touch loads the device record for (userEmail, deviceID), creating it on
// first contact, and stamps LastSeenAt. deviceType/userAgent are refreshed
// every call since a client may change its reported values across app
// updates.
func (a *API) Touch(ctx context.Context, userEmail, deviceID, deviceType, userAgent string) (*model.Device, error) {
	dev, err := a.Devices.GetDevice(ctx, userEmail, deviceID)
	if err != nil {
		return nil, fmt.Errorf("deviceapi: get device: %w", err)
	}
	if dev == nil {
		dev = &model.Device{
			UserEmail: userEmail,
			DeviceID:  deviceID,
		}
	}
	dev.DeviceType = deviceType
	dev.UserAgent = userAgent
	dev.LastSeenAt = time.Now().UTC()

	if err := a.Devices.UpsertDevice(ctx, dev); err != nil {
		return nil, fmt.Errorf("deviceapi: upsert device: %w", err)
	}
	return dev, nil
}
