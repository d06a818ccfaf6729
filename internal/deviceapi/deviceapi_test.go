package deviceapi

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/exchangecore/excore/internal/store/model"
)

type fakeDeviceStore struct {
	devices map[string]*model.Device
	puts    int
}

func newFakeDeviceStore() *fakeDeviceStore {
	return &fakeDeviceStore{devices: make(map[string]*model.Device)}
}

func (f *fakeDeviceStore) key(userEmail, deviceID string) string { return userEmail + "/" + deviceID }

func (f *fakeDeviceStore) GetDevice(_ context.Context, userEmail, deviceID string) (*model.Device, error) {
	if d, ok := f.devices[f.key(userEmail, deviceID)]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeDeviceStore) UpsertDevice(_ context.Context, d *model.Device) error {
	cp := *d
	f.devices[f.key(d.UserEmail, d.DeviceID)] = &cp
	f.puts++
	return nil
}

func TestTouchCreatesDeviceOnFirstContact(t *testing.T) {
	store := newFakeDeviceStore()
	api := NewAPI(store)

	dev, err := api.Touch(context.Background(), "a@example.com", "dev1", "iPhone", "Apple-iPhone/1902.1")
	require.NoError(t, err)
	require.Equal(t, "a@example.com", dev.UserEmail)
	require.Equal(t, "dev1", dev.DeviceID)
	require.Equal(t, "iPhone", dev.DeviceType)
	require.False(t, dev.LastSeenAt.IsZero())
	require.Equal(t, 1, store.puts)
}

func TestTouchUpdatesExistingDeviceMetadata(t *testing.T) {
	store := newFakeDeviceStore()
	api := NewAPI(store)
	ctx := context.Background()

	_, err := api.Touch(ctx, "a@example.com", "dev1", "iPhone", "Apple-iPhone/1902.1")
	require.NoError(t, err)
	first := store.devices["a@example.com/dev1"].LastSeenAt

	dev, err := api.Touch(ctx, "a@example.com", "dev1", "iPhone", "Apple-iPhone/2104.5")
	require.NoError(t, err)
	require.Equal(t, "Apple-iPhone/2104.5", dev.UserAgent)
	require.True(t, dev.LastSeenAt.Equal(first) || dev.LastSeenAt.After(first))
	require.Equal(t, 2, store.puts)
}
