package settings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/exchangecore/excore/internal/store/model"
	"github.com/exchangecore/excore/internal/wbxml"
)

type fakeOOFStore struct {
	settings *model.OOFSettings
}

func (f *fakeOOFStore) GetOOF(_ context.Context, _ string) (*model.OOFSettings, error) {
	return f.settings, nil
}

func (f *fakeOOFStore) PutOOF(_ context.Context, o *model.OOFSettings) error {
	cp := *o
	f.settings = &cp
	return nil
}

func TestSettingsGetDefaultsToDisabled(t *testing.T) {
	store := &fakeOOFStore{}
	codec := wbxml.NewCodec()
	h := NewHandler(store, codec)

	req := wbxml.NewBuilder(wbxml.PageSettings, "Settings").
		Elem(wbxml.PageSettings, "Oof").Empty(wbxml.PageSettings, "Get").End().Node()

	raw, err := h.Handle(context.Background(), "a@example.com", req)
	require.NoError(t, err)

	resp, err := wbxml.DecodeBytes(raw, codec, -1)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, resp.ChildText("Status"))
	require.Equal(t, "0", resp.Child("Oof").Child("Get").ChildText("OofState"))
}

func TestSettingsSetPersistsAndRoundTripsThroughGet(t *testing.T) {
	store := &fakeOOFStore{}
	codec := wbxml.NewCodec()
	h := NewHandler(store, codec)
	ctx := context.Background()

	setReq := wbxml.NewBuilder(wbxml.PageSettings, "Settings").
		Elem(wbxml.PageSettings, "Oof").
		Elem(wbxml.PageSettings, "Set").
		TextElem(wbxml.PageSettings, "OofState", "1").
		Elem(wbxml.PageSettings, "OofMessage").
		Empty(wbxml.PageSettings, "AppliesToInternal").
		TextElem(wbxml.PageSettings, "Enabled", "1").
		TextElem(wbxml.PageSettings, "ReplyMessage", "out until Monday").
		End().
		End().End().Node()

	raw, err := h.Handle(ctx, "a@example.com", setReq)
	require.NoError(t, err)

	resp, err := wbxml.DecodeBytes(raw, codec, -1)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, resp.ChildText("Status"))

	require.NotNil(t, store.settings)
	require.Equal(t, model.OOFEnabled, store.settings.State)
	require.True(t, store.settings.InternalEnabled)
	require.Equal(t, "out until Monday", store.settings.InternalMessage)

	getReq := wbxml.NewBuilder(wbxml.PageSettings, "Settings").
		Elem(wbxml.PageSettings, "Oof").Empty(wbxml.PageSettings, "Get").End().Node()
	raw, err = h.Handle(ctx, "a@example.com", getReq)
	require.NoError(t, err)
	resp, err = wbxml.DecodeBytes(raw, codec, -1)
	require.NoError(t, err)
	require.Equal(t, "1", resp.Child("Oof").Child("Get").ChildText("OofState"))
}

func TestSettingsDeviceInformationReturnsBareStatus(t *testing.T) {
	store := &fakeOOFStore{}
	h := NewHandler(store, wbxml.NewCodec())

	req := wbxml.NewBuilder(wbxml.PageSettings, "Settings").
		Empty(wbxml.PageSettings, "DeviceInformation").Node()

	raw, err := h.Handle(context.Background(), "a@example.com", req)
	require.NoError(t, err)

	resp, err := wbxml.DecodeBytes(raw, h.Codec, -1)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, resp.ChildText("Status"))
}

func TestOofStateCodeRoundTrip(t *testing.T) {
	require.Equal(t, model.OOFEnabled, parseOofState(oofStateCode(model.OOFEnabled)))
	require.Equal(t, model.OOFScheduled, parseOofState(oofStateCode(model.OOFScheduled)))
	require.Equal(t, model.OOFDisabled, parseOofState(oofStateCode(model.OOFDisabled)))
}
