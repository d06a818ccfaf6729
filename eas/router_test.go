package eas

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/exchangecore/excore/eas/autodiscover"
	"github.com/exchangecore/excore/internal/auth"
	"github.com/exchangecore/excore/internal/changebus"
	"github.com/exchangecore/excore/internal/deviceapi"
	"github.com/exchangecore/excore/internal/httputil"
	"github.com/exchangecore/excore/internal/store/model"
	"github.com/exchangecore/excore/internal/wbxml"
)

// fakeStore implements the full store.Store interface in-memory.
type fakeStore struct {
	users       map[string]*model.User
	devices     map[string]*model.Device
	collections map[string][]model.Collection
	emails      map[string][]model.Email
	syncStates  map[string]*model.SyncState
	folderSync  map[string]*model.FolderSyncState
	oof         map[string]*model.OOFSettings
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       make(map[string]*model.User),
		devices:     make(map[string]*model.Device),
		collections: make(map[string][]model.Collection),
		emails:      make(map[string][]model.Email),
		syncStates:  make(map[string]*model.SyncState),
		folderSync:  make(map[string]*model.FolderSyncState),
		oof:         make(map[string]*model.OOFSettings),
	}
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) GetUser(_ context.Context, email string) (*model.User, error) {
	return f.users[email], nil
}

func (f *fakeStore) GetDevice(_ context.Context, userEmail, deviceID string) (*model.Device, error) {
	if d, ok := f.devices[userEmail+"/"+deviceID]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) UpsertDevice(_ context.Context, d *model.Device) error {
	cp := *d
	f.devices[d.UserEmail+"/"+d.DeviceID] = &cp
	return nil
}

func (f *fakeStore) ListCollections(_ context.Context, userEmail string) ([]model.Collection, error) {
	return f.collections[userEmail], nil
}

func (f *fakeStore) GetCollection(_ context.Context, userEmail, collectionID string) (*model.Collection, error) {
	for _, c := range f.collections[userEmail] {
		if c.CollectionID == collectionID {
			return &c, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) EnsureDefaultHierarchy(_ context.Context, userEmail string) error {
	if len(f.collections[userEmail]) == 0 {
		f.collections[userEmail] = []model.Collection{
			{UserEmail: userEmail, CollectionID: "1", ParentID: "0", DisplayName: "Inbox", Class: model.ClassEmail},
		}
	}
	return nil
}

func (f *fakeStore) GetSyncState(_ context.Context, userEmail, deviceID, collectionID string) (*model.SyncState, error) {
	if s, ok := f.syncStates[userEmail+"/"+deviceID+"/"+collectionID]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) PutSyncState(_ context.Context, s *model.SyncState) error {
	cp := *s
	f.syncStates[s.UserEmail+"/"+s.DeviceID+"/"+s.CollectionID] = &cp
	return nil
}

func (f *fakeStore) GetFolderSyncState(_ context.Context, userEmail, deviceID string) (*model.FolderSyncState, error) {
	return f.folderSync[userEmail+"/"+deviceID], nil
}

func (f *fakeStore) PutFolderSyncState(_ context.Context, s *model.FolderSyncState) error {
	cp := *s
	f.folderSync[s.UserEmail+"/"+s.DeviceID] = &cp
	return nil
}

func (f *fakeStore) GetOOF(_ context.Context, userEmail string) (*model.OOFSettings, error) {
	return f.oof[userEmail], nil
}

func (f *fakeStore) PutOOF(_ context.Context, o *model.OOFSettings) error {
	cp := *o
	f.oof[o.UserEmail] = &cp
	return nil
}

func (f *fakeStore) ListEmails(_ context.Context, userEmail, collectionID string, sinceID int64, limit int) ([]model.Email, error) {
	var out []model.Email
	for _, e := range f.emails[userEmail+"/"+collectionID] {
		if e.ID > sinceID {
			out = append(out, e)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) FetchEmail(_ context.Context, userEmail string, emailID int64) (*model.Email, error) {
	for _, emails := range f.emails {
		for _, e := range emails {
			if e.UserEmail == userEmail && e.ID == emailID {
				cp := e
				return &cp, nil
			}
		}
	}
	return nil, nil
}

func (f *fakeStore) MarkRead(_ context.Context, _ string, _ int64, _ bool) error { return nil }
func (f *fakeStore) Delete(_ context.Context, _ string, _ int64) error          { return nil }

func (f *fakeStore) Ingest(_ context.Context, e *model.Email) (int64, error) {
	key := e.UserEmail + "/" + e.CollectionID
	e.ID = int64(len(f.emails[key]) + 1)
	f.emails[key] = append(f.emails[key], *e)
	return e.ID, nil
}

func (f *fakeStore) HighestEmailID(_ context.Context, userEmail, collectionID string) (int64, error) {
	emails := f.emails[userEmail+"/"+collectionID]
	if len(emails) == 0 {
		return 0, nil
	}
	return emails[len(emails)-1].ID, nil
}

func newTestServer(t *testing.T, fs *fakeStore) *Server {
	t.Helper()
	bus, err := changebus.Start()
	require.NoError(t, err)
	t.Cleanup(bus.Close)

	return NewServer(Deps{
		Store:          fs,
		Bus:            bus,
		Codec:          wbxml.NewCodec(),
		Auth:           auth.NewAuthenticator(fs),
		Devices:        deviceapi.NewAPI(fs),
		RateLimiter:    httputil.NewRateLimiter(httputil.RateLimitConfig{Enabled: false}),
		Autodiscover:   autodiscover.Config{HostName: "mail.example.com"},
		RequestTimeout: 0,
	})
}

func provisionedUser(t *testing.T, fs *fakeStore, email, password, deviceID string) {
	t.Helper()
	hash, err := auth.HashPassword(password)
	require.NoError(t, err)
	fs.users[email] = &model.User{Email: email, PasswordHash: hash, Active: true}
	fs.devices[email+"/"+deviceID] = &model.Device{UserEmail: email, DeviceID: deviceID, PolicyKey: 42, IsProvisioned: true}
}

func TestOptionsBypassesGateAndReturnsAdvertisementHeaders(t *testing.T) {
	fs := newFakeStore()
	hash, err := auth.HashPassword("s3cret")
	require.NoError(t, err)
	fs.users["a@example.com"] = &model.User{Email: "a@example.com", PasswordHash: hash, Active: true}
	srv := newTestServer(t, fs)

	req := httptest.NewRequest(http.MethodPost, "/Microsoft-Server-ActiveSync?Cmd=Options", nil)
	req.SetBasicAuth("a@example.com", "s3cret")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Header().Get("MS-ASProtocolVersions"))
}

func TestCommandWithoutAuthReturns401(t *testing.T) {
	fs := newFakeStore()
	srv := newTestServer(t, fs)

	req := httptest.NewRequest(http.MethodPost, "/Microsoft-Server-ActiveSync?Cmd=FolderSync&DeviceId=dev1&DeviceType=iPhone", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Header().Get("WWW-Authenticate"), "Basic")
}

func TestCommandWithoutProvisioningReturns449WithProvisionBody(t *testing.T) {
	fs := newFakeStore()
	hash, err := auth.HashPassword("s3cret")
	require.NoError(t, err)
	fs.users["a@example.com"] = &model.User{Email: "a@example.com", PasswordHash: hash, Active: true}
	srv := newTestServer(t, fs)

	req := httptest.NewRequest(http.MethodPost, "/Microsoft-Server-ActiveSync?Cmd=FolderSync&DeviceId=dev1&DeviceType=iPhone", nil)
	req.SetBasicAuth("a@example.com", "s3cret")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, 449, w.Code)
	require.Equal(t, "application/vnd.ms-sync.wbxml", w.Header().Get("Content-Type"))
	require.NotZero(t, w.Body.Len())

	resp, err := wbxml.DecodeBytes(w.Body.Bytes(), wbxml.NewCodec(), -1)
	require.NoError(t, err)
	require.Equal(t, "Provision", resp.Name)
	require.Equal(t, "3", resp.ChildText("Status"))
}

func TestFolderSyncEndToEndReturnsInboxHierarchy(t *testing.T) {
	fs := newFakeStore()
	provisionedUser(t, fs, "a@example.com", "s3cret", "dev1")
	srv := newTestServer(t, fs)

	req := httptest.NewRequest(http.MethodPost, "/Microsoft-Server-ActiveSync?Cmd=FolderSync&DeviceId=dev1&DeviceType=iPhone", nil)
	req.SetBasicAuth("a@example.com", "s3cret")
	req.Header.Set("X-Ms-Policykey", "42")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/vnd.ms-sync.wbxml", w.Header().Get("Content-Type"))
	require.NotZero(t, w.Body.Len())
}

func TestProvisionCommandBypassesGate(t *testing.T) {
	fs := newFakeStore()
	hash, err := auth.HashPassword("s3cret")
	require.NoError(t, err)
	fs.users["a@example.com"] = &model.User{Email: "a@example.com", PasswordHash: hash, Active: true}
	srv := newTestServer(t, fs)

	body, err := wbxml.EncodeBytes(
		wbxml.NewBuilder(wbxml.PageProvision, "Provision").
			Elem(wbxml.PageProvision, "Policies").Elem(wbxml.PageProvision, "Policy").End().End().Node(),
		wbxml.NewCodec(),
	)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/Microsoft-Server-ActiveSync?Cmd=Provision&DeviceId=dev1&DeviceType=iPhone", strings.NewReader(string(body)))
	req.SetBasicAuth("a@example.com", "s3cret")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestPingSurvivesRequestTimeoutShorterThanHeartbeat(t *testing.T) {
	fs := newFakeStore()
	provisionedUser(t, fs, "a@example.com", "s3cret", "dev1")
	bus, err := changebus.Start()
	require.NoError(t, err)
	t.Cleanup(bus.Close)

	// RequestTimeout is far shorter than the requested heartbeat; if Ping
	// inherited it as an outer deadline the response would be silently
	// dropped well before the change below is published.
	srv := NewServer(Deps{
		Store:          fs,
		Bus:            bus,
		Codec:          wbxml.NewCodec(),
		Auth:           auth.NewAuthenticator(fs),
		Devices:        deviceapi.NewAPI(fs),
		RateLimiter:    httputil.NewRateLimiter(httputil.RateLimitConfig{Enabled: false}),
		Autodiscover:   autodiscover.Config{HostName: "mail.example.com"},
		RequestTimeout: time.Millisecond,
	})

	body, err := wbxml.EncodeBytes(
		wbxml.NewBuilder(wbxml.PagePing, "Ping").
			TextElem(wbxml.PagePing, "HeartbeatInterval", "60").
			Elem(wbxml.PagePing, "Folders").
			Elem(wbxml.PagePing, "Folder").
			TextElem(wbxml.PagePing, "ServerId", "1").
			TextElem(wbxml.PagePing, "FolderType", "2").
			End().End().Node(),
		wbxml.NewCodec(),
	)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/Microsoft-Server-ActiveSync?Cmd=Ping&DeviceId=dev1&DeviceType=iPhone", strings.NewReader(string(body)))
	req.SetBasicAuth("a@example.com", "s3cret")
	req.Header.Set("X-Ms-Policykey", "42")

	respCh := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		w := httptest.NewRecorder()
		srv.Router().ServeHTTP(w, req)
		respCh <- w
	}()

	time.Sleep(50 * time.Millisecond)
	bus.Publish(model.ChangeEvent{UserEmail: "a@example.com", CollectionID: "1"})

	select {
	case w := <-respCh:
		require.Equal(t, http.StatusOK, w.Code)
		require.NotZero(t, w.Body.Len())
		resp, err := wbxml.DecodeBytes(w.Body.Bytes(), wbxml.NewCodec(), -1)
		require.NoError(t, err)
		require.Equal(t, "2", resp.ChildText("Status")) // StatusChanged
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ping response")
	}
}

func TestAutodiscoverJSONReturnsActiveSyncURL(t *testing.T) {
	fs := newFakeStore()
	srv := newTestServer(t, fs)

	req := httptest.NewRequest(http.MethodGet, "/autodiscover/autodiscover.json/v1.0/a@example.com", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "ActiveSync")
}

func TestUnimplementedCommandReturns501(t *testing.T) {
	fs := newFakeStore()
	provisionedUser(t, fs, "a@example.com", "s3cret", "dev1")
	srv := newTestServer(t, fs)

	req := httptest.NewRequest(http.MethodPost, "/Microsoft-Server-ActiveSync?Cmd=SendMail&DeviceId=dev1&DeviceType=iPhone", nil)
	req.SetBasicAuth("a@example.com", "s3cret")
	req.Header.Set("X-Ms-Policykey", "42")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusNotImplemented, w.Code)
}
