// Package store defines the persistence contracts the EAS engine consumes,
// per spec.md §4.7 and §3 ("Ownership"): the protocol engine owns sync
// state and device records; the mail store owns emails. Two backends
// (postgres, sqlite3) implement these interfaces, selected by the scheme
// of the configured connection string exactly as the teacher's
// storage.NewDatabase dispatches.
package store

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/exchangecore/excore/internal/store/model"
	"github.com/exchangecore/excore/internal/store/postgres"
	"github.com/exchangecore/excore/internal/store/sqlite3"
)

// MailStore is the consumed-only contract from spec.md §4.7.
type MailStore interface {
	// ListEmails returns up to limit emails for user in collectionID with
	// id > sinceID, ordered ascending by id.
	ListEmails(ctx context.Context, userEmail, collectionID string, sinceID int64, limit int) ([]model.Email, error)
	// FetchEmail returns the full email (including RawMIME) by id.
	FetchEmail(ctx context.Context, userEmail string, emailID int64) (*model.Email, error)
	// MarkRead sets the IsRead flag.
	MarkRead(ctx context.Context, userEmail string, emailID int64, read bool) error
	// Delete soft-deletes an email.
	Delete(ctx context.Context, userEmail string, emailID int64) error
	// Ingest persists a newly received message and returns its assigned id.
	// Callers (the SMTP bridge) must publish a ChangeEvent after this
	// returns successfully, per spec.md §4.7.
	Ingest(ctx context.Context, email *model.Email) (int64, error)
	// HighestEmailID returns the current max id for the user's mailbox
	// (0 if empty). The Sync handler does not call it: it detects
	// MoreAvailable by listing one email past the window.
	HighestEmailID(ctx context.Context, userEmail, collectionID string) (int64, error)
}

// UserStore authenticates and looks up users.
type UserStore interface {
	GetUser(ctx context.Context, email string) (*model.User, error)
}

// DeviceStore owns device records, per spec.md §3 "Ownership".
type DeviceStore interface {
	GetDevice(ctx context.Context, userEmail, deviceID string) (*model.Device, error)
	UpsertDevice(ctx context.Context, d *model.Device) error
}

// CollectionStore serves the static per-user folder hierarchy, spec.md §3.
type CollectionStore interface {
	ListCollections(ctx context.Context, userEmail string) ([]model.Collection, error)
	GetCollection(ctx context.Context, userEmail, collectionID string) (*model.Collection, error)
	EnsureDefaultHierarchy(ctx context.Context, userEmail string) error
}

// SyncStateStore persists the per-(user, device, collection) sync state
// row backing the in-process sharded map (spec.md §9 design note).
type SyncStateStore interface {
	GetSyncState(ctx context.Context, userEmail, deviceID, collectionID string) (*model.SyncState, error)
	PutSyncState(ctx context.Context, s *model.SyncState) error
}

// FolderSyncStore persists the folder hierarchy's own sync-key counter.
type FolderSyncStore interface {
	GetFolderSyncState(ctx context.Context, userEmail, deviceID string) (*model.FolderSyncState, error)
	PutFolderSyncState(ctx context.Context, s *model.FolderSyncState) error
}

// OOFStore persists per-user out-of-office settings.
type OOFStore interface {
	GetOOF(ctx context.Context, userEmail string) (*model.OOFSettings, error)
	PutOOF(ctx context.Context, o *model.OOFSettings) error
}

// Store aggregates every persistence contract the core needs; the two
// backends each implement this whole interface over a single *sql.DB.
type Store interface {
	MailStore
	UserStore
	DeviceStore
	CollectionStore
	SyncStateStore
	FolderSyncStore
	OOFStore
	Close() error
}

// Open dispatches on connectionString's URL scheme ("postgres://...",
// "sqlite://..." or a bare filesystem path) to the matching backend,
// mirroring the teacher's storage.NewDatabase dispatch-by-scheme pattern.
func Open(connectionString string, maxOpen, maxIdle int) (Store, error) {
	scheme := schemeOf(connectionString)
	switch scheme {
	case "postgres", "postgresql":
		return postgres.Open(connectionString, maxOpen, maxIdle)
	case "sqlite", "sqlite3", "file", "":
		return sqlite3.Open(connectionString, maxOpen, maxIdle)
	default:
		return nil, fmt.Errorf("store: unsupported connection scheme %q", scheme)
	}
}

func schemeOf(connectionString string) string {
	u, err := url.Parse(connectionString)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme)
}
