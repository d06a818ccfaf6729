// Package model defines the data types shared by every store backend,
// grounded on the flat, tag-free value types the teacher's userapi/api
// package uses for cross-layer results (api.UserResult, api.Device).
package model

import "time"

// User is a mailbox owner, identified by email address.
type User struct {
	Email        string
	PasswordHash string
	Active       bool
}

// Device is a unique (user, device_id) registration. PolicyKey == 0 means
// not provisioned, per spec.md §3 invariants.
type Device struct {
	UserEmail              string
	DeviceID               string
	DeviceType             string
	UserAgent              string
	PolicyKey              uint32
	IsProvisioned          bool
	PendingPolicyKey       uint32
	PendingPolicyExpiresAt time.Time
	CreatedAt              time.Time
	LastSeenAt             time.Time
}

// CollectionClass names the MS-ASCMD folder class.
type CollectionClass string

const (
	ClassEmail    CollectionClass = "Email"
	ClassCalendar CollectionClass = "Calendar"
	ClassContacts CollectionClass = "Contacts"
	ClassTasks    CollectionClass = "Tasks"
	ClassNotes    CollectionClass = "Notes"
)

// Collection is a named server folder belonging to a user.
type Collection struct {
	UserEmail    string
	CollectionID string
	ParentID     string // "0" for top-level
	DisplayName  string
	Class        CollectionClass
}

// MessageClassNote is the default MS-ASEMAIL message class; appointments,
// meeting requests and contacts are out of scope per spec.md §1 Non-goals.
const MessageClassNote = "IPM.Note"

// Email is an immutable (except IsRead) message belonging to a user's
// mailbox.
type Email struct {
	ID            int64
	UserEmail     string
	CollectionID  string
	Subject       string
	From          string
	To            string
	DateReceived  time.Time
	IsRead        bool
	MessageClass  string
	RawMIME       []byte
	BodyPlain     string
	BodyHTML      string
	Deleted       bool
}

// OOFState is the out-of-office state.
type OOFState string

const (
	OOFDisabled  OOFState = "Disabled"
	OOFEnabled   OOFState = "Enabled"
	OOFScheduled OOFState = "Scheduled"
)

// ExternalAudience names who receives the external OOF reply.
type ExternalAudience string

const (
	AudienceNone  ExternalAudience = "None"
	AudienceKnown ExternalAudience = "Known"
	AudienceAll   ExternalAudience = "All"
)

// OOFSettings is the per-user out-of-office configuration.
type OOFSettings struct {
	UserEmail        string
	State            OOFState
	WindowStart      time.Time
	WindowEnd        time.Time
	InternalMessage  string
	InternalEnabled  bool
	ExternalMessage  string
	ExternalEnabled  bool
	ExternalAudience ExternalAudience
	// RepliedTo suppresses duplicate external replies within a window.
	RepliedTo map[string]time.Time
}

// SyncState is the per-(user, device, collection) sync cursor and pending
// two-phase-commit batch, per spec.md §3.
type SyncState struct {
	UserEmail         string
	DeviceID          string
	CollectionID      string
	CurKey            string
	NextKey           string
	Cursor            int64
	MaxPendingEmailID int64
	PendingBytes      []byte
	PendingEmailIDs   []int64
	PendingNextKey    string
	HasPending        bool
}

// FolderSyncState tracks the folder-hierarchy sync key counter, per
// spec.md §4.6.
type FolderSyncState struct {
	UserEmail string
	DeviceID  string
	SyncKey   int
}

// ChangeEvent is published on the change bus whenever a collection's
// contents change (new mail, deletion, flag change), per spec.md §4.7
// subscribe_changes.
type ChangeEvent struct {
	UserEmail    string
	CollectionID string
}
