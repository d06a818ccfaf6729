// Package sync implements the per-(user, device, collection) Sync state
// machine (spec.md §4.2) as a sharded in-process map, each shard guarded by
// its own channel-based mutex to bound lock contention across unrelated
// triples. State reaches durable storage only through Commit, which writes
// the row synchronously; there is no periodic flush. Grounded on the
// teacher's sharded-cache shape used
// throughout its room state caches (a fixed-size array of mutex-guarded
// maps keyed by a hash of the lookup key).
package sync

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/exchangecore/excore/internal/store"
	"github.com/exchangecore/excore/internal/store/model"
)

const shardCount = 64

// Key identifies one sync state triple.
type Key struct {
	UserEmail    string
	DeviceID     string
	CollectionID string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.UserEmail, k.DeviceID, k.CollectionID)
}

func (k Key) shard() uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k.String()))
	return h.Sum32() % shardCount
}

// Outcome is the result of applying an incoming client_key to the state
// machine, per spec.md §4.2's numbered algorithm.
type Outcome int

const (
	// OutcomeResend: client_key == cur_key and a pending batch exists;
	// caller MUST return the cached bytes verbatim without rebuilding.
	OutcomeResend Outcome = iota
	// OutcomeBuildBatch: caller should select new emails and build a batch
	// (covers initial sync and post-ACK).
	OutcomeBuildBatch
	// OutcomeInvalidKey: client_key matches neither cur_key, next_key, nor
	// "0"; caller returns Status=3 without mutating state.
	OutcomeInvalidKey
)

// Manager owns the in-process shard map and the durable SyncStateStore
// behind it.
type Manager struct {
	shards [shardCount]shard
	store  store.SyncStateStore
}

type shard struct {
	mu     chan struct{} // 1-buffered channel used as a cancellable mutex
	states map[Key]*model.SyncState
}

func NewManager(s store.SyncStateStore) *Manager {
	m := &Manager{store: s}
	for i := range m.shards {
		m.shards[i].mu = make(chan struct{}, 1)
		m.shards[i].states = make(map[Key]*model.SyncState)
	}
	return m
}

func (m *Manager) lock(ctx context.Context, k Key) (*shard, error) {
	sh := &m.shards[k.shard()]
	select {
	case sh.mu <- struct{}{}:
		return sh, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (sh *shard) unlock() {
	<-sh.mu
}

// load returns the in-memory state for k, falling back to the durable store
// and seeding a fresh row if none exists yet. Callers must hold k's shard
// lock.
func (m *Manager) load(ctx context.Context, k Key) (*model.SyncState, error) {
	if s, ok := m.shards[k.shard()].states[k]; ok {
		return s, nil
	}
	s, err := m.store.GetSyncState(ctx, k.UserEmail, k.DeviceID, k.CollectionID)
	if err != nil {
		return nil, fmt.Errorf("sync: load state: %w", err)
	}
	if s == nil {
		s = &model.SyncState{
			UserEmail:    k.UserEmail,
			DeviceID:     k.DeviceID,
			CollectionID: k.CollectionID,
			CurKey:       "0",
			NextKey:      "1",
		}
	}
	m.shards[k.shard()].states[k] = s
	return s, nil
}

// Advance decides the Outcome for an incoming client_key and, for
// OutcomeBuildBatch arising from an ACK, performs the commit step (step 3)
// before returning — the caller still owns building and persisting the new
// batch via Commit. Advance does not release the per-triple lock; callers
// MUST call the returned release function exactly once.
func (m *Manager) Advance(ctx context.Context, k Key, clientKey string) (outcome Outcome, st *model.SyncState, release func(), err error) {
	sh, err := m.lock(ctx, k)
	if err != nil {
		return 0, nil, func() {}, err
	}
	release = sh.unlock

	s, err := m.load(ctx, k)
	if err != nil {
		release()
		return 0, nil, func() {}, err
	}

	switch {
	case clientKey == "0":
		if s.CurKey != "0" {
			s.CurKey = "0"
			s.NextKey = "1"
			s.HasPending = false
			s.PendingBytes = nil
			s.PendingEmailIDs = nil
			s.Cursor = 0
		}
		return OutcomeBuildBatch, s, release, nil

	case s.HasPending && clientKey == s.CurKey:
		return OutcomeResend, s, release, nil

	case clientKey == s.NextKey:
		// ACK: commit the previously pending batch (step 3).
		s.Cursor = s.MaxPendingEmailID
		s.CurKey = s.NextKey
		s.NextKey = advance(s.CurKey)
		s.HasPending = false
		s.PendingBytes = nil
		s.PendingEmailIDs = nil
		return OutcomeBuildBatch, s, release, nil

	case clientKey == s.CurKey:
		// cur_key with no pending batch: steady-state resync, rebuild.
		return OutcomeBuildBatch, s, release, nil

	default:
		return OutcomeInvalidKey, s, release, nil
	}
}

// Commit records a newly built batch as pending and flushes it to durable
// storage synchronously, before the caller writes the response — preserving
// two-phase-commit fidelity across restarts per spec.md §9. Callers must
// still hold the lock acquired by Advance (release not yet called).
func (m *Manager) Commit(ctx context.Context, k Key, s *model.SyncState, bytes []byte, coveredIDs []int64, maxID int64) error {
	s.PendingBytes = bytes
	s.PendingEmailIDs = coveredIDs
	s.MaxPendingEmailID = maxID
	s.HasPending = true
	if err := m.store.PutSyncState(ctx, s); err != nil {
		return fmt.Errorf("sync: commit state: %w", err)
	}
	return nil
}

// advance implements the decimal-integer-string +1 rule from spec.md §4.2.
func advance(key string) string {
	var n int64
	_, err := fmt.Sscanf(key, "%d", &n)
	if err != nil {
		return "1"
	}
	return fmt.Sprintf("%d", n+1)
}
