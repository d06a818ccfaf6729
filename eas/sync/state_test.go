package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/exchangecore/excore/internal/store/model"
)

type fakeStateStore struct {
	rows map[string]*model.SyncState
	puts int
}

func newFakeStateStore() *fakeStateStore {
	return &fakeStateStore{rows: make(map[string]*model.SyncState)}
}

func (f *fakeStateStore) GetSyncState(_ context.Context, userEmail, deviceID, collectionID string) (*model.SyncState, error) {
	k := Key{userEmail, deviceID, collectionID}.String()
	if s, ok := f.rows[k]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStateStore) PutSyncState(_ context.Context, s *model.SyncState) error {
	k := Key{s.UserEmail, s.DeviceID, s.CollectionID}.String()
	cp := *s
	f.rows[k] = &cp
	f.puts++
	return nil
}

func TestAdvanceInitialSyncBuildsBatch(t *testing.T) {
	store := newFakeStateStore()
	m := NewManager(store)
	k := Key{UserEmail: "a@example.com", DeviceID: "dev1", CollectionID: "1"}

	outcome, st, release, err := m.Advance(context.Background(), k, "0")
	defer release()

	require.NoError(t, err)
	require.Equal(t, OutcomeBuildBatch, outcome)
	require.Equal(t, "0", st.CurKey)
	require.Equal(t, "1", st.NextKey)
}

func TestAdvanceResendsPendingBatchOnRetry(t *testing.T) {
	store := newFakeStateStore()
	m := NewManager(store)
	k := Key{UserEmail: "a@example.com", DeviceID: "dev1", CollectionID: "1"}
	ctx := context.Background()

	// Initial sync: client_key "0" always rebuilds, establishing next_key "1".
	outcome, st, release, err := m.Advance(ctx, k, "0")
	require.NoError(t, err)
	require.Equal(t, OutcomeBuildBatch, outcome)
	require.NoError(t, m.Commit(ctx, k, st, []byte("initial-batch"), nil, 0))
	release()

	// Client ACKs with next_key "1": commits the initial batch and builds batch B.
	outcome, st, release, err = m.Advance(ctx, k, "1")
	require.NoError(t, err)
	require.Equal(t, OutcomeBuildBatch, outcome)
	require.NoError(t, m.Commit(ctx, k, st, []byte("batch-b"), []int64{1, 2}, 2))
	release()

	// Client resends cur_key ("1") before ACKing batch B: must replay cached bytes.
	outcome, st, release, err = m.Advance(ctx, k, "1")
	defer release()
	require.NoError(t, err)
	require.Equal(t, OutcomeResend, outcome)
	require.Equal(t, []byte("batch-b"), st.PendingBytes)
}

func TestAdvanceCommitsOnAck(t *testing.T) {
	store := newFakeStateStore()
	m := NewManager(store)
	k := Key{UserEmail: "a@example.com", DeviceID: "dev1", CollectionID: "1"}
	ctx := context.Background()

	_, st, release, err := m.Advance(ctx, k, "0")
	require.NoError(t, err)
	require.NoError(t, m.Commit(ctx, k, st, []byte("batch-bytes"), []int64{1, 2}, 2))
	release()

	// Client ACKs by presenting next_key ("1"): state commits and advances.
	outcome, st, release, err := m.Advance(ctx, k, "1")
	defer release()
	require.NoError(t, err)
	require.Equal(t, OutcomeBuildBatch, outcome)
	require.Equal(t, "1", st.CurKey)
	require.Equal(t, "2", st.NextKey)
	require.False(t, st.HasPending)
	require.Equal(t, int64(2), st.Cursor)
}

func TestAdvanceRebuildsOnCurKeyWithNoPending(t *testing.T) {
	store := newFakeStateStore()
	m := NewManager(store)
	k := Key{UserEmail: "a@example.com", DeviceID: "dev1", CollectionID: "1"}
	ctx := context.Background()

	_, st, release, err := m.Advance(ctx, k, "0")
	require.NoError(t, err)
	require.NoError(t, m.Commit(ctx, k, st, []byte("batch-bytes"), []int64{1, 2}, 2))
	release()

	_, st, release, err = m.Advance(ctx, k, "1")
	require.NoError(t, err)
	release()

	// Steady state: client presents cur_key again with nothing pending.
	outcome, _, release, err := m.Advance(ctx, k, "1")
	defer release()
	require.NoError(t, err)
	require.Equal(t, OutcomeBuildBatch, outcome)
}

func TestAdvanceRejectsUnknownKey(t *testing.T) {
	store := newFakeStateStore()
	m := NewManager(store)
	k := Key{UserEmail: "a@example.com", DeviceID: "dev1", CollectionID: "1"}

	outcome, _, release, err := m.Advance(context.Background(), k, "99")
	defer release()
	require.NoError(t, err)
	require.Equal(t, OutcomeInvalidKey, outcome)
}

func TestAdvanceResetsStateOnKeyZero(t *testing.T) {
	store := newFakeStateStore()
	m := NewManager(store)
	k := Key{UserEmail: "a@example.com", DeviceID: "dev1", CollectionID: "1"}
	ctx := context.Background()

	_, st, release, err := m.Advance(ctx, k, "0")
	require.NoError(t, err)
	require.NoError(t, m.Commit(ctx, k, st, []byte("batch-bytes"), []int64{1, 2}, 2))
	release()
	_, st, release, err = m.Advance(ctx, k, "1")
	require.NoError(t, err)
	release()

	// Client resets with "0" again: cursor, pending state, key counters reset.
	outcome, st, release, err := m.Advance(ctx, k, "0")
	defer release()
	require.NoError(t, err)
	require.Equal(t, OutcomeBuildBatch, outcome)
	require.Equal(t, "0", st.CurKey)
	require.Equal(t, "1", st.NextKey)
	require.False(t, st.HasPending)
	require.Zero(t, st.Cursor)
}
