package store_test

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	"github.com/peerdex-network/peerdex-daemon/internal/core/ports"
	"github.com/peerdex-network/peerdex-daemon/internal/core/store"
	"github.com/peerdex-network/peerdex-daemon/internal/infrastructure/storage/db/inmemory"
	"github.com/peerdex-network/peerdex-daemon/internal/infrastructure/transport/inproc"
	"github.com/peerdex-network/peerdex-daemon/pkg/crypto"
	"github.com/peerdex-network/peerdex-daemon/pkg/scheduler"
)

type fixture struct {
	store *store.Store
	sched *scheduler.Manual
	owner *btcec.PrivateKey
}

func newFixture(t *testing.T, sweepInterval time.Duration) *fixture {
	t.Helper()
	network := inproc.NewNetwork()
	sched := scheduler.NewManual(time.Unix(1700000000, 0))
	owner, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	s := store.NewStore(store.Opts{
		Transport:           network.Join("node-a:8000"),
		Scheduler:           sched,
		Sequences:           inmemory.NewSequenceRepositoryImpl(),
		SweepInterval:       sweepInterval,
		BroadcastsPerSecond: -1,
	})
	s.Start()
	t.Cleanup(s.Stop)
	return &fixture{store: s, sched: sched, owner: owner}
}

func (f *fixture) newEntry(
	payload string, seq int64, ttl time.Duration,
) store.Entry {
	return store.NewEntry(
		"test/payload", []byte(payload), f.owner, seq, ttl, f.sched.Now(),
	)
}

func TestAddRejectsStaleSequence(t *testing.T) {
	f := newFixture(t, time.Minute)

	e1 := f.newEntry("payload", 1, time.Hour)
	require.True(t, f.store.Add(e1, "", false))

	// Same content hash, same sequence number: replay, rejected.
	require.False(t, f.store.Add(f.newEntry("payload", 1, time.Hour), "", false))
	// Lower sequence number: rollback, rejected.
	require.False(t, f.store.Add(f.newEntry("payload", 0, time.Hour), "", false))
	// Higher sequence number: accepted.
	require.True(t, f.store.Add(f.newEntry("payload", 2, time.Hour), "", false))

	got, ok := f.store.Get(e1.Key())
	require.True(t, ok)
	require.EqualValues(t, 2, got.SequenceNumber)
}

func TestAddRejectsBadSignature(t *testing.T) {
	f := newFixture(t, time.Minute)

	e := f.newEntry("payload", 1, time.Hour)
	e.Signature[10] ^= 0xff
	require.False(t, f.store.Add(e, "", false))
	require.Zero(t, f.store.Size())

	t.Run("foreign_owner_key", func(t *testing.T) {
		other, err := crypto.GenerateKeyPair()
		require.NoError(t, err)
		e := f.newEntry("payload", 1, time.Hour)
		e.OwnerPubKey = other.PubKey().SerializeCompressed()
		require.False(t, f.store.Add(e, "", false))
	})
}

func TestAddRejectsElapsedTTL(t *testing.T) {
	f := newFixture(t, time.Minute)

	e := f.newEntry("payload", 1, time.Second)
	e.CreationTime -= 2000
	require.False(t, f.store.Add(e, "", false))
}

func TestSweepEvictsExpiredEntries(t *testing.T) {
	f := newFixture(t, 100*time.Millisecond)

	e := f.newEntry("payload", 1, time.Second)
	require.True(t, f.store.Add(e, "", false))

	expired := 0
	f.store.AddChangeHandler(func(kind store.ChangeKind, _ store.Entry) {
		if kind == store.EntryExpired {
			expired++
		}
	})

	// Before the deadline the entry survives sweeps.
	f.sched.Advance(500 * time.Millisecond)
	_, ok := f.store.Get(e.Key())
	require.True(t, ok)
	require.Zero(t, expired)

	// The first sweep after creationTime+ttl evicts it.
	f.sched.Advance(time.Second)
	_, ok = f.store.Get(e.Key())
	require.False(t, ok)
	require.Equal(t, 1, expired)
}

func TestRefreshKeepsPayloadAndResetsClock(t *testing.T) {
	f := newFixture(t, 100*time.Millisecond)

	e := f.newEntry("payload", 1, time.Second)
	require.True(t, f.store.Add(e, "", false))

	// Refresh at t+900ms with a newer sequence number.
	f.sched.Advance(900 * time.Millisecond)
	refresh := store.NewRefreshRequest(e.ContentHash(), f.owner, 2)
	require.True(t, f.store.Refresh(refresh, "", false))

	// The original deadline passes without eviction: the clock was reset.
	f.sched.Advance(600 * time.Millisecond)
	got, ok := f.store.Get(e.Key())
	require.True(t, ok)
	require.Equal(t, e.Payload, got.Payload)
	require.EqualValues(t, 2, got.SequenceNumber)

	// Without further refreshes the new deadline evicts it.
	f.sched.Advance(2 * time.Second)
	_, ok = f.store.Get(e.Key())
	require.False(t, ok)
}

func TestRefreshRejections(t *testing.T) {
	f := newFixture(t, time.Minute)

	e := f.newEntry("payload", 5, time.Hour)
	require.True(t, f.store.Add(e, "", false))

	t.Run("unknown_entry", func(t *testing.T) {
		refresh := store.NewRefreshRequest(
			crypto.Hash([]byte("never stored")), f.owner, 6,
		)
		require.False(t, f.store.Refresh(refresh, "", false))
	})

	t.Run("stale_sequence", func(t *testing.T) {
		refresh := store.NewRefreshRequest(e.ContentHash(), f.owner, 5)
		require.False(t, f.store.Refresh(refresh, "", false))
	})

	t.Run("foreign_signer", func(t *testing.T) {
		other, err := crypto.GenerateKeyPair()
		require.NoError(t, err)
		refresh := store.NewRefreshRequest(e.ContentHash(), other, 6)
		require.False(t, f.store.Refresh(refresh, "", false))
	})
}

func TestRemoveBlocksReplayedAdd(t *testing.T) {
	f := newFixture(t, time.Minute)

	e1 := f.newEntry("payload", 1, time.Hour)
	require.True(t, f.store.Add(e1, "", false))

	remove := f.newEntry("payload", 2, time.Hour)
	require.True(t, f.store.Remove(remove, "", false))
	require.Zero(t, f.store.Size())

	// The old add cannot resurrect the entry: its sequence number is spent.
	require.False(t, f.store.Add(e1, "", false))
	// A genuinely newer add is fine.
	require.True(t, f.store.Add(f.newEntry("payload", 3, time.Hour), "", false))
}

func TestMapReturnsSnapshot(t *testing.T) {
	f := newFixture(t, time.Minute)

	require.True(t, f.store.Add(f.newEntry("one", 1, time.Hour), "", false))
	snapshot := f.store.Map()
	require.Len(t, snapshot, 1)

	require.True(t, f.store.Add(f.newEntry("two", 1, time.Hour), "", false))
	require.Len(t, snapshot, 1)
	require.Equal(t, 2, f.store.Size())
}

func TestGossipReplication(t *testing.T) {
	network := inproc.NewNetwork()
	sched := scheduler.NewManual(time.Unix(1700000000, 0))
	owner, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	newNode := func(addr ports.NodeAddress) *store.Store {
		s := store.NewStore(store.Opts{
			Transport:           network.Join(addr),
			Scheduler:           sched,
			Sequences:           inmemory.NewSequenceRepositoryImpl(),
			SweepInterval:       time.Minute,
			BroadcastsPerSecond: -1,
		})
		s.Start()
		t.Cleanup(s.Stop)
		return s
	}
	nodeA := newNode("node-a:8000")
	nodeB := newNode("node-b:8000")
	nodeC := newNode("node-c:8000")

	e := store.NewEntry(
		"test/payload", []byte("gossiped"), owner, 1, time.Hour, sched.Now(),
	)
	require.True(t, nodeA.Add(e, "", true))

	_, okB := nodeB.Get(e.Key())
	_, okC := nodeC.Get(e.Key())
	require.True(t, okB)
	require.True(t, okC)

	remove := store.NewEntry(
		"test/payload", []byte("gossiped"), owner, 2, time.Hour, sched.Now(),
	)
	require.True(t, nodeB.Remove(remove, "", true))

	_, okA := nodeA.Get(e.Key())
	_, okC = nodeC.Get(e.Key())
	require.False(t, okA)
	require.False(t, okC)
}
