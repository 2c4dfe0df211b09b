package application_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/peerdex-network/peerdex-daemon/internal/core/application"
	"github.com/peerdex-network/peerdex-daemon/internal/core/store"
	"github.com/peerdex-network/peerdex-daemon/internal/infrastructure/transport/inproc"
	"github.com/peerdex-network/peerdex-daemon/pkg/scheduler"
)

func newMonitor(
	t *testing.T, node *testNode, sched *scheduler.Manual,
) *application.NetworkHashMonitor {
	t.Helper()
	m := application.NewNetworkHashMonitor(application.HashMonitorOpts{
		Transport:      node.transport,
		Scheduler:      sched,
		Store:          node.store,
		OwnKey:         node.key,
		Interval:       time.Minute,
		RequestTimeout: 30 * time.Second,
	})
	m.Start()
	t.Cleanup(m.Stop)
	return m
}

func TestHashMonitorConvergedNetwork(t *testing.T) {
	network := inproc.NewNetwork()
	sched := scheduler.NewManual(time.Unix(1700000000, 0))
	nodeA := newTestNode(t, network, sched, "node-a:8000")
	nodeB := newTestNode(t, network, sched, "node-b:8000")
	monA := newMonitor(t, nodeA, sched)
	monB := newMonitor(t, nodeB, sched)

	// Replicated content: both stores hold the same entry.
	e := store.NewEntry(
		"test/item", []byte("shared"), nodeA.key, 1, time.Hour, sched.Now(),
	)
	require.True(t, nodeA.store.Add(e, "", true))

	sched.Advance(3 * time.Minute)
	require.Equal(t, monA.LocalHash(), monB.LocalHash())
	require.Empty(t, monA.Conflicts())
	require.Empty(t, monB.Conflicts())
}

func TestHashMonitorDetectsDivergence(t *testing.T) {
	network := inproc.NewNetwork()
	sched := scheduler.NewManual(time.Unix(1700000000, 0))
	nodeA := newTestNode(t, network, sched, "node-a:8000")
	nodeB := newTestNode(t, network, sched, "node-b:8000")
	monA := newMonitor(t, nodeA, sched)
	monB := newMonitor(t, nodeB, sched)

	conflicts := 0
	monB.AddConflictHandler(func(application.Conflict) { conflicts++ })

	// Local-only content: the entry never gossips, the stores diverge.
	e := store.NewEntry(
		"test/item", []byte("only-on-a"), nodeA.key, 1, time.Hour, sched.Now(),
	)
	require.True(t, nodeA.store.Add(e, "", false))
	require.NotEqual(t, monA.LocalHash(), monB.LocalHash())

	// Two cycles: publish reports, then cross-check them.
	sched.Advance(2*time.Minute + time.Second)

	confB := monB.Conflicts()
	require.NotEmpty(t, confB)
	require.Equal(t, nodeA.addr, confB[0].Peer)
	require.NotEqual(t, confB[0].LocalHash, confB[0].PeerHash)
	require.Positive(t, conflicts)

	confA := monA.Conflicts()
	require.NotEmpty(t, confA)
	require.Equal(t, nodeB.addr, confA[0].Peer)
}

func TestHashMonitorDeduplicatesPersistentDivergence(t *testing.T) {
	network := inproc.NewNetwork()
	sched := scheduler.NewManual(time.Unix(1700000000, 0))
	nodeA := newTestNode(t, network, sched, "node-a:8000")
	nodeB := newTestNode(t, network, sched, "node-b:8000")
	newMonitor(t, nodeA, sched)
	monB := newMonitor(t, nodeB, sched)

	fired := 0
	monB.AddConflictHandler(func(application.Conflict) { fired++ })

	e := store.NewEntry(
		"test/item", []byte("only-on-a"), nodeA.key, 1, time.Hour, sched.Now(),
	)
	require.True(t, nodeA.store.Add(e, "", false))

	sched.Advance(2*time.Minute + time.Second)
	require.Len(t, monB.Conflicts(), 1)
	firstRound := fired
	require.Positive(t, firstRound)

	// The same divergence across many more cycles neither grows the record
	// list nor re-notifies.
	sched.Advance(10 * time.Minute)
	require.Len(t, monB.Conflicts(), 1)
	require.Equal(t, firstRound, fired)

	// A changed divergence replaces the peer's record and notifies again.
	e2 := store.NewEntry(
		"test/item-2", []byte("also-only-on-a"), nodeA.key, 1, time.Hour,
		sched.Now(),
	)
	require.True(t, nodeA.store.Add(e2, "", false))
	sched.Advance(2 * time.Minute)

	require.Len(t, monB.Conflicts(), 1)
	require.Greater(t, fired, firstRound)
}
