package application_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/peerdex-network/peerdex-daemon/internal/core/domain"
	"github.com/peerdex-network/peerdex-daemon/internal/core/store"
	"github.com/peerdex-network/peerdex-daemon/internal/infrastructure/transport/inproc"
	"github.com/peerdex-network/peerdex-daemon/pkg/scheduler"
)

func TestPublishOfferReplicates(t *testing.T) {
	network := inproc.NewNetwork()
	sched := scheduler.NewManual(time.Unix(1700000000, 0))
	maker := newTestNode(t, network, sched, "node-maker:8000")
	taker := newTestNode(t, network, sched, "node-taker:8000")

	offer, err := maker.book.PublishOffer(testOfferOpts())
	require.NoError(t, err)
	require.Equal(t, string(maker.addr), offer.MakerAddress)
	require.Equal(
		t, maker.key.PubKey().SerializeCompressed(), offer.OwnerPubKey,
	)

	// The offer gossiped to the other node's book.
	got, ok := taker.book.GetOffer(offer.Id)
	require.True(t, ok)
	require.Equal(t, offer.Id, got.Id)
	require.Equal(t, offer.Price, got.Price)
	require.Len(t, taker.book.ListOffers(), 1)

	// Only the publisher holds it as an own offer.
	_, ok = maker.book.OwnOffer(offer.Id)
	require.True(t, ok)
	_, ok = taker.book.OwnOffer(offer.Id)
	require.False(t, ok)
}

func TestWithdrawOfferRemovesEverywhere(t *testing.T) {
	network := inproc.NewNetwork()
	sched := scheduler.NewManual(time.Unix(1700000000, 0))
	maker := newTestNode(t, network, sched, "node-maker:8000")
	taker := newTestNode(t, network, sched, "node-taker:8000")

	offer, err := maker.book.PublishOffer(testOfferOpts())
	require.NoError(t, err)

	require.NoError(t, maker.book.WithdrawOffer(offer.Id))
	_, ok := taker.book.GetOffer(offer.Id)
	require.False(t, ok)
	require.Empty(t, maker.book.ListOffers())

	require.ErrorIs(
		t, maker.book.WithdrawOffer(offer.Id), domain.ErrOfferNotFound,
	)
}

func TestOwnOffersAreKeptAliveAcrossTTL(t *testing.T) {
	network := inproc.NewNetwork()
	sched := scheduler.NewManual(time.Unix(1700000000, 0))
	maker := newTestNode(t, network, sched, "node-maker:8000")
	taker := newTestNode(t, network, sched, "node-taker:8000")

	offer, err := maker.book.PublishOffer(testOfferOpts())
	require.NoError(t, err)

	// The periodic refresh keeps the offer alive well past its 10m TTL.
	sched.Advance(25 * time.Minute)
	_, ok := taker.book.GetOffer(offer.Id)
	require.True(t, ok)
	_, ok = maker.book.GetOffer(offer.Id)
	require.True(t, ok)

	// Once the publisher goes away the offer decays out of the network.
	maker.book.Stop()
	sched.Advance(15 * time.Minute)
	_, ok = taker.book.GetOffer(offer.Id)
	require.False(t, ok)
}

func TestOfferChangeNotifications(t *testing.T) {
	network := inproc.NewNetwork()
	sched := scheduler.NewManual(time.Unix(1700000000, 0))
	maker := newTestNode(t, network, sched, "node-maker:8000")
	taker := newTestNode(t, network, sched, "node-taker:8000")

	type change struct {
		kind store.ChangeKind
		id   string
	}
	var changes []change
	taker.book.AddOfferHandler(func(kind store.ChangeKind, o *domain.Offer) {
		changes = append(changes, change{kind, o.Id})
	})

	offer, err := maker.book.PublishOffer(testOfferOpts())
	require.NoError(t, err)
	require.NoError(t, maker.book.WithdrawOffer(offer.Id))

	require.Equal(t, []change{
		{store.EntryAdded, offer.Id},
		{store.EntryRemoved, offer.Id},
	}, changes)
}
