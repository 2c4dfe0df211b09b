package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/peerdex-network/peerdex-daemon/internal/core/domain"
	"github.com/peerdex-network/peerdex-daemon/internal/infrastructure/transport/inproc"
	"github.com/peerdex-network/peerdex-daemon/pkg/scheduler"
)

func TestTakeOfferCompletesSwap(t *testing.T) {
	network := inproc.NewNetwork()
	sched := scheduler.NewManual(time.Unix(1700000000, 0))
	maker := newTestNode(t, network, sched, "node-maker:8000")
	taker := newTestNode(t, network, sched, "node-taker:8000")

	offer, err := maker.book.PublishOffer(testOfferOpts())
	require.NoError(t, err)

	trade, err := taker.trades.TakeOffer(offer.Id, 250_000)
	require.NoError(t, err)

	// The swap ran to completion on both sides.
	require.True(t, trade.IsCompleted())
	require.Empty(t, taker.trades.OpenTrades())
	require.Empty(t, maker.trades.OpenTrades())

	closedTaker, err := taker.trades.ClosedTrades(context.Background())
	require.NoError(t, err)
	require.Len(t, closedTaker, 1)
	closedMaker, err := maker.trades.ClosedTrades(context.Background())
	require.NoError(t, err)
	require.Len(t, closedMaker, 1)
	require.Equal(t, closedTaker[0].Id, closedMaker[0].Id)
	require.Equal(t, closedTaker[0].PayoutTxId, closedMaker[0].PayoutTxId)

	// The traded offer left the book for good.
	_, ok := taker.book.GetOffer(offer.Id)
	require.False(t, ok)
	_, ok = maker.book.OwnOffer(offer.Id)
	require.False(t, ok)

	// The escrow keys were exchanged.
	require.Equal(
		t, maker.key.PubKey().SerializeCompressed(), closedTaker[0].PeerPubKey,
	)
	require.Equal(
		t, taker.key.PubKey().SerializeCompressed(), closedMaker[0].PeerPubKey,
	)
}

func TestTakeOfferValidation(t *testing.T) {
	network := inproc.NewNetwork()
	sched := scheduler.NewManual(time.Unix(1700000000, 0))
	maker := newTestNode(t, network, sched, "node-maker:8000")
	taker := newTestNode(t, network, sched, "node-taker:8000")

	offer, err := maker.book.PublishOffer(testOfferOpts())
	require.NoError(t, err)

	t.Run("unknown_offer", func(t *testing.T) {
		_, err := taker.trades.TakeOffer("no-such-offer", 1000)
		require.ErrorIs(t, err, domain.ErrOfferNotFound)
	})

	t.Run("own_offer", func(t *testing.T) {
		_, err := maker.trades.TakeOffer(offer.Id, 1000)
		require.Error(t, err)
		require.Contains(t, err.Error(), "own offer")
	})
}

func TestTakeOfferFailsLocallyOnOversizedAmount(t *testing.T) {
	network := inproc.NewNetwork()
	sched := scheduler.NewManual(time.Unix(1700000000, 0))
	maker := newTestNode(t, network, sched, "node-maker:8000")
	taker := newTestNode(t, network, sched, "node-taker:8000")

	offer, err := maker.book.PublishOffer(testOfferOpts())
	require.NoError(t, err)

	// The taker's own filter rejects the oversized take before any funds
	// move; the trade is recorded as failed.
	trade, err := taker.trades.TakeOffer(offer.Id, offer.Amount*2)
	require.NoError(t, err)
	require.True(t, trade.IsFailed())
	require.Contains(t, trade.ErrorMessage, domain.ErrOfferInvalidAmount.Error())

	failed, err := taker.trades.FailedTrades(context.Background())
	require.NoError(t, err)
	require.Len(t, failed, 1)

	// The offer is untouched and a proper take still works.
	good, err := taker.trades.TakeOffer(offer.Id, 1000)
	require.NoError(t, err)
	require.True(t, good.IsCompleted())
}

func TestMakerFailureRestoresOffer(t *testing.T) {
	network := inproc.NewNetwork()
	sched := scheduler.NewManual(time.Unix(1700000000, 0))
	maker := newTestNode(t, network, sched, "node-maker:8000")
	taker := newTestNode(t, network, sched, "node-taker:8000")
	maker.wallet.depositErr = errOutOfFunds

	offer, err := maker.book.PublishOffer(testOfferOpts())
	require.NoError(t, err)

	trade, err := taker.trades.TakeOffer(offer.Id, 250_000)
	require.NoError(t, err)
	require.True(t, trade.IsFailed())
	require.Contains(t, trade.ErrorMessage, "peer aborted")

	// The maker pulled the offer for the trade and put it back on failure.
	_, ok := taker.book.GetOffer(offer.Id)
	require.True(t, ok)
	_, ok = maker.book.OwnOffer(offer.Id)
	require.True(t, ok)

	failedMaker, err := maker.trades.FailedTrades(context.Background())
	require.NoError(t, err)
	require.Len(t, failedMaker, 1)
	require.Contains(t, failedMaker[0].ErrorMessage, errOutOfFunds.Error())
	failedTaker, err := taker.trades.FailedTrades(context.Background())
	require.NoError(t, err)
	require.Len(t, failedTaker, 1)
}
