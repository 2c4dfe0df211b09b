package domain_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/peerdex-network/peerdex-daemon/internal/core/domain"
)

func newTestOffer(t *testing.T) *domain.Offer {
	t.Helper()
	offer, err := domain.NewOffer(domain.OfferOpts{
		Direction:    domain.OfferDirectionSell,
		BaseAsset:    "BTC",
		QuoteAsset:   "EUR",
		Amount:       1000000,
		Price:        "38500.25",
		MakerFee:     500,
		TakerFee:     700,
		FeeAsset:     "BTC",
		MakerAddress: "maker.onion:9999",
		OwnerPubKey:  []byte{0x02, 0xaa, 0xbb},
	})
	require.NoError(t, err)
	return offer
}

func TestNewTradeIdIsDeterministic(t *testing.T) {
	offer := newTestOffer(t)
	a := domain.NewTradeId(offer.Id, "taker.onion:8888")
	b := domain.NewTradeId(offer.Id, "taker.onion:8888")
	c := domain.NewTradeId(offer.Id, "other.onion:7777")
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)

	// Both roles derive the same id for the same take.
	maker := domain.NewTrade(
		offer, domain.RoleMaker, "taker.onion:8888", "taker.onion:8888", 10,
	)
	taker := domain.NewTrade(
		offer, domain.RoleTaker, offer.MakerAddress, "taker.onion:8888", 10,
	)
	require.Equal(t, maker.Id, taker.Id)
}

func TestTradeAdvanceIsMonotonic(t *testing.T) {
	offer := newTestOffer(t)
	trade := domain.NewTrade(
		offer, domain.RoleTaker, offer.MakerAddress, "taker.onion:8888", offer.Amount,
	)
	require.Equal(t, domain.TradeStatusCodePreparation, trade.Status.Code)

	require.NoError(t, trade.AdvanceTo(domain.TradeStatusCodeFeePublished))
	require.NoError(t, trade.AdvanceTo(domain.TradeStatusCodeDepositPublished))

	// Re-applying the current state is idempotent.
	require.NoError(t, trade.AdvanceTo(domain.TradeStatusCodeDepositPublished))

	// Regression is rejected and leaves the trade untouched.
	err := trade.AdvanceTo(domain.TradeStatusCodeFeePublished)
	require.ErrorIs(t, err, domain.ErrTradeStateRegression)
	require.Equal(t, domain.TradeStatusCodeDepositPublished, trade.Status.Code)
}

func TestTradeComplete(t *testing.T) {
	offer := newTestOffer(t)
	trade := domain.NewTrade(
		offer, domain.RoleMaker, "taker.onion:8888", "taker.onion:8888", offer.Amount,
	)

	require.NoError(t, trade.AdvanceTo(domain.TradeStatusCodeCompleted))
	require.True(t, trade.IsCompleted())
	require.False(t, trade.IsOpen())
	require.NotZero(t, trade.CloseTime)
}

func TestTradeFail(t *testing.T) {
	offer := newTestOffer(t)
	trade := domain.NewTrade(
		offer, domain.RoleTaker, offer.MakerAddress, "taker.onion:8888", offer.Amount,
	)

	trade.Fail("peer did not respond")
	require.True(t, trade.IsFailed())
	require.False(t, trade.IsOpen())
	require.Equal(t, "peer did not respond", trade.ErrorMessage)

	// First failure reason wins.
	trade.Fail("another reason")
	require.Equal(t, "peer did not respond", trade.ErrorMessage)
}

func TestOfferValidate(t *testing.T) {
	tests := []struct {
		name string
		opts domain.OfferOpts
		err  error
	}{
		{
			name: "zero_amount",
			opts: domain.OfferOpts{
				Amount: 0, Price: "1.5",
				OwnerPubKey: []byte{0x02}, MakerAddress: "a:1",
			},
			err: domain.ErrOfferInvalidAmount,
		},
		{
			name: "bad_price",
			opts: domain.OfferOpts{
				Amount: 10, Price: "not-a-price",
				OwnerPubKey: []byte{0x02}, MakerAddress: "a:1",
			},
			err: domain.ErrOfferInvalidPrice,
		},
		{
			name: "negative_price",
			opts: domain.OfferOpts{
				Amount: 10, Price: "-3",
				OwnerPubKey: []byte{0x02}, MakerAddress: "a:1",
			},
			err: domain.ErrOfferInvalidPrice,
		},
		{
			name: "missing_owner_key",
			opts: domain.OfferOpts{
				Amount: 10, Price: "1.5", MakerAddress: "a:1",
			},
			err: domain.ErrOfferMissingOwnerKey,
		},
		{
			name: "missing_maker_address",
			opts: domain.OfferOpts{
				Amount: 10, Price: "1.5", OwnerPubKey: []byte{0x02},
			},
			err: domain.ErrOfferMissingMakerAddress,
		},
	}

	for i := range tests {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			_, err := domain.NewOffer(tt.opts)
			require.ErrorIs(t, err, tt.err)
		})
	}
}

func TestOfferHashFieldsExcludeCreationTime(t *testing.T) {
	offer := newTestOffer(t)
	before := offer.SerializeForHash()

	offer.CreationTime += 60_000
	require.Equal(t, before, offer.SerializeForHash())

	offer.Price = "40000"
	require.NotEqual(t, before, offer.SerializeForHash())
}

func TestOfferRoundTrip(t *testing.T) {
	offer := newTestOffer(t)
	data, err := offer.Bytes()
	require.NoError(t, err)

	decoded, err := domain.OfferFromBytes(data)
	require.NoError(t, err)
	require.Equal(t, offer, decoded)
	require.Equal(t, "38500250000", decoded.QuoteAmount().String())
}
