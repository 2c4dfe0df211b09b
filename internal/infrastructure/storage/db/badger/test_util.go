package dbbadger

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/peerdex-network/peerdex-daemon/internal/core/domain"
)

func newTestDb(t *testing.T) *DbManager {
	t.Helper()
	db, err := NewDbManager(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

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
