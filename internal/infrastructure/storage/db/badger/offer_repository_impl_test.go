package dbbadger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/peerdex-network/peerdex-daemon/internal/core/domain"
)

func TestOfferRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewOfferRepositoryImpl(newTestDb(t))
	offer := newTestOffer(t)

	require.NoError(t, repo.AddOffer(ctx, offer))

	got, err := repo.GetOffer(ctx, offer.Id)
	require.NoError(t, err)
	require.Equal(t, offer, got)

	all, err := repo.GetAllOffers(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	require.NoError(t, repo.DeleteOffer(ctx, offer.Id))
	_, err = repo.GetOffer(ctx, offer.Id)
	require.ErrorIs(t, err, domain.ErrOfferNotFound)

	// Deleting twice is a no-op.
	require.NoError(t, repo.DeleteOffer(ctx, offer.Id))
}
