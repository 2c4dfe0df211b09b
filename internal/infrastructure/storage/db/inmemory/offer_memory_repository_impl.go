package inmemory

import (
	"context"
	"sync"

	"github.com/peerdex-network/peerdex-daemon/internal/core/domain"
)

type offerRepositoryImpl struct {
	mu     sync.RWMutex
	offers map[string]*domain.Offer
}

// NewOfferRepositoryImpl returns an in-memory OfferRepository.
func NewOfferRepositoryImpl() domain.OfferRepository {
	return &offerRepositoryImpl{offers: map[string]*domain.Offer{}}
}

func (r *offerRepositoryImpl) AddOffer(
	_ context.Context, offer *domain.Offer,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *offer
	r.offers[offer.Id] = &cp
	return nil
}

func (r *offerRepositoryImpl) GetOffer(
	_ context.Context, id string,
) (*domain.Offer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	offer, ok := r.offers[id]
	if !ok {
		return nil, domain.ErrOfferNotFound
	}
	cp := *offer
	return &cp, nil
}

func (r *offerRepositoryImpl) GetAllOffers(
	_ context.Context,
) ([]*domain.Offer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	offers := make([]*domain.Offer, 0, len(r.offers))
	for _, o := range r.offers {
		cp := *o
		offers = append(offers, &cp)
	}
	return offers, nil
}

func (r *offerRepositoryImpl) DeleteOffer(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.offers[id]; !ok {
		return domain.ErrOfferNotFound
	}
	delete(r.offers, id)
	return nil
}
