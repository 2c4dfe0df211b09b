package dbbadger

import (
	"context"
	"errors"

	"github.com/timshannon/badgerhold/v4"

	"github.com/peerdex-network/peerdex-daemon/internal/core/domain"
)

type offerRepositoryImpl struct {
	db *DbManager
}

// NewOfferRepositoryImpl returns a badger backed OfferRepository.
func NewOfferRepositoryImpl(db *DbManager) domain.OfferRepository {
	return offerRepositoryImpl{db: db}
}

func (o offerRepositoryImpl) AddOffer(
	_ context.Context, offer *domain.Offer,
) error {
	return o.db.Store.Upsert(offer.Id, *offer)
}

func (o offerRepositoryImpl) GetOffer(
	_ context.Context, id string,
) (*domain.Offer, error) {
	var offer domain.Offer
	if err := o.db.Store.Get(id, &offer); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, domain.ErrOfferNotFound
		}
		return nil, err
	}
	return &offer, nil
}

func (o offerRepositoryImpl) GetAllOffers(
	_ context.Context,
) ([]*domain.Offer, error) {
	var all []domain.Offer
	if err := o.db.Store.Find(&all, nil); err != nil {
		return nil, err
	}
	offers := make([]*domain.Offer, 0, len(all))
	for i := range all {
		offers = append(offers, &all[i])
	}
	return offers, nil
}

func (o offerRepositoryImpl) DeleteOffer(_ context.Context, id string) error {
	err := o.db.Store.Delete(id, domain.Offer{})
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil
	}
	return err
}
