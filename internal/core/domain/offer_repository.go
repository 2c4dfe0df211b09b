package domain

import "context"

// OfferRepository persists the node's own open offers so they can be
// republished after a restart.
type OfferRepository interface {
	AddOffer(ctx context.Context, offer *Offer) error
	GetOffer(ctx context.Context, id string) (*Offer, error)
	GetAllOffers(ctx context.Context) ([]*Offer, error)
	DeleteOffer(ctx context.Context, id string) error
}
