package application

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	log "github.com/sirupsen/logrus"

	"github.com/peerdex-network/peerdex-daemon/internal/core/domain"
	"github.com/peerdex-network/peerdex-daemon/internal/core/ports"
	"github.com/peerdex-network/peerdex-daemon/internal/core/store"
	"github.com/peerdex-network/peerdex-daemon/pkg/scheduler"
)

// OfferPayloadType tags replicated store entries carrying an offer.
const OfferPayloadType = "peerdex/offer"

const (
	defaultOfferTTL = 30 * time.Minute
)

// OfferHandler is notified of offer changes observed in the replicated book.
type OfferHandler func(kind store.ChangeKind, offer *domain.Offer)

// OfferBookOpts groups the parameters needed for creating an
// OfferBookService.
type OfferBookOpts struct {
	Store      *store.Store
	Scheduler  scheduler.Scheduler
	Repository domain.OfferRepository
	OwnKey     *btcec.PrivateKey
	// Address is this node's transport address, stamped as maker address on
	// published offers.
	Address ports.NodeAddress
	// OfferTTL is the replicated lifetime of a published offer; the service
	// refreshes its own offers at a third of it.
	OfferTTL        time.Duration
	RefreshInterval time.Duration
}

// OfferBookService maintains this node's published offers inside the
// replicated store and exposes the aggregated book. Own offers are persisted
// locally and republished on restart; while the service runs it keeps them
// alive with periodic TTL refreshes.
//
// All state is confined to the scheduler goroutine. The exported query and
// command methods marshal themselves onto it and block, so they must not be
// called from scheduler callbacks; WithdrawOffer and RepublishOffer are the
// exception, they are invoked by the trade protocol which already runs there.
type OfferBookService struct {
	store           *store.Store
	sched           scheduler.Scheduler
	repo            domain.OfferRepository
	ownKey          *btcec.PrivateKey
	address         ports.NodeAddress
	offerTTL        time.Duration
	refreshInterval time.Duration

	sequence     int64
	own          map[string]store.Entry
	handlers     []OfferHandler
	refreshTimer scheduler.Timer
}

// NewOfferBookService returns a service ready to be started.
func NewOfferBookService(opts OfferBookOpts) *OfferBookService {
	offerTTL := opts.OfferTTL
	if offerTTL <= 0 {
		offerTTL = defaultOfferTTL
	}
	refreshInterval := opts.RefreshInterval
	if refreshInterval <= 0 {
		refreshInterval = offerTTL / 3
	}
	return &OfferBookService{
		store:           opts.Store,
		sched:           opts.Scheduler,
		repo:            opts.Repository,
		ownKey:          opts.OwnKey,
		address:         opts.Address,
		offerTTL:        offerTTL,
		refreshInterval: refreshInterval,
		sequence:        opts.Scheduler.Now().UnixNano() / int64(time.Millisecond),
		own:             map[string]store.Entry{},
	}
}

// Start wires the store notifications, republishes offers persisted before a
// restart and arms the periodic refresh of own offers.
func (s *OfferBookService) Start() {
	s.store.AddChangeHandler(s.onStoreChange)
	s.sched.Do(s.republishPersisted)
	s.refreshTimer = s.sched.ScheduleRepeating(
		s.refreshInterval, s.refreshOwnOffers,
	)
}

// Stop disarms the refresh timer. Published offers stay in the network until
// their TTL runs out.
func (s *OfferBookService) Stop() {
	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
	}
}

// AddOfferHandler registers a handler notified of every offer change in the
// book. Register before Start.
func (s *OfferBookService) AddOfferHandler(h OfferHandler) {
	s.handlers = append(s.handlers, h)
}

// PublishOffer creates a new offer owned by this node, persists it and
// publishes it into the replicated book.
func (s *OfferBookService) PublishOffer(
	opts domain.OfferOpts,
) (*domain.Offer, error) {
	if opts.MakerAddress == "" {
		opts.MakerAddress = string(s.address)
	}
	if len(opts.OwnerPubKey) == 0 {
		opts.OwnerPubKey = s.ownKey.PubKey().SerializeCompressed()
	}
	offer, err := domain.NewOffer(opts)
	if err != nil {
		return nil, err
	}
	s.run(func() { err = s.republishOffer(offer) })
	if err != nil {
		return nil, err
	}
	return offer, nil
}

// WithdrawOffer takes one of this node's offers off the book. Runs on the
// scheduler goroutine; it doubles as the trade protocol's offer-lock hook.
func (s *OfferBookService) WithdrawOffer(offerId string) error {
	entry, ok := s.own[offerId]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrOfferNotFound, offerId)
	}
	remove := store.NewEntry(
		OfferPayloadType, entry.Payload, s.ownKey,
		s.nextSequence(), s.offerTTL, s.sched.Now(),
	)
	if !s.store.Remove(remove, "", true) {
		log.Warnf("offerbook: store did not remove offer %s", offerId)
	}
	delete(s.own, offerId)
	if err := s.repo.DeleteOffer(context.Background(), offerId); err != nil {
		log.WithError(err).Errorf("offerbook: deleting offer %s", offerId)
	}
	return nil
}

// RepublishOffer puts an offer back on the book, keeping its identity. It is
// the compensating action of a failed trade that had locked the offer. Runs
// on the scheduler goroutine.
func (s *OfferBookService) RepublishOffer(offer *domain.Offer) error {
	return s.republishOffer(offer)
}

// ListOffers returns every valid offer currently visible in the book,
// including this node's own.
func (s *OfferBookService) ListOffers() []*domain.Offer {
	var offers []*domain.Offer
	s.run(func() {
		for _, e := range s.store.Map() {
			if offer, ok := offerFromEntry(e); ok {
				offers = append(offers, offer)
			}
		}
	})
	return offers
}

// GetOffer looks an offer up in the book by id.
func (s *OfferBookService) GetOffer(offerId string) (*domain.Offer, bool) {
	var offer *domain.Offer
	var ok bool
	s.run(func() { offer, ok = s.getOffer(offerId) })
	return offer, ok
}

// OwnOffer looks up one of this node's published offers.
func (s *OfferBookService) OwnOffer(offerId string) (*domain.Offer, bool) {
	var offer *domain.Offer
	var ok bool
	s.run(func() { offer, ok = s.ownOffer(offerId) })
	return offer, ok
}

func (s *OfferBookService) republishOffer(offer *domain.Offer) error {
	payload, err := offer.Bytes()
	if err != nil {
		return fmt.Errorf("serializing offer: %w", err)
	}
	entry := store.NewEntry(
		OfferPayloadType, payload, s.ownKey,
		s.nextSequence(), s.offerTTL, s.sched.Now(),
	)
	if !s.store.Add(entry, "", true) {
		return fmt.Errorf("store rejected offer %s", offer.Id)
	}
	s.own[offer.Id] = entry
	if err := s.repo.AddOffer(context.Background(), offer); err != nil {
		log.WithError(err).Errorf("offerbook: persisting offer %s", offer.Id)
	}
	return nil
}

// republishPersisted puts the offers that survived a restart back on the
// book.
func (s *OfferBookService) republishPersisted() {
	offers, err := s.repo.GetAllOffers(context.Background())
	if err != nil {
		log.WithError(err).Error("offerbook: loading persisted offers")
		return
	}
	for _, offer := range offers {
		if err := s.republishOffer(offer); err != nil {
			log.WithError(err).Errorf(
				"offerbook: republishing offer %s", offer.Id,
			)
		}
	}
}

// refreshOwnOffers keeps this node's offers alive. An entry the network no
// longer knows, for instance after a long partition, is published anew.
func (s *OfferBookService) refreshOwnOffers() {
	for offerId, entry := range s.own {
		refresh := store.NewRefreshRequest(
			entry.ContentHash(), s.ownKey, s.nextSequence(),
		)
		if s.store.Refresh(refresh, "", true) {
			continue
		}
		log.Warnf("offerbook: refresh failed for offer %s, republishing", offerId)
		offer, ok := offerFromEntry(entry)
		if !ok {
			continue
		}
		if err := s.republishOffer(offer); err != nil {
			log.WithError(err).Errorf("offerbook: republishing offer %s", offerId)
		}
	}
}

func (s *OfferBookService) getOffer(offerId string) (*domain.Offer, bool) {
	for _, e := range s.store.Map() {
		if offer, ok := offerFromEntry(e); ok && offer.Id == offerId {
			return offer, true
		}
	}
	return nil, false
}

func (s *OfferBookService) ownOffer(offerId string) (*domain.Offer, bool) {
	entry, ok := s.own[offerId]
	if !ok {
		return nil, false
	}
	return offerFromEntry(entry)
}

func (s *OfferBookService) onStoreChange(kind store.ChangeKind, e store.Entry) {
	offer, ok := offerFromEntry(e)
	if !ok {
		return
	}
	for _, h := range s.handlers {
		h(kind, offer)
	}
}

func (s *OfferBookService) nextSequence() int64 {
	s.sequence++
	return s.sequence
}

// run executes fn on the scheduler goroutine and waits for it.
func (s *OfferBookService) run(fn func()) {
	done := make(chan struct{})
	s.sched.Do(func() {
		fn()
		close(done)
	})
	<-done
}

// offerFromEntry decodes and validates an offer out of a store entry.
// Malformed offers gossiped by misbehaving peers are dropped here.
func offerFromEntry(e store.Entry) (*domain.Offer, bool) {
	if e.PayloadType != OfferPayloadType {
		return nil, false
	}
	offer, err := domain.OfferFromBytes(e.Payload)
	if err != nil {
		log.WithError(err).Debug("offerbook: dropping malformed offer entry")
		return nil, false
	}
	if err := offer.Validate(); err != nil {
		log.WithError(err).Debug("offerbook: dropping invalid offer entry")
		return nil, false
	}
	return offer, true
}
