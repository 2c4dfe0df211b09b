package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Offer is a publicly advertised intent to trade, published into the
// replicated store and discovered by takers through the offer book.
type Offer struct {
	Id           string
	Direction    string
	BaseAsset    string
	QuoteAsset   string
	Amount       uint64
	Price        string
	MakerFee     uint64
	TakerFee     uint64
	FeeAsset     string
	MakerAddress string
	OwnerPubKey  []byte
	CreationTime int64
	Version      int
}

// OfferOpts groups the parameters needed to build a new offer.
type OfferOpts struct {
	Direction    string
	BaseAsset    string
	QuoteAsset   string
	Amount       uint64
	Price        string
	MakerFee     uint64
	TakerFee     uint64
	FeeAsset     string
	MakerAddress string
	OwnerPubKey  []byte
}

// NewOffer returns an offer with a fresh id and the current creation time.
func NewOffer(opts OfferOpts) (*Offer, error) {
	offer := &Offer{
		Id:           uuid.New().String(),
		Direction:    opts.Direction,
		BaseAsset:    opts.BaseAsset,
		QuoteAsset:   opts.QuoteAsset,
		Amount:       opts.Amount,
		Price:        opts.Price,
		MakerFee:     opts.MakerFee,
		TakerFee:     opts.TakerFee,
		FeeAsset:     opts.FeeAsset,
		MakerAddress: opts.MakerAddress,
		OwnerPubKey:  opts.OwnerPubKey,
		CreationTime: time.Now().UnixNano() / int64(time.Millisecond),
		Version:      1,
	}
	if err := offer.Validate(); err != nil {
		return nil, err
	}
	return offer, nil
}

// Validate checks the offer invariants shared by publisher and consumers.
func (o *Offer) Validate() error {
	if o.Amount == 0 {
		return ErrOfferInvalidAmount
	}
	price, err := decimal.NewFromString(o.Price)
	if err != nil || !price.IsPositive() {
		return ErrOfferInvalidPrice
	}
	if len(o.OwnerPubKey) == 0 {
		return ErrOfferMissingOwnerKey
	}
	if len(o.MakerAddress) == 0 {
		return ErrOfferMissingMakerAddress
	}
	return nil
}

// PriceDecimal returns the offer price as a decimal. Validate must have
// passed before calling it.
func (o *Offer) PriceDecimal() decimal.Decimal {
	price, _ := decimal.NewFromString(o.Price)
	return price
}

// QuoteAmount returns amount * price truncated to 8 decimal places.
func (o *Offer) QuoteAmount() decimal.Decimal {
	return decimal.NewFromInt(int64(o.Amount)).Mul(o.PriceDecimal()).Truncate(8)
}

// SerializeForHash returns the bytes of exactly the fields that participate
// in the consensus hash of the offer. Volatile fields (creation time) are
// deliberately left out so a republished offer keeps its identity.
func (o *Offer) SerializeForHash() []byte {
	return []byte(fmt.Sprintf(
		"%s|%s|%s|%s|%d|%s|%d|%d|%s|%s|%x",
		o.Id, o.Direction, o.BaseAsset, o.QuoteAsset, o.Amount, o.Price,
		o.MakerFee, o.TakerFee, o.FeeAsset, o.MakerAddress, o.OwnerPubKey,
	))
}

// Bytes returns the full serialization of the offer.
func (o *Offer) Bytes() ([]byte, error) {
	return json.Marshal(o)
}

// OfferFromBytes is the inverse of Bytes.
func OfferFromBytes(data []byte) (*Offer, error) {
	offer := &Offer{}
	if err := json.Unmarshal(data, offer); err != nil {
		return nil, fmt.Errorf("invalid offer serialization: %w", err)
	}
	return offer, nil
}
