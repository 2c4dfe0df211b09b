package domain

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/peerdex-network/peerdex-daemon/pkg/crypto"
)

// TradeStatus represents the different statuses that a trade can assume.
// Code is ordinal: a trade only moves to higher codes, Failed is the escape
// hatch reachable from any of them.
type TradeStatus struct {
	Code   int
	Failed bool
}

// Trade is a bilateral stateful agreement instantiated once an offer is
// taken. It is owned by the trade manager and mutated only by the protocol
// driving it.
type Trade struct {
	Id           string
	OfferId      string
	Role         string
	Direction    string
	BaseAsset    string
	QuoteAsset   string
	Amount       uint64
	Price        string
	MakerFee     uint64
	TakerFee     uint64
	FeeAsset     string
	PeerAddress  string
	PeerPubKey   []byte
	Status       TradeStatus
	ErrorMessage string
	FeeTxId      string
	DepositTxId  string
	PayoutTxId   string
	OpenTime     int64
	CloseTime    int64
}

// NewTradeId derives the trade identity from the offer and the taker's node
// address. The offer already pins the maker, so both sides compute the same
// id without coordination.
func NewTradeId(offerId, takerAddress string) string {
	digest := crypto.Hash([]byte(offerId + "@" + takerAddress))
	return offerId + "-" + hex.EncodeToString(digest[:8])
}

// NewTrade instantiates a trade for the given offer, role and counterpart.
// takerAddress is the taking node's own address on the taker side and the
// sender of the take request on the maker side.
func NewTrade(
	offer *Offer, role, peerAddress, takerAddress string, amount uint64,
) *Trade {
	return &Trade{
		Id:          NewTradeId(offer.Id, takerAddress),
		OfferId:     offer.Id,
		Role:        role,
		Direction:   offer.Direction,
		BaseAsset:   offer.BaseAsset,
		QuoteAsset:  offer.QuoteAsset,
		Amount:      amount,
		Price:       offer.Price,
		MakerFee:    offer.MakerFee,
		TakerFee:    offer.TakerFee,
		FeeAsset:    offer.FeeAsset,
		PeerAddress: peerAddress,
		Status:      TradeStatus{Code: TradeStatusCodePreparation},
		OpenTime:    time.Now().UnixNano() / int64(time.Millisecond),
	}
}

// AdvanceTo moves the trade to the given status code. Re-applying the current
// code is a no-op; moving backwards is a logic error and leaves the trade
// untouched.
func (t *Trade) AdvanceTo(code int) error {
	if code == t.Status.Code {
		return nil
	}
	if code < t.Status.Code {
		return fmt.Errorf(
			"%w: %d -> %d", ErrTradeStateRegression, t.Status.Code, code,
		)
	}
	t.Status.Code = code
	if code == TradeStatusCodeCompleted {
		t.CloseTime = time.Now().UnixNano() / int64(time.Millisecond)
	}
	return nil
}

// Fail marks the trade as failed and records the human-readable reason. The
// status code is kept so the failure phase stays visible.
func (t *Trade) Fail(errorMessage string) {
	if t.Status.Failed {
		return
	}
	t.Status.Failed = true
	t.ErrorMessage = errorMessage
	t.CloseTime = time.Now().UnixNano() / int64(time.Millisecond)
}

// IsCompleted returns whether the trade reached its terminal happy state.
func (t *Trade) IsCompleted() bool {
	return t.Status.Code == TradeStatusCodeCompleted && !t.Status.Failed
}

// IsFailed returns whether the trade was aborted.
func (t *Trade) IsFailed() bool {
	return t.Status.Failed
}

// IsOpen returns whether the trade still has an active protocol run.
func (t *Trade) IsOpen() bool {
	return !t.IsCompleted() && !t.IsFailed()
}

// IsMaker returns whether this side published the offer.
func (t *Trade) IsMaker() bool {
	return t.Role == RoleMaker
}
