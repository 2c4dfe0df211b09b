package protocol

import (
	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/peerdex-network/peerdex-daemon/internal/core/domain"
	"github.com/peerdex-network/peerdex-daemon/internal/core/ports"
)

// OfferBook is the slice of the offer management surface the protocol needs:
// taking an offer down when a trade locks it, and putting it back up when the
// trade falls through after the removal.
type OfferBook interface {
	WithdrawOffer(offerId string) error
	RepublishOffer(offer *domain.Offer) error
}

// ProcessModel is the shared mutable state of one protocol run. Tasks read
// and write it; all access happens on the scheduler goroutine.
type ProcessModel struct {
	Trade     *domain.Trade
	Offer     *domain.Offer
	Wallet    ports.WalletService
	Transport ports.PeerTransport
	OfferBook OfferBook

	// OwnKey signs this side's escrow input and opens sealed messages.
	// PeerPubKey seals outbound messages for the counterpart: the taker
	// starts with the offer owner's key, the maker learns the taker's key
	// from the opening request.
	OwnKey     *btcec.PrivateKey
	PeerPubKey []byte

	// Received is the message that triggered the currently running pipeline,
	// nil for the user-initiated opening pipeline.
	Received TradeMessage

	FeeTx       ports.Transaction
	DepositTx   ports.Transaction
	PayoutTx    ports.Transaction
	TakerInputs []ports.TxInput

	// OfferRemoved marks that the maker pulled the offer off the book, so a
	// failure afterwards must republish it.
	OfferRemoved bool
}

// OwnPubKey returns the compressed public key of this side's escrow key.
func (pm *ProcessModel) OwnPubKey() []byte {
	return pm.OwnKey.PubKey().SerializeCompressed()
}
