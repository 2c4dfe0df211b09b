package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/google/uuid"

	"github.com/peerdex-network/peerdex-daemon/internal/core/ports"
	"github.com/peerdex-network/peerdex-daemon/pkg/crypto"
)

// Wire types of the trade protocol messages.
const (
	MsgTakeOfferRequest  = "trade/take-offer-request"
	MsgTakeOfferResponse = "trade/take-offer-response"
	MsgDepositPublished  = "trade/deposit-published"
	MsgPayoutPublished   = "trade/payout-published"
	MsgTradeFailed       = "trade/failed"
)

const envelopeVersion = 1

// ErrUnknownMessage is returned when an envelope does not carry a trade
// protocol message.
var ErrUnknownMessage = errors.New("not a trade protocol message")

// TradeMessage is the tagged union of protocol message kinds. Every message
// carries the trade id it belongs to; the envelope adds the unique message
// uid and the sender address.
type TradeMessage interface {
	GetTradeId() string
}

// TakeOfferRequest opens a trade: the taker proves it paid its fee and
// contributes its escrow key and funding inputs.
type TakeOfferRequest struct {
	TradeId      string          `json:"tradeId"`
	OfferId      string          `json:"offerId"`
	Amount       uint64          `json:"amount"`
	Price        string          `json:"price"`
	TakerPubKey  []byte          `json:"takerPubKey"`
	TakerFeeTxId string          `json:"takerFeeTxId"`
	TakerInputs  []ports.TxInput `json:"takerInputs"`
}

func (m TakeOfferRequest) GetTradeId() string { return m.TradeId }

// TakeOfferResponse answers a TakeOfferRequest with the maker's escrow key
// and the maker-signed deposit transaction for the taker to co-sign.
type TakeOfferResponse struct {
	TradeId     string            `json:"tradeId"`
	MakerPubKey []byte            `json:"makerPubKey"`
	DepositTx   ports.Transaction `json:"depositTx"`
}

func (m TakeOfferResponse) GetTradeId() string { return m.TradeId }

// DepositPublishedMessage tells the maker the fully signed escrow funding
// transaction hit the funding network.
type DepositPublishedMessage struct {
	TradeId     string `json:"tradeId"`
	DepositTxId string `json:"depositTxId"`
}

func (m DepositPublishedMessage) GetTradeId() string { return m.TradeId }

// PayoutPublishedMessage closes the happy path: the maker published the
// payout spending the escrow back to both parties.
type PayoutPublishedMessage struct {
	TradeId    string `json:"tradeId"`
	PayoutTxId string `json:"payoutTxId"`
}

func (m PayoutPublishedMessage) GetTradeId() string { return m.TradeId }

// TradeFailedMessage notifies the peer that this side aborted the trade.
type TradeFailedMessage struct {
	TradeId      string `json:"tradeId"`
	ErrorMessage string `json:"errorMessage"`
}

func (m TradeFailedMessage) GetTradeId() string { return m.TradeId }

// MessageType returns the wire type tag of a protocol message.
func MessageType(msg TradeMessage) (string, error) {
	switch msg.(type) {
	case TakeOfferRequest:
		return MsgTakeOfferRequest, nil
	case TakeOfferResponse:
		return MsgTakeOfferResponse, nil
	case DepositPublishedMessage:
		return MsgDepositPublished, nil
	case PayoutPublishedMessage:
		return MsgPayoutPublished, nil
	case TradeFailedMessage:
		return MsgTradeFailed, nil
	default:
		return "", fmt.Errorf("unhandled message type %T", msg)
	}
}

// sealedPayload is the wire shape of an end-to-end encrypted message: the
// serialized message, hybrid-sealed for the counterpart's key.
type sealedPayload struct {
	Sealed []byte `json:"sealed"`
}

// EncodeMessage wraps a protocol message into a wire envelope with a fresh
// message uid. The payload travels in the clear; direct trade traffic uses
// SealMessage instead.
func EncodeMessage(
	sender ports.NodeAddress, msg TradeMessage,
) (ports.Envelope, error) {
	msgType, err := MessageType(msg)
	if err != nil {
		return ports.Envelope{}, err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return ports.Envelope{}, fmt.Errorf("serializing %s: %w", msgType, err)
	}
	return ports.Envelope{
		Version: envelopeVersion,
		Type:    msgType,
		UID:     uuid.New().String(),
		Sender:  sender,
		Payload: payload,
	}, nil
}

// SealMessage wraps a protocol message like EncodeMessage but encrypts the
// payload for the counterpart's key, so relays see the type tag and nothing
// of the trade terms.
func SealMessage(
	sender ports.NodeAddress, msg TradeMessage, peerPubKey []byte,
) (ports.Envelope, error) {
	msgType, err := MessageType(msg)
	if err != nil {
		return ports.Envelope{}, err
	}
	plaintext, err := json.Marshal(msg)
	if err != nil {
		return ports.Envelope{}, fmt.Errorf("serializing %s: %w", msgType, err)
	}
	blob, err := crypto.EncryptHybrid(peerPubKey, plaintext)
	if err != nil {
		return ports.Envelope{}, fmt.Errorf("sealing %s: %w", msgType, err)
	}
	payload, err := json.Marshal(sealedPayload{Sealed: blob})
	if err != nil {
		return ports.Envelope{}, fmt.Errorf("serializing %s: %w", msgType, err)
	}
	return ports.Envelope{
		Version: envelopeVersion,
		Type:    msgType,
		UID:     uuid.New().String(),
		Sender:  sender,
		Payload: payload,
	}, nil
}

// DecodeMessage extracts the protocol message out of an envelope, opening
// sealed payloads with ownKey. It returns ErrUnknownMessage for envelopes of
// other subsystems; a payload that cannot be opened or parsed is a validation
// failure for the caller to drop.
func DecodeMessage(
	env ports.Envelope, ownKey *btcec.PrivateKey,
) (TradeMessage, error) {
	var msg TradeMessage
	switch env.Type {
	case MsgTakeOfferRequest:
		msg = &TakeOfferRequest{}
	case MsgTakeOfferResponse:
		msg = &TakeOfferResponse{}
	case MsgDepositPublished:
		msg = &DepositPublishedMessage{}
	case MsgPayoutPublished:
		msg = &PayoutPublishedMessage{}
	case MsgTradeFailed:
		msg = &TradeFailedMessage{}
	default:
		return nil, ErrUnknownMessage
	}
	payload := []byte(env.Payload)
	var sealed sealedPayload
	if err := json.Unmarshal(payload, &sealed); err == nil && len(sealed.Sealed) > 0 {
		if ownKey == nil {
			return nil, fmt.Errorf("sealed %s without a decryption key", env.Type)
		}
		plaintext, err := crypto.DecryptHybrid(ownKey, sealed.Sealed)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", env.Type, err)
		}
		payload = plaintext
	}
	if err := json.Unmarshal(payload, msg); err != nil {
		return nil, fmt.Errorf("deserializing %s: %w", env.Type, err)
	}
	switch m := msg.(type) {
	case *TakeOfferRequest:
		return *m, nil
	case *TakeOfferResponse:
		return *m, nil
	case *DepositPublishedMessage:
		return *m, nil
	case *PayoutPublishedMessage:
		return *m, nil
	case *TradeFailedMessage:
		return *m, nil
	}
	return nil, ErrUnknownMessage
}
