package protocol

import (
	"errors"
	"fmt"

	"github.com/peerdex-network/peerdex-daemon/internal/core/domain"
	"github.com/peerdex-network/peerdex-daemon/internal/core/ports"
	"github.com/peerdex-network/peerdex-daemon/pkg/taskrunner"
)

// takerApplyFilter re-validates the offer and the requested amount before
// committing any funds.
func takerApplyFilter(pm *ProcessModel) taskrunner.Task {
	return taskrunner.Task{Name: "taker/apply-filter", Run: func(h *taskrunner.Handle) {
		if err := pm.Offer.Validate(); err != nil {
			h.Fail(err)
			return
		}
		if pm.Trade.Amount == 0 || pm.Trade.Amount > pm.Offer.Amount {
			h.Fail(fmt.Errorf(
				"%w: %d not in (0, %d]",
				domain.ErrOfferInvalidAmount, pm.Trade.Amount, pm.Offer.Amount,
			))
			return
		}
		h.Complete()
	}}
}

// takerCreateFeeTx builds the taker fee transaction. The wallet reserves the
// escrow funding inputs alongside the fee and reports them on the returned
// transaction, which is where the maker-bound inputs come from.
func takerCreateFeeTx(pm *ProcessModel) taskrunner.Task {
	return taskrunner.Task{Name: "taker/create-fee-tx", Run: func(h *taskrunner.Handle) {
		feeTx, err := pm.Wallet.CreateFeeTransaction(
			pm.Trade.TakerFee, pm.Trade.FeeAsset,
		)
		if err != nil {
			h.Fail(fmt.Errorf("creating fee transaction: %w", err))
			return
		}
		pm.FeeTx = feeTx
		pm.TakerInputs = feeTx.Inputs
		h.Complete()
	}}
}

var takerPublishFeeTx = publishTask(
	"taker/publish-fee-tx",
	func(pm *ProcessModel) ports.Transaction { return pm.FeeTx },
	func(pm *ProcessModel, txId string) {
		pm.Trade.FeeTxId = txId
		advance(pm, domain.TradeStatusCodeFeePublished)
	},
)

var takerSendTakeOfferRequest = sendTask(
	"taker/send-take-offer-request",
	func(pm *ProcessModel) TradeMessage {
		return TakeOfferRequest{
			TradeId:      pm.Trade.Id,
			OfferId:      pm.Offer.Id,
			Amount:       pm.Trade.Amount,
			Price:        pm.Trade.Price,
			TakerPubKey:  pm.OwnPubKey(),
			TakerFeeTxId: pm.Trade.FeeTxId,
			TakerInputs:  pm.TakerInputs,
		}
	},
)

// takerVerifyMakerResponse checks the maker's answer and adopts its escrow
// key and deposit transaction.
func takerVerifyMakerResponse(pm *ProcessModel) taskrunner.Task {
	return taskrunner.Task{Name: "taker/verify-maker-response", Run: func(h *taskrunner.Handle) {
		msg, ok := pm.Received.(TakeOfferResponse)
		if !ok {
			h.Fail(fmt.Errorf("unexpected message %T", pm.Received))
			return
		}
		if len(msg.MakerPubKey) == 0 {
			h.Fail(errors.New("maker response without escrow key"))
			return
		}
		if len(msg.DepositTx.Raw) == 0 {
			h.Fail(errors.New("maker response without deposit transaction"))
			return
		}
		pm.PeerPubKey = msg.MakerPubKey
		pm.Trade.PeerPubKey = msg.MakerPubKey
		pm.DepositTx = msg.DepositTx
		h.Complete()
	}}
}

func takerSignDeposit(pm *ProcessModel) taskrunner.Task {
	return taskrunner.Task{Name: "taker/sign-deposit", Run: func(h *taskrunner.Handle) {
		signed, err := pm.Wallet.SignInputs(pm.DepositTx)
		if err != nil {
			h.Fail(fmt.Errorf("signing deposit: %w", err))
			return
		}
		pm.DepositTx = signed
		advance(pm, domain.TradeStatusCodeDepositSigned)
		h.Complete()
	}}
}

var takerPublishDeposit = publishTask(
	"taker/publish-deposit",
	func(pm *ProcessModel) ports.Transaction { return pm.DepositTx },
	func(pm *ProcessModel, txId string) {
		pm.DepositTx.TxId = txId
		pm.Trade.DepositTxId = txId
		advance(pm, domain.TradeStatusCodeDepositPublished)
	},
)

var takerSendDepositPublished = sendTask(
	"taker/send-deposit-published",
	func(pm *ProcessModel) TradeMessage {
		return DepositPublishedMessage{
			TradeId:     pm.Trade.Id,
			DepositTxId: pm.Trade.DepositTxId,
		}
	},
)

// takerVerifyPayout records the payout the maker published, which settles
// the trade.
func takerVerifyPayout(pm *ProcessModel) taskrunner.Task {
	return taskrunner.Task{Name: "taker/verify-payout", Run: func(h *taskrunner.Handle) {
		msg, ok := pm.Received.(PayoutPublishedMessage)
		if !ok {
			h.Fail(fmt.Errorf("unexpected message %T", pm.Received))
			return
		}
		if msg.PayoutTxId == "" {
			h.Fail(errors.New("payout notification without transaction id"))
			return
		}
		pm.Trade.PayoutTxId = msg.PayoutTxId
		advance(pm, domain.TradeStatusCodePayoutPublished)
		h.Complete()
	}}
}
