package protocol

import (
	"errors"
	"fmt"

	"github.com/peerdex-network/peerdex-daemon/internal/core/domain"
	"github.com/peerdex-network/peerdex-daemon/internal/core/ports"
	"github.com/peerdex-network/peerdex-daemon/pkg/taskrunner"
)

// makerApplyFilter checks the take request against the published offer and
// adopts the taker's escrow key and funding inputs.
func makerApplyFilter(pm *ProcessModel) taskrunner.Task {
	return taskrunner.Task{Name: "maker/apply-filter", Run: func(h *taskrunner.Handle) {
		msg, ok := pm.Received.(TakeOfferRequest)
		if !ok {
			h.Fail(fmt.Errorf("unexpected message %T", pm.Received))
			return
		}
		if msg.OfferId != pm.Offer.Id {
			h.Fail(fmt.Errorf("take request for foreign offer %s", msg.OfferId))
			return
		}
		if msg.Amount == 0 || msg.Amount > pm.Offer.Amount {
			h.Fail(fmt.Errorf(
				"%w: %d not in (0, %d]",
				domain.ErrOfferInvalidAmount, msg.Amount, pm.Offer.Amount,
			))
			return
		}
		if msg.Price != pm.Offer.Price {
			h.Fail(fmt.Errorf(
				"%w: taker offered %s, published %s",
				domain.ErrOfferInvalidPrice, msg.Price, pm.Offer.Price,
			))
			return
		}
		if len(msg.TakerPubKey) == 0 {
			h.Fail(errors.New("take request without escrow key"))
			return
		}
		if len(msg.TakerInputs) == 0 {
			h.Fail(errors.New("take request without funding inputs"))
			return
		}
		pm.PeerPubKey = msg.TakerPubKey
		pm.Trade.PeerPubKey = msg.TakerPubKey
		pm.TakerInputs = msg.TakerInputs
		h.Complete()
	}}
}

// makerVerifyTakerFee checks the taker paid its trade fee before the maker
// commits any funds of its own.
func makerVerifyTakerFee(pm *ProcessModel) taskrunner.Task {
	return taskrunner.Task{Name: "maker/verify-taker-fee", Run: func(h *taskrunner.Handle) {
		msg := pm.Received.(TakeOfferRequest)
		if msg.TakerFeeTxId == "" {
			h.Fail(errors.New("take request without fee transaction"))
			return
		}
		pm.Trade.FeeTxId = msg.TakerFeeTxId
		advance(pm, domain.TradeStatusCodeFeePublished)
		h.Complete()
	}}
}

// makerWithdrawOffer pulls the offer off the book so no second taker can
// grab it while this trade runs. From here on a failure republishes it.
func makerWithdrawOffer(pm *ProcessModel) taskrunner.Task {
	return taskrunner.Task{Name: "maker/withdraw-offer", Run: func(h *taskrunner.Handle) {
		if err := pm.OfferBook.WithdrawOffer(pm.Offer.Id); err != nil {
			h.Fail(fmt.Errorf("withdrawing offer: %w", err))
			return
		}
		pm.OfferRemoved = true
		h.Complete()
	}}
}

func makerCreateDeposit(pm *ProcessModel) taskrunner.Task {
	return taskrunner.Task{Name: "maker/create-deposit", Run: func(h *taskrunner.Handle) {
		deposit, err := pm.Wallet.CreateDepositTransaction(
			pm.Trade.Amount, pm.OwnPubKey(), pm.PeerPubKey, pm.TakerInputs,
		)
		if err != nil {
			h.Fail(fmt.Errorf("creating deposit: %w", err))
			return
		}
		pm.DepositTx = deposit
		h.Complete()
	}}
}

func makerSignDeposit(pm *ProcessModel) taskrunner.Task {
	return taskrunner.Task{Name: "maker/sign-deposit", Run: func(h *taskrunner.Handle) {
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

var makerSendTakeOfferResponse = sendTask(
	"maker/send-take-offer-response",
	func(pm *ProcessModel) TradeMessage {
		return TakeOfferResponse{
			TradeId:     pm.Trade.Id,
			MakerPubKey: pm.OwnPubKey(),
			DepositTx:   pm.DepositTx,
		}
	},
)

// makerVerifyDepositPublished records the escrow funding the taker reported
// published.
func makerVerifyDepositPublished(pm *ProcessModel) taskrunner.Task {
	return taskrunner.Task{Name: "maker/verify-deposit-published", Run: func(h *taskrunner.Handle) {
		msg, ok := pm.Received.(DepositPublishedMessage)
		if !ok {
			h.Fail(fmt.Errorf("unexpected message %T", pm.Received))
			return
		}
		if msg.DepositTxId == "" {
			h.Fail(errors.New("deposit notification without transaction id"))
			return
		}
		pm.DepositTx.TxId = msg.DepositTxId
		pm.Trade.DepositTxId = msg.DepositTxId
		advance(pm, domain.TradeStatusCodeDepositPublished)
		h.Complete()
	}}
}

func makerCreatePayout(pm *ProcessModel) taskrunner.Task {
	return taskrunner.Task{Name: "maker/create-payout", Run: func(h *taskrunner.Handle) {
		payout, err := pm.Wallet.CreatePayoutTransaction(
			pm.DepositTx, pm.OwnPubKey(), pm.PeerPubKey,
		)
		if err != nil {
			h.Fail(fmt.Errorf("creating payout: %w", err))
			return
		}
		pm.PayoutTx = payout
		h.Complete()
	}}
}

func makerSignPayout(pm *ProcessModel) taskrunner.Task {
	return taskrunner.Task{Name: "maker/sign-payout", Run: func(h *taskrunner.Handle) {
		signed, err := pm.Wallet.SignInputs(pm.PayoutTx)
		if err != nil {
			h.Fail(fmt.Errorf("signing payout: %w", err))
			return
		}
		pm.PayoutTx = signed
		h.Complete()
	}}
}

var makerPublishPayout = publishTask(
	"maker/publish-payout",
	func(pm *ProcessModel) ports.Transaction { return pm.PayoutTx },
	func(pm *ProcessModel, txId string) {
		pm.PayoutTx.TxId = txId
		pm.Trade.PayoutTxId = txId
		advance(pm, domain.TradeStatusCodePayoutPublished)
	},
)

var makerSendPayoutPublished = sendTask(
	"maker/send-payout-published",
	func(pm *ProcessModel) TradeMessage {
		return PayoutPublishedMessage{
			TradeId:    pm.Trade.Id,
			PayoutTxId: pm.Trade.PayoutTxId,
		}
	},
)
