package protocol

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/peerdex-network/peerdex-daemon/internal/core/ports"
	"github.com/peerdex-network/peerdex-daemon/pkg/taskrunner"
)

// encodeForPeer seals the message for the trade counterpart. Only failure
// notices sent before the key exchange go out in the clear.
func encodeForPeer(pm *ProcessModel, msg TradeMessage) (ports.Envelope, error) {
	if len(pm.PeerPubKey) > 0 {
		return SealMessage(pm.Transport.Address(), msg, pm.PeerPubKey)
	}
	return EncodeMessage(pm.Transport.Address(), msg)
}

// sendTask builds a task that seals the message returned by build and sends
// it to the trade peer. The task completes on delivery confirmation.
func sendTask(name string, build func(pm *ProcessModel) TradeMessage) TaskFactory {
	return func(pm *ProcessModel) taskrunner.Task {
		return taskrunner.Task{Name: name, Run: func(h *taskrunner.Handle) {
			msg := build(pm)
			env, err := encodeForPeer(pm, msg)
			if err != nil {
				h.Fail(err)
				return
			}
			peer := ports.NodeAddress(pm.Trade.PeerAddress)
			pm.Transport.Send(peer, env, func(err error) {
				if err != nil {
					h.Fail(fmt.Errorf("sending %s to %s: %w", env.Type, peer, err))
					return
				}
				h.Complete()
			})
		}}
	}
}

// publishTask builds a task that broadcasts a transaction through the wallet
// and records the confirmed id via after. Completion is asynchronous: it
// fires from the wallet's broadcast callback.
func publishTask(
	name string,
	get func(pm *ProcessModel) ports.Transaction,
	after func(pm *ProcessModel, txId string),
) TaskFactory {
	return func(pm *ProcessModel) taskrunner.Task {
		return taskrunner.Task{Name: name, Run: func(h *taskrunner.Handle) {
			pm.Wallet.BroadcastTransaction(get(pm), func(txId string, err error) {
				if err != nil {
					h.Fail(fmt.Errorf("broadcasting: %w", err))
					return
				}
				after(pm, txId)
				h.Complete()
			})
		}}
	}
}

// advance moves the trade to an intermediate status inside a step. A
// regression here is a definition bug, logged and otherwise ignored.
func advance(pm *ProcessModel, code int) {
	if err := pm.Trade.AdvanceTo(code); err != nil {
		log.WithError(err).Errorf("protocol: advancing trade %s", pm.Trade.Id)
	}
}
