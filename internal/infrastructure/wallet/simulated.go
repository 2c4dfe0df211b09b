package wallet

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/peerdex-network/peerdex-daemon/internal/core/ports"
)

// Simulated is a funding service stand-in for networks running without a
// real funding backend. Transactions get fresh ids and the balance is
// tracked in memory; nothing is ever really broadcast.
type Simulated struct {
	mu      sync.Mutex
	balance uint64
}

var _ ports.WalletService = (*Simulated)(nil)

func NewSimulated(initialBalance uint64) *Simulated {
	return &Simulated{balance: initialBalance}
}

func (w *Simulated) CreateFeeTransaction(
	amount uint64, feeAsset string,
) (ports.Transaction, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if amount > w.balance {
		return ports.Transaction{}, fmt.Errorf(
			"insufficient funds: %d available, %d needed", w.balance, amount,
		)
	}
	w.balance -= amount
	txId := newTxId()
	return ports.Transaction{
		TxId: txId,
		Raw:  []byte(txId),
		Inputs: []ports.TxInput{
			{TxId: newTxId(), Vout: 0, Amount: amount},
		},
	}, nil
}

func (w *Simulated) CreateDepositTransaction(
	amount uint64, makerPubKey, takerPubKey []byte, peerInputs []ports.TxInput,
) (ports.Transaction, error) {
	if len(makerPubKey) == 0 || len(takerPubKey) == 0 {
		return ports.Transaction{}, fmt.Errorf("missing escrow keys")
	}
	txId := newTxId()
	return ports.Transaction{
		TxId:   txId,
		Raw:    []byte(txId),
		Inputs: peerInputs,
	}, nil
}

func (w *Simulated) CreatePayoutTransaction(
	deposit ports.Transaction, makerPubKey, takerPubKey []byte,
) (ports.Transaction, error) {
	if deposit.TxId == "" {
		return ports.Transaction{}, fmt.Errorf("missing deposit transaction")
	}
	txId := newTxId()
	return ports.Transaction{TxId: txId, Raw: []byte(txId)}, nil
}

func (w *Simulated) SignInputs(tx ports.Transaction) (ports.Transaction, error) {
	return tx, nil
}

func (w *Simulated) BroadcastTransaction(
	tx ports.Transaction, done func(txId string, err error),
) {
	done(tx.TxId, nil)
}

func (w *Simulated) Balance() (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balance, nil
}

func newTxId() string {
	return uuid.NewString()
}
