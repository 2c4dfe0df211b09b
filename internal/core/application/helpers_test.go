package application_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	"github.com/peerdex-network/peerdex-daemon/internal/core/application"
	"github.com/peerdex-network/peerdex-daemon/internal/core/domain"
	"github.com/peerdex-network/peerdex-daemon/internal/core/ports"
	"github.com/peerdex-network/peerdex-daemon/internal/core/store"
	"github.com/peerdex-network/peerdex-daemon/internal/infrastructure/storage/db/inmemory"
	"github.com/peerdex-network/peerdex-daemon/internal/infrastructure/transport/inproc"
	"github.com/peerdex-network/peerdex-daemon/pkg/crypto"
	"github.com/peerdex-network/peerdex-daemon/pkg/scheduler"
)

var errOutOfFunds = errors.New("insufficient funds")

type fakeWallet struct {
	name       string
	txSeq      int
	depositErr error
}

func (w *fakeWallet) nextId() string {
	w.txSeq++
	return fmt.Sprintf("%s-tx-%d", w.name, w.txSeq)
}

func (w *fakeWallet) CreateFeeTransaction(
	amount uint64, feeAsset string,
) (ports.Transaction, error) {
	return ports.Transaction{
		Raw: []byte(w.name + "/fee/" + feeAsset),
		Inputs: []ports.TxInput{
			{TxId: w.name + "-funding", Vout: 0, Amount: amount},
		},
	}, nil
}

func (w *fakeWallet) CreateDepositTransaction(
	amount uint64, makerPubKey, takerPubKey []byte, peerInputs []ports.TxInput,
) (ports.Transaction, error) {
	if w.depositErr != nil {
		return ports.Transaction{}, w.depositErr
	}
	return ports.Transaction{
		Raw:    []byte(fmt.Sprintf("deposit/%d/%x/%x", amount, makerPubKey, takerPubKey)),
		Inputs: peerInputs,
	}, nil
}

func (w *fakeWallet) CreatePayoutTransaction(
	deposit ports.Transaction, makerPubKey, takerPubKey []byte,
) (ports.Transaction, error) {
	return ports.Transaction{Raw: []byte("payout/" + deposit.TxId)}, nil
}

func (w *fakeWallet) SignInputs(tx ports.Transaction) (ports.Transaction, error) {
	raw := make([]byte, 0, len(tx.Raw))
	raw = append(raw, tx.Raw...)
	tx.Raw = append(raw, []byte("+"+w.name+"-sig")...)
	return tx, nil
}

func (w *fakeWallet) BroadcastTransaction(
	tx ports.Transaction, done func(txId string, err error),
) {
	done(w.nextId(), nil)
}

func (w *fakeWallet) Balance() (uint64, error) { return 100_000_000, nil }

// testNode is one full node on the in-process network: store, offer book and
// trade manager sharing one virtual-time scheduler.
type testNode struct {
	addr      ports.NodeAddress
	key       *btcec.PrivateKey
	transport ports.PeerTransport
	store     *store.Store
	book      *application.OfferBookService
	trades    *application.TradeManager
	wallet    *fakeWallet
	tradeRepo domain.TradeRepository
}

func newTestNode(
	t *testing.T, network *inproc.Network, sched *scheduler.Manual,
	addr ports.NodeAddress,
) *testNode {
	t.Helper()
	key, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	transport := network.Join(addr)
	st := store.NewStore(store.Opts{
		Transport:           transport,
		Scheduler:           sched,
		Sequences:           inmemory.NewSequenceRepositoryImpl(),
		SweepInterval:       time.Minute,
		BroadcastsPerSecond: -1,
	})
	book := application.NewOfferBookService(application.OfferBookOpts{
		Store:      st,
		Scheduler:  sched,
		Repository: inmemory.NewOfferRepositoryImpl(),
		OwnKey:     key,
		Address:    addr,
		OfferTTL:   10 * time.Minute,
	})
	wallet := &fakeWallet{name: string(addr)}
	tradeRepo := inmemory.NewTradeRepositoryImpl()
	trades := application.NewTradeManager(application.TradeManagerOpts{
		Transport: transport,
		Scheduler: sched,
		Wallet:    wallet,
		OfferBook: book,
		Trades:    tradeRepo,
		OwnKey:    key,
	})

	st.Start()
	book.Start()
	trades.Start()
	t.Cleanup(func() {
		trades.Stop()
		book.Stop()
		st.Stop()
	})
	return &testNode{
		addr:      addr,
		key:       key,
		transport: transport,
		store:     st,
		book:      book,
		trades:    trades,
		wallet:    wallet,
		tradeRepo: tradeRepo,
	}
}

func testOfferOpts() domain.OfferOpts {
	return domain.OfferOpts{
		Direction:  domain.OfferDirectionSell,
		BaseAsset:  "BTC",
		QuoteAsset: "EUR",
		Amount:     1_000_000,
		Price:      "38500.25",
		MakerFee:   500,
		TakerFee:   700,
		FeeAsset:   "BTC",
	}
}
