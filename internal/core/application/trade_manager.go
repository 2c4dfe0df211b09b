package application

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	log "github.com/sirupsen/logrus"

	"github.com/peerdex-network/peerdex-daemon/internal/core/domain"
	"github.com/peerdex-network/peerdex-daemon/internal/core/ports"
	"github.com/peerdex-network/peerdex-daemon/internal/core/protocol"
	"github.com/peerdex-network/peerdex-daemon/pkg/scheduler"
)

// TradeManagerOpts groups the collaborators of a TradeManager.
type TradeManagerOpts struct {
	Transport ports.PeerTransport
	Scheduler scheduler.Scheduler
	Wallet    ports.WalletService
	OfferBook *OfferBookService
	Trades    domain.TradeRepository
	OwnKey    *btcec.PrivateKey
}

// TradeManager owns the protocol runs of this node's trades. It instantiates
// a taker run on TakeOffer, a maker run when a take request for one of the
// node's own offers arrives, and routes every inbound trade message to the
// run owning its trade id. Trades are persisted after every state-affecting
// mutation.
type TradeManager struct {
	transport ports.PeerTransport
	sched     scheduler.Scheduler
	wallet    ports.WalletService
	offerBook *OfferBookService
	trades    domain.TradeRepository
	ownKey    *btcec.PrivateKey

	open           map[string]*protocolRun
	removeListener func()
}

type protocolRun struct {
	trade *domain.Trade
	proto *protocol.Protocol
}

// NewTradeManager returns a manager ready to be started.
func NewTradeManager(opts TradeManagerOpts) *TradeManager {
	return &TradeManager{
		transport: opts.Transport,
		sched:     opts.Scheduler,
		wallet:    opts.Wallet,
		offerBook: opts.OfferBook,
		trades:    opts.Trades,
		ownKey:    opts.OwnKey,
		open:      map[string]*protocolRun{},
	}
}

// Start registers the trade message listener.
func (m *TradeManager) Start() {
	m.removeListener = m.transport.AddMessageListener(m.onEnvelope)
}

// Stop unregisters the listener. Open runs keep their timers; a restart
// recovers trades from the repository as failed-in-flight.
func (m *TradeManager) Stop() {
	if m.removeListener != nil {
		m.removeListener()
	}
}

// TakeOffer opens a taker-side trade over the given offer. The returned
// trade is a live object mutated by the protocol run; read its terminal
// state through the repository.
func (m *TradeManager) TakeOffer(
	offerId string, amount uint64,
) (*domain.Trade, error) {
	var trade *domain.Trade
	var err error
	done := make(chan struct{})
	m.sched.Do(func() {
		trade, err = m.takeOffer(offerId, amount)
		close(done)
	})
	<-done
	return trade, err
}

// OpenTrades returns the trades with a live protocol run.
func (m *TradeManager) OpenTrades() []*domain.Trade {
	var trades []*domain.Trade
	done := make(chan struct{})
	m.sched.Do(func() {
		for _, run := range m.open {
			trades = append(trades, run.trade)
		}
		close(done)
	})
	<-done
	return trades
}

// ClosedTrades returns the completed trades from the repository.
func (m *TradeManager) ClosedTrades(
	ctx context.Context,
) ([]*domain.Trade, error) {
	return m.trades.GetClosedTrades(ctx)
}

// FailedTrades returns the aborted trades from the repository.
func (m *TradeManager) FailedTrades(
	ctx context.Context,
) ([]*domain.Trade, error) {
	return m.trades.GetFailedTrades(ctx)
}

func (m *TradeManager) takeOffer(
	offerId string, amount uint64,
) (*domain.Trade, error) {
	offer, ok := m.offerBook.getOffer(offerId)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrOfferNotFound, offerId)
	}
	if offer.MakerAddress == string(m.transport.Address()) {
		return nil, fmt.Errorf("cannot take own offer %s", offerId)
	}
	trade := domain.NewTrade(
		offer, domain.RoleTaker, offer.MakerAddress,
		string(m.transport.Address()), amount,
	)
	if _, exists := m.open[trade.Id]; exists {
		return nil, fmt.Errorf("trade %s is already in progress", trade.Id)
	}
	run, err := m.startRun(trade, offer)
	if err != nil {
		return nil, err
	}
	run.proto.Start()
	return trade, nil
}

// onTakeOfferRequest instantiates the maker side of a trade over one of this
// node's own offers.
func (m *TradeManager) onTakeOfferRequest(
	req protocol.TakeOfferRequest, uid string, from ports.NodeAddress,
) {
	offer, ok := m.offerBook.ownOffer(req.OfferId)
	if !ok {
		log.Debugf(
			"trademanager: dropping take request for unknown offer %s from %s",
			req.OfferId, from,
		)
		return
	}
	if req.TradeId != domain.NewTradeId(offer.Id, string(from)) {
		log.Warnf(
			"trademanager: dropping take request with mismatched trade id from %s",
			from,
		)
		return
	}
	trade := domain.NewTrade(
		offer, domain.RoleMaker, string(from), string(from), req.Amount,
	)
	run, err := m.startRun(trade, offer)
	if err != nil {
		log.WithError(err).Errorf(
			"trademanager: starting maker run for offer %s", offer.Id,
		)
		return
	}
	run.proto.HandleMessage(req, uid, from)
}

func (m *TradeManager) startRun(
	trade *domain.Trade, offer *domain.Offer,
) (*protocolRun, error) {
	def, err := protocol.DefinitionFor(trade.Role)
	if err != nil {
		return nil, err
	}
	// The taker seals for the offer owner's key from the first message on;
	// the maker learns the taker's key from the opening request.
	var peerPubKey []byte
	if trade.Role == domain.RoleTaker {
		peerPubKey = offer.OwnerPubKey
	}
	proto := protocol.New(protocol.Opts{
		Model: &protocol.ProcessModel{
			Trade:      trade,
			Offer:      offer,
			Wallet:     m.wallet,
			Transport:  m.transport,
			OfferBook:  m.offerBook,
			OwnKey:     m.ownKey,
			PeerPubKey: peerPubKey,
		},
		Definition:   def,
		Scheduler:    m.sched,
		OnUpdate:     m.persistTrade,
		OnTerminated: m.onTerminated,
	})
	run := &protocolRun{trade: trade, proto: proto}
	m.open[trade.Id] = run

	if err := m.trades.AddTrade(context.Background(), trade); err != nil {
		log.WithError(err).Errorf("trademanager: persisting trade %s", trade.Id)
	}
	log.Infof(
		"trademanager: opened %s trade %s over offer %s with %s",
		trade.Role, trade.Id, trade.OfferId, trade.PeerAddress,
	)
	return run, nil
}

// persistTrade snapshots the live trade into the repository.
func (m *TradeManager) persistTrade(trade *domain.Trade) {
	err := m.trades.UpdateTrade(
		context.Background(), trade.Id,
		func(*domain.Trade) (*domain.Trade, error) {
			snapshot := *trade
			return &snapshot, nil
		},
	)
	if err != nil {
		log.WithError(err).Errorf("trademanager: persisting trade %s", trade.Id)
	}
}

func (m *TradeManager) onTerminated(trade *domain.Trade) {
	delete(m.open, trade.Id)
	if trade.IsCompleted() {
		log.Infof("trademanager: trade %s completed", trade.Id)
		return
	}
	log.Warnf("trademanager: trade %s failed: %s", trade.Id, trade.ErrorMessage)
}

// onEnvelope routes inbound trade messages onto the scheduler goroutine.
// Payloads that cannot be opened with this node's key are dropped.
func (m *TradeManager) onEnvelope(env ports.Envelope, from ports.NodeAddress) {
	msg, err := protocol.DecodeMessage(env, m.ownKey)
	if err != nil {
		return
	}
	m.sched.Do(func() { m.route(msg, env.UID, from) })
}

func (m *TradeManager) route(
	msg protocol.TradeMessage, uid string, from ports.NodeAddress,
) {
	if run, ok := m.open[msg.GetTradeId()]; ok {
		run.proto.HandleMessage(msg, uid, from)
		return
	}
	if req, ok := msg.(protocol.TakeOfferRequest); ok {
		m.onTakeOfferRequest(req, uid, from)
		return
	}
	log.Debugf(
		"trademanager: dropping %T for unknown trade %s from %s",
		msg, msg.GetTradeId(), from,
	)
}
