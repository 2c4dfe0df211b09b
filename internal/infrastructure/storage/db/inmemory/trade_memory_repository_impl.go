package inmemory

import (
	"context"
	"sync"

	"github.com/peerdex-network/peerdex-daemon/internal/core/domain"
)

type tradeRepositoryImpl struct {
	mu     sync.RWMutex
	trades map[string]*domain.Trade
}

// NewTradeRepositoryImpl returns an in-memory TradeRepository, used by tests
// and by nodes running without a datadir.
func NewTradeRepositoryImpl() domain.TradeRepository {
	return &tradeRepositoryImpl{trades: map[string]*domain.Trade{}}
}

func (r *tradeRepositoryImpl) AddTrade(
	_ context.Context, trade *domain.Trade,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *trade
	r.trades[trade.Id] = &cp
	return nil
}

func (r *tradeRepositoryImpl) GetTrade(
	_ context.Context, id string,
) (*domain.Trade, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	trade, ok := r.trades[id]
	if !ok {
		return nil, domain.ErrTradeNotFound
	}
	cp := *trade
	return &cp, nil
}

func (r *tradeRepositoryImpl) GetAllTrades(
	_ context.Context,
) ([]*domain.Trade, error) {
	return r.filter(func(*domain.Trade) bool { return true }), nil
}

func (r *tradeRepositoryImpl) GetOpenTrades(
	_ context.Context,
) ([]*domain.Trade, error) {
	return r.filter(func(t *domain.Trade) bool { return t.IsOpen() }), nil
}

func (r *tradeRepositoryImpl) GetClosedTrades(
	_ context.Context,
) ([]*domain.Trade, error) {
	return r.filter(func(t *domain.Trade) bool { return t.IsCompleted() }), nil
}

func (r *tradeRepositoryImpl) GetFailedTrades(
	_ context.Context,
) ([]*domain.Trade, error) {
	return r.filter(func(t *domain.Trade) bool { return t.IsFailed() }), nil
}

func (r *tradeRepositoryImpl) UpdateTrade(
	ctx context.Context, id string,
	updateFn func(t *domain.Trade) (*domain.Trade, error),
) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	trade, ok := r.trades[id]
	if !ok {
		return domain.ErrTradeNotFound
	}
	cp := *trade
	updated, err := updateFn(&cp)
	if err != nil {
		return err
	}
	r.trades[id] = updated
	return nil
}

func (r *tradeRepositoryImpl) filter(
	keep func(t *domain.Trade) bool,
) []*domain.Trade {
	r.mu.RLock()
	defer r.mu.RUnlock()
	trades := make([]*domain.Trade, 0, len(r.trades))
	for _, t := range r.trades {
		if keep(t) {
			cp := *t
			trades = append(trades, &cp)
		}
	}
	return trades
}
