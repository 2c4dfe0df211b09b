package dbbadger

import (
	"context"
	"errors"

	"github.com/timshannon/badgerhold/v4"

	"github.com/peerdex-network/peerdex-daemon/internal/core/domain"
)

type tradeRepositoryImpl struct {
	db *DbManager
}

// NewTradeRepositoryImpl returns a badger backed TradeRepository.
func NewTradeRepositoryImpl(db *DbManager) domain.TradeRepository {
	return tradeRepositoryImpl{db: db}
}

func (t tradeRepositoryImpl) AddTrade(
	_ context.Context, trade *domain.Trade,
) error {
	return t.db.Store.Upsert(trade.Id, *trade)
}

func (t tradeRepositoryImpl) GetTrade(
	_ context.Context, id string,
) (*domain.Trade, error) {
	var trade domain.Trade
	if err := t.db.Store.Get(id, &trade); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, domain.ErrTradeNotFound
		}
		return nil, err
	}
	return &trade, nil
}

func (t tradeRepositoryImpl) GetAllTrades(
	ctx context.Context,
) ([]*domain.Trade, error) {
	return t.findTrades(func(*domain.Trade) bool { return true })
}

func (t tradeRepositoryImpl) GetOpenTrades(
	ctx context.Context,
) ([]*domain.Trade, error) {
	return t.findTrades(func(trade *domain.Trade) bool { return trade.IsOpen() })
}

func (t tradeRepositoryImpl) GetClosedTrades(
	ctx context.Context,
) ([]*domain.Trade, error) {
	return t.findTrades(func(trade *domain.Trade) bool {
		return trade.IsCompleted()
	})
}

func (t tradeRepositoryImpl) GetFailedTrades(
	ctx context.Context,
) ([]*domain.Trade, error) {
	return t.findTrades(func(trade *domain.Trade) bool {
		return trade.IsFailed()
	})
}

func (t tradeRepositoryImpl) UpdateTrade(
	ctx context.Context, id string,
	updateFn func(trade *domain.Trade) (*domain.Trade, error),
) error {
	currentTrade, err := t.GetTrade(ctx, id)
	if err != nil {
		return err
	}

	updatedTrade, err := updateFn(currentTrade)
	if err != nil {
		return err
	}

	return t.db.Store.Upsert(updatedTrade.Id, *updatedTrade)
}

// findTrades scans all trades and keeps the matching ones. The open, closed
// and failed predicates combine the status code and the failed flag, which
// badgerhold queries cannot express in one index anyway.
func (t tradeRepositoryImpl) findTrades(
	keep func(trade *domain.Trade) bool,
) ([]*domain.Trade, error) {
	var all []domain.Trade
	if err := t.db.Store.Find(&all, nil); err != nil {
		return nil, err
	}
	trades := make([]*domain.Trade, 0, len(all))
	for i := range all {
		if keep(&all[i]) {
			trades = append(trades, &all[i])
		}
	}
	return trades, nil
}
