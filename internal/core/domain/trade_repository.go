package domain

import "context"

// TradeRepository persists trades. Completed and failed trades are never
// deleted, only filtered out of the open set.
type TradeRepository interface {
	AddTrade(ctx context.Context, trade *Trade) error
	GetTrade(ctx context.Context, id string) (*Trade, error)
	GetAllTrades(ctx context.Context) ([]*Trade, error)
	GetOpenTrades(ctx context.Context) ([]*Trade, error)
	GetClosedTrades(ctx context.Context) ([]*Trade, error)
	GetFailedTrades(ctx context.Context) ([]*Trade, error)
	UpdateTrade(
		ctx context.Context, id string,
		updateFn func(t *Trade) (*Trade, error),
	) error
}
