package domain

import "context"

// TradeRepository is the abstraction for any kind of database intended to
// persist Trades together with their protocol model, keyed by trade id.
type TradeRepository interface {
	// AddTrade inserts a new trade. It fails with ErrTradeAlreadyExists if a
	// trade with the same id exists, unless its offer was reopened: in that
	// case the reopened one is replaced.
	AddTrade(ctx context.Context, trade *Trade) error
	// GetTrade returns the trade with the given id or ErrTradeNotFound.
	GetTrade(ctx context.Context, tradeId string) (*Trade, error)
	// GetAllTrades returns all the trades stored in the repository.
	GetAllTrades(ctx context.Context) ([]*Trade, error)
	// GetOpenTrades returns the trades whose protocol is not over.
	GetOpenTrades(ctx context.Context) ([]*Trade, error)
	// SaveTrade inserts or overwrites the given trade.
	SaveTrade(ctx context.Context, trade *Trade) error
	// UpdateTrade allows to commit multiple changes to the same trade in a
	// transactional way.
	UpdateTrade(
		ctx context.Context,
		tradeId string,
		updateFn func(t *Trade) (*Trade, error),
	) error
	// DeleteTrade removes the trade with the given id, if any.
	DeleteTrade(ctx context.Context, tradeId string) error
}
