package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/tdex-network/tdex-p2p/internal/core/domain"
)

// Trades are stored as clones so that callers never share memory with the
// repository.
type tradeRepositoryImpl struct {
	lock   *sync.RWMutex
	trades map[string]*domain.Trade
}

func NewTradeRepositoryImpl() domain.TradeRepository {
	return &tradeRepositoryImpl{
		lock:   &sync.RWMutex{},
		trades: make(map[string]*domain.Trade),
	}
}

func (r *tradeRepositoryImpl) AddTrade(_ context.Context, trade *domain.Trade) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if existing, ok := r.trades[trade.Id]; ok && !existing.IsOfferReopened() {
		return domain.ErrTradeAlreadyExists
	}
	r.trades[trade.Id] = trade.Clone()
	return nil
}

func (r *tradeRepositoryImpl) GetTrade(
	_ context.Context, tradeId string,
) (*domain.Trade, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	trade, ok := r.trades[tradeId]
	if !ok {
		return nil, domain.ErrTradeNotFound
	}
	return trade.Clone(), nil
}

func (r *tradeRepositoryImpl) GetAllTrades(_ context.Context) ([]*domain.Trade, error) {
	return r.find(func(*domain.Trade) bool { return true }), nil
}

func (r *tradeRepositoryImpl) GetOpenTrades(_ context.Context) ([]*domain.Trade, error) {
	return r.find(func(t *domain.Trade) bool { return !t.IsClosed() }), nil
}

func (r *tradeRepositoryImpl) SaveTrade(_ context.Context, trade *domain.Trade) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.trades[trade.Id] = trade.Clone()
	return nil
}

func (r *tradeRepositoryImpl) UpdateTrade(
	_ context.Context,
	tradeId string,
	updateFn func(t *domain.Trade) (*domain.Trade, error),
) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	trade, ok := r.trades[tradeId]
	if !ok {
		return domain.ErrTradeNotFound
	}
	updatedTrade, err := updateFn(trade.Clone())
	if err != nil {
		return err
	}
	r.trades[tradeId] = updatedTrade.Clone()
	return nil
}

func (r *tradeRepositoryImpl) DeleteTrade(_ context.Context, tradeId string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	delete(r.trades, tradeId)
	return nil
}

func (r *tradeRepositoryImpl) find(filter func(*domain.Trade) bool) []*domain.Trade {
	r.lock.RLock()
	defer r.lock.RUnlock()

	trades := make([]*domain.Trade, 0, len(r.trades))
	for _, trade := range r.trades {
		if filter(trade) {
			trades = append(trades, trade.Clone())
		}
	}
	sort.Slice(trades, func(i, j int) bool {
		return trades[i].Id < trades[j].Id
	})
	return trades
}
