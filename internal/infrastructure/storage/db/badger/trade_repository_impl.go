package dbbadger

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"
	"github.com/tdex-network/tdex-p2p/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

type tradeRepositoryImpl struct {
	store *badgerhold.Store
}

func NewTradeRepositoryImpl(store *badgerhold.Store) domain.TradeRepository {
	return &tradeRepositoryImpl{store}
}

func (r *tradeRepositoryImpl) AddTrade(ctx context.Context, trade *domain.Trade) error {
	return r.store.Badger().Update(func(tx *badger.Txn) error {
		var existing domain.Trade
		err := r.store.TxGet(tx, trade.Id, &existing)
		if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
			return err
		}
		if err == nil && !existing.IsOfferReopened() {
			return domain.ErrTradeAlreadyExists
		}
		return r.store.TxUpsert(tx, trade.Id, *trade)
	})
}

func (r *tradeRepositoryImpl) GetTrade(
	ctx context.Context, tradeId string,
) (*domain.Trade, error) {
	var trade domain.Trade
	if err := r.store.Get(tradeId, &trade); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, domain.ErrTradeNotFound
		}
		return nil, err
	}
	return &trade, nil
}

func (r *tradeRepositoryImpl) GetAllTrades(ctx context.Context) ([]*domain.Trade, error) {
	return r.findTrades(ctx, nil)
}

func (r *tradeRepositoryImpl) GetOpenTrades(ctx context.Context) ([]*domain.Trade, error) {
	query := badgerhold.Where("State").MatchFunc(
		func(ra *badgerhold.RecordAccess) (bool, error) {
			switch trade := ra.Record().(type) {
			case *domain.Trade:
				return !trade.IsClosed(), nil
			case domain.Trade:
				return !trade.IsClosed(), nil
			default:
				return false, fmt.Errorf("unexpected record type %T", trade)
			}
		},
	)
	return r.findTrades(ctx, query)
}

func (r *tradeRepositoryImpl) SaveTrade(ctx context.Context, trade *domain.Trade) error {
	return r.store.Upsert(trade.Id, *trade)
}

func (r *tradeRepositoryImpl) UpdateTrade(
	ctx context.Context,
	tradeId string,
	updateFn func(t *domain.Trade) (*domain.Trade, error),
) error {
	return r.store.Badger().Update(func(tx *badger.Txn) error {
		var trade domain.Trade
		if err := r.store.TxGet(tx, tradeId, &trade); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return domain.ErrTradeNotFound
			}
			return err
		}

		updatedTrade, err := updateFn(&trade)
		if err != nil {
			return err
		}
		return r.store.TxUpdate(tx, tradeId, *updatedTrade)
	})
}

func (r *tradeRepositoryImpl) DeleteTrade(ctx context.Context, tradeId string) error {
	if err := r.store.Delete(tradeId, domain.Trade{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}

func (r *tradeRepositoryImpl) findTrades(
	_ context.Context, query *badgerhold.Query,
) ([]*domain.Trade, error) {
	var trades []domain.Trade
	if err := r.store.Find(&trades, query); err != nil {
		return nil, err
	}

	result := make([]*domain.Trade, 0, len(trades))
	for i := range trades {
		result = append(result, &trades[i])
	}
	return result, nil
}
