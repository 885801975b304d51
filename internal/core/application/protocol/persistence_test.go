package protocol

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-p2p/internal/core/domain"
	"github.com/tdex-network/tdex-p2p/internal/core/ports"
	"github.com/tdex-network/tdex-p2p/internal/infrastructure/storage/db/inmemory"
)

func TestPersistenceQueue(t *testing.T) {
	repo := inmemory.NewTradeRepositoryImpl()
	queue := newPersistenceQueue(repo, time.Hour)
	trade := newTestProtocol(t, domain.RoleTakerAsBuyer).trade

	t.Run("coalesce writes", func(t *testing.T) {
		first := trade.Clone()
		first.RecordError("first")
		second := trade.Clone()
		second.RecordError("second")

		queue.enqueue(first)
		queue.enqueue(second)
		_, err := repo.GetTrade(ctx, trade.Id)
		require.ErrorIs(t, err, domain.ErrTradeNotFound)

		require.NoError(t, queue.flush(ctx))
		stored, err := repo.GetTrade(ctx, trade.Id)
		require.NoError(t, err)
		require.Equal(t, "second", stored.ErrorMessage)
	})

	t.Run("save now drops pending snapshot", func(t *testing.T) {
		stale := trade.Clone()
		stale.RecordError("stale")
		fresh := trade.Clone()
		fresh.RecordError("fresh")

		queue.enqueue(stale)
		require.NoError(t, queue.saveNow(ctx, fresh))
		require.NoError(t, queue.flush(ctx))

		stored, err := repo.GetTrade(ctx, trade.Id)
		require.NoError(t, err)
		require.Equal(t, "fresh", stored.ErrorMessage)
	})

	t.Run("flush on stop", func(t *testing.T) {
		queue := newPersistenceQueue(repo, time.Hour)
		queue.start()

		pending := trade.Clone()
		pending.RecordError("pending")
		queue.enqueue(pending)
		require.NoError(t, queue.stop(ctx))

		stored, err := repo.GetTrade(ctx, trade.Id)
		require.NoError(t, err)
		require.Equal(t, "pending", stored.ErrorMessage)
	})
}

var errDiskFull = errors.New("disk full")

// flakyTradeRepository fails the first failures calls to SaveTrade.
type flakyTradeRepository struct {
	domain.TradeRepository

	lock     sync.Mutex
	failures int
}

func (r *flakyTradeRepository) SaveTrade(ctx context.Context, trade *domain.Trade) error {
	r.lock.Lock()
	if r.failures > 0 {
		r.failures--
		r.lock.Unlock()
		return errDiskFull
	}
	r.lock.Unlock()
	return r.TradeRepository.SaveTrade(ctx, trade)
}

func TestPersistenceQueueWriteFailures(t *testing.T) {
	t.Run("flush keeps unsaved snapshots", func(t *testing.T) {
		repo := &flakyTradeRepository{
			TradeRepository: inmemory.NewTradeRepositoryImpl(),
			failures:        1,
		}
		queue := newPersistenceQueue(repo, time.Hour)

		trades := make([]*domain.Trade, 0, 5)
		for i := 0; i < 5; i++ {
			trade := newTestProtocol(t, domain.RoleTakerAsBuyer).trade.Clone()
			trades = append(trades, trade)
			queue.enqueue(trade)
		}

		err := queue.flush(ctx)
		require.ErrorIs(t, err, errDiskFull)
		require.Equal(t, 1, queue.pending())

		require.NoError(t, queue.flush(ctx))
		require.Zero(t, queue.pending())
		for _, trade := range trades {
			_, err := repo.GetTrade(ctx, trade.Id)
			require.NoError(t, err)
		}
	})

	t.Run("failed snapshot doesn't override newer one", func(t *testing.T) {
		repo := &flakyTradeRepository{
			TradeRepository: inmemory.NewTradeRepositoryImpl(),
			failures:        1,
		}
		queue := newPersistenceQueue(repo, time.Hour)
		trade := newTestProtocol(t, domain.RoleTakerAsBuyer).trade

		older := trade.Clone()
		older.RecordError("older")
		queue.enqueue(older)
		require.Error(t, queue.flush(ctx))

		newer := trade.Clone()
		newer.RecordError("newer")
		queue.enqueue(newer)
		require.NoError(t, queue.flush(ctx))

		stored, err := repo.GetTrade(ctx, trade.Id)
		require.NoError(t, err)
		require.Equal(t, "newer", stored.ErrorMessage)
	})

	t.Run("save now requeues on failure", func(t *testing.T) {
		repo := &flakyTradeRepository{
			TradeRepository: inmemory.NewTradeRepositoryImpl(),
			failures:        1,
		}
		queue := newPersistenceQueue(repo, time.Hour)
		trade := newTestProtocol(t, domain.RoleTakerAsBuyer).trade.Clone()
		require.NoError(t, trade.Fail("tampered deposit"))

		require.ErrorIs(t, queue.saveNow(ctx, trade), errDiskFull)
		require.Equal(t, 1, queue.pending())

		require.NoError(t, queue.flush(ctx))
		stored, err := repo.GetTrade(ctx, trade.Id)
		require.NoError(t, err)
		require.Equal(t, domain.StateFailed, stored.State)
	})
}

func TestTxNotificationQueue(t *testing.T) {
	queue := newTxNotificationQueue()

	var received []string
	for _, txid := range []string{"a", "b"} {
		txid := txid
		queue.pushBack(func(n ports.TxNotification) bool {
			if n.TxId != txid {
				return false
			}
			received = append(received, txid)
			return true
		})
	}
	require.Equal(t, 2, queue.len())

	queue.dispatch(ports.TxNotification{TxId: "b", Confirmations: 1})
	require.Equal(t, []string{"b"}, received)
	require.Equal(t, 1, queue.len())

	queue.dispatch(ports.TxNotification{TxId: "c", Confirmations: 1})
	require.Equal(t, 1, queue.len())

	queue.dispatch(ports.TxNotification{TxId: "a", Confirmations: 1})
	require.Equal(t, []string{"b", "a"}, received)
	require.Zero(t, queue.len())
}
