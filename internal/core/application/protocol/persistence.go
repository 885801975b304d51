package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-p2p/internal/core/domain"
)

// persistenceQueue coalesces the writes of the trades: every trade is saved
// at most once per interval with its latest snapshot.
type persistenceQueue struct {
	repo     domain.TradeRepository
	interval time.Duration

	lock  sync.Mutex
	dirty map[string]*domain.Trade

	// serializes writes so that an older snapshot never overwrites a newer
	// one.
	saveLock sync.Mutex

	quit chan struct{}
	wg   sync.WaitGroup
}

func newPersistenceQueue(
	repo domain.TradeRepository, interval time.Duration,
) *persistenceQueue {
	return &persistenceQueue{
		repo:     repo,
		interval: interval,
		dirty:    make(map[string]*domain.Trade),
		quit:     make(chan struct{}),
	}
}

func (q *persistenceQueue) start() {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()

		ticker := time.NewTicker(q.interval)
		defer ticker.Stop()

		for {
			select {
			case <-q.quit:
				return
			case <-ticker.C:
				if err := q.flush(context.Background()); err != nil {
					log.WithError(err).Warn("failed to persist trades")
				}
			}
		}
	}()
}

func (q *persistenceQueue) stop(ctx context.Context) error {
	close(q.quit)
	q.wg.Wait()
	return q.flush(ctx)
}

// enqueue schedules the given snapshot to be saved.
func (q *persistenceQueue) enqueue(trade *domain.Trade) {
	q.lock.Lock()
	defer q.lock.Unlock()

	q.dirty[trade.Id] = trade
}

// saveNow saves the given snapshot right away, dropping any pending one. On
// failure the snapshot is queued again for the next flush.
func (q *persistenceQueue) saveNow(ctx context.Context, trade *domain.Trade) error {
	q.saveLock.Lock()
	defer q.saveLock.Unlock()

	q.lock.Lock()
	delete(q.dirty, trade.Id)
	q.lock.Unlock()

	if err := q.repo.SaveTrade(ctx, trade); err != nil {
		q.requeue(trade)
		return err
	}
	return nil
}

// flush saves all pending snapshots. Those that can't be saved stay queued.
func (q *persistenceQueue) flush(ctx context.Context) error {
	q.saveLock.Lock()
	defer q.saveLock.Unlock()

	q.lock.Lock()
	pending := q.dirty
	q.dirty = make(map[string]*domain.Trade)
	q.lock.Unlock()

	errs := make([]error, 0)
	for id, trade := range pending {
		if err := q.repo.SaveTrade(ctx, trade); err != nil {
			q.requeue(trade)
			errs = append(errs, fmt.Errorf("trade %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// requeue schedules trade again unless a newer snapshot arrived meanwhile.
func (q *persistenceQueue) requeue(trade *domain.Trade) {
	q.lock.Lock()
	defer q.lock.Unlock()

	if _, ok := q.dirty[trade.Id]; !ok {
		q.dirty[trade.Id] = trade
	}
}

func (q *persistenceQueue) pending() int {
	q.lock.Lock()
	defer q.lock.Unlock()

	return len(q.dirty)
}
