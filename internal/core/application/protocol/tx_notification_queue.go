package protocol

import (
	"sync"

	"github.com/tdex-network/tdex-p2p/internal/core/ports"
)

// txNotificationQueue holds the handlers of wallet tx notifications. A
// handler returning true is removed from the queue.
type txNotificationQueue struct {
	lock *sync.Mutex
	list []func(ports.TxNotification) bool
}

func newTxNotificationQueue() *txNotificationQueue {
	return &txNotificationQueue{
		&sync.Mutex{}, make([]func(ports.TxNotification) bool, 0),
	}
}

func (q *txNotificationQueue) len() int {
	q.lock.Lock()
	defer q.lock.Unlock()

	return len(q.list)
}

func (q *txNotificationQueue) pushBack(handler func(ports.TxNotification) bool) {
	q.lock.Lock()
	defer q.lock.Unlock()

	q.list = append(q.list, handler)
}

func (q *txNotificationQueue) pop() func(ports.TxNotification) bool {
	q.lock.Lock()
	defer q.lock.Unlock()

	if len(q.list) <= 0 {
		return nil
	}
	handler := q.list[0]
	q.list = q.list[1:]
	return handler
}

// dispatch passes n to every handler once.
func (q *txNotificationQueue) dispatch(n ports.TxNotification) {
	count := q.len()
	for i := 0; i < count; i++ {
		handler := q.pop()
		if handler == nil {
			return
		}
		if !handler(n) {
			q.pushBack(handler)
		}
	}
}
