// Package promise provides a single-assignment future used to model
// asynchronous wallet and network operations.
package promise

import (
	"context"
	"sync"
)

// Promise holds the result of an asynchronous operation. It can be settled
// only once: later calls to Resolve or Reject return false and leave the
// first result untouched.
type Promise[T any] struct {
	lock      sync.Mutex
	done      chan struct{}
	settled   bool
	value     T
	err       error
	callbacks []func(T, error)
}

// New returns a pending promise.
func New[T any]() *Promise[T] {
	return &Promise[T]{done: make(chan struct{})}
}

// Resolved returns a promise already settled with the given value.
func Resolved[T any](value T) *Promise[T] {
	p := New[T]()
	p.Resolve(value)
	return p
}

// Rejected returns a promise already settled with the given error.
func Rejected[T any](err error) *Promise[T] {
	p := New[T]()
	p.Reject(err)
	return p
}

// Resolve settles the promise with value. It returns false if the promise
// was already settled.
func (p *Promise[T]) Resolve(value T) bool {
	return p.settle(value, nil)
}

// Reject settles the promise with err. It returns false if the promise was
// already settled.
func (p *Promise[T]) Reject(err error) bool {
	var zero T
	return p.settle(zero, err)
}

// Done returns a channel closed once the promise is settled.
func (p *Promise[T]) Done() <-chan struct{} {
	return p.done
}

// Result returns the settled value and error. It must be called only after
// Done is closed, otherwise zero values are returned.
func (p *Promise[T]) Result() (T, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.value, p.err
}

// Await blocks until the promise is settled or ctx is done.
func (p *Promise[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.Result()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Then registers fn to be called with the result once the promise is
// settled. If the promise is already settled fn is called right away in a
// separate goroutine.
func (p *Promise[T]) Then(fn func(T, error)) {
	p.lock.Lock()
	if !p.settled {
		p.callbacks = append(p.callbacks, fn)
		p.lock.Unlock()
		return
	}
	value, err := p.value, p.err
	p.lock.Unlock()

	go fn(value, err)
}

func (p *Promise[T]) settle(value T, err error) bool {
	p.lock.Lock()
	if p.settled {
		p.lock.Unlock()
		return false
	}
	p.settled = true
	p.value = value
	p.err = err
	callbacks := p.callbacks
	p.callbacks = nil
	close(p.done)
	p.lock.Unlock()

	for _, fn := range callbacks {
		go fn(value, err)
	}
	return true
}
