package protocol

import (
	"context"
	"errors"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-p2p/internal/core/domain"
)

// ErrSkipTask can be returned by an Interceptor to complete a task without
// running its body.
var ErrSkipTask = errors.New("skip task")

// TaskFunc is the body of a protocol step. Returning without signaling
// completes the task on nil error and fails it otherwise. A task that must
// wait for an external event calls Async and signals later.
type TaskFunc func(ctx context.Context, t *Task) error

// Interceptor runs before every task of a runner.
type Interceptor func(t *Task) error

// Task is one atomic step of the protocol bound to a trade.
type Task struct {
	Step    Step
	Trade   *domain.Trade
	Message domain.TradeMessage

	protocol *TradeProtocol
	runner   *TaskRunner

	async    bool
	finished atomic.Bool
	done     chan struct{}
	err      error
	warning  error
}

func newTask(
	step Step, protocol *TradeProtocol, runner *TaskRunner, msg domain.TradeMessage,
) *Task {
	return &Task{
		Step:     step,
		Trade:    protocol.trade,
		Message:  msg,
		protocol: protocol,
		runner:   runner,
		done:     make(chan struct{}),
	}
}

// Complete marks the task as successfully completed. It returns false if
// the task was already completed or failed.
func (t *Task) Complete() bool {
	return t.finish(nil, nil)
}

// CompleteWithWarning completes the task and makes the runner record warning
// as the visible error of the trade.
func (t *Task) CompleteWithWarning(warning error) bool {
	return t.finish(nil, warning)
}

// Failed marks the task as failed. It returns false if the task was already
// completed or failed.
func (t *Task) Failed(err error) bool {
	if err == nil {
		err = errors.New("task failed without a cause")
	}
	return t.finish(err, nil)
}

// Async makes the runner wait for the task to be signaled after its body
// returns.
func (t *Task) Async() {
	t.async = true
}

// Append adds steps to the sequence the task belongs to.
func (t *Task) Append(steps ...Step) {
	t.runner.Append(steps...)
}

// Done returns a channel closed when the task is completed or failed.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the failure cause, if any.
func (t *Task) Err() error {
	<-t.done
	return t.err
}

func (t *Task) finish(err, warning error) bool {
	if !t.finished.CompareAndSwap(false, true) {
		log.WithFields(log.Fields{
			"trade_id": t.Trade.Id,
			"step":     t.Step,
		}).Debug("task already completed, ignoring signal")
		return false
	}
	t.err = err
	t.warning = warning
	close(t.done)
	return true
}

func (t *Task) logger() *log.Entry {
	return log.WithFields(log.Fields{
		"trade_id": t.Trade.Id,
		"role":     t.Trade.Role,
		"step":     t.Step,
	})
}
