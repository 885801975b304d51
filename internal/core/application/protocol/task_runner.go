package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tdex-network/tdex-p2p/internal/core/domain"
)

// ErrorHandler is invoked once when a task of the runner fails.
type ErrorHandler func(ctx context.Context, t *Task, err error)

// TaskRunner runs the steps of a sequence one after the other, stopping at
// the first failure. Steps can be appended while the sequence runs.
type TaskRunner struct {
	protocol     *TradeProtocol
	message      domain.TradeMessage
	interceptor  Interceptor
	errorHandler ErrorHandler

	lock  sync.Mutex
	queue []Step
}

// NewTaskRunner returns a runner for the trade of the given protocol.
func NewTaskRunner(
	protocol *TradeProtocol, msg domain.TradeMessage,
	interceptor Interceptor, errorHandler ErrorHandler,
) *TaskRunner {
	return &TaskRunner{
		protocol:     protocol,
		message:      msg,
		interceptor:  interceptor,
		errorHandler: errorHandler,
		queue:        make([]Step, 0),
	}
}

// Append adds the given steps at the end of the sequence.
func (r *TaskRunner) Append(steps ...Step) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.queue = append(r.queue, steps...)
}

// Run executes the sequence and returns the error of the failed task, if any.
// Remaining steps are discarded on failure.
func (r *TaskRunner) Run(ctx context.Context) error {
	for {
		step, ok := r.pop()
		if !ok {
			return nil
		}

		task := newTask(step, r.protocol, r, r.message)
		err := r.run(ctx, task)
		taskCounter.WithLabelValues(step.String(), resultLabel(err)).Inc()
		if err == nil {
			if task.warning != nil {
				task.Trade.RecordError(task.warning.Error())
				task.logger().WithError(task.warning).Warn("task completed with warning")
			}
			r.protocol.touch()
			continue
		}

		r.clear()
		task.Trade.RecordError(err.Error())
		task.logger().WithError(err).Warn("task failed")
		if r.errorHandler != nil {
			r.errorHandler(ctx, task, err)
		}
		return err
	}
}

func (r *TaskRunner) run(ctx context.Context, task *Task) error {
	fn, ok := lookupTask(task.Trade.Role, task.Step)
	if !ok {
		task.Failed(fmt.Errorf(
			"no task registered for step %s and role %s", task.Step, task.Trade.Role,
		))
		return task.Err()
	}

	if r.interceptor != nil {
		if err := r.interceptor(task); err != nil {
			if errors.Is(err, ErrSkipTask) {
				task.logger().Debug("task skipped")
				task.Complete()
			} else {
				task.Failed(err)
			}
			return task.Err()
		}
	}

	if err := fn(ctx, task); err != nil {
		task.Failed(err)
		return task.Err()
	}
	if !task.async {
		task.Complete()
		return task.Err()
	}

	select {
	case <-task.Done():
	case <-ctx.Done():
		task.Failed(ctx.Err())
	}
	return task.Err()
}

func (r *TaskRunner) pop() (Step, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if len(r.queue) <= 0 {
		return StepUndefined, false
	}
	step := r.queue[0]
	r.queue = r.queue[1:]
	return step, true
}

func (r *TaskRunner) clear() {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.queue = r.queue[:0]
}
