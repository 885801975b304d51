package protocol

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-p2p/internal/core/domain"
	"github.com/tdex-network/tdex-p2p/internal/infrastructure/storage/db/inmemory"
	"github.com/thanhpk/randstr"
)

var ctx = context.Background()

func newTestProtocol(t *testing.T, role domain.Role) *TradeProtocol {
	direction := domain.OfferBuy
	if role == domain.RoleMakerAsSeller || role == domain.RoleTakerAsBuyer {
		direction = domain.OfferSell
	}
	offer := domain.Offer{
		Id:                    randstr.Hex(16),
		Direction:             direction,
		Amount:                100000000,
		Price:                 decimal.NewFromInt(30000),
		BuyerSecurityDeposit:  50000000,
		SellerSecurityDeposit: 50000000,
		PaymentMethodId:       "SEPA",
		MakerAddress:          randstr.Hex(8) + ".onion:9999",
	}
	trade, err := domain.NewTrade(offer, role, randstr.Hex(8)+".onion:9999", 1000)
	require.NoError(t, err)

	env := &environment{
		persistence: newPersistenceQueue(inmemory.NewTradeRepositoryImpl(), time.Second),
		txHandlers:  newTxNotificationQueue(),
		cfg:         Config{MinerFee: 1000},
	}
	return newTradeProtocol(trade, env)
}

// overrideTask registers fn for the given role and step for the duration of
// the test.
func overrideTask(t *testing.T, role domain.Role, step Step, fn TaskFunc) {
	prev, ok := taskTable[role][step]
	taskTable[role][step] = fn
	t.Cleanup(func() {
		if ok {
			taskTable[role][step] = prev
			return
		}
		delete(taskTable[role], step)
	})
}

type stepRecorder struct {
	steps  []Step
	failAt Step
	append map[Step][]Step
}

func (r *stepRecorder) intercept(task *Task) error {
	r.steps = append(r.steps, task.Step)
	if next, ok := r.append[task.Step]; ok {
		task.Append(next...)
	}
	if task.Step == r.failAt {
		return fmt.Errorf("boom at %s", task.Step)
	}
	return ErrSkipTask
}

func TestTaskRunner(t *testing.T) {
	t.Run("run in order", func(t *testing.T) {
		p := newTestProtocol(t, domain.RoleTakerAsBuyer)
		rec := &stepRecorder{}
		steps := []Step{StepCreateDepositInputs, StepSendDepositInputsRequest}

		runner := NewTaskRunner(p, nil, rec.intercept, nil)
		runner.Append(steps...)
		require.NoError(t, runner.Run(ctx))
		require.Equal(t, steps, rec.steps)
		require.Empty(t, p.trade.ErrorMessage)
	})

	t.Run("append", func(t *testing.T) {
		p := newTestProtocol(t, domain.RoleMakerAsSeller)
		rec := &stepRecorder{
			append: map[Step][]Step{
				StepProcessDepositInputsRequest: {StepCreateDepositInputs, StepCreateAndSignDepositTx},
			},
		}

		runner := NewTaskRunner(p, nil, rec.intercept, nil)
		runner.Append(StepProcessDepositInputsRequest, StepVerifyPeerPaymentAccount)
		require.NoError(t, runner.Run(ctx))
		require.Equal(t, []Step{
			StepProcessDepositInputsRequest,
			StepVerifyPeerPaymentAccount,
			StepCreateDepositInputs,
			StepCreateAndSignDepositTx,
		}, rec.steps)
	})

	t.Run("stop at first failure", func(t *testing.T) {
		p := newTestProtocol(t, domain.RoleTakerAsBuyer)
		rec := &stepRecorder{failAt: StepSendDepositInputsRequest}

		var failures []Step
		onError := func(_ context.Context, task *Task, _ error) {
			failures = append(failures, task.Step)
		}

		runner := NewTaskRunner(p, nil, rec.intercept, onError)
		runner.Append(
			StepCreateDepositInputs, StepSendDepositInputsRequest, StepVerifyPreparedDepositTx,
		)
		err := runner.Run(ctx)
		require.Error(t, err)
		require.Equal(t, []Step{StepCreateDepositInputs, StepSendDepositInputsRequest}, rec.steps)
		require.Equal(t, []Step{StepSendDepositInputsRequest}, failures)
		require.Equal(t, err.Error(), p.trade.ErrorMessage)
	})

	t.Run("step not available for role", func(t *testing.T) {
		p := newTestProtocol(t, domain.RoleTakerAsBuyer)
		runner := NewTaskRunner(p, nil, nil, nil)
		runner.Append(StepProcessPayoutRequest)
		require.Error(t, runner.Run(ctx))
	})

	t.Run("async task", func(t *testing.T) {
		p := newTestProtocol(t, domain.RoleTakerAsBuyer)
		overrideTask(t, p.trade.Role, StepVerifyPreparedDepositTx, func(_ context.Context, task *Task) error {
			task.Async()
			go func() {
				time.Sleep(50 * time.Millisecond)
				task.Complete()
			}()
			return nil
		})

		runner := NewTaskRunner(p, nil, nil, nil)
		runner.Append(StepVerifyPreparedDepositTx)
		require.NoError(t, runner.Run(ctx))
	})

	t.Run("async task never signaled", func(t *testing.T) {
		p := newTestProtocol(t, domain.RoleTakerAsBuyer)
		overrideTask(t, p.trade.Role, StepVerifyPreparedDepositTx, func(_ context.Context, task *Task) error {
			task.Async()
			return nil
		})

		ctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()

		runner := NewTaskRunner(p, nil, nil, nil)
		runner.Append(StepVerifyPreparedDepositTx)
		require.ErrorIs(t, runner.Run(ctx), context.DeadlineExceeded)
	})
}

func TestTaskSignals(t *testing.T) {
	p := newTestProtocol(t, domain.RoleTakerAsBuyer)

	t.Run("complete once", func(t *testing.T) {
		task := newTask(StepCommitDepositTx, p, nil, nil)
		require.True(t, task.Complete())
		require.False(t, task.Complete())
		require.False(t, task.Failed(fmt.Errorf("late failure")))
		require.NoError(t, task.Err())
	})

	t.Run("fail once", func(t *testing.T) {
		task := newTask(StepCommitDepositTx, p, nil, nil)
		require.True(t, task.Failed(nil))
		require.False(t, task.Complete())
		require.Error(t, task.Err())
	})

	t.Run("concurrent signals", func(t *testing.T) {
		task := newTask(StepCommitDepositTx, p, nil, nil)
		results := make(chan bool, 2)
		go func() { results <- task.Complete() }()
		go func() { results <- task.Failed(fmt.Errorf("timeout")) }()

		first, second := <-results, <-results
		require.True(t, first != second)
	})
}

func TestStateRegression(t *testing.T) {
	p := newTestProtocol(t, domain.RoleTakerAsBuyer)
	p.trade.State = domain.StateTakerSentDepositInputsRequest

	err := p.setState(ctx, domain.StatePreparation)
	require.ErrorIs(t, err, domain.ErrStateRegression)
	require.Equal(t, domain.StateTakerSentDepositInputsRequest, p.trade.State)

	// Moving to the current state is a no-op.
	require.NoError(t, p.setState(ctx, domain.StateTakerSentDepositInputsRequest))
}
