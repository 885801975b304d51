package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-p2p/internal/core/domain"
	"github.com/tdex-network/tdex-p2p/internal/core/ports"
	"github.com/tdex-network/tdex-p2p/pkg/txbuilder"
)

const (
	jobQueueSize     = 64
	stopGracePeriod  = 5 * time.Second
	minConfirmations = 1
)

var (
	// ErrProtocolStopped is returned when submitting work to the protocol of
	// a closed trade.
	ErrProtocolStopped = errors.New("trade protocol is stopped")
	// ErrProtocolTimeout is the failure cause of a trade whose peer didn't
	// reply in time.
	ErrProtocolTimeout = errors.New("timeout waiting for peer message")
	// ErrInterrupted is the failure cause of a trade whose task sequence was
	// interrupted by a restart before any message was exchanged.
	ErrInterrupted = errors.New("trade protocol interrupted")
	// ErrInvalidTradeState is returned when a local action is requested for
	// a trade not in the expected state.
	ErrInvalidTradeState = errors.New("invalid trade state for the requested action")
	// ErrInvalidTradeRole is returned when a local action is requested to the
	// wrong party.
	ErrInvalidTradeRole = errors.New("invalid trade role for the requested action")
	// ErrTxNotPublishable is the failure cause of a signed tx whose inputs
	// are spent elsewhere or missing.
	ErrTxNotPublishable = errors.New("tx can't be published")
)

// environment groups the collaborators shared by the protocols of a service.
type environment struct {
	wallet      ports.Wallet
	messenger   ports.Messenger
	publisher   ports.EventPublisher
	persistence *persistenceQueue
	txHandlers  *txNotificationQueue
	cfg         Config

	onStateChange func(p *TradeProtocol, trade *domain.Trade)
}

func (e *environment) address() string {
	return e.messenger.Address()
}

func (e *environment) publish(trade *domain.Trade) {
	if e.publisher == nil {
		return
	}
	event := ports.NewTradeEvent(trade, time.Now().Unix())
	go func() {
		if err := e.publisher.PublishTradeEvent(context.Background(), event); err != nil {
			log.WithError(err).WithField("trade_id", event.TradeId).Warn(
				"failed to publish trade event",
			)
		}
	}()
}

// TradeProtocol drives the protocol of one trade. Every mutation of the
// trade happens in the protocol worker, one job at a time.
type TradeProtocol struct {
	env      *environment
	trade    *domain.Trade
	snapshot atomic.Pointer[domain.Trade]

	jobs     chan func(ctx context.Context)
	quit     chan struct{}
	stopOnce sync.Once
	stopped  atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	// accessed by the worker only.
	timeoutTimer *time.Timer
}

func newTradeProtocol(trade *domain.Trade, env *environment) *TradeProtocol {
	ctx, cancel := context.WithCancel(context.Background())
	p := &TradeProtocol{
		env:    env,
		trade:  trade,
		jobs:   make(chan func(ctx context.Context), jobQueueSize),
		quit:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	p.snapshot.Store(trade.Clone())
	return p
}

// Trade returns a copy of the trade as of the last completed task.
func (p *TradeProtocol) Trade() *domain.Trade {
	return p.snapshot.Load().Clone()
}

func (p *TradeProtocol) start() {
	p.wg.Add(1)
	go p.run()
}

func (p *TradeProtocol) run() {
	defer p.wg.Done()

	for {
		select {
		case <-p.quit:
			return
		case job := <-p.jobs:
			job(p.ctx)
		}
	}
}

// stop terminates the worker once the running job, if any, is over.
func (p *TradeProtocol) stop() {
	p.stopOnce.Do(func() {
		p.stopped.Store(true)
		close(p.quit)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopGracePeriod):
		p.cancel()
		<-done
	}
	p.cancel()
}

func (p *TradeProtocol) enqueue(job func(ctx context.Context)) error {
	if p.stopped.Load() {
		return ErrProtocolStopped
	}
	select {
	case <-p.quit:
		return ErrProtocolStopped
	case p.jobs <- job:
		return nil
	}
}

// exec runs check in the worker and returns its result. If check succeeds
// the worker goes on with then.
func (p *TradeProtocol) exec(
	ctx context.Context, check func() error, then func(ctx context.Context),
) error {
	errc := make(chan error, 1)
	if err := p.enqueue(func(ctx context.Context) {
		err := check()
		errc <- err
		if err == nil && then != nil {
			then(ctx)
		}
	}); err != nil {
		return err
	}

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TakeOffer starts the protocol of a taker trade.
func (p *TradeProtocol) TakeOffer() error {
	return p.enqueue(func(ctx context.Context) {
		p.runSequence(ctx, nil, StepCreateDepositInputs, StepSendDepositInputsRequest)
	})
}

// HandleMessage processes a message received from the peer.
func (p *TradeProtocol) HandleMessage(msg domain.TradeMessage) error {
	return p.enqueue(func(ctx context.Context) {
		p.handleMessage(ctx, msg)
	})
}

// PaymentStarted makes the buyer request the payout to the seller.
func (p *TradeProtocol) PaymentStarted(ctx context.Context) error {
	return p.exec(ctx, func() error {
		if !p.trade.Role.IsBuyer() {
			return ErrInvalidTradeRole
		}
		if p.trade.State != domain.StateDepositConfirmed {
			return fmt.Errorf("%w: %s", ErrInvalidTradeState, p.trade.State)
		}
		return nil
	}, func(ctx context.Context) {
		p.runSequence(ctx, nil, StepSignPayoutTx, StepSendPayoutRequest)
	})
}

// OpenDispute marks the trade as disputed.
func (p *TradeProtocol) OpenDispute(ctx context.Context) error {
	return p.exec(ctx, func() error {
		if err := p.trade.OpenDispute(); err != nil {
			return err
		}
		p.logger().Info("dispute opened")
		p.touch()
		return nil
	}, nil)
}

// OnTxEvent handles a wallet notification about a tx of the trade.
func (p *TradeProtocol) OnTxEvent(n ports.TxNotification) error {
	return p.enqueue(func(ctx context.Context) {
		trade := p.trade
		if trade.IsClosed() || n.Confirmations < minConfirmations {
			return
		}

		if trade.State == domain.StateMakerSentPreparedDepositTx {
			if txid, _ := preparedDepositTxId(trade); txid == n.TxId {
				p.runSequence(ctx, nil, StepFindDepositTx)
			}
			return
		}

		switch n.TxId {
		case trade.DepositTxId:
			if trade.State >= domain.StateDepositPublished &&
				trade.State < domain.StateDepositConfirmed {
				p.runSequence(ctx, nil, StepSetDepositConfirmed)
			}
		case trade.PayoutTxId:
			if trade.State >= domain.StatePayoutPublished &&
				trade.State < domain.StatePayoutConfirmed {
				p.runSequence(ctx, nil, StepSetPayoutConfirmed)
			}
		}
	})
}

func (p *TradeProtocol) handleMessage(ctx context.Context, msg domain.TradeMessage) {
	trade := p.trade
	logger := p.logger().WithFields(log.Fields{
		"msg_type": msg.GetType(),
		"msg_uid":  msg.GetUid(),
	})

	if msg.GetTradeId() != trade.Id {
		logger.WithError(domain.ErrTradeIdMismatch).Warn("dropping message")
		return
	}
	if trade.IsClosed() {
		logger.Debugf("trade is closed (%s), dropping message", trade.State)
		return
	}
	if trade.Model.IsProcessed(msg.GetUid()) {
		logger.Debug("message already processed, dropping")
		return
	}
	if msg.GetSender() != trade.PeerAddress {
		logger.Warnf("unexpected sender %s, dropping message", msg.GetSender())
		return
	}

	if ack, ok := msg.(*domain.Ack); ok {
		trade.Model.MarkProcessed(ack.GetUid())
		trade.Model.AddAck(domain.AckRecord{
			SourceUid:    ack.SourceUid,
			SourceType:   ack.SourceType,
			Success:      ack.Success,
			ErrorMessage: ack.ErrorMessage,
		})
		if !ack.Success {
			logger.Warnf("peer failed to process %s: %s", ack.SourceType, ack.ErrorMessage)
		} else {
			logger.Debugf("peer acked %s", ack.SourceType)
		}
		p.touch()
		return
	}

	step, ok := expectedStep(trade, msg)
	if !ok {
		logger.Warnf("unexpected message in state %s, dropping", trade.State)
		return
	}

	trade.Model.MarkProcessed(msg.GetUid())
	trade.Model.InFlightMessage = msg.GetUid()
	err := p.runSequence(ctx, msg, step)
	trade.Model.InFlightMessage = ""
	p.touch()

	p.sendAck(ctx, msg, err)
}

// expectedStep returns the step handling msg given the role and state of
// the trade.
func expectedStep(trade *domain.Trade, msg domain.TradeMessage) (Step, bool) {
	role, state := trade.Role, trade.State

	switch msg.(type) {
	case *domain.DepositInputsRequest:
		if role.IsMaker() && state == domain.StatePreparation {
			return StepProcessDepositInputsRequest, true
		}
	case *domain.PreparedDepositTxResponse:
		if role.IsTaker() && state == domain.StateTakerSentDepositInputsRequest {
			return StepProcessPreparedDepositTx, true
		}
	case *domain.DepositTxPublished:
		if role.IsMaker() && state == domain.StateMakerSentPreparedDepositTx {
			return StepProcessDepositTxPublished, true
		}
	case *domain.PayoutRequest:
		if role.IsSeller() &&
			(state == domain.StateDepositPublished || state == domain.StateDepositConfirmed) {
			return StepProcessPayoutRequest, true
		}
	case *domain.PayoutTxPublished:
		if role.IsBuyer() && state == domain.StateBuyerSentPayoutRequest {
			return StepProcessPayoutTxPublished, true
		}
	}
	return StepUndefined, false
}

func (p *TradeProtocol) sendAck(ctx context.Context, msg domain.TradeMessage, cause error) {
	ack := domain.NewAck(msg, p.env.address(), cause)
	logger := p.logger().WithField("source_type", msg.GetType())

	p.env.messenger.Send(ctx, p.trade.PeerAddress, ack).Then(
		func(status ports.DeliveryStatus, err error) {
			if err != nil {
				logger.WithError(err).Debug("failed to send ack")
				return
			}
			logger.Debugf("ack %s", status)
		},
	)
}

func (p *TradeProtocol) runSequence(
	ctx context.Context, msg domain.TradeMessage, steps ...Step,
) error {
	runner := NewTaskRunner(p, msg, p.env.cfg.Interceptor, p.handleTaskError)
	runner.Append(steps...)
	return runner.Run(ctx)
}

func (p *TradeProtocol) handleTaskError(ctx context.Context, _ *Task, err error) {
	p.failTrade(ctx, err)
}

// failTrade applies the failure policy: protocol violations fail the trade,
// any other error reopens the offer if no funds are committed yet and is
// only recorded otherwise. Funds are committed as soon as a signed deposit tx
// is out of the wallet, unless it can't be published anymore.
func (p *TradeProtocol) failTrade(ctx context.Context, cause error) {
	trade := p.trade
	prev := trade.State
	logger := p.logger().WithError(cause)

	switch {
	case errors.Is(cause, domain.ErrProtocolViolation):
		if err := trade.Fail(cause.Error()); err != nil {
			logger.WithError(err).Warn("failed to fail trade")
			return
		}
	case !trade.IsDepositPublished() &&
		(!p.isDepositSigned() || errors.Is(cause, ErrTxNotPublishable)):
		if err := trade.ReopenOffer(cause.Error()); err != nil {
			logger.WithError(err).Warn("failed to reopen offer")
			return
		}
	default:
		trade.RecordError(cause.Error())
		logger.Warn("trade error recorded, funds are committed to the deposit")
		p.touch()
		return
	}

	if !trade.IsDepositPublished() {
		if err := p.env.wallet.ReleaseInputsForTrade(ctx, trade.Id); err != nil {
			logger.WithError(err).Warn("failed to release trade inputs")
		}
	}
	p.onStateChanged(ctx, prev)
}

// isDepositSigned returns whether the signatures of the wallet for the
// deposit tx were handed out, to the peer or to the network.
func (p *TradeProtocol) isDepositSigned() bool {
	trade := p.trade
	if len(trade.DepositTx) > 0 {
		return true
	}
	return trade.Role.IsMaker() && trade.State == domain.StateMakerSentPreparedDepositTx
}

// setState moves the trade to the given state and notifies the change.
func (p *TradeProtocol) setState(ctx context.Context, state domain.TradeState) error {
	prev := p.trade.State
	if err := p.trade.SetState(state); err != nil {
		if errors.Is(err, domain.ErrStateRegression) {
			p.logger().WithError(err).Warn("rejected state transition")
		}
		return err
	}
	if prev != state {
		p.onStateChanged(ctx, prev)
	}
	return nil
}

func (p *TradeProtocol) onStateChanged(ctx context.Context, prev domain.TradeState) {
	trade := p.trade
	stateCounter.WithLabelValues(trade.Role.String(), trade.State.String()).Inc()
	p.logger().Infof("trade state %s -> %s", prev, trade.State)

	p.armProtocolTimeout()
	if trade.IsClosed() {
		p.persistNow(ctx)
	} else {
		p.touch()
	}
	p.env.publish(trade)
	if p.env.onStateChange != nil {
		p.env.onStateChange(p, p.snapshot.Load())
	}
}

// armProtocolTimeout (re)starts the timer bounding the wait for the peer
// reply in the states that expect one before the deposit is published.
func (p *TradeProtocol) armProtocolTimeout() {
	if p.timeoutTimer != nil {
		p.timeoutTimer.Stop()
		p.timeoutTimer = nil
	}

	state := p.trade.State
	timeout := p.env.cfg.ProtocolTimeout
	if !isAwaitingPeer(state) || timeout <= 0 {
		return
	}
	p.timeoutTimer = time.AfterFunc(timeout, func() {
		_ = p.enqueue(func(ctx context.Context) {
			if p.trade.State != state || p.trade.IsClosed() {
				return
			}
			p.onProtocolTimeout(ctx, state)
		})
	})
}

// onProtocolTimeout reopens the offer of a trade whose peer didn't reply in
// time. A maker whose deposit signatures are held by the taker instead keeps
// waiting for the deposit tx to show up in the network, unless it can't be
// published anymore.
func (p *TradeProtocol) onProtocolTimeout(ctx context.Context, state domain.TradeState) {
	cause := fmt.Errorf("%w in state %s", ErrProtocolTimeout, state)
	if !p.isDepositSigned() {
		p.failTrade(ctx, cause)
		return
	}

	if err := p.runSequence(ctx, nil, StepFindDepositTx); err != nil {
		if p.trade.State == state {
			p.armProtocolTimeout()
		}
		return
	}
	if p.trade.State != state {
		return
	}

	publishable, err := p.isPreparedDepositPublishable(ctx)
	if err != nil {
		p.logger().WithError(err).Warn("failed to check deposit tx inputs")
		publishable = true
	}
	if !publishable {
		p.failTrade(ctx, fmt.Errorf("%w: %s", ErrTxNotPublishable, cause))
		return
	}

	p.trade.RecordError(cause.Error())
	p.logger().Warn("deposit tx not announced by peer, still watching for it")
	p.touch()
	p.armProtocolTimeout()
}

func (p *TradeProtocol) isPreparedDepositPublishable(ctx context.Context) (bool, error) {
	packet, err := txbuilder.DeserializePacket(p.trade.Model.PreparedDepositTx.OrZero())
	if err != nil {
		return false, err
	}
	tx := packet.UnsignedTx
	return isMsgTxPublishable(ctx, p.env.wallet, tx, tx.TxHash().String())
}

// watchPreparedDepositTx makes the maker notified once the deposit tx it
// signed gets confirmed, even if the taker never announces it.
func (p *TradeProtocol) watchPreparedDepositTx(ctx context.Context) error {
	txid, err := preparedDepositTxId(p.trade)
	if err != nil {
		return err
	}
	p.watchTx(txid)
	return p.env.wallet.WatchTransaction(ctx, txid)
}

func isAwaitingPeer(state domain.TradeState) bool {
	return state == domain.StateTakerSentDepositInputsRequest ||
		state == domain.StateMakerSentPreparedDepositTx
}

// touch refreshes the snapshot and schedules the trade to be persisted.
func (p *TradeProtocol) touch() {
	snapshot := p.trade.Clone()
	p.snapshot.Store(snapshot)
	p.env.persistence.enqueue(snapshot)
}

// persistNow refreshes the snapshot and saves the trade synchronously.
func (p *TradeProtocol) persistNow(ctx context.Context) {
	snapshot := p.trade.Clone()
	p.snapshot.Store(snapshot)
	if err := p.env.persistence.saveNow(ctx, snapshot); err != nil {
		p.logger().WithError(err).Warn("failed to persist trade")
	}
}

// watchTx makes the protocol receive the wallet notifications for txid.
func (p *TradeProtocol) watchTx(txid string) {
	p.env.txHandlers.pushBack(func(n ports.TxNotification) bool {
		if p.stopped.Load() {
			return true
		}
		if n.TxId != txid || n.Confirmations < minConfirmations {
			return false
		}
		if err := p.OnTxEvent(n); err != nil {
			p.logger().WithError(err).Debug("dropping tx notification")
		}
		return true
	})
}

func (p *TradeProtocol) logger() *log.Entry {
	return log.WithFields(log.Fields{
		"trade_id": p.trade.Id,
		"role":     p.trade.Role,
	})
}
