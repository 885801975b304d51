package protocol

import (
	"context"

	"github.com/tdex-network/tdex-p2p/internal/core/domain"
)

// resume schedules the reconciliation of a trade loaded from the repository.
func (p *TradeProtocol) resume(ctx context.Context) error {
	return p.exec(ctx, func() error { return nil }, p.reconcile)
}

// reconcile brings a restarted trade back in sync with the wallet. Evidence
// found in the wallet takes precedence over the persisted state, which can
// only move forward because of it.
func (p *TradeProtocol) reconcile(ctx context.Context) {
	trade := p.trade
	wallet := p.env.wallet
	p.logger().Infof("resuming trade in state %s", trade.State)

	switch trade.State {
	case domain.StatePreparation,
		domain.StateMakerReceivedDepositInputsRequest:
		p.failTrade(ctx, ErrInterrupted)

	case domain.StateTakerSentDepositInputsRequest:
		if err := wallet.ReserveInputsForTrade(
			ctx, trade.Id, trade.Model.RawInputs.OrZero(),
		); err != nil {
			p.failTrade(ctx, err)
			return
		}
		p.armProtocolTimeout()

	case domain.StateMakerSentPreparedDepositTx:
		// The taker might have published the deposit meanwhile.
		if err := p.watchPreparedDepositTx(ctx); err != nil {
			p.logger().WithError(err).Warn("failed to watch deposit tx")
		}
		if err := p.runSequence(ctx, nil, StepFindDepositTx); err != nil ||
			trade.State != domain.StateMakerSentPreparedDepositTx {
			return
		}
		// Inputs already spent make the deposit unpublishable, which is
		// detected on timeout.
		if err := wallet.ReserveInputsForTrade(
			ctx, trade.Id, trade.Model.RawInputs.OrZero(),
		); err != nil {
			p.logger().WithError(err).Warn("failed to reserve trade inputs")
		}
		p.armProtocolTimeout()

	case domain.StateTakerReceivedPreparedDepositTx:
		if len(trade.DepositTx) <= 0 {
			p.failTrade(ctx, ErrInterrupted)
			return
		}
		p.runSequence(ctx, nil, StepReconcileDepositTx)

	case domain.StateDepositPublished,
		domain.StateDepositConfirmed,
		domain.StateBuyerSentPayoutRequest:
		p.reattachTx(ctx, trade.DepositTxId, trade.DepositTx)

	case domain.StateSellerReceivedPayoutRequest:
		p.reattachTx(ctx, trade.DepositTxId, trade.DepositTx)
		if len(trade.PayoutTx) > 0 {
			p.runSequence(ctx, nil, StepReconcilePayoutTx)
		}

	case domain.StatePayoutPublished:
		p.reattachTx(ctx, trade.PayoutTxId, trade.PayoutTx)
	}
}

// reattachTx makes the wallet track the given tx again. Its confirmation, if
// any, is notified right away. A tx unknown to the network is broadcast
// again.
func (p *TradeProtocol) reattachTx(ctx context.Context, txid string, rawTx []byte) {
	if len(rawTx) <= 0 {
		return
	}
	wallet := p.env.wallet
	logger := p.logger().WithField("txid", txid)

	p.watchTx(txid)
	if err := wallet.CommitTransaction(ctx, rawTx); err != nil {
		logger.WithError(err).Warn("failed to track tx")
	}

	status, err := wallet.GetTransactionStatus(ctx, txid)
	if err != nil {
		logger.WithError(err).Warn("failed to get tx status")
		return
	}
	if status.Known {
		return
	}
	logger.Info("tx not found in the network, broadcasting")
	wallet.Broadcast(ctx, rawTx).Then(func(_ string, err error) {
		if err != nil {
			logger.WithError(err).Warn("failed to broadcast tx")
			return
		}
		logger.Debug("tx broadcasted")
	})
}
