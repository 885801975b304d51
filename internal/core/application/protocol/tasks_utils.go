package protocol

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/tdex-network/tdex-p2p/internal/core/domain"
	"github.com/tdex-network/tdex-p2p/internal/core/ports"
	"github.com/tdex-network/tdex-p2p/pkg/txbuilder"
)

const paymentAccountRefSeparator = "/"

func paymentAccountRef(methodId, accountId string) string {
	return methodId + paymentAccountRefSeparator + accountId
}

func violation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", domain.ErrProtocolViolation, fmt.Sprintf(format, args...))
}

// checkContribution makes sure the peer funds exactly what it's supposed to.
func checkContribution(
	inputs []domain.RawInput, change domain.ChangeOutput, expected uint64,
) error {
	total := domain.SumInputs(inputs)
	if total < change.Value || total-change.Value != expected {
		return violation(
			"peer contribution of %d sats (inputs %d, change %d) doesn't match expected %d",
			total-change.Value, total, change.Value, expected,
		)
	}
	return nil
}

func setPeerFundingData(
	trade *domain.Trade, inputs []domain.RawInput, change domain.ChangeOutput,
	pubkey []byte, payoutAddress, paymentAccountRef string,
) error {
	peer := &trade.Model.Peer
	if err := peer.RawInputs.Set(inputs); err != nil {
		return err
	}
	if err := peer.Change.Set(change); err != nil {
		return err
	}
	if err := peer.MultisigPubKey.Set(pubkey); err != nil {
		return err
	}
	if err := peer.PayoutAddress.Set(payoutAddress); err != nil {
		return err
	}
	if len(paymentAccountRef) > 0 {
		if err := peer.PaymentAccountRef.Set(paymentAccountRef); err != nil {
			return err
		}
	}
	return nil
}

// depositTxArgs returns the description of the deposit tx of the trade from
// the point of view of both parties.
func depositTxArgs(trade *domain.Trade) ports.DepositTxArgs {
	model := &trade.Model
	own := fundingData{
		model.RawInputs.OrZero(), model.Change.OrZero(), model.MultisigPubKey.OrZero(),
	}
	peer := fundingData{
		model.Peer.RawInputs.OrZero(), model.Peer.Change.OrZero(),
		model.Peer.MultisigPubKey.OrZero(),
	}

	maker, taker := own, peer
	if trade.Role.IsTaker() {
		maker, taker = peer, own
	}
	buyer, seller := own, peer
	if trade.Role.IsSeller() {
		buyer, seller = peer, own
	}

	return ports.DepositTxArgs{
		TradeId:        trade.Id,
		MakerInputs:    maker.inputs,
		MakerChange:    maker.change,
		TakerInputs:    taker.inputs,
		TakerChange:    taker.change,
		BuyerPubKey:    buyer.pubkey,
		SellerPubKey:   seller.pubkey,
		MultisigAmount: trade.MultisigAmount(),
		Fee:            trade.MinerFee,
	}
}

// payoutTxArgs returns the description of the payout tx of the trade.
func payoutTxArgs(trade *domain.Trade) ports.PayoutTxArgs {
	model := &trade.Model
	ownPubkey, ownAddr := model.MultisigPubKey.OrZero(), model.PayoutAddress.OrZero()
	peerPubkey, peerAddr := model.Peer.MultisigPubKey.OrZero(), model.Peer.PayoutAddress.OrZero()

	args := ports.PayoutTxArgs{
		TradeId:      trade.Id,
		DepositTx:    trade.DepositTx,
		BuyerAmount:  trade.BuyerPayoutAmount(),
		SellerAmount: trade.SellerPayoutAmount(),
		Fee:          trade.PayoutFee(),
	}
	if trade.Role.IsBuyer() {
		args.BuyerPubKey, args.BuyerAddress = ownPubkey, ownAddr
		args.SellerPubKey, args.SellerAddress = peerPubkey, peerAddr
	} else {
		args.BuyerPubKey, args.BuyerAddress = peerPubkey, peerAddr
		args.SellerPubKey, args.SellerAddress = ownPubkey, ownAddr
	}
	return args
}

type fundingData struct {
	inputs []domain.RawInput
	change domain.ChangeOutput
	pubkey []byte
}

func sendToPeer(ctx context.Context, t *Task, msg domain.TradeMessage) error {
	status, err := t.protocol.env.messenger.Send(ctx, t.Trade.PeerAddress, msg).Await(ctx)
	if err != nil {
		return fmt.Errorf("failed to send %s to peer: %w", msg.GetType(), err)
	}
	t.logger().WithField("msg_uid", msg.GetUid()).Debugf("%s %s", msg.GetType(), status)
	return nil
}

// publishTx broadcasts rawTx and completes the task either when the wallet
// accepts it or when the broadcast timeout expires, whichever comes first.
// The trade advances optimistically on timeout.
// A rejected tx that can still be published doesn't fail the task: it's
// committed anyway and broadcast again on restart. The task fails only if
// the tx can't be published anymore.
func publishTx(ctx context.Context, t *Task, rawTx []byte, txid string) {
	timeout := t.protocol.env.cfg.BroadcastTimeout
	wallet := t.protocol.env.wallet
	logger := t.logger().WithField("txid", txid)

	t.Async()
	timer := time.AfterFunc(timeout, func() {
		if t.Complete() {
			logger.Warnf("broadcast not acknowledged within %s, proceeding", timeout)
		}
	})

	wallet.Broadcast(ctx, rawTx).Then(func(_ string, err error) {
		timer.Stop()
		if err == nil {
			if t.Complete() {
				logger.Debug("tx broadcasted")
				return
			}
			logger.Debug("tx broadcasted after timeout")
			return
		}

		err = fmt.Errorf("failed to broadcast tx %s: %w", txid, err)
		publishable, checkErr := isTxPublishable(ctx, wallet, rawTx, txid)
		if checkErr != nil {
			logger.WithError(checkErr).Warn("failed to check tx inputs")
			publishable = true
		}
		if !publishable {
			if !t.Failed(fmt.Errorf("%w: %s", ErrTxNotPublishable, err)) {
				logger.WithError(err).Warn("broadcast failed after timeout")
			}
			return
		}
		if !t.CompleteWithWarning(err) {
			logger.WithError(err).Warn("broadcast failed after timeout")
		}
	})
}

// isTxPublishable returns whether the given tx is known to the network or can
// still be accepted, meaning that all its inputs are unspent.
func isTxPublishable(
	ctx context.Context, wallet ports.Wallet, rawTx []byte, txid string,
) (bool, error) {
	tx, err := txbuilder.DeserializeTx(rawTx)
	if err != nil {
		return false, err
	}
	return isMsgTxPublishable(ctx, wallet, tx, txid)
}

func isMsgTxPublishable(
	ctx context.Context, wallet ports.Wallet, tx *wire.MsgTx, txid string,
) (bool, error) {
	status, err := wallet.GetTransactionStatus(ctx, txid)
	if err != nil {
		return false, err
	}
	if status.Known {
		return true, nil
	}

	for _, in := range tx.TxIn {
		prevout := in.PreviousOutPoint
		unspent, err := wallet.IsOutputUnspent(ctx, prevout.Hash.String(), prevout.Index)
		if err != nil {
			return false, err
		}
		if unspent {
			continue
		}
		// The input might have been spent by the tx itself in the meantime.
		status, err := wallet.GetTransactionStatus(ctx, txid)
		if err != nil {
			return false, err
		}
		return status.Known, nil
	}
	return true, nil
}
