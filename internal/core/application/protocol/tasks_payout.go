package protocol

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/tdex-network/tdex-p2p/internal/core/domain"
	"github.com/tdex-network/tdex-p2p/internal/core/ports"
	"github.com/tdex-network/tdex-p2p/pkg/txbuilder"
)

func signPayoutTx(ctx context.Context, t *Task) error {
	trade := t.Trade

	sig, err := t.protocol.env.wallet.SignPayoutTx(ctx, payoutTxArgs(trade))
	if err != nil {
		return fmt.Errorf("failed to sign payout tx: %w", err)
	}
	if err := trade.Model.PayoutSignature.Set(sig.Signature); err != nil {
		return err
	}
	return trade.SetPayoutTxId(sig.TxId)
}

func sendPayoutRequest(ctx context.Context, t *Task) error {
	trade := t.Trade
	model := &trade.Model

	msg := &domain.PayoutRequest{
		MessageHeader:      domain.NewMessageHeader(trade.Id, t.protocol.env.address()),
		MultisigPubKey:     model.MultisigPubKey.OrZero(),
		PayoutAddress:      model.PayoutAddress.OrZero(),
		PayoutSignature:    model.PayoutSignature.OrZero(),
		BuyerPayoutAmount:  trade.BuyerPayoutAmount(),
		SellerPayoutAmount: trade.SellerPayoutAmount(),
	}
	if err := sendToPeer(ctx, t, msg); err != nil {
		return err
	}
	return t.protocol.setState(ctx, domain.StateBuyerSentPayoutRequest)
}

// processPayoutRequest checks the buyer request matches what was agreed at
// deposit time before accepting the buyer signature.
func processPayoutRequest(ctx context.Context, t *Task) error {
	msg, ok := t.Message.(*domain.PayoutRequest)
	if !ok {
		return fmt.Errorf("%w: expected payout request", domain.ErrMalformedMessage)
	}
	trade := t.Trade
	peer := &trade.Model.Peer

	if msg.BuyerPayoutAmount != trade.BuyerPayoutAmount() ||
		msg.SellerPayoutAmount != trade.SellerPayoutAmount() {
		return violation(
			"payout amounts %d/%d don't match expected %d/%d",
			msg.BuyerPayoutAmount, msg.SellerPayoutAmount,
			trade.BuyerPayoutAmount(), trade.SellerPayoutAmount(),
		)
	}
	if !bytes.Equal(msg.MultisigPubKey, peer.MultisigPubKey.OrZero()) {
		return violation("multisig pubkey doesn't match the deposit one")
	}
	if msg.PayoutAddress != peer.PayoutAddress.OrZero() {
		return violation("payout address doesn't match the deposit one")
	}
	if err := peer.PayoutSignature.Set(msg.PayoutSignature); err != nil {
		return err
	}

	if err := t.protocol.setState(ctx, domain.StateSellerReceivedPayoutRequest); err != nil {
		return err
	}
	t.Append(StepSignAndPublishPayoutTx, StepCommitPayoutTx, StepSendPayoutTxPublished)
	return nil
}

func signAndPublishPayoutTx(ctx context.Context, t *Task) error {
	trade := t.Trade
	peerSig := trade.Model.Peer.PayoutSignature.OrZero()

	rawTx, err := t.protocol.env.wallet.FinalizePayoutTx(ctx, payoutTxArgs(trade), peerSig)
	if err != nil {
		if errors.Is(err, ports.ErrInvalidSignature) {
			return fmt.Errorf("%w: %s", domain.ErrProtocolViolation, err)
		}
		return fmt.Errorf("failed to finalize payout tx: %w", err)
	}
	txid, err := txbuilder.TxId(rawTx)
	if err != nil {
		return err
	}
	if err := trade.SetPayoutTx(rawTx, txid); err != nil {
		return err
	}
	t.protocol.persistNow(ctx)

	publishTx(ctx, t, rawTx, txid)
	return nil
}

func commitPayoutTx(ctx context.Context, t *Task) error {
	trade := t.Trade

	t.protocol.watchTx(trade.PayoutTxId)
	if err := t.protocol.env.wallet.CommitTransaction(ctx, trade.PayoutTx); err != nil {
		return fmt.Errorf("failed to commit payout tx: %w", err)
	}
	return t.protocol.setState(ctx, domain.StatePayoutPublished)
}

func sendPayoutTxPublished(ctx context.Context, t *Task) error {
	trade := t.Trade

	msg := &domain.PayoutTxPublished{
		MessageHeader: domain.NewMessageHeader(trade.Id, t.protocol.env.address()),
		PayoutTx:      trade.PayoutTx,
	}
	return sendToPeer(ctx, t, msg)
}

// processPayoutTxPublished checks the seller published the payout tx signed
// by the buyer.
func processPayoutTxPublished(_ context.Context, t *Task) error {
	msg, ok := t.Message.(*domain.PayoutTxPublished)
	if !ok {
		return fmt.Errorf("%w: expected payout tx published", domain.ErrMalformedMessage)
	}
	trade := t.Trade

	txid, err := txbuilder.TxId(msg.PayoutTx)
	if err != nil {
		return violation("invalid payout tx: %s", err)
	}
	if txid != trade.PayoutTxId {
		return violation("payout tx %s doesn't match the signed one %s", txid, trade.PayoutTxId)
	}
	if err := trade.SetPayoutTx(msg.PayoutTx, txid); err != nil {
		return err
	}

	t.Append(StepCommitPayoutTx)
	return nil
}

func setPayoutConfirmed(ctx context.Context, t *Task) error {
	if t.Trade.State >= domain.StatePayoutConfirmed {
		return nil
	}
	return t.protocol.setState(ctx, domain.StatePayoutConfirmed)
}

// reconcilePayoutTx runs on restart for a seller that signed the payout tx
// but didn't record its publication.
func reconcilePayoutTx(ctx context.Context, t *Task) error {
	trade := t.Trade
	status, err := t.protocol.env.wallet.GetTransactionStatus(ctx, trade.PayoutTxId)
	if err != nil {
		return err
	}

	t.Append(StepCommitPayoutTx, StepSendPayoutTxPublished)
	if status.Known {
		t.logger().Infof("payout tx %s found in wallet", trade.PayoutTxId)
		return nil
	}
	t.logger().Infof("payout tx %s not found in wallet, broadcasting", trade.PayoutTxId)
	publishTx(ctx, t, trade.PayoutTx, trade.PayoutTxId)
	return nil
}
