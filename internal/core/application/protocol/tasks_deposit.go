package protocol

import (
	"context"
	"fmt"
	"strings"

	"github.com/tdex-network/tdex-p2p/internal/core/domain"
	"github.com/tdex-network/tdex-p2p/pkg/txbuilder"
)

// createDepositInputs selects and reserves the utxos funding the own part of
// the deposit and derives the trade keys.
func createDepositInputs(ctx context.Context, t *Task) error {
	trade := t.Trade
	model := &trade.Model
	wallet := t.protocol.env.wallet

	if !model.RawInputs.IsSet {
		amount := trade.OwnContribution()
		selection, err := wallet.SelectInputsForAmount(ctx, trade.Id, amount)
		if err != nil {
			return fmt.Errorf("failed to select inputs for %d sats: %w", amount, err)
		}
		if err := model.RawInputs.Set(selection.Inputs); err != nil {
			return err
		}
		if err := model.Change.Set(selection.Change); err != nil {
			return err
		}
	}

	if !model.MultisigPubKey.IsSet {
		pubkey, err := wallet.NewMultisigKey(ctx, trade.Id)
		if err != nil {
			return err
		}
		if err := model.MultisigPubKey.Set(pubkey); err != nil {
			return err
		}
	}

	if !model.PayoutAddress.IsSet {
		addr, err := wallet.NewAddress(ctx, trade.Id)
		if err != nil {
			return err
		}
		if err := model.PayoutAddress.Set(addr); err != nil {
			return err
		}
	}

	if accountId := t.protocol.env.cfg.PaymentAccountId; len(accountId) > 0 {
		ref := paymentAccountRef(trade.PaymentMethodId, accountId)
		if err := model.PaymentAccountRef.Set(ref); err != nil {
			return err
		}
	}
	return nil
}

func sendDepositInputsRequest(ctx context.Context, t *Task) error {
	trade := t.Trade
	model := &trade.Model

	msg := &domain.DepositInputsRequest{
		MessageHeader:     domain.NewMessageHeader(trade.Id, t.protocol.env.address()),
		TradeAmount:       trade.Amount,
		Price:             trade.Price,
		TakeOfferDate:     trade.TakeOfferDate,
		RawInputs:         model.RawInputs.OrZero(),
		Change:            model.Change.OrZero(),
		MultisigPubKey:    model.MultisigPubKey.OrZero(),
		PayoutAddress:     model.PayoutAddress.OrZero(),
		PaymentAccountRef: model.PaymentAccountRef.OrZero(),
	}
	if err := sendToPeer(ctx, t, msg); err != nil {
		return err
	}
	return t.protocol.setState(ctx, domain.StateTakerSentDepositInputsRequest)
}

// processDepositInputsRequest checks the taker request against the offer and
// stores the taker data.
func processDepositInputsRequest(ctx context.Context, t *Task) error {
	msg, ok := t.Message.(*domain.DepositInputsRequest)
	if !ok {
		return fmt.Errorf("%w: expected deposit inputs request", domain.ErrMalformedMessage)
	}
	trade := t.Trade

	if msg.TradeAmount != trade.Amount {
		return violation("trade amount %d doesn't match offer amount %d", msg.TradeAmount, trade.Amount)
	}
	if !msg.Price.Equal(trade.Price) {
		return violation("price %s doesn't match offer price %s", msg.Price, trade.Price)
	}
	if err := checkContribution(msg.RawInputs, msg.Change, trade.PeerContribution()); err != nil {
		return err
	}
	if err := setPeerFundingData(
		trade, msg.RawInputs, msg.Change, msg.MultisigPubKey, msg.PayoutAddress,
		msg.PaymentAccountRef,
	); err != nil {
		return err
	}
	trade.TakeOfferDate = msg.TakeOfferDate

	if err := t.protocol.setState(ctx, domain.StateMakerReceivedDepositInputsRequest); err != nil {
		return err
	}

	if len(msg.PaymentAccountRef) > 0 {
		t.Append(StepVerifyPeerPaymentAccount)
	}
	t.Append(StepCreateDepositInputs, StepCreateAndSignDepositTx, StepSendPreparedDepositTx)
	return nil
}

func verifyPeerPaymentAccount(_ context.Context, t *Task) error {
	trade := t.Trade
	ref := trade.Model.Peer.PaymentAccountRef.OrZero()

	methodId, accountId, ok := strings.Cut(ref, paymentAccountRefSeparator)
	if !ok || len(accountId) <= 0 {
		return violation("malformed peer payment account ref %q", ref)
	}
	if methodId != trade.PaymentMethodId {
		return violation(
			"peer payment method %s doesn't match offer method %s",
			methodId, trade.PaymentMethodId,
		)
	}
	return nil
}

func createAndSignDepositTx(ctx context.Context, t *Task) error {
	trade := t.Trade
	args := depositTxArgs(trade)

	psbt, err := t.protocol.env.wallet.BuildAndPartiallySignDepositTx(ctx, args)
	if err != nil {
		return fmt.Errorf("failed to build deposit tx: %w", err)
	}
	if err := trade.Model.PreparedDepositTx.Set(psbt); err != nil {
		return err
	}
	// Once sent, the taker can publish the deposit without telling.
	return t.protocol.watchPreparedDepositTx(ctx)
}

func sendPreparedDepositTx(ctx context.Context, t *Task) error {
	trade := t.Trade
	model := &trade.Model

	msg := &domain.PreparedDepositTxResponse{
		MessageHeader:     domain.NewMessageHeader(trade.Id, t.protocol.env.address()),
		PreparedDepositTx: model.PreparedDepositTx.OrZero(),
		RawInputs:         model.RawInputs.OrZero(),
		Change:            model.Change.OrZero(),
		MultisigPubKey:    model.MultisigPubKey.OrZero(),
		PayoutAddress:     model.PayoutAddress.OrZero(),
		PaymentAccountRef: model.PaymentAccountRef.OrZero(),
	}
	if err := sendToPeer(ctx, t, msg); err != nil {
		return err
	}
	return t.protocol.setState(ctx, domain.StateMakerSentPreparedDepositTx)
}

// processPreparedDepositTx stores the maker data and schedules the checks of
// the received deposit tx before counter-signing it.
func processPreparedDepositTx(_ context.Context, t *Task) error {
	msg, ok := t.Message.(*domain.PreparedDepositTxResponse)
	if !ok {
		return fmt.Errorf("%w: expected prepared deposit tx", domain.ErrMalformedMessage)
	}
	trade := t.Trade

	if err := checkContribution(msg.RawInputs, msg.Change, trade.PeerContribution()); err != nil {
		return err
	}
	if err := setPeerFundingData(
		trade, msg.RawInputs, msg.Change, msg.MultisigPubKey, msg.PayoutAddress,
		msg.PaymentAccountRef,
	); err != nil {
		return err
	}
	if err := trade.Model.PreparedDepositTx.Set(msg.PreparedDepositTx); err != nil {
		return err
	}

	if len(msg.PaymentAccountRef) > 0 {
		t.Append(StepVerifyPeerPaymentAccount)
	}
	t.Append(
		StepVerifyPreparedDepositTx,
		StepSignAndPublishDepositTx,
		StepCommitDepositTx,
		StepSendDepositTxPublished,
	)
	return nil
}

// verifyPreparedDepositTx makes sure the maker built exactly the deposit tx
// both parties agreed on. Any mismatch is a protocol violation.
func verifyPreparedDepositTx(ctx context.Context, t *Task) error {
	trade := t.Trade
	psbt := trade.Model.PreparedDepositTx.OrZero()

	if err := t.protocol.env.wallet.VerifyPreparedDepositTx(
		ctx, psbt, depositTxArgs(trade),
	); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrProtocolViolation, err)
	}
	return t.protocol.setState(ctx, domain.StateTakerReceivedPreparedDepositTx)
}

func signAndPublishDepositTx(ctx context.Context, t *Task) error {
	trade := t.Trade
	psbt := trade.Model.PreparedDepositTx.OrZero()

	rawTx, err := t.protocol.env.wallet.CounterSignDepositTx(ctx, trade.Id, psbt)
	if err != nil {
		return fmt.Errorf("failed to sign deposit tx: %w", err)
	}
	txid, err := txbuilder.TxId(rawTx)
	if err != nil {
		return err
	}
	if err := trade.SetDepositTx(rawTx, txid); err != nil {
		return err
	}
	t.protocol.persistNow(ctx)

	publishTx(ctx, t, rawTx, txid)
	return nil
}

// commitDepositTx adds the deposit tx to the wallet and marks it as
// published. Reserved inputs are spent by the deposit and can be released.
func commitDepositTx(ctx context.Context, t *Task) error {
	trade := t.Trade
	wallet := t.protocol.env.wallet

	t.protocol.watchTx(trade.DepositTxId)
	if err := wallet.CommitTransaction(ctx, trade.DepositTx); err != nil {
		return fmt.Errorf("failed to commit deposit tx: %w", err)
	}
	if err := t.protocol.setState(ctx, domain.StateDepositPublished); err != nil {
		return err
	}
	if err := wallet.ReleaseInputsForTrade(ctx, trade.Id); err != nil {
		t.logger().WithError(err).Warn("failed to release trade inputs")
	}
	return nil
}

func sendDepositTxPublished(ctx context.Context, t *Task) error {
	trade := t.Trade

	msg := &domain.DepositTxPublished{
		MessageHeader: domain.NewMessageHeader(trade.Id, t.protocol.env.address()),
		DepositTx:     trade.DepositTx,
	}
	return sendToPeer(ctx, t, msg)
}

// processDepositTxPublished checks the deposit tx published by the taker is
// the one prepared by the maker.
func processDepositTxPublished(_ context.Context, t *Task) error {
	msg, ok := t.Message.(*domain.DepositTxPublished)
	if !ok {
		return fmt.Errorf("%w: expected deposit tx published", domain.ErrMalformedMessage)
	}
	trade := t.Trade

	packet, err := txbuilder.DeserializePacket(trade.Model.PreparedDepositTx.OrZero())
	if err != nil {
		return err
	}
	tx, err := txbuilder.DeserializeTx(msg.DepositTx)
	if err != nil {
		return violation("invalid deposit tx: %s", err)
	}
	if err := txbuilder.VerifySignedDeposit(packet, tx); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrProtocolViolation, err)
	}
	if err := trade.SetDepositTx(msg.DepositTx, tx.TxHash().String()); err != nil {
		return err
	}

	t.Append(StepCommitDepositTx)
	return nil
}

// findDepositTx looks in the network for the deposit tx signed by the maker
// and adopts it as if it was announced by the taker.
func findDepositTx(ctx context.Context, t *Task) error {
	trade := t.Trade
	if trade.State != domain.StateMakerSentPreparedDepositTx {
		return nil
	}

	packet, err := txbuilder.DeserializePacket(trade.Model.PreparedDepositTx.OrZero())
	if err != nil {
		return err
	}
	txid := packet.UnsignedTx.TxHash().String()
	status, err := t.protocol.env.wallet.GetTransactionStatus(ctx, txid)
	if err != nil {
		return err
	}
	if !status.Known || len(status.RawTx) <= 0 {
		t.logger().Debugf("deposit tx %s not found", txid)
		return nil
	}

	tx, err := txbuilder.DeserializeTx(status.RawTx)
	if err != nil {
		return err
	}
	if err := txbuilder.VerifySignedDeposit(packet, tx); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrProtocolViolation, err)
	}
	if err := trade.SetDepositTx(status.RawTx, txid); err != nil {
		return err
	}
	t.logger().Infof("deposit tx %s found in the network", txid)

	t.Append(StepCommitDepositTx)
	return nil
}

// preparedDepositTxId returns the id of the deposit tx prepared by the maker.
// Inputs are all segwit, so signatures don't change it.
func preparedDepositTxId(trade *domain.Trade) (string, error) {
	if !trade.Model.PreparedDepositTx.IsSet {
		return "", fmt.Errorf("missing prepared deposit tx")
	}
	packet, err := txbuilder.DeserializePacket(trade.Model.PreparedDepositTx.OrZero())
	if err != nil {
		return "", err
	}
	return packet.UnsignedTx.TxHash().String(), nil
}

func setDepositConfirmed(ctx context.Context, t *Task) error {
	if t.Trade.State >= domain.StateDepositConfirmed {
		return nil
	}
	return t.protocol.setState(ctx, domain.StateDepositConfirmed)
}

// reconcileDepositTx runs on restart for a taker that signed the deposit tx
// but didn't record its publication. If the wallet doesn't know the tx it's
// broadcast again.
func reconcileDepositTx(ctx context.Context, t *Task) error {
	trade := t.Trade
	status, err := t.protocol.env.wallet.GetTransactionStatus(ctx, trade.DepositTxId)
	if err != nil {
		return err
	}

	t.Append(StepCommitDepositTx, StepSendDepositTxPublished)
	if status.Known {
		t.logger().Infof("deposit tx %s found in wallet", trade.DepositTxId)
		return nil
	}
	t.logger().Infof("deposit tx %s not found in wallet, broadcasting", trade.DepositTxId)
	publishTx(ctx, t, trade.DepositTx, trade.DepositTxId)
	return nil
}
