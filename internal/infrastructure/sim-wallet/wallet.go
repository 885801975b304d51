// Package simwallet implements the wallet port on top of an in-process
// chain. Keys are kept in memory and every tx is validated by script
// execution before being accepted by the chain.
package simwallet

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-p2p/internal/core/domain"
	"github.com/tdex-network/tdex-p2p/internal/core/ports"
	"github.com/tdex-network/tdex-p2p/pkg/coinselect"
	"github.com/tdex-network/tdex-p2p/pkg/promise"
	"github.com/tdex-network/tdex-p2p/pkg/txbuilder"
)

const notificationsBufferSize = 256

type utxo struct {
	outpoint wire.OutPoint
	txOut    *wire.TxOut
}

func (u utxo) GetValue() uint64 {
	return uint64(u.txOut.Value)
}

type wallet struct {
	chain *Chain
	net   *chaincfg.Params

	lock         sync.RWMutex
	keys         map[string]*btcec.PrivateKey
	multisigKeys map[string]*btcec.PrivateKey
	utxos        map[wire.OutPoint]*wire.TxOut
	locked       map[wire.OutPoint]string
	watched      map[string]bool

	chNotifications chan ports.TxNotification
}

// Wallet is the wallet port extended with the funding helpers of the
// simulated environment.
type Wallet interface {
	ports.Wallet
	Fund(ctx context.Context, amount uint64) (string, error)
	Balance() uint64
	LockedInputs(tradeId string) []domain.RawInput
}

func NewWallet(chain *Chain) Wallet {
	w := &wallet{
		chain:           chain,
		net:             chain.Network(),
		keys:            make(map[string]*btcec.PrivateKey),
		multisigKeys:    make(map[string]*btcec.PrivateKey),
		utxos:           make(map[wire.OutPoint]*wire.TxOut),
		locked:          make(map[wire.OutPoint]string),
		watched:         make(map[string]bool),
		chNotifications: make(chan ports.TxNotification, notificationsBufferSize),
	}
	chain.subscribe(w.onBlock)
	return w
}

// Fund credits the wallet with a confirmed utxo of the given amount.
func (w *wallet) Fund(ctx context.Context, amount uint64) (string, error) {
	addr, err := w.NewAddress(ctx, "")
	if err != nil {
		return "", err
	}
	script, err := txbuilder.AddressScript(addr, w.net)
	if err != nil {
		return "", err
	}
	outpoint := w.chain.Fund(script, amount)

	w.lock.Lock()
	defer w.lock.Unlock()

	w.utxos[outpoint] = wire.NewTxOut(int64(amount), script)
	return outpoint.Hash.String(), nil
}

// Balance returns the value of all unspent outputs owned, locked included.
func (w *wallet) Balance() uint64 {
	w.lock.RLock()
	defer w.lock.RUnlock()

	var balance uint64
	for _, out := range w.utxos {
		balance += uint64(out.Value)
	}
	return balance
}

// LockedInputs returns the utxos reserved for the given trade.
func (w *wallet) LockedInputs(tradeId string) []domain.RawInput {
	w.lock.RLock()
	defer w.lock.RUnlock()

	inputs := make([]domain.RawInput, 0)
	for outpoint, id := range w.locked {
		if id != tradeId {
			continue
		}
		inputs = append(inputs, toRawInput(utxo{outpoint, w.utxos[outpoint]}))
	}
	return inputs
}

func (w *wallet) NewMultisigKey(_ context.Context, tradeId string) ([]byte, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	pubkey := key.PubKey().SerializeCompressed()

	w.lock.Lock()
	defer w.lock.Unlock()

	w.multisigKeys[hex.EncodeToString(pubkey)] = key
	log.WithField("trade_id", tradeId).Debug("wallet: derived new multisig key")
	return pubkey, nil
}

func (w *wallet) NewAddress(_ context.Context, _ string) (string, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return "", err
	}
	addr, script, err := txbuilder.PubKeyHashAddress(key.PubKey(), w.net)
	if err != nil {
		return "", err
	}

	w.lock.Lock()
	defer w.lock.Unlock()

	w.keys[string(script)] = key
	return addr, nil
}

func (w *wallet) SelectInputsForAmount(
	ctx context.Context, tradeId string, amount uint64,
) (*ports.InputsAndChange, error) {
	w.lock.Lock()
	coins := make([]utxo, 0, len(w.utxos))
	for outpoint, out := range w.utxos {
		if _, ok := w.locked[outpoint]; ok {
			continue
		}
		coins = append(coins, utxo{outpoint, out})
	}
	sort.Slice(coins, func(i, j int) bool {
		return coins[i].outpoint.String() < coins[j].outpoint.String()
	})

	selected, change, err := coinselect.SelectCoins(coins, amount)
	if err != nil {
		w.lock.Unlock()
		return nil, fmt.Errorf("%w: %s", ports.ErrInsufficientFunds, err)
	}
	inputs := make([]domain.RawInput, 0, len(selected))
	for _, u := range selected {
		w.locked[u.outpoint] = tradeId
		inputs = append(inputs, toRawInput(u))
	}
	w.lock.Unlock()

	result := &ports.InputsAndChange{Inputs: inputs}
	if change > 0 {
		addr, err := w.NewAddress(ctx, tradeId)
		if err != nil {
			w.ReleaseInputsForTrade(ctx, tradeId)
			return nil, err
		}
		result.Change = domain.ChangeOutput{Address: addr, Value: change}
	}
	return result, nil
}

func (w *wallet) ReserveInputsForTrade(
	_ context.Context, tradeId string, inputs []domain.RawInput,
) error {
	outpoints, err := toOutpoints(inputs)
	if err != nil {
		return err
	}

	w.lock.Lock()
	defer w.lock.Unlock()

	for _, outpoint := range outpoints {
		if id, ok := w.locked[outpoint]; ok && id != tradeId {
			return fmt.Errorf("input %s already reserved for trade %s", outpoint, id)
		}
	}
	for _, outpoint := range outpoints {
		if _, ok := w.utxos[outpoint]; ok {
			w.locked[outpoint] = tradeId
		}
	}
	return nil
}

func (w *wallet) ReleaseInputsForTrade(_ context.Context, tradeId string) error {
	w.lock.Lock()
	defer w.lock.Unlock()

	for outpoint, id := range w.locked {
		if id == tradeId {
			delete(w.locked, outpoint)
		}
	}
	return nil
}

func (w *wallet) BuildAndPartiallySignDepositTx(
	_ context.Context, args ports.DepositTxArgs,
) ([]byte, error) {
	depositArgs, err := w.depositArgs(args)
	if err != nil {
		return nil, err
	}
	packet, err := txbuilder.NewDepositPacket(*depositArgs)
	if err != nil {
		return nil, err
	}

	signed, err := txbuilder.SignWitnessInputs(packet, w.signingKeys())
	if err != nil {
		return nil, err
	}
	if signed != len(args.MakerInputs) {
		return nil, fmt.Errorf(
			"signed %d inputs out of %d owned", signed, len(args.MakerInputs),
		)
	}
	return txbuilder.SerializePacket(packet)
}

func (w *wallet) VerifyPreparedDepositTx(
	_ context.Context, psbt []byte, args ports.DepositTxArgs,
) error {
	packet, err := txbuilder.DeserializePacket(psbt)
	if err != nil {
		return err
	}
	depositArgs, err := w.depositArgs(args)
	if err != nil {
		return err
	}
	return txbuilder.VerifyDepositPacket(packet, *depositArgs)
}

func (w *wallet) CounterSignDepositTx(
	_ context.Context, tradeId string, psbt []byte,
) ([]byte, error) {
	packet, err := txbuilder.DeserializePacket(psbt)
	if err != nil {
		return nil, err
	}
	if _, err := txbuilder.SignWitnessInputs(packet, w.signingKeys()); err != nil {
		return nil, err
	}
	tx, err := txbuilder.FinalizeDepositPacket(packet)
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"trade_id": tradeId,
		"txid":     tx.TxHash().String(),
	}).Debug("wallet: deposit tx signed")
	return txbuilder.SerializeTx(tx)
}

func (w *wallet) SignPayoutTx(
	_ context.Context, args ports.PayoutTxArgs,
) (*ports.PayoutSignature, error) {
	payout, err := w.payout(args)
	if err != nil {
		return nil, err
	}
	key, _, err := w.ownMultisigKey(args)
	if err != nil {
		return nil, err
	}
	sig, err := payout.Sign(key)
	if err != nil {
		return nil, err
	}
	return &ports.PayoutSignature{TxId: payout.TxId(), Signature: sig}, nil
}

func (w *wallet) FinalizePayoutTx(
	_ context.Context, args ports.PayoutTxArgs, peerSig []byte,
) ([]byte, error) {
	payout, err := w.payout(args)
	if err != nil {
		return nil, err
	}
	key, isBuyer, err := w.ownMultisigKey(args)
	if err != nil {
		return nil, err
	}

	peerPubkey := args.SellerPubKey
	if !isBuyer {
		peerPubkey = args.BuyerPubKey
	}
	if err := payout.VerifySignature(peerPubkey, peerSig); err != nil {
		return nil, fmt.Errorf("%w: %s", ports.ErrInvalidSignature, err)
	}

	ownSig, err := payout.Sign(key)
	if err != nil {
		return nil, err
	}
	buyerSig, sellerSig := ownSig, peerSig
	if !isBuyer {
		buyerSig, sellerSig = peerSig, ownSig
	}
	tx, err := payout.Finalize(buyerSig, sellerSig)
	if err != nil {
		return nil, err
	}
	return txbuilder.SerializeTx(tx)
}

func (w *wallet) Broadcast(_ context.Context, rawTx []byte) *promise.Promise[string] {
	tx, err := txbuilder.DeserializeTx(rawTx)
	if err != nil {
		return promise.Rejected[string](err)
	}

	p := promise.New[string]()
	go func() {
		if delay := w.chain.getBroadcastDelay(); delay > 0 {
			time.Sleep(delay)
		}
		if err := w.chain.Broadcast(tx); err != nil {
			p.Reject(err)
			return
		}
		w.applyTx(tx)
		p.Resolve(tx.TxHash().String())
	}()
	return p
}

func (w *wallet) CommitTransaction(_ context.Context, rawTx []byte) error {
	tx, err := txbuilder.DeserializeTx(rawTx)
	if err != nil {
		return err
	}
	txid := tx.TxHash().String()

	w.applyTx(tx)
	w.lock.Lock()
	w.watched[txid] = true
	w.lock.Unlock()

	known, confirmations, err := w.chain.TxStatus(txid)
	if err != nil {
		return err
	}
	if known && confirmations > 0 {
		w.notify(txid, confirmations)
	}
	return nil
}

func (w *wallet) WatchTransaction(_ context.Context, txid string) error {
	known, confirmations, err := w.chain.TxStatus(txid)
	if err != nil {
		return err
	}

	w.lock.Lock()
	w.watched[txid] = true
	w.lock.Unlock()

	if known && confirmations > 0 {
		w.notify(txid, confirmations)
	}
	return nil
}

func (w *wallet) GetTransactionStatus(
	_ context.Context, txid string,
) (*ports.TxStatus, error) {
	tx, confirmations, err := w.chain.GetTx(txid)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return &ports.TxStatus{}, nil
	}
	rawTx, err := txbuilder.SerializeTx(tx)
	if err != nil {
		return nil, err
	}
	return &ports.TxStatus{
		Known: true, Confirmations: confirmations, RawTx: rawTx,
	}, nil
}

func (w *wallet) IsOutputUnspent(
	_ context.Context, txid string, index uint32,
) (bool, error) {
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return false, fmt.Errorf("invalid txid %s: %w", txid, err)
	}
	return w.chain.IsUnspent(wire.OutPoint{Hash: *hash, Index: index}), nil
}

func (w *wallet) Notifications() <-chan ports.TxNotification {
	return w.chNotifications
}

func (w *wallet) onBlock(txid string, confirmations uint32) {
	w.lock.RLock()
	watched := w.watched[txid]
	w.lock.RUnlock()

	if watched {
		w.notify(txid, confirmations)
	}
}

func (w *wallet) notify(txid string, confirmations uint32) {
	select {
	case w.chNotifications <- ports.TxNotification{
		TxId: txid, Confirmations: confirmations,
	}:
	default:
		log.WithField("txid", txid).Warn("wallet: notification channel full, dropping")
	}
}

// applyTx removes the owned outputs spent by tx and adds the owned ones it
// creates.
func (w *wallet) applyTx(tx *wire.MsgTx) {
	hash := tx.TxHash()

	w.lock.Lock()
	defer w.lock.Unlock()

	for _, in := range tx.TxIn {
		delete(w.utxos, in.PreviousOutPoint)
		delete(w.locked, in.PreviousOutPoint)
	}
	for i, out := range tx.TxOut {
		if _, ok := w.keys[string(out.PkScript)]; ok {
			w.utxos[wire.OutPoint{Hash: hash, Index: uint32(i)}] = out
		}
	}
}

func (w *wallet) signingKeys() map[string]*btcec.PrivateKey {
	w.lock.RLock()
	defer w.lock.RUnlock()

	keys := make(map[string]*btcec.PrivateKey, len(w.keys))
	for script, key := range w.keys {
		keys[script] = key
	}
	return keys
}

func (w *wallet) ownMultisigKey(args ports.PayoutTxArgs) (*btcec.PrivateKey, bool, error) {
	w.lock.RLock()
	defer w.lock.RUnlock()

	if key, ok := w.multisigKeys[hex.EncodeToString(args.BuyerPubKey)]; ok {
		return key, true, nil
	}
	if key, ok := w.multisigKeys[hex.EncodeToString(args.SellerPubKey)]; ok {
		return key, false, nil
	}
	return nil, false, fmt.Errorf("multisig key of trade %s not found", args.TradeId)
}

func (w *wallet) depositArgs(args ports.DepositTxArgs) (*txbuilder.DepositArgs, error) {
	multisigScript, err := txbuilder.MultisigScript(
		args.BuyerPubKey, args.SellerPubKey, w.net,
	)
	if err != nil {
		return nil, err
	}
	makerChange, err := w.changeOutput(args.MakerChange)
	if err != nil {
		return nil, err
	}
	takerChange, err := w.changeOutput(args.TakerChange)
	if err != nil {
		return nil, err
	}
	return &txbuilder.DepositArgs{
		MakerInputs:    toTxInputs(args.MakerInputs),
		TakerInputs:    toTxInputs(args.TakerInputs),
		MakerChange:    makerChange,
		TakerChange:    takerChange,
		MultisigScript: multisigScript,
		MultisigAmount: args.MultisigAmount,
		Fee:            args.Fee,
	}, nil
}

func (w *wallet) payout(args ports.PayoutTxArgs) (*txbuilder.Payout, error) {
	depositTx, err := txbuilder.DeserializeTx(args.DepositTx)
	if err != nil {
		return nil, err
	}
	multisigScript, err := txbuilder.MultisigScript(
		args.BuyerPubKey, args.SellerPubKey, w.net,
	)
	if err != nil {
		return nil, err
	}
	buyerScript, err := txbuilder.AddressScript(args.BuyerAddress, w.net)
	if err != nil {
		return nil, err
	}
	sellerScript, err := txbuilder.AddressScript(args.SellerAddress, w.net)
	if err != nil {
		return nil, err
	}
	return txbuilder.NewPayout(txbuilder.PayoutArgs{
		DepositTx:      depositTx,
		MultisigScript: multisigScript,
		BuyerScript:    buyerScript,
		SellerScript:   sellerScript,
		BuyerAmount:    args.BuyerAmount,
		SellerAmount:   args.SellerAmount,
		Fee:            args.Fee,
	})
}

func (w *wallet) changeOutput(change domain.ChangeOutput) (*txbuilder.Output, error) {
	if change.Value == 0 {
		return nil, nil
	}
	script, err := txbuilder.AddressScript(change.Address, w.net)
	if err != nil {
		return nil, err
	}
	return &txbuilder.Output{Script: script, Value: change.Value}, nil
}

func toRawInput(u utxo) domain.RawInput {
	return domain.RawInput{
		TxId:         u.outpoint.Hash.String(),
		OutputIndex:  u.outpoint.Index,
		Value:        uint64(u.txOut.Value),
		PubKeyScript: u.txOut.PkScript,
	}
}

func toTxInputs(inputs []domain.RawInput) []txbuilder.Input {
	txInputs := make([]txbuilder.Input, 0, len(inputs))
	for _, in := range inputs {
		txInputs = append(txInputs, txbuilder.Input{
			TxId:   in.TxId,
			Index:  in.OutputIndex,
			Value:  in.Value,
			Script: in.PubKeyScript,
		})
	}
	return txInputs
}

func toOutpoints(inputs []domain.RawInput) ([]wire.OutPoint, error) {
	outpoints := make([]wire.OutPoint, 0, len(inputs))
	for _, in := range toTxInputs(inputs) {
		outpoint, err := in.OutPoint()
		if err != nil {
			return nil, err
		}
		outpoints = append(outpoints, *outpoint)
	}
	return outpoints, nil
}
