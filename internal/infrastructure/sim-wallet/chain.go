package simwallet

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-p2p/pkg/txbuilder"
)

var (
	// ErrMissingInputs is returned when a tx spends unknown or already spent
	// outputs.
	ErrMissingInputs = errors.New("tx spends missing or spent outputs")
	// ErrNegativeFee is returned when a tx outputs more than its inputs.
	ErrNegativeFee = errors.New("tx outputs exceed inputs")
)

type chainTx struct {
	tx     *wire.MsgTx
	height uint32
}

// blockListener receives the txs of every new block together with their
// confirmations.
type blockListener func(txid string, confirmations uint32)

// Chain is an in-process ledger accepting only txs whose scripts verify. It
// stands in for a regtest node in tests and in the demo setup.
type Chain struct {
	net *chaincfg.Params

	lock           sync.RWMutex
	height         uint32
	utxos          map[wire.OutPoint]*wire.TxOut
	txs            map[chainhash.Hash]*chainTx
	broadcastDelay time.Duration
	broadcastErr   error
	listeners      []blockListener
}

func NewChain(net *chaincfg.Params) *Chain {
	if net == nil {
		net = &chaincfg.RegressionNetParams
	}
	return &Chain{
		net:    net,
		height: 1,
		utxos:  make(map[wire.OutPoint]*wire.TxOut),
		txs:    make(map[chainhash.Hash]*chainTx),
	}
}

// Network returns the params of the chain.
func (c *Chain) Network() *chaincfg.Params {
	return c.net
}

// SetBroadcastDelay makes every broadcast take at least d to be accepted.
func (c *Chain) SetBroadcastDelay(d time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.broadcastDelay = d
}

// SetBroadcastError makes every broadcast of a tx not yet known fail with err.
// A nil err restores the normal behavior.
func (c *Chain) SetBroadcastError(err error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.broadcastErr = err
}

func (c *Chain) getBroadcastDelay() time.Duration {
	c.lock.RLock()
	defer c.lock.RUnlock()

	return c.broadcastDelay
}

// Fund adds to the ledger an already confirmed output of value paying to
// script.
func (c *Chain) Fund(script []byte, value uint64) wire.OutPoint {
	c.lock.Lock()
	defer c.lock.Unlock()

	tx := wire.NewMsgTx(2)
	// Unique coinbase-like input so that every funding tx has its own hash.
	prevHash := chainhash.DoubleHashH([]byte(fmt.Sprintf("fund-%d-%d", c.height, len(c.txs))))
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prevHash, 0), nil, nil))
	tx.AddTxOut(wire.NewTxOut(int64(value), script))

	hash := tx.TxHash()
	c.txs[hash] = &chainTx{tx, c.height}
	outpoint := wire.OutPoint{Hash: hash, Index: 0}
	c.utxos[outpoint] = tx.TxOut[0]
	return outpoint
}

// Broadcast adds tx to the mempool. A tx already known is accepted again.
func (c *Chain) Broadcast(tx *wire.MsgTx) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	hash := tx.TxHash()
	if _, ok := c.txs[hash]; ok {
		return nil
	}
	if c.broadcastErr != nil {
		return c.broadcastErr
	}

	prevouts := make(map[wire.OutPoint]*wire.TxOut)
	var inAmount int64
	for _, in := range tx.TxIn {
		prevout, ok := c.utxos[in.PreviousOutPoint]
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingInputs, in.PreviousOutPoint)
		}
		prevouts[in.PreviousOutPoint] = prevout
		inAmount += prevout.Value
	}
	var outAmount int64
	for _, out := range tx.TxOut {
		outAmount += out.Value
	}
	if outAmount > inAmount {
		return ErrNegativeFee
	}
	if err := txbuilder.VerifyTx(tx, prevouts); err != nil {
		return err
	}

	for _, in := range tx.TxIn {
		delete(c.utxos, in.PreviousOutPoint)
	}
	for i, out := range tx.TxOut {
		c.utxos[wire.OutPoint{Hash: hash, Index: uint32(i)}] = out
	}
	c.txs[hash] = &chainTx{tx: tx}

	log.WithField("txid", hash.String()).Debug("chain: tx accepted in mempool")
	return nil
}

// Mine confirms all txs in mempool and notifies the listeners about every
// confirmed tx.
func (c *Chain) Mine() uint32 {
	c.lock.Lock()
	c.height++
	height := c.height
	confirmations := make(map[string]uint32)
	for hash, tx := range c.txs {
		if tx.height == 0 {
			tx.height = height
		}
		confirmations[hash.String()] = height - tx.height + 1
	}
	listeners := append([]blockListener{}, c.listeners...)
	c.lock.Unlock()

	for txid, confs := range confirmations {
		for _, listener := range listeners {
			listener(txid, confs)
		}
	}
	return height
}

// TxStatus returns whether txid is known and its confirmations.
func (c *Chain) TxStatus(txid string) (bool, uint32, error) {
	tx, confirmations, err := c.GetTx(txid)
	if err != nil {
		return false, 0, err
	}
	return tx != nil, confirmations, nil
}

// GetTx returns the tx with the given id and its confirmations. The tx is nil
// if unknown.
func (c *Chain) GetTx(txid string) (*wire.MsgTx, uint32, error) {
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid txid %s: %w", txid, err)
	}

	c.lock.RLock()
	defer c.lock.RUnlock()

	tx, ok := c.txs[*hash]
	if !ok {
		return nil, 0, nil
	}
	if tx.height == 0 {
		return tx.tx.Copy(), 0, nil
	}
	return tx.tx.Copy(), c.height - tx.height + 1, nil
}

// IsUnspent returns whether the given output exists and is unspent.
func (c *Chain) IsUnspent(outpoint wire.OutPoint) bool {
	c.lock.RLock()
	defer c.lock.RUnlock()

	_, ok := c.utxos[outpoint]
	return ok
}

func (c *Chain) subscribe(listener blockListener) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.listeners = append(c.listeners, listener)
}
