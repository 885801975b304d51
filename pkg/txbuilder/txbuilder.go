// Package txbuilder builds and verifies the deposit and payout transactions
// of a trade: a 2-of-2 P2WSH multisig funded by both parties and a
// cooperative spend of it.
package txbuilder

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

const txVersion = 2

var (
	// ErrValueMismatch is returned when inputs and outputs don't balance.
	ErrValueMismatch = errors.New("inputs and outputs values don't balance")
	// ErrTxMismatch is returned when a transaction doesn't match what the
	// verifying party expects.
	ErrTxMismatch = errors.New("transaction doesn't match expectation")
	// ErrMissingPrevout is returned when a spent output is unknown.
	ErrMissingPrevout = errors.New("missing previous output")
)

// Input is an unspent output contributed to a transaction.
type Input struct {
	TxId   string
	Index  uint32
	Value  uint64
	Script []byte
}

// OutPoint returns the wire outpoint of the input.
func (i Input) OutPoint() (*wire.OutPoint, error) {
	hash, err := chainhash.NewHashFromStr(i.TxId)
	if err != nil {
		return nil, fmt.Errorf("invalid input txid %s: %w", i.TxId, err)
	}
	return wire.NewOutPoint(hash, i.Index), nil
}

// Output is a script and a value.
type Output struct {
	Script []byte
	Value  uint64
}

// MultisigScript returns the 2-of-2 witness script. Keys are always ordered
// buyer first, seller second.
func MultisigScript(
	buyerPubKey, sellerPubKey []byte, net *chaincfg.Params,
) ([]byte, error) {
	buyerKey, err := btcutil.NewAddressPubKey(buyerPubKey, net)
	if err != nil {
		return nil, fmt.Errorf("invalid buyer pubkey: %w", err)
	}
	sellerKey, err := btcutil.NewAddressPubKey(sellerPubKey, net)
	if err != nil {
		return nil, fmt.Errorf("invalid seller pubkey: %w", err)
	}
	return txscript.MultiSigScript(
		[]*btcutil.AddressPubKey{buyerKey, sellerKey}, 2,
	)
}

// AddressScript returns the output script for the given address.
func AddressScript(address string, net *chaincfg.Params) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(address, net)
	if err != nil {
		return nil, fmt.Errorf("invalid address %s: %w", address, err)
	}
	if !addr.IsForNet(net) {
		return nil, fmt.Errorf("address %s is not for network %s", address, net.Name)
	}
	return txscript.PayToAddrScript(addr)
}

// PubKeyHashAddress returns the P2WPKH address of the given key.
func PubKeyHashAddress(pubkey *btcec.PublicKey, net *chaincfg.Params) (string, []byte, error) {
	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(pubkey.SerializeCompressed()), net,
	)
	if err != nil {
		return "", nil, err
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return "", nil, err
	}
	return addr.EncodeAddress(), script, nil
}

// SerializeTx returns the raw bytes of tx, witnesses included.
func SerializeTx(tx *wire.MsgTx) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := tx.Serialize(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DeserializeTx parses a raw transaction.
func DeserializeTx(raw []byte) (*wire.MsgTx, error) {
	tx := &wire.MsgTx{}
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("invalid transaction: %w", err)
	}
	return tx, nil
}

// TxId returns the id of a raw transaction.
func TxId(raw []byte) (string, error) {
	tx, err := DeserializeTx(raw)
	if err != nil {
		return "", err
	}
	return tx.TxHash().String(), nil
}

// VerifyTx executes the scripts of every input of tx against the given
// previous outputs.
func VerifyTx(tx *wire.MsgTx, prevouts map[wire.OutPoint]*wire.TxOut) error {
	fetcher := txscript.NewMultiPrevOutFetcher(prevouts)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	for i, in := range tx.TxIn {
		prevout, ok := prevouts[in.PreviousOutPoint]
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingPrevout, in.PreviousOutPoint)
		}
		vm, err := txscript.NewEngine(
			prevout.PkScript, tx, i, txscript.StandardVerifyFlags, nil,
			sigHashes, prevout.Value, fetcher,
		)
		if err != nil {
			return err
		}
		if err := vm.Execute(); err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
	}
	return nil
}

func sumInputs(inputs []Input) uint64 {
	var total uint64
	for _, in := range inputs {
		total += in.Value
	}
	return total
}
