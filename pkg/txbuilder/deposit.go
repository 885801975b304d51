package txbuilder

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// DepositArgs describes the deposit transaction agreed by maker and taker.
// Inputs are laid out in canonical order, maker inputs first. Outputs are
// the multisig output first, then the optional maker and taker changes.
type DepositArgs struct {
	MakerInputs    []Input
	TakerInputs    []Input
	MakerChange    *Output
	TakerChange    *Output
	MultisigScript []byte
	MultisigAmount uint64
	Fee            uint64
}

func (a DepositArgs) validate() error {
	if len(a.MakerInputs) <= 0 || len(a.TakerInputs) <= 0 {
		return fmt.Errorf("both parties must contribute at least one input")
	}
	if len(a.MultisigScript) <= 0 {
		return fmt.Errorf("missing multisig script")
	}
	if a.MultisigAmount == 0 {
		return fmt.Errorf("multisig amount must be greater than zero")
	}

	inAmount := sumInputs(a.MakerInputs) + sumInputs(a.TakerInputs)
	outAmount := a.MultisigAmount + changeValue(a.MakerChange) +
		changeValue(a.TakerChange)
	if inAmount != outAmount+a.Fee {
		return fmt.Errorf(
			"%w: inputs %d, outputs %d, fee %d",
			ErrValueMismatch, inAmount, outAmount, a.Fee,
		)
	}
	return nil
}

// NewDepositPacket returns the unsigned deposit transaction as a PSBT with
// the witness utxo of every input.
func NewDepositPacket(args DepositArgs) (*psbt.Packet, error) {
	if err := args.validate(); err != nil {
		return nil, err
	}

	multisigOutScript, err := witnessScriptHash(args.MultisigScript)
	if err != nil {
		return nil, err
	}

	inputs := append(
		append([]Input{}, args.MakerInputs...), args.TakerInputs...,
	)

	tx := wire.NewMsgTx(txVersion)
	for _, in := range inputs {
		outpoint, err := in.OutPoint()
		if err != nil {
			return nil, err
		}
		tx.AddTxIn(wire.NewTxIn(outpoint, nil, nil))
	}
	tx.AddTxOut(wire.NewTxOut(int64(args.MultisigAmount), multisigOutScript))
	for _, change := range []*Output{args.MakerChange, args.TakerChange} {
		if changeValue(change) > 0 {
			tx.AddTxOut(wire.NewTxOut(int64(change.Value), change.Script))
		}
	}

	packet, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, err
	}
	for i, in := range inputs {
		packet.Inputs[i].WitnessUtxo = wire.NewTxOut(int64(in.Value), in.Script)
	}
	packet.Outputs[0].WitnessScript = args.MultisigScript

	return packet, nil
}

// VerifyDepositPacket checks that packet matches exactly the deposit agreed
// from the taker's point of view: every input in canonical position with the
// declared prevout, the taker inputs still unsigned, the exact multisig and
// change outputs, no extra output and a fee equal to the agreed one.
func VerifyDepositPacket(packet *psbt.Packet, args DepositArgs) error {
	if err := args.validate(); err != nil {
		return err
	}
	expected, err := NewDepositPacket(args)
	if err != nil {
		return err
	}

	tx, expectedTx := packet.UnsignedTx, expected.UnsignedTx
	if len(tx.TxIn) != len(expectedTx.TxIn) ||
		len(packet.Inputs) != len(expected.Inputs) {
		return fmt.Errorf(
			"%w: expected %d inputs, got %d",
			ErrTxMismatch, len(expectedTx.TxIn), len(tx.TxIn),
		)
	}
	for i, in := range expectedTx.TxIn {
		if tx.TxIn[i].PreviousOutPoint != in.PreviousOutPoint {
			return fmt.Errorf(
				"%w: input %d spends %s, expected %s",
				ErrTxMismatch, i, tx.TxIn[i].PreviousOutPoint, in.PreviousOutPoint,
			)
		}
		if !sameTxOut(packet.Inputs[i].WitnessUtxo, expected.Inputs[i].WitnessUtxo) {
			return fmt.Errorf("%w: prevout of input %d altered", ErrTxMismatch, i)
		}
	}
	for i := len(args.MakerInputs); i < len(tx.TxIn); i++ {
		if len(packet.Inputs[i].PartialSigs) > 0 ||
			len(packet.Inputs[i].FinalScriptWitness) > 0 {
			return fmt.Errorf("%w: input %d already signed", ErrTxMismatch, i)
		}
	}

	if len(tx.TxOut) != len(expectedTx.TxOut) {
		return fmt.Errorf(
			"%w: expected %d outputs, got %d",
			ErrTxMismatch, len(expectedTx.TxOut), len(tx.TxOut),
		)
	}
	for i, out := range expectedTx.TxOut {
		if !sameTxOut(tx.TxOut[i], out) {
			return fmt.Errorf("%w: output %d altered", ErrTxMismatch, i)
		}
	}
	if tx.Version != expectedTx.Version || tx.LockTime != expectedTx.LockTime {
		return fmt.Errorf("%w: version or locktime altered", ErrTxMismatch)
	}
	return nil
}

// SignWitnessInputs adds a partial signature with key to every P2WPKH input
// of packet whose prevout script belongs to key.
func SignWitnessInputs(packet *psbt.Packet, keys map[string]*btcec.PrivateKey) (int, error) {
	fetcher, err := prevoutFetcher(packet)
	if err != nil {
		return 0, err
	}
	sigHashes := txscript.NewTxSigHashes(packet.UnsignedTx, fetcher)

	updater, err := psbt.NewUpdater(packet)
	if err != nil {
		return 0, err
	}

	signed := 0
	for i, in := range packet.Inputs {
		key, ok := keys[string(in.WitnessUtxo.PkScript)]
		if !ok {
			continue
		}
		sig, err := txscript.RawTxInWitnessSignature(
			packet.UnsignedTx, sigHashes, i, in.WitnessUtxo.Value,
			in.WitnessUtxo.PkScript, txscript.SigHashAll, key,
		)
		if err != nil {
			return 0, err
		}
		outcome, err := updater.Sign(
			i, sig, key.PubKey().SerializeCompressed(), nil, nil,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to sign input %d: %w", i, err)
		}
		if outcome != psbt.SignSuccesful {
			return 0, fmt.Errorf("failed to sign input %d", i)
		}
		signed++
	}
	return signed, nil
}

// FinalizeDepositPacket finalizes every input, extracts the signed tx and
// verifies all of its scripts.
func FinalizeDepositPacket(packet *psbt.Packet) (*wire.MsgTx, error) {
	if err := psbt.MaybeFinalizeAll(packet); err != nil {
		return nil, fmt.Errorf("failed to finalize deposit: %w", err)
	}
	tx, err := psbt.Extract(packet)
	if err != nil {
		return nil, err
	}

	prevouts := make(map[wire.OutPoint]*wire.TxOut)
	for i, in := range packet.Inputs {
		prevouts[tx.TxIn[i].PreviousOutPoint] = in.WitnessUtxo
	}
	if err := VerifyTx(tx, prevouts); err != nil {
		return nil, err
	}
	return tx, nil
}

// VerifySignedDeposit checks that tx is the finalized version of packet and
// that all of its scripts are valid.
func VerifySignedDeposit(packet *psbt.Packet, tx *wire.MsgTx) error {
	if tx.TxHash() != packet.UnsignedTx.TxHash() {
		return fmt.Errorf(
			"%w: expected deposit %s, got %s",
			ErrTxMismatch, packet.UnsignedTx.TxHash(), tx.TxHash(),
		)
	}

	prevouts := make(map[wire.OutPoint]*wire.TxOut)
	for i, in := range packet.Inputs {
		prevouts[tx.TxIn[i].PreviousOutPoint] = in.WitnessUtxo
	}
	return VerifyTx(tx, prevouts)
}

// SerializePacket encodes packet as base64, the format exchanged between
// parties.
func SerializePacket(packet *psbt.Packet) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := packet.Serialize(buf); err != nil {
		return nil, err
	}
	return []byte(base64.StdEncoding.EncodeToString(buf.Bytes())), nil
}

// DeserializePacket parses a base64 encoded PSBT.
func DeserializePacket(b []byte) (*psbt.Packet, error) {
	packet, err := psbt.NewFromRawBytes(bytes.NewReader(b), true)
	if err != nil {
		return nil, fmt.Errorf("invalid psbt: %w", err)
	}
	for i, in := range packet.Inputs {
		if in.WitnessUtxo == nil {
			return nil, fmt.Errorf("invalid psbt: missing witness utxo for input %d", i)
		}
	}
	return packet, nil
}

// MultisigOutput returns the index and the output of tx paying to the given
// multisig witness script.
func MultisigOutput(tx *wire.MsgTx, witnessScript []byte) (uint32, *wire.TxOut, error) {
	script, err := witnessScriptHash(witnessScript)
	if err != nil {
		return 0, nil, err
	}
	for i, out := range tx.TxOut {
		if bytes.Equal(out.PkScript, script) {
			return uint32(i), out, nil
		}
	}
	return 0, nil, fmt.Errorf("%w: multisig output not found", ErrTxMismatch)
}

func prevoutFetcher(packet *psbt.Packet) (*txscript.MultiPrevOutFetcher, error) {
	prevouts := make(map[wire.OutPoint]*wire.TxOut)
	for i, in := range packet.Inputs {
		if in.WitnessUtxo == nil {
			return nil, fmt.Errorf("%w for input %d", ErrMissingPrevout, i)
		}
		prevouts[packet.UnsignedTx.TxIn[i].PreviousOutPoint] = in.WitnessUtxo
	}
	return txscript.NewMultiPrevOutFetcher(prevouts), nil
}

func witnessScriptHash(witnessScript []byte) ([]byte, error) {
	hash := sha256.Sum256(witnessScript)
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(hash[:]).
		Script()
}

func sameTxOut(a, b *wire.TxOut) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Value == b.Value && bytes.Equal(a.PkScript, b.PkScript)
}

func changeValue(o *Output) uint64 {
	if o == nil {
		return 0
	}
	return o.Value
}
