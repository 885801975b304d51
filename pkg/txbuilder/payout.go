package txbuilder

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// PayoutArgs describes the cooperative spend of the deposit multisig output.
type PayoutArgs struct {
	DepositTx      *wire.MsgTx
	MultisigScript []byte
	BuyerScript    []byte
	SellerScript   []byte
	BuyerAmount    uint64
	SellerAmount   uint64
	Fee            uint64
}

// Payout is an unsigned payout transaction together with the multisig output
// it spends.
type Payout struct {
	Tx             *wire.MsgTx
	Prevout        *wire.TxOut
	MultisigScript []byte
}

// NewPayout builds the unsigned payout tx. The buyer output comes first,
// the seller one second, and their sum plus the fee must equal the multisig
// output value.
func NewPayout(args PayoutArgs) (*Payout, error) {
	if args.DepositTx == nil {
		return nil, fmt.Errorf("missing deposit tx")
	}
	if len(args.BuyerScript) <= 0 || len(args.SellerScript) <= 0 {
		return nil, fmt.Errorf("missing payout script")
	}

	index, prevout, err := MultisigOutput(args.DepositTx, args.MultisigScript)
	if err != nil {
		return nil, err
	}
	if uint64(prevout.Value) != args.BuyerAmount+args.SellerAmount+args.Fee {
		return nil, fmt.Errorf(
			"%w: multisig output %d, buyer %d, seller %d, fee %d",
			ErrValueMismatch, prevout.Value, args.BuyerAmount, args.SellerAmount,
			args.Fee,
		)
	}

	depositHash := args.DepositTx.TxHash()
	tx := wire.NewMsgTx(txVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&depositHash, index), nil, nil))
	tx.AddTxOut(wire.NewTxOut(int64(args.BuyerAmount), args.BuyerScript))
	if args.SellerAmount > 0 {
		tx.AddTxOut(wire.NewTxOut(int64(args.SellerAmount), args.SellerScript))
	}

	return &Payout{tx, prevout, args.MultisigScript}, nil
}

// TxId returns the id of the payout tx. It doesn't change once signed.
func (p *Payout) TxId() string {
	return p.Tx.TxHash().String()
}

// Sign returns the signature of the multisig input made with key.
func (p *Payout) Sign(key *btcec.PrivateKey) ([]byte, error) {
	return txscript.RawTxInWitnessSignature(
		p.Tx, p.sigHashes(), 0, p.Prevout.Value, p.MultisigScript,
		txscript.SigHashAll, key,
	)
}

// VerifySignature checks that sig is a valid SIGHASH_ALL signature of the
// multisig input made by pubkey.
func (p *Payout) VerifySignature(pubkey, sig []byte) error {
	if len(sig) < 2 || txscript.SigHashType(sig[len(sig)-1]) != txscript.SigHashAll {
		return fmt.Errorf("invalid signature hash type")
	}
	key, err := btcec.ParsePubKey(pubkey)
	if err != nil {
		return fmt.Errorf("invalid pubkey: %w", err)
	}
	signature, err := ecdsa.ParseDERSignature(sig[:len(sig)-1])
	if err != nil {
		return fmt.Errorf("invalid signature: %w", err)
	}
	hash, err := txscript.CalcWitnessSigHash(
		p.MultisigScript, p.sigHashes(), txscript.SigHashAll, p.Tx, 0,
		p.Prevout.Value,
	)
	if err != nil {
		return err
	}
	if !signature.Verify(hash, key) {
		return fmt.Errorf("signature doesn't match payout tx")
	}
	return nil
}

// Finalize sets the witness of the multisig input and verifies it. The
// signatures must be given in key order, buyer first.
func (p *Payout) Finalize(buyerSig, sellerSig []byte) (*wire.MsgTx, error) {
	tx := p.Tx.Copy()
	tx.TxIn[0].Witness = wire.TxWitness{
		nil, buyerSig, sellerSig, p.MultisigScript,
	}

	prevouts := map[wire.OutPoint]*wire.TxOut{
		tx.TxIn[0].PreviousOutPoint: p.Prevout,
	}
	if err := VerifyTx(tx, prevouts); err != nil {
		return nil, err
	}
	return tx, nil
}

func (p *Payout) sigHashes() *txscript.TxSigHashes {
	fetcher := txscript.NewCannedPrevOutputFetcher(
		p.Prevout.PkScript, p.Prevout.Value,
	)
	return txscript.NewTxSigHashes(p.Tx, fetcher)
}
