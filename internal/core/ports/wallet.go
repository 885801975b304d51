package ports

import (
	"context"
	"errors"

	"github.com/tdex-network/tdex-p2p/internal/core/domain"
	"github.com/tdex-network/tdex-p2p/pkg/promise"
)

var (
	// ErrInsufficientFunds is returned when the wallet can't cover an amount.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInvalidSignature is returned when a signature of the peer doesn't
	// verify.
	ErrInvalidSignature = errors.New("invalid peer signature")
)

// Wallet is the local BTC wallet used by the protocol to fund, sign and
// broadcast the trade transactions. Keys never leave the wallet.
type Wallet interface {
	// NewMultisigKey returns a fresh pubkey dedicated to the multisig of the
	// given trade.
	NewMultisigKey(ctx context.Context, tradeId string) ([]byte, error)
	// NewAddress returns a fresh receiving address, used for payouts and
	// change outputs.
	NewAddress(ctx context.Context, tradeId string) (string, error)
	// SelectInputsForAmount selects and reserves enough utxos to cover the
	// given amount. Reserved utxos can't be selected by any other trade.
	SelectInputsForAmount(
		ctx context.Context, tradeId string, amount uint64,
	) (*InputsAndChange, error)
	// ReserveInputsForTrade locks the given utxos for the trade.
	ReserveInputsForTrade(ctx context.Context, tradeId string, inputs []domain.RawInput) error
	// ReleaseInputsForTrade unlocks the utxos reserved for the trade.
	ReleaseInputsForTrade(ctx context.Context, tradeId string) error
	// BuildAndPartiallySignDepositTx builds the deposit tx and signs the
	// inputs owned by the wallet. It returns the serialized PSBT.
	BuildAndPartiallySignDepositTx(ctx context.Context, args DepositTxArgs) ([]byte, error)
	// VerifyPreparedDepositTx checks the PSBT received from the maker matches
	// what the given args describe.
	VerifyPreparedDepositTx(ctx context.Context, psbt []byte, args DepositTxArgs) error
	// CounterSignDepositTx signs the remaining inputs of the PSBT and returns
	// the final raw tx.
	CounterSignDepositTx(ctx context.Context, tradeId string, psbt []byte) ([]byte, error)
	// SignPayoutTx returns the wallet signature of the payout tx described by
	// the given args.
	SignPayoutTx(ctx context.Context, args PayoutTxArgs) (*PayoutSignature, error)
	// FinalizePayoutTx signs the payout tx, combines the signature with the
	// peer's one and returns the final raw tx.
	FinalizePayoutTx(ctx context.Context, args PayoutTxArgs, peerSig []byte) ([]byte, error)
	// Broadcast publishes the raw tx. The promise resolves with the txid once
	// the network accepted the tx.
	Broadcast(ctx context.Context, rawTx []byte) *promise.Promise[string]
	// CommitTransaction registers a tx the wallet is involved in to be
	// notified about its confirmations.
	CommitTransaction(ctx context.Context, rawTx []byte) error
	// WatchTransaction makes the wallet notify the confirmations of a tx it
	// doesn't hold yet, like a deposit tx published by the peer.
	WatchTransaction(ctx context.Context, txid string) error
	// GetTransactionStatus returns what the network knows about the given tx.
	GetTransactionStatus(ctx context.Context, txid string) (*TxStatus, error)
	// IsOutputUnspent returns whether the given output exists and is not
	// spent, mempool included.
	IsOutputUnspent(ctx context.Context, txid string, index uint32) (bool, error)
	// Notifications returns the channel where confirmations of committed txs
	// are sent.
	Notifications() <-chan TxNotification
}

// InputsAndChange is the result of a coin selection.
type InputsAndChange struct {
	Inputs []domain.RawInput
	Change domain.ChangeOutput
}

// DepositTxArgs describes a deposit tx. Inputs are ordered maker first.
type DepositTxArgs struct {
	TradeId        string
	MakerInputs    []domain.RawInput
	MakerChange    domain.ChangeOutput
	TakerInputs    []domain.RawInput
	TakerChange    domain.ChangeOutput
	BuyerPubKey    []byte
	SellerPubKey   []byte
	MultisigAmount uint64
	Fee            uint64
}

// PayoutTxArgs describes a payout tx spending the multisig output of the
// deposit tx.
type PayoutTxArgs struct {
	TradeId       string
	DepositTx     []byte
	BuyerPubKey   []byte
	SellerPubKey  []byte
	BuyerAddress  string
	SellerAddress string
	BuyerAmount   uint64
	SellerAmount  uint64
	Fee           uint64
}

// PayoutSignature is a signature of the payout tx together with its txid.
type PayoutSignature struct {
	TxId      string
	Signature []byte
}

// TxStatus ...
type TxStatus struct {
	Known         bool
	Confirmations uint32
	// RawTx is set if the tx is known.
	RawTx []byte
}

// TxNotification is sent whenever a committed tx changes its confirmations.
type TxNotification struct {
	TxId          string
	Confirmations uint32
}
