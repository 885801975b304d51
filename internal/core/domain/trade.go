package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Trade is the data structure representing one exchange instance from the
// point of view of the local party. Its identity is the offer id.
type Trade struct {
	Id                    string
	Role                  Role
	Amount                uint64
	Price                 decimal.Decimal
	BuyerSecurityDeposit  uint64
	SellerSecurityDeposit uint64
	MinerFee              uint64
	PaymentMethodId       string
	TakeOfferDate         int64
	PeerAddress           string
	DepositTx             []byte
	DepositTxId           string
	PayoutTx              []byte
	PayoutTxId            string
	State                 TradeState
	DisputeState          DisputeState
	ErrorMessage          string
	Model                 ProtocolModel
}

// NewTrade returns a trade in Preparation state for the given offer, seen
// from a party playing role and talking to peerAddress.
func NewTrade(offer Offer, role Role, peerAddress string, minerFee uint64) (*Trade, error) {
	if err := offer.Validate(); err != nil {
		return nil, err
	}
	if role != offer.MakerRole() && role != offer.TakerRole() {
		return nil, ErrInvalidRole
	}
	if len(peerAddress) <= 0 {
		return nil, fmt.Errorf("missing peer address")
	}
	if minerFee == 0 {
		return nil, fmt.Errorf("miner fee must be greater than zero")
	}

	return &Trade{
		Id:                    offer.Id,
		Role:                  role,
		Amount:                offer.Amount,
		Price:                 offer.Price,
		BuyerSecurityDeposit:  offer.BuyerSecurityDeposit,
		SellerSecurityDeposit: offer.SellerSecurityDeposit,
		MinerFee:              minerFee,
		PaymentMethodId:       offer.PaymentMethodId,
		TakeOfferDate:         time.Now().Unix(),
		PeerAddress:           peerAddress,
		State:                 StatePreparation,
	}, nil
}

// Phase returns the coarse projection of the trade state.
func (t *Trade) Phase() TradePhase {
	return t.State.Phase()
}

// IsTerminal returns whether the trade has completed, failed or its funds
// have been withdrawn.
func (t *Trade) IsTerminal() bool {
	return t.State.IsTerminal()
}

// IsClosed returns whether the protocol of the trade is over, either because
// the trade is terminal or because its offer has been reopened.
func (t *Trade) IsClosed() bool {
	return t.IsTerminal() || t.State == StateOfferOpen
}

// IsOfferReopened returns whether the trade was closed before committing
// funds. Only such a trade can be replaced by a new one for the same offer.
func (t *Trade) IsOfferReopened() bool {
	return t.State == StateOfferOpen
}

// IsDepositPublished returns whether the funds of the trade are locked into
// the multisig output.
func (t *Trade) IsDepositPublished() bool {
	return t.State >= StateDepositPublished && t.State != StateFailed ||
		t.State == StateFailed && len(t.DepositTxId) > 0
}

// SetState moves the trade to the given state. Moving to the current state is
// a no-op, while any transition out of a closed trade or to a lower ordinal
// is rejected. The data required by the target phase must be present.
func (t *Trade) SetState(state TradeState) error {
	if state == t.State {
		return nil
	}
	if t.IsClosed() {
		return fmt.Errorf("%w: %s", ErrTradeClosed, t.State)
	}
	if state < t.State {
		return fmt.Errorf("%w: %s -> %s", ErrStateRegression, t.State, state)
	}
	if err := t.ValidateProtocolData(state.Phase()); err != nil {
		return err
	}
	t.State = state
	return nil
}

// ReopenOffer closes a trade that never committed funds, making its offer
// available again. It's the only transition allowed to lower the state.
func (t *Trade) ReopenOffer(reason string) error {
	if t.IsClosed() {
		return fmt.Errorf("%w: %s", ErrTradeClosed, t.State)
	}
	if t.IsDepositPublished() {
		return ErrFundsCommitted
	}
	t.State = StateOfferOpen
	t.ErrorMessage = reason
	return nil
}

// Fail brings the trade to the Failed terminal state recording reason.
func (t *Trade) Fail(reason string) error {
	if t.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrTradeClosed, t.State)
	}
	t.State = StateFailed
	t.ErrorMessage = reason
	return nil
}

// RecordError sets the visible error of the trade without changing state.
func (t *Trade) RecordError(reason string) {
	t.ErrorMessage = reason
}

// OpenDispute marks the trade as disputed. Only trades with locked funds
// can be disputed.
func (t *Trade) OpenDispute() error {
	if t.IsClosed() {
		return fmt.Errorf("%w: %s", ErrTradeClosed, t.State)
	}
	if !t.IsDepositPublished() {
		return ErrDepositNotPublished
	}
	t.DisputeState = DisputeOpened
	return nil
}

// MarkWithdrawn brings a completed trade to the Withdrawn terminal state.
func (t *Trade) MarkWithdrawn() error {
	if t.State == StateWithdrawn {
		return nil
	}
	if t.State != StatePayoutConfirmed {
		return ErrTradeNotPayoutConfirmed
	}
	t.State = StateWithdrawn
	return nil
}

// SetDepositTx records the fully signed deposit tx.
func (t *Trade) SetDepositTx(tx []byte, txid string) error {
	if len(t.DepositTx) > 0 {
		if t.DepositTxId == txid {
			return nil
		}
		return fmt.Errorf("deposit tx %w", ErrFieldAlreadySet)
	}
	t.DepositTx = tx
	t.DepositTxId = txid
	return nil
}

// SetPayoutTxId records the id of the payout tx, known before it's fully
// signed.
func (t *Trade) SetPayoutTxId(txid string) error {
	if len(t.PayoutTxId) > 0 && t.PayoutTxId != txid {
		return fmt.Errorf("payout txid %w", ErrFieldAlreadySet)
	}
	t.PayoutTxId = txid
	return nil
}

// SetPayoutTx records the fully signed payout tx.
func (t *Trade) SetPayoutTx(tx []byte, txid string) error {
	if err := t.SetPayoutTxId(txid); err != nil {
		return err
	}
	if len(t.PayoutTx) > 0 {
		return nil
	}
	t.PayoutTx = tx
	return nil
}

// Clone returns a deep copy of the trade.
func (t *Trade) Clone() *Trade {
	c := *t
	c.DepositTx = cloneBytes(t.DepositTx)
	c.PayoutTx = cloneBytes(t.PayoutTx)
	c.Model = t.Model.clone()
	return &c
}

func (m ProtocolModel) clone() ProtocolModel {
	c := m
	c.MultisigPubKey.Value = cloneBytes(m.MultisigPubKey.Value)
	c.RawInputs.Value = cloneInputs(m.RawInputs.Value)
	c.PreparedDepositTx.Value = cloneBytes(m.PreparedDepositTx.Value)
	c.PayoutSignature.Value = cloneBytes(m.PayoutSignature.Value)
	c.Peer.MultisigPubKey.Value = cloneBytes(m.Peer.MultisigPubKey.Value)
	c.Peer.RawInputs.Value = cloneInputs(m.Peer.RawInputs.Value)
	c.Peer.PayoutSignature.Value = cloneBytes(m.Peer.PayoutSignature.Value)
	if m.ProcessedMessages != nil {
		c.ProcessedMessages = make(map[string]bool, len(m.ProcessedMessages))
		for k, v := range m.ProcessedMessages {
			c.ProcessedMessages[k] = v
		}
	}
	if m.Acks != nil {
		c.Acks = append([]AckRecord{}, m.Acks...)
	}
	return c
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}

func cloneInputs(inputs []RawInput) []RawInput {
	if inputs == nil {
		return nil
	}
	c := make([]RawInput, 0, len(inputs))
	for _, in := range inputs {
		in.PubKeyScript = cloneBytes(in.PubKeyScript)
		c = append(c, in)
	}
	return c
}
