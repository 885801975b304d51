package domain

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProtocolVersion is the version of the trade protocol messages.
const ProtocolVersion = 1

// MessageType identifies the kind of a trade message.
type MessageType int

const (
	MessageUndefined MessageType = iota
	MessageDepositInputsRequest
	MessagePreparedDepositTxResponse
	MessageDepositTxPublished
	MessagePayoutRequest
	MessagePayoutTxPublished
	MessageAck
)

var messageTypeToString = map[MessageType]string{
	MessageDepositInputsRequest:      "DEPOSIT_INPUTS_REQUEST",
	MessagePreparedDepositTxResponse: "PREPARED_DEPOSIT_TX_RESPONSE",
	MessageDepositTxPublished:        "DEPOSIT_TX_PUBLISHED",
	MessagePayoutRequest:             "PAYOUT_REQUEST",
	MessagePayoutTxPublished:         "PAYOUT_TX_PUBLISHED",
	MessageAck:                       "ACK",
}

func (t MessageType) String() string {
	str, ok := messageTypeToString[t]
	if !ok {
		return "UNDEFINED"
	}
	return str
}

// MessageTypeFromString ...
func MessageTypeFromString(str string) (MessageType, bool) {
	for t, s := range messageTypeToString {
		if s == str {
			return t, true
		}
	}
	return MessageUndefined, false
}

// TradeMessage is a message exchanged by the two parties of a trade.
// Messages are immutable once constructed.
type TradeMessage interface {
	GetTradeId() string
	GetUid() string
	GetSender() string
	GetProtocolVersion() int
	GetType() MessageType
	Validate() error
}

// MessageHeader carries the fields common to every trade message.
type MessageHeader struct {
	TradeId         string
	Uid             string
	Sender          string
	ProtocolVersion int
}

// NewMessageHeader returns a header with a fresh uid.
func NewMessageHeader(tradeId, sender string) MessageHeader {
	return MessageHeader{
		TradeId:         tradeId,
		Uid:             uuid.New().String(),
		Sender:          sender,
		ProtocolVersion: ProtocolVersion,
	}
}

func (h MessageHeader) GetTradeId() string      { return h.TradeId }
func (h MessageHeader) GetUid() string          { return h.Uid }
func (h MessageHeader) GetSender() string       { return h.Sender }
func (h MessageHeader) GetProtocolVersion() int { return h.ProtocolVersion }

func (h MessageHeader) validate() error {
	if len(h.TradeId) <= 0 {
		return malformed("missing trade id")
	}
	if len(h.Uid) <= 0 {
		return malformed("missing uid")
	}
	if len(h.Sender) <= 0 {
		return malformed("missing sender")
	}
	if h.ProtocolVersion != ProtocolVersion {
		return malformed(fmt.Sprintf("unsupported protocol version %d", h.ProtocolVersion))
	}
	return nil
}

// DepositInputsRequest is sent by the taker to the maker to take an offer.
type DepositInputsRequest struct {
	MessageHeader
	TradeAmount       uint64
	Price             decimal.Decimal
	TakeOfferDate     int64
	RawInputs         []RawInput
	Change            ChangeOutput
	MultisigPubKey    []byte
	PayoutAddress     string
	PaymentAccountRef string
}

func (m *DepositInputsRequest) GetType() MessageType {
	return MessageDepositInputsRequest
}

func (m *DepositInputsRequest) Validate() error {
	if err := m.validate(); err != nil {
		return err
	}
	if m.TradeAmount == 0 {
		return malformed("missing trade amount")
	}
	if !m.Price.IsPositive() {
		return malformed("missing price")
	}
	if err := validateRawInputs(m.RawInputs); err != nil {
		return err
	}
	if m.Change.Value > 0 && len(m.Change.Address) <= 0 {
		return malformed("missing change address")
	}
	if len(m.MultisigPubKey) <= 0 {
		return malformed("missing multisig pubkey")
	}
	if len(m.PayoutAddress) <= 0 {
		return malformed("missing payout address")
	}
	return nil
}

// PreparedDepositTxResponse is the maker's reply carrying the deposit tx
// partially signed by the maker.
type PreparedDepositTxResponse struct {
	MessageHeader
	PreparedDepositTx []byte
	RawInputs         []RawInput
	Change            ChangeOutput
	MultisigPubKey    []byte
	PayoutAddress     string
	PaymentAccountRef string
}

func (m *PreparedDepositTxResponse) GetType() MessageType {
	return MessagePreparedDepositTxResponse
}

func (m *PreparedDepositTxResponse) Validate() error {
	if err := m.validate(); err != nil {
		return err
	}
	if len(m.PreparedDepositTx) <= 0 {
		return malformed("missing prepared deposit tx")
	}
	if err := validateRawInputs(m.RawInputs); err != nil {
		return err
	}
	if m.Change.Value > 0 && len(m.Change.Address) <= 0 {
		return malformed("missing change address")
	}
	if len(m.MultisigPubKey) <= 0 {
		return malformed("missing multisig pubkey")
	}
	if len(m.PayoutAddress) <= 0 {
		return malformed("missing payout address")
	}
	return nil
}

// DepositTxPublished is sent by the taker once the deposit is broadcast.
type DepositTxPublished struct {
	MessageHeader
	DepositTx []byte
}

func (m *DepositTxPublished) GetType() MessageType {
	return MessageDepositTxPublished
}

func (m *DepositTxPublished) Validate() error {
	if err := m.validate(); err != nil {
		return err
	}
	if len(m.DepositTx) <= 0 {
		return malformed("missing deposit tx")
	}
	return nil
}

// PayoutRequest is sent by the buyer once the payment has been started.
type PayoutRequest struct {
	MessageHeader
	MultisigPubKey     []byte
	PayoutAddress      string
	PayoutSignature    []byte
	BuyerPayoutAmount  uint64
	SellerPayoutAmount uint64
}

func (m *PayoutRequest) GetType() MessageType {
	return MessagePayoutRequest
}

func (m *PayoutRequest) Validate() error {
	if err := m.validate(); err != nil {
		return err
	}
	if len(m.MultisigPubKey) <= 0 {
		return malformed("missing multisig pubkey")
	}
	if len(m.PayoutAddress) <= 0 {
		return malformed("missing payout address")
	}
	if len(m.PayoutSignature) <= 0 {
		return malformed("missing payout signature")
	}
	if m.BuyerPayoutAmount == 0 {
		return malformed("missing buyer payout amount")
	}
	return nil
}

// PayoutTxPublished is sent by the seller once the payout is broadcast.
type PayoutTxPublished struct {
	MessageHeader
	PayoutTx []byte
}

func (m *PayoutTxPublished) GetType() MessageType {
	return MessagePayoutTxPublished
}

func (m *PayoutTxPublished) Validate() error {
	if err := m.validate(); err != nil {
		return err
	}
	if len(m.PayoutTx) <= 0 {
		return malformed("missing payout tx")
	}
	return nil
}

// Ack acknowledges the processing outcome of a received message.
type Ack struct {
	MessageHeader
	SourceUid    string
	SourceType   MessageType
	Success      bool
	ErrorMessage string
}

// NewAck returns the acknowledgement of msg.
func NewAck(msg TradeMessage, sender string, err error) *Ack {
	ack := &Ack{
		MessageHeader: NewMessageHeader(msg.GetTradeId(), sender),
		SourceUid:     msg.GetUid(),
		SourceType:    msg.GetType(),
		Success:       err == nil,
	}
	if err != nil {
		ack.ErrorMessage = err.Error()
	}
	return ack
}

func (m *Ack) GetType() MessageType {
	return MessageAck
}

func (m *Ack) Validate() error {
	if err := m.validate(); err != nil {
		return err
	}
	if len(m.SourceUid) <= 0 {
		return malformed("missing source uid")
	}
	return nil
}

func validateRawInputs(inputs []RawInput) error {
	if len(inputs) <= 0 {
		return malformed("missing raw inputs")
	}
	for i, in := range inputs {
		if len(in.TxId) != 64 {
			return malformed(fmt.Sprintf("invalid txid for input %d", i))
		}
		if in.Value == 0 {
			return malformed(fmt.Sprintf("missing value for input %d", i))
		}
		if len(in.PubKeyScript) <= 0 {
			return malformed(fmt.Sprintf("missing script for input %d", i))
		}
	}
	return nil
}

func malformed(reason string) error {
	return fmt.Errorf("%w: %s", ErrMalformedMessage, reason)
}
