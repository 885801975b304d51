// Package messenger holds what the messenger implementations share: the
// wire encoding of trade messages.
package messenger

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tdex-network/tdex-p2p/internal/core/domain"
)

// ErrUnknownMessageType is returned when decoding an envelope of unknown
// type.
var ErrUnknownMessageType = errors.New("unknown message type")

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Encode serializes msg into a typed JSON envelope.
func Encode(msg domain.TradeMessage) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", msg.GetType(), err)
	}
	return json.Marshal(envelope{
		Type:    msg.GetType().String(),
		Payload: payload,
	})
}

// Decode parses an envelope and validates the message it carries.
func Decode(buf []byte) (domain.TradeMessage, error) {
	var env envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrMalformedMessage, err)
	}

	msgType, ok := domain.MessageTypeFromString(env.Type)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownMessageType, env.Type)
	}
	msg := newMessage(msgType)
	if err := json.Unmarshal(env.Payload, msg); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrMalformedMessage, err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

func newMessage(msgType domain.MessageType) domain.TradeMessage {
	switch msgType {
	case domain.MessageDepositInputsRequest:
		return &domain.DepositInputsRequest{}
	case domain.MessagePreparedDepositTxResponse:
		return &domain.PreparedDepositTxResponse{}
	case domain.MessageDepositTxPublished:
		return &domain.DepositTxPublished{}
	case domain.MessagePayoutRequest:
		return &domain.PayoutRequest{}
	case domain.MessagePayoutTxPublished:
		return &domain.PayoutTxPublished{}
	default:
		return &domain.Ack{}
	}
}
