package messenger_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-p2p/internal/core/domain"
	"github.com/tdex-network/tdex-p2p/internal/infrastructure/messenger"
	"github.com/thanhpk/randstr"
)

func TestCodec(t *testing.T) {
	req := &domain.DepositInputsRequest{
		MessageHeader: domain.NewMessageHeader(randstr.Hex(16), "taker:9000"),
		TradeAmount:   100000000,
		Price:         decimal.RequireFromString("30000.5"),
		TakeOfferDate: 1700000000,
		RawInputs: []domain.RawInput{{
			TxId:         randstr.Hex(32),
			OutputIndex:  1,
			Value:        150000000,
			PubKeyScript: []byte{0x00, 0x14, 0x01},
		}},
		Change:            domain.ChangeOutput{Address: "bcrt1qchange", Value: 1000},
		MultisigPubKey:    []byte{0x02, 0x03},
		PayoutAddress:     "bcrt1qpayout",
		PaymentAccountRef: "SEPA/acc1",
	}

	buf, err := messenger.Encode(req)
	require.NoError(t, err)

	msg, err := messenger.Decode(buf)
	require.NoError(t, err)
	decoded, ok := msg.(*domain.DepositInputsRequest)
	require.True(t, ok)
	require.True(t, req.Price.Equal(decoded.Price))
	decoded.Price = req.Price
	require.Equal(t, req, decoded)

	ack := domain.NewAck(req, "maker:9000", nil)
	buf, err = messenger.Encode(ack)
	require.NoError(t, err)
	msg, err = messenger.Decode(buf)
	require.NoError(t, err)
	require.Equal(t, ack, msg)
}

func TestFailingDecode(t *testing.T) {
	tests := []struct {
		name        string
		buf         []byte
		expectedErr error
	}{
		{"not_json", []byte("hello"), domain.ErrMalformedMessage},
		{"unknown_type", []byte(`{"type":"FOO","payload":{}}`), messenger.ErrUnknownMessageType},
		{"invalid_payload", []byte(`{"type":"ACK","payload":[]}`), domain.ErrMalformedMessage},
		{"missing_fields", []byte(`{"type":"DEPOSIT_TX_PUBLISHED","payload":{}}`), domain.ErrMalformedMessage},
	}

	for i := range tests {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			_, err := messenger.Decode(tt.buf)
			require.ErrorIs(t, err, tt.expectedErr)
		})
	}
}
