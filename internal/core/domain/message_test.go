package domain_test

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-p2p/internal/core/domain"
	"github.com/thanhpk/randstr"
)

func newDepositInputsRequest() *domain.DepositInputsRequest {
	return &domain.DepositInputsRequest{
		MessageHeader: domain.NewMessageHeader(randstr.Hex(16), "taker.onion:9999"),
		TradeAmount:   btc,
		Price:         decimal.NewFromInt(30000),
		TakeOfferDate: 1700000000,
		RawInputs: []domain.RawInput{{
			TxId: randstr.Hex(32), Value: btc, PubKeyScript: []byte{0x00, 0x14},
		}},
		MultisigPubKey: []byte{0x02},
		PayoutAddress:  "bcrt1qpayout",
	}
}

func TestMessageValidate(t *testing.T) {
	header := domain.NewMessageHeader(randstr.Hex(16), "peer")
	msgs := []domain.TradeMessage{
		newDepositInputsRequest(),
		&domain.PreparedDepositTxResponse{
			MessageHeader:     header,
			PreparedDepositTx: []byte("psbt"),
			RawInputs:         newDepositInputsRequest().RawInputs,
			MultisigPubKey:    []byte{0x03},
			PayoutAddress:     "bcrt1qmaker",
		},
		&domain.DepositTxPublished{MessageHeader: header, DepositTx: []byte("tx")},
		&domain.PayoutRequest{
			MessageHeader:      header,
			MultisigPubKey:     []byte{0x02},
			PayoutAddress:      "bcrt1qbuyer",
			PayoutSignature:    []byte("sig"),
			BuyerPayoutAmount:  btc,
			SellerPayoutAmount: btc / 2,
		},
		&domain.PayoutTxPublished{MessageHeader: header, PayoutTx: []byte("tx")},
		domain.NewAck(newDepositInputsRequest(), "maker", nil),
	}

	for _, msg := range msgs {
		t.Run(msg.GetType().String(), func(t *testing.T) {
			require.NoError(t, msg.Validate())
			require.Equal(t, domain.ProtocolVersion, msg.GetProtocolVersion())
			require.NotEmpty(t, msg.GetUid())

			msgType, ok := domain.MessageTypeFromString(msg.GetType().String())
			require.True(t, ok)
			require.Equal(t, msg.GetType(), msgType)
		})
	}
}

func TestFailingMessageValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *domain.DepositInputsRequest)
	}{
		{"missing_trade_id", func(m *domain.DepositInputsRequest) { m.TradeId = "" }},
		{"missing_uid", func(m *domain.DepositInputsRequest) { m.Uid = "" }},
		{"missing_sender", func(m *domain.DepositInputsRequest) { m.Sender = "" }},
		{"unsupported_version", func(m *domain.DepositInputsRequest) { m.ProtocolVersion = 2 }},
		{"missing_amount", func(m *domain.DepositInputsRequest) { m.TradeAmount = 0 }},
		{"missing_price", func(m *domain.DepositInputsRequest) { m.Price = decimal.Zero }},
		{"missing_inputs", func(m *domain.DepositInputsRequest) { m.RawInputs = nil }},
		{"invalid_input_txid", func(m *domain.DepositInputsRequest) { m.RawInputs[0].TxId = "ab" }},
		{"zero_input_value", func(m *domain.DepositInputsRequest) { m.RawInputs[0].Value = 0 }},
		{"missing_change_address", func(m *domain.DepositInputsRequest) {
			m.Change = domain.ChangeOutput{Value: 1000}
		}},
		{"missing_multisig_pubkey", func(m *domain.DepositInputsRequest) { m.MultisigPubKey = nil }},
		{"missing_payout_address", func(m *domain.DepositInputsRequest) { m.PayoutAddress = "" }},
	}

	for i := range tests {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			msg := newDepositInputsRequest()
			tt.mutate(msg)
			require.ErrorIs(t, msg.Validate(), domain.ErrMalformedMessage)
		})
	}
}

func TestNewAck(t *testing.T) {
	msg := newDepositInputsRequest()

	ack := domain.NewAck(msg, "maker", nil)
	require.True(t, ack.Success)
	require.Equal(t, msg.GetUid(), ack.SourceUid)
	require.Equal(t, msg.GetTradeId(), ack.GetTradeId())
	require.Equal(t, domain.MessageDepositInputsRequest, ack.SourceType)
	require.NotEqual(t, msg.GetUid(), ack.GetUid())

	ack = domain.NewAck(msg, "maker", fmt.Errorf("boom"))
	require.False(t, ack.Success)
	require.Equal(t, "boom", ack.ErrorMessage)
}
