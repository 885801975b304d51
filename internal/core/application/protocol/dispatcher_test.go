package protocol

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-p2p/internal/core/domain"
	"github.com/thanhpk/randstr"
)

type mockRegistry struct {
	mock.Mock
}

func (m *mockRegistry) getProtocol(tradeId string) (*TradeProtocol, bool) {
	args := m.Called(tradeId)
	p, _ := args.Get(0).(*TradeProtocol)
	return p, args.Bool(1)
}

func (m *mockRegistry) acceptOffer(req *domain.DepositInputsRequest) (*TradeProtocol, error) {
	args := m.Called(req)
	p, _ := args.Get(0).(*TradeProtocol)
	return p, args.Error(1)
}

func newDepositTxPublished(tradeId string) *domain.DepositTxPublished {
	return &domain.DepositTxPublished{
		MessageHeader: domain.NewMessageHeader(tradeId, randstr.Hex(8)),
		DepositTx:     []byte{0x01},
	}
}

func newDepositInputsRequest(tradeId string) *domain.DepositInputsRequest {
	return &domain.DepositInputsRequest{
		MessageHeader: domain.NewMessageHeader(tradeId, randstr.Hex(8)),
		TradeAmount:   100000000,
		Price:         decimal.NewFromInt(30000),
		RawInputs: []domain.RawInput{{
			TxId: randstr.Hex(32), Value: 50601000, PubKeyScript: []byte{0x00, 0x14},
		}},
		MultisigPubKey: []byte{0x02},
		PayoutAddress:  randstr.Hex(20),
	}
}

func TestDispatcher(t *testing.T) {
	t.Run("drop invalid message", func(t *testing.T) {
		registry := &mockRegistry{}
		msg := newDepositTxPublished(randstr.Hex(16))
		msg.DepositTx = nil

		newDispatcher(registry).Dispatch(msg)
		registry.AssertNotCalled(t, "getProtocol", mock.Anything)
	})

	t.Run("drop message for unknown trade", func(t *testing.T) {
		registry := &mockRegistry{}
		msg := newDepositTxPublished(randstr.Hex(16))
		registry.On("getProtocol", msg.TradeId).Return(nil, false)

		newDispatcher(registry).Dispatch(msg)
		registry.AssertExpectations(t)
		registry.AssertNotCalled(t, "acceptOffer", mock.Anything)
	})

	t.Run("drop request for unknown offer", func(t *testing.T) {
		registry := &mockRegistry{}
		msg := newDepositInputsRequest(randstr.Hex(16))
		registry.On("getProtocol", msg.TradeId).Return(nil, false)
		registry.On("acceptOffer", msg).Return(nil, ErrOfferNotFound)

		newDispatcher(registry).Dispatch(msg)
		registry.AssertExpectations(t)
	})

	t.Run("route request to new trade", func(t *testing.T) {
		registry := &mockRegistry{}
		p := newTestProtocol(t, domain.RoleMakerAsSeller)
		msg := newDepositInputsRequest(p.trade.Id)
		registry.On("getProtocol", msg.TradeId).Return(nil, false)
		registry.On("acceptOffer", msg).Return(p, nil)

		newDispatcher(registry).Dispatch(msg)
		registry.AssertExpectations(t)
		require.Len(t, p.jobs, 1)
	})

	t.Run("route message to trade", func(t *testing.T) {
		registry := &mockRegistry{}
		p := newTestProtocol(t, domain.RoleMakerAsSeller)
		msg := newDepositTxPublished(p.trade.Id)
		registry.On("getProtocol", msg.TradeId).Return(p, true)

		newDispatcher(registry).Dispatch(msg)
		registry.AssertExpectations(t)
		require.Len(t, p.jobs, 1)
	})

	t.Run("drop message for stopped trade", func(t *testing.T) {
		registry := &mockRegistry{}
		p := newTestProtocol(t, domain.RoleMakerAsSeller)
		p.stop()
		msg := newDepositTxPublished(p.trade.Id)
		registry.On("getProtocol", msg.TradeId).Return(p, true)

		newDispatcher(registry).Dispatch(msg)
		require.Empty(t, p.jobs)
	})
}

func TestExpectedStep(t *testing.T) {
	tests := []struct {
		name         string
		role         domain.Role
		state        domain.TradeState
		msg          domain.TradeMessage
		expectedStep Step
	}{
		{
			name:         "maker accepts deposit inputs request",
			role:         domain.RoleMakerAsBuyer,
			state:        domain.StatePreparation,
			msg:          &domain.DepositInputsRequest{},
			expectedStep: StepProcessDepositInputsRequest,
		},
		{
			name:  "taker rejects deposit inputs request",
			role:  domain.RoleTakerAsSeller,
			state: domain.StatePreparation,
			msg:   &domain.DepositInputsRequest{},
		},
		{
			name:         "taker accepts prepared deposit tx",
			role:         domain.RoleTakerAsBuyer,
			state:        domain.StateTakerSentDepositInputsRequest,
			msg:          &domain.PreparedDepositTxResponse{},
			expectedStep: StepProcessPreparedDepositTx,
		},
		{
			name:  "taker rejects prepared deposit tx before request",
			role:  domain.RoleTakerAsBuyer,
			state: domain.StatePreparation,
			msg:   &domain.PreparedDepositTxResponse{},
		},
		{
			name:         "maker accepts deposit tx published",
			role:         domain.RoleMakerAsSeller,
			state:        domain.StateMakerSentPreparedDepositTx,
			msg:          &domain.DepositTxPublished{},
			expectedStep: StepProcessDepositTxPublished,
		},
		{
			name:         "seller accepts payout request after deposit published",
			role:         domain.RoleMakerAsSeller,
			state:        domain.StateDepositPublished,
			msg:          &domain.PayoutRequest{},
			expectedStep: StepProcessPayoutRequest,
		},
		{
			name:         "seller accepts payout request after deposit confirmed",
			role:         domain.RoleTakerAsSeller,
			state:        domain.StateDepositConfirmed,
			msg:          &domain.PayoutRequest{},
			expectedStep: StepProcessPayoutRequest,
		},
		{
			name:  "buyer rejects payout request",
			role:  domain.RoleTakerAsBuyer,
			state: domain.StateDepositConfirmed,
			msg:   &domain.PayoutRequest{},
		},
		{
			name:         "buyer accepts payout tx published",
			role:         domain.RoleMakerAsBuyer,
			state:        domain.StateBuyerSentPayoutRequest,
			msg:          &domain.PayoutTxPublished{},
			expectedStep: StepProcessPayoutTxPublished,
		},
		{
			name:  "buyer rejects payout tx published before request",
			role:  domain.RoleMakerAsBuyer,
			state: domain.StateDepositConfirmed,
			msg:   &domain.PayoutTxPublished{},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			trade := &domain.Trade{Role: tt.role, State: tt.state}
			step, ok := expectedStep(trade, tt.msg)
			require.Equal(t, tt.expectedStep != StepUndefined, ok)
			require.Equal(t, tt.expectedStep, step)
		})
	}
}

func TestTaskTable(t *testing.T) {
	tests := []struct {
		role       domain.Role
		available  []Step
		unexpected []Step
	}{
		{
			role:       domain.RoleMakerAsBuyer,
			available:  []Step{StepProcessDepositInputsRequest, StepSignPayoutTx, StepCommitDepositTx},
			unexpected: []Step{StepSendDepositInputsRequest, StepProcessPayoutRequest},
		},
		{
			role:       domain.RoleMakerAsSeller,
			available:  []Step{StepCreateAndSignDepositTx, StepSignAndPublishPayoutTx},
			unexpected: []Step{StepSignAndPublishDepositTx, StepSendPayoutRequest},
		},
		{
			role:       domain.RoleTakerAsBuyer,
			available:  []Step{StepVerifyPreparedDepositTx, StepReconcileDepositTx, StepProcessPayoutTxPublished},
			unexpected: []Step{StepCreateAndSignDepositTx, StepReconcilePayoutTx},
		},
		{
			role:       domain.RoleTakerAsSeller,
			available:  []Step{StepSignAndPublishDepositTx, StepSendPayoutTxPublished},
			unexpected: []Step{StepProcessDepositTxPublished, StepSignPayoutTx},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.role.String(), func(t *testing.T) {
			for _, step := range tt.available {
				_, ok := lookupTask(tt.role, step)
				require.Truef(t, ok, "missing %s", step)
			}
			for _, step := range tt.unexpected {
				_, ok := lookupTask(tt.role, step)
				require.Falsef(t, ok, "unexpected %s", step)
			}
		})
	}

	_, ok := lookupTask(domain.RoleUndefined, StepCreateDepositInputs)
	require.False(t, ok)
}
