package ports

import (
	"context"

	"github.com/tdex-network/tdex-p2p/internal/core/domain"
)

const (
	AnyTopic                = "*"
	TradeStateTopic         = "TRADE_STATE_CHANGED"
	TradeCompletedTopic     = "TRADE_COMPLETED"
	TradeFailedTopic        = "TRADE_FAILED"
	TradeOfferReopenedTopic = "TRADE_OFFER_REOPENED"
)

// TradeEvent is published whenever a trade changes its state.
type TradeEvent struct {
	TradeId      string `json:"tradeId"`
	Role         string `json:"role"`
	State        string `json:"state"`
	Phase        string `json:"phase"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	Timestamp    int64  `json:"timestamp"`
}

// NewTradeEvent ...
func NewTradeEvent(trade *domain.Trade, timestamp int64) TradeEvent {
	return TradeEvent{
		TradeId:      trade.Id,
		Role:         trade.Role.String(),
		State:        trade.State.String(),
		Phase:        trade.Phase().String(),
		ErrorMessage: trade.ErrorMessage,
		Timestamp:    timestamp,
	}
}

// Topic returns the topic the event is published for.
func (e TradeEvent) Topic() string {
	switch e.State {
	case domain.StatePayoutConfirmed.String():
		return TradeCompletedTopic
	case domain.StateFailed.String():
		return TradeFailedTopic
	case domain.StateOfferOpen.String():
		return TradeOfferReopenedTopic
	default:
		return TradeStateTopic
	}
}

// EventPublisher notifies external subscribers about trade events.
type EventPublisher interface {
	PublishTradeEvent(ctx context.Context, event TradeEvent) error
	Close()
}
