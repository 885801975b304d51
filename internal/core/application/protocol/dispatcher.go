package protocol

import (
	"errors"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-p2p/internal/core/domain"
)

// ErrOfferNotFound is returned when a taker addresses an offer not placed
// by the local node.
var ErrOfferNotFound = errors.New("offer not found")

type protocolRegistry interface {
	getProtocol(tradeId string) (*TradeProtocol, bool)
	acceptOffer(req *domain.DepositInputsRequest) (*TradeProtocol, error)
}

// Dispatcher routes inbound messages to the protocol owning their trade.
type Dispatcher struct {
	registry protocolRegistry
}

func newDispatcher(registry protocolRegistry) *Dispatcher {
	return &Dispatcher{registry}
}

// Dispatch routes msg. Invalid messages and messages for unknown trades are
// logged and dropped, except for deposit inputs requests addressed to an
// open offer, which create the maker trade.
func (d *Dispatcher) Dispatch(msg domain.TradeMessage) {
	logger := log.WithFields(log.Fields{
		"trade_id": msg.GetTradeId(),
		"msg_type": msg.GetType(),
		"msg_uid":  msg.GetUid(),
		"sender":   msg.GetSender(),
	})

	if err := msg.Validate(); err != nil {
		logger.WithError(err).Warn("dropping invalid message")
		droppedMessagesCounter.WithLabelValues(msg.GetType().String()).Inc()
		return
	}

	p, ok := d.registry.getProtocol(msg.GetTradeId())
	if !ok {
		req, isRequest := msg.(*domain.DepositInputsRequest)
		if !isRequest {
			logger.Debug("dropping message for unknown trade")
			droppedMessagesCounter.WithLabelValues(msg.GetType().String()).Inc()
			return
		}

		var err error
		if p, err = d.registry.acceptOffer(req); err != nil {
			logger.WithError(err).Warn("dropping deposit inputs request")
			droppedMessagesCounter.WithLabelValues(msg.GetType().String()).Inc()
			return
		}
	}

	if err := p.HandleMessage(msg); err != nil {
		logger.WithError(err).Debug("dropping message")
		droppedMessagesCounter.WithLabelValues(msg.GetType().String()).Inc()
	}
}
