package ports

import (
	"context"
	"errors"

	"github.com/tdex-network/tdex-p2p/internal/core/domain"
	"github.com/tdex-network/tdex-p2p/pkg/promise"
)

// ErrPeerUnreachable is returned when a message can neither be delivered
// directly nor stored in the peer's mailbox.
var ErrPeerUnreachable = errors.New("peer is unreachable")

// DeliveryStatus is the outcome of a successful send.
type DeliveryStatus int

const (
	// DeliveryArrived means the peer received the message.
	DeliveryArrived DeliveryStatus = iota
	// DeliveryStoredInMailbox means the peer was offline and the message has
	// been stored for later delivery.
	DeliveryStoredInMailbox
)

func (s DeliveryStatus) String() string {
	if s == DeliveryArrived {
		return "ARRIVED"
	}
	return "STORED_IN_MAILBOX"
}

// MessageHandler is called for every message received from a peer.
type MessageHandler func(msg domain.TradeMessage)

// Messenger is the p2p transport between the parties of a trade.
type Messenger interface {
	// Address returns the network address of the local node.
	Address() string
	// Send delivers msg to peer. The promise is rejected with
	// ErrPeerUnreachable if the message could not be delivered nor stored.
	Send(ctx context.Context, peer string, msg domain.TradeMessage) *promise.Promise[DeliveryStatus]
	// Listen registers the handler for incoming messages.
	Listen(handler MessageHandler) error
	// Close ...
	Close()
}
