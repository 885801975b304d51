// Package inmemorymessenger is a loopback transport connecting the nodes of
// a single process. Messages go through the same encoding used on the wire.
package inmemorymessenger

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-p2p/internal/core/domain"
	"github.com/tdex-network/tdex-p2p/internal/core/ports"
	"github.com/tdex-network/tdex-p2p/internal/infrastructure/messenger"
	"github.com/tdex-network/tdex-p2p/pkg/promise"
)

const inboxSize = 64

// Network routes messages between the nodes joined to it. A node that's
// offline or closed gets its messages stored in the mailbox and delivered
// once back. An address never joined is unreachable.
type Network struct {
	lock    sync.Mutex
	nodes   map[string]*node
	mailbox map[string][][]byte
}

func NewNetwork() *Network {
	return &Network{
		nodes:   make(map[string]*node),
		mailbox: make(map[string][][]byte),
	}
}

// Join returns the messenger of a new node with the given address. The
// address of a closed node can be joined again, messages stored meanwhile
// are delivered to the new node.
func (n *Network) Join(address string) (ports.Messenger, error) {
	n.lock.Lock()
	if nd, ok := n.nodes[address]; ok && !nd.closed {
		n.lock.Unlock()
		return nil, fmt.Errorf("address %s already in use", address)
	}
	nd := &node{
		network: n,
		address: address,
		online:  true,
		inbox:   make(chan []byte, inboxSize),
		quit:    make(chan struct{}),
	}
	n.nodes[address] = nd
	pending := n.mailbox[address]
	delete(n.mailbox, address)
	n.lock.Unlock()

	for _, payload := range pending {
		nd.deliver(payload)
	}
	return nd, nil
}

// SetOnline switches a node on and off. Messages stored while offline are
// delivered when the node comes back online.
func (n *Network) SetOnline(address string, online bool) {
	n.lock.Lock()
	nd, ok := n.nodes[address]
	if !ok {
		n.lock.Unlock()
		return
	}
	nd.online = online
	var pending [][]byte
	if online {
		pending = n.mailbox[address]
		delete(n.mailbox, address)
	}
	n.lock.Unlock()

	for _, payload := range pending {
		nd.deliver(payload)
	}
}

// MailboxSize returns the number of messages waiting for address.
func (n *Network) MailboxSize(address string) int {
	n.lock.Lock()
	defer n.lock.Unlock()

	return len(n.mailbox[address])
}

func (n *Network) route(to string, payload []byte) (ports.DeliveryStatus, error) {
	n.lock.Lock()
	nd, ok := n.nodes[to]
	if !ok {
		n.lock.Unlock()
		return 0, ports.ErrPeerUnreachable
	}
	if !nd.online || nd.closed {
		n.mailbox[to] = append(n.mailbox[to], payload)
		n.lock.Unlock()
		return ports.DeliveryStoredInMailbox, nil
	}
	n.lock.Unlock()

	nd.deliver(payload)
	return ports.DeliveryArrived, nil
}

type node struct {
	network *Network
	address string
	online  bool
	closed  bool

	inbox     chan []byte
	quit      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func (nd *node) Address() string {
	return nd.address
}

func (nd *node) Send(
	_ context.Context, peer string, msg domain.TradeMessage,
) *promise.Promise[ports.DeliveryStatus] {
	payload, err := messenger.Encode(msg)
	if err != nil {
		return promise.Rejected[ports.DeliveryStatus](err)
	}
	status, err := nd.network.route(peer, payload)
	if err != nil {
		return promise.Rejected[ports.DeliveryStatus](err)
	}
	return promise.Resolved(status)
}

func (nd *node) Listen(handler ports.MessageHandler) error {
	if handler == nil {
		return fmt.Errorf("missing message handler")
	}

	nd.wg.Add(1)
	go func() {
		defer nd.wg.Done()

		for {
			select {
			case <-nd.quit:
				return
			case payload := <-nd.inbox:
				msg, err := messenger.Decode(payload)
				if err != nil {
					log.WithError(err).Warnf("%s: dropping undecodable message", nd.address)
					continue
				}
				handler(msg)
			}
		}
	}()
	return nil
}

func (nd *node) Close() {
	nd.closeOnce.Do(func() {
		nd.network.lock.Lock()
		nd.closed = true
		nd.network.lock.Unlock()

		close(nd.quit)
		nd.wg.Wait()
	})
}

func (nd *node) deliver(payload []byte) {
	select {
	case nd.inbox <- payload:
	case <-nd.quit:
	}
}
