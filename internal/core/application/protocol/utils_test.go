package protocol_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-p2p/internal/core/application/protocol"
	"github.com/tdex-network/tdex-p2p/internal/core/domain"
	"github.com/tdex-network/tdex-p2p/internal/core/ports"
	inmemorymessenger "github.com/tdex-network/tdex-p2p/internal/infrastructure/messenger/inmemory"
	simwallet "github.com/tdex-network/tdex-p2p/internal/infrastructure/sim-wallet"
	"github.com/tdex-network/tdex-p2p/internal/infrastructure/storage/db/inmemory"
	"github.com/tdex-network/tdex-p2p/pkg/promise"
	"github.com/thanhpk/randstr"
)

const (
	unit     = 100000000
	minerFee = 300000

	tradeAmount     = unit
	securityDeposit = unit / 2

	waitTimeout = 10 * time.Second
	waitTick    = 20 * time.Millisecond
)

var ctx = context.Background()

func defaultConfig() protocol.Config {
	return protocol.Config{
		MinerFee:         minerFee,
		BroadcastTimeout: 2 * time.Second,
		PersistInterval:  50 * time.Millisecond,
		PaymentAccountId: randstr.Hex(8),
	}
}

type testEnv struct {
	chain   *simwallet.Chain
	network *inmemorymessenger.Network
}

func newTestEnv() *testEnv {
	return &testEnv{
		chain:   simwallet.NewChain(nil),
		network: inmemorymessenger.NewNetwork(),
	}
}

type nodeOption func(n *testNode)

func withConfig(cfg protocol.Config) nodeOption {
	return func(n *testNode) {
		n.cfg = cfg
	}
}

// withDuplicatedMessages makes the node send every message twice.
func withDuplicatedMessages() nodeOption {
	return func(n *testNode) {
		n.duplicate = true
	}
}

type testNode struct {
	env       *testEnv
	address   string
	cfg       protocol.Config
	duplicate bool

	wallet    simwallet.Wallet
	messenger ports.Messenger
	repo      ports.RepoManager
	events    *eventRecorder
	svc       *protocol.Service
	running   bool
}

func (e *testEnv) newNode(
	t *testing.T, funds []uint64, opts ...nodeOption,
) *testNode {
	n := &testNode{
		env:     e,
		address: fmt.Sprintf("%s.onion:9999", randstr.Hex(16)),
		cfg:     defaultConfig(),
		wallet:  simwallet.NewWallet(e.chain),
		repo:    inmemory.NewRepoManager(),
		events:  &eventRecorder{},
	}
	for _, opt := range opts {
		opt(n)
	}
	for _, amount := range funds {
		_, err := n.wallet.Fund(ctx, amount)
		require.NoError(t, err)
	}

	n.join(t)
	n.start(t)
	t.Cleanup(func() {
		n.stop(t)
		n.messenger.Close()
	})
	return n
}

func (n *testNode) join(t *testing.T) {
	m, err := n.env.network.Join(n.address)
	require.NoError(t, err)
	if n.duplicate {
		m = duplicatingMessenger{m}
	}
	n.messenger = m
}

func (n *testNode) start(t *testing.T) {
	svc, err := protocol.NewService(n.wallet, n.messenger, n.repo, n.events, n.cfg)
	require.NoError(t, err)
	require.NoError(t, svc.Start(ctx))
	n.svc = svc
	n.running = true
}

func (n *testNode) stop(t *testing.T) {
	if !n.running {
		return
	}
	require.NoError(t, n.svc.Stop(ctx))
	n.running = false
}

// restart simulates a crash-free restart of the node: the service is stopped,
// the node leaves the network and joins it again with a brand new service
// sharing the same wallet and repositories.
func (n *testNode) restart(t *testing.T) {
	n.stop(t)
	n.messenger.Close()
	n.join(t)
	n.start(t)
}

func (n *testNode) getTrade(t *testing.T, tradeId string) *domain.Trade {
	trade, err := n.svc.GetTrade(ctx, tradeId)
	require.NoError(t, err)
	return trade
}

func (n *testNode) waitForState(t *testing.T, tradeId string, state domain.TradeState) {
	require.Eventuallyf(t, func() bool {
		trade, err := n.svc.GetTrade(ctx, tradeId)
		return err == nil && trade.State == state
	}, waitTimeout, waitTick, "trade %s never reached %s", tradeId, state)
}

func (n *testNode) placeOffer(t *testing.T, direction domain.OfferDirection) domain.Offer {
	offer := domain.Offer{
		Id:                    randstr.Hex(16),
		Direction:             direction,
		Amount:                tradeAmount,
		Price:                 decimalPrice(),
		BuyerSecurityDeposit:  securityDeposit,
		SellerSecurityDeposit: securityDeposit,
		PaymentMethodId:       "SEPA",
		MakerAddress:          n.address,
	}
	require.NoError(t, n.svc.PlaceOffer(ctx, offer))
	return offer
}

func (n *testNode) takeOffer(t *testing.T, offer domain.Offer) *domain.Trade {
	trade, err := n.svc.TakeOffer(ctx, offer)
	require.NoError(t, err)
	require.Equal(t, domain.StatePreparation, trade.State)
	return trade
}

func decimalPrice() decimal.Decimal {
	return decimal.NewFromInt(30000)
}

// waitForTxInChain waits until the chain knows the given tx.
func (e *testEnv) waitForTxInChain(t *testing.T, txid string) {
	require.Eventually(t, func() bool {
		known, _, err := e.chain.TxStatus(txid)
		return err == nil && known
	}, waitTimeout, waitTick)
}

type duplicatingMessenger struct {
	ports.Messenger
}

func (m duplicatingMessenger) Send(
	ctx context.Context, peer string, msg domain.TradeMessage,
) *promise.Promise[ports.DeliveryStatus] {
	m.Messenger.Send(ctx, peer, msg)
	return m.Messenger.Send(ctx, peer, msg)
}

type eventRecorder struct {
	lock   sync.Mutex
	events []ports.TradeEvent
}

func (r *eventRecorder) PublishTradeEvent(_ context.Context, event ports.TradeEvent) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) Close() {}

func (r *eventRecorder) hasTopic(tradeId, topic string) bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	for _, e := range r.events {
		if e.TradeId == tradeId && e.Topic() == topic {
			return true
		}
	}
	return false
}
