package natsmessenger_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-p2p/internal/core/domain"
	"github.com/tdex-network/tdex-p2p/internal/core/ports"
	natsmessenger "github.com/tdex-network/tdex-p2p/internal/infrastructure/messenger/nats"
	"github.com/tdex-network/tdex-p2p/internal/infrastructure/storage/db/inmemory"
	"github.com/thanhpk/randstr"
)

var ctx = context.Background()

func natsURL(t *testing.T) string {
	url := os.Getenv("TDEXP2P_TEST_NATS_URL")
	if len(url) <= 0 {
		t.Skip("TDEXP2P_TEST_NATS_URL not set")
	}
	return url
}

func newMessenger(
	t *testing.T, url string, mailbox ports.MailboxRepository,
) *natsmessenger.Messenger {
	m, err := natsmessenger.NewMessenger(natsmessenger.Config{
		URL:            url,
		Address:        randstr.Hex(16) + ".onion:9999",
		RequestTimeout: time.Second,
		RetryInterval:  time.Hour,
	}, mailbox)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func newAck(sender string) domain.TradeMessage {
	return &domain.Ack{
		MessageHeader: domain.NewMessageHeader(randstr.Hex(16), sender),
		SourceUid:     randstr.Hex(16),
		SourceType:    domain.MessageDepositInputsRequest,
		Success:       true,
	}
}

func listen(t *testing.T, m ports.Messenger) chan domain.TradeMessage {
	chMsgs := make(chan domain.TradeMessage, 10)
	require.NoError(t, m.Listen(func(msg domain.TradeMessage) {
		chMsgs <- msg
	}))
	return chMsgs
}

func TestInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  natsmessenger.Config
	}{
		{"missing url", natsmessenger.Config{Address: "peer.onion:9999"}},
		{"missing address", natsmessenger.Config{URL: "nats://localhost:4222"}},
		{
			"negative timeout",
			natsmessenger.Config{
				URL: "nats://localhost:4222", Address: "peer.onion:9999", RequestTimeout: -1,
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := natsmessenger.NewMessenger(tt.cfg, nil)
			require.Error(t, err)
		})
	}
}

func TestSend(t *testing.T) {
	url := natsURL(t)
	alice := newMessenger(t, url, nil)
	bob := newMessenger(t, url, nil)
	chMsgs := listen(t, bob)

	msg := newAck(alice.Address())
	status, err := alice.Send(ctx, bob.Address(), msg).Await(ctx)
	require.NoError(t, err)
	require.Equal(t, ports.DeliveryArrived, status)

	select {
	case received := <-chMsgs:
		require.Equal(t, msg.GetUid(), received.GetUid())
		require.Equal(t, alice.Address(), received.GetSender())
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}

	// Without mailbox an unresponsive peer is unreachable.
	_, err = alice.Send(ctx, randstr.Hex(16), newAck(alice.Address())).Await(ctx)
	require.ErrorIs(t, err, ports.ErrPeerUnreachable)
}

func TestMailboxRedelivery(t *testing.T) {
	url := natsURL(t)
	mailbox := inmemory.NewMailboxRepositoryImpl()
	alice := newMessenger(t, url, mailbox)
	bob := newMessenger(t, url, nil)

	msg := newAck(alice.Address())
	status, err := alice.Send(ctx, bob.Address(), msg).Await(ctx)
	require.NoError(t, err)
	require.Equal(t, ports.DeliveryStoredInMailbox, status)

	entries, err := mailbox.ListEntries(ctx, bob.Address())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, msg.GetTradeId(), entries[0].TradeId)

	// Still offline, the entry is kept and its attempts counted.
	count, err := alice.Redeliver(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
	entries, err = mailbox.ListEntries(ctx, bob.Address())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, 1, entries[0].Attempts)

	chMsgs := listen(t, bob)
	count, err = alice.Redeliver(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	select {
	case received := <-chMsgs:
		require.Equal(t, msg.GetUid(), received.GetUid())
	case <-time.After(5 * time.Second):
		t.Fatal("message not redelivered")
	}

	entries, err = mailbox.ListEntries(ctx, "")
	require.NoError(t, err)
	require.Empty(t, entries)
}
