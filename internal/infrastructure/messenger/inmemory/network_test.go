package inmemorymessenger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-p2p/internal/core/domain"
	"github.com/tdex-network/tdex-p2p/internal/core/ports"
	inmemorymessenger "github.com/tdex-network/tdex-p2p/internal/infrastructure/messenger/inmemory"
	"github.com/thanhpk/randstr"
)

var ctx = context.Background()

func newMessage(sender string) domain.TradeMessage {
	return &domain.DepositTxPublished{
		MessageHeader: domain.NewMessageHeader(randstr.Hex(16), sender),
		DepositTx:     []byte{0x01, 0x02},
	}
}

func listen(t *testing.T, m ports.Messenger) chan domain.TradeMessage {
	chMsgs := make(chan domain.TradeMessage, 10)
	require.NoError(t, m.Listen(func(msg domain.TradeMessage) {
		chMsgs <- msg
	}))
	return chMsgs
}

func receive(t *testing.T, chMsgs chan domain.TradeMessage) domain.TradeMessage {
	select {
	case msg := <-chMsgs:
		return msg
	case <-time.After(time.Second):
		t.Fatal("message not received")
	}
	return nil
}

func TestSend(t *testing.T) {
	network := inmemorymessenger.NewNetwork()
	alice, err := network.Join("alice")
	require.NoError(t, err)
	bob, err := network.Join("bob")
	require.NoError(t, err)
	defer alice.Close()
	defer bob.Close()

	_, err = network.Join("alice")
	require.Error(t, err)

	chMsgs := listen(t, bob)

	msg := newMessage(alice.Address())
	status, err := alice.Send(ctx, "bob", msg).Await(ctx)
	require.NoError(t, err)
	require.Equal(t, ports.DeliveryArrived, status)
	require.Equal(t, msg, receive(t, chMsgs))

	_, err = alice.Send(ctx, "carol", msg).Await(ctx)
	require.ErrorIs(t, err, ports.ErrPeerUnreachable)
}

func TestMailbox(t *testing.T) {
	network := inmemorymessenger.NewNetwork()
	alice, err := network.Join("alice")
	require.NoError(t, err)
	bob, err := network.Join("bob")
	require.NoError(t, err)
	defer alice.Close()

	chMsgs := listen(t, bob)

	network.SetOnline("bob", false)
	msg := newMessage(alice.Address())
	status, err := alice.Send(ctx, "bob", msg).Await(ctx)
	require.NoError(t, err)
	require.Equal(t, ports.DeliveryStoredInMailbox, status)
	require.Equal(t, 1, network.MailboxSize("bob"))

	network.SetOnline("bob", true)
	require.Equal(t, msg, receive(t, chMsgs))
	require.Zero(t, network.MailboxSize("bob"))

	// Messages sent to a closed node are kept until it joins again.
	bob.Close()
	status, err = alice.Send(ctx, "bob", msg).Await(ctx)
	require.NoError(t, err)
	require.Equal(t, ports.DeliveryStoredInMailbox, status)

	bob, err = network.Join("bob")
	require.NoError(t, err)
	defer bob.Close()
	chMsgs = listen(t, bob)
	require.Equal(t, msg, receive(t, chMsgs))
}
