// Package natsmessenger implements the trade messenger on top of NATS. Every
// node listens on its own subject, messages are sent as requests and the
// reply acknowledges the delivery. Messages for unresponsive peers are stored
// in the mailbox and redelivered in background.
package natsmessenger

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/tdex-network/tdex-p2p/internal/core/domain"
	"github.com/tdex-network/tdex-p2p/internal/core/ports"
	"github.com/tdex-network/tdex-p2p/internal/infrastructure/messenger"
	"github.com/tdex-network/tdex-p2p/pkg/circuitbreaker"
	"github.com/tdex-network/tdex-p2p/pkg/promise"
	"go.uber.org/ratelimit"
)

const (
	subjectPrefix = "tdexp2p.peer."

	replyAck  = "ACK"
	replyNack = "NACK"

	defaultRequestTimeout = 5 * time.Second
	defaultRetryInterval  = 30 * time.Second
	defaultRetryRate      = 10
)

// ErrMessageRejected is returned when the peer received a message it could
// not decode.
var ErrMessageRejected = errors.New("message rejected by peer")

// Config ...
type Config struct {
	URL            string
	Address        string
	RequestTimeout time.Duration
	// RetryInterval is how often the mailbox is redelivered.
	RetryInterval time.Duration
	// RetryRate is the max number of mailbox entries redelivered per second.
	RetryRate int
}

func (c Config) validate() error {
	if len(c.URL) <= 0 {
		return fmt.Errorf("missing nats url")
	}
	if len(c.Address) <= 0 {
		return fmt.Errorf("missing node address")
	}
	if c.RequestTimeout < 0 || c.RetryInterval < 0 || c.RetryRate < 0 {
		return fmt.Errorf("timeouts and rates must not be negative")
	}
	return nil
}

// Messenger is the NATS implementation of ports.Messenger.
type Messenger struct {
	conn    *nats.Conn
	cfg     Config
	mailbox ports.MailboxRepository
	limiter ratelimit.Limiter

	lock     sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	sub      *nats.Subscription

	quit      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewMessenger(cfg Config, mailbox ports.MailboxRepository) (*Messenger, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	if cfg.RetryRate == 0 {
		cfg.RetryRate = defaultRetryRate
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Address),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("nats: disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("nats: reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Debug("nats: connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	m := &Messenger{
		conn:     conn,
		cfg:      cfg,
		mailbox:  mailbox,
		limiter:  ratelimit.New(cfg.RetryRate),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		quit:     make(chan struct{}),
	}
	if mailbox != nil {
		m.wg.Add(1)
		go m.redeliveryLoop()
	}
	return m, nil
}

func (m *Messenger) Address() string {
	return m.cfg.Address
}

// Send delivers msg to peer. If the peer doesn't reply the message is stored
// in the mailbox.
func (m *Messenger) Send(
	ctx context.Context, peer string, msg domain.TradeMessage,
) *promise.Promise[ports.DeliveryStatus] {
	payload, err := messenger.Encode(msg)
	if err != nil {
		return promise.Rejected[ports.DeliveryStatus](err)
	}

	p := promise.New[ports.DeliveryStatus]()
	go func() {
		err := m.request(ctx, peer, payload)
		if err == nil {
			p.Resolve(ports.DeliveryArrived)
			return
		}
		if errors.Is(err, ErrMessageRejected) {
			p.Reject(err)
			return
		}

		logger := log.WithFields(log.Fields{
			"peer":     peer,
			"msg_type": msg.GetType(),
		})
		if m.mailbox == nil {
			logger.WithError(err).Debug("nats: delivery failed")
			p.Reject(fmt.Errorf("%w: %s", ports.ErrPeerUnreachable, err))
			return
		}

		entry := ports.NewMailboxEntry(
			uuid.New().String(), peer, msg.GetTradeId(), payload,
		)
		if err := m.mailbox.AddEntry(ctx, entry); err != nil {
			logger.WithError(err).Warn("nats: failed to store message in mailbox")
			p.Reject(fmt.Errorf("%w: %s", ports.ErrPeerUnreachable, err))
			return
		}
		logger.WithError(err).Debug("nats: peer unresponsive, message stored in mailbox")
		p.Resolve(ports.DeliveryStoredInMailbox)
	}()
	return p
}

// Listen subscribes to the subject of the local node.
func (m *Messenger) Listen(handler ports.MessageHandler) error {
	if handler == nil {
		return fmt.Errorf("missing message handler")
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	if m.sub != nil {
		return fmt.Errorf("already listening")
	}
	sub, err := m.conn.Subscribe(subject(m.cfg.Address), func(natsMsg *nats.Msg) {
		msg, err := messenger.Decode(natsMsg.Data)
		if err != nil {
			log.WithError(err).Warn("nats: dropping undecodable message")
			// nolint
			natsMsg.Respond([]byte(replyNack))
			return
		}
		handler(msg)
		if err := natsMsg.Respond([]byte(replyAck)); err != nil {
			log.WithError(err).Debug("nats: failed to ack message")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	m.sub = sub
	return nil
}

// Redeliver tries to deliver all messages in the mailbox and returns how many
// of them arrived.
func (m *Messenger) Redeliver(ctx context.Context) (int, error) {
	if m.mailbox == nil {
		return 0, nil
	}
	entries, err := m.mailbox.ListEntries(ctx, "")
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return delivered, ctx.Err()
		default:
		}

		m.limiter.Take()
		logger := log.WithFields(log.Fields{
			"peer":     entry.Peer,
			"trade_id": entry.TradeId,
		})

		if err := m.request(ctx, entry.Peer, entry.Payload); err != nil {
			if errors.Is(err, ErrMessageRejected) {
				logger.WithError(err).Warn("nats: mailbox message rejected, dropping")
				if err := m.mailbox.DeleteEntry(ctx, entry.Id); err != nil {
					logger.WithError(err).Warn("nats: failed to delete mailbox entry")
				}
				continue
			}
			entry.Attempts++
			if err := m.mailbox.UpdateEntry(ctx, entry); err != nil {
				logger.WithError(err).Warn("nats: failed to update mailbox entry")
			}
			continue
		}

		if err := m.mailbox.DeleteEntry(ctx, entry.Id); err != nil {
			logger.WithError(err).Warn("nats: failed to delete mailbox entry")
		}
		delivered++
	}
	return delivered, nil
}

func (m *Messenger) Close() {
	m.closeOnce.Do(func() {
		close(m.quit)
		m.wg.Wait()

		m.lock.Lock()
		if m.sub != nil {
			// nolint
			m.sub.Unsubscribe()
		}
		m.lock.Unlock()

		// nolint
		m.conn.Drain()
		m.conn.Close()
	})
}

func (m *Messenger) request(ctx context.Context, peer string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()

	reply, err := m.breaker(peer).Execute(func() (interface{}, error) {
		return m.conn.RequestWithContext(ctx, subject(peer), payload)
	})
	if err != nil {
		return err
	}
	if data := reply.(*nats.Msg).Data; string(data) != replyAck {
		return fmt.Errorf("%w: %s", ErrMessageRejected, data)
	}
	return nil
}

func (m *Messenger) breaker(peer string) *gobreaker.CircuitBreaker {
	m.lock.Lock()
	defer m.lock.Unlock()

	cb, ok := m.breakers[peer]
	if !ok {
		cb = circuitbreaker.NewCircuitBreaker(fmt.Sprintf("peer %s", peer))
		m.breakers[peer] = cb
	}
	return cb
}

func (m *Messenger) redeliveryLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.quit:
			return
		case <-ticker.C:
			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				select {
				case <-m.quit:
					cancel()
				case <-ctx.Done():
				}
			}()
			count, err := m.Redeliver(ctx)
			cancel()
			if err != nil {
				log.WithError(err).Warn("nats: mailbox redelivery failed")
				continue
			}
			if count > 0 {
				log.Debugf("nats: redelivered %d mailbox messages", count)
			}
		}
	}
}

// subject returns the subject a node listens on. Addresses are hex encoded
// since they can contain subject separators.
func subject(address string) string {
	return subjectPrefix + hex.EncodeToString([]byte(address))
}
