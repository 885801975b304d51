package webhookpubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/tdex-network/tdex-p2p/internal/core/ports"
	"github.com/tdex-network/tdex-p2p/pkg/circuitbreaker"
	"golang.org/x/sync/errgroup"
)

const defaultRequestTimeout = 15 * time.Second

type publisher struct {
	hooks      []*Webhook
	httpClient *client
	breakers   map[string]*gobreaker.CircuitBreaker

	lock   sync.RWMutex
	closed bool
}

// NewWebhookPublisher returns a ports.EventPublisher that POSTs trade events
// as JSON to the given webhooks. Each endpoint is guarded by its own circuit
// breaker.
func NewWebhookPublisher(
	hooks []*Webhook, requestTimeout time.Duration,
) (ports.EventPublisher, error) {
	if requestTimeout < 0 {
		return nil, fmt.Errorf("request timeout must not be negative")
	}
	if requestTimeout == 0 {
		requestTimeout = defaultRequestTimeout
	}

	breakers := make(map[string]*gobreaker.CircuitBreaker)
	for _, hook := range hooks {
		if hook == nil {
			return nil, fmt.Errorf("webhook must not be nil")
		}
		if _, ok := breakers[hook.Endpoint]; !ok {
			breakers[hook.Endpoint] = circuitbreaker.NewCircuitBreaker(
				fmt.Sprintf("webhook %s", hook.Endpoint),
			)
		}
	}

	return &publisher{
		hooks:      hooks,
		httpClient: newHTTPClient(requestTimeout),
		breakers:   breakers,
	}, nil
}

// NewWebhookPublisherFromConfig parses every endpoint with ParseWebhook and
// signs requests with the given secret, if any.
func NewWebhookPublisherFromConfig(
	endpoints []string, secret string, requestTimeout time.Duration,
) (ports.EventPublisher, error) {
	hooks := make([]*Webhook, 0, len(endpoints))
	for _, endpoint := range endpoints {
		hook, err := ParseWebhook(endpoint, secret)
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, hook)
	}
	return NewWebhookPublisher(hooks, requestTimeout)
}

// PublishTradeEvent makes a POST request to every webhook registered for the
// topic of the event and returns the first error encountered, if any.
func (p *publisher) PublishTradeEvent(
	ctx context.Context, event ports.TradeEvent,
) error {
	p.lock.RLock()
	defer p.lock.RUnlock()

	if p.closed {
		return ErrPublisherClosed
	}

	topic := event.Topic()
	payload, err := json.Marshal(struct {
		Topic string           `json:"topic"`
		Event ports.TradeEvent `json:"event"`
	}{topic, event})
	if err != nil {
		return err
	}

	eg, ctx := errgroup.WithContext(ctx)
	for i := range p.hooks {
		hook := p.hooks[i]
		if !hook.Matches(topic) {
			continue
		}
		eg.Go(func() error {
			if err := p.doRequest(ctx, hook, event.TradeId, payload); err != nil {
				log.WithField("trade_id", event.TradeId).WithError(err).Warnf(
					"failed to invoke webhook %s for topic %s", hook.Endpoint, topic,
				)
				return err
			}
			return nil
		})
	}
	return eg.Wait()
}

func (p *publisher) Close() {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	p.httpClient.CloseIdleConnections()
}

func (p *publisher) doRequest(
	ctx context.Context, hook *Webhook, tradeId string, payload []byte,
) error {
	_, err := p.breakers[hook.Endpoint].Execute(func() (interface{}, error) {
		headers := map[string]string{
			"Content-Type": "application/json",
		}
		if hook.IsSecured() {
			token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.StandardClaims{
				Subject:  tradeId,
				IssuedAt: time.Now().Unix(),
			})
			tokenString, err := token.SignedString([]byte(hook.Secret))
			if err != nil {
				return nil, err
			}
			headers["Authorization"] = fmt.Sprintf("Bearer %s", tokenString)
		}

		status, resp, err := p.httpClient.post(ctx, hook.Endpoint, payload, headers)
		if err != nil {
			return nil, err
		}
		if status != http.StatusOK {
			return nil, fmt.Errorf("webhook responded with status %d: %s", status, resp)
		}
		return nil, nil
	})
	return err
}
