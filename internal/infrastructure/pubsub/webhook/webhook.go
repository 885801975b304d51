package webhookpubsub

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/tdex-network/tdex-p2p/internal/core/ports"
)

var knownTopics = map[string]struct{}{
	ports.AnyTopic:                {},
	ports.TradeStateTopic:         {},
	ports.TradeCompletedTopic:     {},
	ports.TradeFailedTopic:        {},
	ports.TradeOfferReopenedTopic: {},
}

type Webhook struct {
	ID       string `json:"id"`
	Topic    string `json:"topic"`
	Endpoint string `json:"endpoint"`
	Secret   string `json:"secret"`
}

func NewWebhook(topic, endpoint, secret string) (*Webhook, error) {
	if _, ok := knownTopics[topic]; !ok {
		return nil, ErrInvalidTopic
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, ErrInvalidEndpoint
	}
	id := uuid.New().String()
	return &Webhook{id, topic, endpoint, secret}, nil
}

// ParseWebhook parses a webhook in the form [TOPIC=]ENDPOINT. Without topic
// prefix the webhook is invoked for every event.
func ParseWebhook(str, secret string) (*Webhook, error) {
	topic, endpoint := ports.AnyTopic, strings.TrimSpace(str)
	if prefix, rest, ok := strings.Cut(endpoint, "="); ok {
		if _, known := knownTopics[prefix]; known {
			topic, endpoint = prefix, rest
		}
	}
	hook, err := NewWebhook(topic, endpoint, secret)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", str, err)
	}
	return hook, nil
}

// Matches returns whether the webhook has to be invoked for the given topic.
func (h *Webhook) Matches(topic string) bool {
	return h.Topic == ports.AnyTopic || h.Topic == topic
}

func (h *Webhook) IsSecured() bool {
	return len(h.Secret) > 0
}
