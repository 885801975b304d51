package webhookpubsub_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-p2p/internal/core/domain"
	"github.com/tdex-network/tdex-p2p/internal/core/ports"
	webhookpubsub "github.com/tdex-network/tdex-p2p/internal/infrastructure/pubsub/webhook"
	"github.com/thanhpk/randstr"
)

var ctx = context.Background()

type received struct {
	path    string
	subject string
	Topic   string           `json:"topic"`
	Event   ports.TradeEvent `json:"event"`
}

type testServer struct {
	*httptest.Server
	secret string

	lock     sync.Mutex
	requests []received
}

func newTestServer(t *testing.T, secret string) *testServer {
	s := &testServer{secret: secret}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

func (s *testServer) handle(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(r.URL.Path, "/broken") {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	req := received{path: r.URL.Path}
	if len(s.secret) > 0 {
		bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		claims := &jwt.StandardClaims{}
		token, err := jwt.ParseWithClaims(bearer, claims, func(*jwt.Token) (interface{}, error) {
			return []byte(s.secret), nil
		})
		if err != nil || !token.Valid {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		req.subject = claims.Subject
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.lock.Lock()
	s.requests = append(s.requests, req)
	s.lock.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *testServer) received() []received {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]received{}, s.requests...)
}

func newTradeEvent(state domain.TradeState) ports.TradeEvent {
	return ports.TradeEvent{
		TradeId:   randstr.Hex(16),
		Role:      domain.RoleMakerAsSeller.String(),
		State:     state.String(),
		Timestamp: time.Now().Unix(),
	}
}

func TestParseWebhook(t *testing.T) {
	tests := []struct {
		str           string
		expectedTopic string
		expectedErr   error
	}{
		{"http://localhost:8080/all", ports.AnyTopic, nil},
		{"TRADE_COMPLETED=http://localhost:8080/done", ports.TradeCompletedTopic, nil},
		{"http://localhost:8080/hook?key=value", ports.AnyTopic, nil},
		{"not a url", "", webhookpubsub.ErrInvalidEndpoint},
		{"TRADE_COMPLETED=", "", webhookpubsub.ErrInvalidEndpoint},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.str, func(t *testing.T) {
			hook, err := webhookpubsub.ParseWebhook(tt.str, "")
			if tt.expectedErr != nil {
				require.ErrorIs(t, err, tt.expectedErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.expectedTopic, hook.Topic)
			require.NotEmpty(t, hook.ID)
			require.False(t, hook.IsSecured())
		})
	}

	_, err := webhookpubsub.NewWebhook("TRADE_SETTLED", "http://localhost", "")
	require.ErrorIs(t, err, webhookpubsub.ErrInvalidTopic)
}

func TestPublishTradeEvent(t *testing.T) {
	secret := randstr.Hex(32)
	server := newTestServer(t, secret)

	publisher, err := webhookpubsub.NewWebhookPublisherFromConfig([]string{
		server.URL + "/all",
		fmt.Sprintf("%s=%s/completed", ports.TradeCompletedTopic, server.URL),
		fmt.Sprintf("%s=%s/failed", ports.TradeFailedTopic, server.URL),
	}, secret, time.Second)
	require.NoError(t, err)
	t.Cleanup(publisher.Close)

	completed := newTradeEvent(domain.StatePayoutConfirmed)
	err = publisher.PublishTradeEvent(ctx, completed)
	require.NoError(t, err)

	reqs := server.received()
	require.Len(t, reqs, 2)
	paths := []string{reqs[0].path, reqs[1].path}
	require.ElementsMatch(t, []string{"/all", "/completed"}, paths)
	for _, req := range reqs {
		require.Equal(t, ports.TradeCompletedTopic, req.Topic)
		require.Equal(t, completed, req.Event)
		require.Equal(t, completed.TradeId, req.subject)
	}

	err = publisher.PublishTradeEvent(ctx, newTradeEvent(domain.StateDepositPublished))
	require.NoError(t, err)
	reqs = server.received()
	require.Len(t, reqs, 3)
	require.Equal(t, "/all", reqs[2].path)
	require.Equal(t, ports.TradeStateTopic, reqs[2].Topic)
}

func TestPublishTradeEventErrors(t *testing.T) {
	server := newTestServer(t, randstr.Hex(32))

	t.Run("wrong secret", func(t *testing.T) {
		hook, err := webhookpubsub.NewWebhook(ports.AnyTopic, server.URL, "wrong")
		require.NoError(t, err)
		publisher, err := webhookpubsub.NewWebhookPublisher(
			[]*webhookpubsub.Webhook{hook}, time.Second,
		)
		require.NoError(t, err)
		defer publisher.Close()

		err = publisher.PublishTradeEvent(ctx, newTradeEvent(domain.StateFailed))
		require.Error(t, err)
	})

	t.Run("failing endpoint", func(t *testing.T) {
		hook, err := webhookpubsub.NewWebhook(ports.AnyTopic, server.URL+"/broken", "")
		require.NoError(t, err)
		publisher, err := webhookpubsub.NewWebhookPublisher(
			[]*webhookpubsub.Webhook{hook}, time.Second,
		)
		require.NoError(t, err)
		defer publisher.Close()

		err = publisher.PublishTradeEvent(ctx, newTradeEvent(domain.StateFailed))
		require.Error(t, err)
	})

	t.Run("closed publisher", func(t *testing.T) {
		publisher, err := webhookpubsub.NewWebhookPublisher(nil, 0)
		require.NoError(t, err)
		publisher.Close()
		publisher.Close()

		err = publisher.PublishTradeEvent(ctx, newTradeEvent(domain.StateFailed))
		require.ErrorIs(t, err, webhookpubsub.ErrPublisherClosed)
	})

	t.Run("invalid config", func(t *testing.T) {
		_, err := webhookpubsub.NewWebhookPublisher(nil, -1)
		require.Error(t, err)
		_, err = webhookpubsub.NewWebhookPublisherFromConfig([]string{"invalid"}, "", 0)
		require.ErrorIs(t, err, webhookpubsub.ErrInvalidEndpoint)
	})
}
