package circuitbreaker_test

import (
	"errors"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-p2p/pkg/circuitbreaker"
)

func TestCircuitBreakerOpens(t *testing.T) {
	cb := circuitbreaker.NewCircuitBreaker("peer")
	failing := func() (interface{}, error) { return nil, errors.New("unreachable") }

	for i := 0; i <= circuitbreaker.MaxNumOfFailingRequests; i++ {
		_, err := cb.Execute(failing)
		require.Error(t, err)
	}

	require.Equal(t, gobreaker.StateOpen, cb.State())
	_, err := cb.Execute(failing)
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
}
