package rpc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker_HealthyBeforeAnyCalls(t *testing.T) {
	cb := NewCircuitBreaker()
	assert.True(t, cb.IsHealthy("https://node.example"))
}

func TestCircuitBreaker_OpensAfterFailureThreshold(t *testing.T) {
	cb := NewCircuitBreaker()
	endpoint := "https://node.example"

	for i := 0; i < 3; i++ {
		cb.RecordFailure(endpoint, errors.New("boom"))
	}

	assert.False(t, cb.IsHealthy(endpoint))
}

func TestCircuitBreaker_ClosesAfterSuccessThreshold(t *testing.T) {
	cb := NewCircuitBreaker()
	endpoint := "https://node.example"

	for i := 0; i < 3; i++ {
		cb.RecordFailure(endpoint, errors.New("boom"))
	}
	require := assert.New(t)
	require.False(cb.IsHealthy(endpoint))

	for i := 0; i < 5; i++ {
		cb.RecordSuccess(endpoint, 10)
	}

	assert.True(t, cb.IsHealthy(endpoint))
}

func TestCircuitBreaker_ResetClearsHistory(t *testing.T) {
	cb := NewCircuitBreaker()
	endpoint := "https://node.example"

	for i := 0; i < 3; i++ {
		cb.RecordFailure(endpoint, errors.New("boom"))
	}
	cb.Reset(endpoint)

	assert.True(t, cb.IsHealthy(endpoint))
}

func TestCircuitBreaker_GetBestEndpointPrefersHealthy(t *testing.T) {
	cb := NewCircuitBreaker()
	good := "https://good.example"
	bad := "https://bad.example"

	for i := 0; i < 3; i++ {
		cb.RecordFailure(bad, errors.New("boom"))
	}
	cb.RecordSuccess(good, 5)

	assert.Equal(t, good, cb.GetBestEndpoint([]string{bad, good}))
}
