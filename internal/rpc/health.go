package rpc

import (
	"sync"
	"time"
)

// CircuitBreaker implements HealthTracker with the same failure/success
// threshold circuit breaker as the teacher's SimpleHealthTracker
// (src/chainadapter/rpc/health.go).
type CircuitBreaker struct {
	mu     sync.RWMutex
	health map[string]*EndpointHealth

	failureThreshold  int
	successThreshold  int
	circuitOpenWindow time.Duration
}

// NewCircuitBreaker creates a health tracker with the relayer's default
// thresholds: the circuit opens once an endpoint's failed calls outnumber
// its successful calls by 3, and closes once successful calls outnumber
// failed calls by 2, both counted over the endpoint's whole history (not
// consecutive runs); an open circuit is retried 30s after the last failure.
func NewCircuitBreaker() *CircuitBreaker {
	return &CircuitBreaker{
		health:            make(map[string]*EndpointHealth),
		failureThreshold:  3,
		successThreshold:  2,
		circuitOpenWindow: 30 * time.Second,
	}
}

func (t *CircuitBreaker) RecordSuccess(endpoint string, durationMs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.getOrCreate(endpoint)
	h.TotalCalls++
	h.SuccessfulCalls++
	h.LastSuccess = time.Now().Unix()

	if h.AvgLatencyMs == 0 {
		h.AvgLatencyMs = durationMs
	} else {
		h.AvgLatencyMs = (h.AvgLatencyMs*9 + durationMs) / 10
	}

	if h.CircuitOpen {
		consecutiveSuccesses := h.SuccessfulCalls - h.FailedCalls
		if consecutiveSuccesses >= int64(t.successThreshold) {
			h.CircuitOpen = false
		}
	}
}

func (t *CircuitBreaker) RecordFailure(endpoint string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.getOrCreate(endpoint)
	h.TotalCalls++
	h.FailedCalls++
	h.LastFailure = time.Now().Unix()

	consecutiveFailures := h.FailedCalls - h.SuccessfulCalls
	if consecutiveFailures >= int64(t.failureThreshold) {
		h.CircuitOpen = true
	}
}

func (t *CircuitBreaker) IsHealthy(endpoint string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h, exists := t.health[endpoint]
	if !exists {
		return true
	}

	if h.CircuitOpen {
		if time.Now().Unix()-h.LastFailure < int64(t.circuitOpenWindow.Seconds()) {
			return false
		}
	}
	return true
}

func (t *CircuitBreaker) GetBestEndpoint(endpoints []string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var best string
	var bestScore = -1.0

	for _, endpoint := range endpoints {
		if !t.isHealthyLocked(endpoint) {
			continue
		}

		h, exists := t.health[endpoint]
		if !exists {
			return endpoint
		}

		successRate := float64(h.SuccessfulCalls) / float64(h.TotalCalls)
		latencyFactor := 1.0 / (float64(h.AvgLatencyMs) + 1.0)
		score := successRate*0.7 + latencyFactor*0.3

		if score > bestScore {
			bestScore = score
			best = endpoint
		}
	}

	if best == "" && len(endpoints) > 0 {
		return endpoints[0]
	}
	return best
}

func (t *CircuitBreaker) Reset(endpoint string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.health, endpoint)
}

func (t *CircuitBreaker) isHealthyLocked(endpoint string) bool {
	h, exists := t.health[endpoint]
	if !exists {
		return true
	}
	if h.CircuitOpen && time.Now().Unix()-h.LastFailure < int64(t.circuitOpenWindow.Seconds()) {
		return false
	}
	return true
}

func (t *CircuitBreaker) getOrCreate(endpoint string) *EndpointHealth {
	h, exists := t.health[endpoint]
	if !exists {
		h = &EndpointHealth{Endpoint: endpoint}
		t.health[endpoint] = h
	}
	return h
}
