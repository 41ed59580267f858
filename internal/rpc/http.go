package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// HTTPClient implements Client over HTTP JSON-RPC with round-robin and
// health-based failover across multiple endpoints, following the teacher's
// HTTPRPCClient (src/chainadapter/rpc/http.go).
type HTTPClient struct {
	endpoints  []string
	health     HealthTracker
	httpClient *http.Client
	requestID  atomic.Int64
	mu         sync.RWMutex
	current    int
	log        *logrus.Entry
}

// NewHTTPClient creates an HTTP RPC client with failover support. If health
// is nil, a CircuitBreaker is created.
func NewHTTPClient(endpoints []string, timeout time.Duration, health HealthTracker, log *logrus.Entry) (*HTTPClient, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("at least one RPC endpoint is required")
	}
	if health == nil {
		health = NewCircuitBreaker()
	}

	return &HTTPClient{
		endpoints:  endpoints,
		health:     health,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}, nil
}

func (c *HTTPClient) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	attempted := make(map[string]bool)
	var lastErr error

	for len(attempted) < len(c.endpoints) {
		endpoint := c.nextHealthyEndpoint(attempted)
		if endpoint == "" {
			break
		}
		attempted[endpoint] = true

		result, err := c.callEndpoint(ctx, endpoint, method, params)
		if err == nil {
			return result, nil
		}
		if c.log != nil {
			c.log.WithError(err).WithField("endpoint", endpoint).Warn("rpc call failed, trying next endpoint")
		}
		lastErr = err
	}

	return nil, fmt.Errorf("all rpc endpoints failed, last error: %w", lastErr)
}

func (c *HTTPClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *HTTPClient) callEndpoint(ctx context.Context, endpoint, method string, params interface{}) (json.RawMessage, error) {
	start := time.Now()

	reqID := c.requestID.Add(1)
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      reqID,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.health.RecordFailure(endpoint, err)
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.health.RecordFailure(endpoint, err)
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
		c.health.RecordFailure(endpoint, err)
		return nil, err
	}

	var rpcResp Response
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		c.health.RecordFailure(endpoint, err)
		return nil, fmt.Errorf("failed to parse rpc response: %w", err)
	}

	if rpcResp.Error != nil {
		c.health.RecordFailure(endpoint, rpcResp.Error)
		return nil, fmt.Errorf("rpc error: %s", rpcResp.Error.Message)
	}

	c.health.RecordSuccess(endpoint, time.Since(start).Milliseconds())
	return rpcResp.Result, nil
}

func (c *HTTPClient) nextHealthyEndpoint(attempted map[string]bool) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := 0; i < len(c.endpoints); i++ {
		idx := (c.current + i) % len(c.endpoints)
		endpoint := c.endpoints[idx]
		if attempted[endpoint] {
			continue
		}
		if c.health.IsHealthy(endpoint) {
			c.current = (idx + 1) % len(c.endpoints)
			return endpoint
		}
	}

	for _, endpoint := range c.endpoints {
		if !attempted[endpoint] {
			return endpoint
		}
	}
	return ""
}
