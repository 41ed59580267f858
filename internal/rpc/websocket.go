package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketClient implements Client over a WebSocket JSON-RPC transport with
// automatic reconnection, following the teacher's WebSocketRPCClient
// (src/chainadapter/rpc/websocket.go). Subscribe supports Solana
// program-log subscriptions, whose notifications arrive on the same
// connection as ordinary calls. No other package constructs a
// WebSocketClient: cmd/relayer gives the watcher an HTTPClient, and the
// watcher polls through whatever Client it is given.
type WebSocketClient struct {
	url  string
	conn *websocket.Conn
	mu   sync.RWMutex

	requestID atomic.Int64
	pending   map[int64]chan *Response
	pendingMu sync.Mutex

	subs   map[int64]chan json.RawMessage
	subsMu sync.Mutex

	closed    atomic.Bool
	closeChan chan struct{}

	reconnectBackoff     time.Duration
	maxReconnectInterval time.Duration
}

// NewWebSocketClient dials url and starts the background read loop.
func NewWebSocketClient(url string) (*WebSocketClient, error) {
	c := &WebSocketClient{
		url:                  url,
		pending:              make(map[int64]chan *Response),
		subs:                 make(map[int64]chan json.RawMessage),
		closeChan:            make(chan struct{}),
		reconnectBackoff:     time.Second,
		maxReconnectInterval: 60 * time.Second,
	}

	if err := c.connect(); err != nil {
		return nil, fmt.Errorf("failed to connect websocket: %w", err)
	}

	go c.readLoop()
	return c, nil
}

func (c *WebSocketClient) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

func (c *WebSocketClient) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	reqID := c.requestID.Add(1)

	respCh := make(chan *Response, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = respCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}()

	payload, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      reqID,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return nil, fmt.Errorf("websocket not connected")
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return nil, fmt.Errorf("failed to write message: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp := <-respCh:
		if resp.Error != nil {
			return nil, fmt.Errorf("rpc error: %s", resp.Error.Message)
		}
		return resp.Result, nil
	}
}

// Subscribe sends a subscription method (e.g. "logsSubscribe") and returns a
// channel of notification payloads keyed by the subscription id the node
// assigns in its response.
func (c *WebSocketClient) Subscribe(ctx context.Context, method string, params interface{}) (<-chan json.RawMessage, error) {
	result, err := c.Call(ctx, method, params)
	if err != nil {
		return nil, err
	}

	var subID int64
	if err := json.Unmarshal(result, &subID); err != nil {
		return nil, fmt.Errorf("failed to parse subscription id: %w", err)
	}

	ch := make(chan json.RawMessage, 256)
	c.subsMu.Lock()
	c.subs[subID] = ch
	c.subsMu.Unlock()

	return ch, nil
}

func (c *WebSocketClient) readLoop() {
	for {
		if c.closed.Load() {
			return
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		if conn == nil {
			c.reconnect()
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			c.reconnect()
			continue
		}

		c.dispatch(message)
	}
}

func (c *WebSocketClient) dispatch(message []byte) {
	var envelope struct {
		ID     *int64          `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(message, &envelope); err != nil {
		return
	}

	if envelope.ID != nil {
		var resp Response
		if err := json.Unmarshal(message, &resp); err != nil {
			return
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[*envelope.ID]
		c.pendingMu.Unlock()
		if ok {
			ch <- &resp
		}
		return
	}

	if envelope.Method != "" {
		var notification struct {
			Subscription int64           `json:"subscription"`
			Result       json.RawMessage `json:"result"`
		}
		var withParams struct {
			Params struct {
				Subscription int64           `json:"subscription"`
				Result       json.RawMessage `json:"result"`
			} `json:"params"`
		}
		if err := json.Unmarshal(message, &withParams); err == nil && withParams.Params.Subscription != 0 {
			notification = withParams.Params
		}

		c.subsMu.Lock()
		ch, ok := c.subs[notification.Subscription]
		c.subsMu.Unlock()
		if ok {
			select {
			case ch <- notification.Result:
			default:
			}
		}
	}
}

func (c *WebSocketClient) reconnect() {
	select {
	case <-c.closeChan:
		return
	default:
	}

	backoff := c.reconnectBackoff
	for {
		time.Sleep(backoff)
		if err := c.connect(); err == nil {
			return
		}
		if backoff < c.maxReconnectInterval {
			backoff *= 2
			if backoff > c.maxReconnectInterval {
				backoff = c.maxReconnectInterval
			}
		}

		select {
		case <-c.closeChan:
			return
		default:
		}
	}
}

func (c *WebSocketClient) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.closeChan)

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
