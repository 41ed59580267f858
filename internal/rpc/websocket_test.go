package rpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebSocketClient_DispatchRoutesResponseToPending(t *testing.T) {
	c := &WebSocketClient{
		pending: make(map[int64]chan *Response),
		subs:    make(map[int64]chan json.RawMessage),
	}

	respCh := make(chan *Response, 1)
	c.pending[1] = respCh

	message := []byte(`{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`)
	c.dispatch(message)

	select {
	case resp := <-respCh:
		var out map[string]bool
		require.NoError(t, json.Unmarshal(resp.Result, &out))
		assert.True(t, out["ok"])
	default:
		t.Fatal("expected a response to be dispatched to the pending channel")
	}
}

func TestWebSocketClient_DispatchRoutesNotificationToSubscription(t *testing.T) {
	c := &WebSocketClient{
		pending: make(map[int64]chan *Response),
		subs:    make(map[int64]chan json.RawMessage),
	}

	subCh := make(chan json.RawMessage, 1)
	c.subs[42] = subCh

	message := []byte(`{"jsonrpc":"2.0","method":"logsNotification","params":{"subscription":42,"result":{"slot":100}}}`)
	c.dispatch(message)

	select {
	case payload := <-subCh:
		var out map[string]int
		require.NoError(t, json.Unmarshal(payload, &out))
		assert.Equal(t, 100, out["slot"])
	default:
		t.Fatal("expected a notification to be dispatched to the subscription channel")
	}
}

func TestWebSocketClient_DispatchIgnoresUnknownSubscription(t *testing.T) {
	c := &WebSocketClient{
		pending: make(map[int64]chan *Response),
		subs:    make(map[int64]chan json.RawMessage),
	}

	message := []byte(`{"jsonrpc":"2.0","method":"logsNotification","params":{"subscription":999,"result":{}}}`)
	assert.NotPanics(t, func() { c.dispatch(message) })
}
