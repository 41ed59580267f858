package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonRPCServer(t *testing.T, result interface{}) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		resp := Response{JSONRPC: "2.0", ID: 1}
		data, err := json.Marshal(result)
		require.NoError(t, err)
		resp.Result = data
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestHTTPClient_Call_ReturnsResult(t *testing.T) {
	srv := jsonRPCServer(t, map[string]string{"hello": "world"})
	defer srv.Close()

	client, err := NewHTTPClient([]string{srv.URL}, time.Second, nil, nil)
	require.NoError(t, err)
	defer client.Close()

	raw, err := client.Call(context.Background(), "anyMethod", nil)
	require.NoError(t, err)

	var out map[string]string
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "world", out["hello"])
}

func TestHTTPClient_Call_FailsOverToSecondEndpoint(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	good := jsonRPCServer(t, map[string]string{"ok": "true"})
	defer good.Close()

	client, err := NewHTTPClient([]string{bad.URL, good.URL}, time.Second, nil, nil)
	require.NoError(t, err)
	defer client.Close()

	raw, err := client.Call(context.Background(), "anyMethod", nil)
	require.NoError(t, err)

	var out map[string]string
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "true", out["ok"])
}

func TestNewHTTPClient_RequiresAtLeastOneEndpoint(t *testing.T) {
	_, err := NewHTTPClient(nil, time.Second, nil, nil)
	require.Error(t, err)
}
