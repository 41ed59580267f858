package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/arcsign/internal/metrics"
	"github.com/yourusername/arcsign/internal/store"
	"github.com/yourusername/arcsign/internal/types"
)

type stubChecker struct {
	source bool
	dest   bool
}

func (c stubChecker) SourceHealthy() bool      { return c.source }
func (c stubChecker) DestinationHealthy() bool { return c.dest }

func testRequest(hash string) types.SettlementRequest {
	return types.SettlementRequest{
		SourceTxHash:     hash,
		SourceChain:      "solana",
		DestinationChain: "aptos",
		Sender:           "sender",
		Receiver:         "receiver",
		Asset:            "USDC",
		Amount:           1000,
		Nonce:            1,
	}
}

func newTestServer(t *testing.T, checker HealthChecker) (*Server, store.Store) {
	st := store.NewMemoryStore()
	s := New(st, metrics.New(), checker, 18080, 18081, logrus.NewEntry(logrus.New()))
	t.Cleanup(func() { st.Close() })
	return s, st
}

func TestHandleHealth_OKWhenBothChainsHealthy(t *testing.T) {
	s, _ := newTestServer(t, stubChecker{source: true, dest: true})
	srv := httptest.NewServer(s.healthSrv.Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleHealth_UnavailableWhenEitherChainUnhealthy(t *testing.T) {
	s, _ := newTestServer(t, stubChecker{source: true, dest: false})
	srv := httptest.NewServer(s.healthSrv.Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHandleAPIHealth_ReportsPerChainStatus(t *testing.T) {
	s, _ := newTestServer(t, stubChecker{source: true, dest: false})
	srv := httptest.NewServer(s.apiSrv.Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, true, out["source_chain_healthy"])
	assert.Equal(t, false, out["destination_chain_healthy"])
}

func TestHandleAPIStatus_ReportsCountsByStatusAndInFlight(t *testing.T) {
	s, st := newTestServer(t, stubChecker{source: true, dest: true})

	_, err := st.PutIfAbsent(testRequest("tx1"))
	require.NoError(t, err)
	_, _, err = st.UpdateState("tx1", nil, func(state types.SettlementState) types.SettlementState {
		state.Status = types.StatusSubmitting
		return state
	})
	require.NoError(t, err)

	_, err = st.PutIfAbsent(testRequest("tx2"))
	require.NoError(t, err)

	srv := httptest.NewServer(s.apiSrv.Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, float64(1), out["in_flight"])
}

func TestHandleListSettlements_ReturnsRecentRecordsNewestFirst(t *testing.T) {
	s, st := newTestServer(t, stubChecker{source: true, dest: true})

	_, err := st.PutIfAbsent(testRequest("tx1"))
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = st.PutIfAbsent(testRequest("tx2"))
	require.NoError(t, err)

	srv := httptest.NewServer(s.apiSrv.Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/settlements?limit=1")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out struct {
		Settlements []types.Record `json:"settlements"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Len(t, out.Settlements, 1)
	assert.Equal(t, "tx2", out.Settlements[0].Request.SourceTxHash)
}

func TestHandleGetSettlement_ReturnsRecordForKnownHash(t *testing.T) {
	s, st := newTestServer(t, stubChecker{source: true, dest: true})

	_, err := st.PutIfAbsent(testRequest("tx1"))
	require.NoError(t, err)

	srv := httptest.NewServer(s.apiSrv.Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/settlements/tx1")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var rec types.Record
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	assert.Equal(t, "tx1", rec.Request.SourceTxHash)
}

func TestHandleGetSettlement_NotFoundForUnknownHash(t *testing.T) {
	s, _ := newTestServer(t, stubChecker{source: true, dest: true})
	srv := httptest.NewServer(s.apiSrv.Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/settlements/unknown")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
