// Package monitor implements C6: the read-only HTTP surface over the store
// and processor statistics described in spec §4.6, using gin for routing
// (grounded on coinbase-x402/examples/go/facilitator/main.go) and the
// official Prometheus client for /metrics, generalizing the interface shape
// of the teacher's hand-rolled ChainMetrics
// (src/chainadapter/metrics/metrics.go) to the official exposition format.
package monitor

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/arcsign/internal/metrics"
	"github.com/yourusername/arcsign/internal/store"
	"github.com/yourusername/arcsign/internal/types"
)

// HealthChecker reports whether a dependency was healthy at the last check.
type HealthChecker interface {
	SourceHealthy() bool
	DestinationHealthy() bool
}

// Server exposes the monitor's two HTTP listeners: one for /health (liveness
// probes), one for /metrics and the /api/v1/* query API, per spec §4.6.
type Server struct {
	store     store.Store
	metrics   *metrics.Metrics
	checker   HealthChecker
	startedAt time.Time
	log       *logrus.Entry

	mu               sync.RWMutex
	lastSettlementAt time.Time

	healthSrv *http.Server
	apiSrv    *http.Server
}

// New constructs a Server bound to healthPort and metricsPort.
func New(st store.Store, m *metrics.Metrics, checker HealthChecker, healthPort, metricsPort int, log *logrus.Entry) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		store:     st,
		metrics:   m,
		checker:   checker,
		startedAt: time.Now(),
		log:       log,
	}

	healthRouter := gin.New()
	healthRouter.GET("/health", s.handleHealth)

	apiRouter := gin.New()
	apiRouter.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})))
	v1 := apiRouter.Group("/api/v1")
	v1.GET("/health", s.handleAPIHealth)
	v1.GET("/status", s.handleAPIStatus)
	v1.GET("/settlements", s.handleListSettlements)
	v1.GET("/settlements/:hash", s.handleGetSettlement)

	s.healthSrv = &http.Server{Addr: portAddr(healthPort), Handler: healthRouter}
	s.apiSrv = &http.Server{Addr: portAddr(metricsPort), Handler: apiRouter}

	return s
}

func portAddr(port int) string {
	return ":" + strconv.Itoa(port)
}

// NoteSettlement records the wall-clock time of the most recent terminal
// settlement, surfaced by /api/v1/status.
func (s *Server) NoteSettlement(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSettlementAt = at
}

// Run starts both listeners and blocks until ctx is cancelled, then shuts
// both down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		if err := s.healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	go func() {
		if err := s.apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.healthSrv.Shutdown(shutdownCtx)
		s.apiSrv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	healthy := s.checker.SourceHealthy() && s.checker.DestinationHealthy()
	if !healthy {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	c.Status(http.StatusOK)
}

func (s *Server) handleAPIHealth(c *gin.Context) {
	now := time.Now()
	c.JSON(http.StatusOK, gin.H{
		"source_chain_healthy":      s.checker.SourceHealthy(),
		"destination_chain_healthy": s.checker.DestinationHealthy(),
		"checked_at":                now,
	})
}

func (s *Server) handleAPIStatus(c *gin.Context) {
	counts, err := s.store.CountByStatus()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read status counts"})
		return
	}

	inFlight := counts[types.StatusSigning] + counts[types.StatusSubmitting] + counts[types.StatusAwaiting]

	s.mu.RLock()
	lastSettlement := s.lastSettlementAt
	s.mu.RUnlock()

	c.JSON(http.StatusOK, gin.H{
		"uptime_seconds":   time.Since(s.startedAt).Seconds(),
		"in_flight":        inFlight,
		"counts_by_status": counts,
		"last_settlement_at": lastSettlement,
	})
}

func (s *Server) handleListSettlements(c *gin.Context) {
	limit := 100
	if q := c.Query("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}

	records, err := s.store.ListRecent(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list settlements"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"settlements": records})
}

func (s *Server) handleGetSettlement(c *gin.Context) {
	hash := c.Param("hash")

	rec, err := s.store.Get(hash)
	if err == store.ErrNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "settlement not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read settlement"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

