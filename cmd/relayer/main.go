// Command relayer runs the Solana-to-Aptos settlement relayer daemon: the
// source watcher, settlement processor, destination executor, and monitor
// HTTP surface described in spec §4, wired together and run under one
// cancellable context with signal-driven graceful shutdown. The command
// dispatch shape follows the teacher's cmd/arcsign entrypoint
// (cmd/arcsign/main.go), restructured from a CLI tool's subcommands into a
// single long-running daemon process.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/yourusername/arcsign/internal/config"
	"github.com/yourusername/arcsign/internal/executor"
	"github.com/yourusername/arcsign/internal/logging"
	"github.com/yourusername/arcsign/internal/metrics"
	"github.com/yourusername/arcsign/internal/monitor"
	"github.com/yourusername/arcsign/internal/processor"
	"github.com/yourusername/arcsign/internal/rpc"
	"github.com/yourusername/arcsign/internal/signer"
	"github.com/yourusername/arcsign/internal/store"
	"github.com/yourusername/arcsign/internal/types"
	"github.com/yourusername/arcsign/internal/watcher"
)

// Exit codes per spec §6.
const (
	exitOK           = 0
	exitConfigError  = 1
	exitStoreError   = 2
	exitRuntimeError = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string
	for i, arg := range os.Args[1:] {
		if arg == "--config" && i+2 < len(os.Args) {
			configPath = os.Args[i+2]
		}
	}

	cfg, err := config.Load(configPath, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitConfigError
	}

	logger := logging.New(cfg.Monitor.LogLevel, cfg.Monitor.LogFormat)
	log := logging.Component(logger, "main")

	st, err := openStore(cfg.Store)
	if err != nil {
		log.WithError(err).Error("failed to open store")
		return exitStoreError
	}
	defer st.Close()

	sgn, err := loadSigner(cfg.Destination.PrivateKeyPath)
	if err != nil {
		log.WithError(err).Error("failed to load signing key")
		return exitConfigError
	}

	m := metrics.New()

	sourceHealth := rpc.NewCircuitBreaker()
	sourceClient, err := rpc.NewHTTPClient([]string{cfg.Source.RPCURL}, 10*time.Second, sourceHealth, logging.Component(logger, "source-rpc"))
	if err != nil {
		log.WithError(err).Error("failed to construct source rpc client")
		return exitConfigError
	}
	defer sourceClient.Close()

	destHealth := rpc.NewCircuitBreaker()
	destClient, err := rpc.NewHTTPClient([]string{cfg.Destination.RPCURL}, 10*time.Second, destHealth, logging.Component(logger, "destination-rpc"))
	if err != nil {
		log.WithError(err).Error("failed to construct destination rpc client")
		return exitConfigError
	}
	defer destClient.Close()

	checkpointStore := watcher.NewFileCheckpointStore(cfg.Store.URL + ".checkpoint")

	requests := make(chan types.IngestRequest, config.ChannelCapacity)

	w, err := watcher.New(watcher.Config{
		ProgramID:        cfg.Source.ProgramID,
		DestinationChain: "aptos",
		PollInterval:     cfg.Source.PollInterval(),
	}, sourceClient, checkpointStore, requests, logging.Component(logger, "watcher"))
	if err != nil {
		log.WithError(err).Error("failed to construct watcher")
		return exitConfigError
	}

	exec := executor.New(executor.Config{
		ContractAddress: cfg.Destination.ContractAddress,
		VaultOwner:      cfg.Destination.VaultOwner,
		MaxGasAmount:    cfg.Destination.MaxGasAmount,
	}, destClient, logging.Component(logger, "executor"))

	proc := processor.New(processor.Config{
		MaxConcurrentSettlements: int64(cfg.Processing.MaxConcurrentSettlements),
		RetryAttempts:            cfg.Processing.RetryAttempts,
		RetryDelay:               cfg.Processing.RetryDelay(),
		IntentTTL:                cfg.Processing.IntentTTL(),
	}, st, sgn, exec, m, logging.Component(logger, "processor"))

	health := &chainHealth{source: sourceHealth, sourceEndpoint: cfg.Source.RPCURL, dest: destHealth, destEndpoint: cfg.Destination.RPCURL, metrics: m}
	mon := monitor.New(st, m, health, cfg.Monitor.HealthPort, cfg.Monitor.MetricsPort, logging.Component(logger, "monitor"))
	proc.OnSettled(mon.NoteSettlement)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received, draining in-flight settlements")
		cancel()
	}()

	errCh := make(chan error, 4)
	go func() { errCh <- w.Run(ctx) }()
	go func() { errCh <- proc.Run(ctx, requests) }()
	go func() { errCh <- mon.Run(ctx) }()
	go func() { health.pollLoop(ctx) }()

	for i := 0; i < 3; i++ {
		if err := <-errCh; err != nil {
			log.WithError(err).Error("component exited with error")
			cancel()
			return exitRuntimeError
		}
	}

	log.Info("shutdown complete")
	return exitOK
}

func openStore(cfg config.Store) (store.Store, error) {
	switch {
	case strings.HasPrefix(cfg.URL, "postgres://"), strings.HasPrefix(cfg.URL, "postgresql://"):
		return store.OpenPostgresStore(cfg.URL, cfg.MaxConnections)
	case strings.HasPrefix(cfg.URL, "memory://"):
		return store.NewMemoryStore(), nil
	default:
		return store.OpenBoltStore(cfg.URL)
	}
}

// loadSigner reads a BIP39 mnemonic from path and derives the relayer's
// Ed25519 signing key from it.
func loadSigner(path string) (*signer.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.NewConfigurationError(types.ErrCodeUnreadableKey, "failed to read private key file", err)
	}
	mnemonic := strings.TrimSpace(string(data))
	return signer.NewFromMnemonic(mnemonic, "")
}

// chainHealth adapts the two RPC circuit breakers into monitor.HealthChecker
// and periodically refreshes the source/destination health gauges.
type chainHealth struct {
	source         *rpc.CircuitBreaker
	sourceEndpoint string
	dest           *rpc.CircuitBreaker
	destEndpoint   string
	metrics        *metrics.Metrics
}

func (h *chainHealth) SourceHealthy() bool {
	return h.source.IsHealthy(h.sourceEndpoint)
}

func (h *chainHealth) DestinationHealthy() bool {
	return h.dest.IsHealthy(h.destEndpoint)
}

func (h *chainHealth) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.metrics.SetSourceHealthy(h.SourceHealthy())
			h.metrics.SetDestinationHealthy(h.DestinationHealthy())
		}
	}
}
