// Package config resolves the relayer's configuration from defaults, an
// optional YAML file, environment variables, and CLI flags, in that order,
// generalizing the teacher's JSON-file AppConfig persistence
// (internal/app/config.go) to the layered resolution the relayer needs.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yourusername/arcsign/internal/types"
)

// Source holds the source-chain configuration (§6 source.*).
type Source struct {
	RPCURL         string `yaml:"rpc_url"`
	ProgramID      string `yaml:"program_id"`
	Commitment     string `yaml:"commitment"`
	PollIntervalMs int    `yaml:"poll_interval_ms"`
}

// Destination holds the destination-chain configuration (§6 destination.*).
type Destination struct {
	RPCURL          string `yaml:"rpc_url"`
	ContractAddress string `yaml:"contract_address"`
	VaultOwner      string `yaml:"vault_owner"`
	PrivateKeyPath  string `yaml:"private_key"`
	MaxGasAmount    uint64 `yaml:"max_gas_amount"`
}

// Processing holds the processor's concurrency/retry configuration (§6
// processing.*).
type Processing struct {
	MaxConcurrentSettlements int `yaml:"max_concurrent_settlements"`
	RetryAttempts            int `yaml:"retry_attempts"`
	RetryDelaySeconds        int `yaml:"retry_delay_seconds"`
	IntentTTLSeconds         int `yaml:"intent_ttl_seconds"`
}

// Store holds the persistence backend configuration (§6 store.*).
type Store struct {
	URL            string `yaml:"url"`
	MaxConnections int    `yaml:"max_connections"`
}

// Monitor holds the monitor HTTP surface configuration (§6 monitor.*).
type Monitor struct {
	MetricsPort int    `yaml:"metrics_port"`
	HealthPort  int    `yaml:"health_port"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

// Config is the fully resolved configuration for one relayer process.
type Config struct {
	Source      Source      `yaml:"source"`
	Destination Destination `yaml:"destination"`
	Processing  Processing  `yaml:"processing"`
	Store       Store       `yaml:"store"`
	Monitor     Monitor     `yaml:"monitor"`
}

// Defaults returns the configuration with every default value filled in.
// The channel capacity (ChannelCapacity) and the watcher's backoff bounds
// are not part of Config and have no defaults here.
func Defaults() Config {
	return Config{
		Source: Source{
			Commitment:     "confirmed",
			PollIntervalMs: 2000,
		},
		Destination: Destination{
			MaxGasAmount: 200_000,
		},
		Processing: Processing{
			MaxConcurrentSettlements: 16,
			RetryAttempts:            5,
			RetryDelaySeconds:        5,
			IntentTTLSeconds:         3600,
		},
		Store: Store{
			MaxConnections: 10,
		},
		Monitor: Monitor{
			MetricsPort: 9090,
			HealthPort:  9091,
			LogLevel:    "info",
			LogFormat:   "text",
		},
	}
}

// ChannelCapacity is the watcher->processor bounded channel size (§5).
const ChannelCapacity = 1024

// Load resolves configuration in the order defaults -> file -> env -> flags.
// path may be empty, meaning no file layer is applied. args is normally
// os.Args[1:].
func Load(path string, args []string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)

	if err := applyFlags(&cfg, args); err != nil {
		return Config{}, err
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.NewConfigurationError(types.ErrCodeInvalidConfig, "failed to read config file", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return types.NewConfigurationError(types.ErrCodeInvalidConfig, "failed to parse config file", err)
	}
	return nil
}

// applyEnv mirrors each YAML key as RELAYER_<SECTION>_<FIELD>, following the
// env-override pattern used for the facilitator's configuration in the
// example pack (os.LookupEnv reads layered over defaults).
func applyEnv(cfg *Config) {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	intv := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	u64 := func(key string, dst *uint64) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.ParseUint(v, 10, 64); err == nil {
				*dst = n
			}
		}
	}

	str("RELAYER_SOURCE_RPC_URL", &cfg.Source.RPCURL)
	str("RELAYER_SOURCE_PROGRAM_ID", &cfg.Source.ProgramID)
	str("RELAYER_SOURCE_COMMITMENT", &cfg.Source.Commitment)
	intv("RELAYER_SOURCE_POLL_INTERVAL_MS", &cfg.Source.PollIntervalMs)

	str("RELAYER_DESTINATION_RPC_URL", &cfg.Destination.RPCURL)
	str("RELAYER_DESTINATION_CONTRACT_ADDRESS", &cfg.Destination.ContractAddress)
	str("RELAYER_DESTINATION_VAULT_OWNER", &cfg.Destination.VaultOwner)
	str("RELAYER_DESTINATION_PRIVATE_KEY", &cfg.Destination.PrivateKeyPath)
	u64("RELAYER_DESTINATION_MAX_GAS_AMOUNT", &cfg.Destination.MaxGasAmount)

	intv("RELAYER_PROCESSING_MAX_CONCURRENT_SETTLEMENTS", &cfg.Processing.MaxConcurrentSettlements)
	intv("RELAYER_PROCESSING_RETRY_ATTEMPTS", &cfg.Processing.RetryAttempts)
	intv("RELAYER_PROCESSING_RETRY_DELAY_SECONDS", &cfg.Processing.RetryDelaySeconds)
	intv("RELAYER_PROCESSING_INTENT_TTL_SECONDS", &cfg.Processing.IntentTTLSeconds)

	str("RELAYER_STORE_URL", &cfg.Store.URL)
	intv("RELAYER_STORE_MAX_CONNECTIONS", &cfg.Store.MaxConnections)

	intv("RELAYER_MONITOR_METRICS_PORT", &cfg.Monitor.MetricsPort)
	intv("RELAYER_MONITOR_HEALTH_PORT", &cfg.Monitor.HealthPort)
	str("RELAYER_MONITOR_LOG_LEVEL", &cfg.Monitor.LogLevel)
	str("RELAYER_MONITOR_LOG_FORMAT", &cfg.Monitor.LogFormat)
}

// applyFlags is the final, highest-priority layer. There is no grounding in
// the example pack for a flags library (the teacher's CLI dispatches on
// subcommand name, not parsed flags), so this uses the standard library's
// flag package directly rather than inventing a dependency.
func applyFlags(cfg *Config, args []string) error {
	fs := flag.NewFlagSet("relayer", flag.ContinueOnError)

	fs.String("config", "", "path to a YAML configuration file (read before flags are applied)")
	sourceRPC := fs.String("source-rpc-url", cfg.Source.RPCURL, "source chain RPC URL")
	destRPC := fs.String("destination-rpc-url", cfg.Destination.RPCURL, "destination chain RPC URL")
	metricsPort := fs.Int("metrics-port", cfg.Monitor.MetricsPort, "metrics HTTP port")
	healthPort := fs.Int("health-port", cfg.Monitor.HealthPort, "health HTTP port")
	logLevel := fs.String("log-level", cfg.Monitor.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		return types.NewConfigurationError(types.ErrCodeInvalidConfig, "failed to parse flags", err)
	}

	cfg.Source.RPCURL = *sourceRPC
	cfg.Destination.RPCURL = *destRPC
	cfg.Monitor.MetricsPort = *metricsPort
	cfg.Monitor.HealthPort = *healthPort
	cfg.Monitor.LogLevel = *logLevel

	return nil
}

// Validate rejects configurations missing a value required to start the
// daemon, per §7's "configuration errors are fatal at startup."
func Validate(cfg Config) error {
	missing := func(name string) error {
		return types.NewConfigurationError(types.ErrCodeMissingConfig, fmt.Sprintf("missing required config: %s", name), nil)
	}

	if cfg.Source.RPCURL == "" {
		return missing("source.rpc_url")
	}
	if cfg.Source.ProgramID == "" {
		return missing("source.program_id")
	}
	if cfg.Destination.RPCURL == "" {
		return missing("destination.rpc_url")
	}
	if cfg.Destination.ContractAddress == "" {
		return missing("destination.contract_address")
	}
	if cfg.Destination.PrivateKeyPath == "" {
		return missing("destination.private_key")
	}
	if cfg.Store.URL == "" {
		return missing("store.url")
	}
	if cfg.Processing.MaxConcurrentSettlements <= 0 {
		return types.NewConfigurationError(types.ErrCodeInvalidConfig, "processing.max_concurrent_settlements must be positive", nil)
	}
	if cfg.Processing.RetryAttempts <= 0 {
		return types.NewConfigurationError(types.ErrCodeInvalidConfig, "processing.retry_attempts must be positive", nil)
	}
	return nil
}

// PollInterval returns the source poll interval as a time.Duration.
func (s Source) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalMs) * time.Millisecond
}

// RetryDelay returns the base retry delay as a time.Duration.
func (p Processing) RetryDelay() time.Duration {
	return time.Duration(p.RetryDelaySeconds) * time.Second
}

// IntentTTL returns the intent time-to-live as a time.Duration.
func (p Processing) IntentTTL() time.Duration {
	return time.Duration(p.IntentTTLSeconds) * time.Second
}
