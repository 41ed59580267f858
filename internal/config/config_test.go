package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	path := filepath.Join(t.TempDir(), "relayer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0600))
	return path
}

func TestDefaults_SetsChannelAndRetryBaselines(t *testing.T) {
	cfg := Defaults()

	assert.Equal(t, 16, cfg.Processing.MaxConcurrentSettlements)
	assert.Equal(t, 5, cfg.Processing.RetryAttempts)
	assert.Equal(t, 9090, cfg.Monitor.MetricsPort)
	assert.Equal(t, 9091, cfg.Monitor.HealthPort)
	assert.Equal(t, 1024, ChannelCapacity)
}

func TestLoad_FailsValidationWithoutRequiredFields(t *testing.T) {
	_, err := Load("", nil)
	require.Error(t, err)
}

func TestLoad_AppliesFileThenFlags(t *testing.T) {
	path := writeConfigFile(t, `
source:
  rpc_url: https://source.example
  program_id: Prog11111111111111111111111111111111111111
destination:
  rpc_url: https://dest.example
  contract_address: "0xcontract"
  private_key: /tmp/key.txt
store:
  url: memory://test
`)

	cfg, err := Load(path, []string{"-metrics-port", "9999"})
	require.NoError(t, err)

	assert.Equal(t, "https://source.example", cfg.Source.RPCURL)
	assert.Equal(t, 9999, cfg.Monitor.MetricsPort)
}

func TestValidate_RequiresStoreURL(t *testing.T) {
	cfg := Defaults()
	cfg.Source.RPCURL = "https://source.example"
	cfg.Source.ProgramID = "Prog1"
	cfg.Destination.RPCURL = "https://dest.example"
	cfg.Destination.ContractAddress = "0xcontract"
	cfg.Destination.PrivateKeyPath = "/tmp/key.txt"

	err := Validate(cfg)
	require.Error(t, err)
}

func TestProcessing_DurationHelpers(t *testing.T) {
	p := Processing{RetryDelaySeconds: 5, IntentTTLSeconds: 60}
	assert.Equal(t, int64(5_000_000_000), int64(p.RetryDelay()))
	assert.Equal(t, int64(60_000_000_000), int64(p.IntentTTL()))
}
