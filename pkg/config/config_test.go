package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
oracle:
  symbol: "ETH/USD"
primary_feed:
  rpc_url: "http://localhost:8545"
  aggregator_address: "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419"
secondary_pool:
  rpc_url: "http://localhost:8545"
  pair_address: "0x0d4a11d5EEaaC28EC3F61d100daF4d40471f1852"
  base_token_address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
server:
  admin_token: "test-token"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))

	assert.Equal(t, uint64(1800), cfg.Oracle.EpochLength.Seconds())
	assert.Equal(t, uint64(300), cfg.Oracle.MaxObservationDelay.Seconds())
	assert.Equal(t, 10, cfg.Oracle.MinPrimaryRounds)
	assert.Equal(t, 100, cfg.Oracle.MaxRoundsPerCycle)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, ":8080", cfg.Server.HTTP.Addr)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_RPC_URL", "http://node.internal:8545")
	path := writeConfig(t, `
oracle:
  symbol: "ETH/USD"
primary_feed:
  rpc_url: "${TEST_RPC_URL}"
  aggregator_address: "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419"
secondary_pool:
  rpc_url: "${TEST_RPC_URL}"
  pair_address: "0x0d4a11d5EEaaC28EC3F61d100daF4d40471f1852"
  base_token_address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
server:
  admin_token: "test-token"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://node.internal:8545", cfg.Primary.RPCURL)
}

func TestValidate_Rejections(t *testing.T) {
	base := func() *Config {
		path := writeConfig(t, `
oracle:
  symbol: "ETH/USD"
primary_feed:
  rpc_url: "http://localhost:8545"
  aggregator_address: "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419"
secondary_pool:
  rpc_url: "http://localhost:8545"
  pair_address: "0x0d4a11d5EEaaC28EC3F61d100daF4d40471f1852"
  base_token_address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
server:
  admin_token: "test-token"
`)
		cfg, err := Load(path)
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.Oracle.StartEpoch = 36001
	assert.ErrorIs(t, Validate(cfg), ErrEpochNotAligned)

	cfg = base()
	cfg.Primary.RPCURL = ""
	assert.ErrorIs(t, Validate(cfg), ErrRPCURLRequired)

	cfg = base()
	cfg.Store.Backend = "postgres"
	assert.ErrorIs(t, Validate(cfg), ErrInvalidStoreBackend)

	cfg = base()
	cfg.Store.Backend = "redis"
	assert.ErrorIs(t, Validate(cfg), ErrRedisAddrRequired)
}
