package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadChainSpec(t *testing.T) {
	path := writeFile(t, "chain.yml", `
chain:
  name: testnet
  genesis_header: "hello genesis"
  finality_period: 4
`)

	spec, err := LoadChainSpec(path)
	require.NoError(t, err)
	assert.Equal(t, "testnet", spec.Name)
	assert.Equal(t, "hello genesis", spec.GenesisHeader)
	assert.Equal(t, uint64(4), spec.FinalityPeriod)
	assert.Equal(t, DevBlockIntervalMs, spec.BlockIntervalMs, "unset interval falls back to the dev default")
}

func TestLoadChainSpecErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadChainSpec(filepath.Join(t.TempDir(), "nope.yml"))
		require.Error(t, err)
	})

	t.Run("missing genesis", func(t *testing.T) {
		path := writeFile(t, "chain.yml", "chain:\n  name: x\n")
		_, err := LoadChainSpec(path)
		require.ErrorIs(t, err, ErrInvalidChainSpec)
	})

	t.Run("unknown field", func(t *testing.T) {
		path := writeFile(t, "chain.yml", "chain:\n  name: x\n  genesis_header: g\n  bogus: 1\n")
		_, err := LoadChainSpec(path)
		require.Error(t, err)
	})
}

func TestDevChainSpec(t *testing.T) {
	spec := DevChainSpec()
	require.NoError(t, spec.Validate())
	assert.Equal(t, DevChainName, spec.Name)
	assert.Equal(t, uint64(DevFinalityPeriod), spec.FinalityPeriod)
}

func TestLoadNodeConfig(t *testing.T) {
	t.Run("empty path gives defaults", func(t *testing.T) {
		cfg, err := LoadNodeConfig("")
		require.NoError(t, err)
		assert.Equal(t, DefaultNodeConfig(), cfg)
	})

	t.Run("sections override defaults", func(t *testing.T) {
		path := writeFile(t, "node.ini", `
[store]
cache_size = 16
sync_writes = false

[export]
compress = true

[log]
stderr = true
max_size_mb = 5
`)
		cfg, err := LoadNodeConfig(path)
		require.NoError(t, err)
		assert.Equal(t, 16, cfg.Store.CacheSize)
		assert.False(t, cfg.Store.SyncWrites)
		assert.True(t, cfg.Export.Compress)
		assert.Equal(t, uint64(DefaultProgressEvery), cfg.Export.ProgressEvery)
		assert.Equal(t, uint64(DefaultProgressEvery), cfg.Import.ProgressEvery)
		assert.True(t, cfg.Log.Stderr)
		assert.Equal(t, 5, cfg.Log.MaxSizeMB)
		assert.Equal(t, DefaultRedisAddress, cfg.Redis.Address)
	})

	t.Run("unreadable path errors", func(t *testing.T) {
		_, err := LoadNodeConfig(filepath.Join(t.TempDir(), "missing.ini"))
		require.Error(t, err)
	})
}
