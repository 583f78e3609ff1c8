package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/mezonai/chaindb/logx"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

var ErrInvalidChainSpec = errors.New("invalid chain spec")

// DevChainSpec is the built-in spec selected by --dev
func DevChainSpec() *ChainSpec {
	return &ChainSpec{
		Name:            DevChainName,
		GenesisHeader:   DevGenesisHeader,
		FinalityPeriod:  DevFinalityPeriod,
		BlockIntervalMs: DevBlockIntervalMs,
	}
}

// LoadChainSpec reads and parses a chain spec YAML file
func LoadChainSpec(path string) (*ChainSpec, error) {
	logx.Info("CONFIG", "Loading chain spec from ", path)
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var specFile ChainSpecFile
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&specFile); err != nil {
		return nil, fmt.Errorf("decode chain spec %s: %w", path, err)
	}

	spec := &specFile.Chain
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	logx.Info("CONFIG", fmt.Sprintf("Loaded chain spec | name=%s | finality_period=%d | block_interval_ms=%d",
		spec.Name, spec.FinalityPeriod, spec.BlockIntervalMs))
	return spec, nil
}

// Validate fills unset timing fields with dev defaults and rejects specs that
// cannot produce a genesis block.
func (c *ChainSpec) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidChainSpec)
	}
	if c.GenesisHeader == "" {
		return fmt.Errorf("%w: genesis_header is required", ErrInvalidChainSpec)
	}
	if c.BlockIntervalMs < 0 {
		return fmt.Errorf("%w: block_interval_ms must not be negative", ErrInvalidChainSpec)
	}
	if c.FinalityPeriod == 0 {
		c.FinalityPeriod = DevFinalityPeriod
	}
	if c.BlockIntervalMs == 0 {
		c.BlockIntervalMs = DevBlockIntervalMs
	}
	return nil
}

// DefaultNodeConfig is used when no INI file is given
func DefaultNodeConfig() *NodeConfig {
	return &NodeConfig{
		Store: StoreConfig{
			CacheSize:  DefaultCacheSize,
			SyncWrites: true,
		},
		Import: ImportConfig{ProgressEvery: DefaultProgressEvery},
		Export: ExportConfig{ProgressEvery: DefaultProgressEvery},
		Redis:  RedisConfig{Address: DefaultRedisAddress},
	}
}

// LoadNodeConfig reads node tuning from an .ini file. An empty path returns
// the defaults; sections absent from the file keep theirs.
func LoadNodeConfig(path string) (*NodeConfig, error) {
	nodeCfg := DefaultNodeConfig()
	if path == "" {
		return nodeCfg, nil
	}

	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load node config %s: %w", path, err)
	}

	sections := []struct {
		name   string
		target interface{}
	}{
		{"store", &nodeCfg.Store},
		{"import", &nodeCfg.Import},
		{"export", &nodeCfg.Export},
		{"log", &nodeCfg.Log},
		{"redis", &nodeCfg.Redis},
	}
	for _, s := range sections {
		if !cfg.HasSection(s.name) {
			continue
		}
		if err := cfg.Section(s.name).MapTo(s.target); err != nil {
			return nil, fmt.Errorf("section [%s]: %w", s.name, err)
		}
	}
	return nodeCfg, nil
}
