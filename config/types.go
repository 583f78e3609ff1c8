package config

// ChainSpec describes the chain a node stores. It is loaded from YAML.
type ChainSpec struct {
	Name string `yaml:"name"`
	// GenesisHeader is stored verbatim as the header of block 0
	GenesisHeader string `yaml:"genesis_header"`
	// FinalityPeriod is the distance between blocks carrying a justification
	// when the dev author produces blocks
	FinalityPeriod  uint64 `yaml:"finality_period"`
	BlockIntervalMs int    `yaml:"block_interval_ms"`
}

// ChainSpecFile is the top-level structure of a chain spec file
type ChainSpecFile struct {
	Chain ChainSpec `yaml:"chain"`
}

type StoreConfig struct {
	CacheSize  int  `ini:"cache_size"`
	SyncWrites bool `ini:"sync_writes"`
}

type ImportConfig struct {
	ProgressEvery uint64 `ini:"progress_every"`
}

type ExportConfig struct {
	ProgressEvery uint64 `ini:"progress_every"`
	Compress      bool   `ini:"compress"`
}

type LogConfig struct {
	File       string `ini:"file"`
	MaxSizeMB  int    `ini:"max_size_mb"`
	MaxAgeDays int    `ini:"max_age_days"`
	Stderr     bool   `ini:"stderr"`
}

type RedisConfig struct {
	Address  string `ini:"address"`
	Database int    `ini:"database"`
}

// NodeConfig holds the tuning knobs read from the node INI file
type NodeConfig struct {
	Store  StoreConfig
	Import ImportConfig
	Export ExportConfig
	Log    LogConfig
	Redis  RedisConfig
}
