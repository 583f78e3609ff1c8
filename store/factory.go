package store

import (
	"fmt"

	"github.com/mezonai/chaindb/block"
	"github.com/mezonai/chaindb/db"
	"github.com/mezonai/chaindb/events"
)

// StoreType represents the type of store implementation
type StoreType string

const (
	// LevelDBStoreType uses the LevelDB implementation
	LevelDBStoreType StoreType = "leveldb"

	PebbleStoreType StoreType = "pebble"

	BadgerStoreType StoreType = "badger"

	BoltStoreType StoreType = "bolt"

	// RocksDBStoreType needs a binary built with the rocksdb tag
	RocksDBStoreType StoreType = "rocksdb"

	// RedisStoreType is meant for debugging
	RedisStoreType StoreType = "redis"
)

// StoreConfig holds configuration for creating store instances
type StoreConfig struct {
	// Type specifies which store implementation to use
	Type StoreType `json:"type" yaml:"type"`

	// Directory is the database directory path (for file-based databases)
	Directory string `json:"directory" yaml:"directory"`

	// RedisAddress and RedisDB select the server for RedisStoreType
	RedisAddress string `json:"redis_address" yaml:"redis_address"`
	RedisDB      int    `json:"redis_db" yaml:"redis_db"`

	Policy     RetentionPolicy `json:"policy" yaml:"-"`
	CacheSize  int             `json:"cache_size" yaml:"cache_size"`
	SyncWrites bool            `json:"sync_writes" yaml:"sync_writes"`

	// Genesis is stored when the database is empty and compared otherwise
	Genesis *block.Block `json:"-" yaml:"-"`
}

// Validate validates the store configuration
func (sc *StoreConfig) Validate() error {
	if sc.Type == "" {
		return fmt.Errorf("store type cannot be empty")
	}

	switch sc.Type {
	case LevelDBStoreType, PebbleStoreType, BadgerStoreType, BoltStoreType, RocksDBStoreType:
		if sc.Directory == "" {
			return fmt.Errorf("directory cannot be empty")
		}
	case RedisStoreType:
		if sc.RedisAddress == "" {
			return fmt.Errorf("redis address cannot be empty")
		}
	default:
		return fmt.Errorf("unsupported store type: %s", sc.Type)
	}

	if sc.CacheSize < 0 {
		return fmt.Errorf("cache size cannot be negative")
	}
	return nil
}

// StoreFactory take responsibility to create store instances
type StoreFactory struct{}

// NewStoreFactory creates a new store factory
func NewStoreFactory() *StoreFactory {
	return &StoreFactory{}
}

// CreateProvider creates a database provider based on the configuration
func (sf *StoreFactory) CreateProvider(config *StoreConfig) (db.IterableProvider, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	opts := db.Options{SyncWrites: config.SyncWrites}
	switch config.Type {
	case LevelDBStoreType:
		return db.NewLevelDBProvider(config.Directory, opts)

	case PebbleStoreType:
		return db.NewPebbleProvider(config.Directory, opts)

	case BadgerStoreType:
		return db.NewBadgerProvider(config.Directory, opts)

	case BoltStoreType:
		return db.NewBoltProvider(config.Directory, opts)

	case RocksDBStoreType:
		return db.NewRocksDBProvider(config.Directory, opts)

	case RedisStoreType:
		return db.NewRedisProvider(config.RedisAddress, config.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported store type: %s", config.Type)
	}
}

// OpenChainStore opens the provider described by config and the chain store
// on top of it.
func (sf *StoreFactory) OpenChainStore(config *StoreConfig, bus *events.EventBus) (*ChainStore, error) {
	provider, err := sf.CreateProvider(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}
	return OpenWithProvider(provider, config.Policy, config.Genesis,
		WithCacheSize(config.CacheSize),
		WithEventBus(bus),
	)
}

// Global factory instance
var globalFactory = NewStoreFactory()

// Open creates the chain store using the global factory
func Open(config *StoreConfig, bus *events.EventBus) (*ChainStore, error) {
	return globalFactory.OpenChainStore(config, bus)
}
