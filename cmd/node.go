package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mezonai/chaindb/block"
	"github.com/mezonai/chaindb/config"
	"github.com/mezonai/chaindb/events"
	"github.com/mezonai/chaindb/logx"
	"github.com/mezonai/chaindb/store"
)

const (
	dbDirName   = "db"
	logsDirName = "logs"
	logFileName = "chaindb.log"
)

// node is an opened block store plus the configuration it was opened with.
type node struct {
	cfg   *config.NodeConfig
	spec  *config.ChainSpec
	store *store.ChainStore
	bus   *events.EventBus
	db    store.StoreType
}

func loadChainSpec(f NodeFlags) (*config.ChainSpec, error) {
	switch {
	case f.Chain != "" && f.Dev:
		return nil, fmt.Errorf("--chain and --dev are mutually exclusive")
	case f.Chain != "":
		return config.LoadChainSpec(f.Chain)
	case f.Dev:
		return config.DevChainSpec(), nil
	default:
		return nil, fmt.Errorf("no chain selected: pass --chain <spec.yml> or --dev")
	}
}

// initLogger points the package logger at <base-path>/logs unless the node
// config names a file.
func initLogger(f NodeFlags, cfg *config.NodeConfig) {
	logCfg := logx.LogConfig{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Stderr:     cfg.Log.Stderr,
	}
	if logCfg.File == "" {
		logCfg.File = filepath.Join(f.BasePath, logsDirName, logFileName)
	}
	logx.Init(logCfg)
}

// openNode loads configuration and opens the block store selected by f.
func openNode(f NodeFlags) (*node, error) {
	cfg, err := config.LoadNodeConfig(f.ConfigPath)
	if err != nil {
		return nil, err
	}
	initLogger(f, cfg)

	spec, err := loadChainSpec(f)
	if err != nil {
		return nil, err
	}
	policy, err := store.ParsePolicy(f.Pruning)
	if err != nil {
		return nil, err
	}

	dbType := store.StoreType(f.Database)
	dbDir := filepath.Join(f.BasePath, dbDirName)
	if dbType != store.RedisStoreType {
		if err := os.MkdirAll(dbDir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	bus := events.NewEventBus()
	s, err := store.Open(&store.StoreConfig{
		Type:         dbType,
		Directory:    dbDir,
		RedisAddress: cfg.Redis.Address,
		RedisDB:      cfg.Redis.Database,
		Policy:       policy,
		CacheSize:    cfg.Store.CacheSize,
		SyncWrites:   cfg.Store.SyncWrites,
		Genesis:      block.Genesis([]byte(spec.GenesisHeader)),
	}, bus)
	if err != nil {
		return nil, fmt.Errorf("open block store: %w", err)
	}

	head := s.Head()
	logx.Info("NODE", fmt.Sprintf("Opened block store | chain=%s | db=%s | policy=%s | best=%d | finalized=%d",
		spec.Name, dbType, policy, head.BestNumber, head.FinalizedNumber))
	return &node{cfg: cfg, spec: spec, store: s, bus: bus, db: dbType}, nil
}

func (n *node) Close() {
	if err := n.store.Close(); err != nil {
		logx.Error("NODE", "Failed to close block store: ", err)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
