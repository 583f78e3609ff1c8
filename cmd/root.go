package cmd

import (
	"fmt"
	"os"

	"github.com/mezonai/chaindb/logx"
	"github.com/spf13/cobra"
)

// NodeFlags are shared by every subcommand.
type NodeFlags struct {
	BasePath   string
	Pruning    string
	Dev        bool
	Chain      string
	Database   string
	ConfigPath string
}

var nodeFlags NodeFlags

var rootCmd = &cobra.Command{
	Use:   "chaindb",
	Short: "Block persistence and lifecycle tool",
	Long: `Command line interface for the chaindb block store: export, import and
revert blocks, author dev blocks and inspect the stored chain.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&nodeFlags.BasePath, "base-path", "d", "./node-data", "Node data directory; the database lives in <base-path>/db")
	pf.StringVar(&nodeFlags.Pruning, "pruning", "archive", "Retention policy: archive, pruned:N or N")
	pf.BoolVar(&nodeFlags.Dev, "dev", false, "Use the built-in dev chain spec")
	pf.StringVar(&nodeFlags.Chain, "chain", "", "Path to a chain spec YAML file")
	pf.StringVar(&nodeFlags.Database, "db", "leveldb", "Database backend: leveldb, pebble, badger, bolt, redis or rocksdb")
	pf.StringVar(&nodeFlags.ConfigPath, "config", "", "Path to a node config INI file")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		logx.Error("CMD", "Command execution failed: ", err)
		os.Exit(1)
	}
}
