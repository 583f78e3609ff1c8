package cmd

import (
	"fmt"

	"github.com/mezonai/chaindb/block"
	"github.com/mezonai/chaindb/jsonx"
	"github.com/mezonai/chaindb/store"
	"github.com/spf13/cobra"
)

// Status is the JSON document printed by the status command.
type Status struct {
	Chain    string                `json:"chain"`
	Database store.StoreType       `json:"database"`
	Genesis  block.Hash            `json:"genesis"`
	Head     store.ChainHead       `json:"head"`
	Policy   store.RetentionPolicy `json:"policy"`
	Base     uint64                `json:"base"`
	Orphans  int                   `json:"orphans"`

	OrphanList []store.Orphan `json:"orphan_list,omitempty"`
}

var listOrphans bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the stored chain head as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := openNode(nodeFlags)
		if err != nil {
			return err
		}
		defer n.Close()

		st := Status{
			Chain:    n.spec.Name,
			Database: n.db,
			Genesis:  n.store.GenesisHash(),
			Head:     n.store.Head(),
			Policy:   n.store.Policy(),
			Base:     n.store.Base(),
			Orphans:  n.store.OrphanCount(),
		}
		if listOrphans {
			if st.OrphanList, err = n.store.Orphans(); err != nil {
				return err
			}
		}
		return jsonx.WriteIndented(cmd.OutOrStdout(), st)
	},
}

var purgeOrphansCmd = &cobra.Command{
	Use:   "purge-orphans",
	Short: "Delete blocks orphaned by earlier reverts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := openNode(nodeFlags)
		if err != nil {
			return err
		}
		defer n.Close()

		purged, err := n.store.PurgeOrphans()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Purged %d orphaned blocks\n", purged)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&listOrphans, "orphans", false, "Include every orphaned block in the output")
	rootCmd.AddCommand(purgeOrphansCmd)
}
