package cmd

import (
	"fmt"
	"strconv"

	"github.com/mezonai/chaindb/revert"
	"github.com/spf13/cobra"
)

const defaultRevertCount = 256

type revertFlags struct {
	Force bool
	Clamp bool
}

var revertOpts revertFlags

var revertCmd = &cobra.Command{
	Use:   "revert [N]",
	Short: "Remove the last N blocks from the canonical chain",
	Long: `Move the best block back by N blocks (default 256) in one atomic commit.
An explicit N reaching below the finalized block fails unless --clamp or
--force is given; without N the revert stops at the finalized block.
Examples:
  # Revert up to 256 blocks, keeping finalized ones
  chaindb revert --dev
  # Revert 10 blocks
  chaindb revert --dev 10
  # Revert as far as finality allows
  chaindb revert --dev 1000 --clamp
`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// without an explicit N the default count stops at the finalized block
		count, clamp := uint64(defaultRevertCount), true
		if len(args) == 1 {
			n, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid block count %q: %w", args[0], err)
			}
			count, clamp = n, revertOpts.Clamp
		}
		return revertBlocks(cmd, count, clamp)
	},
}

func init() {
	rootCmd.AddCommand(revertCmd)
	revertCmd.Flags().BoolVar(&revertOpts.Force, "force", false, "Allow reverting finalized blocks")
	revertCmd.Flags().BoolVar(&revertOpts.Clamp, "clamp", false, "Stop at the finalized block instead of failing (implied when N is omitted)")
}

func revertBlocks(cmd *cobra.Command, count uint64, clamp bool) error {
	n, err := openNode(nodeFlags)
	if err != nil {
		return err
	}
	defer n.Close()

	r := revert.NewReverter(n.store, revert.Options{
		Force:            revertOpts.Force,
		ClampToFinalized: clamp,
	})
	res, err := r.Run(count)
	if err != nil {
		return err
	}

	head := n.store.Head()
	fmt.Fprintf(cmd.OutOrStdout(), "Reverted %d blocks (#%d -> #%d); finalized #%d; orphaned %d; bodies discarded %d\n",
		res.Reverted, res.From, res.To, head.FinalizedNumber, res.Orphaned, res.Pruned.Blocks)
	return nil
}
