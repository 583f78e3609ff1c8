package cmd

import (
	"bufio"
	"fmt"
	"os"

	"github.com/mezonai/chaindb/importer"
	"github.com/mezonai/chaindb/logx"
	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import-blocks <input-file>",
	Short: "Import blocks from an export file",
	Long: `Append the blocks of an export file to the store. Blocks already stored
are skipped, so an interrupted import can be resumed with the same file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return importBlocks(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}

func importBlocks(cmd *cobra.Command, path string) error {
	n, err := openNode(nodeFlags)
	if err != nil {
		return err
	}
	defer n.Close()

	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open import file: %w", err)
	}
	defer in.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	count, err := importer.Import(ctx, n.store, bufio.NewReaderSize(in, 1<<20), importer.Options{
		ProgressEvery: n.cfg.Import.ProgressEvery,
		Progress: func(p importer.Progress) {
			logx.Info("IMPORT", fmt.Sprintf("Import progress | block=%d | imported=%d | skipped=%d | bytes=%d | elapsed=%s",
				p.Current, p.Imported, p.Skipped, p.Bytes, p.Elapsed))
		},
	})
	if err != nil {
		return fmt.Errorf("imported %d blocks before failing: %w", count, err)
	}

	head := n.store.Head()
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d blocks; best #%d, finalized #%d\n",
		count, head.BestNumber, head.FinalizedNumber)
	return nil
}
