package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mezonai/chaindb/exporter"
	"github.com/mezonai/chaindb/jsonx"
	"github.com/mezonai/chaindb/store"
)

// resetFlags restores every flag to its default so commands can be executed
// repeatedly in one process.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

type statusDoc struct {
	Chain   string          `json:"chain"`
	Head    store.ChainHead `json:"head"`
	Policy  string          `json:"policy"`
	Base    uint64          `json:"base"`
	Orphans int             `json:"orphans"`

	OrphanList []store.Orphan `json:"orphan_list"`
}

func status(t *testing.T, base string, extra ...string) statusDoc {
	t.Helper()
	out, err := execute(t, append([]string{"status", "--dev", "-d", base}, extra...)...)
	require.NoError(t, err)
	var doc statusDoc
	require.NoError(t, jsonx.Unmarshal([]byte(out), &doc))
	return doc
}

func TestEndToEnd(t *testing.T) {
	base := t.TempDir()
	exportFile := filepath.Join(t.TempDir(), "chain.bin")

	out, err := execute(t, "run", "--dev", "-d", base, "--blocks", "20", "--interval", "1ms")
	require.NoError(t, err)
	assert.Contains(t, out, "Authored 20 blocks")

	authored := status(t, base)
	assert.Equal(t, "dev", authored.Chain)
	assert.Equal(t, "archive", authored.Policy)
	assert.Equal(t, uint64(20), authored.Head.BestNumber)
	assert.Equal(t, uint64(16), authored.Head.FinalizedNumber)

	out, err = execute(t, "export-blocks", "--dev", "-d", base, "--compress", exportFile)
	require.NoError(t, err)
	assert.Contains(t, out, "Exported 21 blocks")

	require.NoError(t, os.RemoveAll(filepath.Join(base, dbDirName)))

	out, err = execute(t, "import-blocks", "--dev", "-d", base, exportFile)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 20 blocks")
	assert.Equal(t, authored.Head, status(t, base).Head)

	// the default revert keeps finalized blocks
	out, err = execute(t, "revert", "--dev", "--pruning", "archive", "-d", base)
	require.NoError(t, err)
	assert.Contains(t, out, "Reverted 4 blocks (#20 -> #16)")
	reverted := status(t, base)
	assert.Equal(t, uint64(16), reverted.Head.BestNumber)
	assert.Equal(t, uint64(16), reverted.Head.FinalizedNumber)
	assert.Equal(t, 4, reverted.Orphans)

	out, err = execute(t, "status", "--dev", "-d", base, "--orphans")
	require.NoError(t, err)
	var listed statusDoc
	require.NoError(t, jsonx.Unmarshal([]byte(out), &listed))
	require.Len(t, listed.OrphanList, 4)
	assert.Equal(t, uint64(17), listed.OrphanList[0].Number)

	out, err = execute(t, "purge-orphans", "--dev", "-d", base)
	require.NoError(t, err)
	assert.Contains(t, out, "Purged 4 orphaned blocks")
	assert.Zero(t, status(t, base).Orphans)

	// the import file still replays on top of the reverted chain
	out, err = execute(t, "import-blocks", "--dev", "-d", base, exportFile)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 4 blocks")
	assert.Equal(t, authored.Head, status(t, base).Head)

	_, err = execute(t, "revert", "--dev", "-d", base, "3")
	require.NoError(t, err)
	assert.Equal(t, uint64(17), status(t, base).Head.BestNumber)

	_, err = execute(t, "revert", "--dev", "-d", base, "5")
	require.ErrorIs(t, err, store.ErrBelowFinalized)
	assert.Equal(t, uint64(17), status(t, base).Head.BestNumber)

	_, err = execute(t, "revert", "--dev", "-d", base, "5", "--clamp")
	require.NoError(t, err)
	assert.Equal(t, uint64(16), status(t, base).Head.BestNumber)
}

func TestExportRangeFlags(t *testing.T) {
	base := t.TempDir()
	exportFile := filepath.Join(t.TempDir(), "part.bin")

	_, err := execute(t, "run", "--dev", "-d", base, "--blocks", "6", "--interval", "1ms")
	require.NoError(t, err)

	out, err := execute(t, "export-blocks", "--dev", "-d", base, "--from", "2", "--to", "4", exportFile)
	require.NoError(t, err)
	assert.Contains(t, out, "Exported 3 blocks (#2..#4)")

	_, err = execute(t, "export-blocks", "--dev", "-d", base, "--from", "5", "--to", "9", exportFile)
	require.Error(t, err)
	_, statErr := os.Stat(exportFile)
	assert.True(t, os.IsNotExist(statErr), "a failed export leaves no file behind")
}

func TestPolicyIsFixedAtCreation(t *testing.T) {
	base := t.TempDir()

	_, err := execute(t, "run", "--dev", "-d", base, "--pruning", "pruned:4", "--blocks", "8", "--interval", "1ms")
	require.NoError(t, err)

	out, err := execute(t, "status", "--dev", "-d", base, "--pruning", "4")
	require.NoError(t, err)
	var doc statusDoc
	require.NoError(t, jsonx.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "pruned:4", doc.Policy)
	assert.Equal(t, uint64(4), doc.Base)

	_, err = execute(t, "status", "--dev", "-d", base)
	assert.ErrorIs(t, err, store.ErrPolicyMismatch)
}

func TestExportAfterRevertBelowBase(t *testing.T) {
	base := t.TempDir()
	exportFile := filepath.Join(t.TempDir(), "none.bin")

	_, err := execute(t, "run", "--dev", "-d", base, "--pruning", "2", "--blocks", "8", "--interval", "1ms")
	require.NoError(t, err)
	_, err = execute(t, "revert", "--dev", "-d", base, "--pruning", "2", "5", "--force")
	require.NoError(t, err)

	doc := status(t, base, "--pruning", "2")
	assert.Equal(t, uint64(3), doc.Head.BestNumber)
	assert.Equal(t, uint64(4), doc.Base, "no canonical block has a body left")

	_, err = execute(t, "export-blocks", "--dev", "-d", base, "--pruning", "2", exportFile)
	require.ErrorIs(t, err, exporter.ErrRangeUnavailable)
	_, statErr := os.Stat(exportFile)
	assert.True(t, os.IsNotExist(statErr))
}

func TestChainSelection(t *testing.T) {
	base := t.TempDir()

	_, err := execute(t, "status", "-d", base)
	assert.Error(t, err, "a chain must be selected")

	spec := filepath.Join(t.TempDir(), "chain.yml")
	require.NoError(t, os.WriteFile(spec, []byte("chain:\n  name: local\n  genesis_header: local genesis\n  finality_period: 3\n"), 0o644))

	_, err = execute(t, "status", "-d", base, "--dev", "--chain", spec)
	assert.Error(t, err)

	out, err := execute(t, "run", "-d", base, "--chain", spec, "--blocks", "7", "--interval", "1ms")
	require.NoError(t, err)
	assert.Contains(t, out, "finalized #6")

	_, err = execute(t, "status", "-d", base, "--dev")
	assert.ErrorIs(t, err, store.ErrGenesisMismatch, "the dev genesis differs from the stored one")
}
