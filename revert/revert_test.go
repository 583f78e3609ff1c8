package revert

import (
	"errors"
	"fmt"
	"testing"

	"github.com/mezonai/chaindb/block"
	"github.com/mezonai/chaindb/db"
	"github.com/mezonai/chaindb/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var genesis = block.Genesis([]byte("revert genesis"))

// buildStore appends n blocks and finalizes the one at finalized.
func buildStore(t *testing.T, policy store.RetentionPolicy, n, finalized uint64) (*store.ChainStore, []*block.Block) {
	t.Helper()
	p, err := db.NewMemLevelDBProvider()
	require.NoError(t, err)
	s, err := store.OpenWithProvider(p, policy, genesis)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	blocks := []*block.Block{genesis}
	parent := genesis
	for i := uint64(1); i <= n; i++ {
		b := block.Assemble(i, parent.Hash, []byte(fmt.Sprintf("hdr-%d", i)), [][]byte{[]byte("xt")}, nil)
		_, err := s.Append(b, false)
		require.NoError(t, err)
		blocks = append(blocks, b)
		parent = b
	}
	require.NoError(t, s.Finalize(finalized))
	return s, blocks
}

func TestRevert(t *testing.T) {
	s, blocks := buildStore(t, store.Archive, 10, 2)

	n, err := Revert(s, 3, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)

	head := s.Head()
	assert.Equal(t, uint64(7), head.BestNumber)
	assert.Equal(t, blocks[7].Hash, head.BestHash)
	assert.Equal(t, uint64(2), head.FinalizedNumber)
	assert.Equal(t, 3, s.OrphanCount())
}

func TestRevertZeroIsNoop(t *testing.T) {
	s, _ := buildStore(t, store.Archive, 4, 0)
	before := s.Head()

	n, err := Revert(s, 0, false)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, before, s.Head())
	assert.Zero(t, s.OrphanCount())
}

func TestRevertBelowFinalized(t *testing.T) {
	s, _ := buildStore(t, store.Archive, 10, 8)
	before := s.Head()

	r := NewReverter(s, Options{})
	assert.Equal(t, Idle, r.State())
	_, err := r.Run(5)
	require.ErrorIs(t, err, store.ErrBelowFinalized)
	assert.Equal(t, Aborted, r.State())
	assert.Error(t, r.Err())
	assert.Equal(t, before, s.Head(), "an aborted revert changes nothing")

	_, err = r.Run(1)
	assert.Error(t, err, "a reverter runs once")
}

func TestRevertClampToFinalized(t *testing.T) {
	s, blocks := buildStore(t, store.Archive, 10, 8)

	r := NewReverter(s, Options{ClampToFinalized: true})
	res, err := r.Run(5)
	require.NoError(t, err)
	assert.Equal(t, Committed, r.State())
	assert.Equal(t, uint64(2), res.Reverted)
	assert.Equal(t, uint64(10), res.From)
	assert.Equal(t, uint64(8), res.To)
	assert.Equal(t, blocks[8].Hash, s.Head().BestHash)
}

func TestRevertForceClampsAtGenesis(t *testing.T) {
	s, _ := buildStore(t, store.Archive, 10, 6)

	n, err := Revert(s, 100, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), n)

	head := s.Head()
	assert.Equal(t, uint64(0), head.BestNumber)
	assert.Equal(t, genesis.Hash, head.BestHash)
	assert.Equal(t, uint64(0), head.FinalizedNumber)
	assert.Equal(t, genesis.Hash, head.FinalizedHash)

	n, err = Revert(s, 1, true)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing left to revert at genesis")
}

func TestRevertCountAboveBestWithoutFinality(t *testing.T) {
	s, _ := buildStore(t, store.Archive, 5, 0)

	n, err := Revert(s, 256, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), n)
	assert.Equal(t, uint64(0), s.Head().BestNumber)
}

func TestRevertPrunedReportsDiscardedBodies(t *testing.T) {
	s, _ := buildStore(t, store.Pruned(100), 6, 0)

	res, err := NewReverter(s, Options{}).Run(4)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Orphaned)
	assert.Equal(t, 4, res.Pruned.Blocks)
}

// failingTarget rejects every revert.
type failingTarget struct {
	*store.ChainStore
}

func (f failingTarget) RevertBy(uint64, bool, bool) (*store.RevertResult, error) {
	return nil, errors.New("disk on fire")
}

func TestRevertStoreFailureAborts(t *testing.T) {
	s, _ := buildStore(t, store.Archive, 5, 0)
	before := s.Head()

	r := NewReverter(failingTarget{s}, Options{})
	_, err := r.Run(2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
	assert.Equal(t, Aborted, r.State())
	assert.Equal(t, before, s.Head())
}

// appendingTarget lets another writer extend the chain right after the
// reverter has looked at the head.
type appendingTarget struct {
	*store.ChainStore
	t     *testing.T
	extra int
}

func (a *appendingTarget) Head() store.ChainHead {
	head := a.ChainStore.Head()
	parent, err := a.ChainStore.Block(head.BestNumber)
	require.NoError(a.t, err)
	for i := 0; i < a.extra; i++ {
		b := block.Assemble(parent.Number+1, parent.Hash, []byte(fmt.Sprintf("late-%d", i)), nil, nil)
		_, err := a.ChainStore.Append(b, false)
		require.NoError(a.t, err)
		parent = b
	}
	return head
}

func TestRevertCountsFromCommittedHead(t *testing.T) {
	s, _ := buildStore(t, store.Archive, 10, 0)
	target := &appendingTarget{ChainStore: s, t: t, extra: 4}

	res, err := NewReverter(target, Options{}).Run(3)
	require.NoError(t, err)
	assert.Equal(t, uint64(14), res.From)
	assert.Equal(t, uint64(11), res.To)
	assert.Equal(t, uint64(3), res.Reverted)
	assert.Equal(t, 3, res.Orphaned)
	assert.Equal(t, uint64(11), s.Head().BestNumber)
}

func TestRevertWithConcurrentAppends(t *testing.T) {
	s, blocks := buildStore(t, store.Archive, 50, 0)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		parent := blocks[len(blocks)-1]
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			head := s.Head()
			if head.BestHash != parent.Hash {
				// a revert moved the tip; continue on top of it
				var err error
				if parent, err = s.Block(head.BestNumber); err != nil {
					return
				}
			}
			b := block.Assemble(parent.Number+1, parent.Hash, []byte(fmt.Sprintf("w-%d", i)), nil, nil)
			if _, err := s.Append(b, false); err == nil {
				parent = b
			}
		}
	}()

	for i := 0; i < 20; i++ {
		res, err := NewReverter(s, Options{}).Run(2)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), res.Reverted)
		assert.Equal(t, res.From-2, res.To)
		assert.Equal(t, 2, res.Orphaned)
	}
	close(stop)
	<-done
}
