package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mezonai/chaindb/block"
	"github.com/mezonai/chaindb/codec"
	"github.com/mezonai/chaindb/db"
	"github.com/mezonai/chaindb/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testGenesis = block.Genesis([]byte("test genesis"))

func child(parent *block.Block, extrinsics ...string) *block.Block {
	var body [][]byte
	for _, xt := range extrinsics {
		body = append(body, []byte(xt))
	}
	header := []byte(fmt.Sprintf("header-%d", parent.Number+1))
	return block.Assemble(parent.Number+1, parent.Hash, header, body, nil)
}

func openMem(t *testing.T, policy RetentionPolicy, opts ...Option) *ChainStore {
	t.Helper()
	p, err := db.NewMemLevelDBProvider()
	require.NoError(t, err)
	s, err := OpenWithProvider(p, policy, testGenesis, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// extend appends n blocks on top of the best block and returns them.
func extend(t *testing.T, s *ChainStore, n int) []*block.Block {
	t.Helper()
	parent, err := s.Block(s.Head().BestNumber)
	require.NoError(t, err)
	out := make([]*block.Block, 0, n)
	for i := 0; i < n; i++ {
		b := child(parent, fmt.Sprintf("xt-%d-a", parent.Number+1), fmt.Sprintf("xt-%d-b", parent.Number+1))
		_, err := s.Append(b, false)
		require.NoError(t, err)
		out = append(out, b)
		parent = b
	}
	return out
}

func TestOpenInitializesGenesis(t *testing.T) {
	s := openMem(t, Archive)

	head := s.Head()
	assert.Equal(t, uint64(0), head.BestNumber)
	assert.Equal(t, testGenesis.Hash, head.BestHash)
	assert.Equal(t, uint64(0), head.FinalizedNumber)
	assert.Equal(t, testGenesis.Hash, head.FinalizedHash)
	assert.Equal(t, testGenesis.Hash, s.GenesisHash())
	assert.Equal(t, Archive, s.Policy())

	g, err := s.Block(0)
	require.NoError(t, err)
	assert.True(t, testGenesis.Equal(g))
}

func TestOpenRequiresGenesisForEmptyDatabase(t *testing.T) {
	p, err := db.NewMemLevelDBProvider()
	require.NoError(t, err)
	_, err = OpenWithProvider(p, Archive, nil)
	require.Error(t, err)
}

func TestAppendAndRead(t *testing.T) {
	s := openMem(t, Archive)
	blocks := extend(t, s, 5)

	head := s.Head()
	assert.Equal(t, uint64(5), head.BestNumber)
	assert.Equal(t, blocks[4].Hash, head.BestHash)
	assert.Equal(t, uint64(0), head.FinalizedNumber)

	for _, want := range blocks {
		got, err := s.Block(want.Number)
		require.NoError(t, err)
		assert.True(t, want.Equal(got), "block %d", want.Number)

		got, err = s.BlockByHash(want.Hash)
		require.NoError(t, err)
		assert.True(t, want.Equal(got))

		hdr, err := s.HeaderByNumber(want.Number)
		require.NoError(t, err)
		assert.Nil(t, hdr.Body)
		assert.Equal(t, want.Hash, hdr.Hash)

		h, err := s.CanonicalHash(want.Number)
		require.NoError(t, err)
		assert.Equal(t, want.Hash, h)
	}

	_, err := s.Block(6)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.BlockByHash(block.Hash{0xde, 0xad})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppendRejectsBrokenLinkage(t *testing.T) {
	s := openMem(t, Archive)
	blocks := extend(t, s, 2)

	t.Run("number gap", func(t *testing.T) {
		gap := block.Assemble(4, blocks[1].Hash, []byte("h"), nil, nil)
		_, err := s.Append(gap, false)
		assert.ErrorIs(t, err, ErrLinkageBroken)
	})

	t.Run("wrong parent", func(t *testing.T) {
		fork := child(blocks[0])
		fork = block.Assemble(3, fork.Hash, []byte("h"), nil, nil)
		_, err := s.Append(fork, false)
		assert.ErrorIs(t, err, ErrLinkageBroken)
	})

	t.Run("duplicate number", func(t *testing.T) {
		_, err := s.Append(blocks[1], false)
		assert.ErrorIs(t, err, ErrLinkageBroken)
	})

	t.Run("hash mismatch", func(t *testing.T) {
		bad := child(blocks[1], "x")
		bad.Body[0] = []byte("tampered")
		_, err := s.Append(bad, false)
		assert.ErrorIs(t, err, ErrInvalidBlock)
	})

	assert.Equal(t, blocks[1].Hash, s.Head().BestHash, "rejected blocks leave the head alone")
}

func TestAppendWithFinalize(t *testing.T) {
	s := openMem(t, Archive)
	b1 := child(testGenesis, "a")
	b1.Justification = []byte("proof")
	_, err := s.Append(b1, true)
	require.NoError(t, err)

	head := s.Head()
	assert.Equal(t, uint64(1), head.FinalizedNumber)
	assert.Equal(t, b1.Hash, head.FinalizedHash)

	got, err := s.Block(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("proof"), got.Justification)
}

func TestFinalize(t *testing.T) {
	s := openMem(t, Archive)
	blocks := extend(t, s, 4)

	require.NoError(t, s.Finalize(2))
	assert.Equal(t, uint64(2), s.Head().FinalizedNumber)
	assert.Equal(t, blocks[1].Hash, s.Head().FinalizedHash)

	require.NoError(t, s.Finalize(2), "finalizing the finalized block is a no-op")
	assert.ErrorIs(t, s.Finalize(1), ErrBelowFinalized)
	assert.ErrorIs(t, s.Finalize(9), ErrNotFound)
}

func TestPrunedPolicyDiscardsOldBodies(t *testing.T) {
	s := openMem(t, Pruned(2))

	var (
		total      int
		totalBytes uint64
		parent     = testGenesis
		blocks     []*block.Block
	)
	for i := 0; i < 6; i++ {
		b := child(parent, "xt")
		res, err := s.Append(b, false)
		require.NoError(t, err)
		total += res.Blocks
		totalBytes += res.Bytes
		blocks = append(blocks, b)
		parent = b
	}

	// best is 6, bodies of 0..3 are gone
	assert.Equal(t, 4, total)
	genesisBody := uint64(len(codec.EncodeBodyRecord(nil)))
	blockBody := uint64(len(codec.EncodeBodyRecord([][]byte{[]byte("xt")})))
	assert.Equal(t, genesisBody+3*blockBody, totalBytes)
	assert.Equal(t, uint64(4), s.Base())

	for n := uint64(0); n < 4; n++ {
		_, err := s.Block(n)
		assert.ErrorIs(t, err, ErrBodyPruned, "block %d", n)

		hdr, err := s.HeaderByNumber(n)
		require.NoError(t, err, "headers survive pruning")
		assert.Equal(t, n, hdr.Number)
	}
	for n := uint64(4); n <= 6; n++ {
		_, err := s.Block(n)
		assert.NoError(t, err, "block %d", n)
	}

	has, err := s.HasBody(blocks[2].Hash)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestSetHeadArchive(t *testing.T) {
	s := openMem(t, Archive)
	blocks := extend(t, s, 5)
	require.NoError(t, s.Finalize(2))

	res, err := s.SetHead(3, blocks[2].Hash, false)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Orphaned)
	assert.Equal(t, 0, res.Pruned.Blocks)

	head := s.Head()
	assert.Equal(t, uint64(3), head.BestNumber)
	assert.Equal(t, blocks[2].Hash, head.BestHash)
	assert.Equal(t, uint64(2), head.FinalizedNumber)

	_, err = s.Block(4)
	assert.ErrorIs(t, err, ErrNotFound)
	orphan, err := s.BlockByHash(blocks[4].Hash)
	require.NoError(t, err, "orphans stay readable by hash")
	assert.True(t, blocks[4].Equal(orphan))

	orphans, err := s.Orphans()
	require.NoError(t, err)
	require.Len(t, orphans, 2)
	assert.Equal(t, uint64(4), orphans[0].Number)
	assert.Equal(t, blocks[3].Hash, orphans[0].Hash)
	assert.Equal(t, uint64(5), orphans[1].Number)
	assert.WithinDuration(t, time.Now(), orphans[0].OrphanedAt, time.Minute)
	assert.Equal(t, 2, s.OrphanCount())
}

func TestSetHeadErrors(t *testing.T) {
	s := openMem(t, Archive)
	blocks := extend(t, s, 4)
	require.NoError(t, s.Finalize(2))

	_, err := s.SetHead(4, blocks[3].Hash, false)
	assert.ErrorIs(t, err, ErrNotAncestor)

	_, err = s.SetHead(3, blocks[1].Hash, false)
	assert.ErrorIs(t, err, ErrUnknownBlock)

	_, err = s.SetHead(1, blocks[0].Hash, false)
	assert.ErrorIs(t, err, ErrBelowFinalized)
	assert.Equal(t, uint64(4), s.Head().BestNumber)

	_, err = s.SetHead(1, blocks[0].Hash, true)
	require.NoError(t, err)
	head := s.Head()
	assert.Equal(t, uint64(1), head.BestNumber)
	assert.Equal(t, uint64(1), head.FinalizedNumber, "forced rewind lowers finality")
	assert.Equal(t, blocks[0].Hash, head.FinalizedHash)
}

func TestSetHeadPrunedDiscardsOrphanBodies(t *testing.T) {
	s := openMem(t, Pruned(10))
	blocks := extend(t, s, 5)

	res, err := s.SetHead(2, blocks[1].Hash, false)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Orphaned)
	assert.Equal(t, 3, res.Pruned.Blocks)

	_, err = s.BlockByHash(blocks[4].Hash)
	assert.ErrorIs(t, err, ErrBodyPruned)
	hdr, err := s.HeaderByHash(blocks[4].Hash)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), hdr.Number)
}

func TestSetHeadBelowBaseMovesBase(t *testing.T) {
	s := openMem(t, Pruned(1))
	blocks := extend(t, s, 6)
	require.Equal(t, uint64(5), s.Base())

	_, err := s.SetHead(3, blocks[2].Hash, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), s.Base())

	// the next block keeps its body and becomes the base
	_, err = s.Append(child(blocks[2], "again"), false)
	require.NoError(t, err)
	_, err = s.Block(4)
	assert.NoError(t, err)
}

func TestReappendOrphanAndPurge(t *testing.T) {
	s := openMem(t, Archive)
	blocks := extend(t, s, 4)

	_, err := s.SetHead(1, blocks[0].Hash, false)
	require.NoError(t, err)
	require.Equal(t, 3, s.OrphanCount())

	// replaying the old block 2 makes it canonical again
	_, err = s.Append(blocks[1], false)
	require.NoError(t, err)
	assert.Equal(t, 2, s.OrphanCount())

	orphans, err := s.Orphans()
	require.NoError(t, err)
	require.Len(t, orphans, 2)
	assert.Equal(t, uint64(3), orphans[0].Number)

	// fork on top of 2
	fork := child(blocks[1], "fork")
	_, err = s.Append(fork, false)
	require.NoError(t, err)

	purged, err := s.PurgeOrphans()
	require.NoError(t, err)
	assert.Equal(t, 2, purged)
	assert.Equal(t, 0, s.OrphanCount())

	_, err = s.BlockByHash(blocks[2].Hash)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.BlockByHash(blocks[3].Hash)
	assert.ErrorIs(t, err, ErrNotFound)
	got, err := s.Block(2)
	require.NoError(t, err)
	assert.Equal(t, blocks[1].Hash, got.Hash)

	purged, err = s.PurgeOrphans()
	require.NoError(t, err)
	assert.Equal(t, 0, purged)
}

func TestReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	open := func(policy RetentionPolicy, genesis *block.Block) (*ChainStore, error) {
		p, err := db.NewLevelDBProvider(dir, db.DefaultOptions())
		require.NoError(t, err)
		return OpenWithProvider(p, policy, genesis)
	}

	s, err := open(Pruned(3), testGenesis)
	require.NoError(t, err)
	blocks := extend(t, s, 7)
	require.NoError(t, s.Finalize(4))
	_, err = s.SetHead(6, blocks[5].Hash, false)
	require.NoError(t, err)
	want := s.Head()
	wantBase := s.Base()
	require.NoError(t, s.Close())

	t.Run("same policy", func(t *testing.T) {
		s, err := open(Pruned(3), nil)
		require.NoError(t, err)
		defer s.Close()
		assert.Equal(t, want, s.Head())
		assert.Equal(t, wantBase, s.Base())
		assert.Equal(t, 1, s.OrphanCount())
		assert.Equal(t, testGenesis.Hash, s.GenesisHash())
	})

	t.Run("policy mismatch", func(t *testing.T) {
		_, err := open(Archive, nil)
		assert.ErrorIs(t, err, ErrPolicyMismatch)
		_, err = open(Pruned(4), nil)
		assert.ErrorIs(t, err, ErrPolicyMismatch)
	})

	t.Run("genesis mismatch", func(t *testing.T) {
		_, err := open(Pruned(3), block.Genesis([]byte("other chain")))
		assert.ErrorIs(t, err, ErrGenesisMismatch)
	})
}

func TestOpenDetectsCorruption(t *testing.T) {
	cases := []struct {
		name   string
		damage func(t *testing.T, p db.IterableProvider, blocks []*block.Block)
	}{
		{"short metadata", func(t *testing.T, p db.IterableProvider, _ []*block.Block) {
			require.NoError(t, p.Put([]byte(MetaKeyChain), []byte{metaVersion, 0, 1}))
		}},
		{"missing metadata", func(t *testing.T, p db.IterableProvider, _ []*block.Block) {
			require.NoError(t, p.Delete([]byte(MetaKeyChain)))
		}},
		{"best header missing", func(t *testing.T, p db.IterableProvider, blocks []*block.Block) {
			require.NoError(t, p.Delete(headerKey(blocks[len(blocks)-1].Hash)))
		}},
		{"index disagrees with head", func(t *testing.T, p db.IterableProvider, blocks []*block.Block) {
			require.NoError(t, p.Put(numberKey(3), blocks[0].Hash[:]))
		}},
		{"index beyond best", func(t *testing.T, p db.IterableProvider, blocks []*block.Block) {
			require.NoError(t, p.Put(numberKey(4), blocks[0].Hash[:]))
		}},
		{"finalized above best", func(t *testing.T, p db.IterableProvider, blocks []*block.Block) {
			raw, err := p.Get([]byte(MetaKeyChain))
			require.NoError(t, err)
			meta, err := decodeChainMeta(raw)
			require.NoError(t, err)
			meta.head.FinalizedNumber = 9
			require.NoError(t, p.Put([]byte(MetaKeyChain), meta.encode()))
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "db")
			p, err := db.NewLevelDBProvider(dir, db.DefaultOptions())
			require.NoError(t, err)
			s, err := OpenWithProvider(p, Archive, testGenesis)
			require.NoError(t, err)
			blocks := extend(t, s, 3)
			require.NoError(t, s.Close())

			p, err = db.NewLevelDBProvider(dir, db.DefaultOptions())
			require.NoError(t, err)
			tc.damage(t, p, blocks)
			require.NoError(t, p.Close())

			p, err = db.NewLevelDBProvider(dir, db.DefaultOptions())
			require.NoError(t, err)
			_, err = OpenWithProvider(p, Archive, testGenesis)
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

var errInjected = errors.New("injected write failure")

// faultyProvider fails the failAt-th batch write, counting from one.
type faultyProvider struct {
	db.IterableProvider
	writes atomic.Int32
	failAt atomic.Int32
}

func (f *faultyProvider) Batch() db.DatabaseBatch {
	return &faultyBatch{DatabaseBatch: f.IterableProvider.Batch(), provider: f}
}

type faultyBatch struct {
	db.DatabaseBatch
	provider *faultyProvider
}

func (b *faultyBatch) Write() error {
	n := b.provider.writes.Add(1)
	if n == b.provider.failAt.Load() {
		return errInjected
	}
	return b.DatabaseBatch.Write()
}

func TestCrashBetweenStagingAndCommit(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	inner, err := db.NewLevelDBProvider(dir, db.DefaultOptions())
	require.NoError(t, err)
	faulty := &faultyProvider{IterableProvider: inner}

	s, err := OpenWithProvider(faulty, Archive, testGenesis)
	require.NoError(t, err)
	blocks := extend(t, s, 3)
	before := s.Head()

	// the append stages its records, then the commit batch fails
	faulty.failAt.Store(faulty.writes.Load() + 2)
	next := child(blocks[2], "lost")
	_, err = s.Append(next, true)
	require.ErrorIs(t, err, errInjected)
	assert.Equal(t, before, s.Head())

	// the same failure on a rewind
	faulty.failAt.Store(faulty.writes.Load() + 1)
	_, err = s.SetHead(1, blocks[0].Hash, false)
	require.ErrorIs(t, err, errInjected)
	assert.Equal(t, before, s.Head())
	require.NoError(t, s.Close())

	p, err := db.NewLevelDBProvider(dir, db.DefaultOptions())
	require.NoError(t, err)
	s, err = OpenWithProvider(p, Archive, testGenesis)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, before, s.Head())
	assert.Equal(t, 0, s.OrphanCount())
	_, err = s.Block(4)
	assert.ErrorIs(t, err, ErrNotFound)

	// the chain continues from the committed head
	_, err = s.Append(next, false)
	require.NoError(t, err)
	assert.Equal(t, next.Hash, s.Head().BestHash)
}

func TestCacheServesPrunedState(t *testing.T) {
	s := openMem(t, Pruned(0), WithCacheSize(16))
	blocks := extend(t, s, 1)

	// warm the cache, then prune block 1 by appending block 2
	_, err := s.Block(1)
	require.NoError(t, err)
	_, err = s.Append(child(blocks[0], "next"), false)
	require.NoError(t, err)

	_, err = s.Block(1)
	assert.ErrorIs(t, err, ErrBodyPruned)
	hdr, err := s.HeaderByNumber(1)
	require.NoError(t, err)
	assert.Equal(t, blocks[0].Hash, hdr.Hash)
}

func TestCommitEvents(t *testing.T) {
	bus := events.NewEventBus()
	_, ch := bus.Subscribe()
	s := openMem(t, Pruned(1), WithEventBus(bus))

	blocks := extend(t, s, 2)
	_, err := s.SetHead(1, blocks[0].Hash, false)
	require.NoError(t, err)

	var got []events.EventType
	for len(ch) > 0 {
		got = append(got, (<-ch).Type())
	}
	assert.Equal(t, []events.EventType{
		events.EventBlockAppended,
		events.EventBlockAppended,
		events.EventBodiesPruned,
		events.EventHeadRewound,
	}, got)
}

func TestConcurrentReadersSeeConsistentChain(t *testing.T) {
	s := openMem(t, Archive, WithCacheSize(32))

	const total = 200
	done := make(chan struct{})
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				head := s.Head()
				b, err := s.Block(head.BestNumber)
				if !assert.NoError(t, err) {
					return
				}
				assert.Equal(t, head.BestHash, b.Hash)
				if b.Number > 0 {
					parent, err := s.HeaderByNumber(b.Number - 1)
					if !assert.NoError(t, err) {
						return
					}
					assert.Equal(t, b.ParentHash, parent.Hash)
				}
			}
		}()
	}

	extend(t, s, total)
	close(done)
	wg.Wait()
	assert.Equal(t, uint64(total), s.Head().BestNumber)
}

func TestClosedStore(t *testing.T) {
	p, err := db.NewMemLevelDBProvider()
	require.NoError(t, err)
	s, err := OpenWithProvider(p, Archive, testGenesis)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Block(0)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Append(child(testGenesis), false)
	assert.ErrorIs(t, err, ErrClosed)
}

// readCountingProvider records how block records are read.
type readCountingProvider struct {
	db.IterableProvider
	mu         sync.Mutex
	bodyGets   int
	batchReads [][][]byte
}

func (p *readCountingProvider) Get(key []byte) ([]byte, error) {
	p.mu.Lock()
	if len(key) >= len(PrefixBlockBody) && string(key[:len(PrefixBlockBody)]) == PrefixBlockBody {
		p.bodyGets++
	}
	p.mu.Unlock()
	return p.IterableProvider.Get(key)
}

func (p *readCountingProvider) GetBatch(keys [][]byte) (map[string][]byte, error) {
	p.mu.Lock()
	p.batchReads = append(p.batchReads, keys)
	p.mu.Unlock()
	return p.IterableProvider.GetBatch(keys)
}

func TestGetReadsHeaderAndBodyTogether(t *testing.T) {
	inner, err := db.NewMemLevelDBProvider()
	require.NoError(t, err)
	p := &readCountingProvider{IterableProvider: inner}
	s, err := OpenWithProvider(p, Pruned(1), testGenesis)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	blocks := extend(t, s, 3)

	p.mu.Lock()
	p.bodyGets, p.batchReads = 0, nil
	p.mu.Unlock()

	got, err := s.Block(3)
	require.NoError(t, err)
	assert.True(t, blocks[2].Equal(got))

	_, err = s.Block(1)
	assert.ErrorIs(t, err, ErrBodyPruned)

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Zero(t, p.bodyGets)
	require.Len(t, p.batchReads, 2)
	assert.Equal(t, [][]byte{headerKey(blocks[2].Hash), bodyKey(blocks[2].Hash)}, p.batchReads[0])
	assert.Equal(t, [][]byte{headerKey(blocks[0].Hash), bodyKey(blocks[0].Hash)}, p.batchReads[1])
}

func TestRevertBy(t *testing.T) {
	s := openMem(t, Archive)
	blocks := extend(t, s, 10)
	require.NoError(t, s.Finalize(6))

	res, err := s.RevertBy(3, false, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), res.From)
	assert.Equal(t, uint64(7), res.To)
	assert.Equal(t, uint64(3), res.Reverted())
	assert.Equal(t, blocks[6].Hash, s.Head().BestHash)

	_, err = s.RevertBy(3, false, false)
	require.ErrorIs(t, err, ErrBelowFinalized)
	assert.Equal(t, uint64(7), s.Head().BestNumber)

	res, err = s.RevertBy(3, false, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), res.To)

	res, err = s.RevertBy(0, false, false)
	require.NoError(t, err)
	assert.Zero(t, res.Reverted())

	res, err = s.RevertBy(100, true, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), res.Reverted())
	assert.Equal(t, testGenesis.Hash, s.Head().FinalizedHash)
}
