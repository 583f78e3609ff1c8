package store

import (
	"sync"

	"github.com/bluele/gcache"
	"github.com/mezonai/chaindb/block"
	"github.com/mezonai/chaindb/logx"
)

// blockCache keeps recently decoded full blocks by hash. Only blocks whose
// body was present at read time are cached; commits that discard bodies or
// records bump the generation so a read racing with them cannot re-insert a
// stale entry.
type blockCache struct {
	mu         sync.Mutex
	cache      gcache.Cache
	generation uint64
}

func newBlockCache(size int) *blockCache {
	if size <= 0 {
		return nil
	}
	logx.Debug("BLOCKSTORE", "create block cache size: ", size)
	return &blockCache{cache: gcache.New(size).LRU().Build()}
}

func (bc *blockCache) get(h block.Hash) *block.Block {
	if bc == nil {
		return nil
	}
	v, err := bc.cache.Get(h)
	if err != nil {
		return nil
	}
	return v.(*block.Block)
}

// snapshot returns the generation a reader must present to put.
func (bc *blockCache) snapshot() uint64 {
	if bc == nil {
		return 0
	}
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.generation
}

func (bc *blockCache) put(gen uint64, b *block.Block) {
	if bc == nil {
		return
	}
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if gen != bc.generation {
		return
	}
	_ = bc.cache.Set(b.Hash, b)
}

func (bc *blockCache) invalidate(hashes []block.Hash) {
	if bc == nil || len(hashes) == 0 {
		return
	}
	bc.mu.Lock()
	defer bc.mu.Unlock()
	bc.generation++
	for _, h := range hashes {
		bc.cache.Remove(h)
	}
}

func (bc *blockCache) purge() {
	if bc == nil {
		return
	}
	bc.mu.Lock()
	defer bc.mu.Unlock()
	bc.generation++
	bc.cache.Purge()
}
