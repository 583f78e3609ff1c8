package store

import (
	"fmt"

	"github.com/mezonai/chaindb/block"
	"github.com/mezonai/chaindb/db"
)

// PruneResult reports what a commit reclaimed.
type PruneResult struct {
	// Blocks is the number of body records deleted
	Blocks int `json:"blocks"`
	// Bytes is the encoded size of the deleted body records
	Bytes uint64 `json:"bytes"`
	// Base is the lowest canonical number that still has its body after the
	// commit
	Base uint64 `json:"base"`

	hashes []block.Hash
}

func (r *PruneResult) add(h block.Hash, size int) {
	r.Blocks++
	r.Bytes += uint64(size)
	r.hashes = append(r.hashes, h)
}

// stageCanonicalPrune queues deletion of the canonical bodies in [from, to)
// into batch. It reads the committed index, so it must run under the writer
// lock before the batch is written.
func (s *ChainStore) stageCanonicalPrune(batch db.DatabaseBatch, from, to uint64, res *PruneResult) error {
	for n := from; n < to; n++ {
		h, ok, err := s.readCanonicalHash(n)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: canonical index missing at %d below best", ErrCorrupt, n)
		}
		if err := s.stageBodyDelete(batch, h, res); err != nil {
			return err
		}
	}
	return nil
}

// stageBodyDelete queues deletion of one body record if it is still present.
func (s *ChainStore) stageBodyDelete(batch db.DatabaseBatch, h block.Hash, res *PruneResult) error {
	key := bodyKey(h)
	value, err := s.provider.Get(key)
	if err != nil {
		return fmt.Errorf("read body %s: %w", h.Short(), err)
	}
	if value == nil {
		return nil
	}
	batch.Delete(key)
	res.add(h, len(value))
	return nil
}
