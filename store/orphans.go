package store

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/mezonai/chaindb/block"
	"github.com/mezonai/chaindb/db"
	"github.com/mezonai/chaindb/logx"
	"github.com/mezonai/chaindb/monitoring"
)

// Orphan is a stored block that a rewind displaced from the canonical chain.
type Orphan struct {
	Number     uint64     `json:"number"`
	Hash       block.Hash `json:"hash"`
	OrphanedAt time.Time  `json:"orphaned_at"`
}

func orphanValue(t time.Time) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(t.UnixNano()))
}

// Orphans lists orphaned blocks in ascending number order.
func (s *ChainStore) Orphans() ([]Orphan, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var (
		out     []Orphan
		scanErr error
	)
	err := s.provider.IteratePrefix([]byte(PrefixOrphan), func(key, value []byte) bool {
		n, h, ok := parseOrphanKey(key)
		if !ok || len(value) != 8 {
			scanErr = fmt.Errorf("%w: malformed orphan marker", ErrCorrupt)
			return false
		}
		out = append(out, Orphan{
			Number:     n,
			Hash:       h,
			OrphanedAt: time.Unix(0, int64(binary.BigEndian.Uint64(value))),
		})
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("scan orphans: %w", err)
	}
	if scanErr != nil {
		return nil, scanErr
	}
	return out, nil
}

// OrphanCount is the number of orphan markers currently stored.
func (s *ChainStore) OrphanCount() int {
	s.headMu.RLock()
	defer s.headMu.RUnlock()
	return s.orphans
}

// PurgeOrphans deletes every orphaned block record in one commit and returns
// how many blocks were removed.
func (s *ChainStore) PurgeOrphans() (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed.Load() {
		return 0, ErrClosed
	}
	start := time.Now()

	orphans, err := s.Orphans()
	if err != nil {
		return 0, err
	}
	if len(orphans) == 0 {
		return 0, nil
	}

	var hashes []block.Hash
	ops, err := s.txm.WithBatch(func(batch db.DatabaseBatch) error {
		for _, o := range orphans {
			batch.Delete(orphanKey(o.Number, o.Hash))

			canonical, ok, err := s.readCanonicalHash(o.Number)
			if err != nil {
				return err
			}
			if ok && canonical == o.Hash {
				// marker left behind for a block that is canonical again
				continue
			}
			batch.Delete(headerKey(o.Hash))
			batch.Delete(bodyKey(o.Hash))
			hashes = append(hashes, o.Hash)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("orphan purge: %w", err)
	}

	s.headMu.Lock()
	s.orphans = 0
	best := s.head.BestNumber
	s.headMu.Unlock()

	s.cache.invalidate(hashes)
	monitoring.RecordCommit(monitoring.CommitPurge, time.Since(start))
	monitoring.SetOrphanCount(0)
	s.router.PublishOrphansPurged(best, len(hashes))
	logx.Info("BLOCKSTORE", fmt.Sprintf("Purged orphans | blocks=%d | markers=%d | ops=%d", len(hashes), len(orphans), ops))
	return len(hashes), nil
}
