package db

import (
	"fmt"
	"time"

	"github.com/mezonai/chaindb/logx"
)

// DBTxManager stages a group of writes and commits them as one unit, so a
// crash never leaves half of a genesis write or orphan purge behind.
type DBTxManager struct {
	provider DatabaseProvider
}

func NewDBTxManager(provider DatabaseProvider) *DBTxManager {
	return &DBTxManager{provider: provider}
}

// WithBatch hands fn a fresh batch and commits it when fn succeeds. It
// returns the number of operations committed; nothing is written and the
// count is zero when fn or the commit fails.
func (tm *DBTxManager) WithBatch(fn func(batch DatabaseBatch) error) (int, error) {
	batch := tm.provider.Batch()
	defer func() {
		if err := batch.Close(); err != nil {
			logx.Error("DB", "Failed to release batch:", err)
		}
	}()

	if err := fn(batch); err != nil {
		batch.Reset()
		return 0, fmt.Errorf("staging batch: %w", err)
	}
	ops := batch.Len()
	if ops == 0 {
		return 0, nil
	}

	start := time.Now()
	if err := batch.Write(); err != nil {
		return 0, fmt.Errorf("commit %d ops: %w", ops, err)
	}
	logx.Debug("DB", fmt.Sprintf("Committed batch | ops=%d | took=%s", ops, time.Since(start)))
	return ops, nil
}
