package db

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
)

// PebbleProvider implements DatabaseProvider for Pebble
type PebbleProvider struct {
	once sync.Once
	db   *pebble.DB
	wo   *pebble.WriteOptions
}

// NewPebbleProvider opens or creates a Pebble database in directory
func NewPebbleProvider(directory string, opts Options) (IterableProvider, error) {
	db, err := pebble.Open(directory, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open Pebble: %w", err)
	}

	wo := pebble.NoSync
	if opts.SyncWrites {
		wo = pebble.Sync
	}
	return &PebbleProvider{db: db, wo: wo}, nil
}

// Get retrieves a value by key
func (p *PebbleProvider) Get(key []byte) ([]byte, error) {
	value, closer, err := p.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	defer closer.Close()

	// the returned slice is only valid until closer.Close
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// GetBatch retrieves multiple values by keys in a single operation
func (p *PebbleProvider) GetBatch(keys [][]byte) (map[string][]byte, error) {
	snap := p.db.NewSnapshot()
	defer snap.Close()

	result := make(map[string][]byte, len(keys))
	for _, key := range keys {
		value, closer, err := snap.Get(key)
		if err != nil {
			if errors.Is(err, pebble.ErrNotFound) {
				continue
			}
			return nil, err
		}
		result[string(key)] = append([]byte(nil), value...)
		closer.Close()
	}
	return result, nil
}

// Put stores a key-value pair
func (p *PebbleProvider) Put(key, value []byte) error {
	return p.db.Set(key, value, p.wo)
}

// Delete removes a key-value pair
func (p *PebbleProvider) Delete(key []byte) error {
	return p.db.Delete(key, p.wo)
}

// Has checks if a key exists
func (p *PebbleProvider) Has(key []byte) (bool, error) {
	_, closer, err := p.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	closer.Close()
	return true, nil
}

// Close closes the database connection
func (p *PebbleProvider) Close() error {
	var err error
	p.once.Do(func() {
		err = p.db.Close()
	})
	return err
}

// Batch returns a new batch for atomic operations
func (p *PebbleProvider) Batch() DatabaseBatch {
	return &PebbleBatch{batch: p.db.NewBatch(), provider: p}
}

// IteratePrefix iterates over all key-value pairs with the given prefix
func (p *PebbleProvider) IteratePrefix(prefix []byte, callback func(key, value []byte) bool) error {
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}

	for valid := iter.First(); valid; valid = iter.Next() {
		if !callback(iter.Key(), iter.Value()) {
			break
		}
	}
	if err := iter.Error(); err != nil {
		iter.Close()
		return err
	}
	return iter.Close()
}

// PebbleBatch implements DatabaseBatch for Pebble
type PebbleBatch struct {
	batch    *pebble.Batch
	provider *PebbleProvider
	closed   bool
}

// Put adds a key-value pair to the batch
func (b *PebbleBatch) Put(key, value []byte) {
	_ = b.batch.Set(key, value, nil)
}

// Delete adds a deletion to the batch
func (b *PebbleBatch) Delete(key []byte) {
	_ = b.batch.Delete(key, nil)
}

func (b *PebbleBatch) Len() int {
	return int(b.batch.Count())
}

// Write commits all operations in the batch
func (b *PebbleBatch) Write() error {
	if b.closed {
		return ErrBatchClosed
	}
	return b.batch.Commit(b.provider.wo)
}

// Reset clears the batch
func (b *PebbleBatch) Reset() {
	b.batch.Reset()
}

// Close releases batch resources
func (b *PebbleBatch) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	return b.batch.Close()
}
