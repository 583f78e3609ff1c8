package db

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

// BadgerProvider implements DatabaseProvider for BadgerDB. Batches are applied
// inside a single read-write transaction so they stay atomic.
type BadgerProvider struct {
	once sync.Once
	db   *badger.DB
}

// NewBadgerProvider opens or creates a BadgerDB database in directory
func NewBadgerProvider(directory string, opts Options) (IterableProvider, error) {
	badgerOpts := badger.DefaultOptions(directory).
		WithSyncWrites(opts.SyncWrites).
		WithCompression(options.Snappy).
		WithLogger(nil)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	return &BadgerProvider{db: db}, nil
}

// Get retrieves a value by key
func (p *BadgerProvider) Get(key []byte) ([]byte, error) {
	var value []byte
	err := p.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	return value, err
}

// GetBatch retrieves multiple values by keys in a single operation
func (p *BadgerProvider) GetBatch(keys [][]byte) (map[string][]byte, error) {
	result := make(map[string][]byte, len(keys))
	err := p.db.View(func(txn *badger.Txn) error {
		for _, key := range keys {
			item, err := txn.Get(key)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			result[string(key)] = value
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Put stores a key-value pair
func (p *BadgerProvider) Put(key, value []byte) error {
	return p.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// Delete removes a key-value pair
func (p *BadgerProvider) Delete(key []byte) error {
	return p.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// Has checks if a key exists
func (p *BadgerProvider) Has(key []byte) (bool, error) {
	err := p.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Close closes the database connection
func (p *BadgerProvider) Close() error {
	var err error
	p.once.Do(func() {
		err = p.db.Close()
	})
	return err
}

// Batch returns a new batch for atomic operations
func (p *BadgerProvider) Batch() DatabaseBatch {
	return &bufferedBatch{apply: p.apply}
}

func (p *BadgerProvider) apply(ops []batchOp) error {
	return p.db.Update(func(txn *badger.Txn) error {
		for _, op := range ops {
			var err error
			if op.delete {
				err = txn.Delete(op.key)
			} else {
				err = txn.Set(op.key, op.value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// IteratePrefix iterates over all key-value pairs with the given prefix
func (p *BadgerProvider) IteratePrefix(prefix []byte, callback func(key, value []byte) bool) error {
	return p.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if !callback(item.Key(), value) {
				break
			}
		}
		return nil
	})
}

type batchOp struct {
	key    []byte
	value  []byte
	delete bool
}

// bufferedBatch collects operations and hands them to a backend that applies
// them in one transaction.
type bufferedBatch struct {
	ops    []batchOp
	apply  func([]batchOp) error
	closed bool
}

func (b *bufferedBatch) Put(key, value []byte) {
	b.ops = append(b.ops, batchOp{
		key:   append([]byte(nil), key...),
		value: append([]byte(nil), value...),
	})
}

func (b *bufferedBatch) Delete(key []byte) {
	b.ops = append(b.ops, batchOp{key: append([]byte(nil), key...), delete: true})
}

func (b *bufferedBatch) Len() int {
	return len(b.ops)
}

func (b *bufferedBatch) Write() error {
	if b.closed {
		return ErrBatchClosed
	}
	if len(b.ops) == 0 {
		return nil
	}
	return b.apply(b.ops)
}

func (b *bufferedBatch) Reset() {
	b.ops = b.ops[:0]
}

func (b *bufferedBatch) Close() error {
	b.closed = true
	b.ops = nil
	return nil
}
