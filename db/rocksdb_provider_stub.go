//go:build !rocksdb
// +build !rocksdb

package db

import "errors"

// ErrRocksDBUnavailable is returned when the binary was built without the rocksdb tag.
var ErrRocksDBUnavailable = errors.New("RocksDB support not compiled in. Build with -tags rocksdb to enable RocksDB support")

// NewRocksDBProvider creates a stub that returns an error when rocksdb is not available
func NewRocksDBProvider(directory string, opts Options) (IterableProvider, error) {
	return nil, ErrRocksDBUnavailable
}
