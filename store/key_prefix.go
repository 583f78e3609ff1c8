package store

import (
	"encoding/binary"

	"github.com/mezonai/chaindb/block"
)

// Declare database key prefix for objects
const (
	PrefixBlockHeader = "blk_hdr:"
	PrefixBlockBody   = "blk_body:"
	PrefixBlockNumber = "blk_num:"
	PrefixOrphan      = "orphan:"

	MetaKeyChain = "meta:chain"
)

func headerKey(h block.Hash) []byte {
	return hashKey(PrefixBlockHeader, h)
}

func bodyKey(h block.Hash) []byte {
	return hashKey(PrefixBlockBody, h)
}

func hashKey(prefix string, h block.Hash) []byte {
	key := make([]byte, len(prefix)+block.HashSize)
	copy(key, prefix)
	copy(key[len(prefix):], h[:])
	return key
}

// numberKey maps a canonical number to its hash. Big-endian keeps iteration in
// chain order.
func numberKey(n uint64) []byte {
	key := make([]byte, len(PrefixBlockNumber)+8)
	copy(key, PrefixBlockNumber)
	binary.BigEndian.PutUint64(key[len(PrefixBlockNumber):], n)
	return key
}

func orphanKey(n uint64, h block.Hash) []byte {
	key := make([]byte, len(PrefixOrphan)+8+block.HashSize)
	copy(key, PrefixOrphan)
	binary.BigEndian.PutUint64(key[len(PrefixOrphan):], n)
	copy(key[len(PrefixOrphan)+8:], h[:])
	return key
}

func parseOrphanKey(key []byte) (uint64, block.Hash, bool) {
	var h block.Hash
	if len(key) != len(PrefixOrphan)+8+block.HashSize {
		return 0, h, false
	}
	rest := key[len(PrefixOrphan):]
	copy(h[:], rest[8:])
	return binary.BigEndian.Uint64(rest[:8]), h, true
}
