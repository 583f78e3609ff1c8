package store

import (
	"encoding/binary"
	"fmt"

	"github.com/mezonai/chaindb/block"
)

const metaVersion = 1

// ChainHead is the committed tip of the chain.
type ChainHead struct {
	BestNumber      uint64     `json:"best_number"`
	BestHash        block.Hash `json:"best_hash"`
	FinalizedNumber uint64     `json:"finalized_number"`
	FinalizedHash   block.Hash `json:"finalized_hash"`
}

// chainMeta is everything the commit batch persists under MetaKeyChain.
type chainMeta struct {
	head   ChainHead
	policy RetentionPolicy
	// base is the lowest canonical number that still has its body
	base uint64
}

const metaSize = 1 + 8 + block.HashSize + 8 + block.HashSize + policySize + 8

func (m *chainMeta) encode() []byte {
	out := make([]byte, 0, metaSize)
	out = append(out, metaVersion)
	out = binary.BigEndian.AppendUint64(out, m.head.BestNumber)
	out = append(out, m.head.BestHash[:]...)
	out = binary.BigEndian.AppendUint64(out, m.head.FinalizedNumber)
	out = append(out, m.head.FinalizedHash[:]...)
	out = m.policy.appendTo(out)
	return binary.BigEndian.AppendUint64(out, m.base)
}

func decodeChainMeta(buf []byte) (*chainMeta, error) {
	if len(buf) != metaSize {
		return nil, fmt.Errorf("%w: metadata record is %d bytes, want %d", ErrCorrupt, len(buf), metaSize)
	}
	if buf[0] != metaVersion {
		return nil, fmt.Errorf("%w: unknown metadata version %d", ErrCorrupt, buf[0])
	}
	m := &chainMeta{}
	off := 1
	m.head.BestNumber = binary.BigEndian.Uint64(buf[off:])
	off += 8
	copy(m.head.BestHash[:], buf[off:])
	off += block.HashSize
	m.head.FinalizedNumber = binary.BigEndian.Uint64(buf[off:])
	off += 8
	copy(m.head.FinalizedHash[:], buf[off:])
	off += block.HashSize

	policy, err := decodePolicy(buf[off:])
	if err != nil {
		return nil, err
	}
	m.policy = policy
	off += policySize
	m.base = binary.BigEndian.Uint64(buf[off:])
	return m, nil
}
