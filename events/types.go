package events

import (
	"time"

	"github.com/mezonai/chaindb/block"
)

// EventType is an enum-like string type for chain events
type EventType string

const (
	EventBlockAppended  EventType = "BlockAppended"
	EventBlockFinalized EventType = "BlockFinalized"
	EventHeadRewound    EventType = "HeadRewound"
	EventBodiesPruned   EventType = "BodiesPruned"
	EventOrphansPurged  EventType = "OrphansPurged"
)

// ChainEvent is published by the block store after a commit succeeds
type ChainEvent interface {
	Type() EventType
	Timestamp() time.Time
	// BlockNumber is the canonical number the event refers to
	BlockNumber() uint64
}

// BlockAppended event when a block becomes the new best block
type BlockAppended struct {
	number    uint64
	hash      block.Hash
	finalized bool
	timestamp time.Time
}

func NewBlockAppended(number uint64, hash block.Hash, finalized bool) *BlockAppended {
	return &BlockAppended{
		number:    number,
		hash:      hash,
		finalized: finalized,
		timestamp: time.Now(),
	}
}

func (e *BlockAppended) Type() EventType {
	return EventBlockAppended
}

func (e *BlockAppended) Timestamp() time.Time {
	return e.timestamp
}

func (e *BlockAppended) BlockNumber() uint64 {
	return e.number
}

func (e *BlockAppended) BlockHash() block.Hash {
	return e.hash
}

func (e *BlockAppended) Finalized() bool {
	return e.finalized
}

// BlockFinalized event when finality advances without a new block
type BlockFinalized struct {
	number    uint64
	hash      block.Hash
	timestamp time.Time
}

func NewBlockFinalized(number uint64, hash block.Hash) *BlockFinalized {
	return &BlockFinalized{
		number:    number,
		hash:      hash,
		timestamp: time.Now(),
	}
}

func (e *BlockFinalized) Type() EventType {
	return EventBlockFinalized
}

func (e *BlockFinalized) Timestamp() time.Time {
	return e.timestamp
}

func (e *BlockFinalized) BlockNumber() uint64 {
	return e.number
}

func (e *BlockFinalized) BlockHash() block.Hash {
	return e.hash
}

// HeadRewound event when set_head moves the best block backwards
type HeadRewound struct {
	from      uint64
	to        uint64
	hash      block.Hash
	orphaned  int
	timestamp time.Time
}

func NewHeadRewound(from, to uint64, hash block.Hash, orphaned int) *HeadRewound {
	return &HeadRewound{
		from:      from,
		to:        to,
		hash:      hash,
		orphaned:  orphaned,
		timestamp: time.Now(),
	}
}

func (e *HeadRewound) Type() EventType {
	return EventHeadRewound
}

func (e *HeadRewound) Timestamp() time.Time {
	return e.timestamp
}

func (e *HeadRewound) BlockNumber() uint64 {
	return e.to
}

func (e *HeadRewound) From() uint64 {
	return e.from
}

func (e *HeadRewound) BlockHash() block.Hash {
	return e.hash
}

func (e *HeadRewound) Orphaned() int {
	return e.orphaned
}

// BodiesPruned event when a commit discarded canonical bodies
type BodiesPruned struct {
	base      uint64
	blocks    int
	bytes     uint64
	timestamp time.Time
}

func NewBodiesPruned(base uint64, blocks int, bytes uint64) *BodiesPruned {
	return &BodiesPruned{
		base:      base,
		blocks:    blocks,
		bytes:     bytes,
		timestamp: time.Now(),
	}
}

func (e *BodiesPruned) Type() EventType {
	return EventBodiesPruned
}

func (e *BodiesPruned) Timestamp() time.Time {
	return e.timestamp
}

// BlockNumber is the new base: the lowest canonical block that keeps its body
func (e *BodiesPruned) BlockNumber() uint64 {
	return e.base
}

func (e *BodiesPruned) Blocks() int {
	return e.blocks
}

func (e *BodiesPruned) Bytes() uint64 {
	return e.bytes
}

// OrphansPurged event when orphaned block records were deleted
type OrphansPurged struct {
	best      uint64
	count     int
	timestamp time.Time
}

func NewOrphansPurged(best uint64, count int) *OrphansPurged {
	return &OrphansPurged{
		best:      best,
		count:     count,
		timestamp: time.Now(),
	}
}

func (e *OrphansPurged) Type() EventType {
	return EventOrphansPurged
}

func (e *OrphansPurged) Timestamp() time.Time {
	return e.timestamp
}

func (e *OrphansPurged) BlockNumber() uint64 {
	return e.best
}

func (e *OrphansPurged) Count() int {
	return e.count
}
