// Package authoring produces dev blocks on top of the block store.
package authoring

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mezonai/chaindb/block"
	"github.com/mezonai/chaindb/config"
	"github.com/mezonai/chaindb/exception"
	"github.com/mezonai/chaindb/logx"
	"github.com/mezonai/chaindb/store"
)

const maxExtrinsics = 3

// Store is the part of the block store an author writes to.
type Store interface {
	Head() store.ChainHead
	Append(b *block.Block, finalize bool) (*store.PruneResult, error)
}

type Author struct {
	store Store
	spec  *config.ChainSpec

	// Interval between produced blocks in Run
	Interval time.Duration

	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

func NewAuthor(s Store, spec *config.ChainSpec) *Author {
	return &Author{
		store:    s,
		spec:     spec,
		Interval: time.Duration(spec.BlockIntervalMs) * time.Millisecond,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
	}
}

func (a *Author) header() []byte {
	out := make([]byte, 8, 8+len(a.spec.Name))
	binary.BigEndian.PutUint64(out, uint64(a.now().UnixNano()))
	return append(out, a.spec.Name...)
}

func (a *Author) body() [][]byte {
	n := a.rng.Intn(maxExtrinsics + 1)
	if n == 0 {
		return nil
	}
	body := make([][]byte, n)
	for i := range body {
		id := uuid.New()
		payload := make([]byte, 16+a.rng.Intn(64))
		copy(payload, id[:])
		a.rng.Read(payload[16:])
		body[i] = payload
	}
	return body
}

func (a *Author) justification(number uint64) []byte {
	if a.spec.FinalityPeriod == 0 || number%a.spec.FinalityPeriod != 0 {
		return nil
	}
	return []byte(fmt.Sprintf("%s finality #%d", a.spec.Name, number))
}

// Produce builds one block on top of the current best block and appends it.
// Blocks carrying a justification are finalized as they are appended.
func (a *Author) Produce() (*block.Block, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	head := a.store.Head()
	number := head.BestNumber + 1
	b := block.Assemble(number, head.BestHash, a.header(), a.body(), a.justification(number))
	if _, err := a.store.Append(b, b.IsFinalityProof()); err != nil {
		return nil, fmt.Errorf("append authored block #%d: %w", number, err)
	}
	logx.Debug("AUTHOR", fmt.Sprintf("Produced block #%d %s | extrinsics=%d | finalized=%t",
		number, b.Hash.Short(), len(b.Body), b.IsFinalityProof()))
	return b, nil
}

// Run produces a block every Interval until maxBlocks have been produced or
// ctx is done. A maxBlocks of zero means no limit. Returns the number of
// blocks produced; cancellation is not an error.
func (a *Author) Run(ctx context.Context, maxBlocks uint64) (uint64, error) {
	interval := a.Interval
	if interval <= 0 {
		interval = time.Duration(config.DevBlockIntervalMs) * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logx.Info("AUTHOR", fmt.Sprintf("Authoring started | chain=%s | interval=%s | max_blocks=%d",
		a.spec.Name, interval, maxBlocks))
	var produced uint64
	for maxBlocks == 0 || produced < maxBlocks {
		select {
		case <-ctx.Done():
			logx.Info("AUTHOR", "Authoring stopped after ", produced, " blocks")
			return produced, nil
		case <-ticker.C:
		}

		err := exception.Recover("author", func() error {
			_, err := a.Produce()
			return err
		})
		if err != nil {
			return produced, err
		}
		produced++
	}
	head := a.store.Head()
	logx.Info("AUTHOR", fmt.Sprintf("Authoring finished | produced=%d | best=%d | finalized=%d",
		produced, head.BestNumber, head.FinalizedNumber))
	return produced, nil
}
