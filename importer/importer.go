// Package importer appends blocks read from an export file to the block store.
package importer

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/mezonai/chaindb/block"
	"github.com/mezonai/chaindb/codec"
	"github.com/mezonai/chaindb/logx"
	"github.com/mezonai/chaindb/monitoring"
	"github.com/mezonai/chaindb/store"
)

// Kind classifies an import failure.
type Kind int

const (
	// KindDecode means the source is not a valid frame stream
	KindDecode Kind = iota + 1
	// KindLinkage means a block does not extend the chain
	KindLinkage
	// KindInvalidBlock means a block hash does not match its contents
	KindInvalidBlock
	// KindStore is any other failure of the block store
	KindStore
)

func (k Kind) String() string {
	switch k {
	case KindDecode:
		return "decode"
	case KindLinkage:
		return "linkage"
	case KindInvalidBlock:
		return "invalid block"
	case KindStore:
		return "store"
	default:
		return "unknown"
	}
}

// Error halts an import. Blocks appended before it stay committed.
type Error struct {
	Kind Kind
	// Number is the block number of the offending frame, when it was decoded
	Number uint64
	// Offset is the byte offset of the offending frame in the source
	Offset int64
	Err    error
}

func (e *Error) Error() string {
	if e.Kind == KindDecode {
		return fmt.Sprintf("import %s error at offset %d: %v", e.Kind, e.Offset, e.Err)
	}
	return fmt.Sprintf("import %s error at block #%d (offset %d): %v", e.Kind, e.Number, e.Offset, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Sink is the write side of the block store the importer needs.
type Sink interface {
	Head() store.ChainHead
	CanonicalHash(n uint64) (block.Hash, error)
	Append(b *block.Block, finalize bool) (*store.PruneResult, error)
}

type Progress struct {
	Current  uint64
	Imported uint64
	Skipped  uint64
	Bytes    int64
	Elapsed  time.Duration
}

type Options struct {
	// Progress is called every ProgressEvery appended blocks and once at the end.
	Progress      func(Progress)
	ProgressEvery uint64
}

// Import reads frames from source and appends them in order. Frames that
// match the canonical block already stored at their number are skipped, so
// a file can be replayed into a store that holds a prefix of it. Returns the
// number of blocks appended.
func Import(ctx context.Context, s Sink, source io.Reader, opts Options) (uint64, error) {
	r := codec.NewReader(source)
	start := time.Now()

	var (
		imported uint64
		skipped  uint64
		current  uint64
	)
	report := func() {
		if opts.Progress == nil {
			return
		}
		opts.Progress(Progress{
			Current:  current,
			Imported: imported,
			Skipped:  skipped,
			Bytes:    r.Offset(),
			Elapsed:  time.Since(start),
		})
	}
	fail := func(err *Error) (uint64, error) {
		monitoring.AddImportedBlocks(imported)
		logx.Error("IMPORT", fmt.Sprintf("Import halted | imported=%d | skipped=%d | err=%v", imported, skipped, err))
		return imported, err
	}

	logx.Info("IMPORT", "Importing blocks on top of #", s.Head().BestNumber)
	for {
		if err := ctx.Err(); err != nil {
			monitoring.AddImportedBlocks(imported)
			return imported, errors.Wrapf(err, "import cancelled after %d blocks", imported)
		}

		b, err := r.ReadBlock()
		if err == io.EOF {
			break
		}
		offset := r.FrameOffset()
		if err != nil {
			return fail(&Error{Kind: KindDecode, Offset: offset, Err: err})
		}
		current = b.Number

		head := s.Head()
		if b.Number <= head.BestNumber {
			canonical, err := s.CanonicalHash(b.Number)
			if err != nil {
				return fail(&Error{Kind: KindStore, Number: b.Number, Offset: offset, Err: err})
			}
			if canonical == b.Hash {
				skipped++
				continue
			}
			return fail(&Error{
				Kind:   KindLinkage,
				Number: b.Number,
				Offset: offset,
				Err:    errors.Wrapf(store.ErrLinkageBroken, "store holds %s at #%d, file has %s", canonical.Short(), b.Number, b.Hash.Short()),
			})
		}

		if _, err := s.Append(b, b.IsFinalityProof()); err != nil {
			kind := KindStore
			switch {
			case stderrors.Is(err, store.ErrLinkageBroken):
				kind = KindLinkage
			case stderrors.Is(err, store.ErrInvalidBlock):
				kind = KindInvalidBlock
			}
			return fail(&Error{Kind: kind, Number: b.Number, Offset: offset, Err: err})
		}
		imported++

		if opts.ProgressEvery > 0 && imported%opts.ProgressEvery == 0 {
			report()
		}
	}

	monitoring.AddImportedBlocks(imported)
	report()
	logx.Info("IMPORT", fmt.Sprintf("Import complete | imported=%d | skipped=%d | bytes=%d | elapsed=%s",
		imported, skipped, r.Offset(), time.Since(start)))
	return imported, nil
}
