// Package exporter streams a range of canonical blocks into a portable file
// of codec frames.
package exporter

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

var (
	// ErrInvalidRange is returned when from > to or to is above the best block.
	ErrInvalidRange = stderrors.New("export: invalid block range")
	// ErrRangeUnavailable is returned when a body in the range was pruned.
	ErrRangeUnavailable = stderrors.New("export: block range not available")
)

// Error ties an export failure to the block being written.
type Error struct {
	Number uint64
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("export block #%d: %v", e.Number, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Source is the read side of the block store the exporter needs.
type Source interface {
	Head() store.ChainHead
	Base() uint64
	Block(n uint64) (*block.Block, error)
}

// Progress is reported while exporting.
type Progress struct {
	From    uint64
	To      uint64
	Current uint64
	Blocks  uint64
	Bytes   int64
	Elapsed time.Duration
}

type Options struct {
	// Version is the frame version, codec.Version1 when zero.
	Version byte
	// Progress is called every ProgressEvery blocks and once at the end.
	Progress      func(Progress)
	ProgressEvery uint64
}

// Export writes the canonical blocks [from, to] to sink in ascending order and
// returns how many were written. The range is checked against the head at the
// start. On cancellation or failure the sink ends at a frame boundary, except
// when the sink itself failed mid-write.
func Export(ctx context.Context, s Source, from, to uint64, sink io.Writer, opts Options) (uint64, error) {
	head := s.Head()
	if from > to {
		return 0, errors.Wrapf(ErrInvalidRange, "from %d is after to %d", from, to)
	}
	if to > head.BestNumber {
		return 0, errors.Wrapf(ErrInvalidRange, "to %d is above best block %d", to, head.BestNumber)
	}
	if base := s.Base(); from < base {
		return 0, &Error{Number: from, Err: errors.Wrapf(ErrRangeUnavailable, "bodies below #%d are pruned", base)}
	}

	version := opts.Version
	if version == 0 {
		version = codec.Version1
	}
	w, err := codec.NewWriter(sink, version)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	report := func(current uint64) {
		if opts.Progress == nil {
			return
		}
		opts.Progress(Progress{
			From:    from,
			To:      to,
			Current: current,
			Blocks:  w.Frames(),
			Bytes:   w.Written(),
			Elapsed: time.Since(start),
		})
	}
	finish := func(err error) (uint64, error) {
		if flushErr := w.Flush(); err == nil && flushErr != nil {
			err = errors.Wrap(flushErr, "flush export sink")
		}
		written := w.Frames()
		monitoring.AddExportedBlocks(written)
		if err != nil {
			logx.Error("EXPORT", fmt.Sprintf("Export stopped | written=%d | err=%v", written, err))
		}
		return written, err
	}

	logx.Info("EXPORT", fmt.Sprintf("Exporting blocks | from=%d | to=%d | version=%d", from, to, version))
	for n := from; ; n++ {
		if err := ctx.Err(); err != nil {
			return finish(errors.Wrapf(err, "export cancelled before #%d", n))
		}

		b, err := s.Block(n)
		if err != nil {
			if stderrors.Is(err, store.ErrBodyPruned) {
				err = errors.Wrap(ErrRangeUnavailable, err.Error())
			}
			return finish(&Error{Number: n, Err: err})
		}
		if err := w.WriteBlock(b); err != nil {
			return finish(&Error{Number: n, Err: err})
		}

		if opts.ProgressEvery > 0 && w.Frames()%opts.ProgressEvery == 0 {
			report(n)
		}
		if n == to {
			break
		}
	}

	written, err := finish(nil)
	if err != nil {
		return written, err
	}
	report(to)
	logx.Info("EXPORT", fmt.Sprintf("Export complete | blocks=%d | bytes=%d | elapsed=%s", written, w.Written(), time.Since(start)))
	return written, nil
}

// ExportAll exports every canonical block from genesis to the best block.
func ExportAll(ctx context.Context, s Source, sink io.Writer, opts Options) (uint64, error) {
	return Export(ctx, s, 0, s.Head().BestNumber, sink, opts)
}
