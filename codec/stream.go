package codec

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/mezonai/chaindb/block"
)

// FrameError locates a decode failure in a stream.
type FrameError struct {
	Offset int64 // byte offset of the frame start
	Err    error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("frame at offset %d: %v", e.Offset, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// Writer appends frames to a sink.
type Writer struct {
	w       *bufio.Writer
	version byte
	written int64
	frames  uint64
}

// NewWriter wraps w. version selects raw (Version1) or compressed (Version2) frames.
func NewWriter(w io.Writer, version byte) (*Writer, error) {
	if version != Version1 && version != Version2 {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, version)
	}
	return &Writer{
		w:       bufio.NewWriterSize(w, 1<<20),
		version: version,
	}, nil
}

// WriteBlock encodes and buffers one frame.
func (w *Writer) WriteBlock(b *block.Block) error {
	frame, err := EncodeVersion(b, w.version)
	if err != nil {
		return err
	}
	n, err := w.w.Write(frame)
	w.written += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write frame for block %d: %w", b.Number, err)
	}
	w.frames++
	return nil
}

// Flush pushes buffered frames to the sink.
func (w *Writer) Flush() error {
	return w.w.Flush()
}

// Written is the number of bytes handed to the sink, including buffered ones.
func (w *Writer) Written() int64 {
	return w.written
}

func (w *Writer) Frames() uint64 {
	return w.frames
}

// Reader decodes frames one at a time without buffering the whole source.
type Reader struct {
	r      *bufio.Reader
	offset int64
	last   int64
	tag    [TagSize]byte
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 1<<20)}
}

// ReadBlock returns the next block, io.EOF at a clean end of stream, or a
// *FrameError wrapping ErrTruncated, ErrBadVersion or ErrMalformed.
func (r *Reader) ReadBlock() (*block.Block, error) {
	r.last = r.offset

	n, err := io.ReadFull(r.r, r.tag[:])
	r.offset += int64(n)
	switch {
	case errors.Is(err, io.EOF):
		return nil, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		return nil, r.fail(fmt.Errorf("%w: stream ended inside frame tag", ErrTruncated))
	case err != nil:
		return nil, r.fail(err)
	}

	version, size, err := parseTag(r.tag[:])
	if err != nil {
		return nil, r.fail(err)
	}

	payload := make([]byte, size)
	n, err = io.ReadFull(r.r, payload)
	r.offset += int64(n)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, r.fail(fmt.Errorf("%w: declared %d payload bytes, stream had %d", ErrTruncated, size, n))
		}
		return nil, r.fail(err)
	}

	b, err := decodePayload(version, payload)
	if err != nil {
		return nil, r.fail(err)
	}
	return b, nil
}

// FrameOffset is the offset of the frame most recently returned or failed.
func (r *Reader) FrameOffset() int64 {
	return r.last
}

// Offset is the number of bytes consumed so far.
func (r *Reader) Offset() int64 {
	return r.offset
}

func (r *Reader) fail(err error) error {
	return &FrameError{Offset: r.last, Err: err}
}
