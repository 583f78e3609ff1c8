package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/mezonai/chaindb/block"
)

// Header record layout:
//
//	number u64 | hash [32] | parent [32] | len u32 | header | flag u8 | [len u32 | justification]
//
// Body record layout:
//
//	count u32 | (len u32 | extrinsic)*
//
// Both are big-endian. An export payload is a header record followed by a
// body record, so the store and the export file share one layout.

const (
	justificationAbsent  byte = 0
	justificationPresent byte = 1

	fixedHeaderSize = 8 + block.HashSize + block.HashSize + 4 + 1
)

// EncodeHeaderRecord serializes everything except the body.
func EncodeHeaderRecord(b *block.Block) []byte {
	return appendHeader(make([]byte, 0, headerRecordSize(b)), b)
}

// DecodeHeaderRecord parses a header record. The returned block has a nil body.
func DecodeHeaderRecord(buf []byte) (*block.Block, error) {
	b, n, err := decodeHeader(buf)
	if err != nil {
		return nil, err
	}
	if n != len(buf) {
		return nil, fmt.Errorf("%w: %d trailing bytes after header record", ErrMalformed, len(buf)-n)
	}
	return b, nil
}

// EncodeBodyRecord serializes the ordered extrinsics.
func EncodeBodyRecord(body [][]byte) []byte {
	return appendBody(make([]byte, 0, bodyRecordSize(body)), body)
}

// DecodeBodyRecord parses a body record.
func DecodeBodyRecord(buf []byte) ([][]byte, error) {
	body, n, err := decodeBody(buf)
	if err != nil {
		return nil, err
	}
	if n != len(buf) {
		return nil, fmt.Errorf("%w: %d trailing bytes after body record", ErrMalformed, len(buf)-n)
	}
	return body, nil
}

func headerRecordSize(b *block.Block) int {
	size := fixedHeaderSize + len(b.Header)
	if b.Justification != nil {
		size += 4 + len(b.Justification)
	}
	return size
}

func bodyRecordSize(body [][]byte) int {
	size := 4
	for _, xt := range body {
		size += 4 + len(xt)
	}
	return size
}

func appendHeader(out []byte, b *block.Block) []byte {
	out = binary.BigEndian.AppendUint64(out, b.Number)
	out = append(out, b.Hash[:]...)
	out = append(out, b.ParentHash[:]...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(b.Header)))
	out = append(out, b.Header...)
	if b.Justification == nil {
		return append(out, justificationAbsent)
	}
	out = append(out, justificationPresent)
	out = binary.BigEndian.AppendUint32(out, uint32(len(b.Justification)))
	return append(out, b.Justification...)
}

func appendBody(out []byte, body [][]byte) []byte {
	out = binary.BigEndian.AppendUint32(out, uint32(len(body)))
	for _, xt := range body {
		out = binary.BigEndian.AppendUint32(out, uint32(len(xt)))
		out = append(out, xt...)
	}
	return out
}

// decodeHeader returns the block and the number of bytes consumed.
func decodeHeader(buf []byte) (*block.Block, int, error) {
	r := reader{buf: buf}
	b := &block.Block{}

	b.Number = r.uint64()
	copy(b.Hash[:], r.bytes(block.HashSize))
	copy(b.ParentHash[:], r.bytes(block.HashSize))
	b.Header = r.sized()
	flag := r.byte()
	if r.err != nil {
		return nil, 0, r.err
	}
	switch flag {
	case justificationAbsent:
	case justificationPresent:
		b.Justification = r.sized()
		if b.Justification == nil && r.err == nil {
			b.Justification = []byte{}
		}
	default:
		return nil, 0, fmt.Errorf("%w: justification flag %d", ErrMalformed, flag)
	}
	if r.err != nil {
		return nil, 0, r.err
	}
	return b, r.off, nil
}

func decodeBody(buf []byte) ([][]byte, int, error) {
	r := reader{buf: buf}
	count := r.uint32()
	if r.err != nil {
		return nil, 0, r.err
	}
	// every extrinsic needs at least its length prefix
	if uint64(count)*4 > uint64(len(buf)-r.off) {
		return nil, 0, fmt.Errorf("%w: %d extrinsics declared in %d bytes", ErrMalformed, count, len(buf)-r.off)
	}
	var body [][]byte
	if count > 0 {
		body = make([][]byte, 0, count)
	}
	for i := uint32(0); i < count; i++ {
		xt := r.sized()
		if r.err != nil {
			return nil, 0, r.err
		}
		if xt == nil {
			xt = []byte{}
		}
		body = append(body, xt)
	}
	return body, r.off, nil
}

// reader walks a buffer and records the first structural error.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || n > len(r.buf)-r.off {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrMalformed, n, r.off, len(r.buf)-r.off)
		return nil
	}
	out := r.buf[r.off : r.off+n]
	r.off += n
	return out
}

func (r *reader) byte() byte {
	v := r.bytes(1)
	if v == nil {
		return 0
	}
	return v[0]
}

func (r *reader) uint32() uint32 {
	v := r.bytes(4)
	if v == nil {
		return 0
	}
	return binary.BigEndian.Uint32(v)
}

func (r *reader) uint64() uint64 {
	v := r.bytes(8)
	if v == nil {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}

// sized reads a u32 length prefix and that many bytes. Zero length yields nil.
// The result is copied so decoded blocks never alias the input buffer.
func (r *reader) sized() []byte {
	n := r.uint32()
	if r.err != nil {
		return nil
	}
	if uint64(n) > uint64(len(r.buf)-r.off) {
		r.err = fmt.Errorf("%w: declared length %d exceeds remaining %d bytes", ErrMalformed, n, len(r.buf)-r.off)
		return nil
	}
	if n == 0 {
		return nil
	}
	v := r.bytes(int(n))
	out := make([]byte, len(v))
	copy(out, v)
	return out
}
