// Package codec serializes blocks into self-delimiting export frames and into
// the header/body records kept by the block store.
package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/mezonai/chaindb/block"
)

const (
	// Version1 frames carry the raw payload.
	Version1 byte = 1
	// Version2 frames carry a zstd compressed payload.
	Version2 byte = 2

	// TagSize is magic + version + payload length.
	TagSize = 9

	// MaxPayloadSize bounds a single frame payload.
	MaxPayloadSize = 64 << 20
)

// Magic opens every frame.
var Magic = [4]byte{'C', 'H', 'B', 'K'}

var (
	ErrTruncated  = errors.New("codec: truncated frame")
	ErrBadVersion = errors.New("codec: unrecognized frame version")
	ErrMalformed  = errors.New("codec: malformed frame")
)

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxPayloadSize))
)

// Encode returns the version 1 frame for b.
func Encode(b *block.Block) []byte {
	frame, _ := EncodeVersion(b, Version1)
	return frame
}

// EncodeVersion returns the frame for b using the given frame version.
func EncodeVersion(b *block.Block, version byte) ([]byte, error) {
	payload := encodePayload(b)
	switch version {
	case Version1:
	case Version2:
		payload = zstdEncoder.EncodeAll(payload, nil)
	default:
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, version)
	}
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: payload of %d bytes exceeds limit", ErrMalformed, len(payload))
	}

	frame := make([]byte, TagSize+len(payload))
	copy(frame, Magic[:])
	frame[4] = version
	binary.BigEndian.PutUint32(frame[5:TagSize], uint32(len(payload)))
	copy(frame[TagSize:], payload)
	return frame, nil
}

// Decode parses exactly one frame from buf.
func Decode(buf []byte) (*block.Block, error) {
	version, size, err := parseTag(buf)
	if err != nil {
		return nil, err
	}
	if uint64(len(buf)-TagSize) < uint64(size) {
		return nil, fmt.Errorf("%w: declared %d payload bytes, have %d", ErrTruncated, size, len(buf)-TagSize)
	}
	if len(buf)-TagSize > int(size) {
		return nil, fmt.Errorf("%w: %d trailing bytes after frame", ErrMalformed, len(buf)-TagSize-int(size))
	}
	return decodePayload(version, buf[TagSize:])
}

// parseTag validates the fixed-width frame tag and returns version and
// payload length.
func parseTag(tag []byte) (byte, uint32, error) {
	if len(tag) < TagSize {
		return 0, 0, fmt.Errorf("%w: need %d tag bytes, have %d", ErrTruncated, TagSize, len(tag))
	}
	if !bytes.Equal(tag[:4], Magic[:]) {
		return 0, 0, fmt.Errorf("%w: bad magic %x", ErrMalformed, tag[:4])
	}
	version := tag[4]
	if version != Version1 && version != Version2 {
		return 0, 0, fmt.Errorf("%w: %d", ErrBadVersion, version)
	}
	size := binary.BigEndian.Uint32(tag[5:TagSize])
	if size > MaxPayloadSize {
		return 0, 0, fmt.Errorf("%w: payload length %d exceeds limit", ErrMalformed, size)
	}
	return version, size, nil
}

func decodePayload(version byte, payload []byte) (*block.Block, error) {
	if version == Version2 {
		raw, err := zstdDecoder.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: decompress: %v", ErrMalformed, err)
		}
		payload = raw
	}

	b, n, err := decodeHeader(payload)
	if err != nil {
		return nil, err
	}
	body, m, err := decodeBody(payload[n:])
	if err != nil {
		return nil, err
	}
	if n+m != len(payload) {
		return nil, fmt.Errorf("%w: %d unread payload bytes", ErrMalformed, len(payload)-n-m)
	}
	b.Body = body
	return b, nil
}

func encodePayload(b *block.Block) []byte {
	out := make([]byte, 0, headerRecordSize(b)+bodyRecordSize(b.Body))
	out = appendHeader(out, b)
	return appendBody(out, b.Body)
}
