package block

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"sync"
)

// HashSize is the length in bytes of a block hash.
const HashSize = 32

// Hash identifies a block by content.
type Hash [HashSize]byte

// ZeroHash is the parent hash of the genesis block.
var ZeroHash Hash

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns the first 8 hex characters, used in log lines.
func (h Hash) Short() string {
	return hex.EncodeToString(h[:4])
}

func (h Hash) IsZero() bool {
	return h == ZeroHash
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := HashFromHex(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// HashFromHex parses a 64 character hex string, with or without 0x prefix.
func HashFromHex(s string) (Hash, error) {
	var out Hash
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("invalid hash hex: %w", err)
	}
	if len(raw) != HashSize {
		return out, fmt.Errorf("invalid hash length: %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// Block is a single chain element. It is immutable once stored.
type Block struct {
	Number        uint64
	Hash          Hash
	ParentHash    Hash
	Header        []byte
	Body          [][]byte // extrinsics in order
	Justification []byte   // nil when absent
}

var hasherPool = sync.Pool{
	New: func() interface{} {
		return sha256.New()
	},
}

// Assemble builds a block and computes its hash. Empty header and body are
// normalized to nil.
func Assemble(number uint64, parent Hash, header []byte, body [][]byte, justification []byte) *Block {
	if len(header) == 0 {
		header = nil
	}
	if len(body) == 0 {
		body = nil
	}
	b := &Block{
		Number:        number,
		ParentHash:    parent,
		Header:        header,
		Body:          body,
		Justification: justification,
	}
	b.Hash = b.ComputeHash()
	return b
}

// Genesis returns block zero for the given header payload.
func Genesis(header []byte) *Block {
	return Assemble(0, ZeroHash, header, nil, nil)
}

// ComputeHash hashes number, parent, header and the body root. The
// justification is excluded since it is attached after authoring.
func (b *Block) ComputeHash() Hash {
	h := hasherPool.Get().(hash.Hash)
	defer hasherPool.Put(h)
	h.Reset()

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], b.Number)
	h.Write(buf[:])
	h.Write(b.ParentHash[:])
	binary.BigEndian.PutUint32(buf[:4], uint32(len(b.Header)))
	h.Write(buf[:4])
	h.Write(b.Header)
	root := BodyRoot(b.Body)
	h.Write(root[:])

	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// VerifyHash reports whether the stored hash matches the block contents.
func (b *Block) VerifyHash() bool {
	return b.ComputeHash() == b.Hash
}

// BodyRoot commits to the ordered list of extrinsics.
func BodyRoot(body [][]byte) Hash {
	h := hasherPool.Get().(hash.Hash)
	defer hasherPool.Put(h)
	h.Reset()

	var lenBuf [4]byte
	for _, xt := range body {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(xt)))
		h.Write(lenBuf[:])
		h.Write(xt)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// IsFinalityProof reports whether the block carries a justification.
func (b *Block) IsFinalityProof() bool {
	return b.Justification != nil
}

// BodySize is the total extrinsic payload size in bytes.
func (b *Block) BodySize() int {
	n := 0
	for _, xt := range b.Body {
		n += len(xt)
	}
	return n
}

// HeaderOnly returns a copy without the body.
func (b *Block) HeaderOnly() *Block {
	return &Block{
		Number:        b.Number,
		Hash:          b.Hash,
		ParentHash:    b.ParentHash,
		Header:        b.Header,
		Justification: b.Justification,
	}
}

// Equal compares all fields including the justification.
func (b *Block) Equal(o *Block) bool {
	if b == nil || o == nil {
		return b == o
	}
	if b.Number != o.Number || b.Hash != o.Hash || b.ParentHash != o.ParentHash {
		return false
	}
	if !bytes.Equal(b.Header, o.Header) || !bytes.Equal(b.Justification, o.Justification) {
		return false
	}
	if (b.Justification == nil) != (o.Justification == nil) {
		return false
	}
	if len(b.Body) != len(o.Body) {
		return false
	}
	for i := range b.Body {
		if !bytes.Equal(b.Body[i], o.Body[i]) {
			return false
		}
	}
	return true
}

func (b *Block) String() string {
	return fmt.Sprintf("#%d (%s)", b.Number, b.Hash.Short())
}
