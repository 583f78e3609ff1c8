package store

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mezonai/chaindb/block"
	"github.com/mezonai/chaindb/codec"
	"github.com/mezonai/chaindb/db"
	"github.com/mezonai/chaindb/events"
	"github.com/mezonai/chaindb/logx"
	"github.com/mezonai/chaindb/monitoring"
)

// Ref selects a block either by canonical number or by hash.
type Ref struct {
	number uint64
	hash   block.Hash
	byHash bool
}

// ByNumber refers to the canonical block at n.
func ByNumber(n uint64) Ref {
	return Ref{number: n}
}

// ByHash refers to any stored block, orphans included.
func ByHash(h block.Hash) Ref {
	return Ref{hash: h, byHash: true}
}

func (r Ref) String() string {
	if r.byHash {
		return r.hash.String()
	}
	return fmt.Sprintf("#%d", r.number)
}

// RewindResult reports the effect of SetHead.
type RewindResult struct {
	// Orphaned is the number of canonical blocks displaced
	Orphaned int
	Pruned   PruneResult
}

// RevertResult reports the effect of RevertBy. From and To are the best
// numbers before and after the commit.
type RevertResult struct {
	From uint64
	To   uint64
	RewindResult
}

// Reverted is the number of blocks removed from the canonical chain.
func (r *RevertResult) Reverted() uint64 {
	return r.From - r.To
}

// ChainStore is the durable block store. One writer at a time mutates it;
// readers run concurrently against the last committed head.
//
// Block records are keyed by hash and never rewritten, so readers only lock
// to snapshot the head. Writers stage the records first and then commit the
// index, orphan markers, body deletions and metadata in one batch. The head
// in memory changes only after that batch is durable.
type ChainStore struct {
	provider db.IterableProvider
	txm      *db.DBTxManager
	cache    *blockCache
	router   *events.EventRouter

	writeMu sync.Mutex

	headMu  sync.RWMutex
	head    ChainHead
	base    uint64
	orphans int

	policy  RetentionPolicy
	genesis block.Hash
	closed  atomic.Bool
}

// Option tunes OpenWithProvider.
type Option func(*ChainStore)

// WithCacheSize sets the number of decoded blocks kept in memory. Zero
// disables the cache.
func WithCacheSize(n int) Option {
	return func(s *ChainStore) {
		s.cache = newBlockCache(n)
	}
}

// WithEventBus publishes commit events on bus.
func WithEventBus(bus *events.EventBus) Option {
	return func(s *ChainStore) {
		if bus != nil {
			s.router = events.NewEventRouter(bus)
		}
	}
}

// OpenWithProvider opens the store on an already opened provider. On an empty
// database genesis is stored and becomes both best and finalized; genesis may
// be nil when the database already exists. The store owns the provider from
// here on, also when opening fails.
func OpenWithProvider(provider db.IterableProvider, policy RetentionPolicy, genesis *block.Block, opts ...Option) (*ChainStore, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider cannot be nil")
	}
	s := &ChainStore{
		provider: provider,
		txm:      db.NewDBTxManager(provider),
		policy:   policy,
	}
	for _, opt := range opts {
		opt(s)
	}

	raw, err := provider.Get([]byte(MetaKeyChain))
	if err != nil {
		provider.Close()
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	if raw == nil {
		err = s.initialize(genesis)
	} else {
		err = s.load(raw, genesis)
	}
	if err != nil {
		provider.Close()
		return nil, err
	}

	monitoring.SetChainHeights(s.head.BestNumber, s.head.FinalizedNumber)
	monitoring.SetOrphanCount(s.orphans)
	logx.Info("BLOCKSTORE", fmt.Sprintf("Opened chain store | best=%d (%s) | finalized=%d | policy=%s | base=%d | orphans=%d",
		s.head.BestNumber, s.head.BestHash.Short(), s.head.FinalizedNumber, s.policy, s.base, s.orphans))
	return s, nil
}

func (s *ChainStore) initialize(genesis *block.Block) error {
	// leftovers of a store that never committed metadata cannot be trusted
	var stray bool
	if err := s.provider.IteratePrefix([]byte(PrefixBlockHeader), func(_, _ []byte) bool {
		stray = true
		return false
	}); err != nil {
		return fmt.Errorf("scan block records: %w", err)
	}
	if stray {
		return fmt.Errorf("%w: block records present without metadata", ErrCorrupt)
	}

	if genesis == nil {
		return fmt.Errorf("genesis block required to initialize an empty database")
	}
	if genesis.Number != 0 || !genesis.ParentHash.IsZero() {
		return fmt.Errorf("%w: genesis must be block 0 with a zero parent", ErrInvalidBlock)
	}
	if !genesis.VerifyHash() {
		return fmt.Errorf("%w: genesis %s", ErrInvalidBlock, genesis.Hash.Short())
	}

	meta := &chainMeta{
		head: ChainHead{
			BestHash:      genesis.Hash,
			FinalizedHash: genesis.Hash,
		},
		policy: s.policy,
	}

	// a single batch, so a crash leaves either nothing or a usable store
	_, err := s.txm.WithBatch(func(batch db.DatabaseBatch) error {
		batch.Put(headerKey(genesis.Hash), codec.EncodeHeaderRecord(genesis))
		batch.Put(bodyKey(genesis.Hash), codec.EncodeBodyRecord(genesis.Body))
		batch.Put(numberKey(0), genesis.Hash[:])
		batch.Put([]byte(MetaKeyChain), meta.encode())
		return nil
	})
	if err != nil {
		return fmt.Errorf("write genesis: %w", err)
	}

	s.head = meta.head
	s.genesis = genesis.Hash
	logx.Info("BLOCKSTORE", "Initialized new database with genesis ", genesis.Hash.String())
	return nil
}

func (s *ChainStore) load(raw []byte, genesis *block.Block) error {
	meta, err := decodeChainMeta(raw)
	if err != nil {
		return err
	}
	if meta.policy != s.policy {
		return fmt.Errorf("%w: database uses %s, requested %s", ErrPolicyMismatch, meta.policy, s.policy)
	}
	head := meta.head
	if head.FinalizedNumber > head.BestNumber {
		return fmt.Errorf("%w: finalized %d above best %d", ErrCorrupt, head.FinalizedNumber, head.BestNumber)
	}

	check := func(n uint64, want block.Hash, what string) error {
		got, ok, err := s.readCanonicalHash(n)
		if err != nil {
			return err
		}
		if !ok || got != want {
			return fmt.Errorf("%w: canonical index at %d disagrees with %s hash", ErrCorrupt, n, what)
		}
		hdr, err := s.readHeader(want)
		if err != nil {
			return fmt.Errorf("%w: %s block %d: %v", ErrCorrupt, what, n, err)
		}
		if hdr.Number != n {
			return fmt.Errorf("%w: %s block stored with number %d, want %d", ErrCorrupt, what, hdr.Number, n)
		}
		return nil
	}
	if err := check(head.BestNumber, head.BestHash, "best"); err != nil {
		return err
	}
	if err := check(head.FinalizedNumber, head.FinalizedHash, "finalized"); err != nil {
		return err
	}
	if _, ok, err := s.readCanonicalHash(head.BestNumber + 1); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%w: canonical index beyond best %d", ErrCorrupt, head.BestNumber)
	}

	genesisHash, ok, err := s.readCanonicalHash(0)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: genesis missing from canonical index", ErrCorrupt)
	}
	if genesis != nil && genesis.Hash != genesisHash {
		return fmt.Errorf("%w: database has %s, chain spec has %s", ErrGenesisMismatch, genesisHash, genesis.Hash)
	}

	orphans := 0
	if err := s.provider.IteratePrefix([]byte(PrefixOrphan), func(_, _ []byte) bool {
		orphans++
		return true
	}); err != nil {
		return fmt.Errorf("count orphans: %w", err)
	}

	s.head = head
	s.base = meta.base
	s.orphans = orphans
	s.genesis = genesisHash
	return nil
}

// Head returns the last committed head.
func (s *ChainStore) Head() ChainHead {
	s.headMu.RLock()
	defer s.headMu.RUnlock()
	return s.head
}

func (s *ChainStore) Policy() RetentionPolicy {
	return s.policy
}

func (s *ChainStore) GenesisHash() block.Hash {
	return s.genesis
}

// Base is the lowest canonical number whose body is still stored.
func (s *ChainStore) Base() uint64 {
	s.headMu.RLock()
	defer s.headMu.RUnlock()
	return s.base
}

func (s *ChainStore) readCanonicalHash(n uint64) (block.Hash, bool, error) {
	var h block.Hash
	value, err := s.provider.Get(numberKey(n))
	if err != nil {
		return h, false, fmt.Errorf("read canonical index %d: %w", n, err)
	}
	if value == nil {
		return h, false, nil
	}
	if len(value) != block.HashSize {
		return h, false, fmt.Errorf("%w: canonical index %d has %d bytes", ErrCorrupt, n, len(value))
	}
	copy(h[:], value)
	return h, true, nil
}

func (s *ChainStore) readHeader(h block.Hash) (*block.Block, error) {
	value, err := s.provider.Get(headerKey(h))
	if err != nil {
		return nil, fmt.Errorf("read header %s: %w", h.Short(), err)
	}
	return decodeHeader(h, value)
}

func decodeHeader(h block.Hash, value []byte) (*block.Block, error) {
	if value == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, h)
	}
	b, err := codec.DecodeHeaderRecord(value)
	if err != nil {
		return nil, fmt.Errorf("%w: header %s: %v", ErrCorrupt, h.Short(), err)
	}
	if b.Hash != h {
		return nil, fmt.Errorf("%w: header stored under %s hashes to %s", ErrCorrupt, h.Short(), b.Hash.Short())
	}
	return b, nil
}

// CanonicalHash returns the hash of the canonical block at n.
func (s *ChainStore) CanonicalHash(n uint64) (block.Hash, error) {
	if s.closed.Load() {
		return block.Hash{}, ErrClosed
	}
	if n > s.Head().BestNumber {
		return block.Hash{}, fmt.Errorf("%w: #%d", ErrNotFound, n)
	}
	h, ok, err := s.readCanonicalHash(n)
	if err != nil {
		return block.Hash{}, err
	}
	if !ok {
		return block.Hash{}, fmt.Errorf("%w: #%d", ErrNotFound, n)
	}
	return h, nil
}

func (s *ChainStore) resolve(ref Ref) (block.Hash, error) {
	if ref.byHash {
		return ref.hash, nil
	}
	return s.CanonicalHash(ref.number)
}

// Get returns the full block. A block whose header survives but whose body
// was pruned yields ErrBodyPruned.
func (s *ChainStore) Get(ref Ref) (*block.Block, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	h, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	if b := s.cache.get(h); b != nil {
		return b, nil
	}

	gen := s.cache.snapshot()
	// one read so a concurrent prune cannot fall between header and body
	hk, bk := headerKey(h), bodyKey(h)
	values, err := s.provider.GetBatch([][]byte{hk, bk})
	if err != nil {
		return nil, fmt.Errorf("read block %s: %w", h.Short(), err)
	}
	b, err := decodeHeader(h, values[string(hk)])
	if err != nil {
		return nil, err
	}
	value := values[string(bk)]
	if value == nil {
		return nil, fmt.Errorf("%w: #%d (%s)", ErrBodyPruned, b.Number, h.Short())
	}
	body, err := codec.DecodeBodyRecord(value)
	if err != nil {
		return nil, fmt.Errorf("%w: body %s: %v", ErrCorrupt, h.Short(), err)
	}
	b.Body = body
	s.cache.put(gen, b)
	return b, nil
}

// Block returns the canonical block at n.
func (s *ChainStore) Block(n uint64) (*block.Block, error) {
	return s.Get(ByNumber(n))
}

func (s *ChainStore) BlockByHash(h block.Hash) (*block.Block, error) {
	return s.Get(ByHash(h))
}

// Header returns the block without its body. It succeeds for pruned blocks.
func (s *ChainStore) Header(ref Ref) (*block.Block, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	h, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	if b := s.cache.get(h); b != nil {
		return b.HeaderOnly(), nil
	}
	return s.readHeader(h)
}

func (s *ChainStore) HeaderByNumber(n uint64) (*block.Block, error) {
	return s.Header(ByNumber(n))
}

func (s *ChainStore) HeaderByHash(h block.Hash) (*block.Block, error) {
	return s.Header(ByHash(h))
}

// HasBody reports whether the body of the block with hash h is stored.
func (s *ChainStore) HasBody(h block.Hash) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}
	return s.provider.Has(bodyKey(h))
}

// Append extends the canonical chain by b, which must be the child of the
// best block. With finalize the new block is also finalized. Pruning runs in
// the same commit and its result is returned.
func (s *ChainStore) Append(b *block.Block, finalize bool) (*PruneResult, error) {
	if b == nil {
		return nil, fmt.Errorf("%w: nil block", ErrInvalidBlock)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed.Load() {
		return nil, ErrClosed
	}
	start := time.Now()

	head := s.Head()
	if b.Number != head.BestNumber+1 {
		return nil, fmt.Errorf("%w: block #%d, best is #%d", ErrLinkageBroken, b.Number, head.BestNumber)
	}
	if b.ParentHash != head.BestHash {
		return nil, fmt.Errorf("%w: block #%d parent %s, best is %s", ErrLinkageBroken, b.Number, b.ParentHash.Short(), head.BestHash.Short())
	}
	if !b.VerifyHash() {
		return nil, fmt.Errorf("%w: block #%d claims %s", ErrInvalidBlock, b.Number, b.Hash.Short())
	}

	headerRecord := codec.EncodeHeaderRecord(b)
	bodyRecord := codec.EncodeBodyRecord(b.Body)

	staging := s.provider.Batch()
	defer staging.Close()
	if existing, err := s.provider.Get(headerKey(b.Hash)); err != nil {
		return nil, fmt.Errorf("read header %s: %w", b.Hash.Short(), err)
	} else if existing == nil || !bytes.Equal(existing, headerRecord) {
		staging.Put(headerKey(b.Hash), headerRecord)
	}
	staging.Put(bodyKey(b.Hash), bodyRecord)
	if err := staging.Write(); err != nil {
		return nil, fmt.Errorf("stage block #%d: %w", b.Number, err)
	}

	newHead := head
	newHead.BestNumber = b.Number
	newHead.BestHash = b.Hash
	if finalize {
		newHead.FinalizedNumber = b.Number
		newHead.FinalizedHash = b.Hash
	}

	commit := s.provider.Batch()
	defer commit.Close()
	commit.Put(numberKey(b.Number), b.Hash[:])

	orphans := s.OrphanCount()
	wasOrphan, err := s.provider.Has(orphanKey(b.Number, b.Hash))
	if err != nil {
		return nil, fmt.Errorf("read orphan marker: %w", err)
	}
	if wasOrphan {
		commit.Delete(orphanKey(b.Number, b.Hash))
		orphans--
	}

	res := &PruneResult{Base: s.Base()}
	if newBase := s.policy.pruneBelow(b.Number); newBase > res.Base {
		if err := s.stageCanonicalPrune(commit, res.Base, newBase, res); err != nil {
			return nil, err
		}
		res.Base = newBase
	}

	meta := &chainMeta{head: newHead, policy: s.policy, base: res.Base}
	commit.Put([]byte(MetaKeyChain), meta.encode())
	if err := commit.Write(); err != nil {
		return nil, fmt.Errorf("commit block #%d: %w", b.Number, err)
	}

	s.headMu.Lock()
	s.head = newHead
	s.base = res.Base
	s.orphans = orphans
	s.headMu.Unlock()

	s.cache.invalidate(res.hashes)

	monitoring.RecordCommit(monitoring.CommitAppend, time.Since(start))
	monitoring.IncreaseAppendedBlocks()
	monitoring.RecordBlockSizeBytes(len(headerRecord) + len(bodyRecord))
	monitoring.SetChainHeights(newHead.BestNumber, newHead.FinalizedNumber)
	monitoring.RecordPruned(res.Blocks, res.Bytes)
	if wasOrphan {
		monitoring.SetOrphanCount(orphans)
	}
	s.router.PublishBlockAppended(b.Number, b.Hash, finalize)
	s.router.PublishBodiesPruned(res.Base, res.Blocks, res.Bytes)

	logx.Debug("BLOCKSTORE", fmt.Sprintf("Appended block | number=%d | hash=%s | finalized=%v | pruned=%d",
		b.Number, b.Hash.Short(), finalize, res.Blocks))
	return res, nil
}

// SetHead rewinds the canonical chain to the block (number, hash), which must
// be canonical and strictly behind the best block. Blocks above it become
// orphans; under a pruned policy their bodies are discarded in the same
// commit. Rewinding below the finalized block requires force and lowers
// finality to the new head.
func (s *ChainStore) SetHead(number uint64, hash block.Hash, force bool) (*RewindResult, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed.Load() {
		return nil, ErrClosed
	}

	head := s.Head()
	if number >= head.BestNumber {
		return nil, fmt.Errorf("%w: #%d, best is #%d", ErrNotAncestor, number, head.BestNumber)
	}
	canonical, ok, err := s.readCanonicalHash(number)
	if err != nil {
		return nil, err
	}
	if !ok || canonical != hash {
		return nil, fmt.Errorf("%w: #%d (%s)", ErrUnknownBlock, number, hash.Short())
	}
	if number < head.FinalizedNumber && !force {
		return nil, fmt.Errorf("%w: target #%d, finalized #%d", ErrBelowFinalized, number, head.FinalizedNumber)
	}
	return s.rewind(head, number, hash)
}

// RevertBy moves the best block back by count blocks in one commit. The
// target is derived from the head while the writer lock is held, so no append
// lands between choosing it and committing. Below the finalized block it
// fails with ErrBelowFinalized, stops at the finalized block with clamp, or
// with force lowers finality and stops at genesis.
func (s *ChainStore) RevertBy(count uint64, force, clamp bool) (*RevertResult, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed.Load() {
		return nil, ErrClosed
	}

	head := s.Head()
	res := &RevertResult{From: head.BestNumber, To: head.BestNumber}
	var target uint64
	if count < head.BestNumber {
		target = head.BestNumber - count
	}
	if target < head.FinalizedNumber && !force {
		if !clamp {
			return nil, fmt.Errorf("%w: reverting %d blocks from #%d reaches #%d, finalized is #%d",
				ErrBelowFinalized, count, head.BestNumber, target, head.FinalizedNumber)
		}
		target = head.FinalizedNumber
	}
	if target == head.BestNumber {
		return res, nil
	}

	hash, ok, err := s.readCanonicalHash(target)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: canonical index missing at %d below best", ErrCorrupt, target)
	}
	rewound, err := s.rewind(head, target, hash)
	if err != nil {
		return nil, err
	}
	res.To = target
	res.RewindResult = *rewound
	return res, nil
}

// rewind commits the move of the head from head to (number, hash). The caller
// holds writeMu and has validated the target.
func (s *ChainStore) rewind(head ChainHead, number uint64, hash block.Hash) (*RewindResult, error) {
	start := time.Now()
	newHead := head
	newHead.BestNumber = number
	newHead.BestHash = hash
	if number < head.FinalizedNumber {
		newHead.FinalizedNumber = number
		newHead.FinalizedHash = hash
	}

	res := &RewindResult{}
	res.Pruned.Base = s.Base()
	now := time.Now()

	commit := s.provider.Batch()
	defer commit.Close()
	for n := number + 1; n <= head.BestNumber; n++ {
		h, ok, err := s.readCanonicalHash(n)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: canonical index missing at %d below best", ErrCorrupt, n)
		}
		commit.Delete(numberKey(n))
		commit.Put(orphanKey(n, h), orphanValue(now))
		res.Orphaned++
		if !s.policy.IsArchive() {
			if err := s.stageBodyDelete(commit, h, &res.Pruned); err != nil {
				return nil, err
			}
		}
	}
	if !s.policy.IsArchive() && res.Pruned.Base > number+1 {
		res.Pruned.Base = number + 1
	}

	meta := &chainMeta{head: newHead, policy: s.policy, base: res.Pruned.Base}
	commit.Put([]byte(MetaKeyChain), meta.encode())
	if err := commit.Write(); err != nil {
		return nil, fmt.Errorf("commit rewind to #%d: %w", number, err)
	}

	s.headMu.Lock()
	s.head = newHead
	s.base = res.Pruned.Base
	s.orphans += res.Orphaned
	orphans := s.orphans
	s.headMu.Unlock()

	s.cache.invalidate(res.Pruned.hashes)

	monitoring.RecordCommit(monitoring.CommitRewind, time.Since(start))
	monitoring.SetChainHeights(newHead.BestNumber, newHead.FinalizedNumber)
	monitoring.SetOrphanCount(orphans)
	monitoring.RecordPruned(res.Pruned.Blocks, res.Pruned.Bytes)
	s.router.PublishHeadRewound(head.BestNumber, number, hash, res.Orphaned)

	logx.Info("BLOCKSTORE", fmt.Sprintf("Rewound head | from=%d | to=%d | orphaned=%d | bodies_discarded=%d | finalized=%d",
		head.BestNumber, number, res.Orphaned, res.Pruned.Blocks, newHead.FinalizedNumber))
	return res, nil
}

// Finalize advances finality to the canonical block at number.
func (s *ChainStore) Finalize(number uint64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed.Load() {
		return ErrClosed
	}
	start := time.Now()

	head := s.Head()
	if number < head.FinalizedNumber {
		return fmt.Errorf("%w: #%d, finalized is #%d", ErrBelowFinalized, number, head.FinalizedNumber)
	}
	if number == head.FinalizedNumber {
		return nil
	}
	if number > head.BestNumber {
		return fmt.Errorf("%w: #%d is above best #%d", ErrNotFound, number, head.BestNumber)
	}
	h, ok, err := s.readCanonicalHash(number)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: canonical index missing at %d", ErrCorrupt, number)
	}

	newHead := head
	newHead.FinalizedNumber = number
	newHead.FinalizedHash = h

	meta := &chainMeta{head: newHead, policy: s.policy, base: s.Base()}
	if err := s.provider.Put([]byte(MetaKeyChain), meta.encode()); err != nil {
		return fmt.Errorf("commit finality #%d: %w", number, err)
	}

	s.headMu.Lock()
	s.head = newHead
	s.headMu.Unlock()

	monitoring.RecordCommit(monitoring.CommitFinalize, time.Since(start))
	monitoring.SetChainHeights(newHead.BestNumber, newHead.FinalizedNumber)
	s.router.PublishBlockFinalized(number, h)
	logx.Debug("BLOCKSTORE", "Finalized block ", number)
	return nil
}

// Close waits for the in-flight writer and closes the provider. Further calls
// return ErrClosed.
func (s *ChainStore) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed.Swap(true) {
		return nil
	}
	s.cache.purge()
	if err := s.provider.Close(); err != nil {
		logx.Error("BLOCKSTORE", "Failed to close provider: ", err)
		return err
	}
	logx.Info("BLOCKSTORE", "Closed chain store")
	return nil
}
