// Package revert rolls the canonical chain back by a number of blocks.
package revert

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/mezonai/chaindb/logx"
	"github.com/mezonai/chaindb/monitoring"
	"github.com/mezonai/chaindb/store"
)

// State of a Reverter.
type State int

const (
	Idle State = iota
	Reverting
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Reverting:
		return "reverting"
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Target is the part of the block store a revert needs. RevertBy must pick
// the target block and commit under one writer lock.
type Target interface {
	Head() store.ChainHead
	RevertBy(count uint64, force, clamp bool) (*store.RevertResult, error)
}

type Options struct {
	// Force allows reverting below the finalized block; finality follows the
	// new head down.
	Force bool
	// ClampToFinalized shortens the revert to stop at the finalized block
	// instead of failing. Ignored with Force.
	ClampToFinalized bool
}

// Result describes a committed revert.
type Result struct {
	From     uint64
	To       uint64
	Reverted uint64
	Orphaned int
	Pruned   store.PruneResult
}

// Reverter runs a single revert. It moves from Idle to Reverting and ends in
// Committed or Aborted.
type Reverter struct {
	target Target
	opts   Options

	mu    sync.Mutex
	state State
	err   error
}

func NewReverter(target Target, opts Options) *Reverter {
	return &Reverter{target: target, opts: opts}
}

func (r *Reverter) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Err is the error that aborted the revert, if any.
func (r *Reverter) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Reverter) finish(state State, err error) {
	r.mu.Lock()
	r.state = state
	r.err = err
	r.mu.Unlock()
}

// Run removes up to count blocks from the tip in one atomic commit. Reverting
// zero blocks commits nothing.
func (r *Reverter) Run(count uint64) (Result, error) {
	r.mu.Lock()
	if r.state != Idle {
		r.mu.Unlock()
		return Result{}, fmt.Errorf("revert already %s", r.state)
	}
	r.state = Reverting
	r.mu.Unlock()

	res, err := r.run(count)
	if err != nil {
		r.finish(Aborted, err)
		logx.Error("REVERT", "Revert aborted: ", err)
		return Result{}, err
	}
	r.finish(Committed, nil)
	return res, nil
}

func (r *Reverter) run(count uint64) (Result, error) {
	before := r.target.Head()
	logx.Info("REVERT", fmt.Sprintf("Reverting %d blocks | best=%d | finalized=%d | force=%t",
		count, before.BestNumber, before.FinalizedNumber, r.opts.Force))

	// the store re-reads the head under its writer lock; before is only a hint
	rr, err := r.target.RevertBy(count, r.opts.Force, r.opts.ClampToFinalized)
	if err != nil {
		return Result{}, errors.Wrapf(err, "revert %d blocks", count)
	}

	res := Result{
		From:     rr.From,
		To:       rr.To,
		Reverted: rr.Reverted(),
		Orphaned: rr.Orphaned,
		Pruned:   rr.Pruned,
	}
	if res.Reverted == 0 {
		logx.Info("REVERT", "Nothing to revert at #", res.From)
		return res, nil
	}
	monitoring.AddRevertedBlocks(res.Reverted)
	logx.Info("REVERT", fmt.Sprintf("Reverted %d blocks | from=%d | to=%d", res.Reverted, res.From, res.To))
	return res, nil
}

// Revert removes count blocks from the tip of the chain and returns how many
// were actually removed. With force the revert may cross the finalized block
// and stops at genesis.
func Revert(t Target, count uint64, force bool) (uint64, error) {
	res, err := NewReverter(t, Options{Force: force}).Run(count)
	if err != nil {
		return 0, err
	}
	return res.Reverted, nil
}
