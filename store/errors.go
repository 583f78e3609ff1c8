package store

import "errors"

var (
	// ErrCorrupt means the database failed a self-consistency check at open.
	ErrCorrupt = errors.New("store: database corrupt")
	// ErrPolicyMismatch is returned when reopening with a retention policy
	// other than the one the database was created with.
	ErrPolicyMismatch  = errors.New("store: retention policy mismatch")
	ErrGenesisMismatch = errors.New("store: genesis mismatch")

	ErrNotFound   = errors.New("store: block not found")
	ErrBodyPruned = errors.New("store: block body pruned")

	ErrLinkageBroken = errors.New("store: block does not extend the best block")
	ErrInvalidBlock  = errors.New("store: block hash does not match its contents")

	ErrBelowFinalized = errors.New("store: target is below the finalized block")
	ErrUnknownBlock   = errors.New("store: unknown canonical block")
	ErrNotAncestor    = errors.New("store: target is not behind the best block")

	ErrClosed = errors.New("store: closed")
)
