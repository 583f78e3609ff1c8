package store

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// PolicyKind selects how long canonical bodies are kept.
type PolicyKind uint8

const (
	PolicyArchive PolicyKind = iota
	PolicyPruned
)

// RetentionPolicy is fixed when a database is created.
type RetentionPolicy struct {
	Kind PolicyKind
	// KeepRecent is the number of bodies kept behind the best block under
	// PolicyPruned.
	KeepRecent uint64
}

var Archive = RetentionPolicy{Kind: PolicyArchive}

func Pruned(keepRecent uint64) RetentionPolicy {
	return RetentionPolicy{Kind: PolicyPruned, KeepRecent: keepRecent}
}

// ParsePolicy accepts "archive", "pruned:N" or a bare N.
func ParsePolicy(s string) (RetentionPolicy, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == "archive" {
		return Archive, nil
	}
	s = strings.TrimPrefix(s, "pruned:")
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return RetentionPolicy{}, fmt.Errorf("invalid pruning mode %q: want archive, pruned:N or N", s)
	}
	return Pruned(n), nil
}

func (p RetentionPolicy) IsArchive() bool {
	return p.Kind == PolicyArchive
}

func (p RetentionPolicy) String() string {
	if p.IsArchive() {
		return "archive"
	}
	return fmt.Sprintf("pruned:%d", p.KeepRecent)
}

// MarshalText lets the policy print as its CLI form in JSON output.
func (p RetentionPolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// pruneBelow returns the lowest number whose body must survive once the best
// block is best.
func (p RetentionPolicy) pruneBelow(best uint64) uint64 {
	if p.IsArchive() || best <= p.KeepRecent {
		return 0
	}
	return best - p.KeepRecent
}

const policySize = 1 + 8

func (p RetentionPolicy) appendTo(out []byte) []byte {
	out = append(out, byte(p.Kind))
	return binary.BigEndian.AppendUint64(out, p.KeepRecent)
}

func decodePolicy(buf []byte) (RetentionPolicy, error) {
	if len(buf) < policySize {
		return RetentionPolicy{}, fmt.Errorf("%w: short policy record", ErrCorrupt)
	}
	p := RetentionPolicy{Kind: PolicyKind(buf[0]), KeepRecent: binary.BigEndian.Uint64(buf[1:policySize])}
	switch p.Kind {
	case PolicyArchive:
		if p.KeepRecent != 0 {
			return RetentionPolicy{}, fmt.Errorf("%w: archive policy with keep_recent", ErrCorrupt)
		}
	case PolicyPruned:
	default:
		return RetentionPolicy{}, fmt.Errorf("%w: unknown policy kind %d", ErrCorrupt, p.Kind)
	}
	return p, nil
}
