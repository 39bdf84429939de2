package identity

import (
	"github.com/cockroachdb/errors"

	"github.com/st3v3nmw/faultline/internal/cluster"
)

// AttackMode selects how much voting power a duplicated identity gets.
type AttackMode string

const (
	// Regular gives the duplicated identity just under a third of the votes,
	// so it needs one honest ally to block consensus.
	Regular AttackMode = "regular"
	// Super gives the duplicated identity just under two thirds of the votes,
	// so one honest ally is enough for it to reach quorum.
	Super AttackMode = "super"
)

// ParseAttackMode rejects unknown attack modes.
func ParseAttackMode(s string) (AttackMode, error) {
	switch mode := AttackMode(s); mode {
	case Regular, Super:
		return mode, nil
	default:
		return "", errors.Newf("unknown attack mode %q, want %q or %q", s, Regular, Super)
	}
}

// Weights maps every node, and every identity, to its voting weight.
type Weights struct {
	ByNode     map[cluster.Node]int64
	ByIdentity map[cluster.Node]int64
}

// Total is the voting weight the protocol sees: one entry per identity.
func (w Weights) Total() int64 {
	var total int64
	for _, v := range w.ByIdentity {
		total += v
	}

	return total
}

// Fraction returns the share of the total held by identity.
func (w Weights) Fraction(identity cluster.Node) float64 {
	total := w.Total()
	if total == 0 {
		return 0
	}

	return float64(w.ByIdentity[identity]) / float64(total)
}

// AllocateWeights computes the voting weight of every node. Only one
// duplicate group is supported; more is a setup error.
func AllocateWeights(g Grouping, mode AttackMode) (Weights, error) {
	if len(g.Dups) > 1 {
		return Weights{}, errors.AssertionFailedf(
			"at most one duplicate validator group is supported, got %d", len(g.Dups))
	}

	w := Weights{
		ByNode:     make(map[cluster.Node]int64),
		ByIdentity: make(map[cluster.Node]int64),
	}

	if len(g.Dups) == 0 {
		for _, group := range g.Groups {
			w.assign(group, 1)
		}

		return w, nil
	}

	// A duplicate identity needs at least one honest identity beside it, or
	// both formulas go negative.
	n := int64(len(g.Groups))
	if n < 2 {
		return Weights{}, errors.AssertionFailedf(
			"a duplicate validator group needs at least one other identity, got %d identities", n)
	}

	var dup int64
	switch mode {
	case Regular:
		dup = n - 2
	case Super:
		dup = 4*(n-1) - 1
	default:
		return Weights{}, errors.AssertionFailedf("unknown attack mode %q", mode)
	}

	for _, group := range g.Groups {
		if group.Dup() {
			w.assign(group, dup)
		} else {
			w.assign(group, 2)
		}
	}

	return w, nil
}

func (w Weights) assign(group Group, weight int64) {
	w.ByIdentity[group.Identity] = weight
	for _, node := range group.Members {
		w.ByNode[node] = weight
	}
}
