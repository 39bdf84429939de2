package validator

import (
	"maps"
	"math/rand/v2"
	"slices"

	"github.com/st3v3nmw/faultline/internal/cluster"
	"github.com/st3v3nmw/faultline/internal/control"
)

// Generator proposes the next legal transition from the expected state.
//
// A legal state keeps at least MinValidators validators and gives no single
// key a third or more of the total votes.
type Generator struct {
	Nodes         []cluster.Node
	MinValidators int
	MaxVotes      int64
	// Limit is the number of transitions before Stop; zero means no limit.
	Limit int
	Rand  *rand.Rand

	count int
}

// Legal reports whether s is a state the generator may move into.
func (g *Generator) Legal(s State) bool {
	if len(s.Validators) < g.MinValidators {
		return false
	}

	total := s.TotalVotes()
	for _, votes := range s.Validators {
		if votes <= 0 || 3*votes >= total {
			return false
		}
	}

	return true
}

// Next returns a transition that is legal from s, or Stop when the limit is
// reached or nothing is legal.
func (g *Generator) Next(s State) (Transition, error) {
	if g.Limit > 0 && g.count >= g.Limit {
		return Stop(), nil
	}

	var candidates []Transition

	for _, pubKey := range s.Prospective() {
		candidates = append(candidates, Add(s.Version, pubKey, g.votes()))
	}

	validators := slices.Sorted(maps.Keys(s.Validators))
	for _, pubKey := range validators {
		candidates = append(candidates, Remove(s.Version, pubKey))
		candidates = append(candidates, AlterVotes(s.Version, pubKey, g.votes()))
	}

	legal := candidates[:0]
	for _, t := range candidates {
		if g.Legal(s.step(t)) {
			legal = append(legal, t)
		}
	}

	for _, node := range g.Nodes {
		pubKey, running := s.Nodes[node]
		if !running {
			legal = append(legal, Transition{Kind: KindCreate, Node: node})
			continue
		}

		if _, voting := s.Validators[pubKey]; !voting {
			legal = append(legal, Destroy(node))
		}
	}

	if len(legal) == 0 {
		return Stop(), nil
	}

	t := legal[g.Rand.IntN(len(legal))]
	if t.Kind == KindCreate {
		key, err := control.NewKey()
		if err != nil {
			return Transition{}, err
		}
		t = Create(t.Node, key)
	}

	g.count++
	return t, nil
}

func (g *Generator) votes() int64 {
	return 1 + g.Rand.Int64N(max(g.MaxVotes, 1))
}
