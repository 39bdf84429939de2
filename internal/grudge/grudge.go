// Package grudge builds network partition topologies.
//
// A grudge is a list of disjoint components. Nodes in different components
// cannot talk to each other. The first component is the main one.
package grudge

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/st3v3nmw/faultline/internal/cluster"
)

// Grudge is an ordered list of pairwise disjoint components.
type Grudge [][]cluster.Node

// Strategy produces a grudge each time a partition starts. Implementations
// must re-roll their random choices on every call.
type Strategy interface {
	Grudge(nodes []cluster.Node) Grudge
}

// Drops returns, for every mentioned node, the nodes it must drop traffic
// from: everyone outside its own component.
func (g Grudge) Drops() map[cluster.Node][]cluster.Node {
	drops := make(map[cluster.Node][]cluster.Node)
	for i, component := range g {
		var others []cluster.Node
		for j, other := range g {
			if i != j {
				others = append(others, other...)
			}
		}

		for _, node := range component {
			if len(others) > 0 {
				drops[node] = cluster.Sorted(others)
			}
		}
	}

	return drops
}

// Nodes returns every node mentioned in the grudge.
func (g Grudge) Nodes() []cluster.Node {
	var nodes []cluster.Node
	for _, component := range g {
		nodes = append(nodes, component...)
	}

	return nodes
}

func (g Grudge) String() string {
	parts := make([]string, len(g))
	for i, component := range g {
		names := make([]string, len(component))
		for j, n := range component {
			names[j] = string(n)
		}

		parts[i] = "{" + strings.Join(names, " ") + "}"
	}

	return fmt.Sprintf("[%s]", strings.Join(parts, " "))
}

// Halves splits nodes into a random majority and minority.
type Halves struct {
	Rand *rand.Rand
}

func (h Halves) Grudge(nodes []cluster.Node) Grudge {
	shuffled := shuffle(h.Rand, nodes)
	cut := len(shuffled)/2 + 1
	if cut >= len(shuffled) {
		return Grudge{cluster.Sorted(shuffled)}
	}

	return Grudge{cluster.Sorted(shuffled[:cut]), cluster.Sorted(shuffled[cut:])}
}

func shuffle(r *rand.Rand, nodes []cluster.Node) []cluster.Node {
	out := make([]cluster.Node, len(nodes))
	copy(out, nodes)
	r.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}
