package grudge

import (
	"math/rand/v2"

	"github.com/st3v3nmw/faultline/internal/cluster"
	"github.com/st3v3nmw/faultline/internal/identity"
)

// Peekaboo keeps one random member of every duplicate group in the main
// component, next to all the singles. Every other member of the group is
// isolated on its own.
type Peekaboo struct {
	Grouping identity.Grouping
	Rand     *rand.Rand
}

func (p Peekaboo) Grudge(_ []cluster.Node) Grudge {
	main := append([]cluster.Node(nil), p.Grouping.Singles...)

	var exiles Grudge
	for _, group := range p.Grouping.Dups {
		keep := p.Rand.IntN(len(group.Members))
		for i, node := range group.Members {
			if i == keep {
				main = append(main, node)
				continue
			}

			exiles = append(exiles, []cluster.Node{node})
		}
	}

	return append(Grudge{cluster.Sorted(main)}, exiles...)
}

// Split deals nodes round-robin into as many components as the largest
// duplicate group has members, so clones of one identity end up on
// different sides, each with a fair share of honest nodes.
type Split struct {
	Grouping identity.Grouping
	Rand     *rand.Rand
}

func (s Split) Grudge(_ []cluster.Node) Grudge {
	m := s.Grouping.LargestDup()

	groups := make([]identity.Group, len(s.Grouping.Groups))
	copy(groups, s.Grouping.Groups)
	s.Rand.Shuffle(len(groups), func(i, j int) { groups[i], groups[j] = groups[j], groups[i] })

	g := make(Grudge, m)
	i := 0
	for _, group := range groups {
		for _, node := range shuffle(s.Rand, group.Members) {
			g[i%m] = append(g[i%m], node)
			i++
		}
	}

	for j := range g {
		g[j] = cluster.Sorted(g[j])
	}

	return g
}
