package grudge_test

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/st3v3nmw/faultline/internal/cluster"
	"github.com/st3v3nmw/faultline/internal/grudge"
	"github.com/st3v3nmw/faultline/internal/identity"
)

func nodes(n int) []cluster.Node {
	out := make([]cluster.Node, n)
	for i := range out {
		out[i] = cluster.Node(fmt.Sprintf("n%d", i+1))
	}

	return out
}

func requireDisjoint(t *testing.T, g grudge.Grudge, all []cluster.Node) {
	t.Helper()

	seen := make(map[cluster.Node]int)
	for _, component := range g {
		for _, n := range component {
			seen[n]++
		}
	}

	for n, count := range seen {
		require.Equal(t, 1, count, "node %s appears in %d components", n, count)
		require.Contains(t, all, n)
	}
}

func TestPeekaboo(t *testing.T) {
	all := nodes(7)
	clones := map[cluster.Node]cluster.Node{"n2": "n1", "n3": "n1", "n4": "n1"}
	grouping := identity.GroupNodes(all, clones)
	dup := grouping.Dups[0].Members

	p := grudge.Peekaboo{Grouping: grouping, Rand: rand.New(rand.NewPCG(3, 4))}

	kept := make(map[cluster.Node]bool)
	for i := 0; i < 100; i++ {
		g := p.Grudge(all)
		requireDisjoint(t, g, all)
		require.Equal(t, all, cluster.Sorted(g.Nodes()))

		// main + one exile per non-representative member
		require.Len(t, g, 1+len(dup)-1)

		main := g[0]
		for _, n := range grouping.Singles {
			require.Contains(t, main, n)
		}

		var reps []cluster.Node
		for _, n := range main {
			if slices.Contains(dup, n) {
				reps = append(reps, n)
			}
		}
		require.Len(t, reps, 1)
		kept[reps[0]] = true

		for _, exile := range g[1:] {
			require.Len(t, exile, 1)
			require.Contains(t, dup, exile[0])
		}
	}

	require.Greater(t, len(kept), 1, "representative should be re-rolled between calls")
}

func TestPeekabooWithoutDups(t *testing.T) {
	all := nodes(4)
	p := grudge.Peekaboo{Grouping: identity.GroupNodes(all, nil), Rand: rand.New(rand.NewPCG(1, 1))}

	g := p.Grudge(all)
	require.Equal(t, grudge.Grudge{all}, g)
	require.Empty(t, g.Drops())
}

func TestSplit(t *testing.T) {
	tests := []struct {
		name   string
		nodes  []cluster.Node
		clones map[cluster.Node]cluster.Node
		m      int
	}{
		{
			name:   "Pair",
			nodes:  nodes(5),
			clones: map[cluster.Node]cluster.Node{"n2": "n1"},
			m:      2,
		},
		{
			name:   "Trio",
			nodes:  nodes(7),
			clones: map[cluster.Node]cluster.Node{"n5": "n1", "n7": "n1"},
			m:      3,
		},
		{
			name:  "No Dups",
			nodes: nodes(4),
			m:     1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			grouping := identity.GroupNodes(tt.nodes, tt.clones)
			s := grudge.Split{Grouping: grouping, Rand: rand.New(rand.NewPCG(5, 6))}

			for i := 0; i < 50; i++ {
				g := s.Grudge(tt.nodes)
				require.Len(t, g, tt.m)
				requireDisjoint(t, g, tt.nodes)
				require.Equal(t, tt.nodes, cluster.Sorted(g.Nodes()))

				sizes := make([]int, len(g))
				for j, component := range g {
					require.NotEmpty(t, component)
					sizes[j] = len(component)
				}
				require.LessOrEqual(t, slices.Max(sizes)-slices.Min(sizes), 1)

				for _, dup := range grouping.Dups {
					for _, component := range g {
						count := 0
						for _, n := range dup.Members {
							if slices.Contains(component, n) {
								count++
							}
						}
						require.LessOrEqual(t, count, 1, "clones of %s share a component", dup.Identity)
					}
				}
			}
		})
	}
}

func TestHalves(t *testing.T) {
	all := nodes(5)
	h := grudge.Halves{Rand: rand.New(rand.NewPCG(7, 8))}

	g := h.Grudge(all)
	require.Len(t, g, 2)
	require.Len(t, g[0], 3)
	require.Len(t, g[1], 2)
	requireDisjoint(t, g, all)

	require.Equal(t, grudge.Grudge{{"n1"}}, h.Grudge([]cluster.Node{"n1"}))
}

func TestDrops(t *testing.T) {
	g := grudge.Grudge{{"n1", "n2"}, {"n3"}, {"n4"}}

	require.Equal(t, map[cluster.Node][]cluster.Node{
		"n1": {"n3", "n4"},
		"n2": {"n3", "n4"},
		"n3": {"n1", "n2", "n4"},
		"n4": {"n1", "n2", "n3"},
	}, g.Drops())

	require.Equal(t, "[{n1 n2} {n3} {n4}]", g.String())
}
