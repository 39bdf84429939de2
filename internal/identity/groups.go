package identity

import (
	"cmp"
	"slices"

	"github.com/st3v3nmw/faultline/internal/cluster"
)

// Group is a set of nodes that all sign with one validator key.
type Group struct {
	// Identity is the node whose key every member uses.
	Identity cluster.Node
	Members  []cluster.Node
}

// Dup reports whether more than one node shares the key.
func (g Group) Dup() bool {
	return len(g.Members) > 1
}

// Grouping is the result of bucketing nodes by validator identity.
type Grouping struct {
	// Groups partitions the node set.
	Groups []Group
	// Singles holds nodes whose identity is not shared.
	Singles []cluster.Node
	// Dups holds the groups of size > 1.
	Dups []Group
}

// GroupNodes buckets nodes by the identity they imitate. A node absent from
// clones imitates itself.
func GroupNodes(nodes []cluster.Node, clones map[cluster.Node]cluster.Node) Grouping {
	buckets := make(map[cluster.Node][]cluster.Node)
	for _, node := range nodes {
		id, ok := clones[node]
		if !ok {
			id = node
		}

		buckets[id] = append(buckets[id], node)
	}

	var g Grouping
	for id, members := range buckets {
		g.Groups = append(g.Groups, Group{Identity: id, Members: cluster.Sorted(members)})
	}

	slices.SortFunc(g.Groups, func(a, b Group) int {
		return cmp.Compare(a.Members[0], b.Members[0])
	})

	for _, group := range g.Groups {
		if group.Dup() {
			g.Dups = append(g.Dups, group)
		} else {
			g.Singles = append(g.Singles, group.Members[0])
		}
	}

	return g
}

// Nodes returns every node in the grouping.
func (g Grouping) Nodes() []cluster.Node {
	var nodes []cluster.Node
	for _, group := range g.Groups {
		nodes = append(nodes, group.Members...)
	}

	return nodes
}

// IdentityOf returns the identity a node signs with.
func (g Grouping) IdentityOf(node cluster.Node) (cluster.Node, bool) {
	for _, group := range g.Groups {
		if slices.Contains(group.Members, node) {
			return group.Identity, true
		}
	}

	return "", false
}

// LargestDup returns the size of the largest duplicate group, or 1 when
// every identity is unique.
func (g Grouping) LargestDup() int {
	m := 1
	for _, group := range g.Dups {
		m = max(m, len(group.Members))
	}

	return m
}
