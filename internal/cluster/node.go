package cluster

import (
	"slices"
	"strings"
)

// Node is the network name of a cluster member, e.g. "n1".
type Node string

// Nodes parses a comma separated list of node names, dropping blanks.
func Nodes(list string) []Node {
	var nodes []Node
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		nodes = append(nodes, Node(name))
	}

	return nodes
}

// Sorted returns a sorted copy of nodes.
func Sorted(nodes []Node) []Node {
	out := slices.Clone(nodes)
	slices.Sort(out)
	return out
}

// Without returns nodes minus every node in exclude.
func Without(nodes []Node, exclude ...Node) []Node {
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		if !slices.Contains(exclude, n) {
			out = append(out, n)
		}
	}

	return out
}
