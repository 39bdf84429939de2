package validator

import (
	"maps"
	"slices"
	"sync"

	"github.com/st3v3nmw/faultline/internal/cluster"
	"github.com/st3v3nmw/faultline/internal/control"
)

// State is what the test believes the cluster's membership is.
type State struct {
	Version int64 `yaml:"version"`
	// Validators maps public keys to their votes.
	Validators map[string]int64 `yaml:"validators"`
	// Nodes maps every running node to the key it signs with.
	Nodes map[cluster.Node]string `yaml:"nodes"`
}

func (s State) clone() State {
	return State{
		Version:    s.Version,
		Validators: maps.Clone(s.Validators),
		Nodes:      maps.Clone(s.Nodes),
	}
}

// TotalVotes sums the votes of every validator.
func (s State) TotalVotes() int64 {
	var total int64
	for _, votes := range s.Validators {
		total += votes
	}

	return total
}

// Prospective returns keys running on some node that are not validators.
func (s State) Prospective() []string {
	var keys []string
	for _, pubKey := range s.Nodes {
		if _, ok := s.Validators[pubKey]; !ok && !slices.Contains(keys, pubKey) {
			keys = append(keys, pubKey)
		}
	}

	slices.Sort(keys)
	return keys
}

// step applies t to a copy of s.
func (s State) step(t Transition) State {
	next := s.clone()

	switch t.Kind {
	case KindAdd, KindAlterVotes:
		next.Validators[t.PubKey] = t.Votes
		next.Version = t.Version + 1
	case KindRemove:
		delete(next.Validators, t.PubKey)
		next.Version = t.Version + 1
	case KindCreate:
		next.Nodes[t.Node] = t.PubKey
	case KindDestroy:
		delete(next.Nodes, t.Node)
	case KindStop:
	}

	return next
}

// Config is the mutex-guarded expected validator state of one run. The
// transition applier writes it; generators and the checker read snapshots.
type Config struct {
	mu    sync.RWMutex
	state State
}

// NewConfig starts from the genesis validator set. Every node in a genesis
// validator's Nodes runs that validator's key.
func NewConfig(genesis control.Genesis) *Config {
	state := State{
		Version:    genesis.Version,
		Validators: make(map[string]int64),
		Nodes:      make(map[cluster.Node]string),
	}

	for _, v := range genesis.Validators {
		state.Validators[v.PubKey] = v.Votes
		for _, node := range v.Nodes {
			state.Nodes[node] = v.PubKey
		}
	}

	return &Config{state: state}
}

// Snapshot returns a copy of the current state.
func (c *Config) Snapshot() State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.state.clone()
}

// Step advances the expected state by t and returns the new state.
func (c *Config) Step(t Transition) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = c.state.step(t)
	return c.state.clone()
}
