// Package validator tracks the expected validator set of the cluster and
// drives membership changes against it.
package validator

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/st3v3nmw/faultline/internal/cluster"
	"github.com/st3v3nmw/faultline/internal/control"
)

// Kind is the kind of a membership transition.
type Kind string

const (
	// KindAdd inserts a validator with some votes.
	KindAdd Kind = "add"
	// KindRemove sets a validator's votes to zero.
	KindRemove Kind = "remove"
	// KindAlterVotes changes a validator's votes.
	KindAlterVotes Kind = "alter-votes"
	// KindCreate writes a key to a node and boots it.
	KindCreate Kind = "create"
	// KindDestroy stops a node and wipes its state.
	KindDestroy Kind = "destroy"
	// KindStop marks the end of a transition schedule.
	KindStop Kind = "stop"
)

// ParseKind rejects unknown transition kinds.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindAdd, KindRemove, KindAlterVotes, KindCreate, KindDestroy, KindStop:
		return k, nil
	default:
		return "", errors.Newf("unknown transition kind %q", s)
	}
}

// Transition is one membership change. Which fields are meaningful depends
// on Kind; use the constructors.
type Transition struct {
	Kind Kind `yaml:"kind"`

	// Version is the validator set version the change applies to.
	Version int64  `yaml:"version,omitempty"`
	PubKey  string `yaml:"pub_key,omitempty"`
	Votes   int64  `yaml:"votes,omitempty"`

	// Node and Key are set for out-of-band create/destroy.
	Node cluster.Node `yaml:"node,omitempty"`
	Key  *control.Key `yaml:"-"`
}

func Add(version int64, pubKey string, votes int64) Transition {
	return Transition{Kind: KindAdd, Version: version, PubKey: pubKey, Votes: votes}
}

func Remove(version int64, pubKey string) Transition {
	return Transition{Kind: KindRemove, Version: version, PubKey: pubKey}
}

func AlterVotes(version int64, pubKey string, votes int64) Transition {
	return Transition{Kind: KindAlterVotes, Version: version, PubKey: pubKey, Votes: votes}
}

func Create(node cluster.Node, key control.Key) Transition {
	return Transition{Kind: KindCreate, Node: node, PubKey: key.PubKey, Key: &key}
}

func Destroy(node cluster.Node) Transition {
	return Transition{Kind: KindDestroy, Node: node}
}

func Stop() Transition {
	return Transition{Kind: KindStop}
}

// Validate checks that the fields Kind needs are present.
func (t Transition) Validate() error {
	switch t.Kind {
	case KindAdd, KindAlterVotes:
		if t.PubKey == "" {
			return errors.Newf("%s needs a public key", t.Kind)
		}
		if t.Votes <= 0 {
			return errors.Newf("%s needs positive votes, got %d", t.Kind, t.Votes)
		}
	case KindRemove:
		if t.PubKey == "" {
			return errors.Newf("%s needs a public key", t.Kind)
		}
	case KindCreate:
		if t.Node == "" || t.Key == nil {
			return errors.Newf("%s needs a node and a key", t.Kind)
		}
	case KindDestroy:
		if t.Node == "" {
			return errors.Newf("%s needs a node", t.Kind)
		}
	case KindStop:
	default:
		return errors.Newf("unknown transition kind %q", t.Kind)
	}

	return nil
}

// casVotes is the weight the cluster call sets for PubKey.
func (t Transition) casVotes() int64 {
	if t.Kind == KindRemove {
		return 0
	}

	return t.Votes
}

func (t Transition) String() string {
	switch t.Kind {
	case KindAdd, KindAlterVotes:
		return fmt.Sprintf("%s v%d %s=%d", t.Kind, t.Version, short(t.PubKey), t.Votes)
	case KindRemove:
		return fmt.Sprintf("%s v%d %s", t.Kind, t.Version, short(t.PubKey))
	case KindCreate:
		return fmt.Sprintf("%s %s %s", t.Kind, t.Node, short(t.PubKey))
	case KindDestroy:
		return fmt.Sprintf("%s %s", t.Kind, t.Node)
	default:
		return string(t.Kind)
	}
}

func short(pubKey string) string {
	if len(pubKey) > 8 {
		return pubKey[:8]
	}

	return pubKey
}
