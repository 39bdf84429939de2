// Package profiles registers the fault profiles a run can pick from.
package profiles

import (
	"github.com/cockroachdb/errors"

	"github.com/st3v3nmw/faultline/internal/grudge"
	"github.com/st3v3nmw/faultline/internal/history"
	"github.com/st3v3nmw/faultline/internal/nemesis"
	"github.com/st3v3nmw/faultline/internal/registry"
)

func init() {
	registry.RegisterProfile("none", &registry.Profile{
		Name:    "No Faults",
		Summary: "Runs the workload against a healthy cluster.",
		Kind:    nemesis.KindNone,
		Build: func(registry.Env) (nemesis.Nemesis, error) {
			return nemesis.Noop{}, nil
		},
	})

	registry.RegisterProfile("partition-halves", &registry.Profile{
		Name:     "Majority/Minority Partitions",
		Summary:  "Repeatedly cuts the cluster into a random majority and minority.",
		Kind:     nemesis.KindPartition,
		Schedule: []history.F{history.Start, history.Stop},
		Build:    PartitionHalves,
	})

	registry.RegisterProfile("peekaboo-dup-validators", &registry.Profile{
		Name: "Peekaboo Duplicate Validators",
		Summary: `Keeps one random node of every duplicated validator connected to the
rest of the cluster and isolates its clones.`,
		Kind:     nemesis.KindPartition,
		Schedule: []history.F{history.Start, history.Stop},
		Build:    PeekabooDupValidators,
	})

	registry.RegisterProfile("split-dup-validators", &registry.Profile{
		Name: "Split Duplicate Validators",
		Summary: `Splits the cluster into as many components as the largest duplicated
validator has nodes, no two clones together.`,
		Kind:     nemesis.KindPartition,
		Schedule: []history.F{history.Start, history.Stop},
		Build:    SplitDupValidators,
	})

	registry.RegisterProfile("crash-truncate", &registry.Profile{
		Name:     "Crash and Truncate",
		Summary:  "Kills a fixed subset of nodes and chops the tail off their logs.",
		Kind:     nemesis.KindCrashTruncate,
		Schedule: []history.F{history.Truncate},
		Build:    CrashTruncate,
	})

	registry.RegisterProfile("changing-validators", &registry.Profile{
		Name:     "Changing Validators",
		Summary:  "Adds, removes and reweights validators while nodes come and go.",
		Kind:     nemesis.KindChangingValidators,
		Schedule: []history.F{history.Transition},
		Build:    ChangingValidators,
	})
}

func PartitionHalves(env registry.Env) (nemesis.Nemesis, error) {
	strategy := grudge.Halves{Rand: env.Rand}
	return nemesis.NewPartition(env.Nodes, strategy, env.Net, env.Logger), nil
}

func PeekabooDupValidators(env registry.Env) (nemesis.Nemesis, error) {
	if err := needDups(env); err != nil {
		return nil, err
	}

	strategy := grudge.Peekaboo{Grouping: env.Grouping, Rand: env.Rand}
	return nemesis.NewPartition(env.Nodes, strategy, env.Net, env.Logger), nil
}

func SplitDupValidators(env registry.Env) (nemesis.Nemesis, error) {
	if err := needDups(env); err != nil {
		return nil, err
	}

	strategy := grudge.Split{Grouping: env.Grouping, Rand: env.Rand}
	return nemesis.NewPartition(env.Nodes, strategy, env.Net, env.Logger), nil
}

func CrashTruncate(env registry.Env) (nemesis.Nemesis, error) {
	return nemesis.NewCrashTruncate(env.Nodes, env.CrashFraction, env.MaxTruncateBytes, env.Control, env.Rand, env.Logger)
}

func ChangingValidators(env registry.Env) (nemesis.Nemesis, error) {
	if env.Applier == nil {
		return nil, errors.New("changing validators needs a transition applier")
	}

	gen := env.Validators
	gen.Nodes = env.Nodes
	gen.Rand = env.Rand

	return nemesis.NewChangingValidators(env.Nodes, env.Applier, &gen, env.Rand, env.Logger), nil
}

func needDups(env registry.Env) error {
	if len(env.Grouping.Dups) == 0 {
		return errors.New("this profile needs duplicated validators; map some nodes to others under 'clones'")
	}

	return nil
}
