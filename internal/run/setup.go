package run

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/go-kit/log"

	"github.com/st3v3nmw/faultline/internal/client"
	"github.com/st3v3nmw/faultline/internal/cluster"
	"github.com/st3v3nmw/faultline/internal/config"
	"github.com/st3v3nmw/faultline/internal/control"
	"github.com/st3v3nmw/faultline/internal/identity"
)

// Bootstrapper writes the initial validator set where nodes read it on boot.
type Bootstrapper interface {
	Bootstrap(genesis control.Genesis) error
}

// Deps are the collaborators a run drives the cluster through.
type Deps struct {
	Cluster      client.Cluster
	Control      control.Controller
	Net          control.Net
	Bootstrapper Bootstrapper
	// Close releases whatever the deps hold once the run is over.
	Close func()
}

// LocalDeps wires the HTTP client, local process control and iptables
// partitions described by cfg.
func LocalDeps(cfg *config.Config, logger log.Logger) Deps {
	local := control.NewLocal(cfg.NodeSpecs, cfg.Timeouts, log.With(logger, "component", "control"))
	runner := control.ExecRunner{Prefix: cfg.Net.Prefix}

	return Deps{
		Cluster:      client.NewHTTP(cfg.Addrs, cfg.ClientTimeout),
		Control:      local,
		Net:          control.NewIPTables(cfg.Nodes, cfg.Net.IPs, runner, log.With(logger, "component", "net")),
		Bootstrapper: local,
		Close:        local.Close,
	}
}

// Genesis gives every identity a fresh key and its allocated votes.
func Genesis(g identity.Grouping, w identity.Weights) (control.Genesis, map[cluster.Node]control.Key, error) {
	var genesis control.Genesis
	keys := make(map[cluster.Node]control.Key)

	for _, group := range g.Groups {
		key, err := control.NewKey()
		if err != nil {
			return control.Genesis{}, nil, err
		}

		genesis.Validators = append(genesis.Validators, control.GenesisValidator{
			Identity: group.Identity,
			Nodes:    group.Members,
			PubKey:   key.PubKey,
			Votes:    w.ByIdentity[group.Identity],
		})

		for _, node := range group.Members {
			keys[node] = key
		}
	}

	return genesis, keys, nil
}

// provision writes keys and genesis, then boots every node.
func provision(ctx context.Context, deps Deps, genesis control.Genesis, keys map[cluster.Node]control.Key, nodes []cluster.Node) error {
	err := control.OnNodes(ctx, nodes, func(ctx context.Context, node cluster.Node) error {
		return deps.Control.WriteValidatorKey(ctx, node, keys[node])
	})
	if err != nil {
		return errors.Wrap(err, "writing validator keys")
	}

	if deps.Bootstrapper != nil {
		if err := deps.Bootstrapper.Bootstrap(genesis); err != nil {
			return errors.Wrap(err, "writing genesis")
		}
	}

	err = control.OnNodes(ctx, nodes, func(ctx context.Context, node cluster.Node) error {
		return control.Restart(ctx, deps.Control, node)
	})
	return errors.Wrap(err, "starting nodes")
}
