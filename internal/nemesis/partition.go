package nemesis

import (
	"context"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/st3v3nmw/faultline/internal/cluster"
	"github.com/st3v3nmw/faultline/internal/control"
	"github.com/st3v3nmw/faultline/internal/grudge"
	"github.com/st3v3nmw/faultline/internal/history"
)

// Partition cuts the network into the components of a grudge on start and
// heals it on stop. The grudge is rebuilt on every start.
type Partition struct {
	nodes    []cluster.Node
	strategy grudge.Strategy
	net      control.Net
	logger   log.Logger
}

func NewPartition(nodes []cluster.Node, strategy grudge.Strategy, net control.Net, logger log.Logger) *Partition {
	return &Partition{nodes: nodes, strategy: strategy, net: net, logger: logger}
}

// Setup clears rules left over from an earlier run.
func (p *Partition) Setup(ctx context.Context) error {
	return p.net.Heal(ctx)
}

func (p *Partition) Invoke(ctx context.Context, op history.Op) history.Op {
	switch op.F {
	case history.Start:
		g := p.strategy.Grudge(p.nodes)
		err := p.net.Drop(ctx, g)
		if err != nil {
			level.Warn(p.logger).Log("msg", "partition failed", "grudge", g.String(), "err", err)
		}

		return op.Complete(outcome(err), g, err)

	case history.Stop:
		err := p.net.Heal(ctx)
		if err != nil {
			level.Warn(p.logger).Log("msg", "heal failed", "err", err)
		}

		return op.Complete(outcome(err), nil, err)

	default:
		return unsupported(op)
	}
}

func (p *Partition) Teardown(ctx context.Context) error {
	return p.net.Heal(ctx)
}
