package nemesis

import (
	"context"
	"math"
	"math/rand/v2"

	"github.com/cockroachdb/errors"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/st3v3nmw/faultline/internal/cluster"
	"github.com/st3v3nmw/faultline/internal/control"
	"github.com/st3v3nmw/faultline/internal/history"
)

// CrashTruncate kills a fixed subset of nodes, chops the tail off their
// write-ahead logs and boots them again.
type CrashTruncate struct {
	targets     []cluster.Node
	maxTruncate int64
	control     control.Controller
	rand        *rand.Rand
	logger      log.Logger
}

// NewCrashTruncate picks floor(fraction*len(nodes)) targets once; every
// invocation hits the same ones.
func NewCrashTruncate(
	nodes []cluster.Node,
	fraction float64,
	maxTruncate int64,
	ctl control.Controller,
	r *rand.Rand,
	logger log.Logger,
) (*CrashTruncate, error) {
	if fraction <= 0 || fraction > 1 {
		return nil, errors.AssertionFailedf("crash fraction must be in (0, 1], got %v", fraction)
	}
	if maxTruncate < 1 {
		return nil, errors.AssertionFailedf("max truncate bytes must be positive, got %d", maxTruncate)
	}

	shuffled := make([]cluster.Node, len(nodes))
	copy(shuffled, nodes)
	r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	// The epsilon keeps products like 0.29*100 from flooring one short.
	n := int(math.Floor(fraction*float64(len(nodes)) + 1e-9))
	targets := cluster.Sorted(shuffled[:n])

	level.Info(logger).Log("msg", "crash targets chosen", "targets", len(targets), "of", len(nodes))

	return &CrashTruncate{
		targets:     targets,
		maxTruncate: maxTruncate,
		control:     ctl,
		rand:        r,
		logger:      logger,
	}, nil
}

// Targets returns the nodes this nemesis crashes.
func (c *CrashTruncate) Targets() []cluster.Node {
	return c.targets
}

func (c *CrashTruncate) Setup(context.Context) error { return nil }

func (c *CrashTruncate) Invoke(ctx context.Context, op history.Op) history.Op {
	if op.F != history.Truncate {
		return unsupported(op)
	}

	// Drawn up front; rand.Rand is not safe for the fan-out below.
	cuts := make(map[cluster.Node]int64, len(c.targets))
	for _, node := range c.targets {
		cuts[node] = 1 + c.rand.Int64N(c.maxTruncate)
	}

	err := control.OnNodes(ctx, c.targets, func(ctx context.Context, node cluster.Node) error {
		if err := control.Shutdown(ctx, c.control, node); err != nil {
			// Bring back whatever did stop.
			return errors.CombineErrors(err, control.Restart(ctx, c.control, node))
		}

		if err := c.control.TruncateLog(ctx, node, cuts[node]); err != nil {
			return errors.Wrap(err, "truncating log")
		}

		level.Debug(c.logger).Log("msg", "truncated log", "node", node, "bytes", cuts[node])

		return control.Restart(ctx, c.control, node)
	})
	if err != nil {
		level.Warn(c.logger).Log("msg", "crash-truncate failed", "err", err)
	}

	return op.Complete(outcome(err), cuts, err)
}

// Teardown boots every target, whatever state an interrupted invocation
// left it in.
func (c *CrashTruncate) Teardown(ctx context.Context) error {
	return control.OnNodes(ctx, c.targets, func(ctx context.Context, node cluster.Node) error {
		return control.Restart(ctx, c.control, node)
	})
}
