package validator

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/st3v3nmw/faultline/internal/client"
	"github.com/st3v3nmw/faultline/internal/cluster"
	"github.com/st3v3nmw/faultline/internal/control"
	"github.com/st3v3nmw/faultline/internal/history"
)

// Applier executes transitions against the live cluster and keeps the
// expected state in step with them.
type Applier struct {
	cluster client.Cluster
	control control.Controller
	config  *Config
	logger  log.Logger
}

// NewApplier creates an applier that records into config.
func NewApplier(c client.Cluster, ctl control.Controller, config *Config, logger log.Logger) *Applier {
	return &Applier{cluster: c, control: ctl, config: config, logger: logger}
}

// Config returns the expected state the applier advances.
func (a *Applier) Config() *Config {
	return a.config
}

// Apply runs t, issuing cluster calls through node, and returns the
// outcome. The expected state advances by t once the call returns, whether
// or not the cluster accepted it.
func (a *Applier) Apply(ctx context.Context, node cluster.Node, t Transition) (history.Type, error) {
	if err := t.Validate(); err != nil {
		return history.Fail, err
	}

	err := a.execute(ctx, node, t)
	state := a.config.Step(t)

	outcome := client.Classify(history.Transition, err)
	level.Info(a.logger).Log(
		"msg", "applied transition",
		"transition", t.String(),
		"via", node,
		"outcome", outcome,
		"version", state.Version,
		"err", err,
	)

	return outcome, err
}

func (a *Applier) execute(ctx context.Context, node cluster.Node, t Transition) error {
	switch t.Kind {
	case KindAdd, KindRemove, KindAlterVotes:
		return a.cluster.ValidatorSetCAS(ctx, node, t.Version, t.PubKey, t.casVotes())

	case KindCreate:
		if err := a.control.WriteValidatorKey(ctx, t.Node, *t.Key); err != nil {
			return errors.Wrap(err, "writing validator key")
		}

		return control.Restart(ctx, a.control, t.Node)

	case KindDestroy:
		if err := control.Shutdown(ctx, a.control, t.Node); err != nil {
			return err
		}

		return errors.Wrap(a.control.ResetNodeState(ctx, t.Node), "wiping node state")

	case KindStop:
		return nil

	default:
		return errors.AssertionFailedf("unhandled transition kind %q", t.Kind)
	}
}

// Invoke applies the transition carried by op and returns its completion.
func (a *Applier) Invoke(ctx context.Context, node cluster.Node, op history.Op) history.Op {
	t, ok := op.Value.(Transition)
	if !ok {
		return op.Complete(history.Fail, op.Value, errors.Newf("unexpected value %T", op.Value))
	}

	outcome, err := a.Apply(ctx, node, t)
	return op.Complete(outcome, t, err)
}
