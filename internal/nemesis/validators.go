package nemesis

import (
	"context"
	"maps"
	"math/rand/v2"
	"slices"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/st3v3nmw/faultline/internal/cluster"
	"github.com/st3v3nmw/faultline/internal/history"
	"github.com/st3v3nmw/faultline/internal/validator"
)

// ChangingValidators walks the validator set through random legal
// transitions. It is not safe for concurrent invocations.
type ChangingValidators struct {
	nodes     []cluster.Node
	applier   *validator.Applier
	generator *validator.Generator
	rand      *rand.Rand
	logger    log.Logger
}

func NewChangingValidators(
	nodes []cluster.Node,
	applier *validator.Applier,
	generator *validator.Generator,
	r *rand.Rand,
	logger log.Logger,
) *ChangingValidators {
	return &ChangingValidators{
		nodes:     nodes,
		applier:   applier,
		generator: generator,
		rand:      r,
		logger:    logger,
	}
}

func (v *ChangingValidators) Setup(context.Context) error { return nil }

// Invoke applies the transition in op.Value, or a freshly generated one when
// op carries none.
func (v *ChangingValidators) Invoke(ctx context.Context, op history.Op) history.Op {
	if op.F != history.Transition {
		return unsupported(op)
	}

	state := v.applier.Config().Snapshot()
	if op.Value == nil {
		t, err := v.generator.Next(state)
		if err != nil {
			return op.Complete(history.Fail, nil, err)
		}
		op.Value = t
	}

	via := v.via(state)
	level.Debug(v.logger).Log("msg", "transition", "via", via, "value", op.Value)

	return v.applier.Invoke(ctx, via, op)
}

// via picks a running node to send cluster calls through.
func (v *ChangingValidators) via(state validator.State) cluster.Node {
	running := slices.Sorted(maps.Keys(state.Nodes))
	if len(running) == 0 {
		running = v.nodes
	}

	return running[v.rand.IntN(len(running))]
}

func (v *ChangingValidators) Teardown(context.Context) error { return nil }
