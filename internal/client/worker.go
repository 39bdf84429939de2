package client

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/cockroachdb/errors"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/st3v3nmw/faultline/internal/cluster"
	"github.com/st3v3nmw/faultline/internal/history"
	"github.com/st3v3nmw/faultline/internal/retry"
)

// Register is the value of a read, write or cas operation.
type Register struct {
	Key   string `yaml:"key"`
	Value *int64 `yaml:"value,omitempty"`
	From  int64  `yaml:"from,omitempty"`
	To    int64  `yaml:"to,omitempty"`
}

// Worker issues workload operations against one node.
type Worker struct {
	Process int
	Node    cluster.Node

	cluster Cluster
	logger  log.Logger
}

// NewWorker creates a worker bound to node.
func NewWorker(process int, node cluster.Node, c Cluster, logger log.Logger) *Worker {
	return &Worker{
		Process: process,
		Node:    node,
		cluster: c,
		logger:  log.With(logger, "process", process, "node", node),
	}
}

// Invoke performs op and returns its completion. Errors never escape; they
// are folded into the outcome.
func (w *Worker) Invoke(ctx context.Context, op history.Op) history.Op {
	reg, ok := op.Value.(Register)
	if !ok {
		return op.Complete(history.Fail, op.Value, errors.Newf("unexpected value %T", op.Value))
	}

	var err error
	switch op.F {
	case history.Read:
		var (
			value int64
			found bool
		)
		value, found, err = w.cluster.Read(ctx, w.Node, reg.Key)
		if err == nil && found {
			reg.Value = &value
		}
	case history.Write:
		err = w.cluster.Write(ctx, w.Node, reg.Key, *reg.Value)
	case history.CAS:
		err = w.cluster.CompareAndSwap(ctx, w.Node, reg.Key, reg.From, reg.To)
	default:
		return op.Complete(history.Fail, op.Value, errors.Newf("unsupported operation %q", op.F))
	}

	outcome := Classify(op.F, err)
	if outcome == history.Info {
		level.Debug(w.logger).Log("msg", "indeterminate operation", "f", op.F, "key", reg.Key, "err", err)
	}

	return op.Complete(outcome, reg, err)
}

// Setup writes the initial value of every key, retrying transient failures.
// Running out of retries is fatal for the run.
func (w *Worker) Setup(ctx context.Context, keys []string, policy retry.Policy) error {
	for _, key := range keys {
		err := retry.Do(ctx, policy, func(ctx context.Context) error {
			err := w.cluster.Write(ctx, w.Node, key, 0)
			if err != nil {
				level.Warn(w.logger).Log("msg", "failed to initialise key", "key", key, "err", err)
			}

			return err
		})
		if err != nil {
			return errors.Wrapf(err, "initialising key %s", key)
		}
	}

	return nil
}

// Keys returns the register names used by a workload of n keys.
func Keys(n int) []string {
	keys := make([]string, n)
	for i := range keys {
		keys[i] = fmt.Sprintf("r%d", i)
	}

	return keys
}

// Generate returns a random read, write or cas invocation on one of keys.
func Generate(r *rand.Rand, process int, keys []string) history.Op {
	reg := Register{Key: keys[r.IntN(len(keys))]}

	op := history.Op{Process: process, Type: history.Invoke}
	switch r.IntN(3) {
	case 0:
		op.F = history.Read
	case 1:
		op.F = history.Write
		v := int64(r.IntN(5))
		reg.Value = &v
	default:
		op.F = history.CAS
		reg.From = int64(r.IntN(5))
		reg.To = int64(r.IntN(5))
	}

	op.Value = reg
	return op
}
