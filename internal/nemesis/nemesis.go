// Package nemesis injects faults into a running cluster.
//
// A nemesis is driven by operations on the nemesis process: the scheduler
// invokes it with an op and records the completion it returns.
package nemesis

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/st3v3nmw/faultline/internal/history"
	"github.com/st3v3nmw/faultline/internal/validator"
)

// Kind names a family of faults.
type Kind string

const (
	KindNone               Kind = "none"
	KindPartition          Kind = "partition"
	KindCrashTruncate      Kind = "crash-truncate"
	KindChangingValidators Kind = "changing-validators"
)

// ParseKind rejects unknown fault kinds.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindNone, KindPartition, KindCrashTruncate, KindChangingValidators:
		return k, nil
	default:
		return "", errors.Newf("unknown nemesis kind %q", s)
	}
}

// Nemesis injects one family of faults.
type Nemesis interface {
	// Setup prepares the cluster before any operation runs.
	Setup(ctx context.Context) error
	// Invoke performs op and returns its completion.
	Invoke(ctx context.Context, op history.Op) history.Op
	// Teardown undoes every fault, even ones left half-applied.
	Teardown(ctx context.Context) error
}

// Op returns a nemesis invocation of f.
func Op(f history.F) history.Op {
	return history.Op{Process: history.NemesisProcess, Type: history.Invoke, F: f}
}

// Exhausted reports whether a completed op says the nemesis has nothing left
// to inject, so the scheduler should stop invoking it.
func Exhausted(op history.Op) bool {
	t, ok := op.Value.(validator.Transition)
	return ok && t.Kind == validator.KindStop
}

// outcome is the completion type of a fault. A fault that errored may still
// have partly applied.
func outcome(err error) history.Type {
	if err != nil {
		return history.Info
	}

	return history.OK
}

func unsupported(op history.Op) history.Op {
	return op.Complete(history.Fail, op.Value, errors.Newf("unsupported nemesis operation %q", op.F))
}

// Noop never injects anything.
type Noop struct{}

func (Noop) Setup(context.Context) error { return nil }

func (Noop) Invoke(_ context.Context, op history.Op) history.Op {
	return op.Complete(history.OK, op.Value, nil)
}

func (Noop) Teardown(context.Context) error { return nil }
