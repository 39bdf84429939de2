// Package retry runs setup steps with capped exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// Policy bounds how often and how slowly a step is retried.
type Policy struct {
	Attempts int           `yaml:"attempts"`
	Initial  time.Duration `yaml:"initial"`
	Max      time.Duration `yaml:"max"`
}

// DefaultPolicy returns the policy used for cluster setup steps.
func DefaultPolicy() Policy {
	return Policy{
		Attempts: 8,
		Initial:  100 * time.Millisecond,
		Max:      5 * time.Second,
	}
}

// ErrExhausted marks errors returned once every attempt has failed.
var ErrExhausted = errors.New("retries exhausted")

// Do calls fn until it succeeds, the context ends, or the policy runs out
// of attempts. Waits double after every failure, up to Max.
func Do(ctx context.Context, p Policy, fn func(context.Context) error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}

	backoff := p.Initial
	var err error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}

		if attempt == p.Attempts {
			break
		}

		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "retry cancelled")
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > p.Max {
			backoff = p.Max
		}
	}

	return errors.Mark(errors.Wrapf(err, "giving up after %d attempts", p.Attempts), ErrExhausted)
}
