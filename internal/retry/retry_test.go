package retry_test

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/st3v3nmw/faultline/internal/retry"
)

func TestDo(t *testing.T) {
	policy := retry.Policy{Attempts: 4, Initial: time.Millisecond, Max: 2 * time.Millisecond}

	tests := []struct {
		name     string
		failures int
		calls    int
		wantErr  bool
	}{
		{name: "First Try", failures: 0, calls: 1},
		{name: "Recovers", failures: 3, calls: 4},
		{name: "Exhausted", failures: 10, calls: 4, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := retry.Do(context.Background(), policy, func(context.Context) error {
				calls++
				if calls <= tt.failures {
					return errors.New("root key not ready")
				}

				return nil
			})

			require.Equal(t, tt.calls, calls)
			if tt.wantErr {
				require.Error(t, err)
				require.True(t, errors.Is(err, retry.ErrExhausted))
				require.Contains(t, err.Error(), "root key not ready")
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestDoCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := retry.Policy{Attempts: 100, Initial: time.Hour, Max: time.Hour}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := retry.Do(ctx, policy, func(context.Context) error {
		return errors.New("unavailable")
	})

	require.Error(t, err)
	require.True(t, errors.Is(err, context.Canceled))
	require.False(t, errors.Is(err, retry.ErrExhausted))
}
