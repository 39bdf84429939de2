package client_test

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"

	"github.com/st3v3nmw/faultline/internal/client"
	"github.com/st3v3nmw/faultline/internal/cluster"
	"github.com/st3v3nmw/faultline/internal/history"
	"github.com/st3v3nmw/faultline/internal/retry"
)

type fakeCluster struct {
	mu       sync.Mutex
	values   map[string]int64
	err      error
	failures int
	writes   int
}

func (f *fakeCluster) fail() error {
	if f.failures > 0 {
		f.failures--
		return client.ErrConnectionRefused
	}

	return f.err
}

func (f *fakeCluster) Read(_ context.Context, _ cluster.Node, key string) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.fail(); err != nil {
		return 0, false, err
	}

	v, ok := f.values[key]
	return v, ok, nil
}

func (f *fakeCluster) Write(_ context.Context, _ cluster.Node, key string, value int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.writes++
	if err := f.fail(); err != nil {
		return err
	}

	f.values[key] = value
	return nil
}

func (f *fakeCluster) CompareAndSwap(_ context.Context, _ cluster.Node, key string, old, new int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.fail(); err != nil {
		return err
	}

	if f.values[key] != old {
		return client.ErrPrecondition
	}

	f.values[key] = new
	return nil
}

func (f *fakeCluster) ValidatorSetCAS(context.Context, cluster.Node, int64, string, int64) error {
	return f.fail()
}

func ptr(v int64) *int64 { return &v }

func TestWorkerInvoke(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		op    history.Op
		want  history.Type
		value *int64
	}{
		{
			name:  "Read",
			op:    history.Op{F: history.Read, Value: client.Register{Key: "r0"}},
			want:  history.OK,
			value: ptr(1),
		},
		{
			name: "Read Unset",
			op:   history.Op{F: history.Read, Value: client.Register{Key: "r9"}},
			want: history.OK,
		},
		{
			name: "Write",
			op:   history.Op{F: history.Write, Value: client.Register{Key: "r0", Value: ptr(4)}},
			want: history.OK,
		},
		{
			name: "CAS Mismatch",
			op:   history.Op{F: history.CAS, Value: client.Register{Key: "r0", From: 3, To: 4}},
			want: history.Fail,
		},
		{
			name: "Read Timeout",
			err:  client.ErrTimeout,
			op:   history.Op{F: history.Read, Value: client.Register{Key: "r0"}},
			want: history.Fail,
		},
		{
			name: "Write Timeout",
			err:  client.ErrTimeout,
			op:   history.Op{F: history.Write, Value: client.Register{Key: "r0", Value: ptr(4)}},
			want: history.Info,
		},
		{
			name: "Unknown F",
			op:   history.Op{F: history.Truncate, Value: client.Register{Key: "r0"}},
			want: history.Fail,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeCluster{values: map[string]int64{"r0": 1}, err: tt.err}
			w := client.NewWorker(0, "n1", fake, log.NewNopLogger())

			tt.op.Type = history.Invoke
			done := w.Invoke(context.Background(), tt.op)

			require.Equal(t, tt.want, done.Type)
			require.Equal(t, tt.op.F, done.F)
			if tt.value != nil {
				require.Equal(t, *tt.value, *done.Value.(client.Register).Value)
			}
		})
	}
}

func TestWorkerSetup(t *testing.T) {
	policy := retry.Policy{Attempts: 3, Initial: time.Millisecond, Max: time.Millisecond}

	fake := &fakeCluster{values: map[string]int64{}, failures: 2}
	w := client.NewWorker(0, "n1", fake, log.NewNopLogger())
	require.NoError(t, w.Setup(context.Background(), client.Keys(2), policy))
	require.Equal(t, map[string]int64{"r0": 0, "r1": 0}, fake.values)

	fake = &fakeCluster{values: map[string]int64{}, failures: 10}
	w = client.NewWorker(0, "n1", fake, log.NewNopLogger())
	err := w.Setup(context.Background(), client.Keys(2), policy)
	require.Error(t, err)
	require.True(t, errors.Is(err, retry.ErrExhausted))
	require.Equal(t, 3, fake.writes)
}

func TestGenerate(t *testing.T) {
	r := rand.New(rand.NewPCG(9, 9))
	keys := client.Keys(3)

	seen := make(map[history.F]bool)
	for i := 0; i < 100; i++ {
		op := client.Generate(r, 4, keys)
		require.Equal(t, history.Invoke, op.Type)
		require.Equal(t, 4, op.Process)
		require.Contains(t, keys, op.Value.(client.Register).Key)
		seen[op.F] = true
	}

	require.Len(t, seen, 3)
}
