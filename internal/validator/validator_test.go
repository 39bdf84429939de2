package validator_test

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/st3v3nmw/faultline/internal/client"
	"github.com/st3v3nmw/faultline/internal/cluster"
	"github.com/st3v3nmw/faultline/internal/control"
	"github.com/st3v3nmw/faultline/internal/history"
	"github.com/st3v3nmw/faultline/internal/validator"
)

func genesis() control.Genesis {
	return control.Genesis{Validators: []control.GenesisValidator{
		{Identity: "n1", Nodes: []cluster.Node{"n1"}, PubKey: "k1", Votes: 2},
		{Identity: "n2", Nodes: []cluster.Node{"n2"}, PubKey: "k2", Votes: 2},
		{Identity: "n3", Nodes: []cluster.Node{"n3"}, PubKey: "k3", Votes: 2},
		{Identity: "n4", Nodes: []cluster.Node{"n4"}, PubKey: "k4", Votes: 2},
	}}
}

// fakeCluster accepts validator set changes only at the version it is at.
type fakeCluster struct {
	mu      sync.Mutex
	version int64
	votes   map[string]int64
	err     error
	calls   int
}

func (f *fakeCluster) Read(context.Context, cluster.Node, string) (int64, bool, error) {
	return 0, false, nil
}

func (f *fakeCluster) Write(context.Context, cluster.Node, string, int64) error { return nil }

func (f *fakeCluster) CompareAndSwap(context.Context, cluster.Node, string, int64, int64) error {
	return nil
}

func (f *fakeCluster) ValidatorSetCAS(_ context.Context, _ cluster.Node, version int64, pubKey string, votes int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.err != nil {
		return f.err
	}

	if version != f.version {
		return errors.Wrapf(client.ErrPrecondition, "at version %d", f.version)
	}

	f.version++
	f.votes[pubKey] = votes
	return nil
}

type fakeControl struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeControl) record(op string, node cluster.Node) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, op+" "+string(node))
	return nil
}

func (f *fakeControl) StopConsensus(_ context.Context, n cluster.Node) error {
	return f.record("stop-consensus", n)
}

func (f *fakeControl) StartConsensus(_ context.Context, n cluster.Node) error {
	return f.record("start-consensus", n)
}

func (f *fakeControl) StopStorage(_ context.Context, n cluster.Node) error {
	return f.record("stop-storage", n)
}

func (f *fakeControl) StartStorage(_ context.Context, n cluster.Node) error {
	return f.record("start-storage", n)
}

func (f *fakeControl) TruncateLog(_ context.Context, n cluster.Node, _ int64) error {
	return f.record("truncate", n)
}

func (f *fakeControl) WriteValidatorKey(_ context.Context, n cluster.Node, _ control.Key) error {
	return f.record("write-key", n)
}

func (f *fakeControl) ResetNodeState(_ context.Context, n cluster.Node) error {
	return f.record("reset", n)
}

func TestParseKind(t *testing.T) {
	for _, s := range []string{"add", "remove", "alter-votes", "create", "destroy", "stop"} {
		k, err := validator.ParseKind(s)
		require.NoError(t, err)
		require.Equal(t, validator.Kind(s), k)
	}

	_, err := validator.ParseKind("promote")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		t     validator.Transition
		valid bool
	}{
		{name: "Add", t: validator.Add(0, "k5", 1), valid: true},
		{name: "Add Zero Votes", t: validator.Add(0, "k5", 0)},
		{name: "Remove", t: validator.Remove(0, "k1"), valid: true},
		{name: "Remove No Key", t: validator.Remove(0, "")},
		{name: "Create", t: validator.Create("n5", control.Key{PubKey: "k5"}), valid: true},
		{name: "Create No Key", t: validator.Transition{Kind: validator.KindCreate, Node: "n5"}},
		{name: "Destroy", t: validator.Destroy("n5"), valid: true},
		{name: "Stop", t: validator.Stop(), valid: true},
		{name: "Unknown", t: validator.Transition{Kind: "promote"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.t.Validate()
			if tt.valid {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestConfigStep(t *testing.T) {
	config := validator.NewConfig(genesis())

	s := config.Step(validator.Create("n5", control.Key{PubKey: "k5"}))
	require.Equal(t, "k5", s.Nodes["n5"])
	require.Equal(t, []string{"k5"}, s.Prospective())

	s = config.Step(validator.Add(0, "k5", 1))
	require.Equal(t, int64(1), s.Version)
	require.Equal(t, int64(1), s.Validators["k5"])
	require.Empty(t, s.Prospective())
	require.Equal(t, int64(9), s.TotalVotes())

	s = config.Step(validator.AlterVotes(1, "k5", 2))
	require.Equal(t, int64(2), s.Version)
	require.Equal(t, int64(2), s.Validators["k5"])

	s = config.Step(validator.Remove(2, "k5"))
	require.Equal(t, int64(3), s.Version)
	require.NotContains(t, s.Validators, "k5")

	s = config.Step(validator.Destroy("n5"))
	require.NotContains(t, s.Nodes, cluster.Node("n5"))

	before := config.Snapshot()
	config.Step(validator.Stop())
	require.Equal(t, before, config.Snapshot())
}

func TestConfigSnapshotIsolated(t *testing.T) {
	config := validator.NewConfig(genesis())

	snap := config.Snapshot()
	snap.Validators["k1"] = 100

	require.Equal(t, int64(2), config.Snapshot().Validators["k1"])
}

func TestConfigConcurrentReads(t *testing.T) {
	config := validator.NewConfig(genesis())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := int64(0); i < 200; i++ {
			config.Step(validator.AlterVotes(i, "k1", 1+i%2))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			s := config.Snapshot()
			assert.Len(t, s.Validators, 4)
		}
	}()
	wg.Wait()

	require.Equal(t, int64(200), config.Snapshot().Version)
}

func TestApplier(t *testing.T) {
	t.Run("CAS Kinds", func(t *testing.T) {
		fake := &fakeCluster{votes: map[string]int64{}}
		config := validator.NewConfig(genesis())
		a := validator.NewApplier(fake, &fakeControl{}, config, log.NewNopLogger())
		ctx := context.Background()

		outcome, err := a.Apply(ctx, "n1", validator.Add(0, "k5", 3))
		require.NoError(t, err)
		require.Equal(t, history.OK, outcome)
		require.Equal(t, int64(3), fake.votes["k5"])

		outcome, err = a.Apply(ctx, "n2", validator.Remove(1, "k5"))
		require.NoError(t, err)
		require.Equal(t, history.OK, outcome)
		require.Equal(t, int64(0), fake.votes["k5"], "removal sets votes to zero")
		require.NotContains(t, config.Snapshot().Validators, "k5")
	})

	t.Run("Rejected Version Still Advances State", func(t *testing.T) {
		fake := &fakeCluster{version: 5, votes: map[string]int64{}}
		config := validator.NewConfig(genesis())
		a := validator.NewApplier(fake, &fakeControl{}, config, log.NewNopLogger())

		outcome, err := a.Apply(context.Background(), "n1", validator.AlterVotes(0, "k1", 1))
		require.Error(t, err)
		require.Equal(t, history.Fail, outcome)

		s := config.Snapshot()
		require.Equal(t, int64(1), s.Version)
		require.Equal(t, int64(1), s.Validators["k1"])
	})

	t.Run("Ambiguous Error Is Info", func(t *testing.T) {
		fake := &fakeCluster{votes: map[string]int64{}, err: client.ErrTimeout}
		config := validator.NewConfig(genesis())
		a := validator.NewApplier(fake, &fakeControl{}, config, log.NewNopLogger())

		done := a.Invoke(context.Background(), "n1", history.Op{
			Type:  history.Invoke,
			F:     history.Transition,
			Value: validator.Add(0, "k5", 1),
		})
		require.Equal(t, history.Info, done.Type)
		require.Equal(t, "timeout", done.Error)
		require.Contains(t, config.Snapshot().Validators, "k5")
	})

	t.Run("Out Of Band Kinds", func(t *testing.T) {
		fake := &fakeCluster{votes: map[string]int64{}}
		ctl := &fakeControl{}
		config := validator.NewConfig(genesis())
		a := validator.NewApplier(fake, ctl, config, log.NewNopLogger())
		ctx := context.Background()

		outcome, err := a.Apply(ctx, "n1", validator.Create("n5", control.Key{PubKey: "k5"}))
		require.NoError(t, err)
		require.Equal(t, history.OK, outcome)
		require.Equal(t, []string{"write-key n5", "start-storage n5", "start-consensus n5"}, ctl.calls)

		ctl.calls = nil
		_, err = a.Apply(ctx, "n1", validator.Destroy("n5"))
		require.NoError(t, err)
		require.Equal(t, []string{"stop-consensus n5", "stop-storage n5", "reset n5"}, ctl.calls)

		ctl.calls = nil
		outcome, err = a.Apply(ctx, "n1", validator.Stop())
		require.NoError(t, err)
		require.Equal(t, history.OK, outcome)
		require.Empty(t, ctl.calls)
		require.Zero(t, fake.calls)
	})

	t.Run("Invalid Transition", func(t *testing.T) {
		fake := &fakeCluster{votes: map[string]int64{}}
		config := validator.NewConfig(genesis())
		a := validator.NewApplier(fake, &fakeControl{}, config, log.NewNopLogger())

		outcome, err := a.Apply(context.Background(), "n1", validator.Transition{Kind: "promote"})
		require.Error(t, err)
		require.Equal(t, history.Fail, outcome)
		require.Zero(t, fake.calls)
	})
}

func TestGenerator(t *testing.T) {
	nodes := []cluster.Node{"n1", "n2", "n3", "n4", "n5", "n6"}
	config := validator.NewConfig(genesis())
	g := &validator.Generator{
		Nodes:         nodes,
		MinValidators: 4,
		MaxVotes:      3,
		Limit:         150,
		Rand:          rand.New(rand.NewPCG(11, 12)),
	}

	require.True(t, g.Legal(config.Snapshot()))

	kinds := make(map[validator.Kind]int)
	for {
		s := config.Snapshot()
		tr, err := g.Next(s)
		require.NoError(t, err)
		require.NoError(t, tr.Validate())

		if tr.Kind == validator.KindStop {
			break
		}
		kinds[tr.Kind]++

		switch tr.Kind {
		case validator.KindAdd, validator.KindRemove, validator.KindAlterVotes:
			require.Equal(t, s.Version, tr.Version)
		case validator.KindCreate:
			require.NotContains(t, s.Nodes, tr.Node)
		case validator.KindDestroy:
			require.NotContains(t, s.Validators, s.Nodes[tr.Node])
		}

		next := config.Step(tr)
		require.True(t, g.Legal(next), "transition %s led to an illegal state", tr)
	}

	total := kinds[validator.KindAdd] + kinds[validator.KindRemove] +
		kinds[validator.KindAlterVotes] + kinds[validator.KindCreate] + kinds[validator.KindDestroy]
	require.LessOrEqual(t, total, 150)
	require.Greater(t, kinds[validator.KindCreate], 0)
	require.Greater(t, kinds[validator.KindAdd], 0)
	require.Greater(t, kinds[validator.KindAlterVotes], 0)
}

func TestLegal(t *testing.T) {
	g := &validator.Generator{MinValidators: 4}

	require.True(t, g.Legal(validator.State{Validators: map[string]int64{"a": 1, "b": 1, "c": 1, "d": 1}}))
	require.False(t, g.Legal(validator.State{Validators: map[string]int64{"a": 1, "b": 1, "c": 1}}))
	require.False(t, g.Legal(validator.State{Validators: map[string]int64{"a": 4, "b": 1, "c": 1, "d": 1}}))
}

func TestGeneratorLimit(t *testing.T) {
	config := validator.NewConfig(genesis())
	g := &validator.Generator{
		Nodes:         []cluster.Node{"n1", "n2", "n3", "n4", "n5"},
		MinValidators: 4,
		MaxVotes:      2,
		Limit:         2,
		Rand:          rand.New(rand.NewPCG(1, 2)),
	}

	for range 2 {
		tr, err := g.Next(config.Snapshot())
		require.NoError(t, err)
		require.NotEqual(t, validator.KindStop, tr.Kind)
		config.Step(tr)
	}

	tr, err := g.Next(config.Snapshot())
	require.NoError(t, err)
	require.Equal(t, validator.KindStop, tr.Kind)
}
