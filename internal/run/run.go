// Package run drives a workload against the cluster while a nemesis injects
// faults, then tears the faults down and reports what happened.
package run

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"

	"github.com/st3v3nmw/faultline/internal/client"
	"github.com/st3v3nmw/faultline/internal/cluster"
	"github.com/st3v3nmw/faultline/internal/config"
	"github.com/st3v3nmw/faultline/internal/control"
	"github.com/st3v3nmw/faultline/internal/history"
	"github.com/st3v3nmw/faultline/internal/identity"
	"github.com/st3v3nmw/faultline/internal/nemesis"
	"github.com/st3v3nmw/faultline/internal/registry"
	"github.com/st3v3nmw/faultline/internal/validator"
)

type Runner struct {
	cfg     *config.Config
	profile *registry.Profile
	deps    Deps
	history *history.History
	seed    uint64
	logger  log.Logger
	now     func() time.Time
}

func New(cfg *config.Config, profile *registry.Profile, deps Deps, logger log.Logger) *Runner {
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	return &Runner{
		cfg:     cfg,
		profile: profile,
		deps:    deps,
		history: history.New(),
		seed:    seed,
		logger:  logger,
		now:     time.Now,
	}
}

// History returns the operations recorded so far.
func (r *Runner) History() *history.History {
	return r.history
}

func (r *Runner) rand(stream uint64) *rand.Rand {
	return rand.New(rand.NewPCG(r.seed, stream))
}

// Run sets the cluster up, runs the workload and nemesis for the time
// limit, and tears everything down. Teardown happens even when ctx is
// cancelled. The returned report is non-nil whenever setup got far enough
// to record anything.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	start := r.now()
	report := &Report{Profile: r.profile.Key, Seed: r.seed}

	grouping := identity.GroupNodes(r.cfg.Nodes, r.cfg.Clones)
	weights, err := identity.AllocateWeights(grouping, r.cfg.AttackMode)
	if err != nil {
		return nil, err
	}
	report.Grouping = grouping
	report.Weights = weights

	genesis, keys, err := Genesis(grouping, weights)
	if err != nil {
		return nil, err
	}

	level.Info(r.logger).Log(
		"msg", "starting run",
		"profile", r.profile.Key,
		"nodes", len(r.cfg.Nodes),
		"identities", len(grouping.Groups),
		"total_votes", weights.Total(),
		"seed", r.seed,
	)

	defer r.shutdown(context.WithoutCancel(ctx))

	if err := provision(ctx, r.deps, genesis, keys, r.cfg.Nodes); err != nil {
		report.SetupErr = err
		return report, err
	}

	workers := r.workers()
	if err := workers[0].Setup(ctx, client.Keys(r.cfg.Keys), r.cfg.Retry); err != nil {
		report.SetupErr = err
		return report, err
	}

	applier := validator.NewApplier(r.deps.Cluster, r.deps.Control, validator.NewConfig(genesis), log.With(r.logger, "component", "validators"))
	nem, err := r.profile.Build(registry.Env{
		Nodes:    r.cfg.Nodes,
		Grouping: grouping,
		Control:  r.deps.Control,
		Net:      r.deps.Net,
		Applier:  applier,
		Validators: validator.Generator{
			MinValidators: r.cfg.Validators.Min,
			MaxVotes:      r.cfg.Validators.MaxVotes,
			Limit:         r.cfg.Validators.Limit,
		},
		CrashFraction:    r.cfg.CrashFraction,
		MaxTruncateBytes: r.cfg.MaxTruncateBytes,
		Rand:             r.rand(1 << 32),
		Logger:           log.With(r.logger, "component", "nemesis"),
	})
	if err != nil {
		report.SetupErr = err
		return report, err
	}

	if err := nem.Setup(ctx); err != nil {
		report.SetupErr = errors.Wrap(err, "nemesis setup")
		return report, report.SetupErr
	}

	r.loop(ctx, workers, nem)

	report.TeardownErr = nem.Teardown(context.WithoutCancel(ctx))
	if report.TeardownErr != nil {
		level.Error(r.logger).Log("msg", "nemesis teardown failed", "err", report.TeardownErr)
	}

	report.Summary = r.history.Summary()
	report.Ops = len(r.history.Ops())
	report.ValidatorState = applier.Config().Snapshot()
	report.HistoryPath, err = r.save()
	report.Duration = r.now().Sub(start)

	return report, errors.CombineErrors(report.TeardownErr, err)
}

func (r *Runner) workers() []*client.Worker {
	workers := make([]*client.Worker, r.cfg.Concurrency)
	for i := range workers {
		node := r.cfg.Nodes[i%len(r.cfg.Nodes)]
		workers[i] = client.NewWorker(i, node, r.deps.Cluster, log.With(r.logger, "component", "worker"))
	}

	return workers
}

// loop runs every worker and the nemesis until the time limit.
func (r *Runner) loop(ctx context.Context, workers []*client.Worker, nem nemesis.Nemesis) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.TimeLimit)
	defer cancel()

	keys := client.Keys(r.cfg.Keys)

	var g errgroup.Group
	for _, w := range workers {
		rng := r.rand(uint64(w.Process))
		g.Go(func() error {
			for ctx.Err() == nil {
				op := r.history.Append(client.Generate(rng, w.Process, keys))
				r.history.Append(w.Invoke(ctx, op))

				if !sleep(ctx, r.cfg.Stagger) {
					break
				}
			}

			return nil
		})
	}

	g.Go(func() error {
		for i := 0; ; i++ {
			if !sleep(ctx, r.interval()) {
				return nil
			}

			op, ok := r.profile.Next(i)
			if !ok {
				return nil
			}

			// A fault that has started runs to completion past the time limit.
			op = r.history.Append(op)
			done := r.history.Append(nem.Invoke(context.WithoutCancel(ctx), op))
			level.Info(r.logger).Log("msg", "nemesis", "f", done.F, "type", done.Type, "value", fmt.Sprint(done.Value))

			if nemesis.Exhausted(done) {
				level.Info(r.logger).Log("msg", "nemesis schedule exhausted")
				return nil
			}
		}
	})

	_ = g.Wait()
}

func (r *Runner) interval() time.Duration {
	if r.profile.Interval > 0 {
		return r.profile.Interval
	}

	return r.cfg.NemesisInterval
}

// shutdown stops every node, whatever happened before.
func (r *Runner) shutdown(ctx context.Context) {
	err := control.OnNodes(ctx, r.cfg.Nodes, func(ctx context.Context, node cluster.Node) error {
		return control.Shutdown(ctx, r.deps.Control, node)
	})
	if err != nil {
		level.Error(r.logger).Log("msg", "failed to stop nodes", "err", err)
	}

	if r.deps.Close != nil {
		r.deps.Close()
	}
}

// save writes the history and the effective config into a fresh directory
// under the working dir.
func (r *Runner) save() (string, error) {
	dir := filepath.Join(r.cfg.WorkingDir, fmt.Sprintf("run-%s", r.now().Format("20060102-150405")))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrap(err, "failed to create working directory")
	}

	if err := config.SaveTo(r.cfg, filepath.Join(dir, config.Path)); err != nil {
		return "", err
	}

	path := filepath.Join(dir, "history.yaml")
	return path, r.history.SaveTo(path)
}

// sleep waits for d or until ctx ends, reporting whether it slept fully.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
