package cli

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	commands "github.com/urfave/cli/v3"

	"github.com/st3v3nmw/faultline/internal/cluster"
	"github.com/st3v3nmw/faultline/internal/config"
	"github.com/st3v3nmw/faultline/internal/grudge"
	"github.com/st3v3nmw/faultline/internal/identity"
	"github.com/st3v3nmw/faultline/internal/logging"
	"github.com/st3v3nmw/faultline/internal/registry"
	"github.com/st3v3nmw/faultline/internal/run"
	_ "github.com/st3v3nmw/faultline/profiles"
)

func out(cmd *commands.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}

	return os.Stdout
}

func InitConfig(ctx context.Context, cmd *commands.Command) error {
	dir := "."
	if cmd.NArg() > 0 {
		dir = cmd.Args().First()
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create directory %s", dir)
	}

	path := filepath.Join(dir, config.Path)
	if _, err := os.Stat(path); err == nil {
		return errors.Newf("%s already exists", path)
	}

	if err := config.SaveTo(config.Default(), path); err != nil {
		return err
	}

	w := out(cmd)
	fmt.Fprintf(w, "Created %s\n", path)
	fmt.Fprintln(w, "Fill in addrs and node_specs for every node, then run 'faultline run'.")

	return nil
}

func RunProfile(ctx context.Context, cmd *commands.Command) error {
	cfg, err := load(cmd)
	if err != nil {
		return err
	}

	switch cmd.NArg() {
	case 0:
	case 1:
		cfg.Profile = cmd.Args().First()
	default:
		return errors.New("too many arguments\nUsage: faultline run [profile]")
	}

	if err := cfg.ValidateRun(); err != nil {
		return err
	}

	profile, err := registry.GetProfile(cfg.Profile)
	if err != nil {
		return err
	}

	logger := logging.New(os.Stderr, cmd.Bool("verbose"))
	runner := run.New(cfg, profile, run.LocalDeps(cfg, logger), logger)

	report, err := runner.Run(ctx)
	if report != nil {
		report.Print(out(cmd))
	}

	return err
}

func ListProfiles(ctx context.Context, cmd *commands.Command) error {
	w := out(cmd)
	fmt.Fprintln(w, "Available profiles:")
	fmt.Fprintln(w)

	for _, key := range registry.Keys() {
		profile, _ := registry.GetProfile(key)
		fmt.Fprintf(w, "  %s\n", profile)
		fmt.Fprintf(w, "      %s\n", strings.ReplaceAll(profile.Summary, "\n", " "))
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run one with: faultline run <profile>")

	return nil
}

func ShowWeights(ctx context.Context, cmd *commands.Command) error {
	cfg, err := load(cmd)
	if err != nil {
		return err
	}

	grouping := identity.GroupNodes(cfg.Nodes, cfg.Clones)
	weights, err := identity.AllocateWeights(grouping, cfg.AttackMode)
	if err != nil {
		return err
	}

	w := out(cmd)
	fmt.Fprintf(w, "Attack mode: %s\n\n", cfg.AttackMode)
	run.PrintWeights(w, grouping, weights)

	return nil
}

// Strategies available to the grudge command.
var strategies = map[string]func(identity.Grouping, *rand.Rand) grudge.Strategy{
	"halves": func(_ identity.Grouping, r *rand.Rand) grudge.Strategy {
		return grudge.Halves{Rand: r}
	},
	"peekaboo": func(g identity.Grouping, r *rand.Rand) grudge.Strategy {
		return grudge.Peekaboo{Grouping: g, Rand: r}
	},
	"split": func(g identity.Grouping, r *rand.Rand) grudge.Strategy {
		return grudge.Split{Grouping: g, Rand: r}
	},
}

func ShowGrudge(ctx context.Context, cmd *commands.Command) error {
	if cmd.NArg() != 1 {
		return errors.New("strategy is required\nUsage: faultline grudge <halves|peekaboo|split>")
	}

	build, ok := strategies[cmd.Args().First()]
	if !ok {
		return errors.Newf("unknown strategy %q, want halves, peekaboo or split", cmd.Args().First())
	}

	cfg, err := load(cmd)
	if err != nil {
		return err
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	grouping := identity.GroupNodes(cfg.Nodes, cfg.Clones)
	strategy := build(grouping, rand.New(rand.NewPCG(seed, 1<<32)))

	w := out(cmd)
	for range max(cmd.Int("samples"), 1) {
		fmt.Fprintln(w, strategy.Grudge(cfg.Nodes))
	}

	return nil
}

// load reads faultline.yaml when present, falls back to defaults, and
// applies the cluster flags on top.
func load(cmd *commands.Command) (*config.Config, error) {
	cfg, err := config.LoadFrom(cmd.String("config"))
	if err != nil {
		if _, statErr := os.Stat(cmd.String("config")); !os.IsNotExist(statErr) {
			return nil, err
		}
		cfg = config.Default()
	}

	if nodes := cmd.String("nodes"); nodes != "" {
		cfg.Nodes = cluster.Nodes(nodes)
	}

	if clones := cmd.String("clones"); clones != "" {
		parsed, err := parseClones(clones)
		if err != nil {
			return nil, err
		}
		cfg.Clones = parsed
	}

	if mode := cmd.String("mode"); mode != "" {
		cfg.AttackMode = identity.AttackMode(mode)
	}

	if seed := cmd.String("seed"); seed != "" {
		n, err := strconv.ParseUint(seed, 10, 64)
		if err != nil {
			return nil, errors.Wrap(err, "invalid seed")
		}
		cfg.Seed = n
	}

	if d := cmd.Duration("time-limit"); d > 0 {
		cfg.TimeLimit = d
	}

	return cfg, cfg.Validate()
}

// parseClones reads "n2=n1,n4=n3": n2 runs n1's key, n4 runs n3's.
func parseClones(s string) (map[cluster.Node]cluster.Node, error) {
	clones := make(map[cluster.Node]cluster.Node)
	for _, pair := range strings.Split(s, ",") {
		clone, original, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || clone == "" || original == "" {
			return nil, errors.Newf("invalid clone %q, want clone=original", pair)
		}

		clones[cluster.Node(clone)] = cluster.Node(original)
	}

	return clones, nil
}
