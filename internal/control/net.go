package control

import (
	"context"
	"os/exec"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/st3v3nmw/faultline/internal/cluster"
	"github.com/st3v3nmw/faultline/internal/grudge"
)

// Runner executes a command on a node.
type Runner interface {
	Run(ctx context.Context, node cluster.Node, name string, args ...string) error
}

// ExecRunner runs commands through a local prefix such as
// ["ssh", "root@{node}"] or ["docker", "exec", "{node}"]. "{node}" is
// replaced by the node name. An empty prefix runs commands locally.
type ExecRunner struct {
	Prefix []string
}

func (r ExecRunner) Run(ctx context.Context, node cluster.Node, name string, args ...string) error {
	argv := make([]string, 0, len(r.Prefix)+1+len(args))
	for _, p := range r.Prefix {
		argv = append(argv, strings.ReplaceAll(p, "{node}", string(node)))
	}
	argv = append(argv, name)
	argv = append(argv, args...)

	out, err := exec.CommandContext(ctx, argv[0], argv[1:]...).CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "%s: %s", strings.Join(argv, " "), strings.TrimSpace(string(out)))
	}

	return nil
}

var _ Net = (*IPTables)(nil)

// IPTables partitions nodes by dropping inbound packets with iptables.
type IPTables struct {
	nodes  []cluster.Node
	ips    map[cluster.Node]string
	runner Runner
	logger log.Logger
}

// NewIPTables creates a partitioner. ips maps every node to the address
// other nodes see its traffic coming from; nodes without one use their name.
func NewIPTables(nodes []cluster.Node, ips map[cluster.Node]string, runner Runner, logger log.Logger) *IPTables {
	return &IPTables{nodes: nodes, ips: ips, runner: runner, logger: logger}
}

func (n *IPTables) ip(node cluster.Node) string {
	if ip, ok := n.ips[node]; ok {
		return ip
	}

	return string(node)
}

func (n *IPTables) Drop(ctx context.Context, g grudge.Grudge) error {
	drops := g.Drops()

	targets := make([]cluster.Node, 0, len(drops))
	for node := range drops {
		targets = append(targets, node)
	}

	level.Info(n.logger).Log("msg", "partitioning network", "grudge", g.String())

	return OnNodes(ctx, cluster.Sorted(targets), func(ctx context.Context, node cluster.Node) error {
		for _, src := range drops[node] {
			err := n.runner.Run(ctx, node, "iptables", "-A", "INPUT", "-s", n.ip(src), "-j", "DROP", "-w")
			if err != nil {
				return err
			}
		}

		return nil
	})
}

func (n *IPTables) Heal(ctx context.Context) error {
	level.Info(n.logger).Log("msg", "healing network")

	return OnNodes(ctx, n.nodes, func(ctx context.Context, node cluster.Node) error {
		if err := n.runner.Run(ctx, node, "iptables", "-F", "-w"); err != nil {
			return err
		}

		return n.runner.Run(ctx, node, "iptables", "-X", "-w")
	})
}
