package control

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/goccy/go-yaml"

	"github.com/st3v3nmw/faultline/internal/cluster"
	"github.com/st3v3nmw/faultline/pkg/threadsafe"
)

// Role is one of the two processes a node runs.
type Role string

const (
	Consensus Role = "consensus"
	Storage   Role = "storage"
)

// NodeSpec describes how to run one node on this machine.
type NodeSpec struct {
	// Dir is the node's home; commands run with it as working directory.
	Dir       string   `yaml:"dir"`
	Consensus []string `yaml:"consensus"`
	Storage   []string `yaml:"storage"`
	// ConsensusPort and StoragePort, when set, are polled after a start.
	ConsensusPort int `yaml:"consensus_port"`
	StoragePort   int `yaml:"storage_port"`
	// WAL and Data are relative to Dir.
	WAL  string `yaml:"wal"`
	Data string `yaml:"data"`
}

// Timeouts bound process lifecycle calls.
type Timeouts struct {
	Start        time.Duration `yaml:"start"`
	Shutdown     time.Duration `yaml:"shutdown"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Validator files written into every node's home.
const (
	KeyFile     = "validator_key.yaml"
	GenesisFile = "genesis.yaml"
)

// GenesisValidator is one voting identity in the initial validator set.
type GenesisValidator struct {
	Identity cluster.Node   `yaml:"identity"`
	Nodes    []cluster.Node `yaml:"nodes"`
	PubKey   string         `yaml:"pub_key"`
	Votes    int64          `yaml:"votes"`
}

// Genesis is the initial cluster configuration.
type Genesis struct {
	Version    int64              `yaml:"version"`
	Validators []GenesisValidator `yaml:"validators"`
}

type process struct {
	cmd     *exec.Cmd
	logFile *os.File
	done    chan struct{}
}

func (p *process) running() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

var _ Controller = (*Local)(nil)

// Local runs every node's processes on this machine.
type Local struct {
	specs     map[cluster.Node]NodeSpec
	timeouts  Timeouts
	processes *threadsafe.Map[processKey, *process]
	logger    log.Logger
}

// NewLocal creates a controller for the given node specs.
func NewLocal(specs map[cluster.Node]NodeSpec, timeouts Timeouts, logger log.Logger) *Local {
	return &Local{
		specs:     specs,
		timeouts:  timeouts,
		processes: threadsafe.NewMap[processKey, *process](),
		logger:    logger,
	}
}

func (l *Local) spec(node cluster.Node) (NodeSpec, error) {
	spec, ok := l.specs[node]
	if !ok {
		return NodeSpec{}, errors.Newf("no spec for node %s", node)
	}

	return spec, nil
}

type processKey struct {
	node cluster.Node
	role Role
}

func (l *Local) StartConsensus(ctx context.Context, node cluster.Node) error {
	return l.start(ctx, node, Consensus)
}

func (l *Local) StopConsensus(ctx context.Context, node cluster.Node) error {
	return l.stop(node, Consensus)
}

func (l *Local) StartStorage(ctx context.Context, node cluster.Node) error {
	return l.start(ctx, node, Storage)
}

func (l *Local) StopStorage(ctx context.Context, node cluster.Node) error {
	return l.stop(node, Storage)
}

// start launches the role's command unless it is already running.
func (l *Local) start(ctx context.Context, node cluster.Node, role Role) error {
	spec, err := l.spec(node)
	if err != nil {
		return err
	}

	key := processKey{node, role}
	if proc, ok := l.processes.Get(key); ok && proc.running() {
		return nil
	}

	argv, port := spec.Consensus, spec.ConsensusPort
	if role == Storage {
		argv, port = spec.Storage, spec.StoragePort
	}
	if len(argv) == 0 {
		return errors.Newf("no %s command for node %s", role, node)
	}

	if err := os.MkdirAll(spec.Dir, 0755); err != nil {
		return errors.Wrap(err, "failed to create node directory")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), "NODE="+string(node), "ROLE="+string(role))
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// Redirect stdout/stderr to log file
	logPath := filepath.Join(spec.Dir, fmt.Sprintf("%s.log", role))
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrap(err, "failed to create log file")
	}
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return errors.Wrapf(err, "failed to start %s", role)
	}

	proc := &process{cmd: cmd, logFile: logFile, done: make(chan struct{})}
	go func() {
		cmd.Wait()
		logFile.Close()
		close(proc.done)
	}()
	l.processes.Set(key, proc)

	level.Debug(l.logger).Log("msg", "started process", "node", node, "role", role, "pid", cmd.Process.Pid)

	if port > 0 {
		return l.waitForPort(ctx, proc, port)
	}

	return nil
}

// waitForPort waits for a process to accept connections on its port
func (l *Local) waitForPort(ctx context.Context, proc *process, port int) error {
	host := fmt.Sprintf("127.0.0.1:%d", port)

	succeeded := eventually(ctx, func() bool {
		if !proc.running() {
			return false
		}

		conn, err := net.DialTimeout("tcp", host, 100*time.Millisecond)
		if err != nil {
			return false
		}

		conn.Close()
		return true
	}, l.timeouts.Start, l.timeouts.PollInterval)

	if !succeeded {
		return errors.Newf("process did not accept connections on %s within %s", host, l.timeouts.Start)
	}

	return nil
}

// stop sends SIGTERM to the process group, then SIGKILL after the shutdown
// timeout. Stopping a process that is not running is a no-op.
func (l *Local) stop(node cluster.Node, role Role) error {
	key := processKey{node, role}
	proc, ok := l.processes.Get(key)
	if !ok {
		return nil
	}
	if !proc.running() {
		l.processes.Delete(key)
		return nil
	}

	pgid := proc.cmd.Process.Pid
	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		return errors.Wrapf(err, "failed to signal %s", role)
	}

	select {
	case <-proc.done:
	case <-time.After(l.timeouts.Shutdown):
		level.Warn(l.logger).Log("msg", "process ignored SIGTERM, killing", "node", node, "role", role)
		syscall.Kill(-pgid, syscall.SIGKILL)
		<-proc.done
	}
	l.processes.Delete(key)

	level.Debug(l.logger).Log("msg", "stopped process", "node", node, "role", role)
	return nil
}

// Running reports whether the role's process is up.
func (l *Local) Running(node cluster.Node, role Role) bool {
	proc, ok := l.processes.Get(processKey{node, role})
	return ok && proc.running()
}

func (l *Local) TruncateLog(_ context.Context, node cluster.Node, bytes int64) error {
	spec, err := l.spec(node)
	if err != nil {
		return err
	}

	path := filepath.Join(spec.Dir, spec.WAL)
	info, err := os.Stat(path)
	if err != nil {
		return errors.Wrap(err, "failed to stat write-ahead log")
	}

	size := max(info.Size()-bytes, 0)
	if err := os.Truncate(path, size); err != nil {
		return errors.Wrap(err, "failed to truncate write-ahead log")
	}

	level.Info(l.logger).Log("msg", "truncated write-ahead log", "node", node, "path", path, "from", info.Size(), "to", size)
	return nil
}

func (l *Local) WriteValidatorKey(_ context.Context, node cluster.Node, key Key) error {
	spec, err := l.spec(node)
	if err != nil {
		return err
	}

	return writeYAML(filepath.Join(spec.Dir, KeyFile), key)
}

func (l *Local) ResetNodeState(_ context.Context, node cluster.Node) error {
	spec, err := l.spec(node)
	if err != nil {
		return err
	}

	for _, rel := range []string{spec.Data, spec.WAL} {
		if rel == "" {
			continue
		}

		if err := os.RemoveAll(filepath.Join(spec.Dir, rel)); err != nil {
			return errors.Wrap(err, "failed to wipe node state")
		}
	}

	return nil
}

// Bootstrap writes the initial validator set into every node's home.
func (l *Local) Bootstrap(genesis Genesis) error {
	for node, spec := range l.specs {
		if err := writeYAML(filepath.Join(spec.Dir, GenesisFile), genesis); err != nil {
			return errors.Wrapf(err, "node %s", node)
		}
	}

	return nil
}

// Close stops every process that is still running.
func (l *Local) Close() {
	for _, key := range l.processes.Keys() {
		if err := l.stop(key.node, key.role); err != nil {
			level.Error(l.logger).Log("msg", "failed to stop process", "node", key.node, "role", key.role, "err", err)
		}
	}
}

func writeYAML(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "failed to create directory")
	}

	bytes, err := yaml.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "failed to serialize")
	}

	if err := os.WriteFile(path, bytes, 0600); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}

	return nil
}

// eventually checks that the condition becomes true within the given period.
func eventually(ctx context.Context, condition func() bool, timeout, pollInterval time.Duration) bool {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(pollInterval):
			if condition() {
				return true
			}
		}
	}

	return false
}
