package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/goccy/go-yaml"

	"github.com/st3v3nmw/faultline/internal/cluster"
	"github.com/st3v3nmw/faultline/internal/control"
	"github.com/st3v3nmw/faultline/internal/identity"
	"github.com/st3v3nmw/faultline/internal/retry"
)

const Path = "faultline.yaml"

// Net configures how partitions are applied.
type Net struct {
	// Prefix wraps every iptables call, e.g. ["ssh", "root@{node}"].
	Prefix []string `yaml:"prefix,omitempty"`
	// IPs are the addresses nodes see each other's traffic from.
	IPs map[cluster.Node]string `yaml:"ips,omitempty"`
}

// Validators bounds the membership changes of the changing-validators
// profile.
type Validators struct {
	Min      int   `yaml:"min"`
	MaxVotes int64 `yaml:"max_votes"`
	// Limit is the number of transitions before the schedule stops.
	Limit int `yaml:"limit"`
}

type Config struct {
	Nodes []cluster.Node `yaml:"nodes"`
	// Clones maps a node to the node whose validator key it shares.
	Clones     map[cluster.Node]cluster.Node `yaml:"clones,omitempty"`
	AttackMode identity.AttackMode           `yaml:"attack_mode"`
	Profile    string                        `yaml:"profile"`

	TimeLimit       time.Duration `yaml:"time_limit"`
	Concurrency     int           `yaml:"concurrency"`
	Keys            int           `yaml:"keys"`
	NemesisInterval time.Duration `yaml:"nemesis_interval"`
	// Stagger is the pause between two operations of one worker.
	Stagger time.Duration `yaml:"stagger"`

	CrashFraction    float64 `yaml:"crash_fraction"`
	MaxTruncateBytes int64   `yaml:"max_truncate_bytes"`

	// Seed drives every random choice; zero picks one from the clock.
	Seed       uint64 `yaml:"seed,omitempty"`
	WorkingDir string `yaml:"working_dir"`

	ClientTimeout time.Duration           `yaml:"client_timeout"`
	Addrs         map[cluster.Node]string `yaml:"addrs,omitempty"`

	Retry      retry.Policy                      `yaml:"retry"`
	Timeouts   control.Timeouts                  `yaml:"timeouts"`
	NodeSpecs  map[cluster.Node]control.NodeSpec `yaml:"node_specs,omitempty"`
	Net        Net                               `yaml:"net"`
	Validators Validators                        `yaml:"validators"`
}

// Default returns the configuration used for anything a file leaves unset.
func Default() *Config {
	return &Config{
		Nodes:            []cluster.Node{"n1", "n2", "n3", "n4", "n5"},
		AttackMode:       identity.Regular,
		Profile:          "none",
		TimeLimit:        time.Minute,
		Concurrency:      5,
		Keys:             3,
		NemesisInterval:  10 * time.Second,
		Stagger:          10 * time.Millisecond,
		CrashFraction:    0.5,
		MaxTruncateBytes: 1024,
		WorkingDir:       ".faultline",
		ClientTimeout:    5 * time.Second,
		Retry:            retry.DefaultPolicy(),
		Timeouts: control.Timeouts{
			Start:        10 * time.Second,
			Shutdown:     10 * time.Second,
			PollInterval: 100 * time.Millisecond,
		},
		Validators: Validators{Min: 4, MaxVotes: 3, Limit: 100},
	}
}

// WithDefaults returns cfg with every zero field taken from Default.
func WithDefaults(cfg *Config) *Config {
	merged := Default()

	if len(cfg.Nodes) > 0 {
		merged.Nodes = cfg.Nodes
	}

	if cfg.Clones != nil {
		merged.Clones = cfg.Clones
	}

	if cfg.AttackMode != "" {
		merged.AttackMode = cfg.AttackMode
	}

	if cfg.Profile != "" {
		merged.Profile = cfg.Profile
	}

	if cfg.TimeLimit != 0 {
		merged.TimeLimit = cfg.TimeLimit
	}

	if cfg.Concurrency != 0 {
		merged.Concurrency = cfg.Concurrency
	}

	if cfg.Keys != 0 {
		merged.Keys = cfg.Keys
	}

	if cfg.NemesisInterval != 0 {
		merged.NemesisInterval = cfg.NemesisInterval
	}

	if cfg.Stagger != 0 {
		merged.Stagger = cfg.Stagger
	}

	if cfg.CrashFraction != 0 {
		merged.CrashFraction = cfg.CrashFraction
	}

	if cfg.MaxTruncateBytes != 0 {
		merged.MaxTruncateBytes = cfg.MaxTruncateBytes
	}

	merged.Seed = cfg.Seed

	if cfg.WorkingDir != "" {
		merged.WorkingDir = cfg.WorkingDir
	}

	if cfg.ClientTimeout != 0 {
		merged.ClientTimeout = cfg.ClientTimeout
	}

	if cfg.Addrs != nil {
		merged.Addrs = cfg.Addrs
	}

	if cfg.Retry.Attempts != 0 {
		merged.Retry.Attempts = cfg.Retry.Attempts
	}

	if cfg.Retry.Initial != 0 {
		merged.Retry.Initial = cfg.Retry.Initial
	}

	if cfg.Retry.Max != 0 {
		merged.Retry.Max = cfg.Retry.Max
	}

	if cfg.Timeouts.Start != 0 {
		merged.Timeouts.Start = cfg.Timeouts.Start
	}

	if cfg.Timeouts.Shutdown != 0 {
		merged.Timeouts.Shutdown = cfg.Timeouts.Shutdown
	}

	if cfg.Timeouts.PollInterval != 0 {
		merged.Timeouts.PollInterval = cfg.Timeouts.PollInterval
	}

	if cfg.NodeSpecs != nil {
		merged.NodeSpecs = cfg.NodeSpecs
	}

	merged.Net = cfg.Net

	if cfg.Validators.Min != 0 {
		merged.Validators.Min = cfg.Validators.Min
	}

	if cfg.Validators.MaxVotes != 0 {
		merged.Validators.MaxVotes = cfg.Validators.MaxVotes
	}

	if cfg.Validators.Limit != 0 {
		merged.Validators.Limit = cfg.Validators.Limit
	}

	return merged
}

// Validate checks the settings every command relies on.
func (c *Config) Validate() error {
	if len(c.Nodes) == 0 {
		return errors.New("at least one node is required")
	}

	seen := make(map[cluster.Node]bool, len(c.Nodes))
	for _, node := range c.Nodes {
		if node == "" {
			return errors.New("node names cannot be empty")
		}
		if seen[node] {
			return errors.Newf("node %s is listed twice", node)
		}
		seen[node] = true
	}

	for clone, original := range c.Clones {
		if !seen[clone] || !seen[original] {
			return errors.Newf("clone %s -> %s names an unknown node", clone, original)
		}
	}

	if _, err := identity.ParseAttackMode(string(c.AttackMode)); err != nil {
		return err
	}

	if c.CrashFraction <= 0 || c.CrashFraction > 1 {
		return errors.Newf("crash_fraction must be in (0, 1], got %v", c.CrashFraction)
	}

	if c.Concurrency < 1 || c.Keys < 1 {
		return errors.New("concurrency and keys must be positive")
	}

	return nil
}

// ValidateRun additionally checks what a run against live nodes needs.
func (c *Config) ValidateRun() error {
	if err := c.Validate(); err != nil {
		return err
	}

	for _, node := range c.Nodes {
		if _, ok := c.Addrs[node]; !ok {
			return errors.Newf("no client address for node %s", node)
		}

		spec, ok := c.NodeSpecs[node]
		if !ok {
			return errors.Newf("no node spec for node %s", node)
		}

		if len(spec.Consensus) == 0 || len(spec.Storage) == 0 {
			return errors.Newf("node %s needs both a consensus and a storage command", node)
		}
	}

	return nil
}

// Load reads faultline.yaml from the current directory.
func Load() (*Config, error) {
	return LoadFrom(Path)
}

func LoadFrom(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, errors.Newf("%s not found\nRun 'faultline init' to create one", path)
	}

	bytes, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(bytes, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	merged := WithDefaults(&cfg)
	if err := merged.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	return merged, nil
}

func Save(cfg *Config) error {
	return SaveTo(cfg, Path)
}

func SaveTo(cfg *Config, path string) error {
	bytes, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to serialize config")
	}

	if err := os.WriteFile(path, bytes, 0644); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}

	return nil
}
