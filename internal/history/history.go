// Package history records the operations a run invokes and how they ended.
package history

import (
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/goccy/go-yaml"
)

// Type is the phase of an operation: its invocation or one of its outcomes.
type Type string

const (
	Invoke Type = "invoke"
	// OK means the operation took effect.
	OK Type = "ok"
	// Fail means the operation definitely had no effect.
	Fail Type = "fail"
	// Info means the operation may or may not have taken effect.
	Info Type = "info"
)

// F names the function an operation performs.
type F string

const (
	Read       F = "read"
	Write      F = "write"
	CAS        F = "cas"
	Transition F = "transition"

	Start    F = "start"
	Stop     F = "stop"
	Truncate F = "truncate"
)

// ReadOnly reports whether f can never change cluster state.
func (f F) ReadOnly() bool {
	return f == Read
}

// NemesisProcess is the process id of fault-injection operations.
const NemesisProcess = -1

// Op is one entry of a history.
type Op struct {
	Index   int       `yaml:"index"`
	Process int       `yaml:"process"`
	Type    Type      `yaml:"type"`
	F       F         `yaml:"f"`
	Value   any       `yaml:"value,omitempty"`
	Error   string    `yaml:"error,omitempty"`
	Time    time.Time `yaml:"time"`
}

// Complete returns a copy of an invocation finished with outcome t.
func (op Op) Complete(t Type, value any, err error) Op {
	done := op
	done.Type = t
	done.Value = value
	done.Error = ""
	if err != nil {
		done.Error = err.Error()
	}

	return done
}

// History is a thread-safe, append-only operation log.
type History struct {
	mu  sync.Mutex
	ops []Op
	now func() time.Time
}

// New creates an empty history.
func New() *History {
	return &History{now: time.Now}
}

// Append stamps op with its index and time and records it.
func (h *History) Append(op Op) Op {
	h.mu.Lock()
	defer h.mu.Unlock()

	op.Index = len(h.ops)
	op.Time = h.now()
	h.ops = append(h.ops, op)

	return op
}

// Ops returns a copy of every recorded operation.
func (h *History) Ops() []Op {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Op, len(h.ops))
	copy(out, h.ops)
	return out
}

// Summary counts completions per function and outcome.
func (h *History) Summary() map[F]map[Type]int {
	summary := make(map[F]map[Type]int)
	for _, op := range h.Ops() {
		if op.Type == Invoke {
			continue
		}

		if summary[op.F] == nil {
			summary[op.F] = make(map[Type]int)
		}
		summary[op.F][op.Type]++
	}

	return summary
}

// SaveTo writes the history as YAML.
func (h *History) SaveTo(path string) error {
	bytes, err := yaml.Marshal(h.Ops())
	if err != nil {
		return errors.Wrap(err, "failed to serialize history")
	}

	if err := os.WriteFile(path, bytes, 0644); err != nil {
		return errors.Wrap(err, "failed to write history file")
	}

	return nil
}

// Load reads a history written by SaveTo.
func Load(path string) ([]Op, error) {
	bytes, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read history file")
	}

	var ops []Op
	if err := yaml.Unmarshal(bytes, &ops); err != nil {
		return nil, errors.Wrap(err, "failed to parse history file")
	}

	return ops, nil
}
