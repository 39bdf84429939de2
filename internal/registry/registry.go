package registry

import (
	"fmt"
	"maps"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-kit/log"

	"github.com/st3v3nmw/faultline/internal/cluster"
	"github.com/st3v3nmw/faultline/internal/control"
	"github.com/st3v3nmw/faultline/internal/history"
	"github.com/st3v3nmw/faultline/internal/identity"
	"github.com/st3v3nmw/faultline/internal/nemesis"
	"github.com/st3v3nmw/faultline/internal/validator"
)

var profiles = make(map[string]*Profile)

// Env is everything a profile may build its nemesis from.
type Env struct {
	Nodes    []cluster.Node
	Grouping identity.Grouping
	Control  control.Controller
	Net      control.Net
	Applier  *validator.Applier

	Validators       validator.Generator
	CrashFraction    float64
	MaxTruncateBytes int64

	Rand   *rand.Rand
	Logger log.Logger
}

type BuildFunc func(env Env) (nemesis.Nemesis, error)

// Profile pairs a nemesis with the cycle of operations it is driven by.
type Profile struct {
	Key     string
	Name    string
	Summary string
	Kind    nemesis.Kind
	// Schedule is cycled through, one operation per interval.
	Schedule []history.F
	// Interval overrides the configured nemesis interval when set.
	Interval time.Duration
	Build    BuildFunc
}

// Next returns the i-th operation of the schedule.
func (p *Profile) Next(i int) (history.Op, bool) {
	if len(p.Schedule) == 0 {
		return history.Op{}, false
	}

	return nemesis.Op(p.Schedule[i%len(p.Schedule)]), true
}

func (p *Profile) String() string {
	fs := make([]string, len(p.Schedule))
	for i, f := range p.Schedule {
		fs[i] = string(f)
	}

	schedule := "-"
	if len(fs) > 0 {
		schedule = strings.Join(fs, " → ")
	}

	return fmt.Sprintf("%-24s %-20s %s", p.Key, p.Kind, schedule)
}

func RegisterProfile(key string, profile *Profile) {
	if profile.Build == nil {
		panic(errors.AssertionFailedf("cannot register profile %s without a nemesis", key))
	}

	profile.Key = key
	profiles[key] = profile
}

func GetProfile(key string) (*Profile, error) {
	profile, exists := profiles[key]
	if !exists {
		return nil, errors.Newf("unknown profile %q, want one of: %s", key, strings.Join(Keys(), ", "))
	}

	return profile, nil
}

func GetAllProfiles() map[string]*Profile {
	return profiles
}

// Keys returns every registered profile key in order.
func Keys() []string {
	return slices.Sorted(maps.Keys(profiles))
}
