package run

import (
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/fatih/color"

	"github.com/st3v3nmw/faultline/internal/history"
	"github.com/st3v3nmw/faultline/internal/identity"
	"github.com/st3v3nmw/faultline/internal/validator"
)

var (
	green     = color.New(color.FgGreen).SprintFunc()
	red       = color.New(color.FgRed).SprintFunc()
	yellow    = color.New(color.FgYellow).SprintFunc()
	bold      = color.New(color.Bold).SprintFunc()
	checkMark = green("✓")
	crossMark = red("✗")
	infoMark  = yellow("?")
)

// Report summarises a finished run.
type Report struct {
	Profile  string
	Seed     uint64
	Grouping identity.Grouping
	Weights  identity.Weights

	Summary        map[history.F]map[history.Type]int
	Ops            int
	ValidatorState validator.State
	HistoryPath    string
	Duration       time.Duration

	SetupErr    error
	TeardownErr error
}

// Completed reports whether the run got through setup and teardown.
func (r *Report) Completed() bool {
	return r.SetupErr == nil && r.TeardownErr == nil
}

// Print writes the human-readable report.
func (r *Report) Print(w io.Writer) {
	fmt.Fprintf(w, "%s %s (seed %d)\n\n", bold("Profile"), r.Profile, r.Seed)

	PrintWeights(w, r.Grouping, r.Weights)
	fmt.Fprintln(w)

	if r.SetupErr != nil {
		fmt.Fprintf(w, "%s Setup failed\n", crossMark)
		fmt.Fprintf(w, "   %s\n", r.SetupErr)
		return
	}

	fs := make([]history.F, 0, len(r.Summary))
	for f := range r.Summary {
		fs = append(fs, f)
	}
	slices.Sort(fs)

	for _, f := range fs {
		counts := r.Summary[f]
		fmt.Fprintf(w, " %-12s %s %-6d %s %-6d %s %d\n", f,
			checkMark, counts[history.OK],
			crossMark, counts[history.Fail],
			infoMark, counts[history.Info])
	}
	fmt.Fprintln(w)

	if r.TeardownErr != nil {
		fmt.Fprintf(w, "%s Teardown failed\n", crossMark)
		fmt.Fprintf(w, "   %s\n", r.TeardownErr)
	} else {
		fmt.Fprintf(w, "%s Faults healed\n", checkMark)
	}

	if r.HistoryPath != "" {
		fmt.Fprintf(w, "\nHistory (%d ops) written to %s\n", r.Ops, yellow(r.HistoryPath))
	}

	verdict := bold("COMPLETED")
	if !r.Completed() {
		verdict = bold("INCOMPLETE")
	}

	fmt.Fprintf(w, "%s (took %s)\n", verdict, r.Duration.Round(time.Millisecond))
}

// PrintWeights writes one line per identity with its members and share of
// the vote.
func PrintWeights(w io.Writer, g identity.Grouping, weights identity.Weights) {
	for _, group := range g.Groups {
		mark := " "
		if group.Dup() {
			mark = red("*")
		}

		fmt.Fprintf(w, "%s %-8s %-20v votes %-4d %5.1f%%\n", mark,
			group.Identity, group.Members,
			weights.ByIdentity[group.Identity],
			100*weights.Fraction(group.Identity))
	}

	fmt.Fprintf(w, "  total votes %d\n", weights.Total())
}
