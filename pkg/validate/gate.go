// Package validate implements the pre-migration validation gate: a fixed
// battery of read-only precondition checks run against both hosts before any
// data moves. The gate never mutates either host and is safe to re-run.
package validate

import (
	"context"
	"log/slog"

	"github.com/wpshift/wpshift/pkg/migrate"
	"github.com/wpshift/wpshift/pkg/remote"
)

// Outcome of a single check.
type Outcome string

const (
	Pass    Outcome = "pass"
	Fail    Outcome = "fail"
	Warning Outcome = "warning"
)

// Check is one evaluated precondition. Created fresh per run and never
// mutated after evaluation.
type Check struct {
	Name    string
	Outcome Outcome
	Detail  string
	// Fatal marks a Fail that unconditionally aborts the migration.
	Fatal bool
}

// Report is the gate's full result.
type Report struct {
	Checks []Check
}

// Passed reports whether no fatal check failed. Warnings do not block.
func (r *Report) Passed() bool {
	return r.FirstFatal() == nil
}

// FirstFatal returns the first fatally failed check, or nil.
func (r *Report) FirstFatal() *Check {
	for i := range r.Checks {
		c := &r.Checks[i]
		if c.Outcome == Fail && c.Fatal {
			return c
		}
	}
	return nil
}

// Warnings returns the checks that passed with a warning.
func (r *Report) Warnings() []Check {
	var out []Check
	for _, c := range r.Checks {
		if c.Outcome == Warning {
			out = append(out, c)
		}
	}
	return out
}

// Params carries the configuration the checks verify. Shapes are trusted
// (the config layer validated them); this gate verifies truth: reachability,
// credentials, space.
type Params struct {
	SourceRoot string
	TargetRoot string
	SourceDB   migrate.DBConfig
	TargetDB   migrate.DBConfig
}

// Gate runs the battery over two already-open sessions.
type Gate struct {
	Source remote.Session
	Target remote.Session
	Params Params
}

// Run evaluates every check in its fixed order and returns the report. It
// does not short-circuit on failure: the operator gets the complete picture
// in one pass, and the orchestrator decides on the overall outcome.
func (g *Gate) Run(ctx context.Context) *Report {
	report := &Report{}

	add := func(c Check) {
		report.Checks = append(report.Checks, c)
		level := slog.LevelInfo
		if c.Outcome == Fail {
			level = slog.LevelError
		} else if c.Outcome == Warning {
			level = slog.LevelWarn
		}
		slog.Log(ctx, level, "validation_check",
			"check", c.Name,
			"outcome", string(c.Outcome),
			"fatal", c.Fatal,
			"detail", c.Detail)
	}

	add(g.checkConnectivity(ctx))
	add(g.checkTargetStack(ctx))
	add(g.checkTargetDatabase(ctx))
	add(g.checkDiskSpace(ctx))
	add(g.checkSourceTree(ctx))
	add(g.checkSourceDatabase(ctx))

	slog.Info("validation_gate_done",
		"checks", len(report.Checks),
		"passed", report.Passed(),
		"warnings", len(report.Warnings()))

	return report
}
