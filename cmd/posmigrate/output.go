package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/example/pos-migrate/internal/migration"
	"github.com/example/pos-migrate/internal/schema"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// progress prints each committed step as the runner reports it.
func (b *baseCommand) progress(t migration.Transition) {
	if t.State != migration.StateCommitted {
		return
	}
	verb := "applied"
	if t.Direction == migration.Down {
		verb = "rolled back"
	}
	fmt.Fprintf(b.stdout, "%s %s\n", green(verb), t.Migration)
}

func (b *baseCommand) printFailure(report migration.Report, err error) {
	b.ui.Error(fmt.Sprintf("Migration %s failed: %s", report.Direction, migration.ErrorKind(err)))
	fmt.Fprintf(b.stderr, "  attempted: %s\n", list(report.Attempted))
	fmt.Fprintf(b.stderr, "  succeeded: %s\n", list(report.Succeeded))
	if report.Failed != "" {
		fmt.Fprintf(b.stderr, "  failed:    %s\n", red(report.Failed))
	}
	if len(report.Skipped) > 0 {
		fmt.Fprintf(b.stderr, "  skipped:   %s\n", list(report.Skipped))
	}
	fmt.Fprintf(b.stderr, "  error:     %v\n", err)
}

func (b *baseCommand) printDrift(drift []migration.Drift) {
	for _, d := range drift {
		b.ui.Warn(fmt.Sprintf("Migration %s (%s) changed after it was applied: recorded checksum %s, current %s",
			d.Identifier, d.Source, shortSum(d.Recorded), shortSum(d.Current)))
	}
}

func (b *baseCommand) printStatus(status migration.Status, migrations []migration.Migration) {
	current := status.Current
	if current == "" {
		current = "none"
	}
	fmt.Fprintf(b.stdout, "%s %s\n\n", bold("Current version:"), current)

	byVersion := make(map[int64]migration.Migration, len(migrations))
	for _, m := range migrations {
		byVersion[m.Version] = m
	}
	outOfOrder := make(map[string]bool, len(status.OutOfOrder))
	for _, id := range status.OutOfOrder {
		outOfOrder[id] = true
	}

	tw := tabwriter.NewWriter(b.stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tSTATE\tAPPLIED AT\tDURATION\tDESCRIPTION")
	for _, rec := range status.Applied {
		m, known := byVersion[rec.Version]
		id, state, desc := m.Identifier, green("applied"), m.Description
		if !known {
			id, state, desc = strconv.FormatInt(rec.Version, 10), red("unknown"), "not in the migration set"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", id, state,
			rec.AppliedAt.UTC().Format(time.RFC3339), rec.ExecutionTime.Round(time.Millisecond), desc)
	}
	for _, m := range status.Pending {
		state := yellow("pending")
		if outOfOrder[m.Identifier] {
			state = red("out of order")
		}
		fmt.Fprintf(tw, "%s\t%s\t-\t-\t%s\n", m.Identifier, state, m.Description)
	}
	_ = tw.Flush()
}

func (b *baseCommand) verify(s *session, path string, strict bool) int {
	expected, err := loadExpectation(s.cfg, path)
	if err != nil {
		b.ui.Error(err.Error())
		return exitError
	}
	result, err := schema.NewVerifier(s.gw, s.logger).Verify(s.ctx, expected)
	if err != nil {
		b.ui.Error(err.Error())
		return exitError
	}

	if err := result.Err(); err != nil {
		var discrepancyErr *schema.DiscrepancyError
		errors.As(err, &discrepancyErr)
		for _, d := range discrepancyErr.Discrepancies {
			fmt.Fprintf(b.stdout, "%s %s\n", yellow("!"), d)
		}
		msg := fmt.Sprintf("Schema verification found %d discrepancies.", len(discrepancyErr.Discrepancies))
		if strict {
			b.ui.Error(msg)
			return exitError
		}
		b.ui.Warn(msg)
		return exitOK
	}
	b.ui.Output(fmt.Sprintf("Schema matches expectation (%d tables).", len(expected)))
	return exitOK
}

func list(ids []string) string {
	if len(ids) == 0 {
		return "-"
	}
	return strings.Join(ids, ", ")
}

func shortSum(sum string) string {
	if sum == "" {
		return "-"
	}
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
