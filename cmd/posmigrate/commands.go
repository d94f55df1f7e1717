package main

import (
	"fmt"
	"strings"

	"github.com/example/pos-migrate/internal/migration"
)

type upCommand struct {
	*baseCommand
}

func (c *upCommand) Synopsis() string { return "Apply all pending migrations" }

func (c *upCommand) Help() string {
	return strings.TrimSpace(`
Usage: posmigrate up [-verify <file>] [-strict]

  Applies every pending migration in ascending order, one transaction per
  migration, and stops at the first failure. This is the default command.

Options:

  -verify <file>  Compare the resulting schema against an expectation file.
  -strict         Exit non-zero when verification finds discrepancies.
`)
}

func (c *upCommand) Run(args []string) int {
	flags := c.flagSet("up")
	verifyPath := flags.String("verify", "", "")
	strict := flags.Bool("strict", false, "")
	if code, ok := c.parse(flags, args); !ok {
		return code
	}

	s, err := c.open(true, migration.WithObserver(c.progress))
	if err != nil {
		c.ui.Error(err.Error())
		return exitError
	}
	defer s.close()

	report, err := s.runner.ApplyPending(s.ctx, s.registry)
	c.printDrift(report.Drift)
	if err != nil {
		c.printFailure(report, err)
		return exitError
	}
	if len(report.Succeeded) == 0 {
		c.ui.Output("Database schema is up to date.")
	} else {
		c.ui.Output(fmt.Sprintf("Applied %d migration(s).", len(report.Succeeded)))
	}

	if *verifyPath == "" {
		return exitOK
	}
	return c.verify(s, *verifyPath, *strict)
}

type downCommand struct {
	*baseCommand
}

func (c *downCommand) Synopsis() string { return "Roll back the most recent migrations" }

func (c *downCommand) Help() string {
	return strings.TrimSpace(`
Usage: posmigrate down [-steps <n>]

  Reverts the n most recently applied migrations, newest first. Every
  target must have a down action; otherwise nothing is changed.

Options:

  -steps <n>  Number of migrations to roll back. Defaults to 1.
`)
}

func (c *downCommand) Run(args []string) int {
	flags := c.flagSet("down")
	steps := flags.Int("steps", 1, "")
	if code, ok := c.parse(flags, args); !ok {
		return code
	}
	if *steps < 1 {
		c.ui.Error("down: -steps must be at least 1")
		return exitUsage
	}

	s, err := c.open(true, migration.WithObserver(c.progress))
	if err != nil {
		c.ui.Error(err.Error())
		return exitError
	}
	defer s.close()

	report, err := s.runner.Rollback(s.ctx, s.registry, *steps)
	if err != nil {
		c.printFailure(report, err)
		return exitError
	}
	if len(report.Succeeded) == 0 {
		c.ui.Output("Nothing to roll back.")
	} else {
		c.ui.Output(fmt.Sprintf("Rolled back %d migration(s).", len(report.Succeeded)))
	}
	return exitOK
}

type statusCommand struct {
	*baseCommand
}

func (c *statusCommand) Synopsis() string { return "Show applied and pending migrations" }

func (c *statusCommand) Help() string {
	return strings.TrimSpace(`
Usage: posmigrate status

  Lists applied and pending migrations without changing the database.
`)
}

func (c *statusCommand) Run(args []string) int {
	if code, ok := c.parse(c.flagSet("status"), args); !ok {
		return code
	}

	s, err := c.open(true)
	if err != nil {
		c.ui.Error(err.Error())
		return exitError
	}
	defer s.close()

	migrations, err := s.registry.List()
	if err != nil {
		c.ui.Error(err.Error())
		return exitError
	}
	status, err := s.runner.Status(s.ctx, s.registry)
	if err != nil {
		c.ui.Error(err.Error())
		return exitError
	}
	c.printStatus(status, migrations)
	c.printDrift(status.Drift)
	if len(status.Unknown) > 0 || len(status.OutOfOrder) > 0 {
		return exitError
	}
	return exitOK
}

type verifyCommand struct {
	*baseCommand
}

func (c *verifyCommand) Synopsis() string { return "Compare the live schema with an expectation" }

func (c *verifyCommand) Help() string {
	return strings.TrimSpace(`
Usage: posmigrate verify [-expect <file>] [-strict]

  Reads the live catalog for every table named in the expectation file and
  reports missing tables, missing or extra columns, and type or nullability
  mismatches. Without -expect the embedded expectation is used, which is
  only available when MIGRATIONS_DIR is unset.

Options:

  -expect <file>  Expectation file (YAML).
  -strict         Exit non-zero when discrepancies are found.
`)
}

func (c *verifyCommand) Run(args []string) int {
	flags := c.flagSet("verify")
	expect := flags.String("expect", "", "")
	strict := flags.Bool("strict", false, "")
	if code, ok := c.parse(flags, args); !ok {
		return code
	}

	s, err := c.open(false)
	if err != nil {
		c.ui.Error(err.Error())
		return exitError
	}
	defer s.close()
	return c.verify(s, *expect, *strict)
}

type unlockCommand struct {
	*baseCommand
}

func (c *unlockCommand) Synopsis() string { return "Clear a stale migration lock" }

func (c *unlockCommand) Help() string {
	return strings.TrimSpace(`
Usage: posmigrate unlock

  Removes the SQLite lock row left behind by a run that died while holding
  it. PostgreSQL and MySQL advisory locks end with their session, so this
  is a no-op there.
`)
}

func (c *unlockCommand) Run(args []string) int {
	if code, ok := c.parse(c.flagSet("unlock"), args); !ok {
		return code
	}

	s, err := c.open(false)
	if err != nil {
		c.ui.Error(err.Error())
		return exitError
	}
	defer s.close()

	removed, err := s.runner.Unlock(s.ctx)
	if err != nil {
		c.ui.Error(err.Error())
		return exitError
	}
	if removed {
		c.ui.Warn("Removed a stale migration lock.")
	} else {
		c.ui.Output("No migration lock to remove.")
	}
	return exitOK
}
