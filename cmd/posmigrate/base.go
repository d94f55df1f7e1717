package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/mitchellh/cli"

	"github.com/example/pos-migrate/internal/config"
	"github.com/example/pos-migrate/internal/database"
	"github.com/example/pos-migrate/internal/logging"
	"github.com/example/pos-migrate/internal/migration"
	"github.com/example/pos-migrate/internal/schema"
	"github.com/example/pos-migrate/migrations"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

type baseCommand struct {
	ctx    context.Context
	ui     cli.Ui
	stdout io.Writer
	stderr io.Writer
}

// session is everything a subcommand needs for one run against the
// configured database.
type session struct {
	cfg      config.Config
	ctx      context.Context
	logger   *slog.Logger
	registry *migration.Registry
	gw       *database.Gateway
	runner   *migration.Runner

	cancel context.CancelFunc
}

func (s *session) close() {
	if s.gw != nil {
		if err := s.gw.Close(); err != nil {
			s.logger.Error("failed to close database", "error", err)
		}
	}
	s.cancel()
}

func (b *baseCommand) flagSet(name string) *flag.FlagSet {
	flags := flag.NewFlagSet(name, flag.ContinueOnError)
	flags.SetOutput(b.stderr)
	return flags
}

// parse returns false and an exit code when args cannot be used.
func (b *baseCommand) parse(flags *flag.FlagSet, args []string) (int, bool) {
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK, false
		}
		return exitUsage, false
	}
	if flags.NArg() > 0 {
		b.ui.Error(fmt.Sprintf("%s: unexpected arguments: %s", flags.Name(), strings.Join(flags.Args(), " ")))
		return exitUsage, false
	}
	return exitOK, true
}

// open loads configuration, discovers migrations when withRegistry is set,
// and only then connects, so discovery errors never touch the database.
func (b *baseCommand) open(withRegistry bool, opts ...migration.Option) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(b.stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(b.ctx, cfg.Timeout)
	ctx = logging.ContextWithLogger(ctx, logger)
	s := &session{cfg: cfg, ctx: ctx, logger: logger, cancel: cancel}

	if withRegistry {
		s.registry = migration.NewRegistry()
		if err := s.registry.LoadFS(migrationFS(cfg), "."); err != nil {
			s.close()
			return nil, err
		}
	}

	s.gw, err = database.Open(ctx, cfg.Database())
	if err != nil {
		s.close()
		return nil, err
	}

	runnerOpts := append(cfg.RunnerOptions(), migration.WithLogger(logger))
	s.runner, err = migration.NewRunner(s.gw, append(runnerOpts, opts...)...)
	if err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func migrationFS(cfg config.Config) fs.FS {
	if cfg.MigrationsDir == "" {
		return migrations.FS()
	}
	return os.DirFS(cfg.MigrationsDir)
}

// loadExpectation reads path, or the embedded expectation when path is empty
// and the embedded migrations are in use.
func loadExpectation(cfg config.Config, path string) (schema.Snapshot, error) {
	var (
		r   io.ReadCloser
		err error
	)
	switch {
	case path != "":
		r, err = os.Open(path)
	case cfg.MigrationsDir == "":
		r, err = migrations.FS().Open(migrations.ExpectedSchemaFile)
	default:
		return nil, errors.New("an expectation file is required when MIGRATIONS_DIR is set")
	}
	if err != nil {
		return nil, fmt.Errorf("open expectation: %w", err)
	}
	defer r.Close()
	return schema.LoadExpectation(r)
}
