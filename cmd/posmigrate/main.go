// Command posmigrate applies, rolls back and verifies the POS backend schema.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mitchellh/cli"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run dispatches args to a subcommand and returns the process exit code.
// Without a subcommand it runs up.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || (strings.HasPrefix(args[0], "-") && !isTopLevelFlag(args[0])) {
		args = append([]string{"up"}, args...)
	}

	ui := &cli.ColoredUi{
		ErrorColor: cli.UiColorRed,
		WarnColor:  cli.UiColorYellow,
		Ui: &cli.BasicUi{
			Writer:      stdout,
			ErrorWriter: stderr,
		},
	}
	base := &baseCommand{ctx: ctx, ui: ui, stdout: stdout, stderr: stderr}

	c := &cli.CLI{
		Name:    "posmigrate",
		Version: version,
		Args:    args,
		Commands: map[string]cli.CommandFactory{
			"up": func() (cli.Command, error) {
				return &upCommand{baseCommand: base}, nil
			},
			"down": func() (cli.Command, error) {
				return &downCommand{baseCommand: base}, nil
			},
			"status": func() (cli.Command, error) {
				return &statusCommand{baseCommand: base}, nil
			},
			"verify": func() (cli.Command, error) {
				return &verifyCommand{baseCommand: base}, nil
			},
			"unlock": func() (cli.Command, error) {
				return &unlockCommand{baseCommand: base}, nil
			},
		},
		HelpFunc:   cli.BasicHelpFunc("posmigrate"),
		HelpWriter: stderr,
	}

	exitCode, err := c.Run()
	if err != nil {
		fmt.Fprintf(stderr, "Error executing CLI: %s\n", err.Error())
		return 1
	}
	return exitCode
}

func isTopLevelFlag(arg string) bool {
	switch arg {
	case "-h", "-help", "--help", "-v", "-version", "--version":
		return true
	}
	return false
}
