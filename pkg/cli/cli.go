// Package cli provides the command-line interface for desk-runner.
package cli

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "backend",
		Aliases: []string{"b"},
		Usage:   "Desktop backend to drive (sim)",
		Value:   "sim",
		EnvVars: []string{"DESK_RUNNER_BACKEND"},
	},
	&cli.StringFlag{
		Name:    "workdir",
		Usage:   "Working directory of the application under test (default: current directory)",
		EnvVars: []string{"DESK_RUNNER_WORKDIR"},
	},
	&cli.StringFlag{
		Name:    "config",
		Usage:   "Path to workspace config.yaml",
		EnvVars: []string{"DESK_RUNNER_CONFIG"},
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Enable verbose logging",
		EnvVars: []string{"DESK_RUNNER_VERBOSE"},
	},
	&cli.BoolFlag{
		Name:  "no-ansi",
		Usage: "Disable ANSI colors",
	},
}

// NewApp builds the command-line application.
func NewApp() *cli.App {
	return &cli.App{
		Name:    "desk-runner",
		Usage:   "Flow runner for desktop applications",
		Version: Version,
		Description: `desk-runner drives desktop applications through their accessibility
tree: menus, toolbars, dialogs, tree views and the clipboard, described
as YAML flows.

Examples:
  desk-runner test flow.yaml
  desk-runner test flows/ -e USER=test
  desk-runner validate flows/
  desk-runner menus xmleditor.exe`,
		Flags: GlobalFlags,
		Before: func(c *cli.Context) error {
			if c.Bool("no-ansi") {
				colorsEnabled = false
			}
			return nil
		},
		Commands: []*cli.Command{
			testCommand,
			validateCommand,
			menusCommand,
			reportCommand,
		},
	}
}

// Execute runs the CLI.
func Execute() {
	if err := NewApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
