package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/desk-runner/pkg/config"
	"github.com/devicelab-dev/desk-runner/pkg/report"
)

var reportCommand = &cli.Command{
	Name:      "report",
	Usage:     "Print a report directory, finalizing an interrupted run",
	ArgsUsage: "<report-dir>",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "steps",
			Usage: "Print every step, not just the summary",
		},
		&cli.StringFlag{
			Name:    "history",
			Usage:   "Show flow history from this database (default: $DESK_RUNNER_HOME/state/history.db)",
			EnvVars: []string{"DESK_RUNNER_HISTORY"},
		},
		&cli.IntFlag{
			Name:  "last",
			Usage: "Show the N most recent recorded outcomes of each flow",
		},
	},
	Action: runReport,
}

func runReport(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("exactly one report directory is required")
	}
	dir := c.Args().First()

	if err := report.Recover(dir); err != nil {
		return fmt.Errorf("recover report: %w", err)
	}
	index, flows, err := report.ReadReport(dir)
	if err != nil {
		return err
	}

	con := console()
	if c.Bool("steps") {
		con.PrintFlows(index, flows)
	}
	con.PrintSummary(index, nil)

	if n := c.Int("last"); n > 0 {
		path := c.String("history")
		if path == "" {
			path = config.GetHistoryPath()
		}
		return printOutcomes(path, index, n)
	}
	return nil
}

func printOutcomes(path string, index *report.Index, n int) error {
	ctx := context.Background()
	h, err := report.OpenHistory(ctx, path)
	if err != nil {
		return err
	}
	defer h.Close()

	fmt.Println()
	for _, e := range index.Flows {
		outcomes, err := h.Outcomes(ctx, e.Name, n)
		if err != nil {
			return err
		}
		fmt.Printf("  %s\n", paint(report.ColorBold, e.Name))
		if len(outcomes) == 0 {
			fmt.Println("    (no history)")
		}
		for _, o := range outcomes {
			fmt.Printf("    %s  %-8s %8s  %s\n",
				o.StartedAt.Format("2006-01-02 15:04:05"), o.Status,
				report.FormatDuration(o.Duration.Milliseconds()), o.Error)
		}
	}
	return nil
}
