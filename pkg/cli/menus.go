package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/desk-runner/pkg/config"
	"github.com/devicelab-dev/desk-runner/pkg/logger"
	"github.com/devicelab-dev/desk-runner/pkg/report"
	"github.com/devicelab-dev/desk-runner/pkg/window"
)

var menusCommand = &cli.Command{
	Name:      "menus",
	Usage:     "Launch an application and list its menu and toolbar commands",
	ArgsUsage: "<app> [args]...",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Print the hierarchy as JSON",
		},
	},
	Action: runMenus,
}

func runMenus(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("application path is required")
	}
	logger.SetVerbose(c.Bool("verbose"))

	desk, err := openDesktop(c.String("backend"), c.String("workdir"))
	if err != nil {
		return err
	}
	timing := config.Timing{}
	if path := c.String("config"); path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		timing = cfg.Timing
	}

	args := c.Args().Slice()
	sess, err := window.Launch(desk, timing.WindowConfig(), args[0], args[1:]...)
	if err != nil {
		return fmt.Errorf("launch %s: %w", args[0], err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Warn("close %s: %v", args[0], err)
		}
	}()

	hierarchy, err := sess.DiscoverAllMenus()
	if err != nil {
		return fmt.Errorf("discover menus: %w", err)
	}

	if c.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(hierarchy)
	}
	printHierarchy(hierarchy)
	return nil
}

func printHierarchy(hierarchy map[string][]string) {
	scopes := make([]string, 0, len(hierarchy))
	for scope := range hierarchy {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)
	for _, scope := range scopes {
		fmt.Printf("\n  %s\n", paint(report.ColorBold, scope))
		for _, path := range hierarchy[scope] {
			fmt.Printf("    %s\n", path)
		}
	}
	fmt.Println()
}
