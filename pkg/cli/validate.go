package cli

import (
	"fmt"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/desk-runner/pkg/report"
	"github.com/devicelab-dev/desk-runner/pkg/validator"
)

var validateCommand = &cli.Command{
	Name:      "validate",
	Usage:     "Check flow files without running them",
	ArgsUsage: "<flow-file-or-folder>...",
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "include-tags",
			Usage: "Only include flows with these tags",
		},
		&cli.StringSliceFlag{
			Name:  "exclude-tags",
			Usage: "Exclude flows with these tags",
		},
	},
	Action: runValidate,
}

func runValidate(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("at least one flow file or folder is required")
	}

	v := validator.New(c.StringSlice("include-tags"), c.StringSlice("exclude-tags"))
	var errs []error
	for _, path := range c.Args().Slice() {
		result := v.Validate(path)
		fmt.Printf("\n  %s\n", paint(report.ColorBold, path))
		for _, f := range result.TestCases {
			fmt.Printf("    %s %s\n", paint(report.ColorGreen, "✓"), rel(path, f))
		}
		for _, f := range result.Dependencies {
			fmt.Printf("    %s %s %s\n", paint(report.ColorCyan, "↳"), rel(path, f), paint(report.ColorGray, "(dependency)"))
		}
		for _, err := range result.Errors {
			fmt.Printf("    %s %v\n", paint(report.ColorRed, "✗"), err)
		}
		errs = append(errs, result.Errors...)
	}
	fmt.Println()

	if len(errs) > 0 {
		return fmt.Errorf("validation failed with %d error(s)", len(errs))
	}
	fmt.Printf("  %s\n", paint(report.ColorGreen, "All flows valid"))
	return nil
}

// rel shortens file to a path relative to the validated root when possible.
func rel(root, file string) string {
	base := root
	if filepath.Ext(root) != "" {
		base = filepath.Dir(root)
	}
	if r, err := filepath.Rel(base, file); err == nil {
		return r
	}
	return file
}
