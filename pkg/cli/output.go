package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/devicelab-dev/desk-runner/pkg/report"
)

// colorsEnabled determines if ANSI colors should be used
var colorsEnabled = true

func init() {
	// Respect NO_COLOR environment variable
	if os.Getenv("NO_COLOR") != "" {
		colorsEnabled = false
		return
	}
	// Check if stdout is a terminal
	if fileInfo, err := os.Stdout.Stat(); err == nil {
		if (fileInfo.Mode() & os.ModeCharDevice) == 0 {
			colorsEnabled = false
		}
	}
}

// console writes to the current stdout.
func console() *report.Console {
	return report.NewConsole(os.Stdout, colorsEnabled)
}

func paint(code, s string) string {
	return console().Paint(code, s)
}

func printBanner() {
	fmt.Println()
	fmt.Printf("  %s %s\n", paint(report.ColorBold, "desk-runner"), Version)
	fmt.Println("  " + strings.Repeat("─", 40))
}

func printSetupStep(msg string) {
	fmt.Printf("  %s %s\n", paint(report.ColorCyan, "⏳"), msg)
}

func printSetupSuccess(msg string) {
	fmt.Printf("  %s %s\n", paint(report.ColorGreen, "✓"), msg)
}

// Live progress callbacks

func onFlowStart(flowIdx, totalFlows int, name, file string) {
	fmt.Printf("\n  %s %s (%s)\n",
		paint(report.ColorCyan, fmt.Sprintf("[%d/%d]", flowIdx+1, totalFlows)),
		paint(report.ColorBold, name), file)
	fmt.Println("  " + strings.Repeat("─", 60))
}

func onStepComplete(idx int, desc string, passed bool, durationMs int64, errMsg string) {
	console().PrintStep(0, desc, passed, time.Duration(durationMs)*time.Millisecond, errMsg)
}

func onNestedFlowStart(depth int, desc string) {
	indent := strings.Repeat("  ", 2+depth)
	fmt.Printf("%s%s %s\n", indent, paint(report.ColorCyan, "▸"), desc)
}

func onNestedStep(depth int, desc string, passed bool, durationMs int64, errMsg string) {
	console().PrintStep(depth+1, desc, passed, time.Duration(durationMs)*time.Millisecond, errMsg)
}

func onFlowEnd(name string, passed bool, durationMs int64) {
	symbol, code := "✓", report.ColorGreen
	if !passed {
		symbol, code = "✗", report.ColorRed
	}
	fmt.Printf("%s %s %s\n", paint(code, symbol), name, paint(report.ColorGray, report.FormatDuration(durationMs)))
}

// printReport prints the run's summary table from the report directory.
// last, when non-nil, adds each flow's previous outcome.
func printReport(outputDir string, last map[string]*report.Outcome) error {
	index, _, err := report.ReadReport(outputDir)
	if err != nil {
		return err
	}
	console().PrintSummary(index, last)
	return nil
}
