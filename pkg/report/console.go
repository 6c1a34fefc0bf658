package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/devicelab-dev/desk-runner/pkg/core"
)

// ANSI color codes
const (
	ColorReset  = "\033[0m"
	ColorBold   = "\033[1m"
	ColorGreen  = "\033[32m"
	ColorRed    = "\033[31m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
	ColorGray   = "\033[90m"
)

// SlowStep is the duration above which a passing step is flagged.
const SlowStep = 5 * time.Second

const nameWidth = 40

// Console renders reports for a terminal.
type Console struct {
	w     io.Writer
	color bool
}

// NewConsole creates a console writing to w. With color false no escape
// codes are written.
func NewConsole(w io.Writer, color bool) *Console {
	return &Console{w: w, color: color}
}

// Paint wraps s in an ANSI code when colors are enabled.
func (c *Console) Paint(code, s string) string {
	if !c.color || s == "" {
		return s
	}
	return code + s + ColorReset
}

// Fit truncates s to width display columns and pads it on the right.
func Fit(s string, width int) string {
	if runewidth.StringWidth(s) > width {
		s = runewidth.Truncate(s, width, "...")
	}
	return runewidth.FillRight(s, width)
}

// FormatDuration formats milliseconds to a human-readable string.
// Shows milliseconds for values < 1s, seconds otherwise.
func FormatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	mins := ms / 60000
	secs := (ms % 60000) / 1000
	return fmt.Sprintf("%dm %ds", mins, secs)
}

// PrintStep prints one step line and its error, indented by depth.
func (c *Console) PrintStep(depth int, desc string, passed bool, d time.Duration, errMsg string) {
	indent := strings.Repeat("  ", 2+depth)
	dur := "(" + FormatDuration(d.Milliseconds()) + ")"
	if passed {
		symbol, code := "✓", ColorGreen
		if d >= SlowStep && !isCompound(desc) {
			symbol, code = "⚠", ColorYellow
			dur = c.Paint(ColorYellow, dur)
		}
		fmt.Fprintf(c.w, "%s%s %s %s\n", indent, c.Paint(code, symbol), desc, dur)
		return
	}
	fmt.Fprintf(c.w, "%s%s %s %s\n", indent, c.Paint(ColorRed, "✗"), desc, dur)
	if errMsg != "" {
		fmt.Fprintf(c.w, "%s  %s %s\n", indent, c.Paint(ColorGray, "╰─"), errMsg)
	}
}

func isCompound(desc string) bool {
	return strings.HasPrefix(desc, "runFlow") ||
		strings.HasPrefix(desc, "repeat") ||
		strings.HasPrefix(desc, "retry")
}

// PrintFlows prints every flow with its steps, nested steps indented.
func (c *Console) PrintFlows(index *Index, flows []FlowDetail) {
	byID := make(map[string]*FlowDetail, len(flows))
	for i := range flows {
		byID[flows[i].ID] = &flows[i]
	}
	for i, e := range index.Flows {
		fmt.Fprintf(c.w, "\n  %s %s (%s)\n",
			c.Paint(ColorCyan, fmt.Sprintf("[%d/%d]", i+1, len(index.Flows))),
			c.Paint(ColorBold, e.Name), e.SourceFile)
		fmt.Fprintln(c.w, "  "+strings.Repeat("─", 60))

		detail := byID[e.ID]
		if detail == nil {
			fmt.Fprintf(c.w, "    (%s, no step details)\n", e.Status)
			continue
		}
		for _, steps := range [][]core.StepResult{detail.OnFlowStart, detail.Steps, detail.OnFlowComplete} {
			c.printSteps(steps, 0)
		}
	}
}

func (c *Console) printSteps(steps []core.StepResult, depth int) {
	for _, s := range steps {
		desc := describe(s)
		if s.Status == core.StatusSkipped {
			fmt.Fprintf(c.w, "%s%s %s\n", strings.Repeat("  ", 2+depth), c.Paint(ColorCyan, "-"), desc)
			continue
		}
		errMsg := s.Error
		if s.Status == core.StatusWarned && errMsg != "" {
			errMsg = "optional: " + errMsg
		}
		c.PrintStep(depth, desc, s.Status.IsSuccess() && s.Status != core.StatusWarned, s.Duration, errMsg)
		c.printSteps(s.SubSteps, depth+1)
	}
}

// PrintSummary prints the flow table. When last is non-nil a column shows
// each flow's previous recorded outcome.
func (c *Console) PrintSummary(index *Index, last map[string]*Outcome) {
	var total StepSummary
	var durationMs int64
	for _, e := range index.Flows {
		total.Total += e.Steps.Total
		total.Passed += e.Steps.Passed
		total.Failed += e.Steps.Failed
		total.Skipped += e.Steps.Skipped
		total.Warned += e.Steps.Warned
		if e.Duration != nil {
			durationMs += *e.Duration
		}
	}
	if index.EndTime != nil {
		durationMs = index.EndTime.Sub(index.StartTime).Milliseconds()
	}

	fmt.Fprintln(c.w)
	if total.Passed > 0 {
		fmt.Fprintf(c.w, "  %s (%s)\n", c.Paint(ColorGreen, fmt.Sprintf("%d steps passing", total.Passed)), FormatDuration(durationMs))
	}
	if total.Warned > 0 {
		fmt.Fprintf(c.w, "  %s\n", c.Paint(ColorYellow, fmt.Sprintf("%d optional steps failed", total.Warned)))
	}
	if total.Failed > 0 {
		fmt.Fprintf(c.w, "  %s\n", c.Paint(ColorRed, fmt.Sprintf("%d steps failing", total.Failed)))
	}
	if total.Skipped > 0 {
		fmt.Fprintf(c.w, "  %s\n", c.Paint(ColorCyan, fmt.Sprintf("%d steps skipped", total.Skipped)))
	}
	fmt.Fprintln(c.w)

	tableWidth := 92
	if last != nil {
		tableWidth += 12
	}
	header := fmt.Sprintf("  %s %6s %7s %6s %6s %6s %10s", Fit("Flow", nameWidth), "Status", "Steps", "Pass", "Fail", "Skip", "Duration")
	if last != nil {
		header += "  Last run"
	}
	fmt.Fprintln(c.w, strings.Repeat("═", tableWidth))
	fmt.Fprintln(c.w, header)
	fmt.Fprintln(c.w, strings.Repeat("─", tableWidth))

	for _, e := range index.Flows {
		status, code := statusLabel(e.Status)
		dur := ""
		if e.Duration != nil {
			dur = FormatDuration(*e.Duration)
		}
		line := fmt.Sprintf("  %s %s %7d %6d %6d %6d %10s",
			Fit(e.Name, nameWidth), c.Paint(code, runewidth.FillLeft(status, 6)),
			e.Steps.Total, e.Steps.Passed, e.Steps.Failed, e.Steps.Skipped, dur)
		if last != nil {
			line += "  " + lastLabel(last[e.Name])
		}
		fmt.Fprintln(c.w, line)
	}

	fmt.Fprintln(c.w, strings.Repeat("─", tableWidth))
	code := ColorGreen
	if index.Summary.Failed > 0 {
		code = ColorRed
	}
	fmt.Fprintf(c.w, "  %s %s %7d %6d %6d %6d %10s\n",
		c.Paint(ColorBold, Fit("TOTAL", nameWidth)),
		c.Paint(code, fmt.Sprintf("%6s", fmt.Sprintf("%d/%d", index.Summary.Passed, index.Summary.Total))),
		total.Total, total.Passed, total.Failed, total.Skipped, FormatDuration(durationMs))
	fmt.Fprintln(c.w, strings.Repeat("═", tableWidth))
}

func statusLabel(s Status) (string, string) {
	switch s {
	case StatusPassed:
		return "✓ PASS", ColorGreen
	case StatusFailed:
		return "✗ FAIL", ColorRed
	case StatusSkipped:
		return "- SKIP", ColorCyan
	default:
		return strings.ToUpper(string(s)), ColorGray
	}
}

func lastLabel(o *Outcome) string {
	if o == nil {
		return "-"
	}
	return string(o.Status)
}
