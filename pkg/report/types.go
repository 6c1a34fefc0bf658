// Package report provides JSON-based test reporting.
//
// Layout of a report directory:
//   - report.json: index of the run (small, rewritten after every flow)
//   - flows/<id>.json: full result of one flow
//   - assets/<id>/: attachments captured while the flow ran
//   - junit.xml: the finished run in JUnit form, for CI
//
// The index is the single source of truth for status and change tracking.
// Consumers poll report.json and only fetch changed flow details.
package report

import (
	"time"

	"github.com/devicelab-dev/desk-runner/pkg/core"
)

// Version is the report schema version.
const Version = "1.0.0"

// Status represents the execution status of a run or a flow.
type Status string

// Status values.
const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// IsTerminal returns true if the status is a final state.
func (s Status) IsTerminal() bool {
	return s == StatusPassed || s == StatusFailed || s == StatusSkipped
}

// statusOf folds a step status into a report status. Warned counts as
// passed, errored as failed.
func statusOf(s core.StepStatus) Status {
	switch s {
	case core.StatusPassed, core.StatusWarned:
		return StatusPassed
	case core.StatusFailed, core.StatusErrored:
		return StatusFailed
	case core.StatusSkipped:
		return StatusSkipped
	case core.StatusRunning:
		return StatusRunning
	default:
		return StatusPending
	}
}

// ============================================================================
// INDEX (report.json)
// ============================================================================

// Index is the main report file that binds everything together.
type Index struct {
	Version     string      `json:"version"`
	UpdateSeq   uint64      `json:"updateSeq"`
	RunID       string      `json:"runId"`
	Name        string      `json:"name"`
	Status      Status      `json:"status"`
	StartTime   time.Time   `json:"startTime"`
	EndTime     *time.Time  `json:"endTime,omitempty"`
	LastUpdated time.Time   `json:"lastUpdated"`
	Runner      RunnerInfo  `json:"runner"`
	Summary     Summary     `json:"summary"`
	Flows       []FlowEntry `json:"flows"`
}

// RunnerInfo describes the harness that produced the report.
type RunnerInfo struct {
	Version string `json:"version"`
	Backend string `json:"backend"` // sim, win32
}

// Summary counts flows by status.
type Summary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Running int `json:"running"`
	Pending int `json:"pending"`
}

// FlowEntry is one flow's line in the index.
type FlowEntry struct {
	Index      int         `json:"index"`      // Original position
	ID         string      `json:"id"`         // Unique flow ID
	Name       string      `json:"name"`       // Display name
	SourceFile string      `json:"sourceFile"` // Path to YAML file
	DataFile   string      `json:"dataFile"`   // Path to flow detail JSON
	AssetsDir  string      `json:"assetsDir"`  // Path to assets directory
	Status     Status      `json:"status"`
	UpdateSeq  uint64      `json:"updateSeq"`
	StartTime  *time.Time  `json:"startTime,omitempty"`
	Duration   *int64      `json:"duration,omitempty"` // milliseconds
	Steps      StepSummary `json:"steps"`
	Error      *string     `json:"error,omitempty"`
}

// StepSummary counts a flow's steps by status.
type StepSummary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Warned  int `json:"warned"`
}

// ============================================================================
// FLOW DETAIL (flows/<id>.json)
// ============================================================================

// FlowDetail is the full result of one flow.
type FlowDetail struct {
	ID string `json:"id"`
	core.FlowResult
}

// FlowRef identifies a flow before it has run.
type FlowRef struct {
	Name       string
	SourceFile string
}

// Meta describes a run.
type Meta struct {
	RunID         string
	Name          string
	StartTime     time.Time
	RunnerVersion string
	Backend       string
}
