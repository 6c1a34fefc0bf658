package core

import (
	"time"

	"github.com/devicelab-dev/desk-runner/pkg/flow"
)

// StepResult is the outcome of one scenario step.
type StepResult struct {
	Step    flow.Step `json:"-"`
	Index   int       `json:"index"`   // position in its step list
	Command string    `json:"command"` // invoke, waitForPopup, ...

	Status   StepStatus    `json:"status"`
	Category ErrorCategory `json:"errorCategory,omitempty"`

	StartTime time.Time     `json:"startTime"`
	Duration  time.Duration `json:"duration"`

	Message string       `json:"message,omitempty"`
	Element *ElementInfo `json:"element,omitempty"` // node the step acted on
	Data    interface{}  `json:"data,omitempty"`    // AppInfo for launchApp, expected/actual for assertions
	Error   string       `json:"error,omitempty"`

	// Accessibility tree dumps and window captures taken on failure.
	Attachments []Attachment `json:"attachments,omitempty"`

	// Steps run by repeat, retry and runFlow, every attempt included.
	SubSteps []StepResult `json:"subSteps,omitempty"`
}

// Cause returns the innermost failed step under s, or s itself when no
// sub-step failed. For a retry that gave up this is the failure of its last
// attempt.
func (s *StepResult) Cause() *StepResult {
	for i := len(s.SubSteps) - 1; i >= 0; i-- {
		if isFailure(s.SubSteps[i].Status) {
			return s.SubSteps[i].Cause()
		}
	}
	return s
}

// FlowResult is the outcome of one scenario file.
type FlowResult struct {
	Name     string   `json:"name"`
	FilePath string   `json:"filePath"`
	Tags     []string `json:"tags,omitempty"`

	// App is set by launchApp; nil when the flow never launched anything.
	App *AppInfo `json:"app,omitempty"`

	Status    StepStatus    `json:"status"`
	StartTime time.Time     `json:"startTime"`
	Duration  time.Duration `json:"duration"`

	Steps          []StepResult `json:"steps"`
	OnFlowStart    []StepResult `json:"onFlowStart,omitempty"`
	OnFlowComplete []StepResult `json:"onFlowComplete,omitempty"`

	// Top-level counts. NestedSteps counts sub-steps at every depth and is
	// not part of TotalSteps.
	TotalSteps   int `json:"totalSteps"`
	PassedSteps  int `json:"passedSteps"`
	FailedSteps  int `json:"failedSteps"`
	SkippedSteps int `json:"skippedSteps"`
	WarnedSteps  int `json:"warnedSteps"`
	NestedSteps  int `json:"nestedSteps,omitempty"`

	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ComputeSummary recounts the step totals.
func (f *FlowResult) ComputeSummary() {
	f.TotalSteps = len(f.Steps)
	f.PassedSteps, f.FailedSteps, f.SkippedSteps, f.WarnedSteps = 0, 0, 0, 0
	for _, step := range f.Steps {
		switch {
		case step.Status == StatusPassed:
			f.PassedSteps++
		case isFailure(step.Status):
			f.FailedSteps++
		case step.Status == StatusSkipped:
			f.SkippedSteps++
		case step.Status == StatusWarned:
			f.WarnedSteps++
		}
	}

	f.NestedSteps = 0
	_ = walkSteps(f.Steps, 0, func(_ *StepResult, depth int) error {
		if depth > 0 {
			f.NestedSteps++
		}
		return nil
	})
}

// Walk calls fn for every step of the flow, hooks included, parents before
// their sub-steps. depth is 0 for top-level steps. Walk stops at the first
// error fn returns.
func (f *FlowResult) Walk(fn func(s *StepResult, depth int) error) error {
	for _, steps := range [][]StepResult{f.OnFlowStart, f.Steps, f.OnFlowComplete} {
		if err := walkSteps(steps, 0, fn); err != nil {
			return err
		}
	}
	return nil
}

func walkSteps(steps []StepResult, depth int, fn func(*StepResult, int) error) error {
	for i := range steps {
		if err := fn(&steps[i], depth); err != nil {
			return err
		}
		if err := walkSteps(steps[i].SubSteps, depth+1, fn); err != nil {
			return err
		}
	}
	return nil
}

func isFailure(s StepStatus) bool {
	return s == StatusFailed || s == StatusErrored
}

func anyStatus(steps []StepResult, match func(StepStatus) bool) bool {
	for _, step := range steps {
		if match(step.Status) {
			return true
		}
	}
	return false
}

// AggregateStatus derives the flow status from its top-level steps and
// hooks. A failed step or hook fails the flow; a warned step (an optional
// step that failed) makes it warned. Sub-steps are judged by their parent:
// a retry that passed on its last attempt passes.
func (f *FlowResult) AggregateStatus() StepStatus {
	for _, steps := range [][]StepResult{f.OnFlowStart, f.Steps, f.OnFlowComplete} {
		if anyStatus(steps, isFailure) {
			return StatusFailed
		}
	}
	if anyStatus(f.Steps, func(s StepStatus) bool { return s == StatusWarned }) {
		return StatusWarned
	}
	return StatusPassed
}

// SuiteResult is the outcome of one run over several scenario files.
type SuiteResult struct {
	Name  string `json:"name"`
	RunID string `json:"runId"`

	StartTime time.Time     `json:"startTime"`
	Duration  time.Duration `json:"duration"`

	Flows []FlowResult `json:"flows"`

	TotalFlows   int `json:"totalFlows"`
	PassedFlows  int `json:"passedFlows"`
	FailedFlows  int `json:"failedFlows"`
	SkippedFlows int `json:"skippedFlows"`
}

// ComputeSummary recounts the flow totals. Warned flows count as passed.
func (s *SuiteResult) ComputeSummary() {
	s.TotalFlows = len(s.Flows)
	s.PassedFlows, s.FailedFlows, s.SkippedFlows = 0, 0, 0
	for _, f := range s.Flows {
		switch {
		case f.Status.IsSuccess():
			s.PassedFlows++
		case isFailure(f.Status):
			s.FailedFlows++
		case f.Status == StatusSkipped:
			s.SkippedFlows++
		}
	}
}

// Success reports whether the run had flows and none of them failed or
// was skipped.
func (s *SuiteResult) Success() bool {
	for _, f := range s.Flows {
		if !f.Status.IsSuccess() {
			return false
		}
	}
	return len(s.Flows) > 0
}
