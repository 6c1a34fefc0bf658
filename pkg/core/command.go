package core

import (
	"fmt"
	"time"
)

// CommandResult is the outcome of one executed step, before it is turned
// into a StepResult for reporting.
type CommandResult struct {
	Success  bool          `json:"success"`
	Error    error         `json:"-"`
	Duration time.Duration `json:"duration"`

	// Human-readable outcome, e.g. "Invoked File/Save As"
	Message string `json:"message,omitempty"`

	// Element the step acted on, if any
	Element *ElementInfo `json:"element,omitempty"`

	// Step-specific data: saved values, expected/actual for assertions
	Data interface{} `json:"data,omitempty"`
}

// Passed returns a successful result with message.
func Passed(format string, args ...interface{}) *CommandResult {
	return &CommandResult{Success: true, Message: fmt.Sprintf(format, args...)}
}

// Failed returns a failed result carrying err.
func Failed(err error, format string, args ...interface{}) *CommandResult {
	return &CommandResult{Success: false, Error: err, Message: fmt.Sprintf(format, args...)}
}

// ErrorMessage returns the error text of a failed result, or "".
func (r *CommandResult) ErrorMessage() string {
	if r == nil || r.Error == nil {
		return ""
	}
	return r.Error.Error()
}
