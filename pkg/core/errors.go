package core

import (
	"errors"
	"fmt"
)

// ExecutionError represents a structured error with category and details
type ExecutionError struct {
	Category ErrorCategory
	Code     string                 // Machine-readable code: not_found, popup_not_found, etc.
	Message  string                 // Human-readable message
	Details  map[string]interface{} // Additional context
	Cause    error                  // Underlying error
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an ExecutionError with the same code.
// Copies made by the With* helpers therefore still match their sentinel.
func (e *ExecutionError) Is(target error) bool {
	t, ok := target.(*ExecutionError)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// WithCause returns a copy of the error with the given cause
func (e *ExecutionError) WithCause(cause error) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  e.Details,
		Cause:    cause,
	}
}

// WithMessage returns a copy of the error with a custom message
func (e *ExecutionError) WithMessage(msg string) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  msg,
		Details:  e.Details,
		Cause:    e.Cause,
	}
}

// Withf is WithMessage with fmt.Sprintf formatting.
func (e *ExecutionError) Withf(format string, args ...interface{}) *ExecutionError {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

// WithDetails returns a copy of the error with additional details
func (e *ExecutionError) WithDetails(details map[string]interface{}) *ExecutionError {
	merged := make(map[string]interface{})
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  merged,
		Cause:    e.Cause,
	}
}

// Predefined errors
var (
	// Accessibility tree errors
	ErrNotFound = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "not_found",
		Message:  "element not found",
	}
	ErrUnsupportedOperation = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "unsupported_operation",
		Message:  "operation not supported by element",
	}
	ErrStaleElement = &ExecutionError{
		Category: ErrCategoryApp,
		Code:     "stale_element",
		Message:  "element is no longer part of the accessibility tree",
	}
	ErrStuckToggle = &ExecutionError{
		Category: ErrCategoryApp,
		Code:     "stuck_toggle",
		Message:  "toggle did not reach the requested state",
	}
	ErrMenuItemNotFound = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "menu_item_not_found",
		Message:  "menu item not found",
	}
	ErrMenuItemAmbiguous = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "menu_item_ambiguous",
		Message:  "menu item name matches more than one command",
	}
	ErrTextMismatch = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "text_mismatch",
		Message:  "text does not match expected value",
	}
	ErrConditionNotMet = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "condition_not_met",
		Message:  "condition was not met",
	}

	// Window synchronization errors
	ErrPopupNotFound = &ExecutionError{
		Category: ErrCategoryTimeout,
		Code:     "popup_not_found",
		Message:  "popup window did not appear",
	}
	ErrPopupNotDismissing = &ExecutionError{
		Category: ErrCategoryTimeout,
		Code:     "popup_not_dismissing",
		Message:  "popup window did not close",
	}
	ErrFocusMismatch = &ExecutionError{
		Category: ErrCategoryTimeout,
		Code:     "focus_mismatch",
		Message:  "window did not become the foreground window",
	}
	ErrWaitTimeout = &ExecutionError{
		Category: ErrCategoryTimeout,
		Code:     "wait_timeout",
		Message:  "wait condition timed out",
	}

	// Input errors
	ErrInputInjectionFailed = &ExecutionError{
		Category: ErrCategoryInput,
		Code:     "input_injection_failed",
		Message:  "synthetic input was rejected",
	}

	// Process errors
	ErrProcessNotResponding = &ExecutionError{
		Category: ErrCategoryApp,
		Code:     "process_not_responding",
		Message:  "application is not responding",
	}
	ErrUnexpectedProcessExit = &ExecutionError{
		Category: ErrCategoryApp,
		Code:     "unexpected_process_exit",
		Message:  "application exited unexpectedly",
	}

	// Config errors
	ErrInvalidConfig = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "invalid_config",
		Message:  "invalid configuration",
	}
	ErrMissingRequired = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "missing_required",
		Message:  "missing required field",
	}
)

// NewExecutionError creates a new ExecutionError with the given parameters
func NewExecutionError(category ErrorCategory, code, message string) *ExecutionError {
	return &ExecutionError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

// CategoryOf returns the category of err, or ErrCategoryNone if err does not
// wrap an ExecutionError.
func CategoryOf(err error) ErrorCategory {
	var e *ExecutionError
	if errors.As(err, &e) {
		return e.Category
	}
	return ErrCategoryNone
}
