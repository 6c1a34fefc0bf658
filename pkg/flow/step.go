package flow

import (
	"strconv"
	"strings"
)

// StepType represents the type of step.
type StepType string

// Step type constants.
const (
	// App lifecycle
	StepLaunchApp StepType = "launchApp"
	StepCloseApp  StepType = "closeApp"

	// Menus & toolbars
	StepInvoke      StepType = "invoke"
	StepInvokeAsync StepType = "invokeAsync"

	// Windows
	StepWaitForPopup StepType = "waitForPopup"
	StepDismissPopup StepType = "dismissPopup"
	StepWaitForIdle  StepType = "waitForIdle"

	// Keyboard
	StepInputText StepType = "inputText"
	StepPressKey  StepType = "pressKey"

	// Elements
	StepSelectNode  StepType = "selectNode"
	StepAssertValue StepType = "assertValue"
	StepSetValue    StepType = "setValue"
	StepSetChecked  StepType = "setChecked"
	StepDragNode    StepType = "dragNode"
	StepAssertIndex StepType = "assertIndex"

	// Files & clipboard
	StepAssertFile      StepType = "assertFile"
	StepSetClipboard    StepType = "setClipboard"
	StepAssertClipboard StepType = "assertClipboard"

	// Flow control
	StepRepeat     StepType = "repeat"
	StepRetry      StepType = "retry"
	StepRunFlow    StepType = "runFlow"
	StepRunScript  StepType = "runScript"
	StepEvalScript StepType = "evalScript"

	// Other
	StepAssertTrue      StepType = "assertTrue"
	StepDefineVariables StepType = "defineVariables"
)

// Step is the interface for all flow steps.
type Step interface {
	Type() StepType
	IsOptional() bool
	Label() string
	Describe() string
}

// BaseStep contains common fields for all steps.
type BaseStep struct {
	StepType  StepType `yaml:"-"`
	Optional  bool     `yaml:"optional"`
	StepLabel string   `yaml:"label"`
	TimeoutMs int      `yaml:"timeout"`
}

// Type returns the step type.
func (b *BaseStep) Type() StepType { return b.StepType }

// IsOptional returns whether the step is optional.
func (b *BaseStep) IsOptional() bool { return b.Optional }

// Label returns the step label.
func (b *BaseStep) Label() string { return b.StepLabel }

// Describe returns a human-readable description.
func (b *BaseStep) Describe() string { return string(b.StepType) }

// ============================================
// App Lifecycle Steps
// ============================================

// LaunchAppStep starts the application under test and makes its main window
// the active session.
type LaunchAppStep struct {
	BaseStep `yaml:",inline"`
	App      string   `yaml:"app"`
	Args     []string `yaml:"args"`
}

// CloseAppStep closes the application. Answer is sent to a save prompt if
// one appears; an empty Answer means "n".
type CloseAppStep struct {
	BaseStep `yaml:",inline"`
	Answer   string `yaml:"answer"`
}

// ============================================
// Menu Steps
// ============================================

// InvokeStep invokes a menu or toolbar command by name or path.
type InvokeStep struct {
	BaseStep `yaml:",inline"`
	Command  string `yaml:"command"`
	Async    bool   `yaml:"async"`
}

// InvokeAsyncStep invokes a command without waiting for it to return,
// for commands that open a modal window.
type InvokeAsyncStep struct {
	BaseStep `yaml:",inline"`
	Command  string `yaml:"command"`
}

// ============================================
// Window Steps
// ============================================

// WaitForPopupStep waits for a popup window and makes it the active session.
// An optional wait that finds nothing is not a failure.
type WaitForPopupStep struct {
	BaseStep `yaml:",inline"`
	Title    string `yaml:"title"`
}

// DismissPopupStep sends keys to the active popup and waits for it to close.
type DismissPopupStep struct {
	BaseStep `yaml:",inline"`
	Keys     string `yaml:"keys"`
}

// WaitForIdleStep waits for the application to accept input.
type WaitForIdleStep struct {
	BaseStep `yaml:",inline"`
}

// ============================================
// Keyboard Steps
// ============================================

// InputTextStep types literal text into the active window.
type InputTextStep struct {
	BaseStep `yaml:",inline"`
	Text     string `yaml:"text"`
}

// PressKeyStep sends a key sequence in SendKeys notation.
type PressKeyStep struct {
	BaseStep `yaml:",inline"`
	Key      string `yaml:"key"`
}

// ============================================
// Element Steps
// ============================================

// SelectNodeStep selects a node of the active window.
type SelectNodeStep struct {
	BaseStep `yaml:",inline"`
	Selector Selector `yaml:",inline"`
}

// AssertValueStep asserts the value of a node.
type AssertValueStep struct {
	BaseStep `yaml:",inline"`
	Selector Selector `yaml:",inline"`
	Value    string   `yaml:"value"`
}

// SetValueStep replaces the value of a node.
type SetValueStep struct {
	BaseStep `yaml:",inline"`
	Selector Selector `yaml:",inline"`
	Value    string   `yaml:"value"`
}

// SetCheckedStep drives a toggle to the requested state. The toggle is either
// a node of the active window or a menu command.
type SetCheckedStep struct {
	BaseStep `yaml:",inline"`
	Selector Selector `yaml:",inline"`
	Command  string   `yaml:"command"`
	Checked  bool     `yaml:"checked"`
}

// DragNodeStep drags one node onto another with the pointer.
type DragNodeStep struct {
	BaseStep `yaml:",inline"`
	From     Selector `yaml:"from"`
	To       Selector `yaml:"to"`
	StepSize float64  `yaml:"step"`
}

// AssertIndexStep asserts a node's position among its siblings. With no
// Equals it only records the position into SaveAs.
type AssertIndexStep struct {
	BaseStep `yaml:",inline"`
	Selector Selector `yaml:",inline"`
	Equals   string   `yaml:"equals"` // String for variable support
	SaveAs   string   `yaml:"saveAs"`
}

// ============================================
// File & Clipboard Steps
// ============================================

// AssertFileStep asserts the XML content of a file written by the application.
type AssertFileStep struct {
	BaseStep `yaml:",inline"`
	Path     string `yaml:"path"`
	Root     string `yaml:"root"`     // Expected root element name
	Children string `yaml:"children"` // Expected root child count (string for variable support)
	Equals   string `yaml:"equals"`   // Fixture file compared structurally
	Contains string `yaml:"contains"` // Substring of the raw file
}

// SetClipboardStep replaces the clipboard text.
type SetClipboardStep struct {
	BaseStep `yaml:",inline"`
	Text     string `yaml:"text"`
}

// AssertClipboardStep asserts the clipboard text.
type AssertClipboardStep struct {
	BaseStep `yaml:",inline"`
	Text     string `yaml:"text"`
}

// ============================================
// Flow Control Steps
// ============================================

// Condition gates repeat and runFlow.
type Condition struct {
	Visible    *Selector `yaml:"visible"`
	NotVisible *Selector `yaml:"notVisible"`
	Script     string    `yaml:"scriptCondition"`
}

// IsEmpty returns true if no condition is set.
func (c *Condition) IsEmpty() bool {
	return c.Visible == nil && c.NotVisible == nil && c.Script == ""
}

// RepeatStep repeats steps.
type RepeatStep struct {
	BaseStep `yaml:",inline"`
	Times    string    `yaml:"times"` // String for variable support
	While    Condition `yaml:"while"`
	Steps    []Step    `yaml:"-"`
}

// RetryStep retries steps on failure.
type RetryStep struct {
	BaseStep   `yaml:",inline"`
	MaxRetries string            `yaml:"maxRetries"` // String for variable support
	Steps      []Step            `yaml:"-"`
	File       string            `yaml:"file"`
	Env        map[string]string `yaml:"env"`
}

// RunFlowStep runs another flow.
type RunFlowStep struct {
	BaseStep `yaml:",inline"`
	File     string            `yaml:"file"`
	Steps    []Step            `yaml:"-"` // Inline steps
	When     *Condition        `yaml:"when"`
	Env      map[string]string `yaml:"env"`
}

// RunScriptStep runs a script.
type RunScriptStep struct {
	BaseStep `yaml:",inline"`
	Script   string            `yaml:"script"` // Script content or filename (string form)
	File     string            `yaml:"file"`   // Script filename (map form)
	Env      map[string]string `yaml:"env"`
}

// ScriptPath returns the script path (either Script or File field).
func (s *RunScriptStep) ScriptPath() string {
	if s.File != "" {
		return s.File
	}
	return s.Script
}

// EvalScriptStep evaluates JavaScript.
type EvalScriptStep struct {
	BaseStep `yaml:",inline"`
	Script   string `yaml:"script"`
}

// AssertTrueStep asserts that a script condition is truthy.
type AssertTrueStep struct {
	BaseStep `yaml:",inline"`
	Script   string `yaml:"condition"`
}

// DefineVariablesStep defines variables.
type DefineVariablesStep struct {
	BaseStep `yaml:",inline"`
	Env      map[string]string `yaml:"env"`
}

// UnsupportedStep represents an unsupported step.
type UnsupportedStep struct {
	BaseStep `yaml:",inline"`
	Reason   string
}

// Describe returns a description including the unsupported reason.
func (s *UnsupportedStep) Describe() string {
	return string(s.StepType) + " (unsupported: " + s.Reason + ")"
}

// IsCompound reports whether step only groups other steps.
func IsCompound(step Step) bool {
	switch step.(type) {
	case *RepeatStep, *RetryStep, *RunFlowStep:
		return true
	}
	return false
}

// ============================================
// Describe() implementations for detailed output
// ============================================

// Describe returns a human-readable description of the launch app step.
func (s *LaunchAppStep) Describe() string {
	if s.App == "" {
		return "launchApp"
	}
	if len(s.Args) > 0 {
		return "launchApp: " + s.App + " " + strings.Join(s.Args, " ")
	}
	return "launchApp: " + s.App
}

// Describe returns a human-readable description of the invoke step.
func (s *InvokeStep) Describe() string {
	if s.Async {
		return "invoke (async): " + s.Command
	}
	return "invoke: " + s.Command
}

// Describe returns a human-readable description of the async invoke step.
func (s *InvokeAsyncStep) Describe() string {
	return "invokeAsync: " + s.Command
}

// Describe returns a human-readable description of the wait for popup step.
func (s *WaitForPopupStep) Describe() string {
	if s.Title == "" {
		return "waitForPopup"
	}
	return "waitForPopup: \"" + s.Title + "\""
}

// Describe returns a human-readable description of the dismiss popup step.
func (s *DismissPopupStep) Describe() string {
	return "dismissPopup: " + s.Keys
}

// Describe returns a human-readable description of the input text step.
func (s *InputTextStep) Describe() string {
	return "inputText: \"" + s.Text + "\""
}

// Describe returns a human-readable description of the press key step.
func (s *PressKeyStep) Describe() string {
	return "pressKey: " + s.Key
}

// Describe returns a human-readable description of the select node step.
func (s *SelectNodeStep) Describe() string {
	return "selectNode: " + s.Selector.DescribeQuoted()
}

// Describe returns a human-readable description of the assert value step.
func (s *AssertValueStep) Describe() string {
	return "assertValue: " + s.Selector.DescribeQuoted() + " == \"" + s.Value + "\""
}

// Describe returns a human-readable description of the set value step.
func (s *SetValueStep) Describe() string {
	return "setValue: " + s.Selector.DescribeQuoted() + " = \"" + s.Value + "\""
}

// Describe returns a human-readable description of the set checked step.
func (s *SetCheckedStep) Describe() string {
	target := s.Selector.DescribeQuoted()
	if s.Command != "" {
		target = "command=\"" + s.Command + "\""
	}
	return "setChecked: " + target + " " + strconv.FormatBool(s.Checked)
}

// Describe returns a human-readable description of the drag step.
func (s *DragNodeStep) Describe() string {
	return "dragNode: " + s.From.DescribeQuoted() + " -> " + s.To.DescribeQuoted()
}

// Describe returns a human-readable description of the assert index step.
func (s *AssertIndexStep) Describe() string {
	if s.Equals == "" {
		return "assertIndex: " + s.Selector.DescribeQuoted() + " -> " + s.SaveAs
	}
	return "assertIndex: " + s.Selector.DescribeQuoted() + " == " + s.Equals
}

// Describe returns a human-readable description of the assert file step.
func (s *AssertFileStep) Describe() string {
	return "assertFile: " + s.Path
}

// Describe returns a human-readable description of the assert clipboard step.
func (s *AssertClipboardStep) Describe() string {
	return "assertClipboard: \"" + s.Text + "\""
}

// Describe returns a human-readable description of the run flow step.
func (s *RunFlowStep) Describe() string {
	if s.File != "" {
		return "runFlow: " + s.File
	}
	return "runFlow"
}

// Describe returns a human-readable description of the assert true step.
func (s *AssertTrueStep) Describe() string {
	return "assertTrue: " + s.Script
}
