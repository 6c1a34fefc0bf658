package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/devicelab-dev/desk-runner/pkg/core"
	"github.com/devicelab-dev/desk-runner/pkg/flow"
	"github.com/devicelab-dev/desk-runner/pkg/jsengine"
)

// envVarPattern matches ALL_CAPS identifiers that look like env variables
var envVarPattern = regexp.MustCompile(`\b([A-Z][A-Z0-9_]{2,})\b`)

// ScriptEngine handles JavaScript execution and variable management.
type ScriptEngine struct {
	js        *jsengine.Engine
	variables map[string]string
	flowDir   string // Directory of current flow (for resolving relative paths)
}

// NewScriptEngine creates a new script engine.
func NewScriptEngine() *ScriptEngine {
	return &ScriptEngine{
		js:        jsengine.New(),
		variables: make(map[string]string),
	}
}

// Close cleans up the script engine.
func (se *ScriptEngine) Close() {
	if se.js != nil {
		se.js.Close()
	}
}

// SetFlowDir sets the current flow directory for relative path resolution.
func (se *ScriptEngine) SetFlowDir(dir string) {
	se.flowDir = dir
	se.js.SetBaseDir(dir)
}

// Bind connects desk.clipboard and desk.window to the running application.
func (se *ScriptEngine) Bind(clipboard func() (string, error), window func() string) {
	se.js.SetClipboardSource(clipboard)
	se.js.SetWindowSource(window)
}

// SetVariable sets a variable in both Go map and JS engine.
func (se *ScriptEngine) SetVariable(name, value string) {
	se.variables[name] = value
	se.js.SetVariable(name, value)
}

// SetVariables sets multiple variables.
func (se *ScriptEngine) SetVariables(vars map[string]string) {
	for k, v := range vars {
		se.SetVariable(k, v)
	}
}

// ImportSystemEnv imports system environment variables into the script engine.
// Only imports variables matching the pattern (uppercase with underscores).
func (se *ScriptEngine) ImportSystemEnv() {
	for _, env := range os.Environ() {
		name, value, ok := strings.Cut(env, "=")
		if ok && envVarPattern.MatchString(name) {
			se.SetVariable(name, value)
		}
	}
}

// GetVariable returns a variable value.
func (se *ScriptEngine) GetVariable(name string) string {
	return se.variables[name]
}

// SyncOutputToVariables copies JS output back to variables.
func (se *ScriptEngine) SyncOutputToVariables() {
	for k, v := range se.js.GetOutput() {
		se.SetVariable(k, fmt.Sprintf("%v", v))
	}
}

// ExpandVariables expands ${expr} and $VAR syntax in text.
func (se *ScriptEngine) ExpandVariables(text string) string {
	if !strings.Contains(text, "$") {
		return text
	}
	// First pass: JS engine for ${expression} syntax
	if result, err := se.js.ExpandVariables(text); err == nil {
		text = result
	}
	// Second pass: $VAR syntax (without braces)
	return se.expandDollarVars(text)
}

// expandDollarVars expands $VAR syntax using stored variables, longest
// names first to avoid partial matches.
func (se *ScriptEngine) expandDollarVars(text string) string {
	names := make([]string, 0, len(se.variables))
	for name := range se.variables {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return len(names[i]) > len(names[j])
	})

	for _, name := range names {
		text = expandDollarVar(text, name, se.variables[name])
	}
	return text
}

// expandDollarVar replaces $VAR with value, checking word boundaries.
func expandDollarVar(text, name, value string) string {
	pattern := "$" + name
	idx := 0
	for {
		pos := strings.Index(text[idx:], pattern)
		if pos == -1 {
			break
		}
		pos += idx

		// Followed by an identifier rune: a different variable
		endPos := pos + len(pattern)
		if endPos < len(text) {
			next := text[endPos]
			if (next >= 'a' && next <= 'z') || (next >= 'A' && next <= 'Z') ||
				(next >= '0' && next <= '9') || next == '_' {
				idx = endPos
				continue
			}
		}

		text = text[:pos] + value + text[endPos:]
		idx = pos + len(value)
	}
	return text
}

// defineReferenced pre-defines ALL_CAPS names used by script so a missing
// env variable reads as undefined instead of throwing.
func (se *ScriptEngine) defineReferenced(script string) {
	for _, name := range envVarPattern.FindAllString(script, -1) {
		se.js.DefineUndefinedIfMissing(name)
	}
}

// RunScript executes a JavaScript script.
func (se *ScriptEngine) RunScript(script string, env map[string]string) error {
	script = se.ExpandVariables(script)
	for k, v := range env {
		se.SetVariable(k, v)
	}
	se.defineReferenced(script)

	if err := se.js.RunScript(script); err != nil {
		return err
	}
	se.SyncOutputToVariables()
	return nil
}

// EvalCondition evaluates a script condition with JavaScript truthiness.
func (se *ScriptEngine) EvalCondition(script string) (bool, error) {
	script = se.expandDollarVars(extractJS(script))
	se.defineReferenced(script)
	return se.js.EvalBool(script)
}

// extractJS strips a ${...} wrapper if present.
func extractJS(script string) string {
	script = strings.TrimSpace(script)
	if strings.HasPrefix(script, "${") && strings.HasSuffix(script, "}") {
		return script[2 : len(script)-1]
	}
	return script
}

// ResolvePath resolves a relative path against the flow directory.
func (se *ScriptEngine) ResolvePath(path string) string {
	if filepath.IsAbs(path) || se.flowDir == "" {
		return path
	}
	return filepath.Join(se.flowDir, path)
}

// ============================================
// Step Execution Helpers
// ============================================

// ExecuteDefineVariables handles defineVariables step.
func (se *ScriptEngine) ExecuteDefineVariables(step *flow.DefineVariablesStep) *core.CommandResult {
	for k, v := range step.Env {
		se.SetVariable(k, se.ExpandVariables(v))
	}
	return core.Passed("Defined %d variable(s)", len(step.Env))
}

// ExecuteRunScript handles runScript step.
func (se *ScriptEngine) ExecuteRunScript(step *flow.RunScriptStep) *core.CommandResult {
	script := step.ScriptPath()

	if strings.HasSuffix(script, ".js") {
		filePath := se.ResolvePath(script)
		content, err := os.ReadFile(filePath) //#nosec G304 -- path comes from the flow author
		if err != nil {
			return core.Failed(err, "Cannot read script file: %s", filePath)
		}
		script = string(content)
	}

	if err := se.RunScript(script, step.Env); err != nil {
		return core.Failed(err, "Script execution failed: %v", err)
	}
	return core.Passed("Script executed successfully")
}

// ExecuteEvalScript handles evalScript step.
func (se *ScriptEngine) ExecuteEvalScript(step *flow.EvalScriptStep) *core.CommandResult {
	script := extractJS(step.Script)
	se.defineReferenced(script)
	if err := se.js.RunScript(script); err != nil {
		return core.Failed(err, "Eval failed: %v", err)
	}
	se.SyncOutputToVariables()
	return core.Passed("Eval completed")
}

// ExecuteAssertTrue handles assertTrue step.
func (se *ScriptEngine) ExecuteAssertTrue(step *flow.AssertTrueStep) *core.CommandResult {
	ok, err := se.EvalCondition(step.Script)
	if err != nil {
		return core.Failed(err, "Assertion evaluation failed: %v", err)
	}
	if !ok {
		return core.Failed(core.ErrConditionNotMet.Withf("assertTrue: %s is false", step.Script), "assertTrue failed: %s", step.Script)
	}
	return core.Passed("Assertion passed")
}

// withEnvVars applies environment variables and returns a restore function.
func (se *ScriptEngine) withEnvVars(env map[string]string) func() {
	oldVars := make(map[string]string)
	for k, v := range env {
		oldVars[k] = se.GetVariable(k)
		se.SetVariable(k, se.ExpandVariables(v))
	}
	return func() {
		for k, v := range oldVars {
			se.SetVariable(k, v)
		}
	}
}

// ParseInt parses an integer from string, supporting variable expansion.
func (se *ScriptEngine) ParseInt(s string, defaultVal int) int {
	s = se.ExpandVariables(s)
	s = strings.ReplaceAll(s, "_", "") // Support 10_000 format
	if val, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
		return val
	}
	return defaultVal
}

// ExpandStep returns a copy of step with variables expanded in its string
// fields. The parsed step is left untouched so loops see the template
// again on every iteration.
func (se *ScriptEngine) ExpandStep(step flow.Step) flow.Step {
	x := se.ExpandVariables
	switch s := step.(type) {
	case *flow.LaunchAppStep:
		c := *s
		c.App = x(s.App)
		c.Args = make([]string, len(s.Args))
		for i, a := range s.Args {
			c.Args[i] = x(a)
		}
		return &c
	case *flow.CloseAppStep:
		c := *s
		c.Answer = x(s.Answer)
		return &c
	case *flow.InvokeStep:
		c := *s
		c.Command = x(s.Command)
		return &c
	case *flow.InvokeAsyncStep:
		c := *s
		c.Command = x(s.Command)
		return &c
	case *flow.WaitForPopupStep:
		c := *s
		c.Title = x(s.Title)
		return &c
	case *flow.DismissPopupStep:
		c := *s
		c.Keys = x(s.Keys)
		return &c
	case *flow.InputTextStep:
		c := *s
		c.Text = x(s.Text)
		return &c
	case *flow.PressKeyStep:
		c := *s
		c.Key = x(s.Key)
		return &c
	case *flow.SelectNodeStep:
		c := *s
		c.Selector = se.expandSelector(s.Selector)
		return &c
	case *flow.AssertValueStep:
		c := *s
		c.Selector = se.expandSelector(s.Selector)
		c.Value = x(s.Value)
		return &c
	case *flow.SetValueStep:
		c := *s
		c.Selector = se.expandSelector(s.Selector)
		c.Value = x(s.Value)
		return &c
	case *flow.SetCheckedStep:
		c := *s
		c.Selector = se.expandSelector(s.Selector)
		c.Command = x(s.Command)
		return &c
	case *flow.DragNodeStep:
		c := *s
		c.From = se.expandSelector(s.From)
		c.To = se.expandSelector(s.To)
		return &c
	case *flow.AssertIndexStep:
		c := *s
		c.Selector = se.expandSelector(s.Selector)
		c.Equals = x(s.Equals)
		return &c
	case *flow.AssertFileStep:
		c := *s
		c.Path = x(s.Path)
		c.Root = x(s.Root)
		c.Children = x(s.Children)
		c.Equals = x(s.Equals)
		c.Contains = x(s.Contains)
		return &c
	case *flow.SetClipboardStep:
		c := *s
		c.Text = x(s.Text)
		return &c
	case *flow.AssertClipboardStep:
		c := *s
		c.Text = x(s.Text)
		return &c
	}
	return step
}

// expandSelector expands variables in selector fields.
func (se *ScriptEngine) expandSelector(sel flow.Selector) flow.Selector {
	sel.Name = se.ExpandVariables(sel.Name)
	sel.Role = se.ExpandVariables(sel.Role)
	sel.Within = se.ExpandVariables(sel.Within)
	sel.Index = se.ExpandVariables(sel.Index)
	return sel
}
