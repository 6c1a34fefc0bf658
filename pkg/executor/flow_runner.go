package executor

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/devicelab-dev/desk-runner/pkg/core"
	"github.com/devicelab-dev/desk-runner/pkg/desktop"
	"github.com/devicelab-dev/desk-runner/pkg/flow"
	"github.com/devicelab-dev/desk-runner/pkg/logger"
	"github.com/devicelab-dev/desk-runner/pkg/report"
	"github.com/devicelab-dev/desk-runner/pkg/window"
)

// FlowRunner executes a single flow.
type FlowRunner struct {
	ctx        context.Context
	flow       flow.Flow
	desk       *desktop.Desktop
	config     RunnerConfig
	script     *ScriptEngine
	depth      int // Nesting depth for runFlow reporting
	flowIdx    int // Current flow index (0-based)
	totalFlows int

	// Application state. active is app or the popup most recently waited
	// for; steps that act on "the window" act on active.
	app     *window.Session
	active  *window.Session
	appInfo *core.AppInfo

	// Collector for the steps run by the compound step being executed
	subSteps *[]core.StepResult

	assetPrefix string
	assetSeq    int
}

// Run executes the flow and returns the result.
func (fr *FlowRunner) Run() core.FlowResult {
	flowStart := time.Now()
	result := core.FlowResult{
		Name:      flowName(fr.flow),
		FilePath:  fr.flow.SourcePath,
		Tags:      fr.flow.Config.Tags,
		StartTime: flowStart,
	}
	fr.assetPrefix = report.AssetsDir(fr.flowIdx, result.Name)

	if fr.flow.Config.Timeout > 0 {
		var cancel context.CancelFunc
		fr.ctx, cancel = context.WithTimeout(fr.ctx, time.Duration(fr.flow.Config.Timeout)*time.Millisecond)
		defer cancel()
	}

	fr.script = NewScriptEngine()
	defer fr.script.Close()
	fr.script.ImportSystemEnv()
	if fr.flow.SourcePath != "" {
		fr.script.SetFlowDir(filepath.Dir(fr.flow.SourcePath))
	}
	fr.script.SetVariables(fr.config.Env)
	fr.script.SetVariables(fr.flow.Config.Env)
	fr.script.Bind(fr.desk.Clipboard.Text, fr.activeTitle)

	// Whatever the flow left open is torn down with it
	defer fr.teardown()

	flowFile := filepath.Base(fr.flow.SourcePath)
	if fr.config.OnFlowStart != nil {
		fr.config.OnFlowStart(fr.flowIdx, fr.totalFlows, result.Name, flowFile)
	}
	logger.Info("flow %q started (%s)", result.Name, flowFile)

	aborted := false
	for i, step := range fr.flow.Config.OnFlowStart {
		sr, _ := fr.runStep(i, step)
		result.OnFlowStart = append(result.OnFlowStart, sr)
		if isFailure(sr.Status) {
			result.Error = fmt.Sprintf("onFlowStart failed: %s", sr.Error)
			aborted = true
			break
		}
	}

	cancelled := false
	for i, step := range fr.flow.Steps {
		if aborted || cancelled {
			result.Steps = append(result.Steps, skippedStep(i, step))
			continue
		}
		if fr.ctx.Err() != nil {
			cancelled = true
			result.Steps = append(result.Steps, skippedStep(i, step))
			continue
		}

		sr, _ := fr.runStep(i, step)
		result.Steps = append(result.Steps, sr)

		if fr.config.OnStepComplete != nil {
			fr.config.OnStepComplete(i, step.Describe(), sr.Status.IsSuccess(), sr.Duration.Milliseconds(), sr.Error)
		}

		if isFailure(sr.Status) {
			result.Error = sr.Error
			result.Message = fmt.Sprintf("step %d (%s) failed", i+1, step.Describe())
			if cause := sr.Cause(); cause != &sr && cause.Step != nil {
				result.Message += fmt.Sprintf(" at %s", cause.Step.Describe())
			}
			aborted = true
		}
	}

	// onFlowComplete runs even when the flow failed; its failures are recorded
	for i, step := range fr.flow.Config.OnFlowComplete {
		sr, _ := fr.runStep(i, step)
		result.OnFlowComplete = append(result.OnFlowComplete, sr)
	}

	result.App = fr.appInfo
	result.Duration = time.Since(flowStart)
	result.ComputeSummary()
	result.Status = result.AggregateStatus()
	if cancelled && result.Status.IsSuccess() {
		result.Status = core.StatusSkipped
		result.Error = "execution cancelled"
	}

	if fr.config.OnFlowEnd != nil {
		fr.config.OnFlowEnd(result.Name, result.Status.IsSuccess(), result.Duration.Milliseconds())
	}
	logger.Info("flow %q %s in %s", result.Name, result.Status, result.Duration.Round(time.Millisecond))
	return result
}

// runStep executes one step and builds its report entry.
func (fr *FlowRunner) runStep(idx int, step flow.Step) (core.StepResult, *core.CommandResult) {
	start := time.Now()

	var subs []core.StepResult
	if flow.IsCompound(step) {
		parent := fr.subSteps
		fr.subSteps = &subs
		defer func() { fr.subSteps = parent }()
	}

	logger.Debug("step %d: %s", idx, step.Describe())
	result := fr.execute(step)

	sr := core.StepResult{
		Step:      step,
		Index:     idx,
		Command:   string(step.Type()),
		Status:    statusOf(result, step.IsOptional()),
		StartTime: start,
		Duration:  time.Since(start),
		Message:   result.Message,
		Element:   result.Element,
		Data:      result.Data,
		SubSteps:  subs,
	}
	if !result.Success {
		sr.Error = result.ErrorMessage()
		if sr.Error == "" {
			sr.Error = result.Message
		}
		sr.Category = core.CategoryOf(result.Error)
		if sr.Status == core.StatusWarned {
			logger.Warn("optional step %q failed: %s", step.Describe(), sr.Error)
		} else {
			logger.Error("step %q failed: %s", step.Describe(), sr.Error)
		}
	}
	if !flow.IsCompound(step) && fr.config.Artifacts.ShouldCapture(sr.Status) {
		sr.Attachments = fr.captureArtifacts()
	}
	return sr, result
}

// execute routes a step to its handler.
func (fr *FlowRunner) execute(step flow.Step) *core.CommandResult {
	start := time.Now()
	var result *core.CommandResult

	switch s := step.(type) {
	// JS/Scripting steps - handled by ScriptEngine
	case *flow.DefineVariablesStep:
		result = fr.script.ExecuteDefineVariables(s)
	case *flow.RunScriptStep:
		result = fr.script.ExecuteRunScript(s)
	case *flow.EvalScriptStep:
		result = fr.script.ExecuteEvalScript(s)
	case *flow.AssertTrueStep:
		result = fr.script.ExecuteAssertTrue(s)

	// Flow control steps - handled by FlowRunner
	case *flow.RepeatStep:
		result = fr.executeRepeat(s)
	case *flow.RetryStep:
		result = fr.executeRetry(s)
	case *flow.RunFlowStep:
		result = fr.executeRunFlow(s)

	case *flow.UnsupportedStep:
		result = core.Failed(core.ErrUnsupportedOperation.Withf("%s is not supported: %s", s.Type(), s.Reason), "Unsupported step")

	// Application steps
	default:
		result = fr.executeCommand(fr.script.ExpandStep(step))
	}

	result.Duration = time.Since(start)
	return result
}

// executeNestedStep runs a step inside a compound step and records it with
// the compound step's sub-steps.
func (fr *FlowRunner) executeNestedStep(step flow.Step) *core.CommandResult {
	var idx int
	if fr.subSteps != nil {
		idx = len(*fr.subSteps)
	}
	sr, result := fr.runStep(idx, step)
	if fr.subSteps != nil {
		*fr.subSteps = append(*fr.subSteps, sr)
	}

	if fr.config.OnNestedStep != nil && fr.depth > 0 {
		fr.config.OnNestedStep(fr.depth, step.Describe(), sr.Status.IsSuccess(), sr.Duration.Milliseconds(), sr.Error)
	}

	if isFailure(sr.Status) {
		err := result.Error
		if err == nil {
			err = fmt.Errorf("%s", sr.Error)
		}
		return core.Failed(fmt.Errorf("%s: %w", step.Describe(), err), "%s", sr.Message)
	}
	return core.Passed("%s", sr.Message)
}

// runNested runs steps until one fails.
func (fr *FlowRunner) runNested(steps []flow.Step) *core.CommandResult {
	for _, step := range steps {
		if fr.ctx.Err() != nil {
			return core.Failed(fr.ctx.Err(), "Cancelled")
		}
		if result := fr.executeNestedStep(step); !result.Success {
			return result
		}
	}
	return nil
}

// executeRepeat handles repeat step execution.
func (fr *FlowRunner) executeRepeat(step *flow.RepeatStep) *core.CommandResult {
	hasWhile := !step.While.IsEmpty()
	times := fr.script.ParseInt(step.Times, 1)
	if step.Times == "" && hasWhile {
		times = 1000 // Default max iterations for while loops
	}

	done := 0
	for ; done < times; done++ {
		if fr.ctx.Err() != nil {
			return core.Failed(fr.ctx.Err(), "Repeat cancelled")
		}
		if hasWhile && !fr.checkCondition(step.While) {
			break
		}
		if result := fr.runNested(step.Steps); result != nil {
			return result
		}
	}

	return core.Passed("Repeat completed (%d iterations)", done)
}

// executeRetry handles retry step execution.
func (fr *FlowRunner) executeRetry(step *flow.RetryStep) *core.CommandResult {
	maxRetries := fr.script.ParseInt(step.MaxRetries, 3)
	defer fr.script.withEnvVars(step.Env)()

	steps := step.Steps
	if step.File != "" && len(steps) == 0 {
		filePath := fr.script.ResolvePath(step.File)
		subFlow, err := flow.ParseFile(filePath)
		if err != nil {
			return core.Failed(err, "Failed to parse flow file: %s", filePath)
		}
		return fr.retrySubFlow(*subFlow, maxRetries)
	}

	var last *core.CommandResult
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if fr.ctx.Err() != nil {
			return core.Failed(fr.ctx.Err(), "Retry cancelled")
		}
		last = fr.runNested(steps)
		if last == nil {
			return core.Passed("Retry succeeded on attempt %d", attempt)
		}
		logger.Debug("retry attempt %d/%d failed: %v", attempt, maxRetries, last.Error)
	}
	return core.Failed(lastError(last), "Retry failed after %d attempts", maxRetries)
}

func (fr *FlowRunner) retrySubFlow(subFlow flow.Flow, maxRetries int) *core.CommandResult {
	var last *core.CommandResult
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if fr.ctx.Err() != nil {
			return core.Failed(fr.ctx.Err(), "Retry cancelled")
		}
		last = fr.executeSubFlow(subFlow)
		if last.Success {
			return core.Passed("Retry succeeded on attempt %d", attempt)
		}
	}
	return core.Failed(lastError(last), "Retry failed after %d attempts", maxRetries)
}

func lastError(r *core.CommandResult) error {
	if r == nil {
		return nil
	}
	return r.Error
}

// executeRunFlow handles runFlow step execution.
func (fr *FlowRunner) executeRunFlow(step *flow.RunFlowStep) *core.CommandResult {
	if step.When != nil && !fr.checkCondition(*step.When) {
		return core.Passed("Skipped (when condition not met)")
	}

	if fr.config.OnNestedFlowStart != nil && step.File != "" {
		fr.config.OnNestedFlowStart(fr.depth+1, "Run "+step.File)
	}

	fr.depth++
	defer func() { fr.depth-- }()
	defer fr.script.withEnvVars(step.Env)()

	if len(step.Steps) > 0 {
		if result := fr.runNested(step.Steps); result != nil {
			return result
		}
		return core.Passed("Inline flow completed")
	}

	if step.File == "" {
		return core.Failed(core.ErrMissingRequired.Withf("runFlow requires file or inline steps"), "runFlow requires file or inline steps")
	}

	filePath := fr.script.ResolvePath(step.File)
	subFlow, err := flow.ParseFile(filePath)
	if err != nil {
		return core.Failed(err, "Failed to parse flow file: %s", filePath)
	}
	return fr.executeSubFlow(*subFlow)
}

// executeSubFlow runs the steps of another flow file in this flow's
// application state.
func (fr *FlowRunner) executeSubFlow(subFlow flow.Flow) *core.CommandResult {
	prevDir := fr.script.flowDir
	if subFlow.SourcePath != "" {
		fr.script.SetFlowDir(filepath.Dir(subFlow.SourcePath))
	}
	defer fr.script.SetFlowDir(prevDir)
	defer fr.script.withEnvVars(subFlow.Config.Env)()

	if result := fr.runNested(subFlow.Steps); result != nil {
		return result
	}
	return core.Passed("Sub-flow '%s' completed", flowName(subFlow))
}

// checkCondition evaluates a flow.Condition against the active window.
// Each part is sampled once.
func (fr *FlowRunner) checkCondition(cond flow.Condition) bool {
	if cond.Visible != nil {
		visible, err := fr.isVisible(*cond.Visible)
		if err != nil || !visible {
			return false
		}
	}
	if cond.NotVisible != nil {
		visible, err := fr.isVisible(*cond.NotVisible)
		if err != nil || visible {
			return false
		}
	}
	if cond.Script != "" {
		ok, err := fr.script.EvalCondition(cond.Script)
		if err != nil {
			logger.Debug("condition %q: %v", cond.Script, err)
			return false
		}
		return ok
	}
	return true
}

// teardown closes whatever sessions the flow left open.
func (fr *FlowRunner) teardown() {
	if fr.app == nil {
		return
	}
	if err := fr.app.Close(); err != nil {
		logger.Warn("close %s: %v", fr.app, err)
	}
	fr.app, fr.active = nil, nil
}

// activeTitle backs desk.window.
func (fr *FlowRunner) activeTitle() string {
	if fr.active == nil {
		return ""
	}
	title, err := fr.desk.Windows.WindowTitle(fr.active.Handle())
	if err != nil {
		return ""
	}
	return title
}

func statusOf(r *core.CommandResult, optional bool) core.StepStatus {
	if r.Success {
		return core.StatusPassed
	}
	if optional {
		return core.StatusWarned
	}
	switch core.CategoryOf(r.Error) {
	case core.ErrCategoryTimeout, core.ErrCategoryApp, core.ErrCategoryInput:
		return core.StatusErrored
	}
	return core.StatusFailed
}

func isFailure(s core.StepStatus) bool {
	return s == core.StatusFailed || s == core.StatusErrored
}

func skippedStep(idx int, step flow.Step) core.StepResult {
	return core.StepResult{
		Step:    step,
		Index:   idx,
		Command: string(step.Type()),
		Status:  core.StatusSkipped,
	}
}

func flowName(f flow.Flow) string {
	if f.Config.Name != "" {
		return f.Config.Name
	}
	if f.SourcePath == "" {
		return "flow"
	}
	base := filepath.Base(f.SourcePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
