// Package executor runs flows against desktop applications and collects
// their results.
package executor

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/devicelab-dev/desk-runner/pkg/core"
	"github.com/devicelab-dev/desk-runner/pkg/desktop"
	"github.com/devicelab-dev/desk-runner/pkg/flow"
	"github.com/devicelab-dev/desk-runner/pkg/logger"
	"github.com/devicelab-dev/desk-runner/pkg/report"
	"github.com/devicelab-dev/desk-runner/pkg/window"
)

// RunnerConfig configures the test runner.
type RunnerConfig struct {
	OutputDir  string // Report output directory ("" = no report on disk)
	StopOnFail bool   // Skip remaining flows after the first failure
	Retries    int    // Extra attempts for a failed flow (0 = no retries)
	Artifacts  core.ArtifactConfig

	// Timing budgets for every window session
	Timing window.Config

	// Application defaults; a flow's own settings win
	App  string
	Args []string
	Env  map[string]string

	// Runner metadata
	SuiteName     string
	RunnerVersion string
	Backend       string

	// Live progress callbacks
	OnFlowStart       func(flowIdx, totalFlows int, name, file string)
	OnStepComplete    func(idx int, desc string, passed bool, durationMs int64, err string)
	OnNestedStep      func(depth int, desc string, passed bool, durationMs int64, err string)
	OnNestedFlowStart func(depth int, desc string)
	OnFlowEnd         func(name string, passed bool, durationMs int64)
}

// Runner orchestrates flow execution. Flows run one after another: they
// share the desktop's foreground window, keyboard and clipboard.
type Runner struct {
	config RunnerConfig
	desk   *desktop.Desktop
}

// New creates a new Runner.
func New(d *desktop.Desktop, cfg RunnerConfig) *Runner {
	if cfg.Timing == (window.Config{}) {
		cfg.Timing = window.DefaultConfig()
	}
	return &Runner{
		config: cfg,
		desk:   d,
	}
}

// Run executes all flows and writes the report when OutputDir is set.
// The returned error covers report output only; flow failures are in the
// result.
func (r *Runner) Run(ctx context.Context, flows []flow.Flow) (*core.SuiteResult, error) {
	suite := &core.SuiteResult{
		Name:      r.config.SuiteName,
		RunID:     uuid.NewString(),
		StartTime: time.Now(),
	}
	if suite.Name == "" {
		suite.Name = "desk-runner"
	}
	logger.Info("run %s: %d flow(s)", suite.RunID, len(flows))

	var w *report.Writer
	if r.config.OutputDir != "" {
		refs := make([]report.FlowRef, len(flows))
		for i, f := range flows {
			refs[i] = report.FlowRef{Name: flowName(f), SourceFile: f.SourcePath}
		}
		var err error
		w, err = report.NewWriter(r.config.OutputDir, report.Meta{
			RunID:         suite.RunID,
			Name:          suite.Name,
			StartTime:     suite.StartTime,
			RunnerVersion: r.config.RunnerVersion,
			Backend:       r.config.Backend,
		}, refs)
		if err != nil {
			return nil, err
		}
	}
	var reportErr error
	track := func(err error) {
		if err != nil && reportErr == nil {
			logger.Error("report: %v", err)
			reportErr = err
		}
	}

	stopped := false
	for i, f := range flows {
		if stopped || ctx.Err() != nil {
			suite.Flows = append(suite.Flows, skippedFlow(f, "run stopped"))
			continue
		}
		if w != nil {
			track(w.FlowStarted(i))
		}
		result := r.executeFlow(ctx, f, i, len(flows))
		if w != nil {
			track(w.FlowFinished(i, &result))
		}
		suite.Flows = append(suite.Flows, result)
		if r.config.StopOnFail && !result.Status.IsSuccess() {
			logger.Warn("stopping after failed flow %q", result.Name)
			stopped = true
		}
	}

	suite.Duration = time.Since(suite.StartTime)
	suite.ComputeSummary()
	logger.Info("run %s: %d passed, %d failed, %d skipped", suite.RunID,
		suite.PassedFlows, suite.FailedFlows, suite.SkippedFlows)

	if w != nil {
		track(w.Finish(suite))
	}
	return suite, reportErr
}

// executeFlow runs a single flow, retrying a failure up to Retries times.
func (r *Runner) executeFlow(ctx context.Context, f flow.Flow, flowIdx, totalFlows int) core.FlowResult {
	var result core.FlowResult
	for attempt := 0; attempt <= r.config.Retries; attempt++ {
		if attempt > 0 {
			if ctx.Err() != nil {
				break
			}
			logger.Info("retrying flow %q (attempt %d/%d)", flowName(f), attempt+1, r.config.Retries+1)
		}
		fr := &FlowRunner{
			ctx:        ctx,
			flow:       f,
			desk:       r.desk,
			config:     r.config,
			flowIdx:    flowIdx,
			totalFlows: totalFlows,
		}
		result = fr.Run()
		if result.Status.IsSuccess() || result.Status == core.StatusSkipped {
			break
		}
	}
	return result
}

func skippedFlow(f flow.Flow, reason string) core.FlowResult {
	result := core.FlowResult{
		Name:     flowName(f),
		FilePath: f.SourcePath,
		Tags:     f.Config.Tags,
		Status:   core.StatusSkipped,
		Error:    reason,
	}
	for i, step := range f.Steps {
		result.Steps = append(result.Steps, skippedStep(i, step))
	}
	result.ComputeSummary()
	return result
}
