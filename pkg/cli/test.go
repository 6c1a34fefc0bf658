package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/desk-runner/pkg/config"
	"github.com/devicelab-dev/desk-runner/pkg/core"
	"github.com/devicelab-dev/desk-runner/pkg/executor"
	"github.com/devicelab-dev/desk-runner/pkg/flow"
	"github.com/devicelab-dev/desk-runner/pkg/logger"
	"github.com/devicelab-dev/desk-runner/pkg/report"
	"github.com/devicelab-dev/desk-runner/pkg/validator"
)

var testCommand = &cli.Command{
	Name:      "test",
	Usage:     "Run flows against a desktop application",
	ArgsUsage: "[flow-file-or-folder]...",
	Description: `Run one or more flow files against the application under test.

Without arguments the flows patterns of --config are used.

Reports are generated in the output directory:
  - Default: ./reports/<timestamp>/
  - With --output: <output>/<timestamp>/
  - With --output and --flatten: <output>/ (no timestamp subfolder)

Examples:
  desk-runner test flow.yaml
  desk-runner test flows/ -e FILE=out.xml
  desk-runner test flows/ --include-tags smoke
  desk-runner --config desk.yaml test
  desk-runner test flows/ --output ./my-reports --flatten`,
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "env",
			Aliases: []string{"e"},
			Usage:   "Environment variables (KEY=VALUE)",
		},
		&cli.StringSliceFlag{
			Name:  "include-tags",
			Usage: "Only include flows with these tags",
		},
		&cli.StringSliceFlag{
			Name:  "exclude-tags",
			Usage: "Exclude flows with these tags",
		},
		&cli.StringFlag{
			Name:  "output",
			Usage: "Output directory for reports (default: ./reports)",
		},
		&cli.BoolFlag{
			Name:  "flatten",
			Usage: "Don't create timestamp subfolder (requires --output)",
		},
		&cli.IntFlag{
			Name:  "retries",
			Usage: "Extra attempts for a failed flow",
		},
		&cli.BoolFlag{
			Name:  "stop-on-fail",
			Usage: "Skip remaining flows after the first failure",
		},
		&cli.StringFlag{
			Name:  "app",
			Usage: "Application launched by flows that name none",
		},
		&cli.StringFlag{
			Name:    "history",
			Usage:   "Run history database (default: $DESK_RUNNER_HOME/state/history.db)",
			EnvVars: []string{"DESK_RUNNER_HISTORY"},
		},
		&cli.BoolFlag{
			Name:  "no-history",
			Usage: "Neither read nor record run history",
		},
	},
	Action: runTest,
}

// RunConfig holds everything a test run needs after flags and the
// workspace config are merged.
type RunConfig struct {
	FlowPaths   []string
	Env         map[string]string
	IncludeTags []string
	ExcludeTags []string
	OutputDir   string
	Retries     int
	StopOnFail  bool
	App         string
	Args        []string
	Backend     string
	WorkDir     string
	Verbose     bool
	HistoryPath string // "" disables history
	Workspace   *config.Config
}

func runTest(c *cli.Context) error {
	printBanner()

	workspace, err := loadWorkspace(c)
	if err != nil {
		return err
	}

	outputDir, err := resolveOutputDir(firstNonEmpty(c.String("output"), workspace.Output), c.Bool("flatten"))
	if err != nil {
		return err
	}

	// Workspace env first; -e wins
	env := make(map[string]string)
	for k, v := range workspace.Env {
		env[k] = v
	}
	for k, v := range parseEnvVars(c.StringSlice("env")) {
		env[k] = v
	}

	cfg := &RunConfig{
		FlowPaths:   c.Args().Slice(),
		Env:         env,
		IncludeTags: c.StringSlice("include-tags"),
		ExcludeTags: c.StringSlice("exclude-tags"),
		OutputDir:   outputDir,
		Retries:     workspace.Retries,
		StopOnFail:  workspace.StopOnFail || c.Bool("stop-on-fail"),
		App:         firstNonEmpty(c.String("app"), workspace.App),
		Args:        workspace.Args,
		Backend:     firstNonEmpty(workspace.Backend, c.String("backend")),
		WorkDir:     c.String("workdir"),
		Verbose:     c.Bool("verbose"),
		Workspace:   workspace,
	}
	if c.IsSet("backend") {
		cfg.Backend = c.String("backend")
	}
	if c.IsSet("retries") {
		cfg.Retries = c.Int("retries")
	}
	if !c.Bool("no-history") {
		cfg.HistoryPath = c.String("history")
		if cfg.HistoryPath == "" {
			cfg.HistoryPath = config.GetHistoryPath()
		}
	}

	if len(cfg.FlowPaths) == 0 {
		cfg.FlowPaths, err = workspaceFlows(c.String("config"), workspace)
		if err != nil {
			return err
		}
	}
	if len(cfg.FlowPaths) == 0 {
		return fmt.Errorf("at least one flow file or folder is required")
	}

	suite, err := executeTest(cfg)
	if err != nil {
		return err
	}
	if !suite.Success() {
		return cli.Exit("", 1)
	}
	return nil
}

// loadWorkspace loads --config, or the config.yaml of a single directory
// argument. Without either an empty config is returned.
func loadWorkspace(c *cli.Context) (*config.Config, error) {
	if path := c.String("config"); path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		return cfg, nil
	}
	if c.NArg() == 1 {
		if info, err := os.Stat(c.Args().First()); err == nil && info.IsDir() {
			cfg, err := config.LoadFromDir(c.Args().First())
			if err != nil {
				return nil, fmt.Errorf("failed to load config: %w", err)
			}
			return cfg, nil
		}
	}
	return &config.Config{}, nil
}

// workspaceFlows resolves the config's flow patterns against the config
// file's directory.
func workspaceFlows(configPath string, workspace *config.Config) ([]string, error) {
	if configPath == "" || len(workspace.Flows) == 0 {
		return nil, nil
	}
	return workspace.ResolveFlows(filepath.Dir(configPath))
}

// resolveOutputDir determines the output directory based on flags.
// - No --output: ./reports/<timestamp>/
// - --output given: <output>/<timestamp>/
// - --output + --flatten: <output>/ (error if --output not given)
func resolveOutputDir(output string, flatten bool) (string, error) {
	if flatten && output == "" {
		return "", fmt.Errorf("--flatten requires --output to be specified")
	}

	baseDir := output
	if baseDir == "" {
		baseDir = "./reports"
	}

	if flatten {
		return filepath.Clean(baseDir), nil
	}

	// Create timestamp-based subfolder
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	return filepath.Join(baseDir, timestamp), nil
}

func executeTest(cfg *RunConfig) (*core.SuiteResult, error) {
	// 1. Create output directory
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	// 2. Initialize logging
	logPath := filepath.Join(cfg.OutputDir, "desk-runner.log")
	if err := logger.Init(logPath); err != nil {
		fmt.Printf("Warning: Failed to initialize logger: %v\n", err)
	}
	defer logger.Close()
	logger.SetVerbose(cfg.Verbose)

	logger.Info("=== Test execution started ===")
	logger.Info("Output directory: %s", cfg.OutputDir)
	logger.Info("Backend: %s", cfg.Backend)

	// Ctrl+C stops after the current step; the report stays readable
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Validate and parse flows
	flows, err := validateAndParseFlows(cfg)
	if err != nil {
		logger.Error("Flow validation failed: %v", err)
		return nil, err
	}
	logger.Info("Validated %d flow(s)", len(flows))

	// 4. Desktop
	printSetupStep(fmt.Sprintf("Opening %s desktop...", cfg.Backend))
	desk, err := openDesktop(cfg.Backend, cfg.WorkDir)
	if err != nil {
		return nil, err
	}
	printSetupSuccess("Desktop ready")

	// 5. Execute flows
	artifacts := cfg.Workspace.ArtifactConfig()
	runner := executor.New(desk, executor.RunnerConfig{
		OutputDir:         cfg.OutputDir,
		StopOnFail:        cfg.StopOnFail,
		Retries:           cfg.Retries,
		Artifacts:         artifacts,
		Timing:            cfg.Workspace.Timing.WindowConfig(),
		App:               cfg.App,
		Args:              cfg.Args,
		Env:               cfg.Env,
		RunnerVersion:     Version,
		Backend:           cfg.Backend,
		OnFlowStart:       onFlowStart,
		OnStepComplete:    onStepComplete,
		OnNestedStep:      onNestedStep,
		OnNestedFlowStart: onNestedFlowStart,
		OnFlowEnd:         onFlowEnd,
	})
	suite, err := runner.Run(ctx, flows)
	if suite == nil {
		logger.Error("Flow execution failed: %v", err)
		return nil, err
	}
	if err != nil {
		fmt.Printf("Warning: report incomplete: %v\n", err)
	}
	logger.Info("Flow execution completed: %d passed, %d failed, %d skipped",
		suite.PassedFlows, suite.FailedFlows, suite.SkippedFlows)

	// 6. Summary, with the previous outcome of every flow
	last := recordHistory(cfg.HistoryPath, suite)
	if err := printReport(cfg.OutputDir, last); err != nil {
		fmt.Printf("Warning: Failed to print summary: %v\n", err)
	}

	fmt.Println()
	fmt.Println("  Reports:")
	fmt.Printf("    JSON:   %s\n", filepath.Join(cfg.OutputDir, "report.json"))
	fmt.Printf("    JUnit:  %s\n", filepath.Join(cfg.OutputDir, "junit.xml"))
	fmt.Printf("    Log:    %s\n", logPath)
	fmt.Println()

	return suite, nil
}

// recordHistory looks up each flow's previous outcome and then records
// this run. History problems are logged, never fatal. A nil map means
// history is disabled.
func recordHistory(path string, suite *core.SuiteResult) map[string]*report.Outcome {
	if path == "" {
		return nil
	}
	ctx := context.Background()
	h, err := report.OpenHistory(ctx, path)
	if err != nil {
		logger.Warn("history disabled: %v", err)
		return nil
	}
	defer h.Close()

	last := make(map[string]*report.Outcome)
	for _, f := range suite.Flows {
		o, err := h.LastOutcome(ctx, f.Name)
		switch {
		case err == nil:
			last[f.Name] = o
		case !errors.Is(err, report.ErrNoHistory):
			logger.Warn("history lookup %q: %v", f.Name, err)
		}
	}
	if err := h.Record(ctx, suite); err != nil {
		logger.Warn("history record: %v", err)
	}
	return last
}

// validateAndParseFlows validates and parses all flow files.
func validateAndParseFlows(cfg *RunConfig) ([]flow.Flow, error) {
	v := validator.New(cfg.IncludeTags, cfg.ExcludeTags)
	var allTestCases []string
	var allErrors []error

	for _, path := range cfg.FlowPaths {
		result := v.Validate(path)
		allTestCases = append(allTestCases, result.TestCases...)
		allErrors = append(allErrors, result.Errors...)
	}

	if len(allErrors) > 0 {
		fmt.Fprintf(os.Stderr, "Validation errors:\n")
		for _, err := range allErrors {
			fmt.Fprintf(os.Stderr, "  - %v\n", err)
		}
		return nil, fmt.Errorf("validation failed with %d error(s)", len(allErrors))
	}

	if len(allTestCases) == 0 {
		return nil, fmt.Errorf("no test flows found")
	}

	fmt.Printf("\n%s\n", paint(report.ColorBold, "Setup"))
	fmt.Println(strings.Repeat("─", 40))
	printSetupSuccess(fmt.Sprintf("Found %d test flow(s)", len(allTestCases)))

	var flows []flow.Flow
	for _, path := range allTestCases {
		f, err := flow.ParseFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		flows = append(flows, *f)
	}

	return flows, nil
}

func parseEnvVars(envs []string) map[string]string {
	result := make(map[string]string)
	for _, e := range envs {
		parts := strings.SplitN(e, "=", 2)
		if len(parts) == 2 {
			result[parts[0]] = parts[1]
		}
	}
	return result
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
