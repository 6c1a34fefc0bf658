// Package validator validates flow files before execution.
// It parses all files upfront, resolves runFlow references, and detects errors.
package validator

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/devicelab-dev/desk-runner/pkg/config"
	"github.com/devicelab-dev/desk-runner/pkg/flow"
)

// ValidationError represents a validation error with context.
type ValidationError struct {
	File    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}

// Result contains the validation result.
type Result struct {
	// TestCases are the flows to run, in execution order.
	TestCases []string
	// Dependencies are flows only reached through runFlow or retry.
	Dependencies []string
	// Errors contains all validation errors found.
	Errors []error
}

// IsValid returns true if there are no validation errors.
func (r *Result) IsValid() bool {
	return len(r.Errors) == 0
}

func (r *Result) fail(file, format string, args ...interface{}) {
	r.Errors = append(r.Errors, &ValidationError{File: file, Message: fmt.Sprintf(format, args...)})
}

// Validator validates flow files.
type Validator struct {
	includeTags []string
	excludeTags []string
}

// New creates a new Validator.
func New(includeTags, excludeTags []string) *Validator {
	return &Validator{
		includeTags: includeTags,
		excludeTags: excludeTags,
	}
}

// Validate validates a file or directory.
//
// A directory contributes its top-level .yaml/.yml files, or the files
// matched by the flows patterns of its config.yaml. Tags from config.yaml
// apply when the validator was created without tags of its own. Flows that
// another candidate reaches through runFlow or retry are dependencies, not
// test cases.
func (v *Validator) Validate(path string) *Result {
	result := &Result{}

	info, err := os.Stat(path)
	if err != nil {
		result.fail(path, "cannot access: %v", err)
		return result
	}

	include, exclude := v.includeTags, v.excludeTags
	var candidates []string
	if info.IsDir() {
		cfg, err := config.LoadFromDir(path)
		if err != nil {
			result.fail(path, "invalid config: %v", err)
			return result
		}
		if len(include) == 0 && len(exclude) == 0 {
			include, exclude = cfg.IncludeTags, cfg.ExcludeTags
		}
		if len(cfg.Flows) > 0 {
			candidates, err = patternFlows(cfg, path)
		} else {
			candidates, err = topLevelFlows(path)
		}
		if err != nil {
			result.fail(path, "failed to scan directory: %v", err)
			return result
		}
	} else {
		candidates = []string{path}
	}

	parsed := make(map[string]*flow.Flow)
	deps := make(map[string]bool)
	for _, file := range candidates {
		v.validateFile(file, result, parsed, deps, nil)
	}

	seen := make(map[string]bool)
	for _, file := range candidates {
		f := parsed[file]
		if f == nil || seen[file] {
			continue
		}
		seen[file] = true
		if deps[file] {
			continue
		}
		if flow.ShouldIncludeFlow(f, include, exclude) {
			result.TestCases = append(result.TestCases, file)
		}
	}
	for file := range deps {
		if parsed[file] != nil {
			result.Dependencies = append(result.Dependencies, file)
		}
	}
	sort.Strings(result.Dependencies)
	return result
}

// topLevelFlows lists the flow files directly inside dir, skipping the
// workspace config.
func topLevelFlows(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !isFlowFile(e.Name()) {
			continue
		}
		if name := strings.ToLower(e.Name()); name == "config.yaml" || name == "config.yml" {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}

// patternFlows lists the flow files matched by the config's patterns. A
// matched directory contributes its top-level flows.
func patternFlows(cfg *config.Config, dir string) ([]string, error) {
	matches, err := cfg.ResolveFlows(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			sub, err := topLevelFlows(m)
			if err != nil {
				return nil, err
			}
			files = append(files, sub...)
			continue
		}
		if isFlowFile(m) {
			files = append(files, m)
		}
	}
	return files, nil
}

func isFlowFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// validateFile validates a single file and its runFlow dependencies.
func (v *Validator) validateFile(filePath string, result *Result, parsed map[string]*flow.Flow, deps map[string]bool, chain []string) {
	// Check for circular dependency
	for _, ancestor := range chain {
		if ancestor == filePath {
			cycle := append(append([]string{}, chain...), filePath)
			result.fail(filePath, "circular dependency detected: %s", strings.Join(cycle, " -> "))
			return
		}
	}

	if _, done := parsed[filePath]; done {
		return
	}

	f, err := flow.ParseFile(filePath)
	if err != nil {
		parsed[filePath] = nil
		result.fail(filePath, "parse error: %v", err)
		return
	}
	parsed[filePath] = f

	newChain := append(append([]string{}, chain...), filePath)
	v.validateSteps(f.Steps, filePath, result, parsed, deps, newChain)

	// Also validate lifecycle hooks
	v.validateSteps(f.Config.OnFlowStart, filePath, result, parsed, deps, newChain)
	v.validateSteps(f.Config.OnFlowComplete, filePath, result, parsed, deps, newChain)
}

// validateSteps checks steps and follows runFlow and retry file references.
func (v *Validator) validateSteps(steps []flow.Step, parentFile string, result *Result, parsed map[string]*flow.Flow, deps map[string]bool, chain []string) {
	parentDir := filepath.Dir(parentFile)

	follow := func(ref string) {
		if ref == "" || strings.Contains(ref, "${") {
			return
		}
		refPath := resolveFilePath(parentDir, ref)
		if _, err := os.Stat(refPath); err != nil {
			result.fail(parentFile, "referenced flow %s: %v", ref, err)
			return
		}
		deps[refPath] = true
		v.validateFile(refPath, result, parsed, deps, chain)
	}

	for _, step := range steps {
		switch s := step.(type) {
		case *flow.UnsupportedStep:
			result.fail(parentFile, "%s", s.Describe())

		case *flow.RunFlowStep:
			follow(s.File)
			// Also check inline commands
			v.validateSteps(s.Steps, parentFile, result, parsed, deps, chain)

		case *flow.RepeatStep:
			v.validateSteps(s.Steps, parentFile, result, parsed, deps, chain)

		case *flow.RetryStep:
			follow(s.File)
			v.validateSteps(s.Steps, parentFile, result, parsed, deps, chain)

		case *flow.RunScriptStep:
			if p := s.ScriptPath(); strings.HasSuffix(p, ".js") && !strings.Contains(p, "${") {
				if _, err := os.Stat(resolveFilePath(parentDir, p)); err != nil {
					result.fail(parentFile, "script %s: %v", p, err)
				}
			}
		}
	}
}

// resolveFilePath resolves a file path relative to a base directory.
func resolveFilePath(baseDir, filePath string) string {
	if filepath.IsAbs(filePath) {
		return filePath
	}
	return filepath.Join(baseDir, filePath)
}
