package validator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func hasError(result *Result, substr string) bool {
	for _, err := range result.Errors {
		if strings.Contains(err.Error(), substr) {
			return true
		}
	}
	return false
}

func TestValidate_SingleFile(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"save.yaml": `
app: xmleditor.exe
---
- launchApp
- invoke: New
- inputText: Root
`})

	result := New(nil, nil).Validate(filepath.Join(dir, "save.yaml"))

	if !result.IsValid() {
		t.Errorf("expected valid result, got errors: %v", result.Errors)
	}
	if len(result.TestCases) != 1 {
		t.Errorf("expected 1 test case, got %d", len(result.TestCases))
	}
}

func TestValidate_Directory(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"flow1.yaml":      `- invoke: New`,
		"flow2.yml":       `- invoke: Open`,
		"notes.txt":       `not a flow`,
		"config.yaml":     `retries: 1`,
		"nested/sub.yaml": `- invoke: Save`,
	})

	result := New(nil, nil).Validate(dir)

	if !result.IsValid() {
		t.Errorf("expected valid result, got errors: %v", result.Errors)
	}
	if len(result.TestCases) != 2 {
		t.Errorf("expected 2 top-level test cases, got %v", result.TestCases)
	}
}

func TestValidate_RunFlowBecomesDependency(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"main.yaml": `
- launchApp
- runFlow: open.yaml
- retry:
    maxRetries: "2"
    file: helpers/save.yaml
`,
		"open.yaml":         `- invoke: Open`,
		"helpers/save.yaml": `- invoke: Save`,
	})

	result := New(nil, nil).Validate(dir)

	if !result.IsValid() {
		t.Fatalf("expected valid result, got errors: %v", result.Errors)
	}
	if len(result.TestCases) != 1 || filepath.Base(result.TestCases[0]) != "main.yaml" {
		t.Errorf("TestCases = %v, want [main.yaml]", result.TestCases)
	}
	if len(result.Dependencies) != 2 {
		t.Errorf("Dependencies = %v, want open.yaml and helpers/save.yaml", result.Dependencies)
	}
}

func TestValidate_CircularDependency(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"a.yaml": `- runFlow: b.yaml`,
		"b.yaml": `- runFlow: a.yaml`,
	})

	result := New(nil, nil).Validate(filepath.Join(dir, "a.yaml"))

	if result.IsValid() {
		t.Fatal("expected circular dependency error")
	}
	if !hasError(result, "circular dependency") {
		t.Errorf("errors = %v", result.Errors)
	}
}

func TestValidate_SelfReference(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"self.yaml": `
- repeat:
    times: "2"
    commands:
      - runFlow: self.yaml
`})

	result := New(nil, nil).Validate(filepath.Join(dir, "self.yaml"))
	if !hasError(result, "circular dependency") {
		t.Errorf("errors = %v, want circular dependency", result.Errors)
	}
}

func TestValidate_MissingReferences(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"main.yaml": `
- runFlow: missing.yaml
- runScript: helpers/setup.js
- runFlow: ${SUBFLOW}
`})

	result := New(nil, nil).Validate(filepath.Join(dir, "main.yaml"))

	if len(result.Errors) != 2 {
		t.Fatalf("errors = %v, want missing flow and missing script", result.Errors)
	}
	if !hasError(result, "referenced flow missing.yaml") || !hasError(result, "script helpers/setup.js") {
		t.Errorf("errors = %v", result.Errors)
	}
}

func TestValidate_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"bad.yaml":  `- tapOn: "Login"`,
		"good.yaml": `- invoke: New`,
	})

	result := New(nil, nil).Validate(dir)

	if !hasError(result, "parse error") {
		t.Errorf("errors = %v, want parse error", result.Errors)
	}
	if len(result.TestCases) != 1 || filepath.Base(result.TestCases[0]) != "good.yaml" {
		t.Errorf("TestCases = %v, want [good.yaml]", result.TestCases)
	}
}

func TestValidate_TagFiltering(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"smoke.yaml": "tags: [smoke]\n---\n- invoke: New\n",
		"wip.yaml":   "tags: [smoke, wip]\n---\n- invoke: New\n",
		"other.yaml": "- invoke: New\n",
	})

	tests := []struct {
		name             string
		include, exclude []string
		want             int
	}{
		{"no filter", nil, nil, 3},
		{"include smoke", []string{"smoke"}, nil, 2},
		{"include smoke exclude wip", []string{"smoke"}, []string{"wip"}, 1},
		{"exclude wip", nil, []string{"wip"}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := New(tt.include, tt.exclude).Validate(dir)
			if len(result.TestCases) != tt.want {
				t.Errorf("TestCases = %v, want %d", result.TestCases, tt.want)
			}
		})
	}
}

func TestValidate_ConfigYaml(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"config.yaml": `
flows:
  - suites/*
  - extra/one.yaml
excludeTags: [wip]
`,
		"suites/a.yaml":  "- invoke: New\n",
		"suites/b.yaml":  "tags: [wip]\n---\n- invoke: New\n",
		"extra/one.yaml": "- invoke: Open\n",
		"extra/two.yaml": "- invoke: Open\n",
		"top.yaml":       "- invoke: Save\n",
	})

	result := New(nil, nil).Validate(dir)

	if !result.IsValid() {
		t.Fatalf("expected valid result, got errors: %v", result.Errors)
	}
	var names []string
	for _, f := range result.TestCases {
		names = append(names, filepath.Base(f))
	}
	if strings.Join(names, ",") != "a.yaml,one.yaml" {
		t.Errorf("TestCases = %v, want [a.yaml one.yaml]", names)
	}
}

func TestValidate_ConfigTagsOverriddenByValidatorTags(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"config.yaml": "excludeTags: [wip]\n",
		"wip.yaml":    "tags: [wip]\n---\n- invoke: New\n",
	})

	result := New([]string{"wip"}, nil).Validate(dir)
	if len(result.TestCases) != 1 {
		t.Errorf("TestCases = %v, want the wip flow", result.TestCases)
	}
}

func TestValidate_HooksFollowed(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"main.yaml": `
onFlowStart:
  - runFlow: setup.yaml
onFlowComplete:
  - runFlow: teardown.yaml
---
- invoke: New
`,
		"setup.yaml": "- launchApp\n",
	})

	result := New(nil, nil).Validate(filepath.Join(dir, "main.yaml"))
	if !hasError(result, "referenced flow teardown.yaml") {
		t.Errorf("errors = %v, want missing teardown", result.Errors)
	}
	if len(result.Dependencies) != 1 {
		t.Errorf("Dependencies = %v, want setup.yaml", result.Dependencies)
	}
}

func TestValidate_NonExistentPath(t *testing.T) {
	result := New(nil, nil).Validate("/nonexistent/path")
	if result.IsValid() || !hasError(result, "cannot access") {
		t.Errorf("errors = %v", result.Errors)
	}
}

func TestValidate_EmptyDirectory(t *testing.T) {
	result := New(nil, nil).Validate(t.TempDir())
	if !result.IsValid() || len(result.TestCases) != 0 {
		t.Errorf("result = %+v", result)
	}
}

func TestResult_IsValid(t *testing.T) {
	r := &Result{}
	if !r.IsValid() {
		t.Error("empty result should be valid")
	}
	r.fail("x.yaml", "boom")
	if r.IsValid() {
		t.Error("result with errors should be invalid")
	}
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{File: "flow.yaml", Message: "parse error"}
	if err.Error() != "flow.yaml: parse error" {
		t.Errorf("Error() = %q", err.Error())
	}
}
