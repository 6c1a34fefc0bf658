package report

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/devicelab-dev/desk-runner/pkg/core"
)

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"Save new document": "save-new-document",
		"  --x--  ":         "x",
		"":                  "flow",
		"Ünïcode & more":    "n-code-more",
	}
	for in, want := range tests {
		if got := slug(in); got != want {
			t.Errorf("slug(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFlowID(t *testing.T) {
	if got := FlowID(0, "Save As"); got != "001-save-as" {
		t.Errorf("FlowID() = %q", got)
	}
	if got := AssetsDir(11, "drag"); got != "assets/012-drag" {
		t.Errorf("AssetsDir() = %q", got)
	}
}

func passedFlow(name string) core.FlowResult {
	fr := core.FlowResult{
		Name:      name,
		FilePath:  "/flows/" + name + ".yaml",
		Status:    core.StatusPassed,
		StartTime: time.Now(),
		Duration:  1500 * time.Millisecond,
		Steps: []core.StepResult{
			{Index: 0, Command: "launchApp", Status: core.StatusPassed},
			{Index: 1, Command: "invoke", Status: core.StatusWarned},
		},
	}
	fr.ComputeSummary()
	return fr
}

func TestWriter_Lifecycle(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, Meta{RunID: "run-1", Name: "suite", Backend: "sim"}, []FlowRef{
		{Name: "save", SourceFile: "save.yaml"},
		{Name: "drag", SourceFile: "drag.yaml"},
	})
	if err != nil {
		t.Fatalf("NewWriter() error = %v", err)
	}

	index, err := ReadIndex(filepath.Join(dir, "report.json"))
	if err != nil {
		t.Fatalf("ReadIndex() error = %v", err)
	}
	if index.Summary.Pending != 2 || index.Status != StatusRunning {
		t.Errorf("initial index: status=%s summary=%+v", index.Status, index.Summary)
	}
	if index.Runner.Backend != "sim" || index.RunID != "run-1" {
		t.Errorf("runner = %+v runID = %q", index.Runner, index.RunID)
	}

	if err := w.FlowStarted(0); err != nil {
		t.Fatalf("FlowStarted() error = %v", err)
	}
	fr := passedFlow("save")
	fr.Steps[0].Attachments = []core.Attachment{{
		Name:        core.AttachmentHierarchy,
		ContentType: "application/json",
		Path:        "assets/001-save/001-hierarchy.json",
		Body:        []byte(`{"role":"Window"}`),
	}}
	if err := w.FlowFinished(0, &fr); err != nil {
		t.Fatalf("FlowFinished() error = %v", err)
	}
	if fr.Steps[0].Attachments[0].Body != nil {
		t.Error("attachment body kept in memory after write")
	}
	body, err := os.ReadFile(filepath.Join(dir, "assets", "001-save", "001-hierarchy.json"))
	if err != nil || string(body) != `{"role":"Window"}` {
		t.Errorf("attachment = %q, %v", body, err)
	}

	suite := &core.SuiteResult{Name: "suite", StartTime: time.Now(), Flows: []core.FlowResult{fr}}
	if err := w.Finish(suite); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	index, flows, err := ReadReport(dir)
	if err != nil {
		t.Fatalf("ReadReport() error = %v", err)
	}
	if index.EndTime == nil {
		t.Error("EndTime not set")
	}
	if got := index.Flows[0]; got.Status != StatusPassed || got.Steps.Warned != 1 || got.Duration == nil || *got.Duration != 1500 {
		t.Errorf("flow entry = %+v", got)
	}
	if index.Flows[1].Status != StatusSkipped {
		t.Errorf("unrun flow = %s, want skipped", index.Flows[1].Status)
	}
	if index.Status != StatusPassed {
		t.Errorf("run status = %s, want passed", index.Status)
	}
	if len(flows) != 1 || flows[0].Steps[1].Status != core.StatusWarned {
		t.Errorf("flow details = %+v", flows)
	}
	if _, err := os.Stat(filepath.Join(dir, "junit.xml")); err != nil {
		t.Errorf("junit.xml: %v", err)
	}
}

func TestWriter_FlowIndexOutOfRange(t *testing.T) {
	w, err := NewWriter(t.TempDir(), Meta{}, []FlowRef{{Name: "only"}})
	if err != nil {
		t.Fatalf("NewWriter() error = %v", err)
	}
	if err := w.FlowStarted(3); err == nil {
		t.Error("FlowStarted(3) succeeded, want error")
	}
}

func TestWriteSuite(t *testing.T) {
	failed := passedFlow("broken")
	failed.Status = core.StatusFailed
	failed.Error = "element not found"
	failed.Steps[1].Status = core.StatusFailed
	failed.ComputeSummary()

	suite := &core.SuiteResult{
		Name:      "nightly",
		RunID:     "run-2",
		StartTime: time.Now(),
		Flows:     []core.FlowResult{passedFlow("save"), failed},
	}
	dir := t.TempDir()
	if err := WriteSuite(dir, suite, Meta{RunnerVersion: "1.2.3"}); err != nil {
		t.Fatalf("WriteSuite() error = %v", err)
	}

	index, err := ReadIndex(filepath.Join(dir, "report.json"))
	if err != nil {
		t.Fatalf("ReadIndex() error = %v", err)
	}
	if index.RunID != "run-2" || index.Name != "nightly" || index.Runner.Version != "1.2.3" {
		t.Errorf("meta = %s %s %+v", index.RunID, index.Name, index.Runner)
	}
	if index.Status != StatusFailed || index.Summary.Failed != 1 || index.Summary.Passed != 1 {
		t.Errorf("status = %s summary = %+v", index.Status, index.Summary)
	}
	if e := index.Flows[1]; e.Error == nil || *e.Error != "element not found" {
		t.Errorf("failed entry error = %v", e.Error)
	}
}

func TestRunStatus(t *testing.T) {
	end := time.Now()
	tests := []struct {
		name    string
		endTime *time.Time
		summary Summary
		want    Status
	}{
		{"unfinished", nil, Summary{Total: 1, Passed: 1}, StatusRunning},
		{"passed", &end, Summary{Total: 2, Passed: 2}, StatusPassed},
		{"failed", &end, Summary{Total: 2, Passed: 1, Failed: 1}, StatusFailed},
		{"all skipped", &end, Summary{Total: 2, Skipped: 2}, StatusSkipped},
		{"empty", &end, Summary{}, StatusPassed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := runStatus(&Index{EndTime: tt.endTime, Summary: tt.summary})
			if got != tt.want {
				t.Errorf("runStatus() = %s, want %s", got, tt.want)
			}
		})
	}
}
