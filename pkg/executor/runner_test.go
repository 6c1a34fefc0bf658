package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/devicelab-dev/desk-runner/pkg/core"
	"github.com/devicelab-dev/desk-runner/pkg/desktop/sim"
	"github.com/devicelab-dev/desk-runner/pkg/flow"
	"github.com/devicelab-dev/desk-runner/pkg/window"
)

func fastTiming() window.Config {
	return window.Config{
		PopupRetries:        50,
		PopupTick:           2 * time.Millisecond,
		ReadyRetries:        20,
		ReadyTick:           time.Millisecond,
		DismissRetries:      40,
		DismissTick:         2 * time.Millisecond,
		FocusRetries:        5,
		FocusTick:           time.Millisecond,
		IdleTimeout:         50 * time.Millisecond,
		IdleRetries:         10,
		IdleTick:            time.Millisecond,
		ExpectPopupAttempts: 3,
		LaunchRetries:       200,
		LaunchTick:          2 * time.Millisecond,
		CloseRetries:        100,
		CloseTick:           2 * time.Millisecond,
		MenuSettle:          time.Millisecond,
		ValueSettle:         2 * time.Millisecond,
	}
}

// harness wires a runner to a simulated desktop with the XML editor
// registered. Flow files, fixtures and saved documents share one directory.
type harness struct {
	t   *testing.T
	dir string
	sim *sim.Desktop
	cfg RunnerConfig
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	d := sim.New()
	d.Register(sim.XMLEditorPath, sim.NewXMLEditor(dir, nil))
	return &harness{
		t:   t,
		dir: dir,
		sim: d,
		cfg: RunnerConfig{
			Timing:    fastTiming(),
			Artifacts: core.DefaultArtifactConfig(),
			Backend:   "sim",
		},
	}
}

func (h *harness) write(name, content string) string {
	h.t.Helper()
	path := filepath.Join(h.dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		h.t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func (h *harness) flow(name, content string) flow.Flow {
	h.t.Helper()
	f, err := flow.ParseFile(h.write(name, content))
	if err != nil {
		h.t.Fatalf("parse %s: %v", name, err)
	}
	return *f
}

func (h *harness) run(ctx context.Context, flows ...flow.Flow) *core.SuiteResult {
	h.t.Helper()
	suite, err := New(h.sim.Boundary(), h.cfg).Run(ctx, flows)
	if err != nil {
		h.t.Fatalf("Run() error = %v", err)
	}
	return suite
}

func requirePassed(t *testing.T, fr core.FlowResult) {
	t.Helper()
	if fr.Status.IsSuccess() {
		return
	}
	for _, s := range fr.Steps {
		if s.Status != core.StatusPassed {
			t.Logf("step %d %s: %s %s", s.Index, s.Command, s.Status, s.Error)
		}
	}
	t.Fatalf("flow %q status = %s, error = %s", fr.Name, fr.Status, fr.Error)
}

func TestRun_SaveNewDocument(t *testing.T) {
	h := newHarness(t)
	h.cfg.OutputDir = filepath.Join(h.dir, "report")

	f := h.flow("save.yaml", `
app: xmleditor.exe
name: save new document
---
- launchApp
- invoke: New
- invoke: InsertElementChild
- inputText: Root
- pressKey: "{ENTER}"
- invokeAsync: Save As
- waitForPopup: Save As
- inputText: out.xml
- pressKey: "{ENTER}"
- assertFile: {path: out.xml, root: Root, children: "0"}
- closeApp
`)
	suite := h.run(context.Background(), f)
	requirePassed(t, suite.Flows[0])

	data, err := os.ReadFile(filepath.Join(h.dir, "out.xml"))
	if err != nil {
		t.Fatalf("saved document missing: %v", err)
	}
	if !strings.Contains(string(data), "Root") {
		t.Errorf("saved document = %q, want a Root element", data)
	}
	if suite.RunID == "" {
		t.Error("RunID not set")
	}
	app := suite.Flows[0].App
	if app == nil || app.Path != sim.XMLEditorPath || app.Backend != "sim" {
		t.Fatalf("App = %+v", app)
	}
	if _, err := uuid.Parse(app.SessionID); err != nil {
		t.Errorf("App.SessionID = %q, want a UUID: %v", app.SessionID, err)
	}
	for _, name := range []string{"report.json", "flows/001-save-new-document.json", "junit.xml"} {
		if _, err := os.Stat(filepath.Join(h.cfg.OutputDir, filepath.FromSlash(name))); err != nil {
			t.Errorf("%s not written: %v", name, err)
		}
	}
	detail, err := os.ReadFile(filepath.Join(h.cfg.OutputDir, "flows", "001-save-new-document.json"))
	if err != nil {
		t.Fatalf("flow detail: %v", err)
	}
	if !strings.Contains(string(detail), app.SessionID) {
		t.Errorf("flow detail does not carry session %s", app.SessionID)
	}
}

func TestRun_ReadsAttributeValue(t *testing.T) {
	h := newHarness(t)
	h.write("fixture.xml", `<Root id="46613"><child/></Root>`)

	f := h.flow("value.yaml", `
app: xmleditor.exe
args: [fixture.xml]
---
- launchApp
- assertValue: {name: id, value: "46613"}
- assertValue: {name: id, value: "nope", optional: true}
- closeApp
`)
	suite := h.run(context.Background(), f)
	fr := suite.Flows[0]
	requirePassed(t, fr)

	if fr.Status != core.StatusWarned {
		t.Errorf("status = %s, want warned from the optional mismatch", fr.Status)
	}
	got := fr.Steps[1]
	data, ok := got.Data.(map[string]string)
	if !ok || data["actual"] != "46613" || data["mode"] == "" {
		t.Errorf("assertValue data = %#v", got.Data)
	}
	if fr.Steps[2].Category != core.ErrCategoryAssertion {
		t.Errorf("mismatch category = %s, want assertion", fr.Steps[2].Category)
	}
}

func TestRun_DragReordersAndUndoRestores(t *testing.T) {
	h := newHarness(t)
	h.write("fixture.xml", `<Root><a/><b/><c/><d/><e/></Root>`)

	f := h.flow("drag.yaml", `
app: xmleditor.exe
args: [fixture.xml]
---
- launchApp
- assertIndex: {name: e, saveAs: before}
- assertIndex: {role: TreeItem, within: Root, index: "4", equals: "${before}"}
- dragNode: {from: e, to: b, step: 20}
- assertIndex: {name: e, equals: "${before - 3}"}
- invoke: Undo
- assertIndex: {name: e, equals: "${before}"}
- closeApp
`)
	suite := h.run(context.Background(), f)
	requirePassed(t, suite.Flows[0])

	if got := suite.Flows[0].Steps[1].Data; got != 4 {
		t.Errorf("initial index = %v, want 4", got)
	}
}

func TestRun_ClosePromptAnswered(t *testing.T) {
	h := newHarness(t)

	f := h.flow("prompt.yaml", `
app: xmleditor.exe
---
- launchApp
- invoke: InsertElementChild
- inputText: Doc
- pressKey: "{ENTER}"
- closeApp: n
`)
	suite := h.run(context.Background(), f)
	requirePassed(t, suite.Flows[0])
}

func TestRun_PopupSessionHandsBackToOwner(t *testing.T) {
	h := newHarness(t)

	f := h.flow("popup.yaml", `
app: xmleditor.exe
---
- launchApp
- invokeAsync: Open
- waitForPopup: Open
- dismissPopup
- waitForPopup: {optional: true}
- invoke: InsertElementChild
- inputText: Back
- pressKey: "{ENTER}"
- selectNode: Back
- closeApp: n
`)
	suite := h.run(context.Background(), f)
	requirePassed(t, suite.Flows[0])
	if msg := suite.Flows[0].Steps[4].Message; msg != "No popup appeared" {
		t.Errorf("optional wait message = %q", msg)
	}
}

func TestRun_FailureSkipsRemainingAndCapturesHierarchy(t *testing.T) {
	h := newHarness(t)
	h.cfg.StopOnFail = true

	broken := h.flow("broken.yaml", `
app: xmleditor.exe
name: broken
---
- launchApp
- selectNode: missing
- invoke: New
`)
	next := h.flow("next.yaml", `
- evalScript: "output.ran = 1"
`)
	suite := h.run(context.Background(), broken, next)

	fr := suite.Flows[0]
	if fr.Status != core.StatusFailed {
		t.Fatalf("status = %s, want failed", fr.Status)
	}
	failed := fr.Steps[1]
	if failed.Status != core.StatusFailed || failed.Category != core.ErrCategoryAssertion {
		t.Errorf("failed step = %s/%s, want failed/assertion", failed.Status, failed.Category)
	}
	if fr.Steps[2].Status != core.StatusSkipped {
		t.Errorf("step after failure = %s, want skipped", fr.Steps[2].Status)
	}
	if len(failed.Attachments) != 1 {
		t.Fatalf("attachments = %d, want 1 hierarchy", len(failed.Attachments))
	}
	a := failed.Attachments[0]
	if a.Name != core.AttachmentHierarchy || a.Path != "assets/001-broken/001-hierarchy.json" {
		t.Errorf("attachment = %s at %s", a.Name, a.Path)
	}
	if !strings.Contains(string(a.Body), "XmlTree") {
		t.Error("hierarchy does not contain the tree")
	}

	if suite.Flows[1].Status != core.StatusSkipped {
		t.Errorf("second flow = %s, want skipped after StopOnFail", suite.Flows[1].Status)
	}
	if suite.FailedFlows != 1 || suite.SkippedFlows != 1 || suite.Success() {
		t.Errorf("summary = %d failed, %d skipped", suite.FailedFlows, suite.SkippedFlows)
	}
}

func TestRun_NoApplication(t *testing.T) {
	h := newHarness(t)
	f := h.flow("noapp.yaml", `
- invoke: New
`)
	suite := h.run(context.Background(), f)
	step := suite.Flows[0].Steps[0]
	if step.Status != core.StatusFailed || step.Category != core.ErrCategoryConfig {
		t.Errorf("step = %s/%s, want failed/config", step.Status, step.Category)
	}
}

func TestRun_ScriptFlowControl(t *testing.T) {
	h := newHarness(t)
	h.write("sub.yaml", `
env:
  GREETING: hi
---
- evalScript: "output.greeted = GREETING"
`)
	f := h.flow("control.yaml", `
- defineVariables:
    count: "0"
- repeat:
    times: 3
    commands:
      - evalScript: "output.count = Number(count) + 1"
- assertTrue: "${count == 3}"
- repeat:
    while:
      scriptCondition: "Number(count) < 5"
    commands:
      - evalScript: "output.count = Number(count) + 1"
- assertTrue: "count == 5"
- runFlow:
    when:
      scriptCondition: "false"
    file: missing.yaml
- runFlow: sub.yaml
- assertTrue: "greeted == 'hi'"
- retry:
    maxRetries: 2
    commands:
      - assertTrue: "false"
`)
	var nested int
	h.cfg.OnNestedStep = func(int, string, bool, int64, string) { nested++ }
	suite := h.run(context.Background(), f)
	fr := suite.Flows[0]

	for i := 0; i < 8; i++ {
		if fr.Steps[i].Status != core.StatusPassed {
			t.Errorf("step %d (%s) = %s: %s", i, fr.Steps[i].Command, fr.Steps[i].Status, fr.Steps[i].Error)
		}
	}
	if n := len(fr.Steps[1].SubSteps); n != 3 {
		t.Errorf("repeat sub-steps = %d, want 3", n)
	}

	retry := fr.Steps[8]
	if retry.Status != core.StatusFailed {
		t.Errorf("retry status = %s, want failed", retry.Status)
	}
	if len(retry.SubSteps) != 2 {
		t.Errorf("retry sub-steps = %d, want one per attempt", len(retry.SubSteps))
	}
	if retry.Category != core.ErrCategoryAssertion {
		t.Errorf("retry category = %s, want the nested assertion category", retry.Category)
	}
	if cause := retry.Cause(); cause == &retry || cause.Status != core.StatusFailed {
		t.Errorf("retry cause = %+v, want the failed assertion of the last attempt", cause)
	}
	if !strings.HasPrefix(fr.Message, "step 9 (") || !strings.Contains(fr.Message, ") failed at ") {
		t.Errorf("flow message = %q, want the failing step and its nested cause", fr.Message)
	}
	if fr.NestedSteps < 3+2 {
		t.Errorf("NestedSteps = %d, want at least the repeat and retry sub-steps", fr.NestedSteps)
	}
	if nested == 0 {
		t.Error("OnNestedStep not called for the sub-flow")
	}
}

func TestRun_FlowRetries(t *testing.T) {
	h := newHarness(t)
	h.cfg.Retries = 2
	var starts int
	h.cfg.OnFlowStart = func(int, int, string, string) { starts++ }

	f := h.flow("flaky.yaml", `
- assertTrue: "false"
`)
	suite := h.run(context.Background(), f)
	if starts != 3 {
		t.Errorf("attempts = %d, want 3", starts)
	}
	if suite.Flows[0].Status != core.StatusFailed {
		t.Errorf("status = %s, want failed", suite.Flows[0].Status)
	}
}

func TestRun_ContextCancelled(t *testing.T) {
	h := newHarness(t)
	f := h.flow("a.yaml", `
- evalScript: "output.x = 1"
`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	suite := h.run(ctx, f, f)
	if suite.SkippedFlows != 2 {
		t.Errorf("skipped = %d, want 2", suite.SkippedFlows)
	}
	if suite.Flows[0].Steps[0].Status != core.StatusSkipped {
		t.Errorf("step = %s, want skipped", suite.Flows[0].Steps[0].Status)
	}
}

func TestRun_FlowTimeout(t *testing.T) {
	h := newHarness(t)
	f := h.flow("slow.yaml", `
timeout: 1
---
- repeat:
    while:
      scriptCondition: "true"
    commands:
      - evalScript: "output.x = 1"
- evalScript: "output.y = 1"
`)
	suite := h.run(context.Background(), f)
	fr := suite.Flows[0]
	if fr.Status.IsSuccess() {
		t.Fatalf("status = %s, want a failure from the timeout", fr.Status)
	}
	if fr.Steps[1].Status != core.StatusSkipped {
		t.Errorf("step after timeout = %s, want skipped", fr.Steps[1].Status)
	}
}

func TestRun_Clipboard(t *testing.T) {
	h := newHarness(t)
	f := h.flow("clip.yaml", `
- setClipboard: copied text
- assertClipboard: copied text
- assertTrue: "desk.clipboard == 'copied text'"
- assertClipboard: {text: other, optional: true}
`)
	suite := h.run(context.Background(), f)
	fr := suite.Flows[0]
	requirePassed(t, fr)
	if fr.Steps[3].Status != core.StatusWarned {
		t.Errorf("mismatch = %s, want warned", fr.Steps[3].Status)
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name     string
		result   *core.CommandResult
		optional bool
		want     core.StepStatus
	}{
		{"passed", core.Passed("ok"), false, core.StatusPassed},
		{"assertion", core.Failed(core.ErrTextMismatch, "x"), false, core.StatusFailed},
		{"timeout", core.Failed(core.ErrPopupNotFound, "x"), false, core.StatusErrored},
		{"input", core.Failed(core.ErrInputInjectionFailed, "x"), false, core.StatusErrored},
		{"app", core.Failed(core.ErrUnexpectedProcessExit, "x"), false, core.StatusErrored},
		{"plain error", core.Failed(errors.New("boom"), "x"), false, core.StatusFailed},
		{"optional", core.Failed(core.ErrPopupNotFound, "x"), true, core.StatusWarned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusOf(tt.result, tt.optional); got != tt.want {
				t.Errorf("statusOf() = %s, want %s", got, tt.want)
			}
		})
	}
}
