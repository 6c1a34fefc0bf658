package core

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func steps(statuses ...StepStatus) []StepResult {
	out := make([]StepResult, len(statuses))
	for i, s := range statuses {
		out[i] = StepResult{Index: i, Status: s}
	}
	return out
}

func TestFlowResult_ComputeSummary(t *testing.T) {
	f := &FlowResult{
		Steps: steps(StatusPassed, StatusPassed, StatusFailed, StatusSkipped, StatusWarned, StatusErrored),
	}
	// A retry whose second attempt passed, holding a nested runFlow.
	f.Steps[1].SubSteps = []StepResult{
		{Command: "assertTrue", Status: StatusFailed},
		{Command: "runFlow", Status: StatusPassed, SubSteps: steps(StatusPassed, StatusPassed)},
	}
	f.ComputeSummary()

	got := [6]int{f.TotalSteps, f.PassedSteps, f.FailedSteps, f.SkippedSteps, f.WarnedSteps, f.NestedSteps}
	want := [6]int{6, 2, 2, 1, 1, 4}
	if got != want {
		t.Errorf("total/passed/failed/skipped/warned/nested = %v, want %v", got, want)
	}

	f.Steps = nil
	f.ComputeSummary()
	if f.TotalSteps != 0 || f.NestedSteps != 0 {
		t.Errorf("empty flow counted %d steps, %d nested", f.TotalSteps, f.NestedSteps)
	}
}

func TestFlowResult_AggregateStatus(t *testing.T) {
	failedRetryAttempt := StepResult{Command: "retry", Status: StatusPassed, SubSteps: steps(StatusFailed, StatusPassed)}

	tests := []struct {
		name string
		flow FlowResult
		want StepStatus
	}{
		{"all passed", FlowResult{Steps: steps(StatusPassed, StatusPassed)}, StatusPassed},
		{"optional step failed", FlowResult{Steps: steps(StatusPassed, StatusWarned)}, StatusWarned},
		{"failed then skipped", FlowResult{Steps: steps(StatusPassed, StatusFailed, StatusSkipped)}, StatusFailed},
		{"errored", FlowResult{Steps: steps(StatusErrored)}, StatusFailed},
		{"onFlowStart failed", FlowResult{OnFlowStart: steps(StatusFailed), Steps: steps(StatusPassed)}, StatusFailed},
		{"onFlowComplete errored", FlowResult{Steps: steps(StatusPassed), OnFlowComplete: steps(StatusErrored)}, StatusFailed},
		{"warned hook only", FlowResult{Steps: steps(StatusPassed), OnFlowComplete: steps(StatusWarned)}, StatusPassed},
		{"retry recovered", FlowResult{Steps: []StepResult{failedRetryAttempt}}, StatusPassed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.flow.AggregateStatus(); got != tt.want {
				t.Errorf("AggregateStatus() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStepResult_Cause(t *testing.T) {
	inner := StepResult{Command: "invoke", Status: StatusFailed, Error: "Save is not in any menu"}
	runFlow := StepResult{Command: "runFlow", Status: StatusFailed, SubSteps: []StepResult{
		{Command: "selectNode", Status: StatusPassed},
		inner,
	}}
	retry := StepResult{Command: "retry", Status: StatusFailed, SubSteps: []StepResult{
		{Command: "assertTrue", Status: StatusFailed, Error: "first attempt"},
		runFlow,
	}}

	if got := retry.Cause(); got.Command != "invoke" || got.Error != inner.Error {
		t.Errorf("Cause() = %s %q, want the invoke of the last attempt", got.Command, got.Error)
	}

	plain := StepResult{Command: "assertFile", Status: StatusFailed}
	if got := plain.Cause(); got != &plain {
		t.Errorf("Cause() of a step without sub-steps = %+v, want itself", got)
	}
}

func TestFlowResult_Walk(t *testing.T) {
	f := &FlowResult{
		OnFlowStart: []StepResult{{Command: "launchApp"}},
		Steps: []StepResult{
			{Command: "repeat", SubSteps: []StepResult{
				{Command: "invoke"},
				{Command: "runFlow", SubSteps: []StepResult{{Command: "inputText"}}},
			}},
			{Command: "assertFile"},
		},
		OnFlowComplete: []StepResult{{Command: "closeApp"}},
	}

	var visited []string
	err := f.Walk(func(s *StepResult, depth int) error {
		visited = append(visited, strings.Repeat(">", depth)+s.Command)
		s.Message = "seen"
		return nil
	})
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	want := []string{"launchApp", "repeat", ">invoke", ">runFlow", ">>inputText", "assertFile", "closeApp"}
	if !reflect.DeepEqual(visited, want) {
		t.Errorf("visited %q, want %q", visited, want)
	}
	if f.Steps[0].SubSteps[1].SubSteps[0].Message != "seen" {
		t.Error("Walk() did not hand out pointers into the result")
	}

	stop := errors.New("stop")
	var n int
	err = f.Walk(func(*StepResult, int) error {
		n++
		if n == 3 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) || n != 3 {
		t.Errorf("Walk() = %v after %d steps, want stop after 3", err, n)
	}
}

func TestFlowResult_AppJSON(t *testing.T) {
	f := FlowResult{
		Name: "save new document",
		App: &AppInfo{
			Path:      "xmleditor.exe",
			PID:       4242,
			Title:     "Untitled - XML Editor",
			Backend:   "sim",
			SessionID: "6f1c1b8e-0f5a-4d7c-9a34-1f4a3c2b8d10",
		},
		Steps: []StepResult{{Command: "launchApp", Status: StatusPassed, Data: &AppInfo{Path: "xmleditor.exe", Backend: "sim"}}},
	}
	data, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	out := string(data)
	for _, want := range []string{
		`"app":{"path":"xmleditor.exe","pid":4242,"title":"Untitled - XML Editor","backend":"sim","sessionId":"6f1c1b8e-0f5a-4d7c-9a34-1f4a3c2b8d10"}`,
		`"data":{"path":"xmleditor.exe","backend":"sim"}`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("json = %s, want it to contain %s", out, want)
		}
	}
	if strings.Contains(out, "subSteps") || strings.Contains(out, "nestedSteps") {
		t.Errorf("json = %s, want empty sub-steps omitted", out)
	}

	f.App = nil
	data, _ = json.Marshal(f)
	if strings.Contains(string(data), `"app"`) {
		t.Errorf("flow without a launch serialized an app: %s", data)
	}
}

func TestSuiteResult_ComputeSummary(t *testing.T) {
	s := &SuiteResult{Flows: []FlowResult{
		{Status: StatusPassed}, {Status: StatusPassed}, {Status: StatusFailed},
		{Status: StatusWarned}, {Status: StatusSkipped}, {Status: StatusErrored},
	}}
	s.ComputeSummary()

	got := [4]int{s.TotalFlows, s.PassedFlows, s.FailedFlows, s.SkippedFlows}
	if want := [4]int{6, 3, 2, 1}; got != want {
		t.Errorf("total/passed/failed/skipped = %v, want %v", got, want)
	}
}

func TestSuiteResult_Success(t *testing.T) {
	tests := []struct {
		name  string
		flows []FlowResult
		want  bool
	}{
		{"all passed", []FlowResult{{Status: StatusPassed}, {Status: StatusPassed}}, true},
		{"passed and warned", []FlowResult{{Status: StatusPassed}, {Status: StatusWarned}}, true},
		{"one failed", []FlowResult{{Status: StatusPassed}, {Status: StatusFailed}}, false},
		{"cancelled flow", []FlowResult{{Status: StatusPassed}, {Status: StatusSkipped}}, false},
		{"empty suite", []FlowResult{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &SuiteResult{Flows: tt.flows}
			if got := s.Success(); got != tt.want {
				t.Errorf("Success() = %v, want %v", got, tt.want)
			}
		})
	}
}
