package flow

import "testing"

func TestBaseStep(t *testing.T) {
	b := BaseStep{StepType: StepInvoke, Optional: true, StepLabel: "save"}
	if got := b.Type(); got != StepInvoke {
		t.Errorf("Type()=%v, want %v", got, StepInvoke)
	}
	if !b.IsOptional() {
		t.Error("IsOptional()=false, want true")
	}
	if got := b.Label(); got != "save" {
		t.Errorf("Label()=%q, want save", got)
	}
	if got := b.Describe(); got != "invoke" {
		t.Errorf("Describe()=%q, want invoke", got)
	}
}

func TestStep_Describe(t *testing.T) {
	tests := []struct {
		name string
		step Step
		want string
	}{
		{"launchApp bare", &LaunchAppStep{}, "launchApp"},
		{"launchApp app", &LaunchAppStep{App: "xmleditor.exe"}, "launchApp: xmleditor.exe"},
		{"launchApp args", &LaunchAppStep{App: "xmleditor.exe", Args: []string{"a.xml"}}, "launchApp: xmleditor.exe a.xml"},
		{"closeApp", &CloseAppStep{BaseStep: BaseStep{StepType: StepCloseApp}}, "closeApp"},
		{"invoke", &InvokeStep{Command: "File/Save"}, "invoke: File/Save"},
		{"invoke async", &InvokeStep{Command: "Save As", Async: true}, "invoke (async): Save As"},
		{"invokeAsync", &InvokeAsyncStep{Command: "Save As"}, "invokeAsync: Save As"},
		{"waitForPopup any", &WaitForPopupStep{}, "waitForPopup"},
		{"waitForPopup title", &WaitForPopupStep{Title: "Save As"}, `waitForPopup: "Save As"`},
		{"dismissPopup", &DismissPopupStep{Keys: "{ESC}"}, "dismissPopup: {ESC}"},
		{"inputText", &InputTextStep{Text: "Root"}, `inputText: "Root"`},
		{"pressKey", &PressKeyStep{Key: "{ENTER}"}, "pressKey: {ENTER}"},
		{"selectNode", &SelectNodeStep{Selector: Selector{Name: "id"}}, `selectNode: name="id"`},
		{"assertValue", &AssertValueStep{Selector: Selector{Name: "id"}, Value: "1"}, `assertValue: name="id" == "1"`},
		{"setValue", &SetValueStep{Selector: Selector{Name: "id"}, Value: "2"}, `setValue: name="id" = "2"`},
		{"setChecked node", &SetCheckedStep{Selector: Selector{Name: "Wrap"}, Checked: true}, `setChecked: name="Wrap" true`},
		{"setChecked command", &SetCheckedStep{Command: "View/Word Wrap"}, `setChecked: command="View/Word Wrap" false`},
		{"dragNode", &DragNodeStep{From: Selector{Name: "e"}, To: Selector{Name: "b"}}, `dragNode: name="e" -> name="b"`},
		{"assertIndex save", &AssertIndexStep{Selector: Selector{Name: "e"}, SaveAs: "before"}, `assertIndex: name="e" -> before`},
		{"assertIndex equals", &AssertIndexStep{Selector: Selector{Name: "e"}, Equals: "1"}, `assertIndex: name="e" == 1`},
		{"assertFile", &AssertFileStep{Path: "out.xml"}, "assertFile: out.xml"},
		{"assertClipboard", &AssertClipboardStep{Text: "x"}, `assertClipboard: "x"`},
		{"runFlow file", &RunFlowStep{File: "a.yaml"}, "runFlow: a.yaml"},
		{"assertTrue", &AssertTrueStep{Script: "1 === 1"}, "assertTrue: 1 === 1"},
		{"unsupported", &UnsupportedStep{BaseStep: BaseStep{StepType: "tapOn"}, Reason: "unknown step type"}, "tapOn (unsupported: unknown step type)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.step.Describe(); got != tt.want {
				t.Errorf("Describe()=%q, want %q", got, tt.want)
			}
		})
	}
}

func TestRunScriptStep_ScriptPath(t *testing.T) {
	if got := (&RunScriptStep{Script: "a.js"}).ScriptPath(); got != "a.js" {
		t.Errorf("ScriptPath()=%q, want a.js", got)
	}
	if got := (&RunScriptStep{Script: "a.js", File: "b.js"}).ScriptPath(); got != "b.js" {
		t.Errorf("ScriptPath()=%q, want b.js", got)
	}
}

func TestIsCompound(t *testing.T) {
	tests := []struct {
		step Step
		want bool
	}{
		{&RepeatStep{}, true},
		{&RetryStep{}, true},
		{&RunFlowStep{}, true},
		{&InvokeStep{}, false},
		{&DragNodeStep{}, false},
	}
	for _, tt := range tests {
		if got := IsCompound(tt.step); got != tt.want {
			t.Errorf("IsCompound(%T)=%v, want %v", tt.step, got, tt.want)
		}
	}
}
