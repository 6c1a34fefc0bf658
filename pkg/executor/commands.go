package executor

import (
	"errors"
	"strconv"
	"strings"

	"github.com/devicelab-dev/desk-runner/pkg/core"
	"github.com/devicelab-dev/desk-runner/pkg/element"
	"github.com/devicelab-dev/desk-runner/pkg/flow"
	"github.com/devicelab-dev/desk-runner/pkg/logger"
	"github.com/devicelab-dev/desk-runner/pkg/poll"
	"github.com/devicelab-dev/desk-runner/pkg/window"
)

// executeCommand runs a step that drives the application. step has already
// had its variables expanded.
func (fr *FlowRunner) executeCommand(step flow.Step) *core.CommandResult {
	switch s := step.(type) {
	// App lifecycle
	case *flow.LaunchAppStep:
		return fr.launchApp(s)
	case *flow.CloseAppStep:
		return fr.closeApp(s)

	// Menus and toolbars
	case *flow.InvokeStep:
		return fr.invoke(s.Command, s.Async)
	case *flow.InvokeAsyncStep:
		return fr.invoke(s.Command, true)

	// Windows
	case *flow.WaitForPopupStep:
		return fr.waitForPopup(s)
	case *flow.DismissPopupStep:
		return fr.dismissPopup(s)
	case *flow.WaitForIdleStep:
		return fr.waitForIdle()

	// Keyboard
	case *flow.InputTextStep:
		return fr.sendKeys(window.EscapeKeys(s.Text), "Typed %q", s.Text)
	case *flow.PressKeyStep:
		return fr.sendKeys(s.Key, "Pressed %s", s.Key)

	// Elements
	case *flow.SelectNodeStep:
		return fr.selectNode(s)
	case *flow.AssertValueStep:
		return fr.assertValue(s)
	case *flow.SetValueStep:
		return fr.setValue(s)
	case *flow.SetCheckedStep:
		return fr.setChecked(s)
	case *flow.DragNodeStep:
		return fr.dragNode(s)
	case *flow.AssertIndexStep:
		return fr.assertIndex(s)

	// Files and clipboard
	case *flow.AssertFileStep:
		return fr.assertFile(s)
	case *flow.SetClipboardStep:
		return fr.setClipboard(s)
	case *flow.AssertClipboardStep:
		return fr.assertClipboard(s)
	}
	return core.Failed(core.ErrUnsupportedOperation.Withf("no handler for %s", step.Type()), "Unsupported step")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (fr *FlowRunner) launchApp(s *flow.LaunchAppStep) *core.CommandResult {
	path := firstNonEmpty(s.App, fr.flow.Config.App, fr.config.App)
	if path == "" {
		return core.Failed(core.ErrMissingRequired.Withf("launchApp: no application; set app in the step, the flow header or the config"), "No application to launch")
	}
	args := s.Args
	if len(args) == 0 && s.App == "" {
		args = fr.flow.Config.Args
		if len(args) == 0 {
			args = fr.config.Args
		}
	}

	if fr.app != nil {
		logger.Info("closing %s before launching %s", fr.app, path)
		fr.teardown()
	}

	sess, err := window.Launch(fr.desk, fr.config.Timing, path, args...)
	if err != nil {
		return core.Failed(err, "Failed to launch %s", path)
	}
	fr.app, fr.active = sess, sess

	info := &core.AppInfo{Path: path, Args: args, Backend: fr.config.Backend, SessionID: sess.ID}
	info.Title, _ = sess.Title()
	if p := sess.Process(); p != nil {
		info.PID = p.PID()
	}
	fr.appInfo = info

	result := core.Passed("Launched %s (pid %d)", path, info.PID)
	result.Data = info
	return result
}

// closeApp asks the main window to close, answers a save prompt if one
// appears and waits for the process to exit.
func (fr *FlowRunner) closeApp(s *flow.CloseAppStep) *core.CommandResult {
	app := fr.app
	if app == nil {
		return core.Failed(core.ErrMissingRequired.Withf("closeApp: no application is running"), "Nothing to close")
	}
	answer := firstNonEmpty(s.Answer, "n")

	app.MarkClosing()
	if err := fr.desk.Windows.CloseWindow(app.Handle()); err != nil {
		logger.Debug("close %s: %v", app, err)
	}
	if p := app.Process(); p == nil || !p.Exited() {
		box, err := app.TryWaitForMessageBox()
		if err != nil {
			return core.Failed(err, "Waiting for the close prompt failed")
		}
		if box != nil {
			logger.Info("answering close prompt %s with %q", box, answer)
			if err := box.Dismiss(answer); err != nil {
				return core.Failed(err, "Close prompt did not accept %q", answer)
			}
		}
	}

	err := app.Close()
	fr.app, fr.active = nil, nil
	if err != nil {
		return core.Failed(err, "Application did not close")
	}
	return core.Passed("Closed %s", fr.appPath())
}

func (fr *FlowRunner) appPath() string {
	if fr.appInfo == nil {
		return "application"
	}
	return fr.appInfo.Path
}

func (fr *FlowRunner) invoke(command string, async bool) *core.CommandResult {
	sess, err := fr.session()
	if err != nil {
		return core.Failed(err, "No window to invoke %s in", command)
	}
	if async {
		if err := sess.InvokeMenuItemAsync(command); err != nil {
			return core.Failed(err, "Failed to invoke %s", command)
		}
		return core.Passed("Invoked %s (async)", command)
	}
	if err := sess.InvokeMenuItem(command); err != nil {
		return core.Failed(err, "Failed to invoke %s", command)
	}
	return core.Passed("Invoked %s", command)
}

// waitForPopup makes the detected popup the active session. An optional
// wait uses the message box variant and passes when nothing appears.
func (fr *FlowRunner) waitForPopup(s *flow.WaitForPopupStep) *core.CommandResult {
	sess, err := fr.session()
	if err != nil {
		return core.Failed(err, "No window to wait on")
	}

	var popup *window.Session
	switch {
	case s.IsOptional():
		popup, err = sess.TryWaitForMessageBox()
		if err == nil && popup == nil {
			return core.Passed("No popup appeared")
		}
	case s.Title != "":
		popup, err = sess.ExpectingPopup(s.Title)
	default:
		popup, err = sess.WaitForPopup()
	}
	if err != nil {
		return core.Failed(err, "No popup appeared")
	}

	title, _ := popup.Title()
	if s.Title != "" && !strings.EqualFold(title, s.Title) {
		return core.Failed(core.ErrPopupNotFound.Withf("%s: popup %q appeared, expected %q", sess, title, s.Title), "Wrong popup")
	}
	fr.active = popup
	result := core.Passed("Popup %q is active", title)
	result.Data = title
	return result
}

func (fr *FlowRunner) dismissPopup(s *flow.DismissPopupStep) *core.CommandResult {
	sess, err := fr.session()
	if err != nil {
		return core.Failed(err, "No popup to dismiss")
	}
	if sess.Owner() == nil {
		return core.Failed(core.ErrPopupNotFound.Withf("dismissPopup: %s is not a popup; wait for one first", sess), "No popup to dismiss")
	}
	keys := firstNonEmpty(s.Keys, window.KeyEscape)
	if err := sess.Dismiss(keys); err != nil {
		return core.Failed(err, "Popup did not close after %s", keys)
	}
	fr.active = sess.Owner()
	return core.Passed("Dismissed popup with %s", keys)
}

func (fr *FlowRunner) waitForIdle() *core.CommandResult {
	sess, err := fr.session()
	if err != nil {
		return core.Failed(err, "No window to wait on")
	}
	if err := sess.WaitForIdle(); err != nil {
		return core.Failed(err, "Application did not go idle")
	}
	return core.Passed("Application is idle")
}

func (fr *FlowRunner) sendKeys(keys, format string, arg string) *core.CommandResult {
	sess, err := fr.session()
	if err != nil {
		return core.Failed(err, "No window for keyboard input")
	}
	if err := sess.SendKeys(keys); err != nil {
		return core.Failed(err, "Failed to send %s", keys)
	}
	return core.Passed(format, arg)
}

// found wraps a resolved element into a result.
func found(e *element.Element, format string, args ...interface{}) *core.CommandResult {
	result := core.Passed(format, args...)
	info := e.Info()
	result.Element = &info
	return result
}

func (fr *FlowRunner) selectNode(s *flow.SelectNodeStep) *core.CommandResult {
	e, err := fr.find(s.Selector)
	if err != nil {
		return core.Failed(err, "Node %s not found", s.Selector.DescribeQuoted())
	}
	if err := e.Select(); err != nil {
		return core.Failed(err, "Failed to select %s", s.Selector.DescribeQuoted())
	}
	return found(e, "Selected %s", s.Selector.DescribeQuoted())
}

func (fr *FlowRunner) assertValue(s *flow.AssertValueStep) *core.CommandResult {
	e, err := fr.find(s.Selector)
	if err != nil {
		return core.Failed(err, "Node %s not found", s.Selector.DescribeQuoted())
	}
	got, err := e.Value()
	if err != nil {
		return core.Failed(err, "Failed to read %s", s.Selector.DescribeQuoted())
	}
	data := map[string]string{"expected": s.Value, "actual": got, "mode": e.ValueModeOf().String()}
	if got != s.Value {
		result := core.Failed(core.ErrTextMismatch.Withf("%s has value %q, expected %q", e, got, s.Value), "Value mismatch")
		result.Data = data
		return result
	}
	result := found(e, "%s == %q", s.Selector.DescribeQuoted(), got)
	result.Element.Value = got
	result.Data = data
	return result
}

func (fr *FlowRunner) setValue(s *flow.SetValueStep) *core.CommandResult {
	e, err := fr.find(s.Selector)
	if err != nil {
		return core.Failed(err, "Node %s not found", s.Selector.DescribeQuoted())
	}
	if err := e.SetValue(s.Value); err != nil {
		return core.Failed(err, "Failed to set %s", s.Selector.DescribeQuoted())
	}
	return found(e, "Set %s to %q", s.Selector.DescribeQuoted(), s.Value)
}

// setChecked drives a toggle node or a checkable menu command.
func (fr *FlowRunner) setChecked(s *flow.SetCheckedStep) *core.CommandResult {
	var (
		e    *element.Element
		err  error
		what string
	)
	if s.Command != "" {
		what = s.Command
		var sess *window.Session
		if sess, err = fr.session(); err == nil {
			e, err = sess.ResolveMenuItem(s.Command)
		}
	} else {
		what = s.Selector.DescribeQuoted()
		e, err = fr.find(s.Selector)
	}
	if err != nil {
		return core.Failed(err, "Toggle %s not found", what)
	}
	if err := e.SetChecked(s.Checked); err != nil {
		return core.Failed(err, "Failed to set %s to %t", what, s.Checked)
	}
	return found(e, "Set %s to %t", what, s.Checked)
}

func (fr *FlowRunner) dragNode(s *flow.DragNodeStep) *core.CommandResult {
	sess, err := fr.session()
	if err != nil {
		return core.Failed(err, "No window to drag in")
	}
	from, err := fr.find(s.From)
	if err != nil {
		return core.Failed(err, "Drag source %s not found", s.From.DescribeQuoted())
	}
	to, err := fr.find(s.To)
	if err != nil {
		return core.Failed(err, "Drop target %s not found", s.To.DescribeQuoted())
	}
	if err := sess.DragDrop(from, to, s.StepSize); err != nil {
		return core.Failed(err, "Failed to drag %s to %s", s.From.DescribeQuoted(), s.To.DescribeQuoted())
	}
	return found(from, "Dragged %s to %s", s.From.DescribeQuoted(), s.To.DescribeQuoted())
}

// assertIndex checks and/or records a node's position among its siblings.
func (fr *FlowRunner) assertIndex(s *flow.AssertIndexStep) *core.CommandResult {
	e, err := fr.find(s.Selector)
	if err != nil {
		return core.Failed(err, "Node %s not found", s.Selector.DescribeQuoted())
	}
	idx, err := e.IndexInParent()
	if err != nil {
		return core.Failed(err, "Failed to read the position of %s", s.Selector.DescribeQuoted())
	}
	if s.SaveAs != "" {
		fr.script.SetVariable(s.SaveAs, strconv.Itoa(idx))
	}
	if s.Equals != "" {
		want, err := strconv.Atoi(strings.TrimSpace(s.Equals))
		if err != nil {
			return core.Failed(core.ErrInvalidConfig.Withf("assertIndex: %q is not an integer", s.Equals), "Bad expected index")
		}
		if idx != want {
			result := core.Failed(core.ErrConditionNotMet.Withf("%s is at index %d, expected %d", e, idx, want), "Index mismatch")
			result.Data = map[string]int{"expected": want, "actual": idx}
			return result
		}
	}
	result := found(e, "%s is at index %d", s.Selector.DescribeQuoted(), idx)
	result.Data = idx
	return result
}

func (fr *FlowRunner) setClipboard(s *flow.SetClipboardStep) *core.CommandResult {
	if err := fr.desk.Clipboard.SetText(s.Text); err != nil {
		return core.Failed(err, "Failed to write the clipboard")
	}
	return core.Passed("Clipboard set to %q", s.Text)
}

// assertClipboard samples the clipboard until it holds the expected text.
func (fr *FlowRunner) assertClipboard(s *flow.AssertClipboardStep) *core.CommandResult {
	t := fr.config.Timing
	var last string
	err := poll.Until(poll.Every(t.ReadyTick, t.ReadyRetries), func(int) (bool, error) {
		text, err := fr.desk.Clipboard.Text()
		if err != nil {
			logger.Debug("clipboard read: %v", err)
			return false, nil
		}
		last = text
		return text == s.Text, nil
	})
	if errors.Is(err, poll.ErrExhausted) {
		result := core.Failed(core.ErrTextMismatch.Withf("clipboard holds %q, expected %q", last, s.Text), "Clipboard mismatch")
		result.Data = map[string]string{"expected": s.Text, "actual": last}
		return result
	}
	if err != nil {
		return core.Failed(err, "Failed to read the clipboard")
	}
	return core.Passed("Clipboard == %q", s.Text)
}
