package element

import (
	"fmt"

	"github.com/devicelab-dev/desk-runner/pkg/core"
	"github.com/devicelab-dev/desk-runner/pkg/desktop"
	"github.com/devicelab-dev/desk-runner/pkg/poll"
)

// Keys driven by the keyboard value fallback.
const (
	KeyEditEnter = "{ENTER}"
	KeyEditExit  = "{ENTER}"
	KeySelectAll = "^a"
	KeyCopy      = "^c"
	KeyPaste     = "^v"
)

// ValueMode says how an element's text value is reached.
type ValueMode int

const (
	// ValueDirect uses the node's value capability.
	ValueDirect ValueMode = iota
	// ValueKeyboard enters edit mode and moves text through the clipboard.
	// It depends on settle delays rather than confirmed state, and is used
	// only for nodes (typically list and tree items) without a value
	// capability.
	ValueKeyboard
)

func (m ValueMode) String() string {
	if m == ValueDirect {
		return "direct"
	}
	return "keyboard"
}

// ValueModeOf probes which mode e gets right now.
func (e *Element) ValueModeOf() ValueMode {
	if e.node.Supports(desktop.CapValue) {
		return ValueDirect
	}
	return ValueKeyboard
}

type valueAccess interface {
	get(e *Element) (string, error)
	set(e *Element, v string) error
}

type directValue struct {
	p desktop.ValueProvider
}

func (d directValue) get(e *Element) (string, error) {
	v, err := d.p.Value()
	if err != nil {
		return "", e.fail("read value", err)
	}
	return v, nil
}

func (d directValue) set(e *Element, v string) error {
	if err := d.p.SetValue(v); err != nil {
		return e.fail("write value", err)
	}
	return nil
}

type keyboardValue struct {
	env *Env
}

// foreground fails unless the window hosting e is the foreground window.
// Keys go to the foreground window, not to e.
func (k keyboardValue) foreground(e *Element) error {
	if k.env.Windows == nil {
		return nil
	}
	h, err := e.NativeWindow()
	if err != nil {
		return err
	}
	if fg := k.env.Windows.ForegroundWindow(); h != 0 && fg != h {
		return core.ErrFocusMismatch.Withf("%s: hosted by %#x but foreground is %#x", e, h, fg)
	}
	return nil
}

func (k keyboardValue) keys(e *Element, seqs ...string) error {
	for _, s := range seqs {
		if err := k.foreground(e); err != nil {
			return err
		}
		if err := k.env.Keys.SendKeys(s); err != nil {
			return fmt.Errorf("send %q to %s: %w", s, e, err)
		}
		poll.Settle(k.env.Settle)
	}
	return nil
}

func (k keyboardValue) get(e *Element) (string, error) {
	if err := e.Focus(); err != nil {
		return "", err
	}
	if err := k.keys(e, KeyEditEnter, KeySelectAll, KeyCopy); err != nil {
		return "", err
	}
	v, err := k.env.Clipboard.Text()
	if err != nil {
		return "", fmt.Errorf("read clipboard for %s: %w", e, err)
	}
	if err := k.keys(e, KeyEditExit); err != nil {
		return "", err
	}
	return v, nil
}

func (k keyboardValue) set(e *Element, v string) error {
	if err := e.Focus(); err != nil {
		return err
	}
	if err := k.keys(e, KeyEditEnter); err != nil {
		return err
	}
	if err := k.env.Clipboard.SetText(v); err != nil {
		return fmt.Errorf("seed clipboard for %s: %w", e, err)
	}
	poll.Settle(k.env.Settle)
	return k.keys(e, KeySelectAll, KeyPaste, KeyEditExit)
}

func (e *Element) valueAccess() (valueAccess, error) {
	if e.ValueModeOf() == ValueDirect {
		p, err := capability[desktop.ValueProvider](e, desktop.CapValue)
		if err != nil {
			return nil, err
		}
		return directValue{p: p}, nil
	}
	return keyboardValue{env: e.env}, nil
}

// Value reads the element's text value.
func (e *Element) Value() (string, error) {
	va, err := e.valueAccess()
	if err != nil {
		return "", err
	}
	return va.get(e)
}

// SetValue replaces the element's text value.
func (e *Element) SetValue(v string) error {
	va, err := e.valueAccess()
	if err != nil {
		return err
	}
	return va.set(e, v)
}
