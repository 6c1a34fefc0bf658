package element

import (
	"errors"

	"github.com/devicelab-dev/desk-runner/pkg/core"
	"github.com/devicelab-dev/desk-runner/pkg/desktop"
	"github.com/devicelab-dev/desk-runner/pkg/poll"
)

// toggleCycle is the number of distinct toggle states; after that many
// toggles a working control is back where it started.
const toggleCycle = 3

// ToggleState returns the tri-state check value.
func (e *Element) ToggleState() (desktop.ToggleState, error) {
	tg, err := capability[desktop.Toggler](e, desktop.CapToggle)
	if err != nil {
		return desktop.ToggleOff, err
	}
	s, err := tg.ToggleState()
	if err != nil {
		return desktop.ToggleOff, e.fail("read toggle state", err)
	}
	return s, nil
}

// IsChecked reports whether the toggle is on.
func (e *Element) IsChecked() (bool, error) {
	s, err := e.ToggleState()
	return s == desktop.ToggleOn, err
}

// SetChecked toggles until the control is on (checked) or off. A control
// that comes back to its starting state without passing through the target
// is reported as stuck.
func (e *Element) SetChecked(checked bool) error {
	tg, err := capability[desktop.Toggler](e, desktop.CapToggle)
	if err != nil {
		return err
	}
	target := desktop.ToggleOff
	if checked {
		target = desktop.ToggleOn
	}
	start, err := tg.ToggleState()
	if err != nil {
		return e.fail("read toggle state", err)
	}
	if start == target {
		return nil
	}

	err = poll.Until(poll.Every(e.env.ToggleDelay, toggleCycle), func(int) (bool, error) {
		if err := tg.Toggle(); err != nil {
			return false, e.fail("toggle", err)
		}
		s, err := tg.ToggleState()
		if err != nil {
			return false, e.fail("read toggle state", err)
		}
		if s == target {
			return true, nil
		}
		if s == start {
			return false, core.ErrStuckToggle.Withf("%s: toggling from %s came back to %s without reaching %s", e, start, s, target)
		}
		return false, nil
	})
	if errors.Is(err, poll.ErrExhausted) {
		return core.ErrStuckToggle.Withf("%s: %d toggles from %s never reached %s", e, toggleCycle, start, target)
	}
	return err
}
