package window

import (
	"errors"
	"fmt"
	"strings"

	"github.com/devicelab-dev/desk-runner/pkg/core"
	"github.com/devicelab-dev/desk-runner/pkg/poll"
)

// Named keys in the key sequence notation.
const (
	KeyEnter  = "{ENTER}"
	KeyEscape = "{ESC}"
	KeyTab    = "{TAB}"
	KeyDelete = "{DEL}"
	KeyUp     = "{UP}"
	KeyDown   = "{DOWN}"
)

const specialKeys = "^%+~(){}"

// EscapeKeys quotes text so every rune is sent literally.
func EscapeKeys(text string) string {
	var b strings.Builder
	for _, r := range text {
		if strings.ContainsRune(specialKeys, r) {
			b.WriteByte('{')
			b.WriteRune(r)
			b.WriteByte('}')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// focus makes the window the foreground window and confirms it took.
func (s *Session) focus() error {
	wm := s.d.Windows
	if wm.ForegroundWindow() == s.hwnd {
		return nil
	}
	if err := wm.SetForeground(s.hwnd); err != nil {
		return fmt.Errorf("%s: set foreground: %w", s, err)
	}
	err := poll.Until(poll.Every(s.cfg.FocusTick, s.cfg.FocusRetries), func(int) (bool, error) {
		return wm.ForegroundWindow() == s.hwnd, nil
	})
	if errors.Is(err, poll.ErrExhausted) {
		return core.ErrFocusMismatch.Withf("%s: foreground is %#x after %d samples", s, wm.ForegroundWindow(), s.cfg.FocusRetries)
	}
	return err
}

// SendKeys sends a key sequence after confirming the window has focus.
func (s *Session) SendKeys(keys string) error {
	if err := s.check(); err != nil {
		return err
	}
	if err := s.focus(); err != nil {
		return err
	}
	if err := s.d.Keys.SendKeys(keys); err != nil {
		return fmt.Errorf("%s: send %q: %w", s, keys, err)
	}
	return nil
}

// TypeText sends text literally.
func (s *Session) TypeText(text string) error {
	return s.SendKeys(EscapeKeys(text))
}
