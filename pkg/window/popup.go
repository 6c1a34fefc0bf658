package window

import (
	"errors"
	"fmt"
	"strings"

	"github.com/devicelab-dev/desk-runner/pkg/core"
	"github.com/devicelab-dev/desk-runner/pkg/desktop"
	"github.com/devicelab-dev/desk-runner/pkg/logger"
	"github.com/devicelab-dev/desk-runner/pkg/poll"
)

// WaitForPopup waits for a new window raised by this one and returns a
// session for it.
func (s *Session) WaitForPopup() (*Session, error) {
	return s.WaitForPopupExcluding(0)
}

// WaitForPopupExcluding is WaitForPopup ignoring one known window, such as
// a popup that is already open.
func (s *Session) WaitForPopupExcluding(exclude desktop.WindowHandle) (*Session, error) {
	h, err := s.detectPopup(map[desktop.WindowHandle]bool{exclude: true})
	if err != nil {
		return nil, err
	}
	return s.popup(h), nil
}

// TryWaitForMessageBox is WaitForPopup for dialogs that may legitimately
// not appear: it returns (nil, nil) when the budget runs out.
func (s *Session) TryWaitForMessageBox() (*Session, error) {
	p, err := s.WaitForPopup()
	if errors.Is(err, core.ErrPopupNotFound) {
		logger.Debug("%s: no message box appeared", s)
		return nil, nil
	}
	return p, err
}

// ExpectingPopup waits for a popup titled title. Windows with another title
// are closed and detection starts again, up to ExpectPopupAttempts times.
// A window is asked to close once; if it stays open it is skipped from then on.
func (s *Session) ExpectingPopup(title string) (*Session, error) {
	attempts := max(1, s.cfg.ExpectPopupAttempts)
	var (
		exclude = make(map[desktop.WindowHandle]bool)
		seen    []string
	)
	for i := 0; i < attempts; i++ {
		h, err := s.detectPopup(exclude)
		if err != nil {
			if len(seen) > 0 && errors.Is(err, core.ErrPopupNotFound) {
				return nil, core.ErrPopupNotFound.Withf("%s: popup %q did not appear (closed %s)", s, title, strings.Join(seen, ", "))
			}
			return nil, err
		}
		got, err := s.d.Windows.WindowTitle(h)
		if err == nil && strings.EqualFold(got, title) {
			return s.popup(h), nil
		}
		logger.Warn("%s: expected popup %q, got %#x %q; closing it", s, title, h, got)
		seen = append(seen, fmt.Sprintf("%q", got))
		if err := s.d.Windows.CloseWindow(h); err != nil {
			logger.Debug("close %#x: %v", h, err)
		}
		exclude[h] = true
	}
	return nil, core.ErrPopupNotFound.Withf("%s: popup %q did not appear after %d detections (closed %s)", s, title, attempts, strings.Join(seen, ", "))
}

func (s *Session) popup(h desktop.WindowHandle) *Session {
	p := newSession(s.d, s.cfg, h, nil, s)
	logger.Debug("%s: popup %s detected", s, p)
	return p
}

// candidate applies one sample of the detection rule: the anchor's last
// active popup first, then the foreground window.
func (s *Session) candidate(exclude map[desktop.WindowHandle]bool) desktop.WindowHandle {
	wm := s.d.Windows
	if p := wm.LastActivePopup(s.hwnd); p != 0 && p != s.hwnd && !exclude[p] {
		return p
	}
	if f := wm.ForegroundWindow(); f != 0 && f != s.hwnd && !exclude[f] {
		return f
	}
	return 0
}

// detectPopup samples for a new window with real bounds, then waits for it
// to become ready. PopupRetries samples are taken before giving up.
func (s *Session) detectPopup(exclude map[desktop.WindowHandle]bool) (desktop.WindowHandle, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	h, err := poll.Observe(poll.Every(s.cfg.PopupTick, s.cfg.PopupRetries), func(attempt int) (desktop.WindowHandle, bool, error) {
		if err := s.check(); err != nil {
			return 0, false, err
		}
		c := s.candidate(exclude)
		if c == 0 {
			return 0, false, nil
		}
		b, err := s.d.Windows.WindowBounds(c)
		if err != nil {
			logger.Debug("popup sample %d: %#x gone: %v", attempt, c, err)
			return 0, false, nil
		}
		if b.IsDegenerate() {
			logger.Debug("popup sample %d: %#x has degenerate bounds %v", attempt, c, b)
			return 0, false, nil
		}
		return c, true, nil
	})
	if errors.Is(err, poll.ErrExhausted) {
		return 0, core.ErrPopupNotFound.Withf("%s: no popup appeared after %d samples every %s", s, s.cfg.PopupRetries, s.cfg.PopupTick)
	}
	if err != nil {
		return 0, err
	}
	if err := s.waitReady(h); err != nil {
		return 0, err
	}
	return h, nil
}

// DismissPopup sends keys to the foreground window and waits until it has
// gone: either this window's last active popup is itself again or the
// foreground moved off the window the keys went to.
func (s *Session) DismissPopup(keys string) error {
	if err := s.check(); err != nil {
		return err
	}
	wm := s.d.Windows
	target := wm.ForegroundWindow()
	title, _ := wm.WindowTitle(target)
	if err := s.d.Keys.SendKeys(keys); err != nil {
		return fmt.Errorf("dismiss %#x %q: send %q: %w", target, title, keys, err)
	}

	err := poll.Until(poll.Every(s.cfg.DismissTick, s.cfg.DismissRetries), func(int) (bool, error) {
		if wm.LastActivePopup(s.hwnd) == s.hwnd {
			return true, nil
		}
		return wm.ForegroundWindow() != target, nil
	})
	if errors.Is(err, poll.ErrExhausted) {
		return core.ErrPopupNotDismissing.Withf("%s: popup %#x %q still open %d samples after %q", s, target, title, s.cfg.DismissRetries, keys)
	}
	return err
}

// Dismiss brings this popup to the foreground and dismisses it with keys.
func (s *Session) Dismiss(keys string) error {
	if s.owner == nil {
		return fmt.Errorf("%s is not a popup", s)
	}
	if err := s.focus(); err != nil {
		return err
	}
	s.MarkDone()
	return s.owner.DismissPopup(keys)
}

// MarkDone stops the popup's bookkeeping once it is expected to close.
func (s *Session) MarkDone() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.stopOnce.Do(func() { close(s.stop) })
}
