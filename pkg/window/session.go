// Package window owns the lifecycle of one top-level application window:
// launch and attach, idle waits, focus-checked keystrokes, the popup
// detection protocol and the menu/toolbar discovery cache.
//
// A Session is driven from one goroutine. The only background work is the
// process exit watcher and InvokeMenuItemAsync; errors from either are
// returned by the next session call.
package window

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/devicelab-dev/desk-runner/pkg/core"
	"github.com/devicelab-dev/desk-runner/pkg/desktop"
	"github.com/devicelab-dev/desk-runner/pkg/element"
	"github.com/devicelab-dev/desk-runner/pkg/input"
	"github.com/devicelab-dev/desk-runner/pkg/logger"
	"github.com/devicelab-dev/desk-runner/pkg/poll"
)

// Session is one top-level window under test.
type Session struct {
	ID string

	d     *desktop.Desktop
	cfg   Config
	env   *element.Env
	mouse *input.Mouse

	hwnd  desktop.WindowHandle
	proc  desktop.Process // nil for windows that did not spawn a process
	owner *Session

	menus *menuCache

	mu       sync.Mutex
	closing  bool
	exitErr  error
	asyncErr error
	stop     chan struct{}
	stopOnce sync.Once
}

func newSession(d *desktop.Desktop, cfg Config, h desktop.WindowHandle, proc desktop.Process, owner *Session) *Session {
	s := &Session{
		ID:    uuid.NewString(),
		d:     d,
		cfg:   cfg,
		hwnd:  h,
		proc:  proc,
		owner: owner,
		stop:  make(chan struct{}),
	}
	if owner != nil {
		s.env, s.mouse = owner.env, owner.mouse
	} else {
		s.env = element.NewEnv(d)
		if cfg.ValueSettle > 0 {
			s.env.Settle = cfg.ValueSettle
		}
		s.mouse = input.New(d.Input)
	}
	if proc != nil {
		go s.watch()
	}
	return s
}

// Launch starts the application at path and attaches to its main window
// once it has appeared and is ready for input.
func Launch(d *desktop.Desktop, cfg Config, path string, args ...string) (*Session, error) {
	proc, err := d.Launcher.Launch(path, args...)
	if err != nil {
		return nil, fmt.Errorf("launch %s: %w", path, err)
	}

	h, err := poll.Observe(poll.Every(cfg.LaunchTick, cfg.LaunchRetries), func(int) (desktop.WindowHandle, bool, error) {
		if proc.Exited() {
			return 0, false, core.ErrUnexpectedProcessExit.Withf("%s exited with code %d before showing a window", path, proc.ExitCode())
		}
		h := proc.MainWindow()
		return h, h != 0, nil
	})
	if errors.Is(err, poll.ErrExhausted) {
		_ = proc.Kill()
		return nil, core.ErrWaitTimeout.Withf("%s (pid %d) showed no main window after %d samples", path, proc.PID(), cfg.LaunchRetries)
	}
	if err != nil {
		return nil, err
	}

	s := newSession(d, cfg, h, proc, nil)
	if err := s.waitReady(h); err != nil {
		_ = s.Close()
		return nil, err
	}
	logger.Info("launched %s pid=%d window=%#x session=%s", path, proc.PID(), h, s.ID)
	return s, nil
}

// Attach wraps an existing window. proc may be nil.
func Attach(d *desktop.Desktop, cfg Config, h desktop.WindowHandle, proc desktop.Process) *Session {
	return newSession(d, cfg, h, proc, nil)
}

func (s *Session) String() string {
	title, err := s.d.Windows.WindowTitle(s.hwnd)
	if err != nil {
		return fmt.Sprintf("window %#x", s.hwnd)
	}
	return fmt.Sprintf("window %#x %q", s.hwnd, title)
}

// Handle returns the native window handle.
func (s *Session) Handle() desktop.WindowHandle { return s.hwnd }

// Process returns the owning process, or nil.
func (s *Session) Process() desktop.Process { return s.proc }

// Owner returns the session a popup was detected from, or nil.
func (s *Session) Owner() *Session { return s.owner }

// Env returns the element environment shared by the session's elements.
func (s *Session) Env() *element.Env { return s.env }

// Mouse returns the pointer engine.
func (s *Session) Mouse() *input.Mouse { return s.mouse }

// Config returns the session's wait budgets.
func (s *Session) Config() Config { return s.cfg }

// Title returns the window title.
func (s *Session) Title() (string, error) {
	if err := s.check(); err != nil {
		return "", err
	}
	return s.d.Windows.WindowTitle(s.hwnd)
}

// Root returns the accessibility root of the window.
func (s *Session) Root() (*element.Element, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.env.FromWindow(s.hwnd)
}

// Find returns the first descendant of the window named name.
func (s *Session) Find(name string) (*element.Element, error) {
	root, err := s.Root()
	if err != nil {
		return nil, err
	}
	return root.FindDescendantByName(name)
}

// watch turns the process exit notification into a session error unless
// the session is closing.
func (s *Session) watch() {
	select {
	case <-s.proc.Done():
	case <-s.stop:
		return
	}
	s.noteExit()
}

// noteExit records the unexpected exit of s.proc once. A closing session
// records nothing.
func (s *Session) noteExit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing || s.exitErr != nil {
		return
	}
	s.exitErr = core.ErrUnexpectedProcessExit.Withf("window %#x: process %d exited with code %d", s.hwnd, s.proc.PID(), s.proc.ExitCode())
	logger.Error("%v", s.exitErr)
}

// check returns a pending background error of this session or its owners.
// An exited process is noticed here even before the watcher runs.
func (s *Session) check() error {
	for cur := s; cur != nil; cur = cur.owner {
		if cur.proc != nil && cur.proc.Exited() {
			cur.noteExit()
		}
		cur.mu.Lock()
		err := cur.exitErr
		if err == nil && cur.asyncErr != nil {
			err, cur.asyncErr = cur.asyncErr, nil
		}
		cur.mu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) setAsyncErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.asyncErr == nil {
		s.asyncErr = err
	}
}

// process returns the process that owns the window, looking through owners
// for popups.
func (s *Session) process() desktop.Process {
	for cur := s; cur != nil; cur = cur.owner {
		if cur.proc != nil {
			return cur.proc
		}
	}
	return nil
}

// MarkClosing records that the process is about to exit on purpose.
func (s *Session) MarkClosing() {
	for cur := s; cur != nil; cur = cur.owner {
		cur.mu.Lock()
		cur.closing = true
		cur.mu.Unlock()
	}
}

// Closing reports whether MarkClosing or Close ran.
func (s *Session) Closing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// WaitForIdle blocks until the target can take input. With a process this
// is the process's own input-idle wait; otherwise the window's interaction
// state is sampled.
func (s *Session) WaitForIdle() error {
	if err := s.check(); err != nil {
		return err
	}
	if p := s.process(); p != nil {
		if p.Exited() {
			// check found no error: the exit was requested
			return nil
		}
		if !p.WaitForInputIdle(s.cfg.IdleTimeout) {
			return core.ErrProcessNotResponding.Withf("%s: process %d not idle after %s", s, p.PID(), s.cfg.IdleTimeout)
		}
		return nil
	}

	var last desktop.InteractionState
	err := poll.Until(poll.Every(s.cfg.IdleTick, s.cfg.IdleRetries), func(int) (bool, error) {
		st, err := s.d.Windows.InteractionState(s.hwnd)
		if err != nil {
			return false, fmt.Errorf("%s: read interaction state: %w", s, err)
		}
		last = st
		return st == desktop.StateReadyForUserInteraction || st == desktop.StateBlockedByModalWindow, nil
	})
	if errors.Is(err, poll.ErrExhausted) {
		return core.ErrProcessNotResponding.Withf("%s: still %s after %d samples", s, last, s.cfg.IdleRetries)
	}
	return err
}

// waitReady samples h until it reports it is ready for user interaction.
func (s *Session) waitReady(h desktop.WindowHandle) error {
	var last desktop.InteractionState
	err := poll.Until(poll.Every(s.cfg.ReadyTick, s.cfg.ReadyRetries), func(int) (bool, error) {
		st, err := s.d.Windows.InteractionState(h)
		if err != nil {
			return false, nil
		}
		last = st
		return st == desktop.StateReadyForUserInteraction, nil
	})
	if errors.Is(err, poll.ErrExhausted) {
		return core.ErrWaitTimeout.Withf("window %#x not ready for input after %d samples (%s)", h, s.cfg.ReadyRetries, last)
	}
	return err
}

// Close tears the session down. Popups are closed; sessions with a process
// ask the main window to close, wait for the process to exit and kill it if
// it does not.
func (s *Session) Close() error {
	s.MarkClosing()
	defer s.stopOnce.Do(func() { close(s.stop) })

	if s.proc == nil {
		if err := s.d.Windows.CloseWindow(s.hwnd); err != nil {
			logger.Debug("close %#x: %v", s.hwnd, err)
		}
		return nil
	}
	if s.proc.Exited() {
		return nil
	}
	if err := s.d.Windows.CloseWindow(s.hwnd); err != nil {
		logger.Debug("close %#x: %v", s.hwnd, err)
	}
	err := poll.Until(poll.Every(s.cfg.CloseTick, s.cfg.CloseRetries), func(int) (bool, error) {
		return s.proc.Exited(), nil
	})
	if err == nil {
		return nil
	}
	logger.Warn("process %d did not exit after close, killing", s.proc.PID())
	return s.proc.Kill()
}

// DragDrop drags from the center of one element to the center of another
// with the left button and waits for the target to go idle. A stepSize of
// zero uses input.DefaultStepSize.
func (s *Session) DragDrop(from, to *element.Element, stepSize float64) error {
	if err := s.check(); err != nil {
		return err
	}
	fb, err := from.Bounds()
	if err != nil {
		return err
	}
	tb, err := to.Bounds()
	if err != nil {
		return err
	}
	if stepSize <= 0 {
		stepSize = input.DefaultStepSize
	}
	if err := s.mouse.DragDrop(fb.Center(), tb.Center(), stepSize, desktop.ButtonLeft); err != nil {
		return fmt.Errorf("drag %s to %s: %w", from, to, err)
	}
	return s.WaitForIdle()
}

// Click clicks the center of e.
func (s *Session) Click(e *element.Element) error {
	if err := s.check(); err != nil {
		return err
	}
	b, err := e.Bounds()
	if err != nil {
		return err
	}
	if err := s.mouse.Click(b.Center(), desktop.ButtonLeft); err != nil {
		return fmt.Errorf("click %s: %w", e, err)
	}
	return s.WaitForIdle()
}
