package window

import (
	"errors"
	"testing"
	"time"

	"github.com/devicelab-dev/desk-runner/pkg/core"
	"github.com/devicelab-dev/desk-runner/pkg/desktop/sim"
)

func TestLaunch(t *testing.T) {
	d, s := launchEditor(t)

	if s.Process() == nil || s.Handle() != s.Process().MainWindow() {
		t.Fatalf("session window %#x does not match the process main window", s.Handle())
	}
	if s.ID == "" {
		t.Error("session has no ID")
	}
	if title, _ := s.Title(); title != "XML Editor - Untitled" {
		t.Errorf("Title() = %q", title)
	}
	if d.Polls("InteractionState") < 2 {
		t.Error("launch did not wait for the main window to become ready")
	}
}

func TestLaunch_UnknownApp(t *testing.T) {
	d := sim.New()
	if _, err := Launch(d.Boundary(), fastConfig(), "missing.exe"); err == nil {
		t.Fatal("Launch of unregistered app succeeded")
	}
}

func TestUnexpectedProcessExit(t *testing.T) {
	_, s := launchEditor(t)
	s.Process().(*sim.Process).Exit(3)

	if err := s.WaitForIdle(); !errors.Is(err, core.ErrUnexpectedProcessExit) {
		t.Fatalf("WaitForIdle err = %v, want ErrUnexpectedProcessExit", err)
	}
	if _, err := s.ResolveMenuItem("Save"); !errors.Is(err, core.ErrUnexpectedProcessExit) {
		t.Errorf("later call err = %v, want the exit error again", err)
	}
}

func TestIntentionalExit(t *testing.T) {
	_, s := launchEditor(t)
	s.MarkClosing()
	s.Process().(*sim.Process).Exit(0)
	<-s.Process().Done()
	time.Sleep(5 * time.Millisecond)

	if err := s.check(); err != nil {
		t.Errorf("check() after intentional exit = %v", err)
	}
}

func TestClose(t *testing.T) {
	_, s := launchEditor(t)
	if err := s.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if !s.Process().Exited() {
		t.Error("process still running after Close")
	}
}

func TestWaitForIdle_NotResponding(t *testing.T) {
	_, s := launchEditor(t)
	s.Process().(*sim.Process).SetResponding(false)
	if err := s.WaitForIdle(); !errors.Is(err, core.ErrProcessNotResponding) {
		t.Fatalf("WaitForIdle err = %v, want ErrProcessNotResponding", err)
	}
}
