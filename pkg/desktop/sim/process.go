package sim

import (
	"sync"
	"time"

	"github.com/devicelab-dev/desk-runner/pkg/desktop"
)

// Process is a simulated application process.
type Process struct {
	d    *Desktop
	pid  int
	done chan struct{}

	mu         sync.Mutex
	main       desktop.WindowHandle
	responding bool
	exitCode   int
	exited     bool
	windows    []desktop.WindowHandle
	onKill     func()
}

var _ desktop.Process = (*Process)(nil)

func (p *Process) PID() int { return p.pid }

func (p *Process) MainWindow() desktop.WindowHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.main
}

// SetMainWindow records h as the process's main window.
func (p *Process) SetMainWindow(h desktop.WindowHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.main = h
	p.windows = append(p.windows, h)
}

// Own records a secondary window so Kill can tear it down.
func (p *Process) Own(h desktop.WindowHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.windows = append(p.windows, h)
}

// SetResponding simulates a hung (false) or live UI thread.
func (p *Process) SetResponding(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responding = v
}

// OnKill installs cleanup run by Kill.
func (p *Process) OnKill(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onKill = fn
}

func (p *Process) WaitForInputIdle(timeout time.Duration) bool {
	if p.Responding() {
		return true
	}
	time.Sleep(timeout)
	return p.Responding()
}

func (p *Process) Responding() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.responding && !p.exited
}

func (p *Process) Exited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}

func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

func (p *Process) Done() <-chan struct{} { return p.done }

// Exit ends the process, destroying its windows.
func (p *Process) Exit(code int) {
	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()
		return
	}
	p.exited = true
	p.exitCode = code
	windows := p.windows
	p.mu.Unlock()

	for _, h := range windows {
		p.d.DestroyWindow(h)
	}
	close(p.done)
}

func (p *Process) Kill() error {
	p.mu.Lock()
	fn := p.onKill
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
	p.Exit(1)
	return nil
}
