// Package sim is an in-memory desktop: a window manager, accessibility tree,
// pointer, keyboard, clipboard and process table that behave like the real
// thing closely enough to drive the harness headless. Windows can appear
// late, report zero-sized bounds while they are being created and ignore
// input until they are ready, so the polling protocols get exercised.
package sim

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/devicelab-dev/desk-runner/pkg/core"
	"github.com/devicelab-dev/desk-runner/pkg/desktop"
)

// Screen is the default virtual screen.
var Screen = core.Bounds{X: 0, Y: 0, Width: 1920, Height: 1080}

// Window is a simulated top-level window.
type Window struct {
	Handle desktop.WindowHandle
	Title  string
	Owner  desktop.WindowHandle
	Bounds core.Bounds
	Root   *Node

	// DegenerateSamples is how many WindowBounds calls report a zero-sized
	// rectangle before the real one.
	DegenerateSamples int
	// BusySamples is how many InteractionState calls report StateRunning
	// before StateReadyForUserInteraction.
	BusySamples int

	// OnKey handles keys the focused node did not consume.
	OnKey func(key string) bool
	// OnClose runs when the window is asked to close. Returning false keeps
	// it open.
	OnClose func() bool
	// OnDrop runs when a left-button drag ends over this window.
	OnDrop func(src, dst *Node)

	closed  bool
	created int
}

// App starts a simulated application inside d.
type App func(d *Desktop, p *Process, args []string) error

// Desktop implements every desktop boundary interface.
type Desktop struct {
	mu sync.Mutex

	windows    []*Window // z-order, topmost last
	nextHandle desktop.WindowHandle
	foreground desktop.WindowHandle
	focus      *Node
	seq        int

	cursor core.Point
	// Scale multiplies relative pointer motion, like pointer acceleration or
	// a DPI mismatch.
	scale   float64
	pressed desktop.MouseButton
	dragSrc *Node
	reject  bool

	clip string

	apps    map[string]App
	nextPID int

	events []desktop.InputEvent
	keyLog []string
	polls  map[string]int
}

var (
	_ desktop.Automation    = (*Desktop)(nil)
	_ desktop.WindowManager = (*Desktop)(nil)
	_ desktop.Injector      = (*Desktop)(nil)
	_ desktop.Keyboard      = (*Desktop)(nil)
	_ desktop.Clipboard     = (*Desktop)(nil)
	_ desktop.Launcher      = (*Desktop)(nil)
)

// New returns an empty desktop with an exact pointer.
func New() *Desktop {
	return &Desktop{
		nextHandle: 0x100,
		scale:      1,
		apps:       make(map[string]App),
		nextPID:    4000,
		polls:      make(map[string]int),
	}
}

// Boundary bundles d as every collaborator of a harness run.
func (d *Desktop) Boundary() *desktop.Desktop {
	return &desktop.Desktop{
		Automation: d,
		Windows:    d,
		Input:      d,
		Keys:       d,
		Clipboard:  d,
		Launcher:   d,
	}
}

// SetScale sets the factor applied to relative pointer moves.
func (d *Desktop) SetScale(s float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scale = s
}

// RejectInput makes SendInput refuse every event, as on a secure desktop.
func (d *Desktop) RejectInput(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reject = v
}

// Register installs an application under a launch path.
func (d *Desktop) Register(path string, app App) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.apps[path] = app
}

// Polls returns how many times a WindowManager query was made, by method
// name.
func (d *Desktop) Polls(method string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.polls[method]
}

// Events returns the pointer events accepted so far.
func (d *Desktop) Events() []desktop.InputEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]desktop.InputEvent(nil), d.events...)
}

// Keys returns every key token sent so far.
func (d *Desktop) Keys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.keyLog...)
}

// Focused returns the node with keyboard focus.
func (d *Desktop) Focused() *Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.focus
}

// OpenWindow shows w on top of the z-order and activates it.
func (d *Desktop) OpenWindow(w *Window) desktop.WindowHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextHandle += 0x10
	w.Handle = d.nextHandle
	d.seq++
	w.created = d.seq
	if w.Root != nil {
		w.Root.setWindow(w.Handle)
	}
	d.windows = append(d.windows, w)
	d.foreground = w.Handle
	return w.Handle
}

// OpenWindowAfter opens w on a timer, the way a dialog shows up some time
// after the command that raised it.
func (d *Desktop) OpenWindowAfter(delay time.Duration, w *Window) {
	time.AfterFunc(delay, func() { d.OpenWindow(w) })
}

// Window returns the open window with handle h.
func (d *Desktop) Window(h desktop.WindowHandle) *Window {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.windowLocked(h)
}

func (d *Desktop) windowLocked(h desktop.WindowHandle) *Window {
	for _, w := range d.windows {
		if w.Handle == h && !w.closed {
			return w
		}
	}
	return nil
}

// Windows lists open windows, bottom to top.
func (d *Desktop) Windows() []*Window {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*Window
	for _, w := range d.windows {
		if !w.closed {
			out = append(out, w)
		}
	}
	return out
}

// SetTitle renames window h.
func (d *Desktop) SetTitle(h desktop.WindowHandle, title string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if w := d.windowLocked(h); w != nil {
		w.Title = title
	}
}

// Activate brings h to the foreground.
func (d *Desktop) Activate(h desktop.WindowHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.windowLocked(h) != nil {
		d.foreground = h
	}
}

// DestroyWindow removes h without asking it. Its tree becomes stale.
func (d *Desktop) DestroyWindow(h desktop.WindowHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyLocked(h)
}

func (d *Desktop) destroyLocked(h desktop.WindowHandle) {
	w := d.windowLocked(h)
	if w == nil {
		return
	}
	w.closed = true
	if w.Root != nil {
		w.Root.markStale()
	}
	if d.focus != nil && d.focus.window == h {
		d.focus = nil
	}
	if d.foreground != h {
		return
	}
	d.foreground = 0
	if w.Owner != 0 && d.windowLocked(w.Owner) != nil {
		d.foreground = w.Owner
		return
	}
	for i := len(d.windows) - 1; i >= 0; i-- {
		if !d.windows[i].closed {
			d.foreground = d.windows[i].Handle
			return
		}
	}
}

// Automation

func (d *Desktop) FromWindow(h desktop.WindowHandle) (desktop.Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w := d.windowLocked(h)
	if w == nil {
		return nil, fmt.Errorf("sim: no window %#x", h)
	}
	if w.Root == nil {
		return nil, nil
	}
	return w.Root, nil
}

func (d *Desktop) FromPoint(p core.Point) (desktop.Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n := d.hitLocked(p); n != nil {
		return n, nil
	}
	return nil, nil
}

func (d *Desktop) hitLocked(p core.Point) *Node {
	for i := len(d.windows) - 1; i >= 0; i-- {
		w := d.windows[i]
		if w.closed || w.Root == nil {
			continue
		}
		if n := w.Root.hit(p); n != nil {
			return n
		}
	}
	return nil
}

// WindowManager

func (d *Desktop) LastActivePopup(h desktop.WindowHandle) desktop.WindowHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.polls["LastActivePopup"]++
	var best *Window
	for _, w := range d.windows {
		if w.closed || w.Owner != h {
			continue
		}
		if best == nil || w.created > best.created {
			best = w
		}
	}
	if best == nil {
		return h
	}
	return best.Handle
}

func (d *Desktop) ForegroundWindow() desktop.WindowHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.polls["ForegroundWindow"]++
	return d.foreground
}

func (d *Desktop) SetForeground(h desktop.WindowHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.windowLocked(h) == nil {
		return fmt.Errorf("sim: no window %#x", h)
	}
	d.foreground = h
	return nil
}

func (d *Desktop) WindowBounds(h desktop.WindowHandle) (core.Bounds, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.polls["WindowBounds"]++
	w := d.windowLocked(h)
	if w == nil {
		return core.Bounds{}, fmt.Errorf("sim: no window %#x", h)
	}
	if w.DegenerateSamples > 0 {
		w.DegenerateSamples--
		return core.Bounds{X: w.Bounds.X, Y: w.Bounds.Y}, nil
	}
	return w.Bounds, nil
}

func (d *Desktop) WindowTitle(h desktop.WindowHandle) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w := d.windowLocked(h)
	if w == nil {
		return "", fmt.Errorf("sim: no window %#x", h)
	}
	return w.Title, nil
}

func (d *Desktop) InteractionState(h desktop.WindowHandle) (desktop.InteractionState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.polls["InteractionState"]++
	w := d.windowLocked(h)
	if w == nil {
		return desktop.StateClosing, fmt.Errorf("sim: no window %#x", h)
	}
	if w.BusySamples > 0 {
		w.BusySamples--
		return desktop.StateRunning, nil
	}
	for _, o := range d.windows {
		if !o.closed && o.Owner == h {
			return desktop.StateBlockedByModalWindow, nil
		}
	}
	return desktop.StateReadyForUserInteraction, nil
}

func (d *Desktop) CloseWindow(h desktop.WindowHandle) error {
	d.mu.Lock()
	w := d.windowLocked(h)
	if w == nil {
		d.mu.Unlock()
		return fmt.Errorf("sim: no window %#x", h)
	}
	onClose := w.OnClose
	d.mu.Unlock()

	if onClose != nil && !onClose() {
		return nil
	}
	d.DestroyWindow(h)
	return nil
}

// Injector

func (d *Desktop) SendInput(events ...desktop.InputEvent) int {
	var drops []func()
	d.mu.Lock()
	accepted := 0
	for _, ev := range events {
		if d.reject {
			break
		}
		if fn := d.applyLocked(ev); fn != nil {
			drops = append(drops, fn)
		}
		d.events = append(d.events, ev)
		accepted++
	}
	d.mu.Unlock()
	for _, fn := range drops {
		fn()
	}
	return accepted
}

func (d *Desktop) applyLocked(ev desktop.InputEvent) func() {
	switch ev.Kind {
	case desktop.EventMove:
		x := d.cursor.X + int(math.Round(float64(ev.DX)*d.scale))
		y := d.cursor.Y + int(math.Round(float64(ev.DY)*d.scale))
		d.cursor = clamp(core.Point{X: x, Y: y})
	case desktop.EventMoveAbs:
		d.cursor = clamp(ev.Point)
	case desktop.EventDown:
		d.cursor = clamp(ev.Point)
		if ev.Buttons&desktop.ButtonLeft != 0 && d.pressed&desktop.ButtonLeft == 0 {
			d.dragSrc = d.hitLocked(d.cursor)
		}
		d.pressed |= ev.Buttons
	case desktop.EventUp:
		d.cursor = clamp(ev.Point)
		wasLeft := d.pressed&desktop.ButtonLeft != 0
		d.pressed &^= ev.Buttons
		if !wasLeft || ev.Buttons&desktop.ButtonLeft == 0 {
			return nil
		}
		src, dst := d.dragSrc, d.hitLocked(d.cursor)
		d.dragSrc = nil
		if src == nil || dst == nil || src == dst {
			return nil
		}
		w := d.windowLocked(src.window)
		if w == nil || w.OnDrop == nil {
			return nil
		}
		drop := w.OnDrop
		return func() { drop(src, dst) }
	}
	return nil
}

func clamp(p core.Point) core.Point {
	p.X = max(Screen.X, min(p.X, Screen.X+Screen.Width-1))
	p.Y = max(Screen.Y, min(p.Y, Screen.Y+Screen.Height-1))
	return p
}

func (d *Desktop) CursorPos() (core.Point, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cursor, nil
}

func (d *Desktop) SetCursorPos(p core.Point) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cursor = clamp(p)
	return nil
}

// Keyboard

// SendKeys delivers each key token to the focused node of the foreground
// window, falling back to the window's own handler.
func (d *Desktop) SendKeys(keys string) error {
	tokens, err := ParseKeys(keys)
	if err != nil {
		return err
	}
	for _, k := range tokens {
		d.mu.Lock()
		d.keyLog = append(d.keyLog, k)
		w := d.windowLocked(d.foreground)
		var nodeKey func(string) bool
		if f := d.focus; f != nil && !f.stale && w != nil && f.window == w.Handle {
			nodeKey = f.onKey
		}
		var winKey func(string) bool
		if w != nil {
			winKey = w.OnKey
		}
		d.mu.Unlock()

		if nodeKey != nil && nodeKey(k) {
			continue
		}
		if winKey != nil {
			winKey(k)
		}
	}
	return nil
}

// Clipboard

func (d *Desktop) Text() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clip, nil
}

func (d *Desktop) SetText(s string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clip = s
	return nil
}

// Launcher

func (d *Desktop) Launch(path string, args ...string) (desktop.Process, error) {
	d.mu.Lock()
	app, ok := d.apps[path]
	if !ok {
		d.mu.Unlock()
		return nil, fmt.Errorf("sim: no application registered at %q", path)
	}
	d.nextPID++
	p := &Process{d: d, pid: d.nextPID, done: make(chan struct{}), responding: true}
	d.mu.Unlock()

	if err := app(d, p, args); err != nil {
		return nil, fmt.Errorf("sim: start %s: %w", path, err)
	}
	return p, nil
}

// Registered lists registered application paths.
func (d *Desktop) Registered() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for k := range d.apps {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
