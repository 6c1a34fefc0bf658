// Package desktop declares the boundary between the harness and the
// operating system: the accessibility tree, window manager, synthetic input,
// clipboard and process lifecycle. Backends implement these interfaces; the
// sim subpackage is the in-tree backend.
package desktop

import (
	"errors"
	"time"

	"github.com/devicelab-dev/desk-runner/pkg/core"
)

// ErrStale is returned by Node methods once the node has been removed from
// the target's tree.
var ErrStale = errors.New("desktop: node is stale")

// WindowHandle identifies a top-level window. Zero means "no window".
type WindowHandle uintptr

// Capability is an optional behavior a Node may expose.
type Capability int

const (
	CapInvoke Capability = iota
	CapValue
	CapToggle
	CapSelectionItem
	CapSelection
	CapExpandCollapse
)

func (c Capability) String() string {
	switch c {
	case CapInvoke:
		return "invoke"
	case CapValue:
		return "value"
	case CapToggle:
		return "toggle"
	case CapSelectionItem:
		return "selection item"
	case CapSelection:
		return "selection"
	case CapExpandCollapse:
		return "expand/collapse"
	default:
		return "unknown"
	}
}

// Node is one accessibility tree node. Relations return (nil, nil) when the
// relation does not exist.
type Node interface {
	Name() (string, error)
	Role() (string, error)
	Bounds() (core.Bounds, error)
	IsOffscreen() (bool, error)
	NativeWindow() (WindowHandle, error)
	SetFocus() error

	Parent() (Node, error)
	FirstChild() (Node, error)
	LastChild() (Node, error)
	NextSibling() (Node, error)
	PreviousSibling() (Node, error)

	// Supports reports whether the capability is available right now. A node
	// that supports a capability also implements the matching interface below.
	Supports(c Capability) bool
}

// Invoker triggers a node's default action.
type Invoker interface {
	Invoke() error
}

// ValueProvider reads and writes a node's text value.
type ValueProvider interface {
	Value() (string, error)
	SetValue(v string) error
}

// ToggleState is a tri-state check value.
type ToggleState int

const (
	ToggleOff ToggleState = iota
	ToggleOn
	ToggleIndeterminate
)

func (s ToggleState) String() string {
	switch s {
	case ToggleOff:
		return "off"
	case ToggleOn:
		return "on"
	case ToggleIndeterminate:
		return "indeterminate"
	default:
		return "unknown"
	}
}

// Toggler cycles a check state.
type Toggler interface {
	ToggleState() (ToggleState, error)
	Toggle() error
}

// SelectionItem is a selectable child of a list or tree.
type SelectionItem interface {
	Select() error
	AddToSelection() error
	RemoveFromSelection() error
	IsSelected() (bool, error)
}

// SelectionContainer reports its selected children.
type SelectionContainer interface {
	Selection() ([]Node, error)
}

// ExpandState describes a node that can show or hide its children.
type ExpandState int

const (
	Collapsed ExpandState = iota
	Expanded
	PartiallyExpanded
	LeafNode
)

// ExpandCollapser shows and hides children, e.g. a menu header.
type ExpandCollapser interface {
	Expand() error
	Collapse() error
	ExpandState() (ExpandState, error)
}

// Automation resolves nodes from windows and screen points.
type Automation interface {
	FromWindow(h WindowHandle) (Node, error)
	// FromPoint returns the topmost node at p, or (nil, nil) when there is none.
	FromPoint(p core.Point) (Node, error)
}

// InteractionState mirrors the window readiness reported by the OS.
type InteractionState int

const (
	StateRunning InteractionState = iota
	StateReadyForUserInteraction
	StateBlockedByModalWindow
	StateNotResponding
	StateClosing
)

func (s InteractionState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateReadyForUserInteraction:
		return "ready"
	case StateBlockedByModalWindow:
		return "blocked by modal window"
	case StateNotResponding:
		return "not responding"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// WindowManager exposes the OS window list. The query methods are sampling
// reads: they never block on the target.
type WindowManager interface {
	LastActivePopup(h WindowHandle) WindowHandle
	ForegroundWindow() WindowHandle
	SetForeground(h WindowHandle) error
	WindowBounds(h WindowHandle) (core.Bounds, error)
	WindowTitle(h WindowHandle) (string, error)
	InteractionState(h WindowHandle) (InteractionState, error)
	CloseWindow(h WindowHandle) error
}

// MouseButton is a bit set of buttons.
type MouseButton int

const (
	ButtonNone   MouseButton = 0
	ButtonLeft   MouseButton = 1 << 0
	ButtonRight  MouseButton = 1 << 1
	ButtonMiddle MouseButton = 1 << 2
)

// EventKind selects the meaning of an InputEvent.
type EventKind int

const (
	EventMove     EventKind = iota // relative move by (DX, DY)
	EventMoveAbs                   // absolute move to Point
	EventDown                      // buttons pressed at Point
	EventUp                        // buttons released at Point
	EventWheel                     // wheel rotated by WheelDelta
)

// WheelDelta is the wheel distance of one notch.
const WheelDelta = 120

// InputEvent is one synthetic pointer event.
type InputEvent struct {
	Kind       EventKind
	Point      core.Point // absolute target for EventMoveAbs/Down/Up
	DX, DY     int        // relative motion for EventMove
	Buttons    MouseButton
	WheelDelta int
}

// Injector submits synthetic pointer input.
type Injector interface {
	// SendInput returns how many events the OS accepted.
	SendInput(events ...InputEvent) int
	CursorPos() (core.Point, error)
	SetCursorPos(p core.Point) error
}

// Keyboard sends a logical key sequence to the focused window.
type Keyboard interface {
	SendKeys(keys string) error
}

// Clipboard is the system clipboard. It is shared with every other process.
type Clipboard interface {
	Text() (string, error)
	SetText(s string) error
}

// Process is a launched application.
type Process interface {
	PID() int
	MainWindow() WindowHandle
	WaitForInputIdle(timeout time.Duration) bool
	Responding() bool
	Exited() bool
	ExitCode() int
	// Done is closed when the process exits.
	Done() <-chan struct{}
	Kill() error
}

// Launcher starts applications.
type Launcher interface {
	Launch(path string, args ...string) (Process, error)
}

// Desktop bundles the collaborators of one harness run.
type Desktop struct {
	Automation Automation
	Windows    WindowManager
	Input      Injector
	Keys       Keyboard
	Clipboard  Clipboard
	Launcher   Launcher
}
