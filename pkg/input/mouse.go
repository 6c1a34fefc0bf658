// Package input synthesizes pointer input: clicks, wheel notches and drag
// gestures whose path is re-measured against the real cursor at every step.
package input

import (
	"fmt"
	"math"
	"time"

	"github.com/tanema/gween/ease"

	"github.com/devicelab-dev/desk-runner/pkg/core"
	"github.com/devicelab-dev/desk-runner/pkg/desktop"
	"github.com/devicelab-dev/desk-runner/pkg/logger"
	"github.com/devicelab-dev/desk-runner/pkg/poll"
)

// Default delays.
const (
	DefaultDelay     = 100 * time.Millisecond
	DefaultDragDelay = 10 * time.Millisecond
	DefaultStepSize  = 5.0
)

// Mouse drives the pointer through an Injector.
type Mouse struct {
	inj desktop.Injector

	// Delay separates discrete actions (press, drag, release).
	Delay time.Duration
	// DragDelay separates the interpolated steps of a drag. It is kept short
	// so the target sees continuous motion rather than a series of pauses.
	DragDelay time.Duration
}

// New creates a Mouse with the default delays.
func New(inj desktop.Injector) *Mouse {
	return &Mouse{
		inj:       inj,
		Delay:     DefaultDelay,
		DragDelay: DefaultDragDelay,
	}
}

func (m *Mouse) send(ev desktop.InputEvent) error {
	if n := m.inj.SendInput(ev); n != 1 {
		return core.ErrInputInjectionFailed.Withf("%s event rejected by the OS: %d of 1 events accepted", kindName(ev.Kind), n)
	}
	return nil
}

func kindName(k desktop.EventKind) string {
	switch k {
	case desktop.EventMove:
		return "move"
	case desktop.EventMoveAbs:
		return "absolute move"
	case desktop.EventDown:
		return "button down"
	case desktop.EventUp:
		return "button up"
	case desktop.EventWheel:
		return "wheel"
	default:
		return "unknown"
	}
}

func (m *Mouse) position(p core.Point) error {
	if err := m.inj.SetCursorPos(p); err != nil {
		return fmt.Errorf("position cursor at %v: %w", p, err)
	}
	return nil
}

// Move places the pointer at p.
func (m *Mouse) Move(p core.Point) error {
	if err := m.position(p); err != nil {
		return err
	}
	return m.send(desktop.InputEvent{Kind: desktop.EventMoveAbs, Point: p})
}

// Down presses buttons at p.
func (m *Mouse) Down(p core.Point, buttons desktop.MouseButton) error {
	if err := m.position(p); err != nil {
		return err
	}
	return m.send(desktop.InputEvent{Kind: desktop.EventDown, Point: p, Buttons: buttons})
}

// Up releases buttons at p.
func (m *Mouse) Up(p core.Point, buttons desktop.MouseButton) error {
	if err := m.position(p); err != nil {
		return err
	}
	return m.send(desktop.InputEvent{Kind: desktop.EventUp, Point: p, Buttons: buttons})
}

// Click presses and releases buttons at p.
func (m *Mouse) Click(p core.Point, buttons desktop.MouseButton) error {
	if err := m.Down(p, buttons); err != nil {
		return err
	}
	return m.Up(p, buttons)
}

// DoubleClick clicks twice at p.
func (m *Mouse) DoubleClick(p core.Point, buttons desktop.MouseButton) error {
	if err := m.Click(p, buttons); err != nil {
		return err
	}
	return m.Click(p, buttons)
}

// Wheel rotates the wheel by clicks notches; negative scrolls toward the user.
func (m *Mouse) Wheel(clicks int) error {
	return m.send(desktop.InputEvent{Kind: desktop.EventWheel, WheelDelta: clicks * desktop.WheelDelta})
}

// PathPoint returns the point at distance along the straight segment from
// start to end, whose total length is distance.
func PathPoint(start, end core.Point, along, distance float64) core.Point {
	if distance <= 0 {
		return end
	}
	t, d := float32(along), float32(distance)
	x := ease.Linear(t, float32(start.X), float32(end.X-start.X), d)
	y := ease.Linear(t, float32(start.Y), float32(end.Y-start.Y), d)
	return core.Point{X: int(math.Round(float64(x))), Y: int(math.Round(float64(y)))}
}

// NextDelta is the relative move that takes the pointer from the observed
// position actual to target.
func NextDelta(actual, target core.Point) (dx, dy int) {
	return target.Sub(actual)
}

// DragTo moves the pointer from start to end in steps of stepSize pixels
// while buttons are held. Each step is computed from the cursor position the
// OS reports after the previous step, so a step that the OS scales or clamps
// does not skew the rest of the path. The gesture always ends exactly at end.
func (m *Mouse) DragTo(start, end core.Point, stepSize float64, buttons desktop.MouseButton) error {
	if stepSize <= 0 {
		return fmt.Errorf("drag step size must be positive, got %v", stepSize)
	}
	last, err := m.inj.CursorPos()
	if err != nil {
		return fmt.Errorf("read cursor: %w", err)
	}

	distance := start.DistanceTo(end)
	steps := int(distance / stepSize)
	logger.Debug("drag %v -> %v: %.1fpx in %d steps", start, end, distance, steps)

	for i := 1; i <= steps; i++ {
		along := float64(i) * stepSize
		if along >= distance {
			break
		}
		target := PathPoint(start, end, along, distance)
		if dx, dy := NextDelta(last, target); dx != 0 || dy != 0 {
			if err := m.send(desktop.InputEvent{Kind: desktop.EventMove, DX: dx, DY: dy, Buttons: buttons}); err != nil {
				return err
			}
		}
		poll.Settle(m.DragDelay)
		if last, err = m.inj.CursorPos(); err != nil {
			return fmt.Errorf("read cursor: %w", err)
		}
	}

	if dx, dy := NextDelta(last, end); dx != 0 || dy != 0 {
		if err := m.send(desktop.InputEvent{Kind: desktop.EventMove, DX: dx, DY: dy, Buttons: buttons}); err != nil {
			return err
		}
		if last, err = m.inj.CursorPos(); err != nil {
			return fmt.Errorf("read cursor: %w", err)
		}
	}
	if last != end {
		// The OS did not honor the correcting move either; place it directly.
		logger.Debug("drag ended at %v instead of %v, repositioning", last, end)
		return m.position(end)
	}
	return nil
}

// DragDrop presses buttons at start, drags to end and releases there.
func (m *Mouse) DragDrop(start, end core.Point, stepSize float64, buttons desktop.MouseButton) error {
	if err := m.Down(start, buttons); err != nil {
		return err
	}
	poll.Settle(m.Delay)
	if err := m.DragTo(start, end, stepSize, buttons); err != nil {
		return err
	}
	poll.Settle(m.Delay)
	if err := m.Up(end, buttons); err != nil {
		return err
	}
	poll.Settle(m.Delay)
	return nil
}
