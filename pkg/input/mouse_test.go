package input

import (
	"errors"
	"math"
	"testing"

	"github.com/devicelab-dev/desk-runner/pkg/core"
	"github.com/devicelab-dev/desk-runner/pkg/desktop"
)

// oracle is an Injector whose relative moves are honored only approximately:
// every delta is multiplied by scale and the cursor is clamped to the screen.
type oracle struct {
	pos      core.Point
	scale    float64
	screen   core.Bounds
	events   []desktop.InputEvent
	absSets  int
	accepted int // events accepted per call; -1 accepts all
}

func newOracle(scale float64) *oracle {
	return &oracle{
		scale:    scale,
		screen:   core.Bounds{X: 0, Y: 0, Width: 1920, Height: 1080},
		accepted: -1,
	}
}

func (o *oracle) clamp(p core.Point) core.Point {
	p.X = max(o.screen.X, min(p.X, o.screen.X+o.screen.Width-1))
	p.Y = max(o.screen.Y, min(p.Y, o.screen.Y+o.screen.Height-1))
	return p
}

func (o *oracle) SendInput(events ...desktop.InputEvent) int {
	if o.accepted >= 0 {
		return o.accepted
	}
	for _, ev := range events {
		o.events = append(o.events, ev)
		if ev.Kind == desktop.EventMove {
			dx := int(math.Round(float64(ev.DX) * o.scale))
			dy := int(math.Round(float64(ev.DY) * o.scale))
			o.pos = o.clamp(o.pos.Add(dx, dy))
		}
	}
	return len(events)
}

func (o *oracle) CursorPos() (core.Point, error) { return o.pos, nil }

func (o *oracle) SetCursorPos(p core.Point) error {
	o.absSets++
	o.pos = o.clamp(p)
	return nil
}

func quiet(m *Mouse) *Mouse {
	m.Delay = 0
	m.DragDelay = 0
	return m
}

func TestNextDelta(t *testing.T) {
	tests := []struct {
		actual, target core.Point
		dx, dy         int
	}{
		{core.Point{X: 10, Y: 10}, core.Point{X: 15, Y: 7}, 5, -3},
		{core.Point{X: 0, Y: 0}, core.Point{X: 0, Y: 0}, 0, 0},
		{core.Point{X: 100, Y: 50}, core.Point{X: 40, Y: 90}, -60, 40},
	}
	for _, tt := range tests {
		dx, dy := NextDelta(tt.actual, tt.target)
		if dx != tt.dx || dy != tt.dy {
			t.Errorf("NextDelta(%v, %v) = (%d,%d), want (%d,%d)", tt.actual, tt.target, dx, dy, tt.dx, tt.dy)
		}
	}
}

func TestPathPoint(t *testing.T) {
	start := core.Point{X: 0, Y: 0}
	end := core.Point{X: 100, Y: 50}
	d := start.DistanceTo(end)

	if got := PathPoint(start, end, 0, d); got != start {
		t.Errorf("PathPoint(0) = %v, want %v", got, start)
	}
	if got := PathPoint(start, end, d, d); got != end {
		t.Errorf("PathPoint(d) = %v, want %v", got, end)
	}
	if got := PathPoint(start, end, d/2, d); got != (core.Point{X: 50, Y: 25}) {
		t.Errorf("PathPoint(d/2) = %v, want (50,25)", got)
	}
	if got := PathPoint(start, end, 3, 0); got != end {
		t.Errorf("PathPoint with zero distance = %v, want %v", got, end)
	}
}

func TestDragTo_EndsExactlyAtEnd(t *testing.T) {
	start := core.Point{X: 300, Y: 400}
	ends := []core.Point{{X: 300, Y: 340}, {X: 712, Y: 95}, {X: 10, Y: 1000}, {X: 301, Y: 401}}
	for _, scale := range []float64{0.5, 0.8, 1.0, 1.25, 1.5} {
		for _, step := range []float64{1, 2.5, 5, 17, 1000} {
			for _, end := range ends {
				o := newOracle(scale)
				o.pos = start
				m := quiet(New(o))
				if err := m.DragTo(start, end, step, desktop.ButtonLeft); err != nil {
					t.Fatalf("scale=%v step=%v: DragTo() error = %v", scale, step, err)
				}
				if o.pos != end {
					t.Errorf("scale=%v step=%v: cursor at %v, want %v", scale, step, o.pos, end)
				}
			}
		}
	}
}

func TestDragTo_ExactOSNeedsNoReposition(t *testing.T) {
	o := newOracle(1.0)
	o.pos = core.Point{X: 50, Y: 50}
	m := quiet(New(o))

	if err := m.DragTo(o.pos, core.Point{X: 250, Y: 130}, 5, desktop.ButtonLeft); err != nil {
		t.Fatalf("DragTo() error = %v", err)
	}
	if o.absSets != 0 {
		t.Errorf("absolute repositions = %d, want 0", o.absSets)
	}
	for _, ev := range o.events {
		if ev.Kind != desktop.EventMove {
			t.Errorf("event kind = %v, want relative moves only", ev.Kind)
		}
		if ev.Buttons != desktop.ButtonLeft {
			t.Errorf("event buttons = %v, want left held", ev.Buttons)
		}
	}
}

func TestDragTo_RecalibratesEveryStep(t *testing.T) {
	// An overshooting OS must not make the error grow along the path: the
	// next delta is always computed from where the cursor really is.
	start := core.Point{X: 0, Y: 500}
	end := core.Point{X: 1000, Y: 500}
	step := 10.0

	o := newOracle(1.25)
	o.pos = start
	m := quiet(New(o))

	var worst int
	m.inj = trackingInjector{oracle: o, onMove: func(p core.Point) {
		// ideal path is horizontal; the overshoot of one step is at most
		// a quarter of a step plus rounding.
		ideal := int(math.Round(float64(p.X)/step) * step)
		if d := int(math.Abs(float64(p.X - ideal))); d > worst {
			worst = d
		}
	}}
	if err := m.DragTo(start, end, step, desktop.ButtonLeft); err != nil {
		t.Fatalf("DragTo() error = %v", err)
	}
	if worst > int(step*0.25)+1 {
		t.Errorf("worst deviation from path = %dpx, want <= %d", worst, int(step*0.25)+1)
	}
	if o.pos != end {
		t.Errorf("cursor at %v, want %v", o.pos, end)
	}
}

type trackingInjector struct {
	*oracle
	onMove func(core.Point)
}

func (t trackingInjector) SendInput(events ...desktop.InputEvent) int {
	n := t.oracle.SendInput(events...)
	t.onMove(t.oracle.pos)
	return n
}

func TestDragTo_RejectsNonPositiveStep(t *testing.T) {
	m := quiet(New(newOracle(1)))
	if err := m.DragTo(core.Point{}, core.Point{X: 10}, 0, desktop.ButtonLeft); err == nil {
		t.Error("DragTo() with step 0 should fail")
	}
}

func TestInjectionFailure(t *testing.T) {
	o := newOracle(1)
	o.accepted = 0
	m := quiet(New(o))

	err := m.Click(core.Point{X: 5, Y: 5}, desktop.ButtonLeft)
	if !errors.Is(err, core.ErrInputInjectionFailed) {
		t.Fatalf("Click() error = %v, want ErrInputInjectionFailed", err)
	}

	err = m.DragTo(core.Point{}, core.Point{X: 100}, 5, desktop.ButtonLeft)
	if !errors.Is(err, core.ErrInputInjectionFailed) {
		t.Fatalf("DragTo() error = %v, want ErrInputInjectionFailed", err)
	}
}

func TestClickAndDoubleClick(t *testing.T) {
	o := newOracle(1)
	m := quiet(New(o))
	p := core.Point{X: 120, Y: 80}

	if err := m.DoubleClick(p, desktop.ButtonLeft); err != nil {
		t.Fatalf("DoubleClick() error = %v", err)
	}
	want := []desktop.EventKind{desktop.EventDown, desktop.EventUp, desktop.EventDown, desktop.EventUp}
	if len(o.events) != len(want) {
		t.Fatalf("events = %d, want %d", len(o.events), len(want))
	}
	for i, ev := range o.events {
		if ev.Kind != want[i] {
			t.Errorf("event %d kind = %v, want %v", i, ev.Kind, want[i])
		}
		if ev.Point != p {
			t.Errorf("event %d point = %v, want %v", i, ev.Point, p)
		}
	}
	if o.pos != p {
		t.Errorf("cursor at %v, want %v", o.pos, p)
	}
}

func TestWheel(t *testing.T) {
	o := newOracle(1)
	m := quiet(New(o))
	if err := m.Wheel(-3); err != nil {
		t.Fatalf("Wheel() error = %v", err)
	}
	if len(o.events) != 1 || o.events[0].WheelDelta != -360 {
		t.Errorf("events = %+v, want one wheel event of -360", o.events)
	}
}

func TestDragDrop(t *testing.T) {
	o := newOracle(0.8)
	m := quiet(New(o))
	start := core.Point{X: 200, Y: 300}
	end := core.Point{X: 200, Y: 240}

	if err := m.DragDrop(start, end, 4, desktop.ButtonLeft); err != nil {
		t.Fatalf("DragDrop() error = %v", err)
	}
	first, last := o.events[0], o.events[len(o.events)-1]
	if first.Kind != desktop.EventDown || first.Point != start {
		t.Errorf("first event = %+v, want down at %v", first, start)
	}
	if last.Kind != desktop.EventUp || last.Point != end {
		t.Errorf("last event = %+v, want up at %v", last, end)
	}
}
