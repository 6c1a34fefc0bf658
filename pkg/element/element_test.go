package element

import (
	"errors"
	"reflect"
	"testing"

	"github.com/devicelab-dev/desk-runner/pkg/core"
	"github.com/devicelab-dev/desk-runner/pkg/desktop"
	"github.com/devicelab-dev/desk-runner/pkg/desktop/sim"
)

func newEnv(d *sim.Desktop) *Env {
	env := NewEnv(d.Boundary())
	env.Settle = 0
	env.ToggleDelay = 0
	return env
}

// list builds a window holding a list with three visible and one off-screen
// item.
func list(d *sim.Desktop) (*sim.Node, []*sim.Node) {
	items := []*sim.Node{
		d.NewNode("ListItem", "Alpha").Selectable().WithBounds(core.Bounds{X: 0, Y: 0, Width: 100, Height: 20}),
		d.NewNode("ListItem", "Beta").Selectable().WithBounds(core.Bounds{X: 0, Y: 20, Width: 100, Height: 20}),
		d.NewNode("ListItem", "Hidden").Selectable().Hidden(),
		d.NewNode("ListItem", "Gamma").Selectable().WithBounds(core.Bounds{X: 0, Y: 40, Width: 100, Height: 20}),
	}
	l := d.NewNode("List", "Items").WithBounds(core.Bounds{Width: 100, Height: 100}).Add(items...)
	root := d.NewNode("Window", "Main").WithBounds(core.Bounds{Width: 100, Height: 100}).Add(l)
	d.OpenWindow(&sim.Window{Title: "Main", Root: root, Bounds: core.Bounds{Width: 100, Height: 100}})
	return l, items
}

func TestNavigation_NotFound(t *testing.T) {
	d := sim.New()
	env := newEnv(d)
	l, items := list(d)
	root := New(env, l)

	top, err := root.Parent()
	if err != nil {
		t.Fatalf("Parent() error: %v", err)
	}
	if _, err := top.Parent(); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Parent() of root err = %v, want ErrNotFound", err)
	}
	leaf := New(env, items[0])
	if _, err := leaf.FirstChild(); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("FirstChild() of leaf err = %v, want ErrNotFound", err)
	}
	if _, err := leaf.PreviousSibling(); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("PreviousSibling() of first err = %v, want ErrNotFound", err)
	}
	last := New(env, items[3])
	if _, err := last.NextSibling(); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("NextSibling() of last err = %v, want ErrNotFound", err)
	}
	next, err := leaf.NextSibling()
	if err != nil {
		t.Fatalf("NextSibling() error: %v", err)
	}
	if name, _ := next.Name(); name != "Beta" {
		t.Errorf("NextSibling() = %q, want Beta", name)
	}
	lc, err := root.LastChild()
	if err != nil {
		t.Fatalf("LastChild() error: %v", err)
	}
	if name, _ := lc.Name(); name != "Gamma" {
		t.Errorf("LastChild() = %q, want Gamma", name)
	}
}

func TestChildren_VisibleOnly(t *testing.T) {
	d := sim.New()
	env := newEnv(d)
	l, items := list(d)
	e := New(env, l)

	n, err := e.ChildCount()
	if err != nil {
		t.Fatalf("ChildCount() error: %v", err)
	}
	if n != 3 {
		t.Errorf("ChildCount() = %d, want 3", n)
	}
	c, err := e.Child(2)
	if err != nil {
		t.Fatalf("Child(2) error: %v", err)
	}
	if name, _ := c.Name(); name != "Gamma" {
		t.Errorf("Child(2) = %q, want Gamma", name)
	}
	if _, err := e.Child(3); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Child(3) err = %v, want ErrNotFound", err)
	}
	idx, err := New(env, items[3]).IndexInParent()
	if err != nil {
		t.Fatalf("IndexInParent() error: %v", err)
	}
	if idx != 2 {
		t.Errorf("IndexInParent() = %d, want 2", idx)
	}
}

func TestFindByName(t *testing.T) {
	d := sim.New()
	env := newEnv(d)
	l, _ := list(d)
	e := New(env, l)

	c, err := e.FindChildByName("beta")
	if err != nil {
		t.Fatalf("FindChildByName error: %v", err)
	}
	if name, _ := c.Name(); name != "Beta" {
		t.Errorf("FindChildByName = %q, want Beta", name)
	}
	top, _ := e.Parent()
	if _, err := top.FindDescendantByName("HIDDEN"); err != nil {
		t.Errorf("FindDescendantByName should see off-screen nodes, got %v", err)
	}
	if _, err := top.FindDescendantByName("Delta"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("FindDescendantByName(Delta) err = %v, want ErrNotFound", err)
	}
	all, err := top.FindAllByRole("ListItem")
	if err != nil {
		t.Fatalf("FindAllByRole error: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("FindAllByRole = %d elements, want 4", len(all))
	}
	named, err := top.FindAllByName("gamma")
	if err != nil {
		t.Fatalf("FindAllByName error: %v", err)
	}
	if len(named) != 1 {
		t.Errorf("FindAllByName = %d elements, want 1", len(named))
	}
}

func TestStaleElement(t *testing.T) {
	d := sim.New()
	env := newEnv(d)
	_, items := list(d)
	e := New(env, items[1])
	items[1].Remove()

	_, err := e.Name()
	if !errors.Is(err, core.ErrStaleElement) {
		t.Fatalf("Name() on removed node err = %v, want ErrStaleElement", err)
	}
	if errors.Is(err, core.ErrNotFound) {
		t.Error("stale error must not match ErrNotFound")
	}
	if err := e.Select(); !errors.Is(err, core.ErrStaleElement) {
		t.Errorf("Select() on removed node err = %v, want ErrStaleElement", err)
	}
}

func TestInvoke_Unsupported(t *testing.T) {
	d := sim.New()
	env := newEnv(d)
	_, items := list(d)
	if err := New(env, items[0]).Invoke(); !errors.Is(err, core.ErrUnsupportedOperation) {
		t.Errorf("Invoke() err = %v, want ErrUnsupportedOperation", err)
	}

	called := 0
	btn := d.NewNode("Button", "Go").OnInvoke(func() error { called++; return nil })
	if err := New(env, btn).Invoke(); err != nil {
		t.Fatalf("Invoke() error: %v", err)
	}
	if called != 1 {
		t.Errorf("handler called %d times, want 1", called)
	}
}

func TestSelection(t *testing.T) {
	d := sim.New()
	env := newEnv(d)
	l, items := list(d)
	container := New(env, l)

	if _, err := container.SelectedChild(); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("SelectedChild() with nothing selected err = %v, want ErrNotFound", err)
	}
	if err := New(env, items[3]).Select(); err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	if err := New(env, items[1]).AddToSelection(); err != nil {
		t.Fatalf("AddToSelection() error: %v", err)
	}
	sel, err := container.SelectedChild()
	if err != nil {
		t.Fatalf("SelectedChild() error: %v", err)
	}
	if name, _ := sel.Name(); name != "Beta" {
		t.Errorf("SelectedChild() = %q, want first selected Beta", name)
	}
	_ = New(env, items[1]).RemoveFromSelection()
	if ok, _ := New(env, items[1]).IsSelected(); ok {
		t.Error("IsSelected() = true after RemoveFromSelection")
	}
}

func TestSetChecked(t *testing.T) {
	tests := []struct {
		name    string
		start   desktop.ToggleState
		next    func(desktop.ToggleState) desktop.ToggleState
		checked bool
		wantErr error
		toggles int
	}{
		{"tri-state reaches on", desktop.ToggleOff, nil, true, nil, 1},
		{"tri-state reaches off through indeterminate", desktop.ToggleOn, nil, false, nil, 2},
		{"already on", desktop.ToggleOn, nil, true, nil, 0},
		{
			"never leaves off",
			desktop.ToggleOff,
			func(desktop.ToggleState) desktop.ToggleState { return desktop.ToggleOff },
			true, core.ErrStuckToggle, 1,
		},
		{
			"stuck between off and indeterminate",
			desktop.ToggleOff,
			func(s desktop.ToggleState) desktop.ToggleState {
				if s == desktop.ToggleOff {
					return desktop.ToggleIndeterminate
				}
				return desktop.ToggleOff
			},
			true, core.ErrStuckToggle, 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := sim.New()
			n := d.NewNode("CheckBox", "Wrap").WithToggle(tt.start, tt.next)
			err := New(newEnv(d), n).SetChecked(tt.checked)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("SetChecked error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("SetChecked err = %v, want %v", err, tt.wantErr)
			}
			if n.Toggles != tt.toggles {
				t.Errorf("toggles = %d, want %d", n.Toggles, tt.toggles)
			}
		})
	}
}

func TestSetChecked_NeverMoreThanOneCycle(t *testing.T) {
	d := sim.New()
	// Off -> Indeterminate -> Indeterminate ... never reaches On nor returns.
	n := d.NewNode("CheckBox", "Odd").WithToggle(desktop.ToggleOff, func(desktop.ToggleState) desktop.ToggleState {
		return desktop.ToggleIndeterminate
	})
	err := New(newEnv(d), n).SetChecked(true)
	if !errors.Is(err, core.ErrStuckToggle) {
		t.Fatalf("SetChecked err = %v, want ErrStuckToggle", err)
	}
	if n.Toggles != 3 {
		t.Errorf("toggles = %d, want one cycle of 3", n.Toggles)
	}
}

// editableRow is a list item without a value capability that edits itself
// in place, like a tree view row.
func editableRow(d *sim.Desktop, text *string) *sim.Node {
	var editing, selAll bool
	var buf string
	row := d.NewNode("ListItem", "row").Selectable()
	row.OnKey(func(k string) bool {
		switch {
		case k == "{ENTER}" && !editing:
			editing, buf = true, *text
		case k == "{ENTER}":
			editing, *text = false, buf
		case k == "^a":
			selAll = true
		case k == "^c" && selAll:
			_ = d.SetText(buf)
		case k == "^v":
			clip, _ := d.Text()
			if selAll {
				buf = clip
			} else {
				buf += clip
			}
		default:
			return false
		}
		return true
	})
	root := d.NewNode("Window", "Main").Add(row)
	d.OpenWindow(&sim.Window{Title: "Main", Root: root})
	return row
}

func TestValue_KeyboardFallback(t *testing.T) {
	d := sim.New()
	text := "46613"
	row := editableRow(d, &text)
	e := New(newEnv(d), row)

	if m := e.ValueModeOf(); m != ValueKeyboard {
		t.Fatalf("ValueModeOf() = %v, want keyboard", m)
	}
	got, err := e.Value()
	if err != nil {
		t.Fatalf("Value() error: %v", err)
	}
	if got != "46613" {
		t.Errorf("Value() = %q, want 46613", got)
	}
	if want := []string{"{ENTER}", "^a", "^c", "{ENTER}"}; !reflect.DeepEqual(d.Keys(), want) {
		t.Errorf("get keys = %q, want %q", d.Keys(), want)
	}
}

func TestSetValue_KeyboardFallback(t *testing.T) {
	d := sim.New()
	text := "old"
	row := editableRow(d, &text)
	e := New(newEnv(d), row)

	if err := e.SetValue("Root"); err != nil {
		t.Fatalf("SetValue() error: %v", err)
	}
	if text != "Root" {
		t.Errorf("row text = %q, want Root", text)
	}
	if want := []string{"{ENTER}", "^a", "^v", "{ENTER}"}; !reflect.DeepEqual(d.Keys(), want) {
		t.Errorf("set keys = %q, want %q", d.Keys(), want)
	}
	if row.ValueWrites != 0 {
		t.Errorf("direct value writes = %d, want 0", row.ValueWrites)
	}
	if d.Focused() != row {
		t.Error("row was not focused before editing")
	}
}

func TestKeyboardFallback_ForegroundMismatch(t *testing.T) {
	d := sim.New()
	text := "kept"
	row := editableRow(d, &text)
	d.OpenWindow(&sim.Window{Title: "Other", Root: d.NewNode("Window", "Other")})
	e := New(newEnv(d), row)

	if _, err := e.Value(); !errors.Is(err, core.ErrFocusMismatch) {
		t.Errorf("Value() error = %v, want ErrFocusMismatch", err)
	}
	if err := e.SetValue("lost"); !errors.Is(err, core.ErrFocusMismatch) {
		t.Errorf("SetValue() error = %v, want ErrFocusMismatch", err)
	}
	if len(d.Keys()) != 0 {
		t.Errorf("keys sent to the wrong window: %q", d.Keys())
	}
	if text != "kept" {
		t.Errorf("row text = %q, want kept", text)
	}
}

func TestValue_Direct(t *testing.T) {
	d := sim.New()
	edit := d.NewNode("Edit", "File name:").WithText("a.xml")
	e := New(newEnv(d), edit)
	if m := e.ValueModeOf(); m != ValueDirect {
		t.Fatalf("ValueModeOf() = %v, want direct", m)
	}
	if err := e.SetValue("out.xml"); err != nil {
		t.Fatalf("SetValue() error: %v", err)
	}
	if v, _ := e.Value(); v != "out.xml" {
		t.Errorf("Value() = %q, want out.xml", v)
	}
	if len(d.Keys()) != 0 {
		t.Errorf("direct mode sent keys %q", d.Keys())
	}
}

func TestHitTest(t *testing.T) {
	d := sim.New()
	env := newEnv(d)
	list(d)

	e, err := env.HitTest(core.Point{X: 10, Y: 25})
	if err != nil {
		t.Fatalf("HitTest error: %v", err)
	}
	if name, _ := e.Name(); name != "Beta" {
		t.Errorf("HitTest = %q, want Beta", name)
	}
	if _, err := env.HitTest(core.Point{X: 500, Y: 500}); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("HitTest outside err = %v, want ErrNotFound", err)
	}
}

func TestExpandCollapse(t *testing.T) {
	d := sim.New()
	env := newEnv(d)
	header := d.NewNode("MenuItem", "File").Expandable(nil).Add(d.NewNode("MenuItem", "Open"))
	e := New(env, header)

	if s, _ := e.ExpandState(); s != desktop.Collapsed {
		t.Errorf("ExpandState() = %v, want collapsed", s)
	}
	if err := e.Expand(); err != nil {
		t.Fatalf("Expand() error: %v", err)
	}
	if _, err := e.FindChildByName("Open"); err != nil {
		t.Errorf("FindChildByName after Expand error: %v", err)
	}
	if err := e.Collapse(); err != nil {
		t.Fatalf("Collapse() error: %v", err)
	}
	if header.Expands != 1 || header.Collapses != 1 {
		t.Errorf("expands/collapses = %d/%d, want 1/1", header.Expands, header.Collapses)
	}
	leaf := New(env, d.NewNode("Button", "x"))
	if s, _ := leaf.ExpandState(); s != desktop.LeafNode {
		t.Errorf("ExpandState() of plain node = %v, want leaf", s)
	}
}
