package sim

import (
	"fmt"

	"github.com/devicelab-dev/desk-runner/pkg/core"
	"github.com/devicelab-dev/desk-runner/pkg/desktop"
)

// Node is a simulated accessibility node. Nodes are built with the With*
// helpers before they are shown; after that all state is guarded by the
// owning Desktop's lock.
type Node struct {
	d         *Desktop
	name      string
	role      string
	bounds    core.Bounds
	offscreen bool
	window    desktop.WindowHandle
	parent    *Node
	children  []*Node
	stale     bool

	onInvoke func() error

	valueGet func() string
	valueSet func(string) error

	toggle     *desktop.ToggleState
	toggleNext func(desktop.ToggleState) desktop.ToggleState

	selectable  bool
	selected    bool
	multiSelect bool
	onSelect    func()

	expandable bool
	expanded   bool
	onExpand   func(expanded bool)

	onKey func(key string) bool

	// Counters for tests.
	Expands     int
	Collapses   int
	Invokes     int
	ValueWrites int
	Toggles     int
}

var _ desktop.Node = (*Node)(nil)

// NewNode creates a detached node.
func (d *Desktop) NewNode(role, name string) *Node {
	return &Node{d: d, role: role, name: name}
}

// Add appends children and returns n.
func (n *Node) Add(children ...*Node) *Node {
	n.d.mu.Lock()
	defer n.d.mu.Unlock()
	for _, c := range children {
		c.parent = n
		c.setWindow(n.window)
		n.children = append(n.children, c)
	}
	return n
}

// WithBounds sets the screen rectangle.
func (n *Node) WithBounds(b core.Bounds) *Node {
	n.bounds = b
	return n
}

// Hidden marks the node off-screen.
func (n *Node) Hidden() *Node {
	n.offscreen = true
	return n
}

// OnInvoke gives the node an invoke capability.
func (n *Node) OnInvoke(fn func() error) *Node {
	n.onInvoke = fn
	return n
}

// WithValue gives the node a value capability backed by get and set.
func (n *Node) WithValue(get func() string, set func(string) error) *Node {
	n.valueGet = get
	n.valueSet = set
	return n
}

// WithText gives the node a value capability holding its own string.
func (n *Node) WithText(initial string) *Node {
	v := initial
	return n.WithValue(func() string { return v }, func(s string) error { v = s; return nil })
}

// WithToggle gives the node a toggle capability. next computes the state
// after one toggle; nil means the usual Off, On, Indeterminate cycle.
func (n *Node) WithToggle(start desktop.ToggleState, next func(desktop.ToggleState) desktop.ToggleState) *Node {
	s := start
	n.toggle = &s
	if next == nil {
		next = func(s desktop.ToggleState) desktop.ToggleState { return (s + 1) % 3 }
	}
	n.toggleNext = next
	return n
}

// Selectable gives the node a selection item capability.
func (n *Node) Selectable() *Node {
	n.selectable = true
	return n
}

// OnSelect runs fn after the node becomes selected.
func (n *Node) OnSelect(fn func()) *Node {
	n.onSelect = fn
	return n
}

// MultiSelect makes the node a selection container.
func (n *Node) MultiSelect() *Node {
	n.multiSelect = true
	return n
}

// Expandable gives the node an expand/collapse capability. Children of a
// collapsed node are not exposed, like an unopened menu.
func (n *Node) Expandable(onExpand func(expanded bool)) *Node {
	n.expandable = true
	n.onExpand = onExpand
	return n
}

// OnKey installs a key handler used while the node has focus.
func (n *Node) OnKey(fn func(key string) bool) *Node {
	n.onKey = fn
	return n
}

func (n *Node) setWindow(h desktop.WindowHandle) {
	n.window = h
	for _, c := range n.children {
		c.setWindow(h)
	}
}

func (n *Node) markStale() {
	n.stale = true
	for _, c := range n.children {
		c.markStale()
	}
}

// Remove detaches n from its parent and marks its subtree stale.
func (n *Node) Remove() {
	n.d.mu.Lock()
	defer n.d.mu.Unlock()
	n.removeLocked()
}

func (n *Node) removeLocked() {
	if p := n.parent; p != nil {
		for i, c := range p.children {
			if c == n {
				p.children = append(p.children[:i:i], p.children[i+1:]...)
				break
			}
		}
	}
	n.parent = nil
	n.markStale()
}

// SetChildren replaces n's children, marking the old ones stale.
func (n *Node) SetChildren(children ...*Node) {
	n.d.mu.Lock()
	defer n.d.mu.Unlock()
	for _, c := range n.children {
		c.parent = nil
		c.markStale()
	}
	n.children = nil
	for _, c := range children {
		c.parent = n
		c.setWindow(n.window)
		n.children = append(n.children, c)
	}
}

// Stale reports whether n was removed.
func (n *Node) Stale() bool {
	n.d.mu.Lock()
	defer n.d.mu.Unlock()
	return n.stale
}

// Label returns the name without the staleness check.
func (n *Node) Label() string {
	n.d.mu.Lock()
	defer n.d.mu.Unlock()
	return n.name
}

// SetName renames the node.
func (n *Node) SetName(name string) {
	n.d.mu.Lock()
	defer n.d.mu.Unlock()
	n.name = name
}

func (n *Node) String() string {
	return fmt.Sprintf("%s %q", n.role, n.name)
}

func (n *Node) read() error {
	if n.stale {
		return desktop.ErrStale
	}
	return nil
}

func (n *Node) Name() (string, error) {
	n.d.mu.Lock()
	defer n.d.mu.Unlock()
	return n.name, n.read()
}

func (n *Node) Role() (string, error) {
	n.d.mu.Lock()
	defer n.d.mu.Unlock()
	return n.role, n.read()
}

func (n *Node) Bounds() (core.Bounds, error) {
	n.d.mu.Lock()
	defer n.d.mu.Unlock()
	return n.bounds, n.read()
}

func (n *Node) IsOffscreen() (bool, error) {
	n.d.mu.Lock()
	defer n.d.mu.Unlock()
	return n.offscreen, n.read()
}

func (n *Node) NativeWindow() (desktop.WindowHandle, error) {
	n.d.mu.Lock()
	defer n.d.mu.Unlock()
	return n.window, n.read()
}

func (n *Node) SetFocus() error {
	n.d.mu.Lock()
	defer n.d.mu.Unlock()
	if err := n.read(); err != nil {
		return err
	}
	n.d.focus = n
	return nil
}

// exposed lists the children visible through the tree API.
func (n *Node) exposed() []*Node {
	if n.expandable && !n.expanded {
		return nil
	}
	return n.children
}

func (n *Node) relation(fn func() *Node) (desktop.Node, error) {
	n.d.mu.Lock()
	defer n.d.mu.Unlock()
	if err := n.read(); err != nil {
		return nil, err
	}
	if r := fn(); r != nil {
		return r, nil
	}
	return nil, nil
}

func (n *Node) Parent() (desktop.Node, error) {
	return n.relation(func() *Node { return n.parent })
}

func (n *Node) FirstChild() (desktop.Node, error) {
	return n.relation(func() *Node {
		if c := n.exposed(); len(c) > 0 {
			return c[0]
		}
		return nil
	})
}

func (n *Node) LastChild() (desktop.Node, error) {
	return n.relation(func() *Node {
		if c := n.exposed(); len(c) > 0 {
			return c[len(c)-1]
		}
		return nil
	})
}

func (n *Node) sibling(offset int) *Node {
	if n.parent == nil {
		return nil
	}
	sibs := n.parent.exposed()
	for i, c := range sibs {
		if c == n {
			j := i + offset
			if j >= 0 && j < len(sibs) {
				return sibs[j]
			}
			return nil
		}
	}
	return nil
}

func (n *Node) NextSibling() (desktop.Node, error) {
	return n.relation(func() *Node { return n.sibling(1) })
}

func (n *Node) PreviousSibling() (desktop.Node, error) {
	return n.relation(func() *Node { return n.sibling(-1) })
}

func (n *Node) Supports(c desktop.Capability) bool {
	n.d.mu.Lock()
	defer n.d.mu.Unlock()
	switch c {
	case desktop.CapInvoke:
		return n.onInvoke != nil
	case desktop.CapValue:
		return n.valueGet != nil
	case desktop.CapToggle:
		return n.toggle != nil
	case desktop.CapSelectionItem:
		return n.selectable
	case desktop.CapSelection:
		return n.multiSelect
	case desktop.CapExpandCollapse:
		return n.expandable
	}
	return false
}

// Invoke runs the handler outside the desktop lock, so handlers may use
// the rest of the simulation freely.
func (n *Node) Invoke() error {
	n.d.mu.Lock()
	if err := n.read(); err != nil {
		n.d.mu.Unlock()
		return err
	}
	fn := n.onInvoke
	n.Invokes++
	n.d.mu.Unlock()
	if fn == nil {
		return fmt.Errorf("sim: %s has no invoke handler", n)
	}
	return fn()
}

func (n *Node) Value() (string, error) {
	n.d.mu.Lock()
	if err := n.read(); err != nil {
		n.d.mu.Unlock()
		return "", err
	}
	get := n.valueGet
	n.d.mu.Unlock()
	return get(), nil
}

func (n *Node) SetValue(v string) error {
	n.d.mu.Lock()
	if err := n.read(); err != nil {
		n.d.mu.Unlock()
		return err
	}
	set := n.valueSet
	n.ValueWrites++
	n.d.mu.Unlock()
	return set(v)
}

func (n *Node) ToggleState() (desktop.ToggleState, error) {
	n.d.mu.Lock()
	defer n.d.mu.Unlock()
	if err := n.read(); err != nil {
		return desktop.ToggleOff, err
	}
	return *n.toggle, nil
}

func (n *Node) Toggle() error {
	n.d.mu.Lock()
	defer n.d.mu.Unlock()
	if err := n.read(); err != nil {
		return err
	}
	n.Toggles++
	*n.toggle = n.toggleNext(*n.toggle)
	return nil
}

func (n *Node) Select() error {
	n.d.mu.Lock()
	if err := n.read(); err != nil {
		n.d.mu.Unlock()
		return err
	}
	if n.parent != nil {
		for _, c := range n.parent.children {
			c.selected = false
		}
	}
	n.selected = true
	fn := n.onSelect
	n.d.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

func (n *Node) AddToSelection() error {
	n.d.mu.Lock()
	defer n.d.mu.Unlock()
	if err := n.read(); err != nil {
		return err
	}
	n.selected = true
	return nil
}

func (n *Node) RemoveFromSelection() error {
	n.d.mu.Lock()
	defer n.d.mu.Unlock()
	if err := n.read(); err != nil {
		return err
	}
	n.selected = false
	return nil
}

func (n *Node) IsSelected() (bool, error) {
	n.d.mu.Lock()
	defer n.d.mu.Unlock()
	return n.selected, n.read()
}

// Selection lists selected descendants in tree order.
func (n *Node) Selection() ([]desktop.Node, error) {
	n.d.mu.Lock()
	defer n.d.mu.Unlock()
	if err := n.read(); err != nil {
		return nil, err
	}
	var out []desktop.Node
	var walk func(*Node)
	walk = func(p *Node) {
		for _, c := range p.children {
			if c.selected {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(n)
	return out, nil
}

func (n *Node) setExpanded(v bool) error {
	n.d.mu.Lock()
	if err := n.read(); err != nil {
		n.d.mu.Unlock()
		return err
	}
	n.expanded = v
	if v {
		n.Expands++
	} else {
		n.Collapses++
	}
	fn := n.onExpand
	n.d.mu.Unlock()
	if fn != nil {
		fn(v)
	}
	return nil
}

func (n *Node) Expand() error   { return n.setExpanded(true) }
func (n *Node) Collapse() error { return n.setExpanded(false) }

func (n *Node) ExpandState() (desktop.ExpandState, error) {
	n.d.mu.Lock()
	defer n.d.mu.Unlock()
	if err := n.read(); err != nil {
		return desktop.LeafNode, err
	}
	switch {
	case len(n.children) == 0:
		return desktop.LeafNode, nil
	case n.expanded:
		return desktop.Expanded, nil
	default:
		return desktop.Collapsed, nil
	}
}

// hit returns the deepest exposed on-screen node containing p. Children
// are searched even when the parent's own rectangle misses p, since tree
// rows lay their children out below themselves.
func (n *Node) hit(p core.Point) *Node {
	if n.stale {
		return nil
	}
	kids := n.exposed()
	for i := len(kids) - 1; i >= 0; i-- {
		if h := kids[i].hit(p); h != nil {
			return h
		}
	}
	if !n.offscreen && n.bounds.Contains(p.X, p.Y) {
		return n
	}
	return nil
}
