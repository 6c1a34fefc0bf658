// Package element is a navigation and interaction surface over one
// accessibility node. An Element is a snapshot reference: it does not own
// the node, and once the target removes the node every operation fails with
// core.ErrStaleElement instead of returning data about something else.
package element

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/devicelab-dev/desk-runner/pkg/core"
	"github.com/devicelab-dev/desk-runner/pkg/desktop"
)

// DefaultSettle separates the steps of the keyboard value fallback.
const DefaultSettle = 200 * time.Millisecond

// Env holds what Elements share: the tree, and the keyboard and clipboard
// used when a node has no value capability.
type Env struct {
	Automation desktop.Automation
	Windows    desktop.WindowManager
	Keys       desktop.Keyboard
	Clipboard  desktop.Clipboard

	// Settle is the fixed delay between keyboard fallback steps.
	Settle time.Duration
	// ToggleDelay is the delay between toggle attempts in SetChecked.
	ToggleDelay time.Duration
}

// NewEnv builds an Env from a desktop with default delays.
func NewEnv(d *desktop.Desktop) *Env {
	return &Env{
		Automation:  d.Automation,
		Windows:     d.Windows,
		Keys:        d.Keys,
		Clipboard:   d.Clipboard,
		Settle:      DefaultSettle,
		ToggleDelay: 50 * time.Millisecond,
	}
}

// Element references one node.
type Element struct {
	env  *Env
	node desktop.Node
}

// New wraps node.
func New(env *Env, node desktop.Node) *Element {
	return &Element{env: env, node: node}
}

// FromWindow returns the root element of a top-level window.
func (env *Env) FromWindow(h desktop.WindowHandle) (*Element, error) {
	n, err := env.Automation.FromWindow(h)
	if err != nil {
		return nil, fmt.Errorf("resolve root of window %#x: %w", h, err)
	}
	if n == nil {
		return nil, core.ErrNotFound.Withf("window %#x has no accessibility root", h)
	}
	return New(env, n), nil
}

// HitTest returns the topmost element at p.
func (env *Env) HitTest(p core.Point) (*Element, error) {
	n, err := env.Automation.FromPoint(p)
	if err != nil {
		return nil, fmt.Errorf("hit test at %v: %w", p, err)
	}
	if n == nil {
		return nil, core.ErrNotFound.Withf("no element at %v", p)
	}
	return New(env, n), nil
}

// Node returns the underlying node.
func (e *Element) Node() desktop.Node { return e.node }

// Env returns the environment the element was created in.
func (e *Element) Env() *Env { return e.env }

func (e *Element) String() string {
	name, err := e.node.Name()
	if err != nil {
		return "<stale element>"
	}
	role, _ := e.node.Role()
	return fmt.Sprintf("%q (%s)", name, role)
}

// fail converts a backend error into the harness taxonomy.
func (e *Element) fail(op string, err error) error {
	if errors.Is(err, desktop.ErrStale) {
		return core.ErrStaleElement.Withf("%s: element was removed from the tree", op)
	}
	return fmt.Errorf("%s on %s: %w", op, e, err)
}

// Name returns the accessible name.
func (e *Element) Name() (string, error) {
	s, err := e.node.Name()
	if err != nil {
		return "", e.fail("read name", err)
	}
	return s, nil
}

// Role returns the control type.
func (e *Element) Role() (string, error) {
	s, err := e.node.Role()
	if err != nil {
		return "", e.fail("read role", err)
	}
	return s, nil
}

// Bounds returns the bounding rectangle in screen coordinates.
func (e *Element) Bounds() (core.Bounds, error) {
	b, err := e.node.Bounds()
	if err != nil {
		return core.Bounds{}, e.fail("read bounds", err)
	}
	return b, nil
}

// IsVisible reports whether the element is on screen.
func (e *Element) IsVisible() (bool, error) {
	off, err := e.node.IsOffscreen()
	if err != nil {
		return false, e.fail("read visibility", err)
	}
	return !off, nil
}

// NativeWindow returns the handle of the window hosting the element.
func (e *Element) NativeWindow() (desktop.WindowHandle, error) {
	h, err := e.node.NativeWindow()
	if err != nil {
		return 0, e.fail("read window handle", err)
	}
	return h, nil
}

// Focus gives the element keyboard focus.
func (e *Element) Focus() error {
	if err := e.node.SetFocus(); err != nil {
		return e.fail("focus", err)
	}
	return nil
}

// Info returns a serializable description of the element.
func (e *Element) Info() core.ElementInfo {
	var info core.ElementInfo
	info.Name, _ = e.node.Name()
	info.Role, _ = e.node.Role()
	info.Bounds, _ = e.node.Bounds()
	off, _ := e.node.IsOffscreen()
	info.Visible = !off
	return info
}

func (e *Element) relation(what string, fn func() (desktop.Node, error)) (*Element, error) {
	n, err := fn()
	if err != nil {
		return nil, e.fail("read "+what, err)
	}
	if n == nil {
		return nil, core.ErrNotFound.Withf("%s has no %s", e, what)
	}
	return New(e.env, n), nil
}

// Parent returns the parent element.
func (e *Element) Parent() (*Element, error) {
	return e.relation("parent", e.node.Parent)
}

// FirstChild returns the first child in the raw tree.
func (e *Element) FirstChild() (*Element, error) {
	return e.relation("first child", e.node.FirstChild)
}

// LastChild returns the last child in the raw tree.
func (e *Element) LastChild() (*Element, error) {
	return e.relation("last child", e.node.LastChild)
}

// NextSibling returns the following sibling in the raw tree.
func (e *Element) NextSibling() (*Element, error) {
	return e.relation("next sibling", e.node.NextSibling)
}

// PreviousSibling returns the preceding sibling in the raw tree.
func (e *Element) PreviousSibling() (*Element, error) {
	return e.relation("previous sibling", e.node.PreviousSibling)
}

// rawChildren lists every child, including off-screen ones.
func (e *Element) rawChildren() ([]*Element, error) {
	var out []*Element
	n, err := e.node.FirstChild()
	for ; n != nil && err == nil; n, err = n.NextSibling() {
		out = append(out, New(e.env, n))
	}
	if err != nil {
		return nil, e.fail("list children", err)
	}
	return out, nil
}

// Children returns the on-screen children in tree order. Off-screen
// children are skipped, so indexes are positions among visible children.
func (e *Element) Children() ([]*Element, error) {
	all, err := e.rawChildren()
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, c := range all {
		off, err := c.node.IsOffscreen()
		if err != nil {
			return nil, c.fail("read visibility", err)
		}
		if !off {
			out = append(out, c)
		}
	}
	return out, nil
}

// ChildCount returns the number of visible children.
func (e *Element) ChildCount() (int, error) {
	c, err := e.Children()
	return len(c), err
}

// Child returns the visible child at index i.
func (e *Element) Child(i int) (*Element, error) {
	c, err := e.Children()
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= len(c) {
		return nil, core.ErrNotFound.Withf("%s has %d visible children, no index %d", e, len(c), i)
	}
	return c[i], nil
}

// IndexInParent returns the position of e among its parent's visible
// children.
func (e *Element) IndexInParent() (int, error) {
	p, err := e.Parent()
	if err != nil {
		return -1, err
	}
	siblings, err := p.Children()
	if err != nil {
		return -1, err
	}
	for i, s := range siblings {
		if s.node == e.node {
			return i, nil
		}
	}
	return -1, core.ErrNotFound.Withf("%s is not a visible child of %s", e, p)
}

func matchesName(n desktop.Node, name string) (bool, error) {
	s, err := n.Name()
	if err != nil {
		return false, err
	}
	return strings.EqualFold(s, name), nil
}

// FindChildByName returns the first direct child named name, ignoring case.
func (e *Element) FindChildByName(name string) (*Element, error) {
	children, err := e.rawChildren()
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		ok, err := matchesName(c.node, name)
		if err != nil {
			return nil, c.fail("read name", err)
		}
		if ok {
			return c, nil
		}
	}
	return nil, core.ErrNotFound.Withf("%s has no child named %q", e, name)
}

// FindDescendantByName returns the first descendant named name in native
// depth-first order, ignoring case.
func (e *Element) FindDescendantByName(name string) (*Element, error) {
	found, err := e.findDescendant(func(n desktop.Node) (bool, error) { return matchesName(n, name) })
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, core.ErrNotFound.Withf("%s has no descendant named %q", e, name)
	}
	return found, nil
}

// FindDescendantByRole returns the first descendant with the given role.
func (e *Element) FindDescendantByRole(role string) (*Element, error) {
	found, err := e.findDescendant(func(n desktop.Node) (bool, error) {
		r, err := n.Role()
		return strings.EqualFold(r, role), err
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, core.ErrNotFound.Withf("%s has no descendant with role %s", e, role)
	}
	return found, nil
}

// FindAllByRole returns every descendant with the given role in native order.
func (e *Element) FindAllByRole(role string) ([]*Element, error) {
	var out []*Element
	_, err := e.findDescendant(func(n desktop.Node) (bool, error) {
		r, err := n.Role()
		if err == nil && strings.EqualFold(r, role) {
			out = append(out, New(e.env, n))
		}
		return false, err
	})
	return out, err
}

// FindAllByName returns every descendant named name in native order,
// ignoring case.
func (e *Element) FindAllByName(name string) ([]*Element, error) {
	var out []*Element
	_, err := e.findDescendant(func(n desktop.Node) (bool, error) {
		ok, err := matchesName(n, name)
		if ok {
			out = append(out, New(e.env, n))
		}
		return false, err
	})
	return out, err
}

func (e *Element) findDescendant(match func(desktop.Node) (bool, error)) (*Element, error) {
	var walk func(n desktop.Node) (desktop.Node, error)
	walk = func(n desktop.Node) (desktop.Node, error) {
		c, err := n.FirstChild()
		for ; c != nil && err == nil; c, err = c.NextSibling() {
			ok, merr := match(c)
			if merr != nil {
				return nil, merr
			}
			if ok {
				return c, nil
			}
			if found, werr := walk(c); werr != nil || found != nil {
				return found, werr
			}
		}
		return nil, err
	}
	n, err := walk(e.node)
	if err != nil {
		return nil, e.fail("search descendants", err)
	}
	if n == nil {
		return nil, nil
	}
	return New(e.env, n), nil
}

// capability returns the node as T after checking it advertises c.
func capability[T any](e *Element, c desktop.Capability) (T, error) {
	var zero T
	if !e.node.Supports(c) {
		return zero, core.ErrUnsupportedOperation.Withf("%s does not support %s", e, c)
	}
	p, ok := e.node.(T)
	if !ok {
		return zero, core.ErrUnsupportedOperation.Withf("%s advertises %s but does not implement it", e, c)
	}
	return p, nil
}

// Invoke triggers the default action.
func (e *Element) Invoke() error {
	inv, err := capability[desktop.Invoker](e, desktop.CapInvoke)
	if err != nil {
		return err
	}
	if err := inv.Invoke(); err != nil {
		return e.fail("invoke", err)
	}
	return nil
}

// Supports reports whether the element exposes c.
func (e *Element) Supports(c desktop.Capability) bool {
	return e.node.Supports(c)
}

// Expand shows the element's children.
func (e *Element) Expand() error {
	ec, err := capability[desktop.ExpandCollapser](e, desktop.CapExpandCollapse)
	if err != nil {
		return err
	}
	if err := ec.Expand(); err != nil {
		return e.fail("expand", err)
	}
	return nil
}

// Collapse hides the element's children.
func (e *Element) Collapse() error {
	ec, err := capability[desktop.ExpandCollapser](e, desktop.CapExpandCollapse)
	if err != nil {
		return err
	}
	if err := ec.Collapse(); err != nil {
		return e.fail("collapse", err)
	}
	return nil
}

// ExpandState returns the expand state; elements without the capability
// are leaves.
func (e *Element) ExpandState() (desktop.ExpandState, error) {
	if !e.node.Supports(desktop.CapExpandCollapse) {
		return desktop.LeafNode, nil
	}
	ec, err := capability[desktop.ExpandCollapser](e, desktop.CapExpandCollapse)
	if err != nil {
		return desktop.LeafNode, err
	}
	s, err := ec.ExpandState()
	if err != nil {
		return desktop.LeafNode, e.fail("read expand state", err)
	}
	return s, nil
}

// HitTest resolves the topmost element at p.
func (e *Element) HitTest(p core.Point) (*Element, error) {
	return e.env.HitTest(p)
}
