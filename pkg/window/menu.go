package window

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/devicelab-dev/desk-runner/pkg/core"
	"github.com/devicelab-dev/desk-runner/pkg/desktop"
	"github.com/devicelab-dev/desk-runner/pkg/element"
	"github.com/devicelab-dev/desk-runner/pkg/logger"
	"github.com/devicelab-dev/desk-runner/pkg/poll"
)

// Roles the discovery walk looks for.
const (
	RoleMenuBar  = "MenuBar"
	RoleMenuItem = "MenuItem"
	RoleToolBar  = "ToolBar"
)

// PathSep separates the segments of a command path such as "File/Save As".
const PathSep = "/"

type menuEntry struct {
	path []string
	el   *element.Element
}

func (m *menuEntry) String() string { return strings.Join(m.path, PathSep) }

func (m *menuEntry) leaf() string { return m.path[len(m.path)-1] }

// menuCache maps command paths to elements. Entries are only ever added.
type menuCache struct {
	mu        sync.Mutex
	entries   map[string]*menuEntry // lower-cased path
	order     []string
	pinned    map[string]string // lower-cased leaf -> entries key
	walked    map[string]bool // lower-cased scope: menu header or toolbar
	hierarchy map[string][]string
	scopes    []string
	toolbars  bool
}

func newMenuCache() *menuCache {
	return &menuCache{
		entries:   make(map[string]*menuEntry),
		pinned:    make(map[string]string),
		walked:    make(map[string]bool),
		hierarchy: make(map[string][]string),
	}
}

func cacheKey(path []string) string {
	return strings.ToLower(strings.Join(path, PathSep))
}

func splitPath(name string) []string {
	parts := strings.Split(name, PathSep)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// add records path unless it is already cached. It returns the entry a
// leaf lookup of path's last segment stays bound to when that is another
// path.
func (c *menuCache) add(path []string, el *element.Element) *menuEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := cacheKey(path)
	if _, ok := c.entries[k]; ok {
		return nil
	}
	c.entries[k] = &menuEntry{path: append([]string(nil), path...), el: el}
	c.order = append(c.order, k)
	if pk, ok := c.pinned[strings.ToLower(path[len(path)-1])]; ok && pk != k {
		return c.entries[pk]
	}
	return nil
}

// record adds a discovered command to the cache.
func (s *Session) record(path []string, el *element.Element) {
	bound := s.cache().add(path, el)
	if bound == nil {
		return
	}
	logger.With(map[string]interface{}{
		"session":  s.ID,
		"window":   fmt.Sprintf("%#x", s.hwnd),
		"leaf":     bound.leaf(),
		"resolved": bound.String(),
		"shadowed": strings.Join(path, PathSep),
	}).Warn("leaf name already resolved to another path; use the full path to reach the new one")
}

func (c *menuCache) markWalked(scope string, found []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.walked[strings.ToLower(scope)] = true
	c.hierarchy[scope] = found
	c.scopes = append(c.scopes, scope)
}

func (c *menuCache) isWalked(scope string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.walked[strings.ToLower(scope)]
}

// lookup resolves a leaf name or a full path. A leaf name resolves to the
// only discovered path ending in it and stays bound to that path, so scopes
// walked later never change the answer. Uniqueness is only known within the
// scopes walked so far. A leaf matching several paths before it was ever
// resolved is an error; the caller must use a path.
func (c *menuCache) lookup(name string) (*menuEntry, error) {
	path := splitPath(name)
	if len(path) == 0 {
		return nil, core.ErrMenuItemNotFound.Withf("empty command name")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(path) > 1 {
		return c.entries[cacheKey(path)], nil
	}
	leaf := strings.ToLower(path[0])
	if k, ok := c.pinned[leaf]; ok {
		return c.entries[k], nil
	}
	var matches []*menuEntry
	for _, k := range c.order {
		if e := c.entries[k]; strings.EqualFold(e.leaf(), path[0]) {
			matches = append(matches, e)
		}
	}
	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		c.pinned[leaf] = cacheKey(matches[0].path)
		return matches[0], nil
	}
	paths := make([]string, len(matches))
	for i, m := range matches {
		paths[i] = m.String()
	}
	return nil, core.ErrMenuItemAmbiguous.Withf("%q matches %s; use a full path", name, strings.Join(paths, ", "))
}

func (s *Session) cache() *menuCache {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.menus == nil {
		s.menus = newMenuCache()
	}
	return s.menus
}

// ResolveMenuItem returns the element for a menu item or toolbar button,
// walking menus that have not been walked yet when the name is unknown.
func (s *Session) ResolveMenuItem(name string) (*element.Element, error) {
	e, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	return e.el, nil
}

func (s *Session) resolve(name string) (*menuEntry, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	c := s.cache()
	if e, err := c.lookup(name); e != nil || err != nil {
		return e, err
	}
	if err := s.discover(name); err != nil {
		return nil, err
	}
	e, err := c.lookup(name)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, core.ErrMenuItemNotFound.Withf("%s: %q is not in any menu or toolbar (walked %s)", s, name, strings.Join(c.walkedScopes(), ", "))
	}
	return e, nil
}

func (c *menuCache) walkedScopes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.scopes...)
}

// discover walks toolbars once, then unwalked menu headers in native order
// until one of them yields name. A path only walks its own header.
func (s *Session) discover(name string) error {
	c := s.cache()
	root, err := s.Root()
	if err != nil {
		return err
	}
	path := splitPath(name)
	found := func() bool {
		e, err := c.lookup(name)
		return e != nil || err != nil
	}

	if !c.toolbars {
		if err := s.walkToolbars(root); err != nil {
			return err
		}
		c.toolbars = true
		if found() {
			return nil
		}
	}

	headers, err := menuHeaders(root)
	if err != nil {
		return err
	}
	for _, h := range headers {
		hn, err := h.Name()
		if err != nil {
			return err
		}
		if c.isWalked(hn) {
			continue
		}
		if len(path) > 1 && !strings.EqualFold(hn, path[0]) {
			continue
		}
		if err := s.walkHeader(h, hn); err != nil {
			return err
		}
		if found() {
			return nil
		}
	}
	return nil
}

// DiscoverAllMenus walks every menu header and toolbar and returns the
// resulting hierarchy.
func (s *Session) DiscoverAllMenus() (map[string][]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	c := s.cache()
	root, err := s.Root()
	if err != nil {
		return nil, err
	}
	if !c.toolbars {
		if err := s.walkToolbars(root); err != nil {
			return nil, err
		}
		c.toolbars = true
	}
	headers, err := menuHeaders(root)
	if err != nil {
		return nil, err
	}
	for _, h := range headers {
		hn, err := h.Name()
		if err != nil {
			return nil, err
		}
		if c.isWalked(hn) {
			continue
		}
		if err := s.walkHeader(h, hn); err != nil {
			return nil, err
		}
	}
	return s.MenuHierarchy(), nil
}

// MenuHierarchy returns, per walked menu header or toolbar, the discovered
// descendant paths relative to it in discovery order.
func (s *Session) MenuHierarchy() map[string][]string {
	c := s.cache()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]string, len(c.hierarchy))
	for k, v := range c.hierarchy {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// MenuPaths lists every cached command path, sorted.
func (s *Session) MenuPaths() []string {
	c := s.cache()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.String())
	}
	sort.Strings(out)
	return out
}

func menuHeaders(root *element.Element) ([]*element.Element, error) {
	bars, err := root.FindAllByRole(RoleMenuBar)
	if err != nil {
		return nil, err
	}
	var out []*element.Element
	for _, bar := range bars {
		children, err := bar.Children()
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			if r, err := c.Role(); err == nil && r == RoleMenuItem {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

func (s *Session) walkToolbars(root *element.Element) error {
	bars, err := root.FindAllByRole(RoleToolBar)
	if err != nil {
		return err
	}
	c := s.cache()
	for _, bar := range bars {
		bn, err := bar.Name()
		if err != nil {
			return err
		}
		buttons, err := bar.Children()
		if err != nil {
			return err
		}
		var found []string
		for _, b := range buttons {
			name, err := b.Name()
			if err != nil || name == "" {
				continue
			}
			s.record([]string{bn, name}, b)
			found = append(found, name)
		}
		c.markWalked(bn, found)
		logger.Debug("%s: toolbar %q has %d buttons", s, bn, len(found))
	}
	return nil
}

func (s *Session) walkHeader(h *element.Element, name string) error {
	var found []string
	if err := s.walkMenu(h, []string{name}, &found); err != nil {
		return err
	}
	s.cache().markWalked(name, found)
	logger.Debug("%s: menu %q walked, %d items", s, name, len(found))
	return nil
}

// walkMenu expands m, records every item under it (recursing into
// submenus) and collapses it again.
func (s *Session) walkMenu(m *element.Element, scope []string, found *[]string) error {
	if err := m.Expand(); err != nil {
		return fmt.Errorf("%s: expand menu %s: %w", s, strings.Join(scope, PathSep), err)
	}
	defer func() {
		if err := m.Collapse(); err != nil {
			logger.Debug("collapse %s: %v", strings.Join(scope, PathSep), err)
		}
	}()
	poll.Settle(s.cfg.MenuSettle)

	items, err := m.Children()
	if err != nil {
		return err
	}
	for _, it := range items {
		role, err := it.Role()
		if err != nil {
			return err
		}
		if role != RoleMenuItem {
			continue
		}
		name, err := it.Name()
		if err != nil {
			return err
		}
		if name == "" {
			continue
		}
		path := append(append([]string(nil), scope...), name)
		s.record(path, it)
		*found = append(*found, strings.Join(path[1:], PathSep))
		if it.Supports(desktop.CapExpandCollapse) {
			if err := s.walkMenu(it, path, found); err != nil {
				return err
			}
		}
	}
	return nil
}

// reresolve walks a cached path again from the window root after its
// element went stale.
func (s *Session) reresolve(e *menuEntry) (*element.Element, error) {
	root, err := s.Root()
	if err != nil {
		return nil, err
	}
	cur, err := root.FindDescendantByName(e.path[0])
	if err != nil {
		return nil, err
	}
	var opened []*element.Element
	defer func() {
		for i := len(opened) - 1; i >= 0; i-- {
			_ = opened[i].Collapse()
		}
	}()
	for _, seg := range e.path[1:] {
		if cur.Supports(desktop.CapExpandCollapse) {
			if err := cur.Expand(); err != nil {
				return nil, err
			}
			opened = append(opened, cur)
			poll.Settle(s.cfg.MenuSettle)
		}
		if cur, err = cur.FindChildByName(seg); err != nil {
			return nil, err
		}
	}
	return cur, nil
}

// invokeEntry invokes a cached command, re-resolving it once if the cached
// element has gone stale.
func (s *Session) invokeEntry(e *menuEntry) error {
	c := s.cache()
	c.mu.Lock()
	el := e.el
	c.mu.Unlock()

	err := el.Invoke()
	if !errors.Is(err, core.ErrStaleElement) {
		return err
	}
	logger.Debug("%s: cached %s is stale, resolving again", s, e)
	fresh, rerr := s.reresolve(e)
	if rerr != nil {
		return core.ErrStaleElement.Withf("%s: %s went stale and could not be found again: %v", s, e, rerr)
	}
	c.mu.Lock()
	e.el = fresh
	c.mu.Unlock()
	return fresh.Invoke()
}

// InvokeMenuItem runs a menu command or toolbar button and waits for the
// application to go idle before and after. Use InvokeMenuItemAsync for
// commands that open a modal window.
func (s *Session) InvokeMenuItem(name string) error {
	e, err := s.resolve(name)
	if err != nil {
		return err
	}
	if err := s.WaitForIdle(); err != nil {
		return err
	}
	logger.Debug("%s: invoke %s", s, e)
	if err := s.invokeEntry(e); err != nil {
		return fmt.Errorf("invoke %s: %w", e, err)
	}
	return s.WaitForIdle()
}

// InvokeMenuItemAsync runs a command that is expected to open a window and
// returns without waiting for it. Follow it with a popup wait. An invoke
// failure is returned by the next session call.
func (s *Session) InvokeMenuItemAsync(name string) error {
	e, err := s.resolve(name)
	if err != nil {
		return err
	}
	if err := s.WaitForIdle(); err != nil {
		return err
	}
	logger.Debug("%s: invoke %s (async)", s, e)
	go func() {
		if err := s.invokeEntry(e); err != nil {
			s.setAsyncErr(fmt.Errorf("invoke %s: %w", e, err))
		}
	}()
	return nil
}
