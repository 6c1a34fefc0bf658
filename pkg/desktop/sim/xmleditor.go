package sim

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/devicelab-dev/desk-runner/pkg/core"
	"github.com/devicelab-dev/desk-runner/pkg/desktop"
)

// XMLEditorPath is the launch path of the simulated XML editor.
const XMLEditorPath = "xmleditor.exe"

// Tree layout of the editor.
const (
	RowHeight   = 20
	RowIndent   = 16
	TreeTop     = 60
	TreeRows    = 30
	treeWidth   = 400
	popupDelay  = 30 * time.Millisecond
	launchDelay = 20 * time.Millisecond
)

// Menu layout of the editor: header, then items. An item ending in "/"
// opens a nested submenu listed under its own key.
var editorMenus = []struct {
	header string
	items  []string
}{
	{"File", []string{"New", "Open", "Save", "Save As", "Exit"}},
	{"Edit", []string{"Undo", "Redo", "Delete", "Insert/"}},
	{"Insert", []string{"InsertElementBefore", "InsertElementAfter", "InsertElementChild", "InsertAttribute"}},
	{"View", []string{"Status Bar", "Word Wrap"}},
}

var editorToolbar = []string{"NewButton", "OpenButton", "SaveButton", "UndoButton", "RedoButton"}

type xmlItem struct {
	name     string
	value    string
	attr     bool
	parent   *xmlItem
	children []*xmlItem
}

func (x *xmlItem) clone(parent *xmlItem) *xmlItem {
	c := &xmlItem{name: x.name, value: x.value, attr: x.attr, parent: parent}
	for _, k := range x.children {
		c.children = append(c.children, k.clone(c))
	}
	return c
}

func (x *xmlItem) index() int {
	if x.parent == nil {
		return 0
	}
	for i, c := range x.parent.children {
		if c == x {
			return i
		}
	}
	return -1
}

func (x *xmlItem) detach() {
	if p := x.parent; p != nil {
		i := x.index()
		p.children = append(p.children[:i:i], p.children[i+1:]...)
		x.parent = nil
	}
}

func (x *xmlItem) insert(i int, c *xmlItem) {
	c.parent = x
	x.children = append(x.children, nil)
	copy(x.children[i+1:], x.children[i:])
	x.children[i] = c
}

func (x *xmlItem) isAncestorOf(y *xmlItem) bool {
	for p := y.parent; p != nil; p = p.parent {
		if p == x {
			return true
		}
	}
	return false
}

// firstElement is the index of the first element child, after attributes.
func (x *xmlItem) firstElement() int {
	for i, c := range x.children {
		if !c.attr {
			return i
		}
	}
	return len(x.children)
}

// XMLEditor is a simulated tree-based XML editor: a menu bar, a toolbar,
// a tree of elements and attributes editable in place, file dialogs and
// an undo stack.
type XMLEditor struct {
	d   *Desktop
	p   *Process
	dir string

	mu       sync.Mutex
	file     string
	doc      *xmlItem
	dirty    bool
	undo     []*xmlItem
	redo     []*xmlItem
	selected *xmlItem

	editing  *xmlItem
	editName bool
	fresh    bool
	buf      string
	selAll   bool

	main  desktop.WindowHandle
	tree  *Node
	nodes map[*xmlItem]*Node
	items map[*Node]*xmlItem
}

// NewXMLEditor returns an App that starts the editor. Relative file paths
// are resolved against dir. The first launch argument, if any, is a file
// to open.
func NewXMLEditor(dir string, started func(*XMLEditor)) App {
	return func(d *Desktop, p *Process, args []string) error {
		e := &XMLEditor{d: d, p: p, dir: dir}
		if len(args) > 0 && args[0] != "" {
			if err := e.load(args[0]); err != nil {
				return err
			}
		}
		w := e.buildMain()
		time.AfterFunc(launchDelay, func() {
			h := d.OpenWindow(w)
			e.mu.Lock()
			e.main = h
			e.mu.Unlock()
			p.SetMainWindow(h)
		})
		if started != nil {
			started(e)
		}
		return nil
	}
}

func (e *XMLEditor) title() string {
	if e.file == "" {
		return "XML Editor - Untitled"
	}
	return "XML Editor - " + filepath.Base(e.file)
}

func (e *XMLEditor) path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(e.dir, name)
}

func (e *XMLEditor) buildMain() *Window {
	d := e.d
	frame := core.Bounds{X: 0, Y: 0, Width: 1024, Height: 768}
	root := d.NewNode("Window", e.title()).WithBounds(frame)

	bar := d.NewNode("MenuBar", "MenuBar").WithBounds(core.Bounds{Width: 1024, Height: 20})
	submenus := make(map[string][]string)
	for _, m := range editorMenus {
		submenus[m.header] = m.items
	}
	var build func(name string) *Node
	build = func(name string) *Node {
		if len(name) > 0 && name[len(name)-1] == '/' {
			name = name[:len(name)-1]
			h := d.NewNode("MenuItem", name).Expandable(nil)
			for _, it := range submenus[name] {
				h.Add(build(it))
			}
			return h
		}
		item := d.NewNode("MenuItem", name)
		switch name {
		case "Status Bar":
			item.WithToggle(desktop.ToggleOn, twoState)
		case "Word Wrap":
			item.WithToggle(desktop.ToggleOff, twoState)
		default:
			cmd := name
			item.OnInvoke(func() error { return e.command(cmd) })
		}
		return item
	}
	for i, h := range []string{"File", "Edit", "View"} {
		bar.Add(build(h + "/").WithBounds(core.Bounds{X: i * 50, Width: 50, Height: 20}))
	}

	tb := d.NewNode("ToolBar", "ToolBar").WithBounds(core.Bounds{Y: 20, Width: 1024, Height: 30})
	for i, b := range editorToolbar {
		cmd := b
		tb.Add(d.NewNode("Button", b).
			WithBounds(core.Bounds{X: i * 30, Y: 20, Width: 30, Height: 30}).
			OnInvoke(func() error { return e.command(cmd) }))
	}

	e.tree = d.NewNode("Tree", "XmlTree").
		WithBounds(core.Bounds{Y: TreeTop, Width: treeWidth, Height: TreeRows * RowHeight}).
		MultiSelect()
	root.Add(bar, tb, e.tree)

	e.mu.Lock()
	e.rebuildLocked()
	e.mu.Unlock()

	return &Window{
		Title:       e.title(),
		Bounds:      frame,
		Root:        root,
		BusySamples: 1,
		OnKey:       e.windowKey,
		OnClose:     e.requestClose,
		OnDrop:      e.drop,
	}
}

func twoState(s desktop.ToggleState) desktop.ToggleState {
	if s == desktop.ToggleOn {
		return desktop.ToggleOff
	}
	return desktop.ToggleOn
}

// rebuildLocked replaces every tree row. Rows of the previous layout go
// stale.
func (e *XMLEditor) rebuildLocked() {
	e.nodes = make(map[*xmlItem]*Node)
	e.items = make(map[*Node]*xmlItem)
	row := 0
	var build func(x *xmlItem, depth int) *Node
	build = func(x *xmlItem, depth int) *Node {
		n := e.d.NewNode("TreeItem", x.name).
			WithBounds(core.Bounds{
				X:      depth * RowIndent,
				Y:      TreeTop + row*RowHeight,
				Width:  treeWidth - depth*RowIndent,
				Height: RowHeight,
			}).
			Selectable()
		if row >= TreeRows {
			n.Hidden()
		}
		row++
		item := x
		n.selected = x == e.selected
		n.OnSelect(func() { e.selectItem(item) })
		n.OnKey(func(k string) bool { return e.itemKey(item, k) })
		e.nodes[x] = n
		e.items[n] = x
		for _, c := range x.children {
			n.Add(build(c, depth+1))
		}
		return n
	}

	var top []*Node
	if e.doc != nil {
		top = append(top, build(e.doc, 0))
	}

	hadFocus := e.treeHasFocus(e.d.Focused())
	e.tree.SetChildren(top...)
	if hadFocus {
		target := e.editing
		if target == nil {
			target = e.selected
		}
		if n := e.nodes[target]; n != nil {
			_ = n.SetFocus()
		} else {
			_ = e.tree.SetFocus()
		}
	}
}

// treeHasFocus reports whether n is the tree or one of its rows.
func (e *XMLEditor) treeHasFocus(n *Node) bool {
	if n == nil {
		return false
	}
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	for p := n; p != nil; p = p.parent {
		if p == e.tree {
			return true
		}
	}
	return false
}

func (e *XMLEditor) selectItem(x *xmlItem) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.selected = x
	e.d.mu.Lock()
	for item, n := range e.nodes {
		n.selected = item == x
	}
	e.d.mu.Unlock()
}

func (e *XMLEditor) checkpointLocked() {
	var snap *xmlItem
	if e.doc != nil {
		snap = e.doc.clone(nil)
	}
	e.undo = append(e.undo, snap)
	e.redo = nil
	e.dirty = true
}

func (e *XMLEditor) command(name string) error {
	switch name {
	case "New", "NewButton":
		e.mu.Lock()
		e.doc, e.file, e.dirty, e.selected = nil, "", false, nil
		e.undo, e.redo = nil, nil
		e.rebuildLocked()
		e.mu.Unlock()
		e.retitle()
	case "Open", "OpenButton":
		e.fileDialog("Open", "Open", e.open)
	case "Save", "SaveButton":
		e.mu.Lock()
		file := e.file
		e.mu.Unlock()
		if file == "" {
			e.fileDialog("Save As", "Save", e.saveAs)
			return nil
		}
		return e.saveAs(file)
	case "Save As":
		e.fileDialog("Save As", "Save", e.saveAs)
	case "Exit":
		if h := e.mainWindow(); h != 0 {
			return e.d.CloseWindow(h)
		}
	case "Undo", "UndoButton":
		e.history(&e.undo, &e.redo)
	case "Redo", "RedoButton":
		e.history(&e.redo, &e.undo)
	case "Delete":
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.deleteLocked()
	case "InsertElementChild", "InsertElementBefore", "InsertElementAfter", "InsertAttribute":
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.insertLocked(name)
	default:
		return fmt.Errorf("xmleditor: unknown command %q", name)
	}
	return nil
}

func (e *XMLEditor) mainWindow() desktop.WindowHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.main
}

func (e *XMLEditor) retitle() {
	e.mu.Lock()
	t, h := e.title(), e.main
	e.mu.Unlock()
	if h != 0 {
		e.d.SetTitle(h, t)
	}
}

func (e *XMLEditor) history(from, to *[]*xmlItem) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(*from) == 0 {
		return
	}
	var cur *xmlItem
	if e.doc != nil {
		cur = e.doc.clone(nil)
	}
	*to = append(*to, cur)
	e.doc = (*from)[len(*from)-1]
	*from = (*from)[:len(*from)-1]
	e.selected, e.editing = nil, nil
	e.dirty = true
	e.rebuildLocked()
}

func (e *XMLEditor) insertLocked(cmd string) error {
	item := &xmlItem{attr: cmd == "InsertAttribute"}
	sel := e.selected
	if sel != nil && sel.attr {
		sel = sel.parent
	}

	switch {
	case e.doc == nil:
		if cmd != "InsertElementChild" {
			return fmt.Errorf("xmleditor: %s needs a root element", cmd)
		}
		e.checkpointLocked()
		e.doc = item
	case cmd == "InsertAttribute":
		if sel == nil {
			sel = e.doc
		}
		e.checkpointLocked()
		sel.insert(sel.firstElement(), item)
	case cmd == "InsertElementChild":
		if sel == nil {
			sel = e.doc
		}
		e.checkpointLocked()
		sel.insert(len(sel.children), item)
	default:
		if sel == nil || sel.parent == nil {
			return fmt.Errorf("xmleditor: %s needs a selected non-root element", cmd)
		}
		i := sel.index()
		if cmd == "InsertElementAfter" {
			i++
		}
		e.checkpointLocked()
		sel.parent.insert(i, item)
	}

	e.selected = item
	e.editing, e.editName, e.fresh = item, true, true
	e.buf, e.selAll = "", false
	e.rebuildLocked()
	if n := e.nodes[item]; n != nil {
		_ = n.SetFocus()
	}
	return nil
}

func (e *XMLEditor) deleteLocked() error {
	x := e.selected
	if x == nil {
		return errors.New("xmleditor: nothing selected")
	}
	e.checkpointLocked()
	if x == e.doc {
		e.doc = nil
	} else {
		x.detach()
	}
	e.selected = nil
	e.rebuildLocked()
	return nil
}

// itemKey handles keys sent to a focused row: Enter or F2 starts in-place
// editing, and while editing the row behaves like a text box.
func (e *XMLEditor) itemKey(x *xmlItem, k string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.editing != x {
		switch k {
		case "{ENTER}", "{F2}":
			e.editing, e.editName, e.fresh = x, !x.attr, false
			e.buf, e.selAll = x.name, false
			if x.attr {
				e.buf = x.value
			}
			return true
		case "{DEL}":
			e.selected = x
			_ = e.deleteLocked()
			return true
		}
		return false
	}

	switch k {
	case "^a":
		e.selAll = true
	case "^c":
		if e.selAll {
			e.d.mu.Lock()
			e.d.clip = e.buf
			e.d.mu.Unlock()
		}
	case "^v":
		e.d.mu.Lock()
		clip := e.d.clip
		e.d.mu.Unlock()
		e.typeLocked(clip)
	case "{BS}":
		if e.selAll {
			e.buf, e.selAll = "", false
		} else if r := []rune(e.buf); len(r) > 0 {
			e.buf = string(r[:len(r)-1])
		}
	case "{ENTER}":
		e.commitLocked()
	case "{ESC}":
		e.cancelLocked()
	default:
		if len([]rune(k)) != 1 {
			return true
		}
		e.typeLocked(k)
	}
	return true
}

func (e *XMLEditor) typeLocked(s string) {
	if e.selAll {
		e.buf, e.selAll = s, false
		return
	}
	e.buf += s
}

func (e *XMLEditor) commitLocked() {
	x := e.editing
	e.editing = nil
	if x.attr && e.editName {
		// A fresh attribute is named first, then valued.
		if e.buf == "" {
			e.dropFreshLocked(x)
			return
		}
		x.name = e.buf
		e.editing, e.editName, e.fresh = x, false, false
		e.buf, e.selAll = x.value, false
		e.rebuildLocked()
		return
	}

	switch {
	case e.buf == "" && e.fresh:
		e.dropFreshLocked(x)
		return
	case x.attr:
		if x.value == e.buf {
			return
		}
		if !e.fresh {
			e.checkpointLocked()
		}
		x.value = e.buf
	default:
		if x.name == e.buf || e.buf == "" {
			return
		}
		if !e.fresh {
			e.checkpointLocked()
		}
		x.name = e.buf
	}
	e.fresh = false
	e.dirty = true
	e.rebuildLocked()
}

func (e *XMLEditor) cancelLocked() {
	x := e.editing
	e.editing = nil
	if e.fresh {
		e.dropFreshLocked(x)
	}
}

// dropFreshLocked undoes the insertion of an item that was never named.
func (e *XMLEditor) dropFreshLocked(x *xmlItem) {
	e.fresh = false
	if n := len(e.undo); n > 0 {
		e.doc = e.undo[n-1]
		e.undo = e.undo[:n-1]
	} else if x == e.doc {
		e.doc = nil
	} else {
		x.detach()
	}
	e.selected = nil
	e.rebuildLocked()
}

func (e *XMLEditor) windowKey(k string) bool {
	switch k {
	case "^n":
		_ = e.command("New")
	case "^o":
		_ = e.command("Open")
	case "^s":
		_ = e.command("Save")
	case "^z":
		_ = e.command("Undo")
	case "^y":
		_ = e.command("Redo")
	default:
		return false
	}
	return true
}

// drop moves the element under src in front of the element under dst.
func (e *XMLEditor) drop(src, dst *Node) {
	e.mu.Lock()
	defer e.mu.Unlock()
	from, to := e.items[src], e.items[dst]
	if from == nil || to == nil || from.attr || to.attr || from == to {
		return
	}
	if to.parent == nil || from.isAncestorOf(to) || from.parent == nil {
		return
	}
	e.checkpointLocked()
	from.detach()
	to.parent.insert(to.index(), from)
	e.selected = from
	e.rebuildLocked()
}

func (e *XMLEditor) requestClose() bool {
	e.mu.Lock()
	dirty, main := e.dirty, e.main
	e.mu.Unlock()
	if !dirty {
		e.p.Exit(0)
		return false
	}

	var box *Window
	reply := func(k string) bool {
		switch k {
		case "y", "{ENTER}":
			e.mu.Lock()
			file := e.file
			e.mu.Unlock()
			if file != "" {
				_ = e.saveAs(file)
			}
			e.p.Exit(0)
		case "n":
			e.p.Exit(0)
		case "{ESC}":
			e.d.DestroyWindow(box.Handle)
		default:
			return false
		}
		return true
	}
	root := e.d.NewNode("Window", "XML Editor").WithBounds(core.Bounds{X: 300, Y: 300, Width: 300, Height: 120})
	root.Add(
		e.d.NewNode("Text", "Save changes to the document?"),
		e.d.NewNode("Button", "Yes").OnInvoke(func() error { reply("y"); return nil }),
		e.d.NewNode("Button", "No").OnInvoke(func() error { reply("n"); return nil }),
		e.d.NewNode("Button", "Cancel").OnInvoke(func() error { reply("{ESC}"); return nil }),
	)
	box = &Window{
		Title:             "XML Editor",
		Owner:             main,
		Bounds:            core.Bounds{X: 300, Y: 300, Width: 300, Height: 120},
		Root:              root,
		DegenerateSamples: 1,
		OnKey:             reply,
	}
	e.openPopup(box, nil)
	return false
}

func (e *XMLEditor) openPopup(w *Window, focus *Node) {
	time.AfterFunc(popupDelay, func() {
		h := e.d.OpenWindow(w)
		e.p.Own(h)
		if focus != nil {
			_ = focus.SetFocus()
		}
	})
}

// fileDialog shows a modal file name prompt. apply runs with the resolved
// path when the action button (or Enter) is used.
func (e *XMLEditor) fileDialog(title, action string, apply func(path string) error) {
	d := e.d
	var (
		text   string
		selAll bool
		w      *Window
	)
	frame := core.Bounds{X: 200, Y: 200, Width: 420, Height: 160}
	edit := d.NewNode("Edit", "File name:").
		WithBounds(core.Bounds{X: 220, Y: 240, Width: 300, Height: 24}).
		WithValue(
			func() string { return text },
			func(s string) error { text = s; return nil },
		)
	edit.OnKey(func(k string) bool {
		switch {
		case k == "^a":
			selAll = true
		case k == "^v":
			clip, _ := d.Text()
			if selAll {
				text = ""
			}
			text, selAll = text+clip, false
		case k == "{BS}":
			if r := []rune(text); len(r) > 0 && !selAll {
				text = string(r[:len(r)-1])
			} else {
				text = ""
			}
			selAll = false
		case len([]rune(k)) == 1:
			if selAll {
				text = ""
			}
			text, selAll = text+k, false
		default:
			return false
		}
		return true
	})

	done := func() {
		d.DestroyWindow(w.Handle)
	}
	confirm := func() error {
		name := text
		done()
		if name == "" {
			return nil
		}
		return apply(e.path(name))
	}
	root := d.NewNode("Window", title).WithBounds(frame)
	root.Add(
		edit,
		d.NewNode("Button", action).WithBounds(core.Bounds{X: 440, Y: 320, Width: 80, Height: 24}).OnInvoke(confirm),
		d.NewNode("Button", "Cancel").WithBounds(core.Bounds{X: 530, Y: 320, Width: 80, Height: 24}).
			OnInvoke(func() error { done(); return nil }),
	)
	w = &Window{
		Title:             title,
		Owner:             e.mainWindow(),
		Bounds:            frame,
		Root:              root,
		DegenerateSamples: 2,
		BusySamples:       1,
		OnKey: func(k string) bool {
			switch k {
			case "{ENTER}":
				_ = confirm()
			case "{ESC}":
				done()
			default:
				return false
			}
			return true
		},
	}
	e.openPopup(w, edit)
}

func (e *XMLEditor) open(path string) error {
	if err := e.load(path); err != nil {
		return err
	}
	e.mu.Lock()
	e.rebuildLocked()
	e.mu.Unlock()
	e.retitle()
	return nil
}

func (e *XMLEditor) load(path string) error {
	f, err := os.Open(e.path(path))
	if err != nil {
		return fmt.Errorf("xmleditor: open: %w", err)
	}
	defer f.Close()
	doc, err := decodeXML(f)
	if err != nil {
		return fmt.Errorf("xmleditor: parse %s: %w", path, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.doc, e.file, e.dirty = doc, e.path(path), false
	e.undo, e.redo, e.selected, e.editing = nil, nil, nil, nil
	return nil
}

func (e *XMLEditor) saveAs(path string) error {
	e.mu.Lock()
	var buf bytes.Buffer
	err := encodeXML(&buf, e.doc)
	e.mu.Unlock()
	if err != nil {
		return fmt.Errorf("xmleditor: encode: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("xmleditor: save: %w", err)
	}
	e.mu.Lock()
	e.file, e.dirty = path, false
	e.mu.Unlock()
	e.retitle()
	return nil
}

// Document returns the current document as XML text.
func (e *XMLEditor) Document() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var buf bytes.Buffer
	_ = encodeXML(&buf, e.doc)
	return buf.String()
}

// Dirty reports unsaved changes.
func (e *XMLEditor) Dirty() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dirty
}

func decodeXML(r io.Reader) (*xmlItem, error) {
	dec := xml.NewDecoder(r)
	var root, cur *xmlItem
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			el := &xmlItem{name: t.Name.Local}
			for _, a := range t.Attr {
				el.insert(len(el.children), &xmlItem{name: a.Name.Local, value: a.Value, attr: true})
			}
			if cur == nil {
				if root != nil {
					return nil, errors.New("multiple root elements")
				}
				root = el
			} else {
				cur.insert(len(cur.children), el)
			}
			cur = el
		case xml.EndElement:
			cur = cur.parent
		}
	}
	if root == nil {
		return nil, errors.New("no root element")
	}
	return root, nil
}

func encodeXML(w io.Writer, doc *xmlItem) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	var emit func(x *xmlItem) error
	emit = func(x *xmlItem) error {
		start := xml.StartElement{Name: xml.Name{Local: x.name}}
		for _, c := range x.children {
			if c.attr {
				start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: c.name}, Value: c.value})
			}
		}
		if err := enc.EncodeToken(start); err != nil {
			return err
		}
		for _, c := range x.children {
			if !c.attr {
				if err := emit(c); err != nil {
					return err
				}
			}
		}
		return enc.EncodeToken(start.End())
	}
	if doc != nil {
		if err := emit(doc); err != nil {
			return err
		}
	}
	return enc.Flush()
}
