package element

import (
	"github.com/devicelab-dev/desk-runner/pkg/core"
	"github.com/devicelab-dev/desk-runner/pkg/desktop"
)

// Select makes e the only selected item of its container.
func (e *Element) Select() error {
	si, err := capability[desktop.SelectionItem](e, desktop.CapSelectionItem)
	if err != nil {
		return err
	}
	if err := si.Select(); err != nil {
		return e.fail("select", err)
	}
	return nil
}

// AddToSelection adds e to a multiple selection.
func (e *Element) AddToSelection() error {
	si, err := capability[desktop.SelectionItem](e, desktop.CapSelectionItem)
	if err != nil {
		return err
	}
	if err := si.AddToSelection(); err != nil {
		return e.fail("add to selection", err)
	}
	return nil
}

// RemoveFromSelection removes e from the selection.
func (e *Element) RemoveFromSelection() error {
	si, err := capability[desktop.SelectionItem](e, desktop.CapSelectionItem)
	if err != nil {
		return err
	}
	if err := si.RemoveFromSelection(); err != nil {
		return e.fail("remove from selection", err)
	}
	return nil
}

// IsSelected reports whether e is selected.
func (e *Element) IsSelected() (bool, error) {
	si, err := capability[desktop.SelectionItem](e, desktop.CapSelectionItem)
	if err != nil {
		return false, err
	}
	ok, err := si.IsSelected()
	if err != nil {
		return false, e.fail("read selection", err)
	}
	return ok, nil
}

// SelectedChild returns the first item the container reports selected.
func (e *Element) SelectedChild() (*Element, error) {
	if e.node.Supports(desktop.CapSelection) {
		sc, err := capability[desktop.SelectionContainer](e, desktop.CapSelection)
		if err != nil {
			return nil, err
		}
		sel, err := sc.Selection()
		if err != nil {
			return nil, e.fail("read selection", err)
		}
		if len(sel) == 0 {
			return nil, core.ErrNotFound.Withf("%s has no selected item", e)
		}
		return New(e.env, sel[0]), nil
	}

	children, err := e.rawChildren()
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		if !c.node.Supports(desktop.CapSelectionItem) {
			continue
		}
		ok, err := c.IsSelected()
		if err != nil {
			return nil, err
		}
		if ok {
			return c, nil
		}
	}
	return nil, core.ErrNotFound.Withf("%s has no selected item", e)
}
