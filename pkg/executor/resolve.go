package executor

import (
	"errors"
	"strconv"
	"strings"

	"github.com/devicelab-dev/desk-runner/pkg/core"
	"github.com/devicelab-dev/desk-runner/pkg/element"
	"github.com/devicelab-dev/desk-runner/pkg/flow"
	"github.com/devicelab-dev/desk-runner/pkg/logger"
	"github.com/devicelab-dev/desk-runner/pkg/poll"
	"github.com/devicelab-dev/desk-runner/pkg/window"
)

// session returns the window steps act on. A popup that has closed since
// it was waited for hands over to its owner.
func (fr *FlowRunner) session() (*window.Session, error) {
	for fr.active != nil && fr.active.Owner() != nil {
		if _, err := fr.desk.Windows.WindowTitle(fr.active.Handle()); err == nil {
			break
		}
		logger.Debug("popup %#x has closed, back to its owner", fr.active.Handle())
		fr.active.MarkDone()
		fr.active = fr.active.Owner()
	}
	if fr.active == nil {
		return nil, core.ErrMissingRequired.Withf("no application is running; start one with launchApp")
	}
	return fr.active, nil
}

// find resolves sel in the active window, sampling until it appears.
func (fr *FlowRunner) find(sel flow.Selector) (*element.Element, error) {
	t := fr.config.Timing
	var last error
	e, err := poll.Observe(poll.Every(t.ReadyTick, t.ReadyRetries), func(int) (*element.Element, bool, error) {
		e, err := fr.lookup(sel)
		if errors.Is(err, core.ErrNotFound) {
			last = err
			return nil, false, nil
		}
		return e, err == nil, err
	})
	if errors.Is(err, poll.ErrExhausted) && last != nil {
		return nil, last
	}
	return e, err
}

// lookup resolves sel once.
//
// Name alone finds the first match in depth-first order. Role narrows the
// candidates and Index picks among them; Within scopes the search to the
// first descendant with that name.
func (fr *FlowRunner) lookup(sel flow.Selector) (*element.Element, error) {
	if sel.IsEmpty() {
		return nil, core.ErrMissingRequired.Withf("selector needs a name or a role")
	}
	s, err := fr.session()
	if err != nil {
		return nil, err
	}
	scope, err := s.Root()
	if err != nil {
		return nil, err
	}
	if sel.Within != "" {
		if scope, err = scope.FindDescendantByName(sel.Within); err != nil {
			return nil, err
		}
	}

	index := 0
	if sel.Index != "" {
		if index, err = strconv.Atoi(strings.TrimSpace(sel.Index)); err != nil || index < 0 {
			return nil, core.ErrInvalidConfig.Withf("selector %s: index %q is not a non-negative integer", sel.DescribeQuoted(), sel.Index)
		}
	}

	if sel.Role == "" && index == 0 {
		return scope.FindDescendantByName(sel.Name)
	}

	var candidates []*element.Element
	if sel.Role == "" {
		candidates, err = scope.FindAllByName(sel.Name)
	} else {
		candidates, err = byRoleAndName(scope, sel.Role, sel.Name)
	}
	if err != nil {
		return nil, err
	}
	if index >= len(candidates) {
		return nil, core.ErrNotFound.Withf("%s: %d match(es) for %s, index %d out of range", s, len(candidates), sel.DescribeQuoted(), index)
	}
	return candidates[index], nil
}

func byRoleAndName(scope *element.Element, role, name string) ([]*element.Element, error) {
	all, err := scope.FindAllByRole(role)
	if err != nil || name == "" {
		return all, err
	}
	var out []*element.Element
	for _, e := range all {
		n, err := e.Name()
		if err != nil {
			continue
		}
		if strings.EqualFold(n, name) {
			out = append(out, e)
		}
	}
	return out, nil
}

// isVisible samples sel once. A missing node is not visible.
func (fr *FlowRunner) isVisible(sel flow.Selector) (bool, error) {
	e, err := fr.lookup(sel)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return e.IsVisible()
}
