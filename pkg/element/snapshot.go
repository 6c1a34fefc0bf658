package element

import "github.com/devicelab-dev/desk-runner/pkg/core"

// NodeInfo is a serializable copy of a subtree, used for failure artifacts.
type NodeInfo struct {
	Name     string      `json:"name"`
	Role     string      `json:"role"`
	Bounds   core.Bounds `json:"bounds"`
	Visible  bool        `json:"visible"`
	Children []*NodeInfo `json:"children,omitempty"`
}

// Snapshot copies the subtree rooted at e down to maxDepth levels. Nodes
// that disappear while being copied are left out.
func (e *Element) Snapshot(maxDepth int) (*NodeInfo, error) {
	info := e.Info()
	out := &NodeInfo{Name: info.Name, Role: info.Role, Bounds: info.Bounds, Visible: info.Visible}
	if maxDepth <= 0 {
		return out, nil
	}
	children, err := e.rawChildren()
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		ci, err := c.Snapshot(maxDepth - 1)
		if err != nil {
			continue
		}
		out.Children = append(out.Children, ci)
	}
	return out, nil
}
