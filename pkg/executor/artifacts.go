package executor

import (
	"encoding/json"
	"fmt"

	"github.com/devicelab-dev/desk-runner/pkg/core"
	"github.com/devicelab-dev/desk-runner/pkg/logger"
	"github.com/devicelab-dev/desk-runner/pkg/window"
)

// hierarchyDepth bounds the accessibility tree copied into artifacts.
const hierarchyDepth = 12

// sessionArtifacts captures debug artifacts from a window session.
type sessionArtifacts struct {
	sess *window.Session
}

var _ core.ArtifactCollector = sessionArtifacts{}

// CaptureHierarchy returns the window's accessibility tree as JSON.
func (a sessionArtifacts) CaptureHierarchy() ([]byte, error) {
	root, err := a.sess.Root()
	if err != nil {
		return nil, err
	}
	snap, err := root.Snapshot(hierarchyDepth)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(snap, "", "  ")
}

// CaptureMenus returns the menu hierarchy discovered so far. Menus are not
// expanded to build it.
func (a sessionArtifacts) CaptureMenus() ([]byte, error) {
	return json.MarshalIndent(a.sess.MenuHierarchy(), "", "  ")
}

// collector returns the artifact source for the active window.
func (fr *FlowRunner) collector() core.ArtifactCollector {
	if fr.active == nil {
		return core.NullArtifactCollector{}
	}
	return sessionArtifacts{sess: fr.active}
}

// captureArtifacts collects the configured artifacts. Capture failures are
// logged and never fail the step.
func (fr *FlowRunner) captureArtifacts() []core.Attachment {
	c := fr.collector()
	fr.assetSeq++
	var out []core.Attachment

	if fr.config.Artifacts.Hierarchy {
		if data, err := c.CaptureHierarchy(); err != nil {
			logger.Debug("hierarchy capture: %v", err)
		} else if len(data) > 0 {
			path := fmt.Sprintf("%s/%03d-hierarchy.json", fr.assetPrefix, fr.assetSeq)
			out = append(out, core.NewHierarchyAttachment(path, data))
		}
	}
	if fr.config.Artifacts.Menus {
		if data, err := c.CaptureMenus(); err != nil {
			logger.Debug("menus capture: %v", err)
		} else if len(data) > 0 {
			path := fmt.Sprintf("%s/%03d-menus.json", fr.assetPrefix, fr.assetSeq)
			out = append(out, core.NewMenusAttachment(path, data))
		}
	}
	return out
}
