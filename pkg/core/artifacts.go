// Package core provides the execution model types for desk-runner.
package core

// Attachment represents a debug artifact captured during step execution
type Attachment struct {
	Name        string `json:"name"`        // Descriptive name: hierarchy, menus, log
	ContentType string `json:"contentType"` // MIME type: application/json, text/plain
	Path        string `json:"path"`        // File path relative to output directory
	Body        []byte `json:"-"`           // In-memory content (not serialized to JSON)
}

// Common attachment names
const (
	AttachmentHierarchy = "hierarchy"
	AttachmentMenus     = "menus"
	AttachmentLog       = "log"
)

// Common content types
const (
	ContentTypeJSON = "application/json"
	ContentTypeText = "text/plain"
)

// NewHierarchyAttachment creates an accessibility tree attachment
func NewHierarchyAttachment(path string, data []byte) Attachment {
	return Attachment{
		Name:        AttachmentHierarchy,
		ContentType: ContentTypeJSON,
		Path:        path,
		Body:        data,
	}
}

// NewMenusAttachment creates an attachment holding the discovered menu hierarchy
func NewMenusAttachment(path string, data []byte) Attachment {
	return Attachment{
		Name:        AttachmentMenus,
		ContentType: ContentTypeJSON,
		Path:        path,
		Body:        data,
	}
}

// ArtifactConfig controls when and what artifacts are captured
type ArtifactConfig struct {
	// When to capture
	CaptureOnFailure bool `yaml:"captureOnFailure" json:"captureOnFailure"` // Default: true
	CaptureOnSuccess bool `yaml:"captureOnSuccess" json:"captureOnSuccess"` // Default: false

	// What to capture
	Hierarchy bool `yaml:"hierarchy" json:"hierarchy"` // Default: true
	Menus     bool `yaml:"menus" json:"menus"`         // Default: false (expands every menu)
}

// DefaultArtifactConfig returns sensible defaults for artifact capture
func DefaultArtifactConfig() ArtifactConfig {
	return ArtifactConfig{
		CaptureOnFailure: true,
		CaptureOnSuccess: false,
		Hierarchy:        true,
		Menus:            false,
	}
}

// ShouldCapture returns true if artifacts should be captured for the given status
func (c ArtifactConfig) ShouldCapture(status StepStatus) bool {
	switch status {
	case StatusFailed, StatusErrored:
		return c.CaptureOnFailure
	case StatusPassed:
		return c.CaptureOnSuccess
	default:
		return false
	}
}

// ArtifactCollector defines the interface for capturing debug artifacts.
// The executor implements it over the active window session.
type ArtifactCollector interface {
	// CaptureHierarchy captures the accessibility tree of the active window as JSON
	CaptureHierarchy() ([]byte, error)

	// CaptureMenus captures the discovered menu hierarchy as JSON
	CaptureMenus() ([]byte, error)
}

// NullArtifactCollector is a no-op implementation for testing
type NullArtifactCollector struct{}

// CaptureHierarchy returns nil (no-op)
func (n NullArtifactCollector) CaptureHierarchy() ([]byte, error) { return nil, nil }

// CaptureMenus returns nil (no-op)
func (n NullArtifactCollector) CaptureMenus() ([]byte, error) { return nil, nil }
