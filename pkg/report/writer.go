package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/devicelab-dev/desk-runner/pkg/core"
)

// FlowID is the report ID of the flow at index idx (0-based). Flow details
// and assets are filed under it.
func FlowID(idx int, name string) string {
	return fmt.Sprintf("%03d-%s", idx+1, slug(name))
}

// AssetsDir is the report-relative directory of a flow's attachments.
func AssetsDir(idx int, name string) string {
	return "assets/" + FlowID(idx, name)
}

// slug turns a flow name into a file name component.
func slug(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "-") {
				b.WriteByte('-')
			}
		}
	}
	s := strings.TrimSuffix(b.String(), "-")
	if s == "" {
		return "flow"
	}
	return s
}

// Writer maintains a report directory while a run progresses.
type Writer struct {
	dir string

	mu    sync.Mutex
	index *Index
}

// NewWriter creates the report skeleton: every flow pending.
func NewWriter(dir string, meta Meta, flows []FlowRef) (*Writer, error) {
	if err := ensureDir(filepath.Join(dir, "flows")); err != nil {
		return nil, fmt.Errorf("create flows dir: %w", err)
	}
	if err := ensureDir(filepath.Join(dir, "assets")); err != nil {
		return nil, fmt.Errorf("create assets dir: %w", err)
	}

	index := &Index{
		Version:   Version,
		RunID:     meta.RunID,
		Name:      meta.Name,
		Status:    StatusRunning,
		StartTime: meta.StartTime,
		Runner:    RunnerInfo{Version: meta.RunnerVersion, Backend: meta.Backend},
	}
	if index.StartTime.IsZero() {
		index.StartTime = time.Now()
	}
	for i, f := range flows {
		id := FlowID(i, f.Name)
		index.Flows = append(index.Flows, FlowEntry{
			Index:      i,
			ID:         id,
			Name:       f.Name,
			SourceFile: f.SourceFile,
			DataFile:   "flows/" + id + ".json",
			AssetsDir:  "assets/" + id,
			Status:     StatusPending,
		})
	}

	w := &Writer{dir: dir, index: index}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.flushLocked(); err != nil {
		return nil, err
	}
	return w, nil
}

// Dir returns the report directory.
func (w *Writer) Dir() string { return w.dir }

// FlowStarted marks flow idx running.
func (w *Writer) FlowStarted(idx int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, err := w.entryLocked(idx)
	if err != nil {
		return err
	}
	now := time.Now()
	e.Status = StatusRunning
	e.StartTime = &now
	e.UpdateSeq = w.index.UpdateSeq + 1
	return w.flushLocked()
}

// FlowFinished writes the flow's attachments and detail file and updates
// its index entry.
func (w *Writer) FlowFinished(idx int, fr *core.FlowResult) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, err := w.entryLocked(idx)
	if err != nil {
		return err
	}

	if err := w.writeAttachments(fr); err != nil {
		return err
	}
	detail := FlowDetail{ID: e.ID, FlowResult: *fr}
	if err := atomicWriteJSON(filepath.Join(w.dir, filepath.FromSlash(e.DataFile)), detail); err != nil {
		return fmt.Errorf("write flow %s: %w", e.ID, err)
	}

	start := fr.StartTime
	duration := fr.Duration.Milliseconds()
	e.Status = statusOf(fr.Status)
	if !start.IsZero() {
		e.StartTime = &start
	}
	e.Duration = &duration
	e.Steps = StepSummary{
		Total:   fr.TotalSteps,
		Passed:  fr.PassedSteps,
		Failed:  fr.FailedSteps,
		Skipped: fr.SkippedSteps,
		Warned:  fr.WarnedSteps,
	}
	e.Error = nil
	if fr.Error != "" {
		msg := fr.Error
		e.Error = &msg
	}
	e.UpdateSeq = w.index.UpdateSeq + 1
	return w.flushLocked()
}

// Finish records the end of the run and writes junit.xml.
func (w *Writer) Finish(suite *core.SuiteResult) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	end := suite.StartTime.Add(suite.Duration)
	if suite.StartTime.IsZero() {
		end = time.Now()
	}
	w.index.EndTime = &end
	for i := range w.index.Flows {
		if !w.index.Flows[i].Status.IsTerminal() {
			w.index.Flows[i].Status = StatusSkipped
		}
	}
	if err := w.flushLocked(); err != nil {
		return err
	}
	return WriteJUnit(filepath.Join(w.dir, "junit.xml"), suite)
}

// WriteSuite writes a complete report for a finished run.
func WriteSuite(dir string, suite *core.SuiteResult, meta Meta) error {
	refs := make([]FlowRef, len(suite.Flows))
	for i, f := range suite.Flows {
		refs[i] = FlowRef{Name: f.Name, SourceFile: f.FilePath}
	}
	if meta.RunID == "" {
		meta.RunID = suite.RunID
	}
	if meta.Name == "" {
		meta.Name = suite.Name
	}
	if meta.StartTime.IsZero() {
		meta.StartTime = suite.StartTime
	}
	w, err := NewWriter(dir, meta, refs)
	if err != nil {
		return err
	}
	for i := range suite.Flows {
		if err := w.FlowFinished(i, &suite.Flows[i]); err != nil {
			return err
		}
	}
	return w.Finish(suite)
}

func (w *Writer) entryLocked(idx int) (*FlowEntry, error) {
	if idx < 0 || idx >= len(w.index.Flows) {
		return nil, fmt.Errorf("report: flow index %d out of range (%d flows)", idx, len(w.index.Flows))
	}
	return &w.index.Flows[idx], nil
}

// writeAttachments stores every in-memory attachment body under the report
// directory and releases it.
func (w *Writer) writeAttachments(fr *core.FlowResult) error {
	return fr.Walk(func(step *core.StepResult, _ int) error {
		for j := range step.Attachments {
			a := &step.Attachments[j]
			if len(a.Body) == 0 || a.Path == "" {
				continue
			}
			path := filepath.Join(w.dir, filepath.FromSlash(a.Path))
			if err := ensureDir(filepath.Dir(path)); err != nil {
				return fmt.Errorf("create assets dir: %w", err)
			}
			if err := os.WriteFile(path, a.Body, 0o644); err != nil {
				return fmt.Errorf("write attachment %s: %w", a.Path, err)
			}
			a.Body = nil
		}
		return nil
	})
}

func (w *Writer) flushLocked() error {
	w.index.UpdateSeq++
	w.index.LastUpdated = time.Now()
	w.index.Summary = summarize(w.index.Flows)
	w.index.Status = runStatus(w.index)
	if err := atomicWriteJSON(filepath.Join(w.dir, "report.json"), w.index); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}

func summarize(flows []FlowEntry) Summary {
	s := Summary{Total: len(flows)}
	for _, f := range flows {
		switch f.Status {
		case StatusPassed:
			s.Passed++
		case StatusFailed:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		case StatusRunning:
			s.Running++
		default:
			s.Pending++
		}
	}
	return s
}

func runStatus(index *Index) Status {
	if index.EndTime == nil {
		return StatusRunning
	}
	if index.Summary.Failed > 0 {
		return StatusFailed
	}
	if index.Summary.Passed == 0 && index.Summary.Total > 0 {
		return StatusSkipped
	}
	return StatusPassed
}

func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// atomicWriteJSON writes v next to path and renames it into place, so a
// polling reader never sees a partial file.
func atomicWriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
