package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/devicelab-dev/desk-runner/pkg/core"
)

// ReadIndex reads a report.json file.
func ReadIndex(path string) (*Index, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- report path chosen by the user
	if err != nil {
		return nil, err
	}
	var index Index
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &index, nil
}

func readFlow(path string) (*FlowDetail, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- report path chosen by the user
	if err != nil {
		return nil, err
	}
	var detail FlowDetail
	if err := json.Unmarshal(data, &detail); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &detail, nil
}

// ReadReport reads the index and every finished flow of a report directory.
// Flows that have no detail file yet are left out.
func ReadReport(dir string) (*Index, []FlowDetail, error) {
	index, err := ReadIndex(filepath.Join(dir, "report.json"))
	if err != nil {
		return nil, nil, err
	}
	var flows []FlowDetail
	for _, e := range index.Flows {
		detail, err := readFlow(filepath.Join(dir, filepath.FromSlash(e.DataFile)))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		flows = append(flows, *detail)
	}
	return index, flows, nil
}

// Consumer follows a report directory that a run is still writing.
type Consumer struct {
	reportDir     string
	lastGlobalSeq uint64
	lastFlowSeq   map[string]uint64
}

// NewConsumer creates a consumer for reportDir.
func NewConsumer(reportDir string) *Consumer {
	return &Consumer{
		reportDir:   reportDir,
		lastFlowSeq: make(map[string]uint64),
	}
}

// ReadIndex reads the current index.
func (c *Consumer) ReadIndex() (*Index, error) {
	return ReadIndex(filepath.Join(c.reportDir, "report.json"))
}

// ReadFlow reads one flow's detail file by ID.
func (c *Consumer) ReadFlow(id string) (*FlowDetail, error) {
	return readFlow(filepath.Join(c.reportDir, "flows", id+".json"))
}

// Poll returns the IDs of flows whose entries changed since the last poll.
// The first poll reports every flow.
func (c *Consumer) Poll() ([]string, *Index, error) {
	index, err := c.ReadIndex()
	if err != nil {
		return nil, nil, err
	}
	if index.UpdateSeq == c.lastGlobalSeq {
		return nil, index, nil
	}
	var changed []string
	for _, e := range index.Flows {
		if seq, seen := c.lastFlowSeq[e.ID]; !seen || e.UpdateSeq > seq {
			changed = append(changed, e.ID)
			c.lastFlowSeq[e.ID] = e.UpdateSeq
		}
	}
	c.lastGlobalSeq = index.UpdateSeq
	return changed, index, nil
}

// Reset forgets what has been seen.
func (c *Consumer) Reset() {
	c.lastGlobalSeq = 0
	c.lastFlowSeq = make(map[string]uint64)
}

// Recover closes the index of a run that stopped without finishing. A flow
// whose detail file survived takes the status its steps imply, a running
// flow that left no complete record failed and a pending flow is skipped.
// A finished index is left untouched.
func Recover(dir string) error {
	path := filepath.Join(dir, "report.json")
	index, err := ReadIndex(path)
	if err != nil {
		return err
	}
	if index.EndTime != nil {
		return nil
	}

	for i := range index.Flows {
		e := &index.Flows[i]
		if e.Status.IsTerminal() {
			continue
		}
		detail, err := readFlow(filepath.Join(dir, filepath.FromSlash(e.DataFile)))
		switch {
		case err == nil && detail.Status.IsTerminal():
			e.Status = statusOf(detail.Status)
		case err == nil:
			e.Status = inferStatus(detail.Steps)
		case e.Status == StatusPending:
			e.Status = StatusSkipped
		}
		if e.Status == StatusRunning {
			msg := "Flow interrupted"
			e.Status, e.Error = StatusFailed, &msg
		}
		e.UpdateSeq = index.UpdateSeq + 1
	}

	now := time.Now()
	index.EndTime = &now
	w := &Writer{dir: dir, index: index}
	return w.flushLocked()
}

// inferStatus derives a flow status from its step results. A flow whose
// steps never got past pending or running is still running.
func inferStatus(steps []core.StepResult) Status {
	if len(steps) == 0 {
		return StatusFailed
	}
	done := 0
	for _, s := range steps {
		switch s.Status {
		case core.StatusFailed, core.StatusErrored:
			return StatusFailed
		case core.StatusPassed, core.StatusWarned:
			done++
		}
	}
	if done == len(steps) {
		return StatusPassed
	}
	return StatusRunning
}
