package report

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/devicelab-dev/desk-runner/pkg/core"
)

type junitSuites struct {
	XMLName  xml.Name     `xml:"testsuites"`
	Name     string       `xml:"name,attr"`
	Tests    int          `xml:"tests,attr"`
	Failures int          `xml:"failures,attr"`
	Skipped  int          `xml:"skipped,attr"`
	Time     string       `xml:"time,attr"`
	Suites   []junitSuite `xml:"testsuite"`
}

type junitSuite struct {
	Name      string      `xml:"name,attr"`
	Tests     int         `xml:"tests,attr"`
	Failures  int         `xml:"failures,attr"`
	Skipped   int         `xml:"skipped,attr"`
	Time      string      `xml:"time,attr"`
	Timestamp string      `xml:"timestamp,attr,omitempty"`
	Cases     []junitCase `xml:"testcase"`
}

type junitCase struct {
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      string        `xml:"time,attr"`
	Failure   *junitFailure `xml:"failure,omitempty"`
	Skipped   *junitSkipped `xml:"skipped,omitempty"`
}

type junitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr,omitempty"`
	Body    string `xml:",chardata"`
}

type junitSkipped struct {
	Message string `xml:"message,attr,omitempty"`
}

// WriteJUnit writes suite as a JUnit XML file: one testsuite per flow, one
// testcase per top-level step.
func WriteJUnit(path string, suite *core.SuiteResult) error {
	doc := junitSuites{
		Name: suite.Name,
		Time: seconds(suite.Duration.Seconds()),
	}
	for _, f := range suite.Flows {
		js := junitSuite{
			Name: f.Name,
			Time: seconds(f.Duration.Seconds()),
		}
		if !f.StartTime.IsZero() {
			js.Timestamp = f.StartTime.UTC().Format("2006-01-02T15:04:05")
		}
		class := strings.TrimSuffix(filepath.Base(f.FilePath), filepath.Ext(f.FilePath))
		if class == "" || class == "." {
			class = f.Name
		}
		for _, s := range f.Steps {
			jc := junitCase{
				Name:      fmt.Sprintf("%02d %s", s.Index+1, describe(s)),
				Classname: class,
				Time:      seconds(s.Duration.Seconds()),
			}
			switch s.Status {
			case core.StatusFailed, core.StatusErrored:
				jc.Failure = &junitFailure{Message: s.Error, Type: s.Category.String(), Body: s.Message}
				js.Failures++
			case core.StatusSkipped:
				jc.Skipped = &junitSkipped{}
				js.Skipped++
			}
			js.Cases = append(js.Cases, jc)
			js.Tests++
		}
		doc.Tests += js.Tests
		doc.Failures += js.Failures
		doc.Skipped += js.Skipped
		doc.Suites = append(doc.Suites, js)
	}

	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode junit: %w", err)
	}
	data = append([]byte(xml.Header), data...)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write junit: %w", err)
	}
	return nil
}

func describe(s core.StepResult) string {
	if s.Step != nil {
		return s.Step.Describe()
	}
	return s.Command
}

func seconds(v float64) string {
	return fmt.Sprintf("%.3f", v)
}
