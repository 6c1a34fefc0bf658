package executor

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/devicelab-dev/desk-runner/pkg/core"
	"github.com/devicelab-dev/desk-runner/pkg/flow"
)

// xmlNode is the structure assertFile compares: element names, attributes
// and non-blank text. Comments, processing instructions and formatting
// whitespace are ignored.
type xmlNode struct {
	Name     string
	Attrs    []xml.Attr
	Text     string
	Children []*xmlNode
}

func parseXMLTree(data []byte) (*xmlNode, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var root *xmlNode
	var stack []*xmlNode
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
			n := &xmlNode{Name: t.Name.Local, Attrs: append([]xml.Attr(nil), t.Attr...)}
			sort.Slice(n.Attrs, func(i, j int) bool { return n.Attrs[i].Name.Local < n.Attrs[j].Name.Local })
			if len(stack) == 0 {
				if root != nil {
					return nil, errors.New("more than one root element")
				}
				root = n
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, n)
			}
			stack = append(stack, n)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].Text += strings.TrimSpace(string(t))
			}
		}
	}
	if root == nil {
		return nil, errors.New("no root element")
	}
	return root, nil
}

// diffXML returns a description of the first difference between a and b,
// or "" when they are structurally equal.
func diffXML(a, b *xmlNode, path string) string {
	path += "/" + a.Name
	if a.Name != b.Name {
		return fmt.Sprintf("%s: element <%s>, expected <%s>", path, a.Name, b.Name)
	}
	if len(a.Attrs) != len(b.Attrs) {
		return fmt.Sprintf("%s: %d attribute(s), expected %d", path, len(a.Attrs), len(b.Attrs))
	}
	for i := range a.Attrs {
		if a.Attrs[i].Name.Local != b.Attrs[i].Name.Local || a.Attrs[i].Value != b.Attrs[i].Value {
			return fmt.Sprintf("%s: attribute %s=%q, expected %s=%q", path,
				a.Attrs[i].Name.Local, a.Attrs[i].Value, b.Attrs[i].Name.Local, b.Attrs[i].Value)
		}
	}
	if a.Text != b.Text {
		return fmt.Sprintf("%s: text %q, expected %q", path, a.Text, b.Text)
	}
	if len(a.Children) != len(b.Children) {
		return fmt.Sprintf("%s: %d child element(s), expected %d", path, len(a.Children), len(b.Children))
	}
	for i := range a.Children {
		if d := diffXML(a.Children[i], b.Children[i], path); d != "" {
			return d
		}
	}
	return ""
}

// assertFile checks a document the application saved.
func (fr *FlowRunner) assertFile(s *flow.AssertFileStep) *core.CommandResult {
	path := fr.script.ResolvePath(s.Path)
	data, err := os.ReadFile(path) //#nosec G304 -- path comes from the flow author
	if err != nil {
		return core.Failed(core.ErrNotFound.WithCause(err).WithMessage("assertFile: cannot read "+path), "File %s not readable", s.Path)
	}

	if s.Contains != "" && !strings.Contains(string(data), s.Contains) {
		return core.Failed(core.ErrTextMismatch.Withf("%s does not contain %q", path, s.Contains), "Content mismatch")
	}
	if s.Root == "" && s.Children == "" && s.Equals == "" {
		return core.Passed("File %s checked", s.Path)
	}

	doc, err := parseXMLTree(data)
	if err != nil {
		return core.Failed(core.ErrTextMismatch.WithCause(err).WithMessage("assertFile: "+path+" is not well-formed XML"), "Invalid XML")
	}
	if s.Root != "" && doc.Name != s.Root {
		return core.Failed(core.ErrTextMismatch.Withf("%s: root element <%s>, expected <%s>", path, doc.Name, s.Root), "Root mismatch")
	}
	if s.Children != "" {
		want, err := strconv.Atoi(strings.TrimSpace(s.Children))
		if err != nil {
			return core.Failed(core.ErrInvalidConfig.Withf("assertFile: children %q is not an integer", s.Children), "Bad child count")
		}
		if len(doc.Children) != want {
			return core.Failed(core.ErrConditionNotMet.Withf("%s: root has %d child element(s), expected %d", path, len(doc.Children), want), "Child count mismatch")
		}
	}
	if s.Equals != "" {
		fixturePath := fr.script.ResolvePath(s.Equals)
		fixture, err := os.ReadFile(fixturePath) //#nosec G304 -- path comes from the flow author
		if err != nil {
			return core.Failed(core.ErrNotFound.WithCause(err).WithMessage("assertFile: cannot read fixture "+fixturePath), "Fixture not readable")
		}
		want, err := parseXMLTree(fixture)
		if err != nil {
			return core.Failed(core.ErrInvalidConfig.WithCause(err).WithMessage("assertFile: fixture "+fixturePath+" is not well-formed XML"), "Invalid fixture")
		}
		if d := diffXML(doc, want, ""); d != "" {
			return core.Failed(core.ErrTextMismatch.Withf("%s differs from %s: %s", path, s.Equals, d), "Document mismatch")
		}
	}

	result := core.Passed("File %s matches", s.Path)
	result.Data = map[string]interface{}{"root": doc.Name, "children": len(doc.Children)}
	return result
}
