package flow

import "gopkg.in/yaml.v3"

// Selector identifies a node in the accessibility tree by name and role.
// Pure data structure - executor decides how to use it.
type Selector struct {
	Name   string `yaml:"name"`   // Accessible name, matched exactly
	Role   string `yaml:"role"`   // Control role, e.g. TreeItem
	Within string `yaml:"within"` // Name of an ancestor that scopes the search
	Index  string `yaml:"index"`  // Index among matches (string for variable support)
}

// selectorRaw is used for YAML parsing to capture the "text" shorthand.
type selectorRaw struct {
	Name   string `yaml:"name"`
	Text   string `yaml:"text"`
	Role   string `yaml:"role"`
	Within string `yaml:"within"`
	Index  string `yaml:"index"`
}

// UnmarshalYAML allows Selector to be unmarshaled from string or struct.
func (s *Selector) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		s.Name = node.Value
		return nil
	}

	var raw selectorRaw
	if err := node.Decode(&raw); err != nil {
		return err
	}

	s.Name = raw.Name
	s.Role = raw.Role
	s.Within = raw.Within
	s.Index = raw.Index

	// "text" is a shorthand for "name"
	if raw.Text != "" && s.Name == "" {
		s.Name = raw.Text
	}

	return nil
}

// IsEmpty returns true if no selector properties are set.
func (s *Selector) IsEmpty() bool {
	return s.Name == "" && s.Role == ""
}

// Describe returns a human-readable description.
func (s *Selector) Describe() string {
	switch {
	case s.Name != "" && s.Role != "":
		return s.Role + ":" + s.Name
	case s.Name != "":
		return s.Name
	case s.Role != "":
		return s.Role
	default:
		return ""
	}
}

// DescribeQuoted returns a quoted description like name="value".
func (s *Selector) DescribeQuoted() string {
	var out string
	switch {
	case s.Name != "":
		out = "name=\"" + s.Name + "\""
	case s.Role != "":
		out = "role=\"" + s.Role + "\""
	}
	if s.Name != "" && s.Role != "" {
		out += " role=\"" + s.Role + "\""
	}
	if s.Within != "" {
		out += " within=\"" + s.Within + "\""
	}
	if s.Index != "" {
		out += " index=" + s.Index
	}
	return out
}
