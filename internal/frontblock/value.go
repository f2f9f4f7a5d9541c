package frontblock

import (
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Value is a single front-block value: a scalar, a list, or (when yaml.v3
// could not decode a hand-edited entry) the raw text after the colon.
type Value struct {
	node   *yaml.Node
	raw    string
	hasRaw bool
}

// IsList reports whether the value is a YAML sequence.
func (v Value) IsList() bool {
	return v.node != nil && v.node.Kind == yaml.SequenceNode
}

// IsNull reports whether the key is present with no value.
func (v Value) IsNull() bool {
	if v.node == nil {
		return !v.hasRaw || v.raw == ""
	}
	return v.node.Kind == yaml.ScalarNode && v.node.Tag == "!!null"
}

// String returns the scalar text. Lists are joined with ", ".
func (v Value) String() string {
	if v.node == nil {
		return v.raw
	}
	switch v.node.Kind {
	case yaml.ScalarNode:
		if v.node.Tag == "!!null" {
			return ""
		}
		return v.node.Value
	case yaml.SequenceNode:
		return strings.Join(v.List(), ", ")
	}
	return ""
}

// List returns the value as a list of strings. A sequence yields its scalar
// items; a scalar is split on commas. Items are trimmed and empty items
// dropped.
func (v Value) List() []string {
	var items []string
	if v.IsList() {
		for _, n := range v.node.Content {
			if n.Kind != yaml.ScalarNode || n.Tag == "!!null" {
				continue
			}
			items = append(items, n.Value)
		}
	} else {
		items = strings.Split(v.String(), ",")
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Bool normalizes the value to a boolean. YAML booleans are accepted, as are
// the strings "true" and "True" (true) and "false" (false), since documents
// are edited by hand. ok is false for anything else.
func (v Value) Bool() (value bool, ok bool) {
	if v.node != nil {
		if v.node.Kind != yaml.ScalarNode {
			return false, false
		}
		if v.node.Tag == "!!bool" {
			var b bool
			if err := v.node.Decode(&b); err != nil {
				return false, false
			}
			return b, true
		}
		if v.node.Tag != "!!str" {
			return false, false
		}
		return boolString(v.node.Value)
	}
	return boolString(v.raw)
}

func boolString(s string) (bool, bool) {
	switch s {
	case "true", "True":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}

// Int returns the value as an integer. Quoted digits are accepted.
func (v Value) Int() (int, bool) {
	s := v.raw
	if v.node != nil {
		if v.node.Kind != yaml.ScalarNode {
			return 0, false
		}
		if v.node.Tag != "!!int" && v.node.Tag != "!!str" {
			return 0, false
		}
		s = v.node.Value
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return n, true
}
