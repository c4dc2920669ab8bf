package core

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Template is the source side of one mapping entry: either a single
// template string (scalar) or an ordered list of template strings
// (composite).
type Template struct {
	value     string
	parts     []string
	composite bool
}

// Scalar returns a single-string template.
func Scalar(s string) Template {
	return Template{value: s}
}

// Composite returns a list template.
func Composite(parts ...string) Template {
	cp := make([]string, len(parts))
	copy(cp, parts)
	return Template{parts: cp, composite: true}
}

// IsComposite reports whether the template is a list.
func (t Template) IsComposite() bool { return t.composite }

// Value returns the scalar template string; empty for composites.
func (t Template) Value() string { return t.value }

// Parts returns a copy of the composite template strings; nil for scalars.
func (t Template) Parts() []string {
	if !t.composite {
		return nil
	}
	cp := make([]string, len(t.parts))
	copy(cp, t.parts)
	return cp
}

// IsEmpty reports whether the template is an empty string or a list whose
// strings are all empty.
func (t Template) IsEmpty() bool {
	if !t.composite {
		return t.value == ""
	}
	for _, p := range t.parts {
		if p != "" {
			return false
		}
	}
	return true
}

// Headers returns the column headers the template refers to, in order of
// first appearance.
func (t Template) Headers() []string {
	var out []string
	seen := make(map[string]bool)
	add := func(s string) {
		for _, h := range referencedHeaders(s) {
			if !seen[h] {
				seen[h] = true
				out = append(out, h)
			}
		}
	}
	if t.composite {
		for _, p := range t.parts {
			add(p)
		}
	} else {
		add(t.value)
	}
	return out
}

// MarshalJSON encodes a scalar as a string and a composite as an array.
func (t Template) MarshalJSON() ([]byte, error) {
	if t.composite {
		parts := t.parts
		if parts == nil {
			parts = []string{}
		}
		return json.Marshal(parts)
	}
	return json.Marshal(t.value)
}

// UnmarshalJSON accepts a string, an array of strings, or null.
func (t *Template) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := templateFromValue(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// UnmarshalYAML accepts a scalar or a sequence of scalars.
func (t *Template) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := templateFromValue(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func templateFromValue(raw any) (Template, error) {
	switch v := raw.(type) {
	case nil:
		return Scalar(""), nil
	case string:
		return Scalar(v), nil
	case []string:
		return Composite(v...), nil
	case []any:
		parts := make([]string, 0, len(v))
		for i, item := range v {
			switch s := item.(type) {
			case string:
				parts = append(parts, s)
			case nil:
				parts = append(parts, "")
			default:
				return Template{}, fmt.Errorf("%w: template item %d is %T, want string", ErrValidation, i, item)
			}
		}
		return Composite(parts...), nil
	default:
		return Template{}, fmt.Errorf("%w: template is %T, want string or list of strings", ErrValidation, raw)
	}
}

// FieldMapping maps entry field ids to templates.
type FieldMapping map[string]Template

// ParseMapping converts a generically decoded document (JSON, YAML or TOML)
// into a FieldMapping.
func ParseMapping(raw map[string]any) (FieldMapping, error) {
	m := make(FieldMapping, len(raw))
	for field, value := range raw {
		t, err := templateFromValue(value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", field, err)
		}
		m[field] = t
	}
	return m, nil
}

// FieldIDs returns the mapped field ids in sorted order.
func (m FieldMapping) FieldIDs() []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// referencedHeaders returns the headers a template string refers to.
// A string without braces is itself a header reference.
func referencedHeaders(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if !strings.ContainsAny(s, "{}") {
		return []string{s}
	}
	var out []string
	for _, m := range placeholderRe.FindAllStringSubmatch(s, -1) {
		if h := strings.TrimSpace(m[1]); h != "" {
			out = append(out, h)
		}
	}
	return out
}
