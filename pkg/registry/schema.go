package registry

import (
	"fmt"
	"strings"
)

// Template describes one rating template: which transactions it applies to
// and which payload values populate its fields.
type Template struct {
	ID             string  `yaml:"id"`
	Description    string  `yaml:"description,omitempty"`
	Version        int     `yaml:"version"`
	Source         string  `yaml:"source,omitempty"`
	Classification string  `yaml:"classification,omitempty"`
	Jurisdiction   string  `yaml:"jurisdiction,omitempty"`
	Sheet          string  `yaml:"sheet,omitempty"`
	Fields         []Field `yaml:"fields"`

	// File is the path the template was read from.
	File string `yaml:"-"`
}

// Field maps one template cell to a projected payload value.
type Field struct {
	Name     string `yaml:"name"`
	From     string `yaml:"from"`
	Required bool   `yaml:"required,omitempty"`
	Default  string `yaml:"default,omitempty"`
}

// Key is the applicability triple; empty parts are wildcards at lower
// specificity levels.
type Key struct {
	Source         string
	Classification string
	Jurisdiction   string
}

func (k Key) String() string {
	parts := []string{orStar(k.Source), orStar(k.Classification), orStar(k.Jurisdiction)}
	return strings.Join(parts, "/")
}

func orStar(s string) string {
	if s == "" {
		return "*"
	}
	return s
}

// NewKey normalizes the triple the way templates are indexed.
func NewKey(source, classification, jurisdiction string) Key {
	return Key{
		Source:         strings.ToLower(strings.TrimSpace(source)),
		Classification: strings.TrimSpace(classification),
		Jurisdiction:   strings.ToUpper(strings.TrimSpace(jurisdiction)),
	}
}

// Key returns the template's normalized applicability key.
func (t *Template) Key() Key {
	return NewKey(t.Source, t.Classification, t.Jurisdiction)
}

// Level reports how specific a lookup hit was.
type Level int

const (
	LevelDefault Level = iota
	LevelSource
	LevelSourceClass
	LevelExact
)

func (l Level) String() string {
	switch l {
	case LevelExact:
		return "source+classification+jurisdiction"
	case LevelSourceClass:
		return "source+classification"
	case LevelSource:
		return "source"
	default:
		return "default"
	}
}

// Problem is a content error found while loading templates.
type Problem struct {
	File    string
	ID      string
	Message string
}

func (p Problem) String() string {
	if p.ID != "" {
		return fmt.Sprintf("%s: template %q: %s", p.File, p.ID, p.Message)
	}
	return fmt.Sprintf("%s: %s", p.File, p.Message)
}

// validate reports problems that make a template unusable or unreachable.
func (t *Template) validate() []string {
	var msgs []string
	if t.ID == "" {
		msgs = append(msgs, "missing id")
	}
	if len(t.Fields) == 0 {
		msgs = append(msgs, "no fields")
	}

	k := t.Key()
	if k.Source == "" && (k.Classification != "" || k.Jurisdiction != "") {
		msgs = append(msgs, "classification or jurisdiction set without source is never looked up")
	}
	if k.Source != "" && k.Classification == "" && k.Jurisdiction != "" {
		msgs = append(msgs, "jurisdiction set without classification is never looked up")
	}

	seen := make(map[string]bool, len(t.Fields))
	for i, f := range t.Fields {
		switch {
		case f.Name == "":
			msgs = append(msgs, fmt.Sprintf("field %d has no name", i))
		case seen[f.Name]:
			msgs = append(msgs, fmt.Sprintf("field %q defined twice", f.Name))
		}
		seen[f.Name] = true
		if f.From == "" && f.Default == "" {
			msgs = append(msgs, fmt.Sprintf("field %q has neither from nor default", f.Name))
		}
	}
	return msgs
}
