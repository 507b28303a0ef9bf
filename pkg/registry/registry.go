// Package registry loads rating templates from YAML files and looks them up
// by decreasing specificity.
package registry

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned by Lookup when no level has a template.
var ErrNotFound = errors.New("rating template not found")

// Registry is an immutable index of templates by applicability key.
type Registry struct {
	templates map[Key]*Template
}

func New() *Registry {
	return &Registry{templates: make(map[Key]*Template)}
}

// Add indexes t. A second template for the same key is rejected.
func (r *Registry) Add(t Template) error {
	if msgs := t.validate(); len(msgs) > 0 {
		return fmt.Errorf("template %q: %s", t.ID, strings.Join(msgs, "; "))
	}
	k := t.Key()
	if existing, ok := r.templates[k]; ok {
		return fmt.Errorf("templates %q (%s) and %q (%s) both apply to %s",
			existing.ID, existing.File, t.ID, t.File, k)
	}
	cp := t
	r.templates[k] = &cp
	return nil
}

func (r *Registry) Len() int {
	return len(r.templates)
}

// Templates returns every template ordered by ID.
func (r *Registry) Templates() []*Template {
	out := make([]*Template, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Lookup falls back source+classification+jurisdiction, source+classification,
// source, then the default template.
func (r *Registry) Lookup(source, classification, jurisdiction string) (*Template, Level, error) {
	k := NewKey(source, classification, jurisdiction)
	chain := []struct {
		key   Key
		level Level
	}{
		{Key{k.Source, k.Classification, k.Jurisdiction}, LevelExact},
		{Key{k.Source, k.Classification, ""}, LevelSourceClass},
		{Key{k.Source, "", ""}, LevelSource},
		{Key{}, LevelDefault},
	}
	for _, step := range chain {
		if t, ok := r.templates[step.key]; ok {
			return t, step.level, nil
		}
	}
	return nil, LevelDefault, fmt.Errorf("%w for %s", ErrNotFound, k)
}

// Load reads every *.yaml and *.yml file under paths. Any problem fails the
// load; use Scan to collect them all.
func Load(paths ...string) (*Registry, error) {
	reg, problems, err := Scan(paths...)
	if err != nil {
		return nil, err
	}
	if len(problems) > 0 {
		msgs := make([]string, len(problems))
		for i, p := range problems {
			msgs[i] = p.String()
		}
		return nil, fmt.Errorf("invalid rating templates:\n  %s", strings.Join(msgs, "\n  "))
	}
	return reg, nil
}

// Scan loads what it can and returns content problems separately from I/O
// errors. Missing search paths are skipped.
func Scan(paths ...string) (*Registry, []Problem, error) {
	reg := New()
	var problems []Problem

	for _, root := range paths {
		info, err := os.Stat(root)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("stat %s: %w", root, err)
		}

		var files []string
		if info.IsDir() {
			err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				ext := strings.ToLower(filepath.Ext(path))
				if !d.IsDir() && (ext == ".yaml" || ext == ".yml") {
					files = append(files, path)
				}
				return nil
			})
			if err != nil {
				return nil, nil, fmt.Errorf("walk %s: %w", root, err)
			}
		} else {
			files = append(files, root)
		}
		sort.Strings(files)

		for _, file := range files {
			p, err := loadFile(reg, file)
			if err != nil {
				return nil, nil, err
			}
			problems = append(problems, p...)
		}
	}
	return reg, problems, nil
}

// loadFile decodes every YAML document in file.
func loadFile(reg *Registry, file string) ([]Problem, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file, err)
	}

	var problems []Problem
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	for {
		var t Template
		err := dec.Decode(&t)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			problems = append(problems, Problem{File: file, Message: err.Error()})
			break
		}
		t.File = file
		if msgs := t.validate(); len(msgs) > 0 {
			for _, m := range msgs {
				problems = append(problems, Problem{File: file, ID: t.ID, Message: m})
			}
			continue
		}
		if err := reg.Add(t); err != nil {
			problems = append(problems, Problem{File: file, ID: t.ID, Message: err.Error()})
		}
	}
	return problems, nil
}
