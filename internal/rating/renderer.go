package rating

import (
	"fmt"

	"policy-orchestrator/internal/common/errors"
	"policy-orchestrator/pkg/registry"

	"gopkg.in/yaml.v3"
)

// Renderer turns a template and its populated field values into the bytes
// submitted to the backend's import operation.
type Renderer interface {
	Render(t *registry.Template, values map[string]string) ([]byte, error)
}

// YAMLRenderer emits a YAML document with the template identity and the
// populated fields.
type YAMLRenderer struct{}

type renderedTemplate struct {
	Template string            `yaml:"template"`
	Version  int               `yaml:"version"`
	Sheet    string            `yaml:"sheet,omitempty"`
	Fields   map[string]string `yaml:"fields"`
}

func (YAMLRenderer) Render(t *registry.Template, values map[string]string) ([]byte, error) {
	out, err := yaml.Marshal(renderedTemplate{
		Template: t.ID,
		Version:  t.Version,
		Sheet:    t.Sheet,
		Fields:   values,
	})
	if err != nil {
		return nil, fmt.Errorf("render template %s: %w", t.ID, err)
	}
	return out, nil
}

// Populate resolves every template field from projected values, applying
// defaults. A required field with no value is a validation failure.
func Populate(t *registry.Template, projected map[string]string) (map[string]string, error) {
	values := make(map[string]string, len(t.Fields))
	var missing []string
	for _, f := range t.Fields {
		v, ok := projected[f.From]
		if !ok || v == "" {
			v = f.Default
		}
		if v == "" {
			if f.Required {
				missing = append(missing, f.Name+" (from "+f.From+")")
			}
			continue
		}
		values[f.Name] = v
	}
	if len(missing) > 0 {
		return nil, errors.NewValidationError(errors.ErrCodeTemplateField,
			fmt.Sprintf("template %s requires %v", t.ID, missing))
	}
	return values, nil
}
