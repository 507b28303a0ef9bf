package validation

import (
	"fmt"
	"strings"

	"policy-orchestrator/internal/models"

	"github.com/xeipuuv/gojsonschema"
)

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func (vr *ValidationResult) add(field, message, code string) {
	vr.Valid = false
	vr.Errors = append(vr.Errors, ValidationError{Field: field, Message: message, Code: code})
}

func (vr *ValidationResult) GetErrorMessages() []string {
	messages := make([]string, len(vr.Errors))
	for i, err := range vr.Errors {
		messages[i] = fmt.Sprintf("%s: %s", err.Field, err.Message)
	}
	return messages
}

func (vr *ValidationResult) HasErrors(field string) bool {
	for _, err := range vr.Errors {
		if err.Field == field {
			return true
		}
	}
	return false
}

const datePattern = `^[0-9]{4}-[0-9]{2}-[0-9]{2}$`

func str(extra map[string]interface{}) map[string]interface{} {
	s := map[string]interface{}{"type": "string"}
	for k, v := range extra {
		s[k] = v
	}
	return s
}

func nonBlank() map[string]interface{} {
	return str(map[string]interface{}{"minLength": 1, "pattern": `\S`})
}

func date() map[string]interface{} {
	return str(map[string]interface{}{"pattern": datePattern})
}

// amount accepts a JSON number or a numeric string.
func amount() map[string]interface{} {
	return map[string]interface{}{
		"oneOf": []interface{}{
			map[string]interface{}{"type": "number", "minimum": 0},
			str(map[string]interface{}{"pattern": `^[0-9]+(\.[0-9]+)?$`}),
		},
	}
}

func object(required []string, props map[string]interface{}) map[string]interface{} {
	o := map[string]interface{}{"type": "object", "properties": props}
	if len(required) > 0 {
		req := make([]interface{}, len(required))
		for i, r := range required {
			req[i] = r
		}
		o["required"] = req
	}
	return o
}

func addressSchema() map[string]interface{} {
	return object([]string{"line1", "city", "state", "postalCode"}, map[string]interface{}{
		"line1":      nonBlank(),
		"line2":      str(nil),
		"city":       nonBlank(),
		"state":      str(map[string]interface{}{"pattern": `^[A-Za-z]{2}$`}),
		"postalCode": str(map[string]interface{}{"pattern": `^[0-9]{5}(-[0-9]{4})?$`}),
		"country":    str(nil),
	})
}

func partySchema(required ...string) map[string]interface{} {
	return object(required, map[string]interface{}{
		"name":         nonBlank(),
		"lastName":     str(nil),
		"businessType": str(nil),
		"relationship": str(nil),
		"address":      addressSchema(),
	})
}

// payloadSchema builds the schema for one kind; kindSection names the
// kind-specific object that must be present.
func payloadSchema(kindSection string) map[string]interface{} {
	props := map[string]interface{}{
		"insured":             partySchema("name"),
		"additionalParties":   map[string]interface{}{"type": "array", "items": partySchema("name")},
		"producer":            partySchema(),
		"underwriter":         partySchema(),
		"effectiveDate":       date(),
		"expirationDate":      date(),
		"jurisdiction":        str(map[string]interface{}{"pattern": `^[A-Za-z]{2}$`}),
		"coverageDescription": str(nil),
		"classification":      str(nil),
		"premium":             amount(),
		"ratingStrategy":      str(map[string]interface{}{"pattern": `^(?i)(direct|template)$`}),
		"exposures":           map[string]interface{}{"type": "object", "additionalProperties": amount()},
		"attributes":          map[string]interface{}{"type": "object", "additionalProperties": str(nil)},
		"endorsement": object([]string{"policyNumber", "description"}, map[string]interface{}{
			"policyNumber": nonBlank(),
			"description":  nonBlank(),
		}),
		"cancellation": object([]string{"policyNumber", "reason", "effectiveDate"}, map[string]interface{}{
			"policyNumber":  nonBlank(),
			"reason":        nonBlank(),
			"effectiveDate": date(),
		}),
		"reinstatement": object([]string{"policyNumber", "effectiveDate"}, map[string]interface{}{
			"policyNumber":  nonBlank(),
			"effectiveDate": date(),
		}),
	}
	required := []string{"insured", "effectiveDate", "expirationDate", "jurisdiction"}
	if kindSection != "" {
		required = append(required, kindSection)
	}
	return object(required, props)
}

var schemas = map[models.Kind]*gojsonschema.Schema{}

func init() {
	sections := map[models.Kind]string{
		models.KindNewBusiness:   "",
		models.KindEndorsement:   "endorsement",
		models.KindCancellation:  "cancellation",
		models.KindReinstatement: "reinstatement",
	}
	for kind, section := range sections {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(payloadSchema(section)))
		if err != nil {
			panic(fmt.Sprintf("payload schema for %s: %v", kind, err))
		}
		schemas[kind] = schema
	}
}

// ValidateDocument checks raw JSON against the schema for kind.
func ValidateDocument(kind models.Kind, raw []byte) (*ValidationResult, error) {
	schema, ok := schemas[kind]
	if !ok {
		return nil, fmt.Errorf("no payload schema for kind %q", kind)
	}
	res, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("payload is not valid JSON: %w", err)
	}

	out := &ValidationResult{Valid: true}
	for _, desc := range res.Errors() {
		field := strings.TrimPrefix(desc.Context().String(), "(root).")
		if p, ok := desc.Details()["property"].(string); ok && desc.Type() == "required" {
			if field == "(root)" {
				field = p
			} else {
				field += "." + p
			}
		}
		out.add(field, desc.Description(), strings.ToUpper(desc.Type()))
	}
	return out, nil
}
