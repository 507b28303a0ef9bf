package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	"policy-orchestrator/internal/common/errors"
	"policy-orchestrator/internal/mapping"
	"policy-orchestrator/internal/models"
)

// ParsePayload validates raw against the schema for kind, decodes it and
// applies the cross-field rules a schema cannot express. Every failure is a
// validation error.
func ParsePayload(kind models.Kind, raw json.RawMessage) (*models.Payload, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, errors.NewValidationError(errors.ErrCodePayloadInvalid, "payload is empty")
	}

	result, err := ValidateDocument(kind, raw)
	if err != nil {
		return nil, errors.NewValidationError(errors.ErrCodePayloadInvalid, err.Error())
	}
	if !result.Valid {
		return nil, errors.NewValidationError(errors.ErrCodePayloadInvalid, strings.Join(result.GetErrorMessages(), "; "))
	}

	var p models.Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.NewValidationError(errors.ErrCodePayloadInvalid, err.Error())
	}

	if res := checkSemantics(kind, &p); !res.Valid {
		return nil, errors.NewValidationError(errors.ErrCodePayloadInvalid, strings.Join(res.GetErrorMessages(), "; "))
	}
	return &p, nil
}

func checkSemantics(kind models.Kind, p *models.Payload) *ValidationResult {
	res := &ValidationResult{Valid: true}

	if strings.TrimSpace(p.Insured.Name) == "" {
		res.add("insured.name", "insured name is required", "REQUIRED")
	}
	if !p.ExpirationDate.IsZero() && !p.ExpirationDate.After(p.EffectiveDate.Time) {
		res.add("expirationDate", fmt.Sprintf("must be after effectiveDate %s", p.EffectiveDate), "RANGE")
	}
	if p.Premium != nil && p.Premium.IsNegative() {
		res.add("premium", "must not be negative", "RANGE")
	}
	for name, v := range p.Exposures {
		if v.IsNegative() {
			res.add("exposures."+name, "must not be negative", "RANGE")
		}
	}
	if bt := p.Insured.BusinessType; bt != "" {
		if _, ok := mapping.LookupBusinessType(bt); !ok {
			res.add("insured.businessType", fmt.Sprintf("unknown business type %q", bt), "UNKNOWN_VALUE")
		}
	}

	if kind == models.KindCancellation && p.Cancellation != nil {
		if _, ok := mapping.LookupCancellationReason(p.Cancellation.Reason); !ok {
			res.add("cancellation.reason", fmt.Sprintf("unknown cancellation reason %q", p.Cancellation.Reason), "UNKNOWN_VALUE")
		}
	}
	return res
}
