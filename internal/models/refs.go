package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// RefField names one backend identifier held in EntityRefs.
type RefField string

const (
	RefInsured        RefField = "insuredId"
	RefLocation       RefField = "locationId"
	RefProducer       RefField = "producerId"
	RefUnderwriter    RefField = "underwriterId"
	RefSubmission     RefField = "submissionId"
	RefQuote          RefField = "quoteId"
	RefRatingOption   RefField = "ratingOptionId"
	RefPolicyNumber   RefField = "policyNumber"
	RefClassification RefField = "classification"
)

// EntityRefs accumulates backend identifiers as stages succeed. Every field is
// write-once.
type EntityRefs struct {
	InsuredID      string           `json:"insuredId,omitempty"`
	LocationID     string           `json:"locationId,omitempty"`
	ProducerID     string           `json:"producerId,omitempty"`
	UnderwriterID  string           `json:"underwriterId,omitempty"`
	SubmissionID   string           `json:"submissionId,omitempty"`
	QuoteID        string           `json:"quoteId,omitempty"`
	Classification string           `json:"classification,omitempty"`
	RatingOptionID string           `json:"ratingOptionId,omitempty"`
	Premium        *decimal.Decimal `json:"premium,omitempty"`
	PolicyNumber   string           `json:"policyNumber,omitempty"`
}

// ErrRefAlreadySet is returned when a stage tries to overwrite an identifier.
type ErrRefAlreadySet struct {
	Field    RefField
	Existing string
	Proposed string
}

func (e *ErrRefAlreadySet) Error() string {
	return fmt.Sprintf("%s already set to %q, refusing %q", e.Field, e.Existing, e.Proposed)
}

func (r *EntityRefs) slot(f RefField) *string {
	switch f {
	case RefInsured:
		return &r.InsuredID
	case RefLocation:
		return &r.LocationID
	case RefProducer:
		return &r.ProducerID
	case RefUnderwriter:
		return &r.UnderwriterID
	case RefSubmission:
		return &r.SubmissionID
	case RefQuote:
		return &r.QuoteID
	case RefClassification:
		return &r.Classification
	case RefRatingOption:
		return &r.RatingOptionID
	case RefPolicyNumber:
		return &r.PolicyNumber
	}
	return nil
}

func (r EntityRefs) Get(f RefField) string {
	if p := r.slot(f); p != nil {
		return *p
	}
	return ""
}

func (r EntityRefs) Has(f RefField) bool {
	return r.Get(f) != ""
}

// Set records value for f. Re-setting the same value is a no-op.
func (r *EntityRefs) Set(f RefField, value string) error {
	p := r.slot(f)
	if p == nil {
		return fmt.Errorf("unknown ref field %q", f)
	}
	if value == "" {
		return fmt.Errorf("empty value for %s", f)
	}
	if *p != "" && *p != value {
		return &ErrRefAlreadySet{Field: f, Existing: *p, Proposed: value}
	}
	*p = value
	return nil
}

func (r *EntityRefs) SetPremium(amount decimal.Decimal) error {
	if r.Premium != nil && !r.Premium.Equal(amount) {
		return &ErrRefAlreadySet{Field: "premium", Existing: r.Premium.String(), Proposed: amount.String()}
	}
	a := amount
	r.Premium = &a
	return nil
}

// Merge applies every populated field of other, enforcing write-once.
func (r *EntityRefs) Merge(other EntityRefs) error {
	for _, f := range []RefField{RefInsured, RefLocation, RefProducer, RefUnderwriter, RefSubmission, RefQuote, RefClassification, RefRatingOption, RefPolicyNumber} {
		if v := other.Get(f); v != "" {
			if err := r.Set(f, v); err != nil {
				return err
			}
		}
	}
	if other.Premium != nil {
		return r.SetPremium(*other.Premium)
	}
	return nil
}

// RequiredRefs lists the identifiers a Completed transaction must carry.
// Every kind runs the same stage plan against the backend.
func RequiredRefs(kind Kind) []RefField {
	switch kind {
	case KindNewBusiness, KindEndorsement, KindCancellation, KindReinstatement:
		return []RefField{RefInsured, RefSubmission, RefQuote, RefRatingOption, RefPolicyNumber}
	}
	return nil
}
