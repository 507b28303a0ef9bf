package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// FormatAmount writes a money amount with at least two decimal places and
// never rounds away precision the amount carries.
func FormatAmount(amount decimal.Decimal) string {
	places := int32(2)
	if exp := -amount.Exponent(); exp > places {
		places = exp
	}
	return amount.StringFixed(places)
}

// Date is a calendar day carried as YYYY-MM-DD on the wire.
type Date struct {
	time.Time
}

func NewDate(y int, m time.Month, d int) Date {
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		d.Time = time.Time{}
		return nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return fmt.Errorf("invalid date %q: %w", s, err)
	}
	d.Time = t
	return nil
}

type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country,omitempty"`
}

func (a *Address) OneLine() string {
	parts := []string{a.Line1}
	if a.Line2 != "" {
		parts = append(parts, a.Line2)
	}
	parts = append(parts, a.City, a.State+" "+a.PostalCode)
	return strings.Join(parts, ", ")
}

// Party is a named person or organization supplied by the partner.
type Party struct {
	Name         string   `json:"name"`
	LastName     string   `json:"lastName,omitempty"`
	BusinessType string   `json:"businessType,omitempty"`
	Relationship string   `json:"relationship,omitempty"`
	Address      *Address `json:"address,omitempty"`
}

type EndorsementDetails struct {
	PolicyNumber string `json:"policyNumber"`
	Description  string `json:"description"`
}

type CancellationDetails struct {
	PolicyNumber  string `json:"policyNumber"`
	Reason        string `json:"reason"`
	EffectiveDate Date   `json:"effectiveDate"`
}

type ReinstatementDetails struct {
	PolicyNumber  string `json:"policyNumber"`
	EffectiveDate Date   `json:"effectiveDate"`
}

// Payload is the typed business data, validated once before any backend call.
type Payload struct {
	Insured             Party                      `json:"insured"`
	AdditionalParties   []Party                    `json:"additionalParties,omitempty"`
	Producer            *Party                     `json:"producer,omitempty"`
	Underwriter         *Party                     `json:"underwriter,omitempty"`
	EffectiveDate       Date                       `json:"effectiveDate"`
	ExpirationDate      Date                       `json:"expirationDate"`
	Jurisdiction        string                     `json:"jurisdiction"`
	CoverageDescription string                     `json:"coverageDescription,omitempty"`
	Classification      string                     `json:"classification,omitempty"`
	Premium             *decimal.Decimal           `json:"premium,omitempty"`
	RatingStrategy      string                     `json:"ratingStrategy,omitempty"`
	Exposures           map[string]decimal.Decimal `json:"exposures,omitempty"`
	Attributes          map[string]string          `json:"attributes,omitempty"`
	Endorsement         *EndorsementDetails        `json:"endorsement,omitempty"`
	Cancellation        *CancellationDetails       `json:"cancellation,omitempty"`
	Reinstatement       *ReinstatementDetails      `json:"reinstatement,omitempty"`
}

// ExistingPolicyNumber returns the policy a change transaction applies to.
func (p *Payload) ExistingPolicyNumber() string {
	switch {
	case p.Endorsement != nil:
		return p.Endorsement.PolicyNumber
	case p.Cancellation != nil:
		return p.Cancellation.PolicyNumber
	case p.Reinstatement != nil:
		return p.Reinstatement.PolicyNumber
	}
	return ""
}

// EntityKind selects the candidate universe searched by the resolver.
type EntityKind string

const (
	EntityInsured     EntityKind = "insured"
	EntityProducer    EntityKind = "producer"
	EntityUnderwriter EntityKind = "underwriter"
)

// EntityCandidate is a backend record considered for a name match.
type EntityCandidate struct {
	BackendID   string  `json:"backendId"`
	DisplayName string  `json:"displayName"`
	LastName    string  `json:"lastName,omitempty"`
	Score       float64 `json:"score"`
}
