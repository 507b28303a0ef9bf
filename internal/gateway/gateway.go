// Package gateway defines the operations the orchestrator invokes on the
// policy-management backend, and the adapters that implement them.
package gateway

import (
	"context"
	"fmt"
	"time"

	"policy-orchestrator/internal/models"

	"github.com/shopspring/decimal"
)

// Gateway is the backend surface used by the pipeline and resolver.
type Gateway interface {
	FindOrCreateInsured(ctx context.Context, req InsuredRequest) (string, error)
	AddLocation(ctx context.Context, insuredID string, addr models.Address) (string, error)
	LinkAdditionalInsured(ctx context.Context, insuredID, partyID, relationship string) error
	CreateSubmission(ctx context.Context, req SubmissionRequest) (string, error)
	CreateQuote(ctx context.Context, req QuoteRequest) (string, error)
	CreateRatingOption(ctx context.Context, quoteID string) (string, error)
	AddPremium(ctx context.Context, quoteID, optionID string, amount decimal.Decimal) error
	ImportRatingTemplate(ctx context.Context, quoteID string, template []byte) (RatingResult, error)
	Bind(ctx context.Context, optionID string, boundDate time.Time) (string, error)
	Issue(ctx context.Context, policyNumber string) (bool, error)
	LinkExternalID(ctx context.Context, quoteID, externalID, source string) error
	SearchEntity(ctx context.Context, kind models.EntityKind, query string) ([]models.EntityCandidate, error)
}

type InsuredRequest struct {
	Name           string          `xml:"Name"`
	BusinessTypeID int             `xml:"BusinessTypeId"`
	Address        *models.Address `xml:"Address,omitempty"`
}

type SubmissionRequest struct {
	InsuredID     string      `xml:"InsuredId"`
	ProducerID    string      `xml:"ProducerId"`
	UnderwriterID string      `xml:"UnderwriterId"`
	Date          time.Time   `xml:"Date"`
	Kind          models.Kind `xml:"TransactionType"`
	PolicyNumber  string      `xml:"PolicyNumber,omitempty"`
}

type QuoteRequest struct {
	SubmissionID   string    `xml:"SubmissionId"`
	Classification string    `xml:"Classification"`
	Jurisdiction   string    `xml:"Jurisdiction"`
	EffectiveDate  time.Time `xml:"EffectiveDate"`
	ExpirationDate time.Time `xml:"ExpirationDate"`
	LocationID     string    `xml:"LocationId,omitempty"`
	ReasonCode     string    `xml:"ReasonCode,omitempty"`
}

// RatingResult is what the backend computed from an imported template.
type RatingResult struct {
	OptionID string
	Premium  decimal.Decimal
}

// Fault is a structured rejection reported by the backend.
type Fault struct {
	Code    string
	Message string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("backend fault %s: %s", f.Code, f.Message)
}

// FaultCode lets the classifier inspect the code without importing this package.
func (f *Fault) FaultCode() string {
	return f.Code
}

// AlreadyBoundError is returned by Bind when the option was bound earlier.
// Callers treat it as success when PolicyNumber is set.
type AlreadyBoundError struct {
	PolicyNumber string
}

func (e *AlreadyBoundError) Error() string {
	return fmt.Sprintf("quote already bound as policy %q", e.PolicyNumber)
}

// Fault codes with special meaning to the client.
const (
	FaultSessionExpired  = "SESSION_EXPIRED"
	FaultSessionConflict = "SESSION_CONFLICT"
	FaultAlreadyBound    = "ALREADY_BOUND"
)
