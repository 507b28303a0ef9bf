// Package store persists transactions. Writes happen only at stage
// boundaries and are last-writer-wins per id; the per-transaction lock
// guarantees a single writer.
package store

import (
	"context"
	"time"

	"policy-orchestrator/internal/models"
)

// Store is the persistence contract the pipeline and ingress depend on.
type Store interface {
	// Load returns the transaction or a TRANSACTION_NOT_FOUND error.
	Load(ctx context.Context, id string) (*models.Transaction, error)
	// Save upserts the full transaction.
	Save(ctx context.Context, tx *models.Transaction) error
	// Create inserts tx unless another transaction already holds the same
	// (source, externalId); in that case the existing one is returned with
	// created=false.
	Create(ctx context.Context, tx *models.Transaction) (stored *models.Transaction, created bool, err error)
	Search(ctx context.Context, f Filter) ([]*models.Transaction, error)
}

// Filter narrows Search. Zero fields do not filter.
type Filter struct {
	Statuses      []models.Status
	Stages        []models.Stage
	Source        string
	Kind          models.Kind
	ExternalID    string
	UpdatedBefore time.Time
	Limit         int
}

const defaultSearchLimit = 100

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return defaultSearchLimit
	}
	return f.Limit
}

// Matches applies the filter to one transaction.
func (f Filter) Matches(tx *models.Transaction) bool {
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, tx.Status) {
		return false
	}
	if len(f.Stages) > 0 && !containsStage(f.Stages, tx.Stage) {
		return false
	}
	if f.Source != "" && f.Source != tx.Source {
		return false
	}
	if f.Kind != "" && f.Kind != tx.Kind {
		return false
	}
	if f.ExternalID != "" && f.ExternalID != tx.ExternalID {
		return false
	}
	if !f.UpdatedBefore.IsZero() && !tx.UpdatedAt.Before(f.UpdatedBefore) {
		return false
	}
	return true
}

func containsStatus(list []models.Status, s models.Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsStage(list []models.Stage, s models.Stage) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
