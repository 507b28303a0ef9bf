package store

import (
	"context"
	"sort"
	"sync"

	"policy-orchestrator/internal/common/errors"
	"policy-orchestrator/internal/models"
)

// Memory is a process-local Store. Values are cloned on the way in and out.
type Memory struct {
	mu   sync.RWMutex
	byID map[string]*models.Transaction
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{byID: make(map[string]*models.Transaction)}
}

func (m *Memory) Load(_ context.Context, id string) (*models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.byID[id]
	if !ok {
		return nil, errors.NewNotFoundError(id)
	}
	return tx.Clone(), nil
}

func (m *Memory) Save(_ context.Context, tx *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[tx.ID] = tx.Clone()
	return nil
}

func (m *Memory) Create(_ context.Context, tx *models.Transaction) (*models.Transaction, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx.ExternalID != "" {
		for _, existing := range m.byID {
			if existing.Source == tx.Source && existing.ExternalID == tx.ExternalID {
				return existing.Clone(), false, nil
			}
		}
	}
	if existing, ok := m.byID[tx.ID]; ok {
		return existing.Clone(), false, nil
	}
	m.byID[tx.ID] = tx.Clone()
	return tx.Clone(), true, nil
}

// Search returns matches ordered by UpdatedAt, oldest first.
func (m *Memory) Search(_ context.Context, f Filter) ([]*models.Transaction, error) {
	m.mu.RLock()
	var out []*models.Transaction
	for _, tx := range m.byID {
		if f.Matches(tx) {
			out = append(out, tx.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	if len(out) > f.limit() {
		out = out[:f.limit()]
	}
	return out, nil
}
