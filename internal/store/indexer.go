package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"policy-orchestrator/internal/common/logger"
	"policy-orchestrator/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
)

// Indexed mirrors every write into an Elasticsearch index for operator
// search. Indexing is best-effort; the wrapped Store stays authoritative.
type Indexed struct {
	Store
	client *elasticsearch.Client
	index  string
	logger logger.Logger
}

func NewIndexed(inner Store, client *elasticsearch.Client, index string, log logger.Logger) *Indexed {
	if index == "" {
		index = "policy-transactions"
	}
	return &Indexed{
		Store:  inner,
		client: client,
		index:  index,
		logger: log.WithFields(map[string]interface{}{"component": "store-indexer", "index": index}),
	}
}

type indexDocument struct {
	ID           string            `json:"id"`
	ExternalID   string            `json:"externalId,omitempty"`
	Source       string            `json:"source"`
	Kind         models.Kind       `json:"kind"`
	Status       models.Status     `json:"status"`
	Stage        models.Stage      `json:"stage"`
	FailedStage  models.Stage      `json:"failedStage,omitempty"`
	InsuredName  string            `json:"insuredName,omitempty"`
	PolicyNumber string            `json:"policyNumber,omitempty"`
	Refs         models.EntityRefs `json:"entityRefs"`
	LastError    string            `json:"lastError,omitempty"`
	RecentLog    []models.LogEntry `json:"recentLog"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

func documentFor(tx *models.Transaction) indexDocument {
	doc := indexDocument{
		ID:           tx.ID,
		ExternalID:   tx.ExternalID,
		Source:       tx.Source,
		Kind:         tx.Kind,
		Status:       tx.Status,
		Stage:        tx.Stage,
		FailedStage:  tx.FailedStage,
		PolicyNumber: tx.Refs.PolicyNumber,
		Refs:         tx.Refs,
		LastError:    tx.LastError,
		RecentLog:    tx.Tail(5),
		UpdatedAt:    tx.UpdatedAt,
	}
	if tx.Payload != nil {
		doc.InsuredName = tx.Payload.Insured.Name
	}
	return doc
}

func (s *Indexed) Save(ctx context.Context, tx *models.Transaction) error {
	if err := s.Store.Save(ctx, tx); err != nil {
		return err
	}
	s.mirror(ctx, tx)
	return nil
}

func (s *Indexed) Create(ctx context.Context, tx *models.Transaction) (*models.Transaction, bool, error) {
	stored, created, err := s.Store.Create(ctx, tx)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.mirror(ctx, stored)
	}
	return stored, created, nil
}

func (s *Indexed) mirror(ctx context.Context, tx *models.Transaction) {
	if err := s.Index(ctx, tx); err != nil {
		s.logger.Warn("failed to index transaction", map[string]interface{}{
			"transactionId": tx.ID,
			"error":         err.Error(),
		})
	}
}

// Index writes the summary document for tx, replacing any previous one.
func (s *Indexed) Index(ctx context.Context, tx *models.Transaction) error {
	body, err := json.Marshal(documentFor(tx))
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	res, err := s.client.Index(
		s.index,
		bytes.NewReader(body),
		s.client.Index.WithDocumentID(tx.ID),
		s.client.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("index request failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index error: %s", res.Status())
	}
	return nil
}
