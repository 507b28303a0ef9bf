// Package ingress turns partner requests into persisted transactions.
package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"policy-orchestrator/internal/common/errors"
	"policy-orchestrator/internal/common/logger"
	"policy-orchestrator/internal/models"
	"policy-orchestrator/internal/store"

	"github.com/google/uuid"
)

// Request is a partner submission as received.
type Request struct {
	Kind       string          `json:"kind"`
	Source     string          `json:"source"`
	ExternalID string          `json:"externalId,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// KnownSource reports whether a partner is configured.
type KnownSource func(source string) bool

type Intake struct {
	store  store.Store
	known  KnownSource
	now    func() time.Time
	logger logger.Logger
}

// NewIntake builds an intake. known may be nil to accept any source.
func NewIntake(st store.Store, known KnownSource, log logger.Logger) *Intake {
	return &Intake{
		store:  st,
		known:  known,
		now:    time.Now,
		logger: log.WithFields(map[string]interface{}{"component": "ingress"}),
	}
}

// Receive persists req as a new Received transaction. A request repeating a
// (source, externalId) pair already seen returns the existing transaction
// with created=false. Payload content is validated by the pipeline so that a
// bad payload still leaves a Failed transaction behind.
func (i *Intake) Receive(ctx context.Context, req Request) (*models.Transaction, bool, error) {
	kind, ok := models.ParseKind(strings.TrimSpace(req.Kind))
	if !ok {
		return nil, false, errors.NewValidationError(errors.ErrCodeUnknownKind,
			fmt.Sprintf("transaction kind %q is not one of NewBusiness, Endorsement, Cancellation, Reinstatement", req.Kind))
	}

	source := strings.ToLower(strings.TrimSpace(req.Source))
	if source == "" {
		return nil, false, errors.NewValidationError(errors.ErrCodeUnknownSource, "source is required")
	}
	if i.known != nil && !i.known(source) {
		return nil, false, errors.NewValidationError(errors.ErrCodeUnknownSource,
			fmt.Sprintf("source %q is not configured", source))
	}

	tx := models.NewTransaction(uuid.NewString(), source, strings.TrimSpace(req.ExternalID), kind, req.Payload, i.now().UTC())

	stored, created, err := i.store.Create(ctx, tx)
	if err != nil {
		return nil, false, err
	}

	fields := map[string]interface{}{
		"transactionId": stored.ID,
		"source":        source,
		"kind":          string(kind),
		"externalId":    stored.ExternalID,
	}
	if created {
		i.logger.Info("transaction received", fields)
	} else {
		i.logger.Info("duplicate request, returning existing transaction", fields)
	}
	return stored, created, nil
}
