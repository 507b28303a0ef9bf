// Package rating chooses between passing the partner's premium through and
// rating the quote from a template, and performs the chosen strategy.
package rating

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"policy-orchestrator/internal/classifier"
	"policy-orchestrator/internal/common/errors"
	"policy-orchestrator/internal/common/logger"
	"policy-orchestrator/internal/common/metrics"
	"policy-orchestrator/internal/gateway"
	"policy-orchestrator/internal/models"
	"policy-orchestrator/pkg/registry"

	"github.com/shopspring/decimal"
)

type Strategy string

const (
	Direct   Strategy = "direct"
	Template Strategy = "template"
)

// ParseStrategy accepts the configured spellings, case-insensitively.
func ParseStrategy(s string) (Strategy, bool) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case Direct:
		return Direct, true
	case Template:
		return Template, true
	}
	return "", false
}

// Gateway is the subset of backend operations rating needs.
type Gateway interface {
	CreateRatingOption(ctx context.Context, quoteID string) (string, error)
	AddPremium(ctx context.Context, quoteID, optionID string, amount decimal.Decimal) error
	ImportRatingTemplate(ctx context.Context, quoteID string, template []byte) (gateway.RatingResult, error)
}

// Templates is satisfied by *registry.Registry.
type Templates interface {
	Lookup(source, classification, jurisdiction string) (*registry.Template, registry.Level, error)
}

// SourceStrategies returns a source's configured default strategy, or "".
type SourceStrategies func(source string) string

// Result is what a successful rating records on the transaction.
type Result struct {
	Premium    decimal.Decimal
	OptionID   string
	Strategy   Strategy
	TemplateID string
}

type Selector struct {
	gateway         Gateway
	templates       Templates
	renderer        Renderer
	policy          classifier.Policy
	sourceStrategy  SourceStrategies
	defaultStrategy Strategy
	logger          logger.Logger
}

type Option func(*Selector)

func WithRenderer(r Renderer) Option {
	return func(s *Selector) { s.renderer = r }
}

func WithSourceStrategies(f SourceStrategies) Option {
	return func(s *Selector) { s.sourceStrategy = f }
}

// NewSelector builds a selector. templates may be nil when no template
// directory is configured; template-rated transactions then fail with a
// configuration error.
func NewSelector(gw Gateway, templates Templates, defaultStrategy Strategy, policy classifier.Policy, log logger.Logger, opts ...Option) *Selector {
	s := &Selector{
		gateway:         gw,
		templates:       templates,
		renderer:        YAMLRenderer{},
		policy:          policy,
		defaultStrategy: defaultStrategy,
		logger:          log.WithFields(map[string]interface{}{"component": "rating"}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Choose resolves the strategy: payload flag, then source default, then the
// global default.
func (s *Selector) Choose(tx *models.Transaction) (Strategy, error) {
	type setting struct{ origin, value string }
	settings := []setting{{"payload", payloadStrategy(tx)}}
	if s.sourceStrategy != nil {
		settings = append(settings, setting{"source " + tx.Source, s.sourceStrategy(tx.Source)})
	}
	settings = append(settings, setting{"default", string(s.defaultStrategy)})

	for _, c := range settings {
		if c.value == "" {
			continue
		}
		strategy, ok := ParseStrategy(c.value)
		if !ok {
			return "", errors.NewConfigurationError(errors.ErrCodeStrategyUnknown,
				fmt.Sprintf("%s rating strategy %q", c.origin, c.value))
		}
		return strategy, nil
	}
	return "", errors.NewConfigurationError(errors.ErrCodeStrategyUnknown, "no rating strategy configured")
}

func payloadStrategy(tx *models.Transaction) string {
	if tx.Payload == nil {
		return ""
	}
	return tx.Payload.RatingStrategy
}

// Rate performs the chosen strategy against the quote recorded on tx.
func (s *Selector) Rate(ctx context.Context, tx *models.Transaction) (Result, error) {
	if tx.Refs.QuoteID == "" {
		return Result{}, errors.NewInternalError(fmt.Errorf("transaction %s has no quote to rate", tx.ID))
	}

	strategy, err := s.Choose(tx)
	if err != nil {
		return Result{}, err
	}
	metrics.RatingStrategyUsed.WithLabelValues(string(strategy)).Inc()

	switch strategy {
	case Template:
		return s.rateFromTemplate(ctx, tx)
	default:
		return s.rateDirect(ctx, tx)
	}
}

// rateDirect passes the partner premium through unchanged. When AddPremium
// fails after the option was created, the option is left on the quote without
// a premium and the stage retry creates a new one; the orphan is logged and
// carried in the error metadata as orphanedOptionId.
func (s *Selector) rateDirect(ctx context.Context, tx *models.Transaction) (Result, error) {
	if tx.Payload == nil || tx.Payload.Premium == nil {
		return Result{}, errors.NewValidationError(errors.ErrCodeMissingPremium,
			"direct rating requires a premium in the payload")
	}
	premium := *tx.Payload.Premium
	quoteID := tx.Refs.QuoteID

	var optionID string
	err := s.policy.Call(ctx, "CreateRatingOption", func(ctx context.Context) error {
		var err error
		optionID, err = s.gateway.CreateRatingOption(ctx, quoteID)
		return err
	})
	if err != nil {
		return Result{}, err
	}

	err = s.policy.Call(ctx, "AddPremium", func(ctx context.Context) error {
		return s.gateway.AddPremium(ctx, quoteID, optionID, premium)
	})
	if err != nil {
		s.logger.Warn("rating option left without premium", map[string]interface{}{
			"transactionId": tx.ID,
			"quoteId":       quoteID,
			"optionId":      optionID,
			"error":         err.Error(),
		})
		if stdErr, ok := errors.AsStandard(err); ok {
			if stdErr.Metadata == nil {
				stdErr.Metadata = make(map[string]interface{})
			}
			stdErr.Metadata["orphanedOptionId"] = optionID
		}
		return Result{}, err
	}

	s.logger.Info("premium passed through", map[string]interface{}{
		"transactionId": tx.ID,
		"optionId":      optionID,
		"premium":       premium.String(),
	})
	return Result{Premium: premium, OptionID: optionID, Strategy: Direct}, nil
}

func (s *Selector) rateFromTemplate(ctx context.Context, tx *models.Transaction) (Result, error) {
	classification := tx.Refs.Classification
	jurisdiction := ""
	if tx.Payload != nil {
		jurisdiction = tx.Payload.Jurisdiction
		if classification == "" {
			classification = tx.Payload.Classification
		}
	}

	if s.templates == nil {
		return Result{}, errors.NewConfigurationError(errors.ErrCodeTemplateNotFound, "no rating templates are loaded")
	}
	tpl, level, err := s.templates.Lookup(tx.Source, classification, jurisdiction)
	if stderrors.Is(err, registry.ErrNotFound) {
		return Result{}, errors.NewConfigurationError(errors.ErrCodeTemplateNotFound, err.Error())
	}
	if err != nil {
		return Result{}, errors.NewInternalError(err)
	}

	values, err := Populate(tpl, Project(tx))
	if err != nil {
		return Result{}, err
	}
	body, err := s.renderer.Render(tpl, values)
	if err != nil {
		return Result{}, errors.NewInternalError(err)
	}

	var rated gateway.RatingResult
	err = s.policy.Call(ctx, "ImportRatingTemplate", func(ctx context.Context) error {
		var err error
		rated, err = s.gateway.ImportRatingTemplate(ctx, tx.Refs.QuoteID, body)
		return err
	})
	if err != nil {
		return Result{}, err
	}

	s.logger.Info("quote rated from template", map[string]interface{}{
		"transactionId": tx.ID,
		"templateId":    tpl.ID,
		"level":         level.String(),
		"optionId":      rated.OptionID,
		"premium":       rated.Premium.String(),
	})
	return Result{Premium: rated.Premium, OptionID: rated.OptionID, Strategy: Template, TemplateID: tpl.ID}, nil
}
