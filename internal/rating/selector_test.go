package rating

import (
	"context"
	"testing"
	"time"

	"policy-orchestrator/internal/classifier"
	"policy-orchestrator/internal/common/errors"
	"policy-orchestrator/internal/common/logger"
	"policy-orchestrator/internal/gateway"
	"policy-orchestrator/internal/models"
	"policy-orchestrator/pkg/registry"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gopkg.in/yaml.v3"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreateRatingOption(ctx context.Context, quoteID string) (string, error) {
	args := m.Called(ctx, quoteID)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) AddPremium(ctx context.Context, quoteID, optionID string, amount decimal.Decimal) error {
	args := m.Called(ctx, quoteID, optionID, amount)
	return args.Error(0)
}

func (m *MockGateway) ImportRatingTemplate(ctx context.Context, quoteID string, template []byte) (gateway.RatingResult, error) {
	args := m.Called(ctx, quoteID, template)
	return args.Get(0).(gateway.RatingResult), args.Error(1)
}

func testPolicy() classifier.Policy {
	return classifier.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, CallTimeout: time.Second}
}

func quotedTransaction(t *testing.T, payload *models.Payload) *models.Transaction {
	t.Helper()
	tx := models.NewTransaction("tx-1", "acme", "EXT-1", models.KindNewBusiness, nil, time.Now())
	tx.Payload = payload
	require.NoError(t, tx.Refs.Set(models.RefQuote, "Q-1"))
	return tx
}

func TestSelector_DirectPassesPremiumVerbatim(t *testing.T) {
	premium := decimal.RequireFromString("1639.00")
	tx := quotedTransaction(t, &models.Payload{Premium: &premium})

	gw := new(MockGateway)
	gw.On("CreateRatingOption", mock.Anything, "Q-1").Return("OPT-1", nil).Once()
	gw.On("AddPremium", mock.Anything, "Q-1", "OPT-1", mock.MatchedBy(func(d decimal.Decimal) bool {
		return d.StringFixed(2) == "1639.00" && d.Exponent() == -2
	})).Return(nil).Once()

	s := NewSelector(gw, nil, Direct, testPolicy(), logger.NewTestLogger(t))
	res, err := s.Rate(context.Background(), tx)
	require.NoError(t, err)

	assert.Equal(t, "OPT-1", res.OptionID)
	assert.Equal(t, Direct, res.Strategy)
	assert.Equal(t, "1639.00", res.Premium.StringFixed(2))
	gw.AssertExpectations(t)
}

func TestSelector_DirectWithoutPremiumIsValidationError(t *testing.T) {
	gw := new(MockGateway)
	s := NewSelector(gw, nil, Direct, testPolicy(), logger.NewNoOpLogger())

	_, err := s.Rate(context.Background(), quotedTransaction(t, &models.Payload{}))
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
	assert.True(t, errors.Is(err, errors.ErrCodeMissingPremium))
	gw.AssertNotCalled(t, "CreateRatingOption", mock.Anything, mock.Anything)
}

func TestSelector_AddPremiumFailureIsClassified(t *testing.T) {
	premium := decimal.RequireFromString("10")
	gw := new(MockGateway)
	gw.On("CreateRatingOption", mock.Anything, "Q-1").Return("OPT-1", nil)
	gw.On("AddPremium", mock.Anything, "Q-1", "OPT-1", mock.Anything).Return(&gateway.Fault{Code: "RECORD_LOCKED"})

	core, logs := observer.New(zapcore.WarnLevel)
	s := NewSelector(gw, nil, Direct, testPolicy(), logger.NewZapAdapter(zap.New(core)))
	_, err := s.Rate(context.Background(), quotedTransaction(t, &models.Payload{Premium: &premium}))
	assert.Equal(t, errors.KindTransient, errors.KindOf(err))

	stdErr, ok := errors.AsStandard(err)
	require.True(t, ok)
	assert.Equal(t, "OPT-1", stdErr.Metadata["orphanedOptionId"])

	orphaned := logs.FilterMessage("rating option left without premium").All()
	require.Len(t, orphaned, 1)
	assert.Equal(t, "OPT-1", orphaned[0].ContextMap()["optionId"])
}

func TestSelector_Choose(t *testing.T) {
	sources := func(source string) string {
		if source == "beta" {
			return "template"
		}
		return ""
	}
	s := NewSelector(new(MockGateway), nil, Direct, testPolicy(), logger.NewNoOpLogger(), WithSourceStrategies(sources))

	tx := quotedTransaction(t, &models.Payload{})
	got, err := s.Choose(tx)
	require.NoError(t, err)
	assert.Equal(t, Direct, got, "global default")

	tx.Source = "beta"
	got, err = s.Choose(tx)
	require.NoError(t, err)
	assert.Equal(t, Template, got, "source default")

	tx.Payload.RatingStrategy = "Direct"
	got, err = s.Choose(tx)
	require.NoError(t, err)
	assert.Equal(t, Direct, got, "payload flag wins")

	tx.Payload.RatingStrategy = "spreadsheet"
	_, err = s.Choose(tx)
	assert.Equal(t, errors.KindConfiguration, errors.KindOf(err))
}

func templateRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.Add(registry.Template{
		ID:             "acme-8810",
		Version:        3,
		Source:         "acme",
		Classification: "8810",
		Sheet:          "Clerical",
		Fields: []registry.Field{
			{Name: "insured", From: "insured.name", Required: true},
			{Name: "payroll", From: "exposures.payroll", Required: true},
			{Name: "state", From: "jurisdiction"},
			{Name: "territory", From: "attributes.territory", Default: "01"},
		},
	}))
	return reg
}

func TestSelector_TemplateRendersAndImports(t *testing.T) {
	tx := quotedTransaction(t, &models.Payload{
		Insured:        models.Party{Name: "Acme Roofing"},
		Jurisdiction:   "tx",
		Classification: "8810",
		RatingStrategy: "template",
		Exposures:      map[string]decimal.Decimal{"payroll": decimal.RequireFromString("250000")},
	})

	var rendered []byte
	gw := new(MockGateway)
	gw.On("ImportRatingTemplate", mock.Anything, "Q-1", mock.Anything).
		Run(func(args mock.Arguments) { rendered = args.Get(2).([]byte) }).
		Return(gateway.RatingResult{OptionID: "OPT-9", Premium: decimal.RequireFromString("812.50")}, nil)

	s := NewSelector(gw, templateRegistry(t), Direct, testPolicy(), logger.NewNoOpLogger())
	res, err := s.Rate(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, Template, res.Strategy)
	assert.Equal(t, "acme-8810", res.TemplateID)
	assert.Equal(t, "OPT-9", res.OptionID)
	assert.Equal(t, "812.5", res.Premium.String())

	var doc struct {
		Template string            `yaml:"template"`
		Version  int               `yaml:"version"`
		Sheet    string            `yaml:"sheet"`
		Fields   map[string]string `yaml:"fields"`
	}
	require.NoError(t, yaml.Unmarshal(rendered, &doc))
	assert.Equal(t, "acme-8810", doc.Template)
	assert.Equal(t, 3, doc.Version)
	assert.Equal(t, map[string]string{
		"insured":   "Acme Roofing",
		"payroll":   "250000",
		"state":     "TX",
		"territory": "01",
	}, doc.Fields)
}

func TestSelector_TemplateMissingIsConfigurationError(t *testing.T) {
	tx := quotedTransaction(t, &models.Payload{RatingStrategy: "template", Classification: "8810"})
	tx.Source = "unknown"

	gw := new(MockGateway)
	s := NewSelector(gw, templateRegistry(t), Direct, testPolicy(), logger.NewNoOpLogger())
	_, err := s.Rate(context.Background(), tx)

	assert.Equal(t, errors.KindConfiguration, errors.KindOf(err))
	assert.True(t, errors.Is(err, errors.ErrCodeTemplateNotFound))
	gw.AssertNotCalled(t, "CreateRatingOption", mock.Anything, mock.Anything)
	gw.AssertNotCalled(t, "ImportRatingTemplate", mock.Anything, mock.Anything, mock.Anything)
}

func TestSelector_TemplateRequiredFieldMissing(t *testing.T) {
	tx := quotedTransaction(t, &models.Payload{
		Insured:        models.Party{Name: "Acme Roofing"},
		RatingStrategy: "template",
		Classification: "8810",
	})

	s := NewSelector(new(MockGateway), templateRegistry(t), Direct, testPolicy(), logger.NewNoOpLogger())
	_, err := s.Rate(context.Background(), tx)
	assert.True(t, errors.Is(err, errors.ErrCodeTemplateField))
	assert.Contains(t, err.Error(), "payroll")
}

func TestProject_PrefersRecordedClassification(t *testing.T) {
	tx := quotedTransaction(t, &models.Payload{Classification: "9999", Jurisdiction: "ca"})
	require.NoError(t, tx.Refs.Set(models.RefClassification, "8810"))

	p := Project(tx)
	assert.Equal(t, "8810", p["classification"])
	assert.Equal(t, "CA", p["jurisdiction"])
	assert.Equal(t, "acme", p["source"])
	assert.Equal(t, "Q-1", p["refs.quoteId"])
}
