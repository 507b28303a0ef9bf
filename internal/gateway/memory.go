package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"policy-orchestrator/internal/models"

	"github.com/shopspring/decimal"
)

// Call records one invocation made against Memory.
type Call struct {
	Operation string
	Args      []interface{}
}

// Memory is an in-process backend used by tests and the memory:// sandbox.
// Records are kept in maps and identifiers are sequential per operation.
type Memory struct {
	mu sync.Mutex

	calls    []Call
	failures map[string][]error
	seq      map[string]int

	insuredByName map[string]string
	entities      map[models.EntityKind][]models.EntityCandidate
	bound         map[string]string
	issued        map[string]bool
	premiums      map[string]decimal.Decimal

	// TemplatePremium is returned by ImportRatingTemplate.
	TemplatePremium decimal.Decimal
	// Delay is applied to every call while honouring ctx.
	Delay time.Duration
}

var _ Gateway = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		failures:        make(map[string][]error),
		seq:             make(map[string]int),
		insuredByName:   make(map[string]string),
		entities:        make(map[models.EntityKind][]models.EntityCandidate),
		bound:           make(map[string]string),
		issued:          make(map[string]bool),
		premiums:        make(map[string]decimal.Decimal),
		TemplatePremium: decimal.RequireFromString("1000.00"),
	}
}

// FailNext queues errs to be returned, in order, by the next calls to operation.
func (m *Memory) FailNext(operation string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[operation] = append(m.failures[operation], errs...)
}

// AddEntity registers a searchable backend record.
func (m *Memory) AddEntity(kind models.EntityKind, c models.EntityCandidate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[kind] = append(m.entities[kind], c)
}

// Calls returns a copy of the recorded invocations.
func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount counts recorded invocations of operation, failed ones included.
func (m *Memory) CallCount(operation string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Operation == operation {
			n++
		}
	}
	return n
}

// Premium returns the premium attached to a rating option.
func (m *Memory) Premium(optionID string) (decimal.Decimal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.premiums[optionID]
	return p, ok
}

func (m *Memory) enter(ctx context.Context, operation string, args ...interface{}) error {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Operation: operation, Args: args})
	var err error
	if queued := m.failures[operation]; len(queued) > 0 {
		err = queued[0]
		m.failures[operation] = queued[1:]
	}
	delay := m.Delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

// nextID must be called with mu held.
func (m *Memory) nextID(prefix string) string {
	m.seq[prefix]++
	return fmt.Sprintf("%s-%d", prefix, m.seq[prefix])
}

func (m *Memory) FindOrCreateInsured(ctx context.Context, req InsuredRequest) (string, error) {
	if err := m.enter(ctx, "FindOrCreateInsured", req); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(strings.TrimSpace(req.Name))
	if id, ok := m.insuredByName[key]; ok {
		return id, nil
	}
	id := m.nextID("INS")
	m.insuredByName[key] = id
	m.entities[models.EntityInsured] = append(m.entities[models.EntityInsured], models.EntityCandidate{BackendID: id, DisplayName: req.Name})
	return id, nil
}

func (m *Memory) AddLocation(ctx context.Context, insuredID string, addr models.Address) (string, error) {
	if err := m.enter(ctx, "AddLocation", insuredID, addr); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextID("LOC"), nil
}

func (m *Memory) LinkAdditionalInsured(ctx context.Context, insuredID, partyID, relationship string) error {
	return m.enter(ctx, "LinkAdditionalInsured", insuredID, partyID, relationship)
}

func (m *Memory) CreateSubmission(ctx context.Context, req SubmissionRequest) (string, error) {
	if err := m.enter(ctx, "CreateSubmission", req); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextID("SUB"), nil
}

func (m *Memory) CreateQuote(ctx context.Context, req QuoteRequest) (string, error) {
	if err := m.enter(ctx, "CreateQuote", req); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextID("QTE"), nil
}

func (m *Memory) CreateRatingOption(ctx context.Context, quoteID string) (string, error) {
	if err := m.enter(ctx, "CreateRatingOption", quoteID); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextID("OPT"), nil
}

func (m *Memory) AddPremium(ctx context.Context, quoteID, optionID string, amount decimal.Decimal) error {
	if err := m.enter(ctx, "AddPremium", quoteID, optionID, amount); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.premiums[optionID] = amount
	return nil
}

func (m *Memory) ImportRatingTemplate(ctx context.Context, quoteID string, template []byte) (RatingResult, error) {
	if err := m.enter(ctx, "ImportRatingTemplate", quoteID, string(template)); err != nil {
		return RatingResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID("OPT")
	m.premiums[id] = m.TemplatePremium
	return RatingResult{OptionID: id, Premium: m.TemplatePremium}, nil
}

func (m *Memory) Bind(ctx context.Context, optionID string, boundDate time.Time) (string, error) {
	if err := m.enter(ctx, "Bind", optionID, boundDate); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if policy, ok := m.bound[optionID]; ok {
		return "", &AlreadyBoundError{PolicyNumber: policy}
	}
	policy := m.nextID("POL")
	m.bound[optionID] = policy
	return policy, nil
}

func (m *Memory) Issue(ctx context.Context, policyNumber string) (bool, error) {
	if err := m.enter(ctx, "Issue", policyNumber); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issued[policyNumber] = true
	return true, nil
}

func (m *Memory) LinkExternalID(ctx context.Context, quoteID, externalID, source string) error {
	return m.enter(ctx, "LinkExternalId", quoteID, externalID, source)
}

func (m *Memory) SearchEntity(ctx context.Context, kind models.EntityKind, query string) ([]models.EntityCandidate, error) {
	if err := m.enter(ctx, "SearchEntity", kind, query); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.EntityCandidate, len(m.entities[kind]))
	copy(out, m.entities[kind])
	return out, nil
}
