package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"policy-orchestrator/internal/classifier"
	"policy-orchestrator/internal/common/errors"
	"policy-orchestrator/internal/common/validation"
	"policy-orchestrator/internal/gateway"
	"policy-orchestrator/internal/mapping"
	"policy-orchestrator/internal/models"
	"policy-orchestrator/internal/resolver"

	"github.com/shopspring/decimal"
)

type note struct {
	level   models.LogLevel
	message string
}

// stageRun collects what one stage attempt produced. Nothing reaches the
// transaction unless the whole stage succeeds, except the notes.
type stageRun struct {
	tx      *models.Transaction
	refs    models.EntityRefs
	premium *decimal.Decimal
	payload *models.Payload
	notes   []note
}

func newStageRun(tx *models.Transaction) *stageRun {
	return &stageRun{tx: tx, payload: tx.Payload}
}

// ref returns a reference recorded earlier in this run or on the transaction.
func (r *stageRun) ref(f models.RefField) string {
	if v := r.refs.Get(f); v != "" {
		return v
	}
	return r.tx.Refs.Get(f)
}

func (r *stageRun) record(f models.RefField, value string) error {
	if existing := r.tx.Refs.Get(f); existing != "" {
		if existing == value {
			return nil
		}
		return errors.NewInternalError(&models.ErrRefAlreadySet{Field: f, Existing: existing, Proposed: value})
	}
	if err := r.refs.Set(f, value); err != nil {
		return errors.NewInternalError(err)
	}
	return nil
}

func (r *stageRun) info(format string, args ...interface{}) {
	r.notes = append(r.notes, note{models.LogInfo, fmt.Sprintf(format, args...)})
}

func (r *stageRun) warn(format string, args ...interface{}) {
	r.notes = append(r.notes, note{models.LogWarn, fmt.Sprintf(format, args...)})
}

// apply merges the run into tx, enforcing write-once references.
func (r *stageRun) apply(tx *models.Transaction) error {
	if r.payload != nil {
		tx.Payload = r.payload
	}
	if err := tx.Refs.Merge(r.refs); err != nil {
		return errors.NewInternalError(err)
	}
	if r.premium != nil {
		if err := tx.Refs.SetPremium(*r.premium); err != nil {
			return errors.NewInternalError(err)
		}
	}
	return nil
}

// view is the transaction as stage logic sees it: persisted state plus what
// this run has produced so far.
func (r *stageRun) view() *models.Transaction {
	v := r.tx.Clone()
	v.Payload = r.payload
	_ = v.Refs.Merge(r.refs)
	return v
}

type stageFunc func(ctx context.Context, run *stageRun) error

func (p *Pipeline) stageWork(stage models.Stage) (stageFunc, bool) {
	switch stage {
	case models.StageReceived:
		return p.resolveInsured, true
	case models.StageInsuredResolved:
		return p.createSubmission, true
	case models.StageSubmissionCreated:
		return p.createQuote, true
	case models.StageQuoteCreated:
		return p.rate, true
	case models.StageRated:
		return p.bind, true
	case models.StageBound:
		return p.issue, true
	case models.StageIssued:
		return p.complete, true
	}
	return nil, false
}

// payload returns the parsed payload, parsing the raw document when the
// transaction has not been through Received yet.
func (p *Pipeline) payload(run *stageRun) (*models.Payload, error) {
	if run.payload != nil {
		return run.payload, nil
	}
	parsed, err := validation.ParsePayload(run.tx.Kind, run.tx.RawPayload)
	if err != nil {
		return nil, err
	}
	run.payload = parsed
	return parsed, nil
}

// call runs one backend operation under the retry policy's timeout.
func (p *Pipeline) call(ctx context.Context, operation string, fn func(context.Context) error) error {
	return p.policy.Call(ctx, operation, fn)
}

// resolve looks a party up by name and notes ambiguous matches.
func (p *Pipeline) resolve(ctx context.Context, run *stageRun, kind models.EntityKind, party *models.Party) (resolver.Match, error) {
	if party == nil || strings.TrimSpace(party.Name) == "" {
		return resolver.Match{Decision: resolver.NotFound}, nil
	}

	var match resolver.Match
	err := p.call(ctx, "SearchEntity", func(ctx context.Context) error {
		var err error
		match, err = p.resolver.Resolve(ctx, kind, party.Name, party.LastName)
		return err
	})
	if err != nil {
		return resolver.Match{}, err
	}

	switch match.Decision {
	case resolver.Ambiguous:
		amb := errors.NewAmbiguousMatchError(string(kind), party.Name, match.Candidate.DisplayName, match.Candidate.Score)
		run.warn("%s; using %s", amb.Details, match.Candidate.BackendID)
	case resolver.Confident:
		run.info("%s %q matched %s (score %.2f)", kind, party.Name, match.Candidate.BackendID, match.Candidate.Score)
	}
	return match, nil
}

func businessTypeFor(party models.Party) mapping.BusinessType {
	if bt, ok := mapping.LookupBusinessType(party.BusinessType); ok {
		return bt
	}
	return mapping.InferBusinessType(party.Name)
}

// findOrCreateParty resolves party against known insureds and creates it when
// no acceptable match exists.
func (p *Pipeline) findOrCreateParty(ctx context.Context, run *stageRun, party models.Party) (string, bool, error) {
	match, err := p.resolve(ctx, run, models.EntityInsured, &party)
	if err != nil {
		return "", false, err
	}
	if match.Found() {
		return match.Candidate.BackendID, false, nil
	}

	var id string
	err = p.call(ctx, "FindOrCreateInsured", func(ctx context.Context) error {
		var err error
		id, err = p.gateway.FindOrCreateInsured(ctx, gateway.InsuredRequest{
			Name:           party.Name,
			BusinessTypeID: businessTypeFor(party).ID,
			Address:        party.Address,
		})
		return err
	})
	if err != nil {
		return "", false, err
	}
	p.resolver.Forget(ctx, models.EntityInsured, party.Name)
	return id, true, nil
}

// resolveInsured is the Received stage.
func (p *Pipeline) resolveInsured(ctx context.Context, run *stageRun) error {
	payload, err := validation.ParsePayload(run.tx.Kind, run.tx.RawPayload)
	if err != nil {
		return err
	}
	run.payload = payload

	if run.ref(models.RefInsured) == "" {
		id, created, err := p.findOrCreateParty(ctx, run, payload.Insured)
		if err != nil {
			return err
		}
		if err := run.record(models.RefInsured, id); err != nil {
			return err
		}
		if created {
			run.info("created insured %q as %s", payload.Insured.Name, id)
		}
	}
	insuredID := run.ref(models.RefInsured)

	if addr := payload.Insured.Address; addr != nil && run.ref(models.RefLocation) == "" {
		var locationID string
		err := p.call(ctx, "AddLocation", func(ctx context.Context) error {
			var err error
			locationID, err = p.gateway.AddLocation(ctx, insuredID, *addr)
			return err
		})
		if err != nil {
			return err
		}
		if err := run.record(models.RefLocation, locationID); err != nil {
			return err
		}
		run.info("added location %s at %s", locationID, addr.OneLine())
	}

	for _, party := range payload.AdditionalParties {
		p.linkAdditionalParty(ctx, run, insuredID, party)
	}
	return nil
}

// linkAdditionalParty is best-effort: failures are noted and swallowed.
func (p *Pipeline) linkAdditionalParty(ctx context.Context, run *stageRun, insuredID string, party models.Party) {
	partyID, _, err := p.findOrCreateParty(ctx, run, party)
	if err == nil {
		relationship := party.Relationship
		if relationship == "" {
			relationship = "AdditionalInsured"
		}
		err = p.call(ctx, "LinkAdditionalInsured", func(ctx context.Context) error {
			return p.gateway.LinkAdditionalInsured(ctx, insuredID, partyID, relationship)
		})
	}
	if err != nil {
		run.warn("additional party %q not linked (%s): %v", party.Name, classifier.ClassifyBestEffort(err), err)
		return
	}
	run.info("linked additional party %q as %s", party.Name, partyID)
}

// partyOrDefault resolves an optional party and falls back to the source's
// configured default.
func (p *Pipeline) partyOrDefault(ctx context.Context, run *stageRun, kind models.EntityKind, party *models.Party, fallback string) (string, error) {
	match, err := p.resolve(ctx, run, kind, party)
	if err != nil {
		return "", err
	}
	if match.Found() {
		return match.Candidate.BackendID, nil
	}
	if fallback == "" {
		return "", errors.NewConfigurationError(errors.ErrCodeMissingDefault,
			fmt.Sprintf("no %s matched and source %q has no default %s", kind, run.tx.Source, kind))
	}
	if party != nil && party.Name != "" {
		run.warn("%s %q not found, using source default %s", kind, party.Name, fallback)
	} else {
		run.info("using source default %s %s", kind, fallback)
	}
	return fallback, nil
}

// createSubmission is the InsuredResolved stage.
func (p *Pipeline) createSubmission(ctx context.Context, run *stageRun) error {
	if run.ref(models.RefSubmission) != "" {
		return nil
	}
	payload, err := p.payload(run)
	if err != nil {
		return err
	}
	src, _ := p.sources(run.tx.Source)

	producerID := run.ref(models.RefProducer)
	if producerID == "" {
		if producerID, err = p.partyOrDefault(ctx, run, models.EntityProducer, payload.Producer, src.DefaultProducerID); err != nil {
			return err
		}
		if err := run.record(models.RefProducer, producerID); err != nil {
			return err
		}
	}
	underwriterID := run.ref(models.RefUnderwriter)
	if underwriterID == "" {
		if underwriterID, err = p.partyOrDefault(ctx, run, models.EntityUnderwriter, payload.Underwriter, src.DefaultUnderwriterID); err != nil {
			return err
		}
		if err := run.record(models.RefUnderwriter, underwriterID); err != nil {
			return err
		}
	}

	date := payload.EffectiveDate.Time
	if date.IsZero() {
		date = p.now().UTC()
	}
	req := gateway.SubmissionRequest{
		InsuredID:     run.ref(models.RefInsured),
		ProducerID:    producerID,
		UnderwriterID: underwriterID,
		Date:          date,
		Kind:          run.tx.Kind,
		PolicyNumber:  payload.ExistingPolicyNumber(),
	}

	var submissionID string
	err = p.call(ctx, "CreateSubmission", func(ctx context.Context) error {
		var err error
		submissionID, err = p.gateway.CreateSubmission(ctx, req)
		return err
	})
	if err != nil {
		return err
	}
	run.info("created submission %s", submissionID)
	return run.record(models.RefSubmission, submissionID)
}

// classify picks the classification: recorded, payload, coverage keywords,
// then source default.
func (p *Pipeline) classify(run *stageRun, payload *models.Payload) (string, error) {
	if c := run.ref(models.RefClassification); c != "" {
		return c, nil
	}
	if c := strings.TrimSpace(payload.Classification); c != "" {
		return strings.ToUpper(c), nil
	}
	if c, ok := mapping.Classify(payload.CoverageDescription); ok {
		run.info("classified coverage as %s from description", c)
		return c, nil
	}
	if src, _ := p.sources(run.tx.Source); src.DefaultClassification != "" {
		run.warn("coverage description did not classify, using source default %s", src.DefaultClassification)
		return src.DefaultClassification, nil
	}
	return "", errors.NewConfigurationError(errors.ErrCodeMissingDefault,
		fmt.Sprintf("coverage could not be classified and source %q has no default classification", run.tx.Source))
}

// createQuote is the SubmissionCreated stage.
func (p *Pipeline) createQuote(ctx context.Context, run *stageRun) error {
	if run.ref(models.RefQuote) != "" {
		return nil
	}
	payload, err := p.payload(run)
	if err != nil {
		return err
	}

	classification, err := p.classify(run, payload)
	if err != nil {
		return err
	}
	if err := run.record(models.RefClassification, classification); err != nil {
		return err
	}

	locationID := run.ref(models.RefLocation)
	if locationID == "" {
		src, _ := p.sources(run.tx.Source)
		locationID = src.DefaultLocationID
	}

	req := gateway.QuoteRequest{
		SubmissionID:   run.ref(models.RefSubmission),
		Classification: classification,
		Jurisdiction:   strings.ToUpper(payload.Jurisdiction),
		EffectiveDate:  payload.EffectiveDate.Time,
		ExpirationDate: payload.ExpirationDate.Time,
		LocationID:     locationID,
	}
	switch {
	case payload.Cancellation != nil:
		if reason, ok := mapping.LookupCancellationReason(payload.Cancellation.Reason); ok {
			req.ReasonCode = reason.Code
		}
		if !payload.Cancellation.EffectiveDate.IsZero() {
			req.EffectiveDate = payload.Cancellation.EffectiveDate.Time
		}
	case payload.Reinstatement != nil && !payload.Reinstatement.EffectiveDate.IsZero():
		req.EffectiveDate = payload.Reinstatement.EffectiveDate.Time
	}

	var quoteID string
	err = p.call(ctx, "CreateQuote", func(ctx context.Context) error {
		var err error
		quoteID, err = p.gateway.CreateQuote(ctx, req)
		return err
	})
	if err != nil {
		return err
	}
	run.info("created quote %s for %s in %s", quoteID, classification, req.Jurisdiction)
	return run.record(models.RefQuote, quoteID)
}

// rate is the QuoteCreated stage.
func (p *Pipeline) rate(ctx context.Context, run *stageRun) error {
	if run.ref(models.RefRatingOption) != "" {
		return nil
	}
	if _, err := p.payload(run); err != nil {
		return err
	}

	result, err := p.rater.Rate(ctx, run.view())
	if err != nil {
		return err
	}
	premium := result.Premium
	run.premium = &premium
	if result.TemplateID != "" {
		run.info("rated from template %s: option %s, premium %s", result.TemplateID, result.OptionID, models.FormatAmount(premium))
	} else {
		run.info("premium %s passed through on option %s", models.FormatAmount(premium), result.OptionID)
	}
	return run.record(models.RefRatingOption, result.OptionID)
}

// bind is the Rated stage. A quote bound by an earlier attempt counts as bound.
func (p *Pipeline) bind(ctx context.Context, run *stageRun) error {
	if run.ref(models.RefPolicyNumber) != "" {
		return nil
	}
	optionID := run.ref(models.RefRatingOption)
	boundDate := p.now().UTC().Truncate(24 * time.Hour)

	var policyNumber string
	err := p.call(ctx, "Bind", func(ctx context.Context) error {
		var err error
		policyNumber, err = p.gateway.Bind(ctx, optionID, boundDate)
		return err
	})

	var already *gateway.AlreadyBoundError
	if stderrors.As(err, &already) && already.PolicyNumber != "" {
		run.info("option %s was already bound as %s", optionID, already.PolicyNumber)
		return run.record(models.RefPolicyNumber, already.PolicyNumber)
	}
	if err != nil {
		return err
	}
	run.info("bound option %s as policy %s", optionID, policyNumber)
	return run.record(models.RefPolicyNumber, policyNumber)
}

// issue is the Bound stage. Linking the partner's id afterwards is best-effort.
func (p *Pipeline) issue(ctx context.Context, run *stageRun) error {
	policyNumber := run.ref(models.RefPolicyNumber)

	var issued bool
	err := p.call(ctx, "Issue", func(ctx context.Context) error {
		var err error
		issued, err = p.gateway.Issue(ctx, policyNumber)
		return err
	})
	if err != nil {
		return err
	}
	if !issued {
		return errors.NewPermanentBackendError("Issue", fmt.Errorf("backend declined to issue policy %s", policyNumber))
	}
	run.info("issued policy %s", policyNumber)

	if run.tx.ExternalID == "" {
		return nil
	}
	quoteID := run.ref(models.RefQuote)
	err = p.call(ctx, "LinkExternalId", func(ctx context.Context) error {
		return p.gateway.LinkExternalID(ctx, quoteID, run.tx.ExternalID, run.tx.Source)
	})
	if err != nil {
		run.warn("external id %s not linked (%s): %v", run.tx.ExternalID, classifier.ClassifyBestEffort(err), err)
		return nil
	}
	run.info("linked external id %s", run.tx.ExternalID)
	return nil
}

// complete is the Issued stage: no backend call, only the completeness check.
func (p *Pipeline) complete(_ context.Context, run *stageRun) error {
	missing := run.view().MissingRefs()
	if len(missing) == 0 {
		return nil
	}
	names := make([]string, len(missing))
	for i, f := range missing {
		names[i] = string(f)
	}
	return errors.NewIncompleteError(names)
}
