// Package pipeline drives a transaction through its fixed stage order against
// the backend, one stage per Advance, persisting after every transition.
package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"policy-orchestrator/internal/classifier"
	"policy-orchestrator/internal/common/config"
	"policy-orchestrator/internal/common/errors"
	"policy-orchestrator/internal/common/logger"
	"policy-orchestrator/internal/common/metrics"
	"policy-orchestrator/internal/common/observability"
	"policy-orchestrator/internal/gateway"
	"policy-orchestrator/internal/lock"
	"policy-orchestrator/internal/models"
	"policy-orchestrator/internal/rating"
	"policy-orchestrator/internal/resolver"
	"policy-orchestrator/internal/store"

	"golang.org/x/sync/errgroup"
)

// ErrTransactionBusy is returned when another worker holds the transaction.
var ErrTransactionBusy = stderrors.New("transaction busy")

// Outcome tags what one Advance did.
type Outcome string

const (
	Advanced  Outcome = "advanced"
	Completed Outcome = "completed"
	Retry     Outcome = "retry"
	Failed    Outcome = "failed"
)

// Result is the transaction after one Advance. Delay is the suggested wait
// before the next attempt when Outcome is Retry; Err is set for Retry and
// Failed.
type Result struct {
	Transaction *models.Transaction
	Outcome     Outcome
	Delay       time.Duration
	Err         *errors.StandardError
}

// Rater performs the QuoteCreated stage's rating.
type Rater interface {
	Rate(ctx context.Context, tx *models.Transaction) (rating.Result, error)
}

// Sources returns the configured defaults for a partner.
type Sources func(source string) (config.SourceConfig, bool)

// Notifier is told about every transaction reaching a terminal status.
type Notifier interface {
	TransactionFinished(ctx context.Context, tx *models.Transaction)
}

type Pipeline struct {
	gateway  gateway.Gateway
	store    store.Store
	locker   lock.Locker
	resolver *resolver.Resolver
	rater    Rater
	sources  Sources
	policy   classifier.Policy
	notifier Notifier
	obs      *observability.Observability
	logger   logger.Logger

	concurrency int
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

type Option func(*Pipeline)

func WithNotifier(n Notifier) Option {
	return func(p *Pipeline) { p.notifier = n }
}

func WithObservability(o *observability.Observability) Option {
	return func(p *Pipeline) { p.obs = o }
}

// WithConcurrency bounds how many transactions ResumePending runs at once.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) { p.concurrency = n }
}

// WithClock replaces time.Now and the backoff sleep.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

func New(
	gw gateway.Gateway,
	st store.Store,
	locker lock.Locker,
	res *resolver.Resolver,
	rater Rater,
	sources Sources,
	policy classifier.Policy,
	log logger.Logger,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		gateway:     gw,
		store:       st,
		locker:      locker,
		resolver:    res,
		rater:       rater,
		sources:     sources,
		policy:      policy,
		obs:         &observability.Observability{},
		logger:      log.WithFields(map[string]interface{}{"component": "pipeline"}),
		concurrency: 4,
		now:         time.Now,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.sources == nil {
		p.sources = func(string) (config.SourceConfig, bool) { return config.SourceConfig{}, false }
	}
	return p
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) acquire(ctx context.Context, id string) (lock.Lease, error) {
	lease, err := p.locker.Acquire(ctx, id)
	if stderrors.Is(err, lock.ErrLocked) {
		metrics.LockContention.Inc()
		return nil, fmt.Errorf("%w: %s", ErrTransactionBusy, id)
	}
	if err != nil {
		return nil, errors.NewInternalError(fmt.Errorf("lock %s: %w", id, err))
	}
	return lease, nil
}

func (p *Pipeline) release(lease lock.Lease, id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := lease.Release(ctx); err != nil {
		p.logger.Warn("failed to release transaction lock", map[string]interface{}{
			"transactionId": id,
			"error":         err.Error(),
		})
	}
}

// Advance runs exactly the current stage of the transaction identified by
// tx.ID under the transaction lock and persists the result. The stage and
// refs come from the stored record, so a stale tx cannot move it backwards.
// tx itself is not modified.
func (p *Pipeline) Advance(ctx context.Context, tx *models.Transaction) (Result, error) {
	lease, err := p.acquire(ctx, tx.ID)
	if err != nil {
		return Result{}, err
	}
	defer p.release(lease, tx.ID)

	current, err := p.store.Load(ctx, tx.ID)
	if err != nil {
		return Result{}, err
	}
	if current.Stage != tx.Stage || !current.UpdatedAt.Equal(tx.UpdatedAt) {
		p.logger.Info("advancing stored state instead of stale snapshot", map[string]interface{}{
			"transactionId": tx.ID,
			"snapshotStage": string(tx.Stage),
			"storedStage":   string(current.Stage),
		})
	}
	return p.advance(ctx, current)
}

// ProcessTransaction loads id and advances it until it is terminal, waiting
// out the backoff between retryable attempts. The lock is held throughout.
func (p *Pipeline) ProcessTransaction(ctx context.Context, id string) (models.Status, error) {
	lease, err := p.acquire(ctx, id)
	if err != nil {
		return "", err
	}
	defer p.release(lease, id)

	tx, err := p.store.Load(ctx, id)
	if err != nil {
		return "", err
	}

	for {
		res, err := p.advance(ctx, tx)
		if err != nil {
			return tx.Status, err
		}
		tx = res.Transaction

		switch res.Outcome {
		case Completed, Failed:
			return tx.Status, nil
		case Retry:
			if err := p.sleep(ctx, res.Delay); err != nil {
				return tx.Status, err
			}
		}

		if err := lease.Extend(ctx); err != nil {
			if stderrors.Is(err, lock.ErrLost) {
				return tx.Status, fmt.Errorf("%w: %s lock expired", ErrTransactionBusy, id)
			}
			return tx.Status, errors.NewInternalError(err)
		}
	}
}

// ResumePending processes every Received or Processing transaction last
// touched before olderThan ago, at most concurrency at a time. Transactions
// held by another worker are skipped. It returns how many it drove to a
// terminal status.
func (p *Pipeline) ResumePending(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	filter := store.Filter{
		Statuses: []models.Status{models.StatusReceived, models.StatusProcessing},
		Limit:    limit,
	}
	if olderThan > 0 {
		filter.UpdatedBefore = p.now().Add(-olderThan)
	}
	pending, err := p.store.Search(ctx, filter)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	p.logger.Info("resuming pending transactions", map[string]interface{}{"count": len(pending)})

	results := make([]bool, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	if p.concurrency > 0 {
		g.SetLimit(p.concurrency)
	}
	for i, tx := range pending {
		i, id := i, tx.ID
		g.Go(func() error {
			status, err := p.ProcessTransaction(gctx, id)
			switch {
			case stderrors.Is(err, ErrTransactionBusy):
				p.logger.Debug("skipping busy transaction", map[string]interface{}{"transactionId": id})
			case err != nil:
				if gctx.Err() != nil {
					return gctx.Err()
				}
				p.logger.Error("failed to resume transaction", map[string]interface{}{
					"transactionId": id,
					"error":         err.Error(),
				})
			default:
				results[i] = status.IsTerminal()
			}
			return nil
		})
	}
	err = g.Wait()

	done := 0
	for _, ok := range results {
		if ok {
			done++
		}
	}
	return done, err
}

// Status returns the last persisted view of a transaction.
func (p *Pipeline) Status(ctx context.Context, id string, logLines int) (models.Summary, error) {
	tx, err := p.store.Load(ctx, id)
	if err != nil {
		return models.Summary{}, err
	}
	return tx.Summarize(logLines), nil
}

func terminalOutcome(tx *models.Transaction) Outcome {
	if tx.Status == models.StatusCompleted {
		return Completed
	}
	return Failed
}

// advance assumes the lock is held.
func (p *Pipeline) advance(ctx context.Context, current *models.Transaction) (Result, error) {
	if current.IsTerminal() {
		return Result{Transaction: current, Outcome: terminalOutcome(current)}, nil
	}

	stage := current.Stage
	work, ok := p.stageWork(stage)
	if !ok {
		return Result{}, errors.NewInternalError(fmt.Errorf("transaction %s is in unknown stage %q", current.ID, stage))
	}

	log := logger.ForTransaction(p.logger, current.ID, string(stage))
	ctx, span := p.obs.StartSpan(ctx, "pipeline.stage."+string(stage), map[string]string{
		"transaction.id":   current.ID,
		"transaction.kind": string(current.Kind),
		"stage":            string(stage),
	})
	defer span.End()

	started := p.now()
	run := newStageRun(current)
	stageErr := work(ctx, run)
	elapsed := p.now().Sub(started)
	metrics.StageDuration.WithLabelValues(string(stage)).Observe(elapsed.Seconds())

	// A cancelled caller is not a failed attempt.
	if stageErr != nil && ctx.Err() != nil {
		p.obs.RecordStage(ctx, string(stage), "cancelled", elapsed)
		return Result{Transaction: current}, ctx.Err()
	}

	next := current.Clone()
	now := p.now()
	next.UpdatedAt = now

	if stageErr == nil {
		stageErr = run.apply(next)
	}
	for _, n := range run.notes {
		next.AppendLog(now, n.level, n.message)
	}

	var res Result
	if stageErr != nil {
		res = p.fail(next, stage, stageErr, now, log)
		span.RecordError(stageErr)
	} else {
		res = p.succeed(next, stage, now, log)
	}
	p.obs.RecordStage(ctx, string(stage), string(res.Outcome), elapsed)

	if err := p.store.Save(ctx, next); err != nil {
		log.Error("failed to persist transaction", map[string]interface{}{"error": err.Error()})
		return Result{Transaction: current}, err
	}

	if res.Outcome == Completed || res.Outcome == Failed {
		metrics.TransactionsFinished.WithLabelValues(string(next.Kind), string(next.Status)).Inc()
		if p.notifier != nil {
			p.notifier.TransactionFinished(ctx, next.Clone())
		}
	}
	return res, nil
}

func (p *Pipeline) succeed(tx *models.Transaction, stage models.Stage, now time.Time, log logger.Logger) Result {
	target, _ := stage.Next()
	metrics.StageAdvances.WithLabelValues(string(stage)).Inc()

	if target == models.StageCompleted {
		tx.AppendLog(now, models.LogInfo, "transaction completed")
	} else {
		tx.AppendLog(now, models.LogInfo, fmt.Sprintf("stage done, moving to %s", target))
	}
	tx.Stage = target
	tx.StageAttempts = 0
	tx.LastError = ""
	tx.FailedStage = ""

	if target == models.StageCompleted {
		tx.Status = models.StatusCompleted
		log.Info("transaction completed", map[string]interface{}{"policyNumber": tx.Refs.PolicyNumber})
		return Result{Transaction: tx, Outcome: Completed}
	}

	tx.Status = models.StatusProcessing
	log.Info("stage advanced", map[string]interface{}{"next": string(target)})
	return Result{Transaction: tx, Outcome: Advanced}
}

func (p *Pipeline) fail(tx *models.Transaction, stage models.Stage, err error, now time.Time, log logger.Logger) Result {
	tx.StageAttempts++
	decision := p.policy.Decide(err, tx.StageAttempts)
	stdErr := decision.Err.WithStage(string(stage))
	tx.LastError = stdErr.Describe()

	metrics.StageFailures.WithLabelValues(string(stage), decision.Class.String()).Inc()

	if decision.Retry {
		tx.Status = models.StatusProcessing
		tx.AppendLog(now, models.LogWarn, fmt.Sprintf("attempt %d of %d failed, retrying in %s: %s",
			tx.StageAttempts, p.policy.MaxAttempts, decision.Delay, stdErr.Describe()))
		log.Warn("stage attempt failed, will retry", map[string]interface{}{
			"attempt": tx.StageAttempts,
			"delay":   decision.Delay.String(),
			"error":   stdErr.Error(),
		})
		return Result{Transaction: tx, Outcome: Retry, Delay: decision.Delay, Err: stdErr}
	}

	tx.AppendLog(now, models.LogError, stdErr.Describe())
	tx.Status = models.StatusFailed
	tx.FailedStage = stage
	// An invalid payload never reached the backend; the stage stays put.
	if stdErr.Kind != errors.KindValidation {
		tx.Stage = models.StageError
	}
	log.Error("transaction failed", map[string]interface{}{
		"attempts": tx.StageAttempts,
		"code":     string(stdErr.Code),
		"error":    stdErr.Error(),
	})
	return Result{Transaction: tx, Outcome: Failed, Err: stdErr}
}
