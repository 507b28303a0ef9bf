package processtransaction

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"

	"policy-orchestrator/internal/common/errors"
	"policy-orchestrator/internal/common/logger"
	"policy-orchestrator/internal/models"
	"policy-orchestrator/internal/pipeline"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "process-transaction"
)

type Processor interface {
	ProcessTransaction(ctx context.Context, id string) (models.Status, error)
	Status(ctx context.Context, id string, logLines int) (models.Summary, error)
}

type Handler struct {
	config       *Config
	processor    Processor
	logger       logger.Logger
	errorHandler *errors.ErrorHandler
}

func NewHandler(config *Config, processor Processor, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		processor:    processor,
		logger:       log,
		errorHandler: errors.NewErrorHandler(log),
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.errorHandler.HandleJobError(ctx, client, job,
			errors.NewValidationError(errors.ErrCodePayloadInvalid, fmt.Sprintf("parse input: %v", err)))
		return
	}

	output, err := h.Execute(ctx, &input)
	if err != nil {
		h.errorHandler.HandleJobError(context.Background(), client, job, err)
		return
	}

	h.completeJob(ctx, client, job, output)
}

// Execute drives the transaction to a terminal status. A Failed transaction
// is a successful job: the outcome is in the returned status, and the process
// model branches on it.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	id := strings.TrimSpace(input.TransactionID)
	if id == "" {
		return nil, errors.NewValidationError(errors.ErrCodePayloadInvalid, "transactionId is required")
	}

	log := logger.ForTransaction(h.logger, id, "")

	_, err := h.processor.ProcessTransaction(ctx, id)
	switch {
	case stderrors.Is(err, pipeline.ErrTransactionBusy):
		log.Warn("transaction held by another worker", nil)
		return nil, errors.NewBusyError(id)
	case err != nil && ctx.Err() != nil:
		log.Warn("job deadline reached before transaction finished", map[string]interface{}{"error": err.Error()})
		return nil, errors.NewBackendTimeoutError("ProcessTransaction", err)
	case err != nil:
		return nil, err
	}

	// The pipeline released its lock; read back what it persisted.
	summary, err := h.processor.Status(context.WithoutCancel(ctx), id, h.config.LogTail)
	if err != nil {
		return nil, err
	}

	out := &Output{
		TransactionID: summary.ID,
		Status:        string(summary.Status),
		Stage:         string(summary.Stage),
		FailedStage:   string(summary.FailedStage),
		PolicyNumber:  summary.Refs.PolicyNumber,
		LastError:     summary.LastError,
		RecentLog:     make([]string, 0, len(summary.RecentLog)),
	}
	if summary.Refs.Premium != nil {
		out.Premium = models.FormatAmount(*summary.Refs.Premium)
	}
	for _, e := range summary.RecentLog {
		out.RecentLog = append(out.RecentLog, e.String())
	}

	log.Info("transaction finished", map[string]interface{}{
		"status":       out.Status,
		"policyNumber": out.PolicyNumber,
	})
	return out, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err,
		})
		return
	}
	if _, err := cmd.Send(context.WithoutCancel(ctx)); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err,
		})
		return
	}
	h.logger.Info("job completed successfully", map[string]interface{}{
		"jobKey": job.Key,
		"status": output.Status,
	})
}
