package intaketransaction

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"policy-orchestrator/internal/common/errors"
	"policy-orchestrator/internal/common/logger"
	"policy-orchestrator/internal/ingress"
	"policy-orchestrator/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "intake-transaction"
)

type Intake interface {
	Receive(ctx context.Context, req ingress.Request) (*models.Transaction, bool, error)
}

type Handler struct {
	config       *Config
	intake       Intake
	logger       logger.Logger
	errorHandler *errors.ErrorHandler
}

func NewHandler(config *Config, intake Intake, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		intake:       intake,
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
		h.errorHandler.HandleJobError(ctx, client, job, err)
		return
	}

	h.completeJob(ctx, client, job, output)
}

// Execute records the request as a transaction. Repeated requests resolve to
// the transaction created the first time.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	tx, created, err := h.intake.Receive(ctx, ingress.Request{
		Kind:       input.Kind,
		Source:     input.Source,
		ExternalID: input.ExternalID,
		Payload:    input.Payload,
	})
	if err != nil {
		return nil, err
	}

	return &Output{
		TransactionID: tx.ID,
		Created:       created,
		Status:        string(tx.Status),
		Stage:         string(tx.Stage),
		ReceivedAt:    tx.CreatedAt.UTC().Format(time.RFC3339),
	}, nil
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
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err,
		})
		return
	}
	h.logger.Info("job completed successfully", map[string]interface{}{
		"jobKey":        job.Key,
		"transactionId": output.TransactionID,
		"created":       output.Created,
	})
}
