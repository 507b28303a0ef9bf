package processtransaction

import (
	"context"
	"fmt"
	"testing"
	"time"

	"policy-orchestrator/internal/common/errors"
	"policy-orchestrator/internal/common/logger"
	"policy-orchestrator/internal/models"
	"policy-orchestrator/internal/pipeline"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) ProcessTransaction(ctx context.Context, id string) (models.Status, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(models.Status), args.Error(1)
}

func (m *MockProcessor) Status(ctx context.Context, id string, logLines int) (models.Summary, error) {
	args := m.Called(ctx, id, logLines)
	return args.Get(0).(models.Summary), args.Error(1)
}

func createTestHandler(t *testing.T, p Processor) *Handler {
	return NewHandler(&Config{Timeout: 5 * time.Second, LogTail: 3}, p, logger.NewTestLogger(t))
}

func TestHandler_Execute_Completed(t *testing.T) {
	p := &MockProcessor{}
	premium := decimal.RequireFromString("1639")
	at := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)

	p.On("ProcessTransaction", mock.Anything, "tx-1").Return(models.StatusCompleted, nil)
	p.On("Status", mock.Anything, "tx-1", 3).Return(models.Summary{
		ID:     "tx-1",
		Status: models.StatusCompleted,
		Stage:  models.StageCompleted,
		Refs:   models.EntityRefs{PolicyNumber: "POL-1", Premium: &premium},
		RecentLog: []models.LogEntry{
			{At: at, Level: models.LogInfo, Stage: models.StageIssued, Message: "transaction completed"},
		},
	}, nil)

	out, err := createTestHandler(t, p).Execute(context.Background(), &Input{TransactionID: " tx-1 "})
	require.NoError(t, err)

	assert.Equal(t, "Completed", out.Status)
	assert.Equal(t, "POL-1", out.PolicyNumber)
	assert.Equal(t, "1639.00", out.Premium)
	require.Len(t, out.RecentLog, 1)
	assert.Contains(t, out.RecentLog[0], "transaction completed")
	p.AssertExpectations(t)
}

func TestHandler_Execute_FailedTransactionIsNotAJobError(t *testing.T) {
	p := &MockProcessor{}
	p.On("ProcessTransaction", mock.Anything, "tx-2").Return(models.StatusFailed, nil)
	p.On("Status", mock.Anything, "tx-2", 3).Return(models.Summary{
		ID:          "tx-2",
		Status:      models.StatusFailed,
		Stage:       models.StageError,
		FailedStage: models.StageBound,
		LastError:   "stage Bound: PermanentBackendError: Backend operation 'Bind' rejected",
	}, nil)

	out, err := createTestHandler(t, p).Execute(context.Background(), &Input{TransactionID: "tx-2"})
	require.NoError(t, err)

	assert.Equal(t, "Failed", out.Status)
	assert.Equal(t, "Bound", out.FailedStage)
	assert.Contains(t, out.LastError, "Bind")
	assert.Empty(t, out.Premium)
	assert.NotNil(t, out.RecentLog)
}

func TestHandler_Execute_Errors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCode  errors.ErrorCode
		retryable bool
	}{
		{"busy", fmt.Errorf("%w: tx-3", pipeline.ErrTransactionBusy), errors.ErrCodeTransactionBusy, true},
		{"not found", errors.NewNotFoundError("tx-3"), errors.ErrCodeNotFound, false},
		{"store down", errors.NewStoreError("load", fmt.Errorf("connection refused")), errors.ErrCodeStoreFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &MockProcessor{}
			p.On("ProcessTransaction", mock.Anything, "tx-3").Return(models.Status(""), tt.err)

			_, err := createTestHandler(t, p).Execute(context.Background(), &Input{TransactionID: "tx-3"})
			require.Error(t, err)

			stdErr, ok := errors.AsStandard(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantCode, stdErr.Code)
			assert.Equal(t, tt.retryable, errors.ConvertToBPMNError(stdErr).Retries > 0)
			p.AssertNotCalled(t, "Status", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestHandler_Execute_DeadlineIsRetryable(t *testing.T) {
	p := &MockProcessor{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.On("ProcessTransaction", mock.Anything, "tx-4").Return(models.StatusProcessing, context.Canceled)

	_, err := createTestHandler(t, p).Execute(ctx, &Input{TransactionID: "tx-4"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeBackendTimeout))
}

func TestHandler_Execute_RequiresID(t *testing.T) {
	_, err := createTestHandler(t, &MockProcessor{}).Execute(context.Background(), &Input{})
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
}
