package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"policy-orchestrator/internal/common/config"
	"policy-orchestrator/internal/common/logger"
	"policy-orchestrator/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockSESService struct {
	SendEmailFunc func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
	calls         []*ses.SendEmailInput
}

func (m *MockSESService) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	m.calls = append(m.calls, params)
	if m.SendEmailFunc == nil {
		return &ses.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
	}
	return m.SendEmailFunc(ctx, params, optFns...)
}

type MockSNSService struct {
	PublishFunc func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
	calls       []*sns.PublishInput
}

func (m *MockSNSService) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	m.calls = append(m.calls, params)
	if m.PublishFunc == nil {
		return &sns.PublishOutput{MessageId: aws.String("msg-1")}, nil
	}
	return m.PublishFunc(ctx, params, optFns...)
}

func createTestConfig() config.NotificationConfig {
	var cfg config.NotificationConfig
	cfg.AWS.Region = "us-east-1"
	cfg.Email.Enabled = true
	cfg.Email.FromEmail = "policies@example.com"
	cfg.Alerts.Enabled = true
	cfg.Alerts.TopicARN = "arn:aws:sns:us-east-1:123456789012:policy-failures"
	return cfg
}

func recipients(source string) string {
	if source == "acme" {
		return "ops@acme.example"
	}
	return ""
}

func finished(status models.Status) *models.Transaction {
	tx := models.NewTransaction("tx-1", "acme", "NB-7", models.KindNewBusiness, json.RawMessage(`{}`), time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	tx.Status = status
	tx.Refs.QuoteID = "QTE-1"
	switch status {
	case models.StatusCompleted:
		tx.Stage = models.StageCompleted
		tx.Refs.PolicyNumber = "POL-1"
		p := decimal.RequireFromString("1639.00")
		tx.Refs.Premium = &p
	case models.StatusFailed:
		tx.Stage = models.StageError
		tx.FailedStage = models.StageBound
		tx.StageAttempts = 3
		tx.LastError = "stage Bound: RetriesExhausted: gave up after 3 attempts"
		tx.AppendLog(tx.CreatedAt, models.LogError, "bind failed")
	}
	return tx
}

func TestNotifier_FailureAlert(t *testing.T) {
	sesMock, snsMock := &MockSESService{}, &MockSNSService{}
	n := New(createTestConfig(), sesMock, snsMock, recipients, logger.NewTestLogger(t))

	n.TransactionFinished(context.Background(), finished(models.StatusFailed))

	require.Len(t, snsMock.calls, 1)
	assert.Empty(t, sesMock.calls)

	in := snsMock.calls[0]
	assert.Equal(t, "arn:aws:sns:us-east-1:123456789012:policy-failures", aws.ToString(in.TopicArn))
	assert.Equal(t, "NewBusiness transaction failed at Bound", aws.ToString(in.Subject))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(in.Message)), &body))
	assert.Equal(t, "tx-1", body["transactionId"])
	assert.Equal(t, "Bound", body["failedStage"])
	assert.EqualValues(t, 3, body["attempts"])
	assert.Contains(t, body["error"], "RetriesExhausted")
	assert.Len(t, body["recentLog"], 1)
}

func TestNotifier_CompletionEmail(t *testing.T) {
	sesMock, snsMock := &MockSESService{}, &MockSNSService{}
	n := New(createTestConfig(), sesMock, snsMock, recipients, logger.NewTestLogger(t))

	n.TransactionFinished(context.Background(), finished(models.StatusCompleted))

	assert.Empty(t, snsMock.calls)
	require.Len(t, sesMock.calls, 1)

	in := sesMock.calls[0]
	assert.Equal(t, []string{"ops@acme.example"}, in.Destination.ToAddresses)
	assert.Equal(t, "policies@example.com", aws.ToString(in.Source))
	assert.Equal(t, "Policy POL-1 issued", aws.ToString(in.Message.Subject.Data))
	text := aws.ToString(in.Message.Body.Text.Data)
	assert.Contains(t, text, "Reference: NB-7")
	assert.Contains(t, text, "Premium: 1639.00")
}

func TestNotifier_SkipsWhenDisabledOrNoRecipient(t *testing.T) {
	cfg := createTestConfig()
	cfg.Alerts.Enabled = false
	sesMock, snsMock := &MockSESService{}, &MockSNSService{}
	n := New(cfg, sesMock, snsMock, recipients, logger.NewTestLogger(t))

	n.TransactionFinished(context.Background(), finished(models.StatusFailed))

	tx := finished(models.StatusCompleted)
	tx.Source = "globex"
	n.TransactionFinished(context.Background(), tx)

	n.TransactionFinished(context.Background(), finished(models.StatusProcessing))

	assert.Empty(t, snsMock.calls)
	assert.Empty(t, sesMock.calls)
}

func TestNotifier_DeliveryErrorsAreSwallowed(t *testing.T) {
	sesMock := &MockSESService{
		SendEmailFunc: func(ctx context.Context, _ *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			return nil, errors.New("throttled")
		},
	}
	snsMock := &MockSNSService{
		PublishFunc: func(context.Context, *sns.PublishInput, ...func(*sns.Options)) (*sns.PublishOutput, error) {
			return nil, errors.New("topic does not exist")
		},
	}
	n := New(createTestConfig(), sesMock, snsMock, recipients, logger.NewTestLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NotPanics(t, func() {
		n.TransactionFinished(ctx, finished(models.StatusCompleted))
		n.TransactionFinished(ctx, finished(models.StatusFailed))
	})
	assert.Len(t, sesMock.calls, 1)
	assert.Len(t, snsMock.calls, 1)
}
