// Package notify tells people about transactions that reached a terminal
// status: an SNS alert for failures and an SES email for completions.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"policy-orchestrator/internal/common/config"
	"policy-orchestrator/internal/common/logger"
	"policy-orchestrator/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Recipients returns the completion email address for a source, or "".
type Recipients func(source string) string

const sendTimeout = 10 * time.Second

type Notifier struct {
	cfg        config.NotificationConfig
	ses        SESService
	sns        SNSService
	recipients Recipients
	logger     logger.Logger
}

func New(cfg config.NotificationConfig, sesClient SESService, snsClient SNSService, recipients Recipients, log logger.Logger) *Notifier {
	return &Notifier{
		cfg:        cfg,
		ses:        sesClient,
		sns:        snsClient,
		recipients: recipients,
		logger:     log.WithFields(map[string]interface{}{"component": "notify"}),
	}
}

// NewAWS builds a Notifier backed by the default AWS credential chain.
func NewAWS(ctx context.Context, cfg config.NotificationConfig, recipients Recipients, log logger.Logger) (*Notifier, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return New(cfg, ses.NewFromConfig(awsCfg), sns.NewFromConfig(awsCfg), recipients, log), nil
}

// TransactionFinished never fails the caller; delivery problems are logged.
func (n *Notifier) TransactionFinished(ctx context.Context, tx *models.Transaction) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()

	fields := map[string]interface{}{"transactionId": tx.ID, "status": string(tx.Status)}

	switch tx.Status {
	case models.StatusFailed:
		if !n.cfg.Alerts.Enabled || n.cfg.Alerts.TopicARN == "" || n.sns == nil {
			return
		}
		if err := n.publishAlert(ctx, tx); err != nil {
			fields["error"] = err.Error()
			n.logger.Error("failure alert not published", fields)
			return
		}
		n.logger.Info("failure alert published", fields)

	case models.StatusCompleted:
		if !n.cfg.Email.Enabled || n.ses == nil || n.recipients == nil {
			return
		}
		to := n.recipients(tx.Source)
		if to == "" {
			return
		}
		fields["to"] = to
		if err := n.sendCompletion(ctx, to, tx); err != nil {
			fields["error"] = err.Error()
			n.logger.Error("completion email not sent", fields)
			return
		}
		n.logger.Info("completion email sent", fields)
	}
}

type alert struct {
	TransactionID string          `json:"transactionId"`
	Source        string          `json:"source"`
	ExternalID    string          `json:"externalId,omitempty"`
	Kind          models.Kind     `json:"kind"`
	FailedStage   models.Stage    `json:"failedStage"`
	Attempts      int             `json:"attempts"`
	Error         string          `json:"error"`
	RecentLog     []string        `json:"recentLog"`
	Refs          json.RawMessage `json:"entityRefs"`
}

func (n *Notifier) publishAlert(ctx context.Context, tx *models.Transaction) error {
	refs, err := json.Marshal(tx.Refs)
	if err != nil {
		return err
	}
	msg := alert{
		TransactionID: tx.ID,
		Source:        tx.Source,
		ExternalID:    tx.ExternalID,
		Kind:          tx.Kind,
		FailedStage:   tx.FailedStage,
		Attempts:      tx.StageAttempts,
		Error:         tx.LastError,
		Refs:          refs,
	}
	for _, e := range tx.Tail(5) {
		msg.RecentLog = append(msg.RecentLog, e.String())
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	_, err = n.sns.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.cfg.Alerts.TopicARN),
		Subject:  aws.String(truncate(fmt.Sprintf("%s transaction failed at %s", tx.Kind, tx.FailedStage), 100)),
		Message:  aws.String(string(body)),
	})
	return err
}

func (n *Notifier) sendCompletion(ctx context.Context, to string, tx *models.Transaction) error {
	subject := fmt.Sprintf("Policy %s issued", tx.Refs.PolicyNumber)
	body := completionBody(tx)

	_, err := n.ses.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body)},
			},
		},
		Source: aws.String(n.cfg.Email.FromEmail),
	})
	return err
}

func completionBody(tx *models.Transaction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s transaction %s completed.\n\n", tx.Kind, tx.ID)
	if tx.ExternalID != "" {
		fmt.Fprintf(&b, "Reference: %s\n", tx.ExternalID)
	}
	fmt.Fprintf(&b, "Policy number: %s\n", tx.Refs.PolicyNumber)
	if tx.Refs.Premium != nil {
		fmt.Fprintf(&b, "Premium: %s\n", models.FormatAmount(*tx.Refs.Premium))
	}
	if tx.Refs.QuoteID != "" {
		fmt.Fprintf(&b, "Quote: %s\n", tx.Refs.QuoteID)
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
