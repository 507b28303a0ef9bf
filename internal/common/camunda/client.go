package camunda

import (
	"context"
	"fmt"
	"time"

	"policy-orchestrator/internal/classifier"
	"policy-orchestrator/internal/common/config"
	"policy-orchestrator/internal/common/errors"

	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
)

// Client wraps the Zeebe gRPC client with connection checks and retried
// commands.
type Client struct {
	client zbc.Client
	config *ClientConfig
}

type ClientConfig struct {
	GatewayAddress         string
	UsePlaintextConnection bool
	ConnectionTimeout      time.Duration
	Retry                  classifier.Policy
}

// ConfigFrom builds a ClientConfig from the camunda config section.
func ConfigFrom(cfg config.CamundaConfig) *ClientConfig {
	timeout := config.GetDuration(cfg.RequestTimeout)
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ClientConfig{
		GatewayAddress:         cfg.BrokerAddress,
		UsePlaintextConnection: cfg.Plaintext,
		ConnectionTimeout:      timeout,
		Retry: classifier.Policy{
			MaxAttempts: 10,
			BaseDelay:   2 * time.Second,
			MaxDelay:    30 * time.Second,
			CallTimeout: 10 * time.Second,
		},
	}
}

// NewClientWithConfig dials the broker and checks the topology, retrying
// transient connection failures with backoff.
func NewClientWithConfig(ctx context.Context, cfg *ClientConfig) (*Client, error) {
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = classifier.DefaultPolicy()
	}

	zeebeClient, err := zbc.NewClient(&zbc.ClientConfig{
		GatewayAddress:         cfg.GatewayAddress,
		UsePlaintextConnection: cfg.UsePlaintextConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Zeebe client: %w", err)
	}

	c := &Client{client: zeebeClient, config: cfg}
	if err := c.ExecuteWithRetry(ctx, "Topology", func(ctx context.Context) error {
		_, err := zeebeClient.NewTopologyCommand().Send(ctx)
		return err
	}); err != nil {
		zeebeClient.Close()
		return nil, fmt.Errorf("failed to connect to Zeebe broker at %s: %w", cfg.GatewayAddress, err)
	}
	return c, nil
}

// Zeebe returns the raw client for opening job workers.
func (c *Client) Zeebe() zbc.Client {
	return c.client
}

func (c *Client) Close() error {
	return c.client.Close()
}

// ExecuteWithRetry runs a Zeebe command, retrying only errors the classifier
// considers transient.
func (c *Client) ExecuteWithRetry(ctx context.Context, operation string, command func(context.Context) error) error {
	policy := c.config.Retry
	for attempt := 1; ; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, c.config.ConnectionTimeout)
		err := command(cctx)
		cancel()
		if err == nil {
			return nil
		}

		if classifier.Classify(err) != classifier.Retryable || policy.Exhausted(attempt) {
			return mapZeebeError(err, operation, attempt)
		}

		select {
		case <-time.After(policy.Backoff(attempt)):
		case <-ctx.Done():
			return fmt.Errorf("operation %s cancelled after %d attempts: %w", operation, attempt, ctx.Err())
		}
	}
}

// mapZeebeError converts a Zeebe failure into the orchestrator's taxonomy.
func mapZeebeError(err error, operation string, attempts int) error {
	op := "zeebe " + operation
	switch classifier.Classify(err) {
	case classifier.Retryable:
		if attempts > 1 {
			return errors.NewRetriesExhaustedError(attempts, err)
		}
		return errors.NewTransientBackendError(op, err)
	default:
		return errors.NewPermanentBackendError(op, err)
	}
}

func (c *Client) Name() string { return "zeebe" }

// Ping checks the broker topology once.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.client.NewTopologyCommand().Send(ctx); err != nil {
		return fmt.Errorf("zeebe health check failed: %w", err)
	}
	return nil
}
