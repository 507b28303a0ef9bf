package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
camunda:
  broker_address: localhost:26500
database:
  postgres:
    host: localhost
    database: orchestrator
    user: orchestrator
  redis:
    address: localhost:6379
backend:
  url: http://backend.local/rpc
pipeline:
  max_attempts: 4
sources:
  Acme:
    default_producer_id: PRD-1
    default_underwriter_id: UW-1
    rating_strategy: template
workers:
  process-transaction:
    enabled: true
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile_AppliesDefaults(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, 5000, cfg.Pipeline.BackoffBase)
	assert.Equal(t, 30000, cfg.Pipeline.CallTimeout)
	assert.Equal(t, "policy_transactions", cfg.Database.Postgres.Table)
	assert.Equal(t, "direct", cfg.Rating.DefaultStrategy)
	assert.False(t, cfg.Database.Elasticsearch.Enabled())

	src, ok := cfg.Source("ACME")
	require.True(t, ok)
	assert.Equal(t, "PRD-1", src.DefaultProducerID)
	assert.Equal(t, "template", src.RatingStrategy)

	w := GetWorkerConfig(cfg, "process-transaction")
	assert.Equal(t, 5, w.MaxJobsActive)
	assert.Equal(t, 3, w.MaxRetries)
}

func TestLoadFromFile_RejectsUnknownStrategy(t *testing.T) {
	path := writeConfig(t, `
camunda:
  broker_address: localhost:26500
database:
  postgres: {host: h, database: d, user: u}
  redis: {address: r:6379}
backend:
  url: http://b
sources:
  acme:
    rating_strategy: spreadsheet
`)
	_, err := LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rating_strategy")
}

func TestLoadFromFile_MissingBackend(t *testing.T) {
	path := writeConfig(t, `
camunda:
  broker_address: localhost:26500
database:
  postgres: {host: h, database: d, user: u}
  redis: {address: r:6379}
sources:
  acme: {}
`)
	_, err := LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend.url")
}

func TestGetDuration(t *testing.T) {
	assert.Equal(t, 1500*time.Millisecond, GetDuration(1500))
}
