package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig               `mapstructure:"app"`
	Camunda       CamundaConfig           `mapstructure:"camunda"`
	Database      DatabaseConfig          `mapstructure:"database"`
	Backend       BackendConfig           `mapstructure:"backend"`
	Pipeline      PipelineConfig          `mapstructure:"pipeline"`
	Resolver      ResolverConfig          `mapstructure:"resolver"`
	Rating        RatingConfig            `mapstructure:"rating"`
	Sources       map[string]SourceConfig `mapstructure:"sources"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
	Notifications NotificationConfig      `mapstructure:"notifications"`
	Logging       LoggingConfig           `mapstructure:"logging"`
	Server        ServerConfig            `mapstructure:"server"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type CamundaConfig struct {
	BrokerAddress  string `mapstructure:"broker_address"`
	Plaintext      bool   `mapstructure:"plaintext"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
	Table          string `mapstructure:"table"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// ElasticsearchConfig is optional; an empty address list disables indexing.
type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Index     string   `mapstructure:"index"`
}

func (e ElasticsearchConfig) Enabled() bool {
	return len(e.Addresses) > 0
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// BackendConfig points at the policy-management backend.
type BackendConfig struct {
	URL        string  `mapstructure:"url"`
	Username   string  `mapstructure:"username"`
	Password   string  `mapstructure:"password"`
	RateLimit  float64 `mapstructure:"rate_limit"` // requests per second
	Burst      int     `mapstructure:"burst"`
	Timeout    int     `mapstructure:"timeout"`     // milliseconds, per call
	SessionTTL int     `mapstructure:"session_ttl"` // milliseconds
}

// PipelineConfig controls retry and concurrency of stage processing.
type PipelineConfig struct {
	MaxAttempts    int `mapstructure:"max_attempts"`
	BackoffBase    int `mapstructure:"backoff_base"` // milliseconds
	BackoffMax     int `mapstructure:"backoff_max"`  // milliseconds
	CallTimeout    int `mapstructure:"call_timeout"` // milliseconds
	LockTTL        int `mapstructure:"lock_ttl"`     // milliseconds
	ResumeInterval int `mapstructure:"resume_interval"`
	Concurrency    int `mapstructure:"concurrency"`
	LogTail        int `mapstructure:"log_tail"`
}

type ResolverConfig struct {
	CacheTTL  int  `mapstructure:"cache_ttl"` // milliseconds
	CacheSize int  `mapstructure:"cache_size"`
	Disabled  bool `mapstructure:"cache_disabled"`
}

type RatingConfig struct {
	DefaultStrategy string   `mapstructure:"default_strategy"`
	TemplatePaths   []string `mapstructure:"template_paths"`
}

// SourceConfig holds per-partner defaults.
type SourceConfig struct {
	DefaultProducerID     string `mapstructure:"default_producer_id"`
	DefaultUnderwriterID  string `mapstructure:"default_underwriter_id"`
	DefaultLocationID     string `mapstructure:"default_location_id"`
	DefaultClassification string `mapstructure:"default_classification"`
	RatingStrategy        string `mapstructure:"rating_strategy"`
	NotifyEmail           string `mapstructure:"notify_email"`
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"` // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"`
}

type NotificationConfig struct {
	AWS struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
	Email struct {
		Enabled   bool   `mapstructure:"enabled"`
		FromEmail string `mapstructure:"from_email"`
	} `mapstructure:"email"`
	Alerts struct {
		Enabled  bool   `mapstructure:"enabled"`
		TopicARN string `mapstructure:"topic_arn"`
	} `mapstructure:"alerts"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
}
