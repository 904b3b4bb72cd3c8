// Package config loads the node configuration from environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/robfig/cron/v3"
)

const (
	DefaultListenAddress = "0.0.0.0:3001"
	DefaultDatabasePath  = "questchain.db"
	DefaultMaxRetries    = 3
	DefaultRetryDelay    = 60 * time.Second
	DefaultPollSchedule  = "*/30 * * * * *"
)

// Backoff policy names accepted by QUEST_RETRY_POLICY.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// SigningConfig carries the optional Ed25519 keypair. Leaving both fields
// empty is a valid state: the node runs without attestation support.
type SigningConfig struct {
	// PrivateKeyHex is the 64-byte Ed25519 secret key (seed || public key), 128 hex chars.
	PrivateKeyHex string `env:"GAME_PRIVATE_KEY"`
	// PublicKeyHex is the 32-byte Ed25519 public key, 64 hex chars.
	PublicKeyHex string `env:"GAME_PUBLIC_KEY"`
}

// Configured reports whether both halves of the keypair are present.
func (s SigningConfig) Configured() bool {
	return strings.TrimSpace(s.PrivateKeyHex) != "" && strings.TrimSpace(s.PublicKeyHex) != ""
}

// RetryConfig selects the transaction retry budget and backoff policy.
type RetryConfig struct {
	MaxRetries int           `env:"QUEST_MAX_RETRIES" envDefault:"3"`
	Policy     string        `env:"QUEST_RETRY_POLICY" envDefault:"fixed"`
	Delay      time.Duration `env:"QUEST_RETRY_DELAY" envDefault:"60s"`
	MaxDelay   time.Duration `env:"QUEST_RETRY_MAX_DELAY" envDefault:"30m"`
}

// IndexerConfig points the confirmation poller at a Blockfrost-compatible API.
type IndexerConfig struct {
	URL       string `env:"QUEST_INDEXER_URL"`
	ProjectID string `env:"QUEST_INDEXER_PROJECT_ID"`
	// PollSchedule is a cron expression; six fields enable second precision.
	PollSchedule string `env:"QUEST_POLL_SCHEDULE" envDefault:"*/30 * * * * *"`
	// SubmissionTimeout is how long a PENDING hash may stay unseen before it is retried.
	SubmissionTimeout time.Duration `env:"QUEST_SUBMISSION_TIMEOUT" envDefault:"10m"`
	RequestTimeout    time.Duration `env:"QUEST_INDEXER_TIMEOUT" envDefault:"10s"`
}

// Enabled reports whether the poller has somewhere to ask.
func (i IndexerConfig) Enabled() bool {
	return strings.TrimSpace(i.URL) != ""
}

// Config is the complete node configuration, built once at process start and
// threaded through constructors.
type Config struct {
	ListenAddress string `env:"QUEST_LISTEN_ADDRESS" envDefault:"0.0.0.0:3001"`
	AccessToken   string `env:"ACCESS_TOKEN"`
	DatabasePath  string `env:"QUEST_DATABASE_PATH" envDefault:"questchain.db"`
	LogLevel      string `env:"QUEST_LOG_LEVEL" envDefault:"info"`

	Signing SigningConfig
	Retry   RetryConfig
	Indexer IndexerConfig
}

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	return parse(env.Options{})
}

// LoadFrom reads the configuration from the given variables only.
func LoadFrom(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks option combinations that struct tags cannot express.
func (c *Config) Validate() error {
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("QUEST_MAX_RETRIES must be non-negative, got %d", c.Retry.MaxRetries)
	}
	switch strings.ToLower(c.Retry.Policy) {
	case BackoffFixed, BackoffExponential:
	default:
		return fmt.Errorf("QUEST_RETRY_POLICY must be %q or %q, got %q", BackoffFixed, BackoffExponential, c.Retry.Policy)
	}
	if c.Retry.Delay <= 0 {
		return fmt.Errorf("QUEST_RETRY_DELAY must be positive")
	}
	if c.Retry.MaxDelay < c.Retry.Delay {
		return fmt.Errorf("QUEST_RETRY_MAX_DELAY (%s) must not be shorter than QUEST_RETRY_DELAY (%s)", c.Retry.MaxDelay, c.Retry.Delay)
	}
	if err := ValidateCronSchedule(c.Indexer.PollSchedule); err != nil {
		return fmt.Errorf("QUEST_POLL_SCHEDULE: %w", err)
	}
	hasPriv := strings.TrimSpace(c.Signing.PrivateKeyHex) != ""
	hasPub := strings.TrimSpace(c.Signing.PublicKeyHex) != ""
	if hasPriv != hasPub {
		return fmt.Errorf("GAME_PRIVATE_KEY and GAME_PUBLIC_KEY must be set together")
	}
	return nil
}

// scheduleParser accepts five-field cron expressions and the six-field form
// with a leading seconds field, matching what the poll scheduler registers.
var scheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateCronSchedule validates a cron schedule expression using the robfig/cron parser
func ValidateCronSchedule(schedule string) error {
	if strings.TrimSpace(schedule) == "" {
		return fmt.Errorf("cron schedule cannot be empty")
	}
	if _, err := scheduleParser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule '%s': %w", schedule, err)
	}
	return nil
}
