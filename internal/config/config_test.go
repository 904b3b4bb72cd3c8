package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, DefaultListenAddress, cfg.ListenAddress)
	assert.Equal(t, DefaultDatabasePath, cfg.DatabasePath)
	assert.Equal(t, DefaultMaxRetries, cfg.Retry.MaxRetries)
	assert.Equal(t, DefaultRetryDelay, cfg.Retry.Delay)
	assert.Equal(t, BackoffFixed, cfg.Retry.Policy)
	assert.Equal(t, DefaultPollSchedule, cfg.Indexer.PollSchedule)
	assert.False(t, cfg.Signing.Configured())
	assert.False(t, cfg.Indexer.Enabled())
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"QUEST_LISTEN_ADDRESS":  "127.0.0.1:9000",
		"QUEST_MAX_RETRIES":     "5",
		"QUEST_RETRY_POLICY":    "exponential",
		"QUEST_RETRY_DELAY":     "2s",
		"QUEST_RETRY_MAX_DELAY": "1m",
		"QUEST_INDEXER_URL":     "https://cardano-preprod.blockfrost.io/api/v0",
		"GAME_PRIVATE_KEY":      "aa",
		"GAME_PUBLIC_KEY":       "bb",
	})
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddress)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, BackoffExponential, cfg.Retry.Policy)
	assert.Equal(t, 2*time.Second, cfg.Retry.Delay)
	assert.Equal(t, time.Minute, cfg.Retry.MaxDelay)
	assert.True(t, cfg.Indexer.Enabled())
	assert.True(t, cfg.Signing.Configured())
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		vars    map[string]string
		wantErr string
	}{
		{name: "bad int", vars: map[string]string{"QUEST_MAX_RETRIES": "many"}, wantErr: "parse env:"},
		{name: "negative retries", vars: map[string]string{"QUEST_MAX_RETRIES": "-1"}, wantErr: "must be non-negative"},
		{name: "unknown policy", vars: map[string]string{"QUEST_RETRY_POLICY": "jittered"}, wantErr: "QUEST_RETRY_POLICY"},
		{name: "cap below delay", vars: map[string]string{"QUEST_RETRY_DELAY": "2m", "QUEST_RETRY_MAX_DELAY": "1m"}, wantErr: "must not be shorter"},
		{name: "bad schedule", vars: map[string]string{"QUEST_POLL_SCHEDULE": "every minute"}, wantErr: "QUEST_POLL_SCHEDULE"},
		{name: "half a keypair", vars: map[string]string{"GAME_PRIVATE_KEY": "aa"}, wantErr: "must be set together"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(tt.vars)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateCronSchedule(t *testing.T) {
	for _, expr := range []string{"*/5 * * * *", "*/30 * * * * *", "@every 1m", DefaultPollSchedule} {
		assert.NoError(t, ValidateCronSchedule(expr), expr)
	}
	for _, expr := range []string{"", "* * *", "61 * * * *", "* * * * * * *"} {
		assert.Error(t, ValidateCronSchedule(expr), expr)
	}
}
