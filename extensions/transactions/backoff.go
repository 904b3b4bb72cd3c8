package transactions

import (
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/questchain/node/internal/config"
)

// BackoffPolicy decides when a retried transaction becomes due again.
// Implementations must be pure: the same inputs always give the same time.
type BackoffPolicy interface {
	// NextRetryAt returns the due time for the retryCount-th retry (1-based)
	// scheduled at now.
	NextRetryAt(now time.Time, retryCount int) time.Time
}

// FixedBackoff waits Delay before every retry.
type FixedBackoff struct {
	Delay time.Duration
}

func (f FixedBackoff) NextRetryAt(now time.Time, _ int) time.Time {
	return now.Add(f.Delay)
}

// ExponentialBackoff grows the delay by Multiplier per retry, starting at
// Initial and never exceeding Max. No jitter is applied.
type ExponentialBackoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

func (e ExponentialBackoff) NextRetryAt(now time.Time, retryCount int) time.Time {
	return now.Add(e.delay(retryCount))
}

func (e ExponentialBackoff) delay(retryCount int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.Initial
	b.MaxInterval = max(e.Max, e.Initial)
	b.Multiplier = DefaultMultiplier
	if e.Multiplier > 1 {
		b.Multiplier = e.Multiplier
	}
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	d := e.Initial
	for i := 0; i < retryCount; i++ {
		d = b.NextBackOff()
	}
	return d
}

// PolicyFromConfig builds the policy named in cfg.
func PolicyFromConfig(cfg config.RetryConfig) (BackoffPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Policy)) {
	case config.BackoffFixed, "":
		return FixedBackoff{Delay: cfg.Delay}, nil
	case config.BackoffExponential:
		return ExponentialBackoff{Initial: cfg.Delay, Max: cfg.MaxDelay}, nil
	default:
		return nil, errors.Errorf("unknown retry policy %q", cfg.Policy)
	}
}
