package transactions

import "github.com/questchain/node/internal/config"

// DefaultMaxRetries is the retry budget given to new transactions.
const DefaultMaxRetries = config.DefaultMaxRetries

// DefaultRetryDelay is the fixed backoff between retries.
const DefaultRetryDelay = config.DefaultRetryDelay

// DefaultMultiplier is the growth factor of ExponentialBackoff when unset.
const DefaultMultiplier = 1.5
