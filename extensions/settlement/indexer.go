package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/questchain/node/internal/config"
	"github.com/questchain/node/internal/tracing"
	"github.com/questchain/node/internal/types"
)

const (
	// IndexerRetryAttempts bounds transient-error retries per lookup.
	IndexerRetryAttempts = 3
	// IndexerBackoffInitial is the first wait between lookup retries.
	IndexerBackoffInitial = 500 * time.Millisecond
	// IndexerBackoffMax caps the wait between lookup retries.
	IndexerBackoffMax = 5 * time.Second
)

// Circuit breaker configuration constants
const (
	DefaultCircuitBreakerMaxRequests  = 3
	DefaultCircuitBreakerInterval     = 10 * time.Second
	DefaultCircuitBreakerTimeout      = 60 * time.Second
	DefaultCircuitBreakerFailureRatio = 0.6
)

// ChainQuerier looks up where a transaction landed on chain. found is false
// while the transaction is not yet visible.
type ChainQuerier interface {
	TransactionStatus(ctx context.Context, txHash string) (loc *types.BlockLocator, found bool, err error)
}

// BlockfrostClient queries a Blockfrost-compatible REST indexer.
type BlockfrostClient struct {
	baseURL   string
	projectID string
	http      *http.Client
	logger    *zap.Logger

	retryAttempts  uint64
	backoffInitial time.Duration
	backoffMax     time.Duration

	// breaker stops hammering an indexer that keeps failing; while open,
	// lookups fail fast with gobreaker.ErrOpenState.
	breaker *gobreaker.CircuitBreaker
}

var _ ChainQuerier = (*BlockfrostClient)(nil)

// NewBlockfrostClient builds a client for cfg.URL. httpClient may be nil.
func NewBlockfrostClient(cfg config.IndexerConfig, httpClient *http.Client, logger *zap.Logger) (*BlockfrostClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if base == "" {
		return nil, errors.New("indexer url is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, errors.Wrapf(err, "parse indexer url %q", base)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &BlockfrostClient{
		baseURL:        base,
		projectID:      cfg.ProjectID,
		http:           httpClient,
		logger:         logger.Named("indexer"),
		retryAttempts:  IndexerRetryAttempts,
		backoffInitial: IndexerBackoffInitial,
		backoffMax:     IndexerBackoffMax,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        base,
		MaxRequests: DefaultCircuitBreakerMaxRequests,
		Interval:    DefaultCircuitBreakerInterval,
		Timeout:     DefaultCircuitBreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= DefaultCircuitBreakerMaxRequests && failureRatio >= DefaultCircuitBreakerFailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Info("indexer circuit breaker state changed",
				zap.String("indexer", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return c, nil
}

// txContent is the subset of GET /txs/{hash} the poller needs.
type txContent struct {
	Hash        string `json:"hash"`
	Block       string `json:"block"`
	BlockHeight int64  `json:"block_height"`
	BlockTime   int64  `json:"block_time"`
	Slot        int64  `json:"slot"`
}

type lookupResult struct {
	loc   *types.BlockLocator
	found bool
}

// TransactionStatus calls GET /txs/{hash}. A 404 means not yet on chain.
// Network errors, 429 and 5xx responses are retried with exponential backoff;
// other statuses fail immediately. Repeated failures open the circuit breaker.
func (c *BlockfrostClient) TransactionStatus(ctx context.Context, txHash string) (*types.BlockLocator, bool, error) {
	txHash = strings.TrimSpace(txHash)
	if txHash == "" {
		return nil, false, errors.New("tx hash is required")
	}

	ctx, end := tracing.TraceOp(ctx, tracing.OpIndexerLookup, attribute.String("tx_hash", txHash))
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.lookupWithRetry(ctx, txHash)
	})
	end(err)
	if err != nil {
		return nil, false, errors.Wrapf(err, "query indexer for %s", txHash)
	}
	found := res.(lookupResult)
	return found.loc, found.found, nil
}

func (c *BlockfrostClient) lookupWithRetry(ctx context.Context, txHash string) (lookupResult, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.backoffInitial
	b.MaxInterval = c.backoffMax
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, c.retryAttempts), ctx)

	return backoff.RetryNotifyWithData(func() (lookupResult, error) {
		return c.lookup(ctx, txHash)
	}, policy, func(err error, wait time.Duration) {
		c.logger.Warn("indexer lookup failed, retrying",
			zap.String("tx_hash", txHash),
			zap.Duration("backoff", wait),
			zap.Error(err))
	})
}

func (c *BlockfrostClient) lookup(ctx context.Context, txHash string) (lookupResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/txs/"+url.PathEscape(txHash), nil)
	if err != nil {
		return lookupResult{}, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	if c.projectID != "" {
		req.Header.Set("project_id", c.projectID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return lookupResult{}, backoff.Permanent(ctx.Err())
		}
		return lookupResult{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return lookupResult{}, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return lookupResult{}, statusError(resp)
	default:
		return lookupResult{}, backoff.Permanent(statusError(resp))
	}

	var content txContent
	if err := json.NewDecoder(resp.Body).Decode(&content); err != nil {
		return lookupResult{}, backoff.Permanent(errors.Wrap(err, "decode indexer response"))
	}
	loc := &types.BlockLocator{
		TxHash:      content.Hash,
		BlockHeight: content.BlockHeight,
		Slot:        content.Slot,
	}
	if loc.TxHash == "" {
		loc.TxHash = txHash
	}
	if content.BlockTime > 0 {
		loc.BlockTime = time.Unix(content.BlockTime, 0).UTC()
	}
	return lookupResult{loc: loc, found: true}, nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("indexer returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
