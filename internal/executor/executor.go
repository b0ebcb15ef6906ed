// Package executor wraps a provider adapter with request pacing and retry
// behavior. One Executor exists per provider session and owns the rate
// limiter state, so the minimum inter-request interval is enforced across
// every attempt the session makes, retries included.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/mwojcik/candlesync/internal/exchange"
	"github.com/mwojcik/candlesync/internal/models"
)

// Config tunes an Executor.
type Config struct {
	// RateLimit is the minimum interval between consecutive request
	// attempts against the provider.
	RateLimit time.Duration

	// Timeout bounds each individual attempt.
	Timeout time.Duration

	// MaxRetries is the total number of attempts for transport failures.
	MaxRetries int

	Logger *slog.Logger
}

// Executor paces and retries calls against one provider adapter.
//
// Transport failures are retried up to MaxRetries attempts with 2^attempt
// seconds between attempts; the exhausted failure is returned to the caller.
// Provider rejections are never retried and propagate immediately.
type Executor struct {
	adapter exchange.Adapter
	limiter *rate.Limiter
	timeout time.Duration
	retries int
	logger  *slog.Logger

	// backoffBase is the first retry delay; doubles each attempt. Tests
	// shrink it.
	backoffBase time.Duration
}

// New creates an Executor around the given adapter.
func New(adapter exchange.Adapter, cfg Config) *Executor {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Every(cfg.RateLimit)
	}

	return &Executor{
		adapter:     adapter,
		limiter:     rate.NewLimiter(limit, 1),
		timeout:     cfg.Timeout,
		retries:     cfg.MaxRetries,
		logger:      cfg.Logger,
		backoffBase: time.Second,
	}
}

// Provider returns the wrapped provider's identifier.
func (e *Executor) Provider() string { return e.adapter.Name() }

// MaxPageSize returns the wrapped provider's page cap.
func (e *Executor) MaxPageSize() int { return e.adapter.MaxPageSize() }

// FetchCandles executes adapter.FetchCandles with pacing and retries.
func (e *Executor) FetchCandles(ctx context.Context, req exchange.FetchRequest) ([]models.Candle, error) {
	var candles []models.Candle
	err := e.execute(ctx, "fetch_candles", func(attemptCtx context.Context) error {
		var err error
		candles, err = e.adapter.FetchCandles(attemptCtx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return candles, nil
}

// FetchSymbols executes adapter.FetchSymbols with pacing and retries.
func (e *Executor) FetchSymbols(ctx context.Context) ([]string, error) {
	var symbols []string
	err := e.execute(ctx, "fetch_symbols", func(attemptCtx context.Context) error {
		var err error
		symbols, err = e.adapter.FetchSymbols(attemptCtx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return symbols, nil
}

// execute runs op through the rate limiter and retry policy. The limiter is
// waited on before every attempt so retries cannot burst past the provider
// limit.
func (e *Executor) execute(ctx context.Context, op string, call func(ctx context.Context) error) error {
	attempt := 0

	operation := func() error {
		if err := e.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("rate limit wait failed: %w", err))
		}

		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		err := call(attemptCtx)
		if err == nil {
			return nil
		}

		// Provider rejections are final; only transport failures retry.
		if exchange.IsProviderRejection(err) {
			return backoff.Permanent(err)
		}

		e.logger.Warn("request attempt failed",
			"provider", e.adapter.Name(),
			"op", op,
			"attempt", attempt,
			"max_attempts", e.retries,
			"error", err)
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.backoffBase
	policy.Multiplier = 2.0
	policy.RandomizationFactor = 0
	policy.MaxInterval = 10 * time.Minute
	policy.MaxElapsedTime = 0

	retries := uint64(e.retries - 1)
	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, retries), ctx))
}
