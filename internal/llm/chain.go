package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-investigator/internal/metrics"
	"github.com/miradorstack/mirador-investigator/internal/models"
	"github.com/miradorstack/mirador-investigator/internal/utils"
)

// Model is a single text-generation provider.
type Model interface {
	Name() string
	Complete(ctx context.Context, p models.Prompt) (string, error)
}

// ChainOptions tunes retries, timeouts and circuit breaking.
type ChainOptions struct {
	Timeout          time.Duration
	MaxTokens        int
	RetryAttempts    int
	RetryBackoff     time.Duration
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

type guardedModel struct {
	model   Model
	breaker *Breaker
}

// Chain tries providers in order. Each provider is retried with exponential
// backoff and guarded by its own circuit breaker.
type Chain struct {
	providers []guardedModel
	opts      ChainOptions
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewChain builds a provider chain. Nil models are skipped.
func NewChain(logger *slog.Logger, opts ChainOptions, chain ...Model) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 1
	}
	providers := make([]guardedModel, 0, len(chain))
	for _, m := range chain {
		if m == nil {
			continue
		}
		providers = append(providers, guardedModel{model: m, breaker: NewBreaker(opts.FailureThreshold, opts.RecoveryTimeout)})
	}
	return &Chain{providers: providers, opts: opts, logger: logger, sleep: sleepContext}
}

// Generate returns the first successful completion. When every provider fails
// or is circuit-open the error matches utils.ErrSynthesisUnavailable.
func (c *Chain) Generate(ctx context.Context, p models.Prompt) (string, error) {
	if len(c.providers) == 0 {
		return "", utils.KindError("llm.Generate", utils.ErrSynthesisUnavailable, errors.New("no model providers configured"))
	}
	if p.MaxTokens <= 0 {
		p.MaxTokens = c.opts.MaxTokens
	}

	var errs []error
	for _, provider := range c.providers {
		name := provider.model.Name()
		if !provider.breaker.Allow() {
			metrics.IncModelCall(name, "circuit_open")
			errs = append(errs, fmt.Errorf("%s: %w", name, utils.ErrCircuitOpen))
			continue
		}
		text, err := c.callWithRetry(ctx, provider.model, p)
		if err == nil {
			provider.breaker.Success()
			metrics.IncModelCall(name, "success")
			return text, nil
		}
		if ctx.Err() != nil {
			// Caller cancellation is not a provider fault.
			provider.breaker.Release()
			return "", utils.KindError("llm.Generate", utils.ErrSynthesisUnavailable, ctx.Err())
		}
		provider.breaker.Failure()
		metrics.IncModelCall(name, "error")
		c.logger.Warn("model provider failed", slog.String("provider", name), slog.String("breaker", provider.breaker.State()), slog.Any("error", err))
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}
	return "", utils.KindError("llm.Generate", utils.ErrSynthesisUnavailable, errors.Join(errs...))
}

func (c *Chain) callWithRetry(ctx context.Context, m Model, p models.Prompt) (string, error) {
	backoff := c.opts.RetryBackoff
	var lastErr error
	for attempt := 1; attempt <= c.opts.RetryAttempts; attempt++ {
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if c.opts.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		}
		text, err := m.Complete(callCtx, p)
		cancel()
		if err == nil {
			return text, nil
		}
		lastErr = err
		if attempt == c.opts.RetryAttempts || ctx.Err() != nil {
			break
		}
		if err := c.sleep(ctx, backoff); err != nil {
			return "", err
		}
		backoff *= 2
	}
	return "", lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
