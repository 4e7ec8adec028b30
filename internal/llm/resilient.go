package llm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/felixgeelhaar/fortify/timeout"
	"go.uber.org/zap"
)

// ResilientClient wraps a Client with a per-attempt timeout and exponential
// retry. Content-filter rejections and caller cancellation end the call at once.
type ResilientClient struct {
	inner  Client
	cfg    ResilienceConfig
	logger *zap.Logger
}

// NewResilientClient wraps inner. A nil logger disables logging.
func NewResilientClient(inner Client, cfg ResilienceConfig, logger *zap.Logger) *ResilientClient {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResilientClient{inner: inner, cfg: cfg, logger: logger}
}

// Generate calls the wrapped client until it succeeds, fails terminally, or
// runs out of attempts. The returned error is always classified.
func (c *ResilientClient) Generate(ctx context.Context, req Request) (string, error) {
	r := retry.New[string](retry.Config{
		MaxAttempts:   c.cfg.MaxAttempts,
		InitialDelay:  c.cfg.InitialDelay,
		BackoffPolicy: retry.BackoffExponential,
	})

	var (
		attempts atomic.Int32
		last     atomic.Pointer[GatewayError]
		mu       sync.Mutex
		terminal error
	)
	stop := func(err error) (string, error) {
		mu.Lock()
		terminal = err
		mu.Unlock()
		return "", nil
	}

	out, err := r.Do(ctx, func(ctx context.Context) (string, error) {
		n := attempts.Add(1)
		start := time.Now()
		text, err := c.attempt(ctx, req)
		if err == nil {
			return text, nil
		}

		classified := classifyAttempt(err, time.Since(start), c.cfg.CallTimeout)
		var gerr *GatewayError
		if !errors.As(classified, &gerr) {
			// caller cancelled
			return stop(classified)
		}

		c.logger.Warn("model call failed",
			zap.Int32("attempt", n),
			zap.String("tier", string(req.Tier)),
			zap.Bool("quota", gerr.Quota),
			zap.Error(gerr),
		)

		if !IsRetryable(gerr) {
			return stop(gerr)
		}
		last.Store(gerr)
		return "", gerr
	})

	mu.Lock()
	defer mu.Unlock()
	if terminal != nil {
		return "", terminal
	}
	if ctxErr := ctx.Err(); ctxErr != nil && err != nil {
		return "", Classify(ctxErr)
	}
	if err != nil {
		if l := last.Load(); l != nil {
			return "", l
		}
		return "", Classify(err)
	}
	return out, nil
}

func (c *ResilientClient) attempt(ctx context.Context, req Request) (string, error) {
	if c.cfg.CallTimeout <= 0 {
		return c.inner.Generate(ctx, req)
	}
	t := timeout.New[string](timeout.Config{DefaultTimeout: c.cfg.CallTimeout})
	return t.Execute(ctx, c.cfg.CallTimeout, func(ctx context.Context) (string, error) {
		return c.inner.Generate(ctx, req)
	})
}

// classifyAttempt treats any failure that consumed the whole attempt budget as a timeout.
func classifyAttempt(err error, elapsed, budget time.Duration) error {
	classified := Classify(err)
	if errors.Is(classified, context.Canceled) {
		return classified
	}
	if budget > 0 && elapsed >= budget && !errors.Is(classified, ErrContentFiltered) {
		return &GatewayError{Kind: ErrTimeout, Cause: err}
	}
	return classified
}

// GetModel returns the wrapped client's model for a tier
func (c *ResilientClient) GetModel(tier ModelTier) string {
	return c.inner.GetModel(tier)
}

// Close closes the wrapped client
func (c *ResilientClient) Close() error {
	return c.inner.Close()
}
