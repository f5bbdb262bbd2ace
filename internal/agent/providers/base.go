package providers

import (
	"context"
	"math"
	"time"
)

// BaseProvider holds shared retry configuration for provider adapters.
// Retries apply only to opening a stream; once any event has been
// delivered the adapter never retries, since tokens were already observed
// downstream.
type BaseProvider struct {
	name       string
	maxRetries int
	retryDelay time.Duration
}

// NewBaseProvider creates a base provider with sane defaults.
func NewBaseProvider(name string, maxRetries int, retryDelay time.Duration) BaseProvider {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return BaseProvider{
		name:       name,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

// Name returns the adapter name.
func (b *BaseProvider) Name() string { return b.name }

// Retry executes op with exponential backoff while isRetryable reports
// the failure as transient. Non-retryable errors return immediately.
func (b *BaseProvider) Retry(ctx context.Context, isRetryable func(error) bool, op func() error) error {
	var lastErr error
	for attempt := 0; attempt < b.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := op()
		if err == nil {
			return nil
		}
		lastErr = err

		if isRetryable == nil || !isRetryable(err) {
			return err
		}
		if attempt == b.maxRetries-1 {
			break
		}

		delay := b.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}
