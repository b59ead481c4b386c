package weaviate

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/weaviate/weaviate/entities/models"
)

// RetryConfig configures retry behavior for cluster calls.
type RetryConfig struct {
	MaxRetries int           // Maximum number of retry attempts (0 = no retries)
	RetryDelay time.Duration // Initial delay between retries
	MaxDelay   time.Duration // Maximum delay between retries (caps exponential backoff)
}

// DefaultRetryConfig returns a sensible default configuration.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 3,
		RetryDelay: 500 * time.Millisecond,
		MaxDelay:   5 * time.Second,
	}
}

// RetryRepository wraps a Repository with retry logic for transient failures.
type RetryRepository struct {
	inner  Repository
	config *RetryConfig
}

// WithRetry wraps an existing repository with retry logic.
func WithRetry(inner Repository, config *RetryConfig) *RetryRepository {
	if config == nil {
		config = DefaultRetryConfig()
	}
	return &RetryRepository{inner: inner, config: config}
}

func (r *RetryRepository) Ready(ctx context.Context) (bool, error) {
	var ready bool
	err := r.do(ctx, func(ctx context.Context) error {
		var err error
		ready, err = r.inner.Ready(ctx)
		return err
	})
	return ready, err
}

func (r *RetryRepository) ListCollections(ctx context.Context) ([]string, error) {
	var names []string
	err := r.do(ctx, func(ctx context.Context) error {
		var err error
		names, err = r.inner.ListCollections(ctx)
		return err
	})
	return names, err
}

func (r *RetryRepository) GetSchema(ctx context.Context, collection string) (*models.Class, error) {
	var class *models.Class
	err := r.do(ctx, func(ctx context.Context) error {
		var err error
		class, err = r.inner.GetSchema(ctx, collection)
		return err
	})
	return class, err
}

func (r *RetryRepository) Hybrid(ctx context.Context, q HybridQuery) ([]Object, error) {
	var objects []Object
	err := r.do(ctx, func(ctx context.Context) error {
		var err error
		objects, err = r.inner.Hybrid(ctx, q)
		return err
	})
	return objects, err
}

func (r *RetryRepository) Keyword(ctx context.Context, q KeywordQuery) ([]Object, error) {
	var objects []Object
	err := r.do(ctx, func(ctx context.Context) error {
		var err error
		objects, err = r.inner.Keyword(ctx, q)
		return err
	})
	return objects, err
}

func (r *RetryRepository) Semantic(ctx context.Context, q SemanticQuery) ([]Object, error) {
	var objects []Object
	err := r.do(ctx, func(ctx context.Context) error {
		var err error
		objects, err = r.inner.Semantic(ctx, q)
		return err
	})
	return objects, err
}

func (r *RetryRepository) do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", r.config.MaxRetries, lastErr)
}

// calculateBackoff returns the delay for the given attempt using exponential backoff.
func (r *RetryRepository) calculateBackoff(attempt int) time.Duration {
	delay := r.config.RetryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > r.config.MaxDelay {
			return r.config.MaxDelay
		}
	}
	return delay
}

// isRetryable determines if an error should trigger a retry.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Caller cancelled: do not retry.
	if errors.Is(err, context.Canceled) {
		return false
	}
	// Per-attempt timeouts are retryable.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	// Bad arguments and unknown collections won't improve on retry.
	if errors.Is(err, ErrCollectionNotFound) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	errStr := err.Error()

	// Rate limiting.
	if strings.Contains(errStr, "429") || strings.Contains(errStr, "Too Many Requests") {
		return true
	}
	// Server errors.
	if strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") ||
		strings.Contains(errStr, http.StatusText(http.StatusInternalServerError)) ||
		strings.Contains(errStr, http.StatusText(http.StatusBadGateway)) ||
		strings.Contains(errStr, http.StatusText(http.StatusServiceUnavailable)) ||
		strings.Contains(errStr, http.StatusText(http.StatusGatewayTimeout)) {
		return true
	}
	// Remaining client errors are terminal.
	if strings.Contains(errStr, "400") ||
		strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "403") ||
		strings.Contains(errStr, "404") {
		return false
	}
	// GraphQL-level failures (bad field names, module errors) are terminal.
	if strings.Contains(errStr, "graphql") {
		return false
	}

	// Unknown errors: assume transient network trouble.
	return true
}

var _ Repository = (*RetryRepository)(nil)
