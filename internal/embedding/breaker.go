package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned without calling the provider while the breaker is open.
var ErrCircuitOpen = errors.New("embedding provider circuit open")

// BreakerEmbedder trips after maxFailures consecutive provider failures and fails fast until
// the open timeout elapses. It never retries. A call that fails because the caller's context
// was cancelled or hit the caller's deadline does not count as a failure; a provider timeout
// under a live caller context does.
type BreakerEmbedder struct {
	inner   Embedder
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerEmbedder wraps inner with a circuit breaker named name.
func NewBreakerEmbedder(inner Embedder, name string, maxFailures uint32, openTimeout time.Duration) *BreakerEmbedder {
	if maxFailures == 0 {
		maxFailures = 1
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			var gone callerGone
			return err == nil || errors.Is(err, context.Canceled) || errors.As(err, &gone)
		},
	}
	return &BreakerEmbedder{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// callerGone wraps an error returned after the caller's own context ended.
type callerGone struct{ err error }

func (c callerGone) Error() string { return c.err.Error() }
func (c callerGone) Unwrap() error { return c.err }

func (b *BreakerEmbedder) execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	v, err := b.breaker.Execute(func() (interface{}, error) {
		v, err := fn()
		if err != nil && ctx.Err() != nil {
			return nil, callerGone{err: err}
		}
		return v, err
	})
	var gone callerGone
	if errors.As(err, &gone) {
		return nil, gone.err
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("breaker (%s): %w", b.breaker.Name(), ErrCircuitOpen)
	}
	return v, err
}

// Embed calls the wrapped embedder through the breaker.
func (b *BreakerEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := b.execute(ctx, func() (interface{}, error) {
		return b.inner.Embed(ctx, text)
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

// EmbedBatch calls the wrapped embedder through the breaker.
func (b *BreakerEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	v, err := b.execute(ctx, func() (interface{}, error) {
		return b.inner.EmbedBatch(ctx, texts)
	})
	if err != nil {
		return nil, err
	}
	return v.([][]float32), nil
}

// State returns the breaker state ("closed", "half-open" or "open").
func (b *BreakerEmbedder) State() string {
	return b.breaker.State().String()
}

// Dimensions returns the wrapped embedder's dimension.
func (b *BreakerEmbedder) Dimensions() int {
	return b.inner.Dimensions()
}

// Close closes the wrapped embedder.
func (b *BreakerEmbedder) Close() error {
	return b.inner.Close()
}
