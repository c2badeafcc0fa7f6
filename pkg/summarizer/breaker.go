package summarizer

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ErrCircuitOpen is returned while the breaker is open and summarize calls
// are being rejected to protect the sweep from a failing collaborator.
var ErrCircuitOpen = errors.New("summarizer circuit breaker is open")

// BreakerConfig holds the protective settings for a wrapped provider.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that trips the
	// circuit. Default: 3.
	MaxFailures uint32

	// Timeout is how long the circuit stays open before allowing test
	// requests. Default: 30s.
	Timeout time.Duration

	// HalfOpenMaxSuccesses is the number of successes in half-open state
	// required to close the circuit. Default: 2.
	HalfOpenMaxSuccesses uint32

	// RatePerSecond limits summarize calls per second. Zero disables
	// rate limiting.
	RatePerSecond float64

	// Burst is the limiter burst size. Default: 1 when rate limiting is
	// enabled.
	Burst int
}

// Breaker wraps a Provider with a circuit breaker and an optional rate
// limiter, so a flapping or slow summarizer cannot stall consolidation
// sweeps or hammer a paid API.
type Breaker struct {
	inner   Provider
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// WithBreaker wraps the provider. Zero-valued config fields use defaults.
func WithBreaker(inner Provider, cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxSuccesses == 0 {
		cfg.HalfOpenMaxSuccesses = 2
	}

	b := &Breaker{inner: inner}
	b.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "tiermem-summarizer",
		MaxRequests: cfg.HalfOpenMaxSuccesses,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
	})

	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return b
}

// Summarize delegates to the wrapped provider through the limiter and the
// circuit breaker.
func (b *Breaker) Summarize(ctx context.Context, content string) (string, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	result, err := b.breaker.Execute(func() (interface{}, error) {
		return b.inner.Summarize(ctx, content)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", ErrCircuitOpen
		}
		return "", err
	}
	return result.(string), nil
}

// Close closes the wrapped provider.
func (b *Breaker) Close() error { return b.inner.Close() }
