package generator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// BreakerGenerator wraps a Generator with a circuit breaker so a failing
// upstream sheds load fast instead of holding request slots on timeouts.
// An open circuit surfaces as ErrUnavailable, which takes the fallback path.
type BreakerGenerator struct {
	inner   Generator
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerGenerator wraps a generator with the standard breaker settings
func NewBreakerGenerator(inner Generator) *BreakerGenerator {
	settings := gobreaker.Settings{
		Name:        "reply-generator",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state change")
		},
	}

	return &BreakerGenerator{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Generate runs the inner generator through the breaker
func (b *BreakerGenerator) Generate(ctx context.Context, query, businessContext string) (*Reply, error) {
	result, err := b.breaker.Execute(func() (interface{}, error) {
		return b.inner.Generate(ctx, query, businessContext)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit open", ErrUnavailable)
		}
		return nil, err
	}
	return result.(*Reply), nil
}
