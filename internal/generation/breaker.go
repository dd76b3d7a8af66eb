package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

// BreakerSettings tunes the circuit breaker in front of a Generator.
type BreakerSettings struct {
	// ConsecutiveFailures opens the circuit once reached.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the circuit stays open before a trial call.
	OpenTimeout time.Duration
	// OnStateChange, if set, observes every transition.
	OnStateChange func(from, to gobreaker.State)
}

func (s BreakerSettings) withDefaults() BreakerSettings {
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 5
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 30 * time.Second
	}
	return s
}

// Breaker fails fast while the wrapped Generator keeps failing, so an outage
// does not stack one call timeout per queued request.
type Breaker struct {
	next Generator
	cb   *gobreaker.CircuitBreaker[string]
}

var _ Generator = (*Breaker)(nil)

func NewBreaker(next Generator, settings BreakerSettings) *Breaker {
	settings = settings.withDefaults()
	const name = "generation"

	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		// A caller giving up is not the service's fault.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			if settings.OnStateChange != nil {
				settings.OnStateChange(from, to)
			}
		},
	})
	return &Breaker{next: next, cb: cb}
}

func (b *Breaker) Generate(ctx context.Context, req Request) (string, error) {
	text, err := b.cb.Execute(func() (string, error) {
		return b.next.Generate(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	return text, err
}

// State reports the current circuit state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// StateValue maps a breaker state onto a gauge value: 0 closed, 1 half-open, 2 open.
func StateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
