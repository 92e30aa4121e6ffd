// Package upstream classifies failures of the external lookup and cleanup services.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/imrishuroy/go-beer-pipeline/internal/queue"
)

// Error kinds distinguished in logs. All of them are retried the same way.
var (
	ErrTimeout           = fmt.Errorf("upstream timeout: %w", queue.ErrTransientUpstream)
	ErrRateLimited       = fmt.Errorf("upstream rate limited: %w", queue.ErrTransientUpstream)
	ErrUpstream          = fmt.Errorf("upstream error: %w", queue.ErrTransientUpstream)
	ErrCircuitOpen       = fmt.Errorf("upstream circuit open: %w", queue.ErrTransientUpstream)
	ErrMalformedResponse = fmt.Errorf("upstream malformed response: %w", queue.ErrMalformedResponse)
)

// Kind returns a short label for err, used as the error_kind log field.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	default:
		return "upstream"
	}
}

// Classify maps a transport-level error from an outbound call onto the kinds above.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstream) ||
		errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrMalformedResponse) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUpstream, err)
}

// BreakerSettings tunes NewBreaker.
type BreakerSettings struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

// NewBreaker returns a circuit breaker that trips after consecutive transport
// failures. Malformed responses do not count: the service answered.
func NewBreaker(name string, s BreakerSettings, log *zerolog.Logger) *gobreaker.CircuitBreaker {
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 5
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 30 * time.Second
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrMalformedResponse)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if log != nil {
				log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
			}
		},
	})
}

// Execute runs fn through cb and classifies the result.
func Execute[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T
	out, err := cb.Execute(func() (interface{}, error) {
		v, err := fn()
		if err != nil {
			return nil, Classify(err)
		}
		return v, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		return zero, err
	}
	v, _ := out.(T)
	return v, nil
}
