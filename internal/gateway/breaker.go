package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"matchgate/internal/config"
	matchgateErrors "matchgate/internal/errors"

	"github.com/sony/gobreaker/v2"
)

// response is a fully read upstream reply.
type response struct {
	status int
	header http.Header
	body   []byte
}

// Breaker wraps calls to one service with the circuit breaker pattern.
// A nil *Breaker passes calls straight through.
type Breaker struct {
	cb *gobreaker.CircuitBreaker[*response]
}

// NewBreaker creates a circuit breaker for service, or nil when disabled.
// 5xx replies and transport failures count against the breaker; caller
// cancellation and 4xx replies do not.
func NewBreaker(service string, cfg config.CircuitBreakerConfig, logger *matchgateErrors.Logger) *Breaker {
	if !cfg.Enabled {
		return nil
	}
	if logger == nil {
		logger = matchgateErrors.Discard()
	}

	settings := gobreaker.Settings{
		Name:        fmt.Sprintf("gateway-%s", service),
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= cfg.MinRequests &&
				failureRatio >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Circuit breaker state changed",
				"name", name,
				"service", service,
				"from", from.String(),
				"to", to.String(),
				"max_requests", cfg.MaxRequests,
				"failure_threshold", cfg.FailureThreshold)
		},
	}

	return &Breaker{cb: gobreaker.NewCircuitBreaker[*response](settings)}
}

// execute runs fn with circuit breaker protection
func (b *Breaker) execute(fn func() (*response, error)) (*response, error) {
	if b == nil || b.cb == nil {
		return fn()
	}
	return b.cb.Execute(fn)
}

// Stats returns circuit breaker statistics
func (b *Breaker) Stats() map[string]any {
	if b == nil || b.cb == nil {
		return map[string]any{
			"enabled": false,
		}
	}

	return map[string]any{
		"name":    b.cb.Name(),
		"state":   b.cb.State().String(),
		"counts":  b.cb.Counts(),
		"enabled": true,
	}
}

// IsHealthy returns true if the circuit breaker is in closed state
func (b *Breaker) IsHealthy() bool {
	if b == nil || b.cb == nil {
		return true
	}
	return b.cb.State() == gobreaker.StateClosed
}
