package upstream

import (
	"errors"
	"time"

	"backend-runconnect/internal/metrics"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// ErrUnavailable wraps calls rejected while a breaker is open or half-open-saturated.
var ErrUnavailable = errors.New("upstream unavailable")

// NewBreaker builds the breaker shared by the third-party clients. isSuccessful
// lets a caller keep API-level rejections (bad input, no route) from tripping it.
func NewBreaker[T any](name string, log *zap.Logger, isSuccessful func(error) bool) *gobreaker.CircuitBreaker[T] {
	if log == nil {
		log = zap.NewNop()
	}
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: isSuccessful,
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				zap.String("upstream", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})
}

// Execute runs fn through cb, records the outcome and maps breaker rejections to ErrUnavailable.
func Execute[T any](cb *gobreaker.CircuitBreaker[T], fn func() (T, error)) (T, error) {
	res, err := cb.Execute(fn)
	switch {
	case err == nil:
		metrics.UpstreamRequests.WithLabelValues(cb.Name(), "success").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.UpstreamRequests.WithLabelValues(cb.Name(), "rejected").Inc()
		var zero T
		return zero, errors.Join(ErrUnavailable, err)
	default:
		metrics.UpstreamRequests.WithLabelValues(cb.Name(), "failure").Inc()
	}
	return res, err
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
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
