package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"go-session-service/internal/model"
)

var (
	SessionOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_operations_total",
		Help: "Session operations by outcome",
	}, []string{"operation", "outcome"})

	GuardDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_guard_decisions_total",
		Help: "Access guard and role gate decisions",
	}, []string{"decision"})

	RefreshTokensSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_refresh_tokens_swept_total",
		Help: "Expired refresh token rows removed by the sweeper",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "session_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.ExponentialBuckets(0.005, 2.0, 12), // 5ms to ~10s
	}, []string{"method", "route", "status"})
)

// RecordSession counts one session operation, labelled by the error kind it
// ended with.
func RecordSession(operation string, err error) {
	SessionOperations.WithLabelValues(operation, Outcome(err)).Inc()
}

// Outcome maps an error onto a low-cardinality label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, model.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, model.ErrDuplicateEmail):
		return "duplicate_email"
	case errors.Is(err, model.ErrRefreshExpired):
		return "expired"
	case errors.Is(err, model.ErrRefreshNotFound):
		return "not_found"
	case errors.Is(err, model.ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, model.ErrTokenConflict):
		return "conflict"
	case errors.Is(err, model.ErrUserNotFound):
		return "user_not_found"
	default:
		return "error"
	}
}
