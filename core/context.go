// Package core holds the request-scoped context helpers shared by the proxy modifiers.
package core

import (
	"context"
	"net/http"
	"time"

	"github.com/google/martian"
	"github.com/google/uuid"
	"github.com/tfkr-ae/mimic/intercept"
)

type contextKey string

const (
	// RequestIDKey is the context key for the request ID (uuid.UUID). The same ID is shared between the request and response
	RequestIDKey contextKey = "RequestID"
	// RequestTimeKey is the context key for the request timestamp (time.Time)
	RequestTimeKey contextKey = "RequestTime"
	// DecisionKey is the context key for the intercept decision (intercept.Decision) taken for the request
	DecisionKey contextKey = "Decision"
	// MartianSessionKey is the context key to store the martian session (*martian.Session)
	MartianSessionKey contextKey = "SessionKey"
)

// ContextWithSession returns a new request with a martian session in the context
func ContextWithSession(req *http.Request, session *martian.Session) *http.Request {
	ctx := context.WithValue(req.Context(), MartianSessionKey, session)
	return req.WithContext(ctx)
}

// SessionFromContext returns the martian session from the context if it exists
func SessionFromContext(ctx context.Context) (*martian.Session, bool) {
	session, ok := ctx.Value(MartianSessionKey).(*martian.Session)
	return session, ok
}

// ContextWithRequestID returns a new request with a request ID in the context
func ContextWithRequestID(req *http.Request, requestID uuid.UUID) *http.Request {
	ctx := context.WithValue(req.Context(), RequestIDKey, requestID)
	return req.WithContext(ctx)
}

// RequestIDFromContext returns the request ID from the context if it exists
func RequestIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(RequestIDKey).(uuid.UUID)
	return id, ok
}

// ContextWithRequestTime returns a new request with the request time in the context
func ContextWithRequestTime(req *http.Request, requestTime time.Time) *http.Request {
	ctx := context.WithValue(req.Context(), RequestTimeKey, requestTime)
	return req.WithContext(ctx)
}

// RequestTimeFromContext returns the request time from the context if it exists
func RequestTimeFromContext(ctx context.Context) (time.Time, bool) {
	timestamp, ok := ctx.Value(RequestTimeKey).(time.Time)
	return timestamp, ok
}

// ContextWithDecision returns a new request carrying the intercept decision
func ContextWithDecision(req *http.Request, decision intercept.Decision) *http.Request {
	ctx := context.WithValue(req.Context(), DecisionKey, decision)
	return req.WithContext(ctx)
}

// DecisionFromContext returns the intercept decision from the context if it exists
func DecisionFromContext(ctx context.Context) (intercept.Decision, bool) {
	decision, ok := ctx.Value(DecisionKey).(intercept.Decision)
	return decision, ok
}
