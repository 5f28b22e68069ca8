package observability

import (
	"context"
)

// Context keys for observability data.
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	sessionIDKey contextKey = "session_id"
	runIDKey     contextKey = "run_id"
	providerKey  contextKey = "provider"
	traceIDKey   contextKey = "trace_id"
	spanIDKey    contextKey = "span_id"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if not present.
func RequestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// WithRun adds the run ID, session ID, and provider to the context.
func WithRun(ctx context.Context, runID, sessionID, provider string) context.Context {
	ctx = context.WithValue(ctx, runIDKey, runID)
	ctx = context.WithValue(ctx, sessionIDKey, sessionID)
	ctx = context.WithValue(ctx, providerKey, provider)
	return ctx
}

// RunFromContext retrieves the run ID, session ID, and provider from context.
// Returns empty strings if not present.
func RunFromContext(ctx context.Context) (runID, sessionID, provider string) {
	if v := ctx.Value(runIDKey); v != nil {
		if id, ok := v.(string); ok {
			runID = id
		}
	}
	if v := ctx.Value(sessionIDKey); v != nil {
		if id, ok := v.(string); ok {
			sessionID = id
		}
	}
	if v := ctx.Value(providerKey); v != nil {
		if p, ok := v.(string); ok {
			provider = p
		}
	}
	return runID, sessionID, provider
}

// WithTraceSpan adds trace and span IDs to the context.
func WithTraceSpan(ctx context.Context, traceID, spanID string) context.Context {
	ctx = context.WithValue(ctx, traceIDKey, traceID)
	ctx = context.WithValue(ctx, spanIDKey, spanID)
	return ctx
}

// TraceSpanFromContext retrieves trace and span IDs from context.
// Returns empty strings if not present.
func TraceSpanFromContext(ctx context.Context) (traceID, spanID string) {
	if v := ctx.Value(traceIDKey); v != nil {
		if id, ok := v.(string); ok {
			traceID = id
		}
	}
	if v := ctx.Value(spanIDKey); v != nil {
		if id, ok := v.(string); ok {
			spanID = id
		}
	}
	return traceID, spanID
}

// RunContext contains all the context data for a research run.
type RunContext struct {
	RequestID string
	SessionID string
	RunID     string
	Provider  string
	TraceID   string
	SpanID    string
}

// WithRunContextFull adds all run context to the context.
func WithRunContextFull(ctx context.Context, rc RunContext) context.Context {
	if rc.RequestID != "" {
		ctx = WithRequestID(ctx, rc.RequestID)
	}
	if rc.RunID != "" || rc.SessionID != "" || rc.Provider != "" {
		ctx = WithRun(ctx, rc.RunID, rc.SessionID, rc.Provider)
	}
	if rc.TraceID != "" || rc.SpanID != "" {
		ctx = WithTraceSpan(ctx, rc.TraceID, rc.SpanID)
	}
	return ctx
}

// RunContextFromContext extracts all run context from the context.
func RunContextFromContext(ctx context.Context) RunContext {
	runID, sessionID, provider := RunFromContext(ctx)
	traceID, spanID := TraceSpanFromContext(ctx)

	return RunContext{
		RequestID: RequestIDFromContext(ctx),
		SessionID: sessionID,
		RunID:     runID,
		Provider:  provider,
		TraceID:   traceID,
		SpanID:    spanID,
	}
}
