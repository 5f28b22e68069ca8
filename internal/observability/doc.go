// Package observability provides logging, metrics, and tracing support for
// the deep research service.
//
// # Overview
//
// The observability package provides:
//
//   - Structured logging with zerolog
//   - Prometheus metrics for runs, ticks, steps, and providers
//   - Context helpers for propagating observability data
//
// # Logging
//
// Create a logger from configuration:
//
//	cfg := observability.LoggingConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    Output:    "stdout",
//	    AddSource: true,
//	}
//
//	logger := observability.NewLogger(cfg)
//	logger.Info().Str("run_id", runID).Msg("run started")
//
// Add run context to logger:
//
//	logger = observability.WithRunContext(logger, runID, sessionID, provider)
//
// # Metrics
//
// Initialize metrics:
//
//	metrics := observability.NewMetrics("deep_research")
//
// Record metrics:
//
//	metrics.RecordRunStarted("openai")
//	metrics.RecordStepCompleted("discover", 12.4)
//	metrics.RecordProviderRateLimited("gemini")
//
// # Context Helpers
//
// Store and retrieve request context:
//
//	ctx = observability.WithRequestID(ctx, requestID)
//	ctx = observability.WithRun(ctx, runID, sessionID, provider)
//
//	reqID := observability.RequestIDFromContext(ctx)
//	runID, sessionID, provider := observability.RunFromContext(ctx)
//
// # Standard Fields
//
// Common fields used across the service:
//
//   - request_id: HTTP request identifier
//   - session_id: Research session identifier
//   - run_id: Research run identifier
//   - provider: Provider lane (openai, gemini)
//   - step_type: Pipeline stage (plan, discover, ...)
//   - step_index: Zero-based stage position
//   - trace_id: Distributed trace identifier
//
// # Thread Safety
//
// All components are safe for concurrent use from multiple goroutines.
package observability
