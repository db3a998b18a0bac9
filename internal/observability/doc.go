// Package observability provides structured logging and metrics for the
// action orchestrator through Prometheus counters/histograms and
// slog-based logging with request correlation and sensitive-data redaction.
//
// # Metrics
//
// Metrics are implemented using the Prometheus client libraries and track
// LLM cascade request latency/cost/tokens, tool (sub-action) execution
// performance, and error rates by component.
//
//	metrics := observability.NewMetrics()
//	start := time.Now()
//	// ... call model ...
//	metrics.RecordLLMRequest("openai", "gpt-4o", "success", time.Since(start).Seconds(), 120, 340)
//
// # Logging
//
// Logging is built on Go's slog package with request ID correlation and
// automatic redaction of API keys, tokens, and passwords.
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
//	ctx = observability.AddRequestID(ctx, requestID)
//	logger.Info(ctx, "step completed", "action", actionName, "step", idx)
package observability
