// Package errors provides the classified error primitives used across dashrender.
//
// Every job-level failure in the render pipeline is a ClassifiedError so the
// scheduler can decide between retrying with backoff, dropping the job, or
// degrading gracefully without inspecting error strings.
//
// Key features:
//   - ErrorCategory: broad classification (layout, snapshot, render, publish, ...)
//   - ErrorSeverity: impact level (fatal, error, warning, info)
//   - RetryStrategy: retry behavior (never, backoff, user action, ...)
//   - ErrorBuilder: fluent construction with structured context
//   - HTTP and CLI adapters for presentation
//
// Example usage:
//
//	err := errors.InvalidLayout("unknown widget type").
//		WithContext("dashboard_id", id).
//		WithContext("widget", 3).
//		Build()
package errors
