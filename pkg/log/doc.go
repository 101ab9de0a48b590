// Package log provides the logging abstraction used across perfship.
//
// Components never import a logging library directly; they accept a [Logger]
// and attach structured [Field] values. Two implementations ship with the
// package: a zerolog-backed adapter and a no-op logger for tests and for hosts
// that want telemetry to stay silent.
//
// # Usage
//
//	logger := log.NewZerologAdapter()
//	logger.Warn("batch dropped", log.String("batch_id", id), log.Int("items", n))
//
// Scope a logger to a component with [With]:
//
//	procLog := log.With(logger, log.String("processor", "reports"))
//
// # Levels
//
// Telemetry loss is never fatal to the host, so admission drops and exhausted
// retries are reported at warn level. Error level is reserved for persistence
// failures that leave state valid only in memory.
package log
