// Package logging provides a tiny abstraction over slog so downstream code
// can depend on a minimal interface (Logger) while allowing callers to plug
// any structured logger.
//
// The Logger interface defines the standard logging methods (Debug, Info,
// Warn, Error) that the kernel, dispatch engine, router and agent loop use
// for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - FabricLogger, a richer slog-backed logger with thread/component
//     context and domain helpers (LogHandlerInvoke, LogWALWrite,
//     LogRouterDecision), reachable through the DomainLogger interface
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	k, err := kernel.New(dataDir, func(o *kernel.Options) { o.Logger = logger })
//
// The design intentionally keeps the interface minimal to avoid vendor lock-in
// while supporting structured logging where available.
package logging
