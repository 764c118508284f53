// Package logging provides a minimal logging interface and adapters for simflow.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the gateway, solvers, orchestrator and optimization loop use for observability.
// This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - SimFlowLogger with run/component context and pipeline helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	sf, err := simflow.New(ctx, cfg, func(o *simflow.Options) { o.Logger = logger })
package logging
