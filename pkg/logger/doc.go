// Package logger provides the structured logging interface used across the harvester.
//
// It wraps zerolog and offers:
// - Multiple log levels (Debug, Info, Warn, Error, Fatal)
// - Structured logging with fields
// - Coloured console output on a terminal, JSON lines otherwise
// - Optional file output alongside the console
// - A global logger instance for commands, injected loggers for packages
//
// Basic Usage:
//
//	import "harvester/pkg/logger"
//
//	err := logger.Initialize(&cfg.Logging)
//
//	logger.Info("Run started")
//	logger.WithField("unit", "타이레놀").Info("Unit completed")
//
// Packages take a Logger in their constructors so tests can pass
// NewNopLogger or NewTestLogger and inspect captured messages.
package logger
