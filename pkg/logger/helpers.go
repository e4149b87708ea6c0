package logger

import (
	"context"

	"github.com/rs/zerolog"
)

// LogRunSummary logs the final counters of a crawl run
func LogRunSummary(mode string, counters map[string]interface{}) {
	fields := map[string]interface{}{
		"mode": mode,
		"type": "summary",
	}

	// Merge counters into fields
	for k, v := range counters {
		fields[k] = v
	}

	GetLogger().InfoWithFields("Run finished", fields)
}

// LogUnitStart logs the start of a unit of work
func LogUnitStart(mode string, unit string, workerID int) {
	GetLogger().DebugWithFields("Unit started", map[string]interface{}{
		"mode":      mode,
		"unit":      unit,
		"worker_id": workerID,
	})
}

// LogUnitFinish logs the disposition of a unit of work
func LogUnitFinish(mode string, unit string, disposition string, fields map[string]interface{}) {
	merged := map[string]interface{}{
		"mode":        mode,
		"unit":        unit,
		"disposition": disposition,
	}
	for k, v := range fields {
		merged[k] = v
	}
	GetLogger().InfoWithFields("Unit finished", merged)
}

// LogComponentStart logs when a component starts
func LogComponentStart(component string, config map[string]interface{}) {
	logger := GetLogger().WithField("component", component)

	if len(config) > 0 {
		logger = logger.WithFields(config)
	}

	logger.Info("Component started")
}

// LogComponentStop logs when a component stops
func LogComponentStop(component string, reason string) {
	GetLogger().WithFields(map[string]interface{}{
		"component": component,
		"reason":    reason,
	}).Info("Component stopped")
}

// LogMetrics logs performance metrics
func LogMetrics(operation string, metrics map[string]interface{}) {
	fields := map[string]interface{}{
		"operation": operation,
		"type":      "metrics",
	}

	// Merge metrics into fields
	for k, v := range metrics {
		fields[k] = v
	}

	GetLogger().InfoWithFields("Performance metrics", fields)
}

// NewNopLogger creates a no-operation logger for testing
func NewNopLogger() Logger {
	return &nopLogger{}
}

// nopLogger is a logger that does nothing (useful for testing)
type nopLogger struct{}

func (n *nopLogger) Debug(msg string)                                             {}
func (n *nopLogger) Info(msg string)                                              {}
func (n *nopLogger) Warn(msg string)                                              {}
func (n *nopLogger) Error(msg string)                                             {}
func (n *nopLogger) Fatal(msg string)                                             {}
func (n *nopLogger) WithField(key string, value interface{}) Logger               { return n }
func (n *nopLogger) WithFields(fields map[string]interface{}) Logger              { return n }
func (n *nopLogger) WithError(err error) Logger                                   { return n }
func (n *nopLogger) WithContext(ctx context.Context) Logger                       { return n }
func (n *nopLogger) DebugWithFields(msg string, fields map[string]interface{})    {}
func (n *nopLogger) InfoWithFields(msg string, fields map[string]interface{})     {}
func (n *nopLogger) WarnWithFields(msg string, fields map[string]interface{})     {}
func (n *nopLogger) ErrorWithFields(msg string, fields map[string]interface{})    {}
func (n *nopLogger) FatalWithFields(msg string, fields map[string]interface{})    {}
func (n *nopLogger) GetZerolog() *zerolog.Logger                                  { return nil }