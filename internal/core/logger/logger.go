package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceName is attached to every entry.
const ServiceName = "delivery-tracker"

// Production sampling keeps fanout warnings (dropped events, slow viewers)
// from flooding the output when one delivery has many subscribers.
const (
	sampleInitial    = 100
	sampleThereafter = 50
)

var globalLogger *zap.Logger

// Init initializes the global logger.
// Development gets colored console output at debug by default; production gets
// sampled JSON with ISO8601 timestamps. An unparsable level keeps the
// environment default.
func Init(environment string, level string) error {
	config := newConfig(environment)

	if l, err := zapcore.ParseLevel(level); err == nil {
		config.Level = zap.NewAtomicLevelAt(l)
	}

	l, err := config.Build()
	if err != nil {
		return err
	}

	globalLogger = l
	return nil
}

func newConfig(environment string) zap.Config {
	var config zap.Config
	if environment == "production" {
		config = zap.NewProductionConfig()
		config.Sampling = &zap.SamplingConfig{Initial: sampleInitial, Thereafter: sampleThereafter}
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	// Several instances share one Redis relay; the instance field tells them apart.
	fields := map[string]interface{}{"service": ServiceName, "environment": environment}
	if host, err := os.Hostname(); err == nil {
		fields["instance"] = host
	}
	config.InitialFields = fields
	return config
}

// Get returns the global logger instance.
// If not initialized, it returns a no-op logger to prevent panics.
func Get() *zap.Logger {
	if globalLogger == nil {
		return zap.NewNop()
	}
	return globalLogger
}

// Named returns the global logger scoped to a component, e.g. "hub" or "relay".
func Named(component string) *zap.Logger {
	return Get().Named(component)
}

// Sync flushes any buffered log entries.
func Sync() {
	if globalLogger != nil {
		_ = globalLogger.Sync()
	}
}
