// Package observability provides logging and metrics for the game hub.
package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cory-johannsen/gamehub/internal/config"
)

// ServiceName is attached to every log entry as the "service" field.
const ServiceName = "gamehub"

// NewLogger creates a structured logger from the given logging configuration.
// Extra options are applied after the service field.
//
// Precondition: cfg.Level must be one of "debug", "info", "warn", "error".
// Precondition: cfg.Format must be "json" or "console".
// Postcondition: Returns a configured zap.Logger or a non-nil error.
func NewLogger(cfg config.LoggingConfig, opts ...zap.Option) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
	}

	var zapCfg zap.Config
	switch cfg.Format {
	case "json":
		zapCfg = zap.NewProductionConfig()
	case "console":
		zapCfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.InitialFields = map[string]interface{}{"service": ServiceName}

	logger, err := zapCfg.Build(opts...)
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}

// RedirectStdLog routes the standard library logger, used by net/http for
// connection-level errors, into logger at warn level.
//
// Postcondition: The returned func restores the previous standard logger output.
func RedirectStdLog(logger *zap.Logger) (func(), error) {
	restore, err := zap.RedirectStdLogAt(logger.Named("stdlog"), zapcore.WarnLevel)
	if err != nil {
		return nil, fmt.Errorf("redirecting std log: %w", err)
	}
	return restore, nil
}
