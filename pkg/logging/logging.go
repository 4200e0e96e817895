// Package logging builds the shared zap logger. Every process in the pipeline
// logs JSON to stdout so the collector treats them uniformly.
package logging

import (
	"github.com/stratocost/pricefeed/pkg/utils"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a logger configured from LOG_LEVEL and LOG_ENCODING. The debug
// level switches on development mode (stack traces on warnings).
func New() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = utils.Env("LOG_ENCODING", "json")
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(utils.Env("LOG_LEVEL", "debug")))
	cfg.Development = cfg.Level.Level() == zap.DebugLevel

	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zap.DebugLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}
