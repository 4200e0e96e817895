package temporal

import (
	"go.uber.org/zap"

	"go.temporal.io/sdk/log"
)

// zapAdapter bridges Temporal's keyval logger to zap. The SDK logs are noisy
// at Debug during polling, so those pass through at the zap Debug level and
// stay out of production output.
type zapAdapter struct {
	sugar *zap.SugaredLogger
}

// NewZapAdapter wraps a zap logger for use as the Temporal SDK logger.
func NewZapAdapter(logger *zap.Logger) log.Logger {
	// Sugared to forward the SDK's keyval pairs as-is
	return &zapAdapter{sugar: logger.Sugar()}
}

func (z *zapAdapter) Debug(msg string, keyvals ...interface{}) { z.sugar.Debugw(msg, keyvals...) }
func (z *zapAdapter) Info(msg string, keyvals ...interface{})  { z.sugar.Infow(msg, keyvals...) }
func (z *zapAdapter) Warn(msg string, keyvals ...interface{})  { z.sugar.Warnw(msg, keyvals...) }
func (z *zapAdapter) Error(msg string, keyvals ...interface{}) { z.sugar.Errorw(msg, keyvals...) }
