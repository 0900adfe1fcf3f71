package utils

import (
	"fmt"

	"github.com/pion/logging"
	"go.uber.org/zap"
)

// ZapLoggerFactory hands pion a scoped zap logger for each of its subsystems.
type ZapLoggerFactory struct {
	logger *zap.Logger
}

func NewZapLoggerFactory(logger *zap.Logger) *ZapLoggerFactory {
	if logger == nil {
		logger = zap.L()
	}

	return &ZapLoggerFactory{logger: logger.Named("pion")}
}

func (f *ZapLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &zapLeveledLogger{sugar: f.logger.Named(scope).Sugar()}
}

type zapLeveledLogger struct {
	sugar *zap.SugaredLogger
}

// zap has no trace level, trace output goes to debug.
func (l *zapLeveledLogger) Trace(msg string) { l.sugar.Debug(msg) }
func (l *zapLeveledLogger) Tracef(format string, args ...any) {
	l.sugar.Debug(fmt.Sprintf(format, args...))
}
func (l *zapLeveledLogger) Debug(msg string)                  { l.sugar.Debug(msg) }
func (l *zapLeveledLogger) Debugf(format string, args ...any) { l.sugar.Debugf(format, args...) }
func (l *zapLeveledLogger) Info(msg string)                   { l.sugar.Info(msg) }
func (l *zapLeveledLogger) Infof(format string, args ...any)  { l.sugar.Infof(format, args...) }
func (l *zapLeveledLogger) Warn(msg string)                   { l.sugar.Warn(msg) }
func (l *zapLeveledLogger) Warnf(format string, args ...any)  { l.sugar.Warnf(format, args...) }
func (l *zapLeveledLogger) Error(msg string)                  { l.sugar.Error(msg) }
func (l *zapLeveledLogger) Errorf(format string, args ...any) { l.sugar.Errorf(format, args...) }
