package environment

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// SetupLogger installs the process wide zap logger and routes the standard
// library logger into it. The returned function flushes buffered entries.
func SetupLogger() func() {
	logger, err := NewLogger(os.Getenv(AppEnv), os.Getenv(LoggingLevel), os.Getenv(LoggingFormat))
	if err != nil {
		logger = zap.NewExample()
		logger.Warn("Environment: Falling back to example logger", zap.Error(err))
	}

	restoreGlobals := zap.ReplaceGlobals(logger)
	restoreStdLog := zap.RedirectStdLog(logger)

	return func() {
		_ = logger.Sync()
		restoreStdLog()
		restoreGlobals()
	}
}

func NewLogger(appEnv, level, format string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if appEnv == "development" {
		config = zap.NewDevelopmentConfig()
	}

	if level != "" {
		parsedLevel, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		config.Level = zap.NewAtomicLevelAt(parsedLevel)
	}

	switch strings.ToLower(format) {
	case "json":
		config.Encoding = "json"
	case "console", "text":
		config.Encoding = "console"
	}

	return config.Build()
}
