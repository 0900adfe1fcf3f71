package environment

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const (
	envFileDevelopment = ".env.development"
	envFileProduction  = ".env.production"
	defaultAPIPath     = "http://localhost:8080/api"
)

func LoadEnvironmentVariables() {
	loadConfigs()
	setDefaultEnvironmentVariables()
}

func loadConfigs() {
	envFile := envFileProduction
	if os.Getenv(AppEnv) == "development" {
		envFile = envFileDevelopment
	}

	zap.L().Info("Environment: Loading `" + envFile + "`")
	if err := godotenv.Load(envFile); err != nil {
		zap.L().Info("Environment: Could not load config", zap.String("file", envFile), zap.Error(err))
	}
}

func setDefaultEnvironmentVariables() {
	if os.Getenv(APIPath) == "" {
		zap.L().Info("Environment: Setting API_PATH", zap.String("value", defaultAPIPath))
		if err := os.Setenv(APIPath, defaultAPIPath); err != nil {
			zap.L().Panic("Error setting default value for API_PATH", zap.Error(err))
		}
	}
}

func GetAPIPath() string {
	return strings.TrimSuffix(os.Getenv(APIPath), "/")
}

// GetDuration reads a duration variable, falling back when it is unset or invalid.
func GetDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}

	duration, err := time.ParseDuration(value)
	if err != nil || duration <= 0 {
		zap.L().Warn("Environment: Invalid duration, using default",
			zap.String("key", key),
			zap.String("value", value),
			zap.Duration("default", fallback))
		return fallback
	}

	return duration
}

func GetFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}

	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		zap.L().Warn("Environment: Invalid number, using default", zap.String("key", key), zap.String("value", value))
		return fallback
	}

	return parsed
}

// IsEnabled treats "true" (any case) and "1" as set.
func IsEnabled(key string) bool {
	value := os.Getenv(key)
	return strings.EqualFold(value, "true") || value == "1"
}
