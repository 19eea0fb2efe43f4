package config

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	portEnvVar     = "PORT"
	appNameVar     = "APP_NAME"
	folderEnvVar   = "FOLDER"
	logLevelEnvVar = "LOG_LEVEL"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetPort() string {
	port := GetEnv(portEnvVar, "8080")
	if !strings.HasPrefix(port, ":") {
		port = ":" + port
	}
	return port
}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "Session Agent")
}

func (EnvVars) GetDataFolder() string {
	return GetEnv(folderEnvVar, "./data")
}

func (EnvVars) GetLogLevel() string {
	return GetEnv(logLevelEnvVar, "info")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "DEV"
	}
	return env
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

// GetDurationEnv parses envVar with time.ParseDuration. Unset, malformed and non-positive
// values fall back to defaultValue.
func GetDurationEnv(envVar string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(envVar)
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Warn().Str("var", envVar).Str("value", raw).Dur("default", defaultValue).Msg("Ignoring invalid duration")
		return defaultValue
	}
	return d
}
