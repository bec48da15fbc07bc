// Package config loads techshelf settings from ~/.techshelf and the
// environment.
package config

import (
	"os"
	"strconv"
)

// Environment variables overriding the config file
const (
	EnvAPIBaseURL      = "TECHSHELF_API_BASE_URL"
	EnvMediaBaseURL    = "TECHSHELF_MEDIA_BASE_URL"
	EnvAPITimeout      = "TECHSHELF_API_TIMEOUT_SECONDS"
	EnvRetryAttempts   = "TECHSHELF_RETRY_ATTEMPTS"
	EnvCoalesceRefresh = "TECHSHELF_COALESCE_REFRESH"
	EnvStorageDriver   = "TECHSHELF_STORAGE_DRIVER"
	EnvStoragePath     = "TECHSHELF_STORAGE_PATH"
	EnvDebounceMS      = "TECHSHELF_CART_DEBOUNCE_MS"
	EnvGuestCartKey    = "TECHSHELF_GUEST_CART_KEY"
	EnvDaemonPort      = "TECHSHELF_PORT"
	EnvDaemonBind      = "TECHSHELF_BIND"
	EnvLogLevel        = "TECHSHELF_LOG_LEVEL"
	EnvRabbitMQURL     = "TECHSHELF_RABBITMQ_URL"
	EnvEventsQueue     = "TECHSHELF_EVENTS_QUEUE"
)

// applyEnv overlays environment variables onto cfg. Unset or unparsable
// values keep what the file or the defaults set.
func applyEnv(cfg *LocalConfig) {
	cfg.API.BaseURL = getEnv(EnvAPIBaseURL, cfg.API.BaseURL)
	cfg.API.MediaBaseURL = getEnv(EnvMediaBaseURL, cfg.API.MediaBaseURL)
	cfg.API.TimeoutSeconds = getEnvInt(EnvAPITimeout, cfg.API.TimeoutSeconds)
	cfg.API.RetryAttempts = getEnvInt(EnvRetryAttempts, cfg.API.RetryAttempts)
	cfg.API.CoalesceRefresh = getEnvBool(EnvCoalesceRefresh, cfg.API.CoalesceRefresh)

	cfg.Storage.Driver = getEnv(EnvStorageDriver, cfg.Storage.Driver)
	cfg.Storage.Path = getEnv(EnvStoragePath, cfg.Storage.Path)

	cfg.Cart.DebounceMS = getEnvInt(EnvDebounceMS, cfg.Cart.DebounceMS)
	cfg.Cart.GuestCartKey = getEnv(EnvGuestCartKey, cfg.Cart.GuestCartKey)

	cfg.Daemon.Port = getEnvInt(EnvDaemonPort, cfg.Daemon.Port)
	cfg.Daemon.Bind = getEnv(EnvDaemonBind, cfg.Daemon.Bind)
	cfg.Daemon.LogLevel = getEnv(EnvLogLevel, cfg.Daemon.LogLevel)

	cfg.Events.RabbitMQURL = getEnv(EnvRabbitMQURL, cfg.Events.RabbitMQURL)
	cfg.Events.Queue = getEnv(EnvEventsQueue, cfg.Events.Queue)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
