package config

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// ParseLogLevel maps a log_level setting to a slog level.
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log-level must be one of debug, info, warn or error, got: %s", level)
	}
}

// Log logs the resolved settings in a granular way, skipping irrelevant ones
func Log(s *Settings) {
	LogWithLogger(s, slog.Default())
}

// LogWithLogger logs the resolved settings using the provided logger
func LogWithLogger(s *Settings, logger *slog.Logger) {
	ctx := context.Background()
	logger.InfoContext(ctx, "Config: workspace", "value", s.Workspace)
	logger.InfoContext(ctx, "Config: filters_dir", "value", s.FiltersDir)
	logger.InfoContext(ctx, "Config: export_dir", "value", s.ExportDir)
	logger.InfoContext(ctx, "Config: log_level", "value", s.LogLevel)

	if len(s.Kafka.Brokers) > 0 {
		logger.InfoContext(ctx, "Config: kafka.brokers", "value", s.Kafka.Brokers)
		logger.InfoContext(ctx, "Config: kafka.topics", "value", s.Kafka.Topics)
	}
	logger.InfoContext(ctx, "Config: consumer", "buffer_capacity", s.Consumer.BufferCapacity, "timeout_in_ms", s.Consumer.TimeoutInMs)
	logger.InfoContext(ctx, "Config: search", "sort_interval", s.Search.SortInterval, "filter_timeout", s.Search.FilterTimeout, "max_results", s.Search.MaxResults)

	logger.InfoContext(ctx, "Config: transport", "value", s.Transport)
	if s.Transport == TransportSSE {
		logger.InfoContext(ctx, "Config: host", "value", s.Host)
		logger.InfoContext(ctx, "Config: port", "value", s.Port)
	}

	logger.InfoContext(ctx, "Config: auth.type", "value", s.Auth.Type)
	switch s.Auth.Type {
	case AuthTypeBasic:
		logger.InfoContext(ctx, "Config: auth.basic.username", "value", s.Auth.Basic.Username)
		if s.Auth.Basic.PasswordHash != "" {
			logger.InfoContext(ctx, "Config: auth.basic.password_hash", "value", "****")
		} else {
			logger.InfoContext(ctx, "Config: auth.basic.password", "value", "****")
		}
	case AuthTypeAPIKey:
		logger.InfoContext(ctx, "Config: auth.api_keys", "count", len(s.Auth.APIKeys))
	}
}

// AuthSettingsLogValue returns a slog.Value for AuthSettings with masked data
func AuthSettingsLogValue(s AuthSettings) slog.Value {
	keys := make([]string, len(s.APIKeys))
	for i := range s.APIKeys {
		keys[i] = "****"
	}
	return slog.GroupValue(
		slog.String("type", s.Type),
		slog.Any("basic", BasicAuthSettingsLogValue(s.Basic)),
		slog.Any("api_keys", keys),
	)
}

// BasicAuthSettingsLogValue returns a slog.Value for BasicAuthSettings with masked data
func BasicAuthSettingsLogValue(s BasicAuthSettings) slog.Value {
	return slog.GroupValue(
		slog.String("username", s.Username),
		slog.String("password", "****"),
		slog.String("password_hash", "****"),
	)
}

// SettingsLogValue returns a slog.Value for Settings with masked data
func SettingsLogValue(s Settings) slog.Value {
	return slog.GroupValue(
		slog.String("workspace", s.Workspace),
		slog.Any("kafka_brokers", s.Kafka.Brokers),
		slog.Any("kafka_topics", s.Kafka.Topics),
		slog.String("transport", s.Transport),
		slog.String("host", s.Host),
		slog.Int("port", s.Port),
		slog.Any("auth", AuthSettingsLogValue(s.Auth)),
	)
}
