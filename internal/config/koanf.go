// Livehall - Multi-Tenant Live Event Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livehall

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/livehall/config.yaml",
	"/etc/livehall/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load builds the configuration from three layers with ENV > file > defaults
// precedence, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are parsed from comma-separated env strings.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf paths. Unmapped
// variables are skipped so random env vars cannot pollute the config.
func envTransformFunc(key string) string {
	envMappings := map[string]string{
		"http_host":                   "server.host",
		"http_port":                   "server.port",
		"http_timeout":                "server.timeout",
		"cors_origins":                "server.cors_origins",
		"ping_rate_limit":             "server.ping_rate_limit",
		"database_dsn":                "database.dsn",
		"database_max_conns":          "database.max_conns",
		"database_timeout":            "database.timeout",
		"redis_addr":                  "redis.addr",
		"redis_password":              "redis.password",
		"redis_session_db":            "redis.session_db",
		"redis_telemetry_db":          "redis.telemetry_db",
		"redis_presence_db":           "redis.presence_db",
		"redis_cache_db":              "redis.cache_db",
		"redis_dial_timeout":          "redis.dial_timeout",
		"redis_read_timeout":          "redis.read_timeout",
		"session_ttl":                 "session.ttl",
		"session_cookie_name":         "session.cookie_name",
		"presence_window":             "presence.window",
		"presence_writeback_interval": "presence.writeback_interval",
		"message_max_length":          "messages.max_length",
		"message_throttle_window":     "messages.throttle_window",
		"message_duplicate_window":    "messages.duplicate_window",
		"message_duplicate_threshold": "messages.duplicate_threshold",
		"chat_recent_max":             "chat.recent_max",
		"snapshot_interval":           "snapshot.interval",
		"snapshot_cache_ttl":          "snapshot.cache_ttl",
		"snapshot_chart_window":       "snapshot.chart_window",
		"snapshot_chart_bucket":       "snapshot.chart_bucket",
		"telemetry_enabled":           "telemetry.enabled",
		"telemetry_interval":          "telemetry.interval",
		"telemetry_retention_hours":   "telemetry.retention_hours",
		"log_level":                   "logging.level",
		"log_format":                  "logging.format",
	}

	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
