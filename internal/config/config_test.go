// Livehall - Multi-Tenant Live Event Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livehall

package config

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"session ttl", cfg.Session.TTL, 5 * time.Minute},
		{"presence window", cfg.Presence.Window, 600 * time.Second},
		{"writeback interval", cfg.Presence.WritebackInterval, 60 * time.Second},
		{"max length", cfg.Messages.MaxLength, 200},
		{"throttle window", cfg.Messages.ThrottleWindow, 3 * time.Second},
		{"duplicate window", cfg.Messages.DuplicateWindow, 20 * time.Second},
		{"duplicate threshold", cfg.Messages.DuplicateThreshold, int64(500)},
		{"chat ring", cfg.Chat.RecentMax, 100},
		{"snapshot interval", cfg.Snapshot.Interval, 5 * time.Second},
		{"snapshot cache ttl", cfg.Snapshot.CacheTTL, 5 * time.Second},
		{"session db", cfg.Redis.SessionDB, 0},
		{"telemetry db", cfg.Redis.TelemetryDB, 1},
		{"presence db", cfg.Redis.PresenceDB, 2},
		{"cache db", cfg.Redis.CacheDB, 3},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestValidateCrossFieldRules(t *testing.T) {
	t.Run("bucket larger than window", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.Snapshot.ChartBucket = 2 * time.Hour
		if err := cfg.Validate(); err == nil {
			t.Error("expected validation error for bucket > window")
		}
	})

	t.Run("writeback longer than presence window", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.Presence.WritebackInterval = time.Hour
		if err := cfg.Validate(); err == nil {
			t.Error("expected validation error for writeback > window")
		}
	})

	t.Run("bad log level", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.Logging.Level = "verbose"
		if err := cfg.Validate(); err == nil {
			t.Error("expected validation error for unknown log level")
		}
	})
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"HTTP_PORT", "server.port"},
		{"REDIS_ADDR", "redis.addr"},
		{"SESSION_TTL", "session.ttl"},
		{"MESSAGE_DUPLICATE_THRESHOLD", "messages.duplicate_threshold"},
		{"SNAPSHOT_INTERVAL", "snapshot.interval"},
		{"PATH", ""},
		{"RANDOM_VARIABLE", ""},
	}
	for _, tt := range tests {
		if got := envTransformFunc(tt.in); got != tt.want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoadWithEnvOverride(t *testing.T) {
	t.Setenv("HTTP_PORT", "9999")
	t.Setenv("MESSAGE_MAX_LENGTH", "300")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Messages.MaxLength != 300 {
		t.Errorf("max length = %d, want 300", cfg.Messages.MaxLength)
	}
}
