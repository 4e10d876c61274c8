// Wayfarer - Location-Based POI Aggregation and Narration
// Copyright 2026 Wayfarer Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wayfarerhq/wayfarer

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}

	if cfg.Cache.ThrottleTTL != 30*time.Second {
		t.Errorf("throttle TTL = %v, want 30s", cfg.Cache.ThrottleTTL)
	}
	if cfg.Cache.SearchTTL != 5*24*time.Hour {
		t.Errorf("search TTL = %v, want 120h", cfg.Cache.SearchTTL)
	}
	if cfg.Cache.NarrationTTL != 24*time.Hour {
		t.Errorf("narration TTL = %v, want 24h", cfg.Cache.NarrationTTL)
	}
	if cfg.Enrichment.DefaultRadiusM != 120 {
		t.Errorf("default radius = %f, want 120", cfg.Enrichment.DefaultRadiusM)
	}
	if cfg.Enrichment.MatchRadiusM != 15 {
		t.Errorf("match radius = %f, want 15", cfg.Enrichment.MatchRadiusM)
	}
	if cfg.Enrichment.MaxInserts != 50 {
		t.Errorf("max inserts = %d, want 50", cfg.Enrichment.MaxInserts)
	}
	if cfg.Narration.MaxSourceChars != 1200 {
		t.Errorf("max source chars = %d, want 1200", cfg.Narration.MaxSourceChars)
	}
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"empty db path", func(c *Config) { c.Database.Path = "" }},
		{"empty cache path", func(c *Config) { c.Cache.Path = ""; c.Cache.InMemory = false }},
		{"radius above max", func(c *Config) { c.Enrichment.DefaultRadiusM = 9999 }},
		{"zero match radius", func(c *Config) { c.Enrichment.MatchRadiusM = 0 }},
		{"zero max inserts", func(c *Config) { c.Enrichment.MaxInserts = 0 }},
		{"zero throttle ttl", func(c *Config) { c.Cache.ThrottleTTL = 0 }},
		{"tiny source chars", func(c *Config) { c.Narration.MaxSourceChars = 10 }},
		{"queue without topic", func(c *Config) { c.Queue.Enabled = true; c.Queue.Topic = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"WAYFARER_SERVER__PORT", "server.port"},
		{"WAYFARER_CACHE__SEARCH_TTL", "cache.search_ttl"},
		{"WAYFARER_LLM__API_KEY", "llm.api_key"},
		{"WAYFARER_ENRICHMENT__DEFAULT_RADIUS_M", "enrichment.default_radius_m"},
	}

	for _, tt := range tests {
		if got := envTransformFunc(tt.in); got != tt.want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoadWithKoanf_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 9000
enrichment:
  default_radius_m: 200
`
	if err := os.WriteFile(cfgFile, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv(ConfigPathEnvVar, cfgFile)
	t.Setenv("WAYFARER_SERVER__PORT", "9100")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error: %v", err)
	}

	if cfg.Server.Port != 9100 {
		t.Errorf("env should override file: port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Enrichment.DefaultRadiusM != 200 {
		t.Errorf("file should override default: radius = %f, want 200", cfg.Enrichment.DefaultRadiusM)
	}
	// Untouched values keep defaults
	if cfg.Enrichment.MaxInserts != 50 {
		t.Errorf("default max_inserts lost: %d", cfg.Enrichment.MaxInserts)
	}
}

func TestLoadWithKoanf_CORSOriginsFromEnv(t *testing.T) {
	t.Setenv("WAYFARER_SECURITY__CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error: %v", err)
	}

	if len(cfg.Security.CORSOrigins) != 2 {
		t.Fatalf("cors origins = %v, want 2 entries", cfg.Security.CORSOrigins)
	}
	if cfg.Security.CORSOrigins[0] != "https://a.example" {
		t.Errorf("first origin = %q", cfg.Security.CORSOrigins[0])
	}
}
