// Wayfarer - Location-Based POI Aggregation and Narration
// Copyright 2026 Wayfarer Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wayfarerhq/wayfarer

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/wayfarer/config.yaml",
	"/etc/wayfarer/config.yml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all default values. These
// are applied first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8460,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			Environment:     "development",
		},
		Database: DatabaseConfig{
			Path:      "/data/wayfarer.duckdb",
			MaxMemory: "1GB",
			Threads:   0, // 0 = use runtime.NumCPU()
		},
		Cache: CacheConfig{
			Path:         "/data/cache",
			SearchTTL:    5 * 24 * time.Hour,
			NarrationTTL: 24 * time.Hour,
			ThrottleTTL:  30 * time.Second,
			InMemory:     false,
		},
		Overpass: OverpassConfig{
			URL:           "https://overpass-api.de/api/interpreter",
			Timeout:       30 * time.Second,
			RatePerSecond: 1.0, // Overpass etiquette
			UserAgent:     "wayfarer/1.0",
		},
		Wikipedia: WikipediaConfig{
			APIBase:       "https://%s.wikipedia.org/w/api.php",
			RESTBase:      "https://%s.wikipedia.org/api/rest_v1",
			ReverseURL:    "https://nominatim.openstreetmap.org/reverse",
			Timeout:       15 * time.Second,
			UserAgent:     "wayfarer/1.0",
			ReferenceLang: "en",
		},
		LLM: LLMConfig{
			Endpoint:    "https://api.openai.com/v1/chat/completions",
			APIKey:      "", // empty = deterministic fallback
			Model:       "gpt-4o-mini",
			Timeout:     45 * time.Second,
			MaxTokens:   350,
			Temperature: 0.7,
		},
		Enrichment: EnrichmentConfig{
			DefaultRadiusM: 120,
			MaxRadiusM:     5000,
			MatchRadiusM:   15,
			MaxInserts:     50,
		},
		Narration: NarrationConfig{
			MaxSourceChars: 1200,
			DefaultStyle:   "guide",
			DefaultLang:    "en",
		},
		Queue: QueueConfig{
			Enabled:        true,
			URL:            "nats://127.0.0.1:4222",
			EmbeddedServer: true,
			StoreDir:       "/data/nats/jetstream",
			StreamName:     "ENRICH",
			Topic:          "enrich.requested",
			DurableName:    "enrich-worker",
			Workers:        2,
			RetryCount:     3,
			RetryInterval:  100 * time.Millisecond,
			PoisonTopic:    "enrich.poison",
			CloseTimeout:   30 * time.Second,
		},
		Security: SecurityConfig{
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: 1 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in values
//  2. Config file: optional YAML file (if exists)
//  3. Environment variables: override any setting
//
// Precedence: ENV > File > Defaults.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file (optional)
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	// WAYFARER_SERVER__PORT -> server.port
	envProvider := env.Provider("WAYFARER_", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Comma-separated env values for slice fields
	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the first file found, or empty string.
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

// sliceConfigPaths defines which config paths are parsed as
// comma-separated slices when coming from the environment.
var sliceConfigPaths = []string{
	"security.cors_origins",
}

// processSliceFields converts comma-separated strings to slices for
// known slice fields. Env vars arrive as strings, the config expects
// slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// Already a slice (from YAML file)
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		if strVal, ok := val.(string); ok {
			if strVal == "" {
				continue
			}
			parts := strings.Split(strVal, ",")
			trimmed := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					trimmed = append(trimmed, p)
				}
			}
			if len(trimmed) > 0 {
				if err := k.Set(path, trimmed); err != nil {
					return fmt.Errorf("failed to set %s: %w", path, err)
				}
			}
		}
	}
	return nil
}

// envTransformFunc maps WAYFARER_-prefixed environment variable names
// to koanf config paths. Double underscore separates nesting levels so
// single underscores survive inside key names:
//
//	WAYFARER_SERVER__PORT            -> server.port
//	WAYFARER_CACHE__SEARCH_TTL       -> cache.search_ttl
//	WAYFARER_LLM__API_KEY            -> llm.api_key
//	WAYFARER_SECURITY__CORS_ORIGINS  -> security.cors_origins
func envTransformFunc(key string) string {
	key = strings.TrimPrefix(key, "WAYFARER_")
	key = strings.ToLower(key)
	return strings.ReplaceAll(key, "__", ".")
}
