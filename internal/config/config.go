// Wayfarer - Location-Based POI Aggregation and Narration
// Copyright 2026 Wayfarer Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wayfarerhq/wayfarer

// Package config defines the Wayfarer configuration structure and the
// koanf-based loader that fills it from defaults, an optional YAML file
// and environment variables.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Cache      CacheConfig      `koanf:"cache"`
	Overpass   OverpassConfig   `koanf:"overpass"`
	Wikipedia  WikipediaConfig  `koanf:"wikipedia"`
	LLM        LLMConfig        `koanf:"llm"`
	Enrichment EnrichmentConfig `koanf:"enrichment"`
	Narration  NarrationConfig  `koanf:"narration"`
	Queue      QueueConfig      `koanf:"queue"`
	Security   SecurityConfig   `koanf:"security"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	Environment     string        `koanf:"environment"`
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"` // 0 = runtime.NumCPU()
}

// CacheConfig holds Badger cache settings.
type CacheConfig struct {
	Path         string        `koanf:"path"`
	SearchTTL    time.Duration `koanf:"search_ttl"`
	NarrationTTL time.Duration `koanf:"narration_ttl"`
	ThrottleTTL  time.Duration `koanf:"throttle_ttl"`
	InMemory     bool          `koanf:"in_memory"`
}

// OverpassConfig holds the OSM Overpass client settings.
type OverpassConfig struct {
	URL           string        `koanf:"url"`
	Timeout       time.Duration `koanf:"timeout"`
	RatePerSecond float64       `koanf:"rate_per_second"`
	UserAgent     string        `koanf:"user_agent"`
}

// WikipediaConfig holds the Wikipedia/Wikidata client settings.
type WikipediaConfig struct {
	APIBase       string        `koanf:"api_base"`    // %s replaced with language
	RESTBase      string        `koanf:"rest_base"`   // %s replaced with language
	ReverseURL    string        `koanf:"reverse_url"` // reverse geocoding endpoint
	Timeout       time.Duration `koanf:"timeout"`
	UserAgent     string        `koanf:"user_agent"`
	ReferenceLang string        `koanf:"reference_lang"`
}

// LLMConfig holds the narration model endpoint settings. An empty
// APIKey switches the narration service to its deterministic fallback.
type LLMConfig struct {
	Endpoint    string        `koanf:"endpoint"`
	APIKey      string        `koanf:"api_key"`
	Model       string        `koanf:"model"`
	Timeout     time.Duration `koanf:"timeout"`
	MaxTokens   int           `koanf:"max_tokens"`
	Temperature float64       `koanf:"temperature"`
}

// EnrichmentConfig holds the dedup/enrichment pipeline settings.
type EnrichmentConfig struct {
	DefaultRadiusM float64 `koanf:"default_radius_m"`
	MaxRadiusM     float64 `koanf:"max_radius_m"`
	MatchRadiusM   float64 `koanf:"match_radius_m"`
	MaxInserts     int     `koanf:"max_inserts"`
}

// NarrationConfig holds narration synthesis settings.
type NarrationConfig struct {
	MaxSourceChars int    `koanf:"max_source_chars"`
	DefaultStyle   string `koanf:"default_style"`
	DefaultLang    string `koanf:"default_lang"`
}

// QueueConfig holds the write-behind enrichment queue settings.
type QueueConfig struct {
	Enabled        bool          `koanf:"enabled"`
	URL            string        `koanf:"url"`
	EmbeddedServer bool          `koanf:"embedded_server"`
	StoreDir       string        `koanf:"store_dir"`
	StreamName     string        `koanf:"stream_name"`
	Topic          string        `koanf:"topic"`
	DurableName    string        `koanf:"durable_name"`
	Workers        int           `koanf:"workers"`
	RetryCount     int           `koanf:"retry_count"`
	RetryInterval  time.Duration `koanf:"retry_interval"`
	PoisonTopic    string        `koanf:"poison_topic"`
	CloseTimeout   time.Duration `koanf:"close_timeout"`
}

// SecurityConfig holds API surface protection settings.
type SecurityConfig struct {
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Addr returns the host:port the HTTP server binds to.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks configuration invariants that would otherwise fail
// at an awkward point deep in startup.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if c.Cache.Path == "" && !c.Cache.InMemory {
		return fmt.Errorf("cache.path must not be empty unless cache.in_memory is set")
	}
	if c.Enrichment.DefaultRadiusM <= 0 || c.Enrichment.DefaultRadiusM > c.Enrichment.MaxRadiusM {
		return fmt.Errorf("enrichment.default_radius_m %f must be in (0, %f]",
			c.Enrichment.DefaultRadiusM, c.Enrichment.MaxRadiusM)
	}
	if c.Enrichment.MatchRadiusM <= 0 {
		return fmt.Errorf("enrichment.match_radius_m must be positive")
	}
	if c.Enrichment.MaxInserts < 1 {
		return fmt.Errorf("enrichment.max_inserts must be at least 1")
	}
	if c.Cache.ThrottleTTL <= 0 || c.Cache.NarrationTTL <= 0 || c.Cache.SearchTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}
	if c.Narration.MaxSourceChars < 100 {
		return fmt.Errorf("narration.max_source_chars %d too small", c.Narration.MaxSourceChars)
	}
	if c.Queue.Enabled && c.Queue.Topic == "" {
		return fmt.Errorf("queue.topic must not be empty when queue is enabled")
	}
	return nil
}
