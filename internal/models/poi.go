// Wayfarer - Location-Based POI Aggregation and Narration
// Copyright 2026 Wayfarer Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wayfarerhq/wayfarer

// Package models defines the shared domain types exchanged between the
// store, the enrichment pipeline, the narration service and the API.
package models

import "time"

// POI is a deduplicated point of interest in the local store.
//
// ID is "osm:<node id>" for OSM-sourced POIs and a UUID for everything
// else (contributions, manual inserts).
type POI struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Latitude    float64           `json:"lat"`
	Longitude   float64           `json:"lon"`
	WikidataQID string            `json:"wikidata_qid,omitempty"`
	WikiTitle   string            `json:"wiki_title,omitempty"`
	WikiLang    string            `json:"wiki_lang,omitempty"`
	Summary     string            `json:"summary,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
	Source      string            `json:"source"`
	Active      bool              `json:"active"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// POIDocument is a fetched source text attached to a POI, typically a
// Wikipedia extract. Narration synthesis reads these.
type POIDocument struct {
	ID        string    `json:"id"`
	POIID     string    `json:"poi_id"`
	Lang      string    `json:"lang"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	SourceURL string    `json:"source_url,omitempty"`
	License   string    `json:"license,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

// NearbyPOI is one entry of a nearby-search response, ordered by
// distance from the query point.
type NearbyPOI struct {
	POIID     string  `json:"poi_id"`
	Name      string  `json:"name"`
	DistanceM float64 `json:"distance_m"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	WikiTitle string  `json:"wiki_title,omitempty"`
}

// NearbyResult is the full nearby-search payload, always built fresh
// from the POI store. Cached marks responses whose cell was already
// refreshed within the search TTL, so no new refresh was triggered.
type NearbyResult struct {
	Items   []NearbyPOI `json:"items"`
	Count   int         `json:"count"`
	RadiusM float64     `json:"radius_m"`
	Lang    string      `json:"lang"`
	Cached  bool        `json:"cached"`
}

// Narration is a synthesized narration for (POI, language, style).
type Narration struct {
	POIID      string    `json:"poi_id"`
	Lang       string    `json:"lang"`
	Style      string    `json:"style"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Sources    []string  `json:"sources,omitempty"`
	Cached     bool      `json:"cached"`
	CreatedAt  time.Time `json:"created_at"`
}

// Contribution statuses.
const (
	ContribPending  = "pending"
	ContribApproved = "approved"
	ContribRejected = "rejected"
)

// Contribution is a user-submitted correction or addition to a POI,
// held for review before it affects the store.
type Contribution struct {
	ID         string     `json:"id"`
	POIID      string     `json:"poi_id"`
	UserSub    string     `json:"user_sub,omitempty"`
	Kind       string     `json:"kind"`
	Body       string     `json:"body"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
}

// Usage event types recorded in the usage log.
const (
	EventNearbySearch        = "nearby_search"
	EventNarrationPlay       = "narration_play"
	EventNarrationSynthesize = "narration_synthesize"
	EventPOIView             = "poi_view"
	EventContribSubmit       = "contrib_submit"
)

// UsageEvent is one row of the append-only usage log.
type UsageEvent struct {
	ID        string    `json:"id"`
	UserSub   string    `json:"user_sub,omitempty"`
	Event     string    `json:"event"`
	POIID     string    `json:"poi_id,omitempty"`
	Lang      string    `json:"lang,omitempty"`
	Style     string    `json:"style,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AppConfig is the client-facing runtime configuration document. It is
// stored as a single JSON row and served with a short in-process cache.
type AppConfig struct {
	Flags  map[string]bool   `json:"flags"`
	Limits map[string]int    `json:"limits"`
	LLM    map[string]string `json:"llm"`
}

// DefaultAppConfig returns the document served before an operator has
// stored one.
func DefaultAppConfig() AppConfig {
	return AppConfig{
		Flags:  map[string]bool{"narration_enabled": true, "contrib_enabled": true},
		Limits: map[string]int{"nearby_max_radius_m": 5000, "nearby_max_limit": 100},
		LLM:    map[string]string{},
	}
}
