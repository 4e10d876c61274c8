// Wayfarer - Location-Based POI Aggregation and Narration
// Copyright 2026 Wayfarer Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wayfarerhq/wayfarer

// Package osm fetches raw points of interest from the OpenStreetMap
// Overpass API.
package osm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"github.com/wayfarerhq/wayfarer/internal/config"
	"github.com/wayfarerhq/wayfarer/internal/logging"
	"github.com/wayfarerhq/wayfarer/internal/upstream"
)

// RawPOI is one named OSM node returned by Overpass, before dedup.
type RawPOI struct {
	OSMID     int64
	Name      string
	Latitude  float64
	Longitude float64
	Tags      map[string]string
}

// ID returns the store id for this node.
func (r *RawPOI) ID() string {
	return fmt.Sprintf("osm:%d", r.OSMID)
}

// Client queries the Overpass API.
type Client struct {
	url    string
	caller *upstream.Caller
}

// NewClient creates an Overpass client from configuration.
func NewClient(cfg config.OverpassConfig) *Client {
	return &Client{
		url: cfg.URL,
		caller: upstream.New(upstream.Options{
			Name:          "overpass",
			Timeout:       cfg.Timeout,
			RatePerSecond: cfg.RatePerSecond,
			UserAgent:     cfg.UserAgent,
		}),
	}
}

// overpassResponse mirrors the Overpass JSON output.
type overpassResponse struct {
	Elements []struct {
		Type string            `json:"type"`
		ID   int64             `json:"id"`
		Lat  float64           `json:"lat"`
		Lon  float64           `json:"lon"`
		Tags map[string]string `json:"tags"`
	} `json:"elements"`
}

// FetchNearby returns the named nodes within radiusM meters of the
// point. Unnamed nodes are dropped; they cannot be deduplicated or
// narrated.
func (c *Client) FetchNearby(ctx context.Context, lat, lon, radiusM float64) ([]RawPOI, error) {
	query := fmt.Sprintf(
		`[out:json][timeout:25];node(around:%.0f,%.6f,%.6f)["name"];out body;`,
		radiusM, lat, lon)

	form := url.Values{"data": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build overpass request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.caller.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	var parsed overpassResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode overpass response: %w", err)
	}

	pois := make([]RawPOI, 0, len(parsed.Elements))
	for _, el := range parsed.Elements {
		if el.Type != "node" {
			continue
		}
		name := strings.TrimSpace(el.Tags["name"])
		if name == "" {
			continue
		}
		pois = append(pois, RawPOI{
			OSMID:     el.ID,
			Name:      name,
			Latitude:  el.Lat,
			Longitude: el.Lon,
			Tags:      el.Tags,
		})
	}

	logging.Debug().
		Float64("lat", lat).Float64("lon", lon).Float64("radius_m", radiusM).
		Int("count", len(pois)).
		Msg("Overpass fetch complete")

	return pois, nil
}
