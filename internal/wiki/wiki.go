// Wayfarer - Location-Based POI Aggregation and Narration
// Copyright 2026 Wayfarer Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wayfarerhq/wayfarer

// Package wiki enriches POIs from Wikipedia and Wikidata: geosearch
// for candidate pages, summaries for source text, and reverse
// geocoding for picking the local language edition.
package wiki

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/goccy/go-json"

	"github.com/wayfarerhq/wayfarer/internal/config"
	"github.com/wayfarerhq/wayfarer/internal/geo"
	"github.com/wayfarerhq/wayfarer/internal/logging"
	"github.com/wayfarerhq/wayfarer/internal/match"
	"github.com/wayfarerhq/wayfarer/internal/upstream"
)

// geosearchRadiusM is the page candidate radius around a POI. Wide
// enough to catch pages whose coordinates sit on the other side of a
// large building.
const geosearchRadiusM = 250

// PageSummary is the enrichment payload extracted from one Wikipedia page.
type PageSummary struct {
	Title      string
	Lang       string
	Extract    string
	QID        string
	ContentURL string
	License    string
}

// Client talks to the Wikipedia action API, the REST summary API and
// the reverse geocoder.
type Client struct {
	apiBase    string
	restBase   string
	reverseURL string
	refLang    string
	caller     *upstream.Caller
}

// NewClient creates a Wikipedia client from configuration.
func NewClient(cfg config.WikipediaConfig) *Client {
	return &Client{
		apiBase:    cfg.APIBase,
		restBase:   cfg.RESTBase,
		reverseURL: cfg.ReverseURL,
		refLang:    cfg.ReferenceLang,
		caller: upstream.New(upstream.Options{
			Name:      "wikipedia",
			Timeout:   cfg.Timeout,
			UserAgent: cfg.UserAgent,
		}),
	}
}

// ReferenceLang returns the language edition used as the dedup
// reference for wiki titles.
func (c *Client) ReferenceLang() string {
	return c.refLang
}

// geosearchResponse mirrors the action API geosearch output.
type geosearchResponse struct {
	Query struct {
		Geosearch []struct {
			Title string  `json:"title"`
			Lat   float64 `json:"lat"`
			Lon   float64 `json:"lon"`
			Dist  float64 `json:"dist"`
		} `json:"geosearch"`
	} `json:"query"`
}

// FindRelevantTitle returns the title of the Wikipedia page in lang
// that plausibly describes the named POI near the given point, or ""
// when no candidate passes the relevance gate. A candidate is relevant
// when either name contains the other or their similarity reaches the
// dedup threshold; the nearest relevant page wins.
func (c *Client) FindRelevantTitle(ctx context.Context, lang, poiName string, lat, lon float64) (string, error) {
	params := url.Values{
		"action":   {"query"},
		"list":     {"geosearch"},
		"gscoord":  {fmt.Sprintf("%f|%f", lat, lon)},
		"gsradius": {fmt.Sprintf("%d", geosearchRadiusM)},
		"gslimit":  {"10"},
		"format":   {"json"},
	}

	endpoint := fmt.Sprintf(c.apiBase, lang) + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build geosearch request: %w", err)
	}

	body, err := c.caller.Do(ctx, req)
	if err != nil {
		return "", err
	}

	var parsed geosearchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode geosearch response: %w", err)
	}

	for _, page := range parsed.Query.Geosearch {
		if match.Similar(poiName, page.Title, match.DedupThreshold) {
			return page.Title, nil
		}
	}

	return "", nil
}

// summaryResponse mirrors the REST summary output.
type summaryResponse struct {
	Title        string `json:"title"`
	Extract      string `json:"extract"`
	WikibaseItem string `json:"wikibase_item"`
	ContentURLs  struct {
		Desktop struct {
			Page string `json:"page"`
		} `json:"desktop"`
	} `json:"content_urls"`
}

// Summary fetches the page summary for a title in the given language
// edition. Returns upstream.ErrUnavailable on provider failure.
func (c *Client) Summary(ctx context.Context, lang, title string) (*PageSummary, error) {
	endpoint := fmt.Sprintf(c.restBase, lang) + "/page/summary/" + url.PathEscape(title)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build summary request: %w", err)
	}

	body, err := c.caller.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	var parsed summaryResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode summary response: %w", err)
	}

	return &PageSummary{
		Title:      parsed.Title,
		Lang:       lang,
		Extract:    parsed.Extract,
		QID:        parsed.WikibaseItem,
		ContentURL: parsed.ContentURLs.Desktop.Page,
		License:    "CC BY-SA 4.0",
	}, nil
}

// reverseResponse mirrors the Nominatim reverse geocoding output.
type reverseResponse struct {
	Address struct {
		CountryCode string `json:"country_code"`
	} `json:"address"`
}

// LangForPoint resolves the Wikipedia language edition for a point by
// reverse geocoding its country. Failures fall back to the reference
// language; language choice is never worth failing an enrichment for.
func (c *Client) LangForPoint(ctx context.Context, lat, lon float64) string {
	params := url.Values{
		"lat":    {fmt.Sprintf("%f", lat)},
		"lon":    {fmt.Sprintf("%f", lon)},
		"format": {"jsonv2"},
		"zoom":   {"3"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.reverseURL+"?"+params.Encode(), nil)
	if err != nil {
		return geo.LangForCountry("")
	}

	body, err := c.caller.Do(ctx, req)
	if err != nil {
		logging.Debug().Err(err).Msg("Reverse geocoding failed, using default language")
		return geo.LangForCountry("")
	}

	var parsed reverseResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return geo.LangForCountry("")
	}

	return geo.LangForCountry(parsed.Address.CountryCode)
}
