// Wayfarer - Location-Based POI Aggregation and Narration
// Copyright 2026 Wayfarer Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wayfarerhq/wayfarer

// Package enrichment implements the POI write path: fetch raw nodes
// from OpenStreetMap, deduplicate them against the store, attach
// Wikipedia context and retire POIs that disappeared upstream.
package enrichment

import (
	"context"
	"strings"
	"time"

	"github.com/wayfarerhq/wayfarer/internal/config"
	"github.com/wayfarerhq/wayfarer/internal/database"
	"github.com/wayfarerhq/wayfarer/internal/geo"
	"github.com/wayfarerhq/wayfarer/internal/kvcache"
	"github.com/wayfarerhq/wayfarer/internal/logging"
	"github.com/wayfarerhq/wayfarer/internal/metrics"
	"github.com/wayfarerhq/wayfarer/internal/models"
	"github.com/wayfarerhq/wayfarer/internal/osm"
	"github.com/wayfarerhq/wayfarer/internal/wiki"
)

// OSMFetcher fetches raw POIs around a point.
type OSMFetcher interface {
	FetchNearby(ctx context.Context, lat, lon, radiusM float64) ([]osm.RawPOI, error)
}

// WikiEnricher resolves Wikipedia context for POIs.
type WikiEnricher interface {
	FindRelevantTitle(ctx context.Context, lang, poiName string, lat, lon float64) (string, error)
	Summary(ctx context.Context, lang, title string) (*wiki.PageSummary, error)
	LangForPoint(ctx context.Context, lat, lon float64) string
	ReferenceLang() string
}

// Pipeline runs cell enrichment.
type Pipeline struct {
	db    *database.DB
	cache *kvcache.Store
	osm   OSMFetcher
	wiki  WikiEnricher

	matchRadiusM float64
	maxInserts   int
}

// NewPipeline wires the enrichment pipeline.
func NewPipeline(db *database.DB, cache *kvcache.Store, osmClient OSMFetcher, wikiClient WikiEnricher, cfg config.EnrichmentConfig) *Pipeline {
	return &Pipeline{
		db:           db,
		cache:        cache,
		osm:          osmClient,
		wiki:         wikiClient,
		matchRadiusM: cfg.MatchRadiusM,
		maxInserts:   cfg.MaxInserts,
	}
}

// EnrichCell refreshes the POIs of one cell. The throttle admits at
// most one refresh per (cell, radius bucket) per TTL window; throttled
// calls return immediately with Throttled status. An upstream failure
// leaves the throttle entry in place, so the cell is retried in the
// next window rather than hammering a failing provider.
func (p *Pipeline) EnrichCell(ctx context.Context, lat, lon, radiusM float64, lang string) (*CellResult, error) {
	start := time.Now()

	acquired, err := p.cache.Acquire(geo.CellKey(lat, lon, radiusM))
	if err != nil {
		return nil, err
	}
	if !acquired {
		metrics.EnrichCellsTotal.WithLabelValues("throttled").Inc()
		return &CellResult{Throttled: true}, nil
	}

	raws, err := p.osm.FetchNearby(ctx, lat, lon, radiusM)
	if err != nil {
		metrics.EnrichCellsTotal.WithLabelValues("upstream_error").Inc()
		return nil, err
	}

	if lang == "" {
		lang = p.wiki.LangForPoint(ctx, lat, lon)
	}

	result := &CellResult{}
	seenIDs := make([]string, 0, len(raws))

	for i := range raws {
		raw := &raws[i]
		poi, existed, err := p.resolvePOI(ctx, raw)
		if err != nil {
			logging.Warn().Err(err).Str("name", raw.Name).Msg("POI dedup lookup failed")
			continue
		}

		if !existed && result.Inserted >= p.maxInserts {
			// Insert budget spent; leave the rest for the next refresh.
			continue
		}

		if poi.Summary == "" {
			p.enrichFromWiki(ctx, poi, lang)
		}

		inserted, err := p.db.UpsertPOI(ctx, poi)
		if err != nil {
			logging.Warn().Err(err).Str("poi_id", poi.ID).Msg("POI upsert failed")
			continue
		}
		if inserted {
			result.Inserted++
			metrics.EnrichPOIsTotal.WithLabelValues("inserted").Inc()
		} else {
			result.Updated++
			metrics.EnrichPOIsTotal.WithLabelValues("updated").Inc()
		}
		seenIDs = append(seenIDs, poi.ID)
	}

	// Retire active POIs inside this cell that upstream no longer has.
	// Nothing outside the refreshed radius is touched.
	deactivated, err := p.db.DeactivatePOIsExcept(ctx, seenIDs, lat, lon, radiusM)
	if err != nil {
		logging.Warn().Err(err).Msg("POI deactivation failed")
	} else {
		result.Deactivated = int(deactivated)
		for i := int64(0); i < deactivated; i++ {
			metrics.EnrichPOIsTotal.WithLabelValues("deactivated").Inc()
		}
	}

	metrics.EnrichCellsTotal.WithLabelValues("enriched").Inc()
	metrics.EnrichDuration.Observe(time.Since(start).Seconds())

	logging.Info().
		Float64("lat", lat).Float64("lon", lon).Float64("radius_m", radiusM).
		Int("inserted", result.Inserted).Int("updated", result.Updated).
		Int("deactivated", result.Deactivated).
		Dur("took", time.Since(start)).
		Msg("Cell enriched")

	return result, nil
}

// CellResult summarizes one cell refresh.
type CellResult struct {
	Throttled   bool
	Inserted    int
	Updated     int
	Deactivated int
}

// resolvePOI maps a raw OSM node onto a stored POI, in dedup key
// priority order: Wikidata QID, then wiki title, then exact normalized
// name within the match radius. When no key matches, a fresh POI is
// built. Two nodes for the same place with different names and no
// shared wiki identity still produce two POIs; the nearby name
// collapse hides most of those from responses.
func (p *Pipeline) resolvePOI(ctx context.Context, raw *osm.RawPOI) (*models.POI, bool, error) {
	qid := raw.Tags["wikidata"]
	wikiLang, wikiTitle := parseWikipediaTag(raw.Tags["wikipedia"])
	if wikiLang == "" {
		wikiLang = p.wiki.ReferenceLang()
	}

	existing, err := p.db.FindByWikidataQID(ctx, qid)
	if err != nil {
		return nil, false, err
	}
	if existing == nil && wikiTitle != "" {
		existing, err = p.db.FindByWikiTitle(ctx, wikiLang, wikiTitle)
		if err != nil {
			return nil, false, err
		}
	}
	if existing == nil {
		existing, err = p.db.FindByNameNear(ctx, raw.Name, raw.Latitude, raw.Longitude, p.matchRadiusM)
		if err != nil {
			return nil, false, err
		}
	}

	if existing != nil {
		// Refresh upstream-owned fields, keep enrichment we already have.
		existing.Name = raw.Name
		existing.Latitude = raw.Latitude
		existing.Longitude = raw.Longitude
		existing.Tags = raw.Tags
		existing.Active = true
		if existing.WikidataQID == "" {
			existing.WikidataQID = qid
		}
		if existing.WikiTitle == "" && wikiTitle != "" {
			existing.WikiTitle = wikiTitle
			existing.WikiLang = wikiLang
		}
		return existing, true, nil
	}

	poi := &models.POI{
		ID:          raw.ID(),
		Name:        raw.Name,
		Latitude:    raw.Latitude,
		Longitude:   raw.Longitude,
		WikidataQID: qid,
		Tags:        raw.Tags,
		Source:      "osm",
		Active:      true,
	}
	if wikiTitle != "" {
		poi.WikiTitle = wikiTitle
		poi.WikiLang = wikiLang
	}
	return poi, false, nil
}

// enrichFromWiki attaches Wikipedia context to a POI in place. Failures
// are logged and skipped; a POI without a summary is still a POI.
func (p *Pipeline) enrichFromWiki(ctx context.Context, poi *models.POI, lang string) {
	title := poi.WikiTitle
	titleLang := poi.WikiLang
	if title == "" {
		found, err := p.wiki.FindRelevantTitle(ctx, lang, poi.Name, poi.Latitude, poi.Longitude)
		if err != nil || found == "" {
			if err != nil {
				logging.Debug().Err(err).Str("poi_id", poi.ID).Msg("Wiki title search failed")
			}
			return
		}
		title = found
		titleLang = lang
	}

	summary, err := p.wiki.Summary(ctx, titleLang, title)
	if err != nil || summary == nil {
		logging.Debug().Err(err).Str("poi_id", poi.ID).Str("title", title).Msg("Wiki summary fetch failed")
		return
	}

	poi.WikiTitle = summary.Title
	poi.WikiLang = summary.Lang
	poi.Summary = summary.Extract
	if poi.WikidataQID == "" {
		poi.WikidataQID = summary.QID
	}

	if summary.Extract != "" {
		doc := &models.POIDocument{
			POIID:     poi.ID,
			Lang:      summary.Lang,
			Title:     summary.Title,
			Text:      summary.Extract,
			SourceURL: summary.ContentURL,
			License:   summary.License,
		}
		if err := p.db.InsertDocument(ctx, doc); err != nil {
			logging.Warn().Err(err).Str("poi_id", poi.ID).Msg("Failed to store wiki document")
		}
	}
}

// HydratePOI force-refreshes the Wikipedia context of one stored POI,
// bypassing the cell throttle. Used by the hydrate endpoint.
func (p *Pipeline) HydratePOI(ctx context.Context, poiID, lang string) (*models.POI, error) {
	poi, err := p.db.GetPOI(ctx, poiID)
	if err != nil {
		return nil, err
	}

	if lang == "" {
		lang = p.wiki.LangForPoint(ctx, poi.Latitude, poi.Longitude)
	}

	// Force a fresh lookup even when a summary exists.
	poi.Summary = ""
	p.enrichFromWiki(ctx, poi, lang)

	if _, err := p.db.UpsertPOI(ctx, poi); err != nil {
		return nil, err
	}
	return poi, nil
}

// parseWikipediaTag splits an OSM "wikipedia" tag of the form
// "lang:Title" into its parts.
func parseWikipediaTag(tag string) (lang, title string) {
	if tag == "" {
		return "", ""
	}
	if i := strings.Index(tag, ":"); i > 0 {
		return strings.ToLower(tag[:i]), strings.TrimSpace(tag[i+1:])
	}
	return "", strings.TrimSpace(tag)
}
