// Wayfarer - Location-Based POI Aggregation and Narration
// Copyright 2026 Wayfarer Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wayfarerhq/wayfarer

// Package poi implements the nearby search orchestrator: cache probe,
// enrichment trigger, radius query and near-duplicate name collapse.
package poi

import (
	"context"
	"errors"
	"fmt"

	"github.com/wayfarerhq/wayfarer/internal/config"
	"github.com/wayfarerhq/wayfarer/internal/database"
	"github.com/wayfarerhq/wayfarer/internal/enrichment"
	"github.com/wayfarerhq/wayfarer/internal/geo"
	"github.com/wayfarerhq/wayfarer/internal/kvcache"
	"github.com/wayfarerhq/wayfarer/internal/logging"
	"github.com/wayfarerhq/wayfarer/internal/match"
	"github.com/wayfarerhq/wayfarer/internal/models"
	"github.com/wayfarerhq/wayfarer/internal/narration"
	"github.com/wayfarerhq/wayfarer/internal/upstream"
)

// defaultLimit caps a nearby response when the request does not set one.
const defaultLimit = 50

// overfetchFactor is how many extra candidates the radius query returns
// so the name collapse still fills the requested limit.
const overfetchFactor = 3

// Enqueuer hands a cell refresh to the write-behind queue.
type Enqueuer interface {
	EnqueueCell(ctx context.Context, req models.EnrichRequested) error
}

// Finder serves nearby searches. With an Enqueuer configured the cell
// refresh goes through the queue; otherwise it runs inline before the
// radius query so first-time cells return fresh data.
type Finder struct {
	db       *database.DB
	cache    *kvcache.Store
	pipeline *enrichment.Pipeline
	enqueuer Enqueuer

	defaultRadiusM float64
	defaultLang    string
}

// NewFinder wires the nearby search orchestrator. enqueuer may be nil.
func NewFinder(db *database.DB, cache *kvcache.Store, pipeline *enrichment.Pipeline, enqueuer Enqueuer, enrich config.EnrichmentConfig, defaultLang string) *Finder {
	return &Finder{
		db:             db,
		cache:          cache,
		pipeline:       pipeline,
		enqueuer:       enqueuer,
		defaultRadiusM: enrich.DefaultRadiusM,
		defaultLang:    defaultLang,
	}
}

// Nearby returns the POIs around a point, nearest first. Every request
// answers from the POI store via a radius query; the search cache only
// records that a cell was refreshed recently, never the result itself,
// so POIs the write-behind worker inserts after the first search still
// surface on the next one.
//
// With req.Enrich set, a refresh is triggered (inline or via the queue)
// unless the marker says one already ran within the TTL. An inline
// refresh that fails on the POI source fails the request and leaves the
// marker unset, so the next request retries.
func (f *Finder) Nearby(ctx context.Context, req models.NearbyRequest) (*models.NearbyResult, error) {
	radius := req.RadiusM
	if radius <= 0 {
		radius = f.defaultRadiusM
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	lang := narration.ResolveLang(req.Lang, f.defaultLang)

	refreshed := false
	if req.Enrich {
		key := geo.SearchKey(req.Latitude, req.Longitude, radius, lang)
		seen, err := f.cache.SearchedRecently(key)
		if err != nil {
			return nil, err
		}
		if seen {
			refreshed = true
		} else {
			if err := f.triggerEnrichment(ctx, req.Latitude, req.Longitude, radius, lang); err != nil {
				if errors.Is(err, upstream.ErrUnavailable) {
					return nil, err
				}
				logging.Warn().Err(err).Msg("Cell refresh failed, serving stored POIs")
			} else if err := f.cache.MarkSearched(key); err != nil {
				logging.Warn().Err(err).Str("key", key).Msg("Search marker write failed")
			}
		}
	}

	candidates, err := f.db.POIsWithinRadius(ctx, req.Latitude, req.Longitude, radius, true, limit*overfetchFactor)
	if err != nil {
		return nil, err
	}

	items := collapseNames(candidates, limit)

	result := &models.NearbyResult{
		Items:   items,
		Count:   len(items),
		RadiusM: radius,
		Lang:    lang,
		Cached:  refreshed,
	}
	f.recordSearch(ctx, lang)

	return result, nil
}

// triggerEnrichment refreshes the cell, via the queue when configured.
func (f *Finder) triggerEnrichment(ctx context.Context, lat, lon, radius float64, lang string) error {
	if f.enqueuer != nil {
		if err := f.enqueuer.EnqueueCell(ctx, models.EnrichRequested{
			Latitude:  lat,
			Longitude: lon,
			RadiusM:   radius,
			Lang:      lang,
		}); err != nil {
			return fmt.Errorf("failed to enqueue cell refresh: %w", err)
		}
		return nil
	}

	_, err := f.pipeline.EnrichCell(ctx, lat, lon, radius, lang)
	return err
}

// collapseNames walks candidates nearest first and drops entries whose
// name is close to an already kept one. The nearest spelling of a place
// wins; "Kunsthaus Zurich" and "Kunsthaus Zürich" collapse into one.
func collapseNames(candidates []database.POIWithDistance, limit int) []models.NearbyPOI {
	items := make([]models.NearbyPOI, 0, min(limit, len(candidates)))
	kept := make([]string, 0, limit)

	for i := range candidates {
		if len(items) >= limit {
			break
		}
		c := &candidates[i]

		dup := false
		for _, name := range kept {
			if match.Similar(c.Name, name, match.CollapseThreshold) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}

		kept = append(kept, c.Name)
		items = append(items, models.NearbyPOI{
			POIID:     c.ID,
			Name:      c.Name,
			DistanceM: c.DistanceM,
			Latitude:  c.Latitude,
			Longitude: c.Longitude,
			WikiTitle: c.WikiTitle,
		})
	}
	return items
}

// recordSearch writes the usage event; failures only log.
func (f *Finder) recordSearch(ctx context.Context, lang string) {
	err := f.db.InsertUsageEvent(ctx, &models.UsageEvent{
		Event: models.EventNearbySearch,
		Lang:  lang,
	})
	if err != nil {
		logging.Warn().Err(err).Msg("Failed to record search usage event")
	}
}
