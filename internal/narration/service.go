// Wayfarer - Location-Based POI Aggregation and Narration
// Copyright 2026 Wayfarer Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wayfarerhq/wayfarer

package narration

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wayfarerhq/wayfarer/internal/config"
	"github.com/wayfarerhq/wayfarer/internal/database"
	"github.com/wayfarerhq/wayfarer/internal/kvcache"
	"github.com/wayfarerhq/wayfarer/internal/logging"
	"github.com/wayfarerhq/wayfarer/internal/metrics"
	"github.com/wayfarerhq/wayfarer/internal/models"
)

// Confidence levels attached to synthesized narrations. The value
// reflects source grounding, not model quality: a narration backed by
// a source in the requested language is trusted most, one with no
// sources least.
const (
	ConfidenceSameLangSource = 0.85
	ConfidenceAnySource      = 0.75
	ConfidenceNoSource       = 0.60
)

// maxPromptDocs caps how many source documents feed one prompt.
const maxPromptDocs = 3

// Service synthesizes and caches narrations.
type Service struct {
	db    *database.DB
	cache *kvcache.Store
	synth Synthesizer

	defaultLang    string
	maxSourceChars int
}

// NewService wires the narration service.
func NewService(db *database.DB, cache *kvcache.Store, synth Synthesizer, cfg config.NarrationConfig) *Service {
	return &Service{
		db:             db,
		cache:          cache,
		synth:          synth,
		defaultLang:    cfg.DefaultLang,
		maxSourceChars: cfg.MaxSourceChars,
	}
}

// Narrate returns the narration for (poiID, lang, style), synthesizing
// it when the cache misses. Style aliases and locale region subtags are
// folded before the cache key is built, so "fun"/"anecdotes" and
// "de-CH"/"de" share one entry.
//
// A synthesis with no source documents is returned to the caller but
// never cached: once sources appear the next request should synthesize
// a grounded narration instead of serving the ungrounded one for a day.
func (s *Service) Narrate(ctx context.Context, poiID, lang, style string) (*models.Narration, error) {
	style = ResolveStyle(style)
	lang = ResolveLang(lang, s.defaultLang)

	if cached, found, err := s.cache.GetNarration(poiID, lang, style); err != nil {
		return nil, err
	} else if found {
		metrics.NarrationsTotal.WithLabelValues("cache").Inc()
		cached.Cached = true
		return cached, nil
	}

	poi, err := s.db.GetPOI(ctx, poiID)
	if err != nil {
		return nil, err
	}

	docs, err := s.db.DocumentsForPOI(ctx, poiID, lang)
	if err != nil {
		return nil, err
	}

	texts := make([]string, 0, maxPromptDocs)
	sources := make([]string, 0, len(docs))
	sameLang := false
	if len(docs) > 0 {
		// Documents arrive language-preferred; the first is the best source.
		sameLang = docs[0].Lang == lang
		for i, d := range docs {
			if i < maxPromptDocs && d.Text != "" {
				texts = append(texts, d.Text)
			}
			if d.SourceURL != "" {
				sources = append(sources, d.SourceURL)
			} else {
				sources = append(sources, d.Title)
			}
		}
	}

	prompt := BuildPrompt(poi.Name, style, strings.Join(texts, "\n\n"), s.maxSourceChars)
	text, err := s.synth.Synthesize(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("narration synthesis failed: %w", err)
	}

	confidence := ConfidenceNoSource
	switch {
	case sameLang:
		confidence = ConfidenceSameLangSource
	case len(docs) > 0:
		confidence = ConfidenceAnySource
	}

	n := &models.Narration{
		POIID:      poiID,
		Lang:       lang,
		Style:      style,
		Text:       text,
		Confidence: confidence,
		Sources:    sources,
		CreatedAt:  time.Now(),
	}

	if len(docs) == 0 {
		metrics.NarrationsTotal.WithLabelValues("fallback").Inc()
		logging.Debug().Str("poi_id", poiID).Msg("Narration synthesized without sources, cache skipped")
		return n, nil
	}

	stored, wrote, err := s.cache.PutNarrationIfAbsent(n)
	if err != nil {
		return nil, err
	}
	if wrote {
		metrics.NarrationsTotal.WithLabelValues("llm").Inc()
	} else {
		// A concurrent synthesis won; serve its text.
		metrics.NarrationsTotal.WithLabelValues("cache").Inc()
		stored.Cached = true
	}

	if err := s.db.InsertUsageEvent(ctx, &models.UsageEvent{
		Event: models.EventNarrationSynthesize,
		POIID: poiID,
		Lang:  lang,
		Style: style,
	}); err != nil {
		logging.Warn().Err(err).Msg("Failed to record narration usage event")
	}

	return stored, nil
}

// Cached returns the cached narration for (poiID, lang, style) without
// synthesizing on a miss. Style and locale folding match Narrate.
func (s *Service) Cached(ctx context.Context, poiID, lang, style string) (*models.Narration, bool, error) {
	style = ResolveStyle(style)
	lang = ResolveLang(lang, s.defaultLang)

	n, found, err := s.cache.GetNarration(poiID, lang, style)
	if err != nil || !found {
		return nil, false, err
	}
	n.Cached = true
	return n, true, nil
}
