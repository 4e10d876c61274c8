// Wayfarer - Location-Based POI Aggregation and Narration
// Copyright 2026 Wayfarer Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wayfarerhq/wayfarer

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/wayfarerhq/wayfarer/internal/auth"
	"github.com/wayfarerhq/wayfarer/internal/database"
	"github.com/wayfarerhq/wayfarer/internal/enrichment"
	"github.com/wayfarerhq/wayfarer/internal/logging"
	"github.com/wayfarerhq/wayfarer/internal/models"
	"github.com/wayfarerhq/wayfarer/internal/narration"
	"github.com/wayfarerhq/wayfarer/internal/poi"
	"github.com/wayfarerhq/wayfarer/internal/upstream"
	"github.com/wayfarerhq/wayfarer/internal/validation"
)

// appConfigTTL is how long the client config document is served from
// the in-process copy before re-reading the store.
const appConfigTTL = 60 * time.Second

// maxBodyBytes caps request bodies.
const maxBodyBytes = 64 * 1024

// Handler holds the HTTP handler dependencies.
type Handler struct {
	db       *database.DB
	finder   *poi.Finder
	narrator *narration.Service
	pipeline *enrichment.Pipeline
	ready    func(ctx context.Context) error

	appCfgMu   sync.Mutex
	appCfg     *models.AppConfig
	appCfgTime time.Time
}

// NewHandler wires the HTTP handlers. ready may be nil; it is the
// additional readiness probe beyond the database ping.
func NewHandler(db *database.DB, finder *poi.Finder, narrator *narration.Service, pipeline *enrichment.Pipeline, ready func(ctx context.Context) error) *Handler {
	return &Handler{
		db:       db,
		finder:   finder,
		narrator: narrator,
		pipeline: pipeline,
		ready:    ready,
	}
}

// Nearby handles GET /api/v1/pois/nearby.
func (h *Handler) Nearby(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	lat, err := parseFloatParam(r, "lat")
	if err != nil {
		rw.BadRequest("lat must be a number")
		return
	}
	lon, err := parseFloatParam(r, "lon")
	if err != nil {
		rw.BadRequest("lon must be a number")
		return
	}

	req := models.NearbyRequest{
		Latitude:  lat,
		Longitude: lon,
		Lang:      r.URL.Query().Get("lang"),
	}
	if raw := r.URL.Query().Get("radius_m"); raw != "" {
		radius, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			rw.BadRequest("radius_m must be a number")
			return
		}
		req.RadiusM = radius
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			rw.BadRequest("limit must be an integer")
			return
		}
		req.Limit = limit
	}
	if raw := r.URL.Query().Get("enrich"); raw != "" {
		enrich, err := strconv.ParseBool(raw)
		if err != nil {
			rw.BadRequest("enrich must be a boolean")
			return
		}
		req.Enrich = enrich
	}

	if verr := validation.ValidateStruct(req); verr != nil {
		writeValidationError(rw, verr)
		return
	}

	result, err := h.finder.Nearby(r.Context(), req)
	if errors.Is(err, upstream.ErrUnavailable) {
		rw.UpstreamUnavailable("POI source is unavailable, try again later")
		return
	}
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	rw.SuccessCached(result, result.Cached)
}

// GetPOI handles GET /api/v1/pois/{id}.
func (h *Handler) GetPOI(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	id := chi.URLParam(r, "id")

	p, err := h.db.GetPOI(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		rw.NotFound("POI not found")
		return
	}
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	h.recordEvent(r, models.EventPOIView, id, "", "")
	rw.Success(p)
}

// GetPOIDocuments handles GET /api/v1/pois/{id}/documents.
func (h *Handler) GetPOIDocuments(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	id := chi.URLParam(r, "id")

	if _, err := h.db.GetPOI(r.Context(), id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			rw.NotFound("POI not found")
		} else {
			rw.DatabaseError(err)
		}
		return
	}

	docs, err := h.db.DocumentsForPOI(r.Context(), id, r.URL.Query().Get("lang"))
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	rw.Success(map[string]interface{}{
		"items": docs,
		"count": len(docs),
	})
}

// HydratePOI handles POST /api/v1/pois/{id}/hydrate. It forces a fresh
// Wikipedia lookup for one POI, bypassing the cell throttle.
func (h *Handler) HydratePOI(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	id := chi.URLParam(r, "id")

	p, err := h.pipeline.HydratePOI(r.Context(), id, r.URL.Query().Get("lang"))
	if errors.Is(err, database.ErrNotFound) {
		rw.NotFound("POI not found")
		return
	}
	if errors.Is(err, upstream.ErrUnavailable) {
		rw.UpstreamUnavailable("Wikipedia is unavailable, try again later")
		return
	}
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	rw.Success(p)
}

// CreateNarration handles POST /api/v1/narrations. It synthesizes (or
// serves from cache) the narration for a POI.
func (h *Handler) CreateNarration(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req models.NarrationRequest
	if !decodeBody(rw, w, r, &req) {
		return
	}
	if verr := validation.ValidateStruct(req); verr != nil {
		writeValidationError(rw, verr)
		return
	}

	n, err := h.narrator.Narrate(r.Context(), req.POIID, req.Lang, req.Style)
	if errors.Is(err, database.ErrNotFound) {
		rw.NotFound("POI not found")
		return
	}
	if errors.Is(err, upstream.ErrUnavailable) {
		rw.UpstreamUnavailable("Narration model is unavailable, try again later")
		return
	}
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	rw.SuccessCached(n, n.Cached)
}

// GetNarration handles GET /api/v1/narrations/{poiID}. It probes the
// narration cache without synthesizing on a miss.
func (h *Handler) GetNarration(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	poiID := chi.URLParam(r, "poiID")
	lang := r.URL.Query().Get("lang")
	style := r.URL.Query().Get("style")

	n, found, err := h.narrator.Cached(r.Context(), poiID, lang, style)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	if !found {
		rw.NotFound("No cached narration for this POI, language and style")
		return
	}

	h.recordEvent(r, models.EventNarrationPlay, poiID, n.Lang, n.Style)
	rw.SuccessCached(n, true)
}

// CreateContribution handles POST /api/v1/contributions.
func (h *Handler) CreateContribution(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req models.ContributionRequest
	if !decodeBody(rw, w, r, &req) {
		return
	}
	if verr := validation.ValidateStruct(req); verr != nil {
		writeValidationError(rw, verr)
		return
	}

	if _, err := h.db.GetPOI(r.Context(), req.POIID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			rw.NotFound("POI not found")
		} else {
			rw.DatabaseError(err)
		}
		return
	}

	identity := auth.IdentityFromContext(r.Context())
	c := &models.Contribution{
		POIID:   req.POIID,
		UserSub: identity.Subject,
		Kind:    req.Kind,
		Body:    req.Body,
	}
	if err := h.db.InsertContribution(r.Context(), c); err != nil {
		rw.DatabaseError(err)
		return
	}

	h.recordEvent(r, models.EventContribSubmit, req.POIID, "", "")
	rw.Created(c)
}

// ListContributions handles GET /api/v1/contributions.
func (h *Handler) ListContributions(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	status := r.URL.Query().Get("status")
	if status == "" {
		status = models.ContribPending
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 200 {
			rw.BadRequest("limit must be an integer between 1 and 200")
			return
		}
		limit = parsed
	}

	contribs, err := h.db.ListContributions(r.Context(), status, limit)
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	rw.Success(map[string]interface{}{
		"items": contribs,
		"count": len(contribs),
	})
}

// ReviewContribution handles POST /api/v1/contributions/{id}/review.
func (h *Handler) ReviewContribution(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	id := chi.URLParam(r, "id")

	var req models.ReviewRequest
	if !decodeBody(rw, w, r, &req) {
		return
	}
	if verr := validation.ValidateStruct(req); verr != nil {
		writeValidationError(rw, verr)
		return
	}

	c, err := h.db.ReviewContribution(r.Context(), id, req.Status)
	if errors.Is(err, database.ErrNotFound) {
		rw.NotFound("Contribution not found")
		return
	}
	if err != nil {
		if strings.Contains(err.Error(), "already reviewed") {
			rw.Conflict("Contribution was already reviewed")
			return
		}
		rw.DatabaseError(err)
		return
	}

	rw.Success(c)
}

// GetAppConfig handles GET /api/v1/config. The document is cached
// in-process so config reads don't hit the store on every app launch.
func (h *Handler) GetAppConfig(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	h.appCfgMu.Lock()
	if h.appCfg != nil && time.Since(h.appCfgTime) < appConfigTTL {
		cfg := h.appCfg
		h.appCfgMu.Unlock()
		rw.SuccessCached(cfg, true)
		return
	}
	h.appCfgMu.Unlock()

	cfg, err := h.db.GetAppConfig(r.Context())
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	h.appCfgMu.Lock()
	h.appCfg = cfg
	h.appCfgTime = time.Now()
	h.appCfgMu.Unlock()

	rw.Success(cfg)
}

// AuthMe handles GET /auth/me, echoing the relayed identity claims.
func (h *Handler) AuthMe(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(auth.IdentityFromContext(r.Context()))
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]string{"status": "ok"})
}

// Ready handles GET /ready. It fails when the database or any wired
// dependency is not reachable.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	if err := h.db.Ping(r.Context()); err != nil {
		rw.Error(http.StatusServiceUnavailable, ErrCodeDatabase, "database not reachable")
		return
	}
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			rw.Error(http.StatusServiceUnavailable, ErrCodeUpstream, err.Error())
			return
		}
	}

	rw.Success(map[string]string{"status": "ready"})
}

// recordEvent appends a usage log row; failures only log.
func (h *Handler) recordEvent(r *http.Request, event, poiID, lang, style string) {
	identity := auth.IdentityFromContext(r.Context())
	err := h.db.InsertUsageEvent(r.Context(), &models.UsageEvent{
		UserSub: identity.Subject,
		Event:   event,
		POIID:   poiID,
		Lang:    lang,
		Style:   style,
	})
	if err != nil {
		logging.Warn().Err(err).Str("event", event).Msg("Failed to record usage event")
	}
}

// decodeBody reads and decodes a JSON request body into dst. On failure
// it writes the error response and returns false.
func decodeBody(rw *ResponseWriter, w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		rw.BadRequest("request body must be valid JSON")
		return false
	}
	return true
}

// writeValidationError maps validator output to the error envelope.
func writeValidationError(rw *ResponseWriter, verr *validation.RequestValidationError) {
	apiErr := verr.ToAPIError()
	rw.ErrorWithDetails(http.StatusBadRequest, apiErr.Code, apiErr.Message, apiErr.Details)
}

func parseFloatParam(r *http.Request, name string) (float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, errors.New("missing parameter")
	}
	return strconv.ParseFloat(raw, 64)
}
