// Wayfarer - Location-Based POI Aggregation and Narration
// Copyright 2026 Wayfarer Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wayfarerhq/wayfarer

package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"

	"github.com/wayfarerhq/wayfarer/internal/config"
	"github.com/wayfarerhq/wayfarer/internal/database"
	"github.com/wayfarerhq/wayfarer/internal/enrichment"
	"github.com/wayfarerhq/wayfarer/internal/kvcache"
	"github.com/wayfarerhq/wayfarer/internal/models"
	"github.com/wayfarerhq/wayfarer/internal/narration"
	"github.com/wayfarerhq/wayfarer/internal/osm"
	"github.com/wayfarerhq/wayfarer/internal/poi"
	"github.com/wayfarerhq/wayfarer/internal/upstream"
	"github.com/wayfarerhq/wayfarer/internal/wiki"
)

type stubOSM struct {
	raws []osm.RawPOI
	err  error
}

func (s *stubOSM) FetchNearby(_ context.Context, _, _, _ float64) ([]osm.RawPOI, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.raws, nil
}

type stubWiki struct{}

func (stubWiki) FindRelevantTitle(_ context.Context, _, _ string, _, _ float64) (string, error) {
	return "", nil
}

func (stubWiki) Summary(_ context.Context, _, _ string) (*wiki.PageSummary, error) {
	return nil, nil
}

func (stubWiki) LangForPoint(_ context.Context, _, _ float64) string { return "en" }

func (stubWiki) ReferenceLang() string { return "en" }

type noopEnqueuer struct{}

func (noopEnqueuer) EnqueueCell(_ context.Context, _ models.EnrichRequested) error { return nil }

type stubSynth struct{}

func (stubSynth) Synthesize(_ context.Context, _ string) (string, error) {
	return "A short story about this place.", nil
}

type testServer struct {
	handler http.Handler
	db      *database.DB
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWith(t, &stubOSM{}, noopEnqueuer{})
}

func newTestServerWith(t *testing.T, osmClient enrichment.OSMFetcher, enqueuer poi.Enqueuer) *testServer {
	t.Helper()

	db, err := database.New(config.DatabaseConfig{Path: ":memory:", MaxMemory: "256MB", Threads: 2})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	cache, err := kvcache.Open(config.CacheConfig{
		InMemory:     true,
		ThrottleTTL:  30 * time.Second,
		SearchTTL:    time.Hour,
		NarrationTTL: time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = cache.Close() })

	enrichCfg := config.EnrichmentConfig{
		DefaultRadiusM: 120,
		MaxRadiusM:     5000,
		MatchRadiusM:   15,
		MaxInserts:     50,
	}
	pipeline := enrichment.NewPipeline(db, cache, osmClient, stubWiki{}, enrichCfg)
	finder := poi.NewFinder(db, cache, pipeline, enqueuer, enrichCfg, "en")
	narrator := narration.NewService(db, cache, stubSynth{}, config.NarrationConfig{
		MaxSourceChars: 1200,
		DefaultStyle:   "guide",
		DefaultLang:    "en",
	})

	handler := NewHandler(db, finder, narrator, pipeline, nil)
	router := NewRouter(handler, config.SecurityConfig{
		CORSOrigins: []string{"*"},
	})

	return &testServer{handler: router.Setup(), db: db}
}

func (ts *testServer) do(t *testing.T, method, target string, body interface{}, headers map[string]string) (*httptest.ResponseRecorder, models.APIResponse) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	var envelope models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("response is not a JSON envelope: %v\n%s", err, rec.Body.String())
	}
	return rec, envelope
}

func (ts *testServer) seedPOI(t *testing.T, id, name string, lat, lon float64) {
	t.Helper()
	_, err := ts.db.UpsertPOI(context.Background(), &models.POI{
		ID: id, Name: name, Latitude: lat, Longitude: lon,
		Source: "osm", Active: true,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func dataMap(t *testing.T, envelope models.APIResponse) map[string]interface{} {
	t.Helper()
	m, ok := envelope.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("data is not an object: %#v", envelope.Data)
	}
	return m
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec, envelope := ts.do(t, http.MethodGet, "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if envelope.Status != "success" {
		t.Errorf("envelope status = %q", envelope.Status)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header must be set")
	}
}

func TestReady(t *testing.T) {
	ts := newTestServer(t)

	rec, _ := ts.do(t, http.MethodGet, "/ready", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestNearby_Validation(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		target string
	}{
		{"missing lat", "/api/v1/pois/nearby?lon=8.0"},
		{"latitude out of range", "/api/v1/pois/nearby?lat=123&lon=8.0"},
		{"radius too large", "/api/v1/pois/nearby?lat=47.0&lon=8.0&radius_m=9999"},
		{"non-numeric radius", "/api/v1/pois/nearby?lat=47.0&lon=8.0&radius_m=abc"},
		{"non-boolean enrich", "/api/v1/pois/nearby?lat=47.0&lon=8.0&enrich=maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, envelope := ts.do(t, http.MethodGet, tt.target, nil, nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if envelope.Error == nil || envelope.Error.Code != ErrCodeValidation {
				t.Errorf("error = %+v, want %s", envelope.Error, ErrCodeValidation)
			}
		})
	}
}

func TestNearby_ReturnsSeededPOIs(t *testing.T) {
	ts := newTestServer(t)
	ts.seedPOI(t, "osm:1", "Fountain", 47.0001, 8.0001)

	rec, envelope := ts.do(t, http.MethodGet, "/api/v1/pois/nearby?lat=47.0&lon=8.0&radius_m=200&enrich=true", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	data := dataMap(t, envelope)
	if data["count"].(float64) != 1 {
		t.Errorf("count = %v, want 1", data["count"])
	}
	if envelope.Metadata.Cached {
		t.Error("first search must not be marked cached")
	}

	_, second := ts.do(t, http.MethodGet, "/api/v1/pois/nearby?lat=47.0&lon=8.0&radius_m=200&enrich=true", nil, nil)
	if !second.Metadata.Cached {
		t.Error("repeated search must be marked cached")
	}
}

func TestNearby_CachedSearchReflectsStore(t *testing.T) {
	ts := newTestServer(t)

	ts.do(t, http.MethodGet, "/api/v1/pois/nearby?lat=47.0&lon=8.0&radius_m=200&enrich=true", nil, nil)

	// A POI inserted after the first search, the way the queue worker
	// would, must surface on the next search of the same cell.
	ts.seedPOI(t, "osm:9", "Water Tower", 47.0001, 8.0001)

	_, envelope := ts.do(t, http.MethodGet, "/api/v1/pois/nearby?lat=47.0&lon=8.0&radius_m=200&enrich=true", nil, nil)
	if !envelope.Metadata.Cached {
		t.Error("second search within the TTL must report cached")
	}
	if dataMap(t, envelope)["count"].(float64) != 1 {
		t.Errorf("count = %v, want the fresh POI", dataMap(t, envelope)["count"])
	}
}

func TestNearby_UpstreamUnavailable(t *testing.T) {
	failing := &stubOSM{err: fmt.Errorf("%w: overpass: status 504", upstream.ErrUnavailable)}
	ts := newTestServerWith(t, failing, nil)

	rec, envelope := ts.do(t, http.MethodGet, "/api/v1/pois/nearby?lat=47.0&lon=8.0&radius_m=200&enrich=true", nil, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503: %s", rec.Code, rec.Body.String())
	}
	if envelope.Error == nil || envelope.Error.Code != ErrCodeUpstream {
		t.Errorf("error = %+v, want %s", envelope.Error, ErrCodeUpstream)
	}

	// Without the enrich flag the same request degrades to stored data.
	rec, _ = ts.do(t, http.MethodGet, "/api/v1/pois/nearby?lat=47.0&lon=8.0&radius_m=200", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("plain search status = %d, want 200", rec.Code)
	}
}

func TestGetPOI(t *testing.T) {
	ts := newTestServer(t)
	ts.seedPOI(t, "osm:1", "Fountain", 47.0, 8.0)

	rec, envelope := ts.do(t, http.MethodGet, "/api/v1/pois/osm:1", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if dataMap(t, envelope)["name"] != "Fountain" {
		t.Errorf("data = %+v", envelope.Data)
	}

	rec, envelope = ts.do(t, http.MethodGet, "/api/v1/pois/osm:999", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if envelope.Error == nil || envelope.Error.Code != ErrCodeNotFound {
		t.Errorf("error = %+v", envelope.Error)
	}
}

func TestGetPOIDocuments(t *testing.T) {
	ts := newTestServer(t)
	ts.seedPOI(t, "osm:1", "Fountain", 47.0, 8.0)
	err := ts.db.InsertDocument(context.Background(), &models.POIDocument{
		POIID: "osm:1", Lang: "en", Title: "Fountain", Text: "An old fountain.",
	})
	if err != nil {
		t.Fatal(err)
	}

	rec, envelope := ts.do(t, http.MethodGet, "/api/v1/pois/osm:1/documents", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if dataMap(t, envelope)["count"].(float64) != 1 {
		t.Errorf("data = %+v", envelope.Data)
	}

	rec, _ = ts.do(t, http.MethodGet, "/api/v1/pois/osm:999/documents", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestCreateNarration(t *testing.T) {
	ts := newTestServer(t)
	ts.seedPOI(t, "osm:1", "Fountain", 47.0, 8.0)
	err := ts.db.InsertDocument(context.Background(), &models.POIDocument{
		POIID: "osm:1", Lang: "en", Title: "Fountain", Text: "An old fountain in the square.",
	})
	if err != nil {
		t.Fatal(err)
	}

	body := models.NarrationRequest{POIID: "osm:1", Lang: "en", Style: "guide"}
	rec, envelope := ts.do(t, http.MethodPost, "/api/v1/narrations", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	data := dataMap(t, envelope)
	if data["text"] == "" {
		t.Error("narration text must not be empty")
	}
	if data["confidence"].(float64) != narration.ConfidenceSameLangSource {
		t.Errorf("confidence = %v", data["confidence"])
	}

	_, second := ts.do(t, http.MethodPost, "/api/v1/narrations", body, nil)
	if !second.Metadata.Cached {
		t.Error("repeated narration must be served from cache")
	}
}

func TestCreateNarration_UnknownPOI(t *testing.T) {
	ts := newTestServer(t)

	body := models.NarrationRequest{POIID: "osm:999"}
	rec, _ := ts.do(t, http.MethodPost, "/api/v1/narrations", body, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestCreateNarration_BadBody(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/narrations", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetNarration_CacheProbe(t *testing.T) {
	ts := newTestServer(t)
	ts.seedPOI(t, "osm:1", "Fountain", 47.0, 8.0)
	err := ts.db.InsertDocument(context.Background(), &models.POIDocument{
		POIID: "osm:1", Lang: "en", Title: "Fountain", Text: "An old fountain.",
	})
	if err != nil {
		t.Fatal(err)
	}

	rec, _ := ts.do(t, http.MethodGet, "/api/v1/narrations/osm:1?lang=en&style=guide", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("probe before synthesis: status = %d, want 404", rec.Code)
	}

	body := models.NarrationRequest{POIID: "osm:1", Lang: "en", Style: "guide"}
	ts.do(t, http.MethodPost, "/api/v1/narrations", body, nil)

	rec, envelope := ts.do(t, http.MethodGet, "/api/v1/narrations/osm:1?lang=en&style=guide", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("probe after synthesis: status = %d, want 200", rec.Code)
	}
	if !envelope.Metadata.Cached {
		t.Error("probe hit must be marked cached")
	}

	// Style aliases fold to the canonical style before the probe.
	rec, _ = ts.do(t, http.MethodGet, "/api/v1/narrations/osm:1?lang=en&style=scholarly", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("alias probe: status = %d, want 200", rec.Code)
	}
}

func TestContributionLifecycle(t *testing.T) {
	ts := newTestServer(t)
	ts.seedPOI(t, "osm:1", "Fountain", 47.0, 8.0)

	body := models.ContributionRequest{POIID: "osm:1", Kind: "correction", Body: "The fountain was restored in 2019."}
	rec, envelope := ts.do(t, http.MethodPost, "/api/v1/contributions", body, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	id, _ := dataMap(t, envelope)["id"].(string)
	if id == "" {
		t.Fatal("created contribution must have an id")
	}

	rec, envelope = ts.do(t, http.MethodGet, "/api/v1/contributions?status=pending", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status = %d, want 200", rec.Code)
	}
	if dataMap(t, envelope)["count"].(float64) != 1 {
		t.Errorf("list data = %+v", envelope.Data)
	}

	review := models.ReviewRequest{Status: "approved"}
	rec, envelope = ts.do(t, http.MethodPost, "/api/v1/contributions/"+id+"/review", review, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("review: status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if dataMap(t, envelope)["status"] != models.ContribApproved {
		t.Errorf("review data = %+v", envelope.Data)
	}

	rec, envelope = ts.do(t, http.MethodPost, "/api/v1/contributions/"+id+"/review", review, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second review: status = %d, want 409", rec.Code)
	}
	if envelope.Error == nil || envelope.Error.Code != ErrCodeConflict {
		t.Errorf("error = %+v", envelope.Error)
	}
}

func TestCreateContribution_Rejections(t *testing.T) {
	ts := newTestServer(t)
	ts.seedPOI(t, "osm:1", "Fountain", 47.0, 8.0)

	rec, _ := ts.do(t, http.MethodPost, "/api/v1/contributions",
		models.ContributionRequest{POIID: "osm:999", Kind: "correction", Body: "Missing target."}, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown POI: status = %d, want 404", rec.Code)
	}

	rec, envelope := ts.do(t, http.MethodPost, "/api/v1/contributions",
		models.ContributionRequest{POIID: "osm:1", Kind: "vandalism", Body: "Bad kind."}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad kind: status = %d, want 400", rec.Code)
	}
	if envelope.Error == nil || envelope.Error.Code != ErrCodeValidation {
		t.Errorf("error = %+v", envelope.Error)
	}
}

func TestReviewContribution_NotFound(t *testing.T) {
	ts := newTestServer(t)

	rec, _ := ts.do(t, http.MethodPost, "/api/v1/contributions/no-such-id/review",
		models.ReviewRequest{Status: "rejected"}, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestGetAppConfig(t *testing.T) {
	ts := newTestServer(t)

	rec, envelope := ts.do(t, http.MethodGet, "/api/v1/config", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	data := dataMap(t, envelope)
	if _, ok := data["flags"]; !ok {
		t.Errorf("config must carry flags: %+v", data)
	}

	_, second := ts.do(t, http.MethodGet, "/api/v1/config", nil, nil)
	if !second.Metadata.Cached {
		t.Error("second config read must be served from the in-process copy")
	}
}

func TestAuthMe(t *testing.T) {
	ts := newTestServer(t)

	_, envelope := ts.do(t, http.MethodGet, "/auth/me", nil, nil)
	if dataMap(t, envelope)["anonymous"] != true {
		t.Errorf("tokenless request must be anonymous: %+v", envelope.Data)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "user-42",
		"email": "traveler@example.com",
	}).SignedString([]byte("edge-key"))
	if err != nil {
		t.Fatal(err)
	}

	_, envelope = ts.do(t, http.MethodGet, "/auth/me", nil, map[string]string{
		"Authorization": "Bearer " + token,
	})
	data := dataMap(t, envelope)
	if data["sub"] != "user-42" {
		t.Errorf("identity = %+v", data)
	}
	if data["anonymous"] == true {
		t.Error("bearer request must not be anonymous")
	}
}

func TestHydratePOI_NotFound(t *testing.T) {
	ts := newTestServer(t)

	rec, _ := ts.do(t, http.MethodPost, "/api/v1/pois/osm:999/hydrate", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestRequestID_Propagated(t *testing.T) {
	ts := newTestServer(t)

	rec, envelope := ts.do(t, http.MethodGet, "/health", nil, map[string]string{
		"X-Request-ID": "test-correlation-id",
	})
	if rec.Header().Get("X-Request-ID") != "test-correlation-id" {
		t.Errorf("header = %q", rec.Header().Get("X-Request-ID"))
	}
	if envelope.Metadata.RequestID != "test-correlation-id" {
		t.Errorf("metadata request id = %q", envelope.Metadata.RequestID)
	}
}
