// Wayfarer - Location-Based POI Aggregation and Narration
// Copyright 2026 Wayfarer Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wayfarerhq/wayfarer

package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wayfarerhq/wayfarer/internal/config"
	"github.com/wayfarerhq/wayfarer/internal/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(config.DatabaseConfig{Path: ":memory:", MaxMemory: "256MB", Threads: 2})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testPOI(id, name string, lat, lon float64) *models.POI {
	return &models.POI{
		ID:        id,
		Name:      name,
		Latitude:  lat,
		Longitude: lon,
		Source:    "osm",
		Active:    true,
	}
}

func TestUpsertPOI_InsertThenUpdate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	poi := testPOI("osm:100", "Grossmünster", 47.3702, 8.5441)
	poi.Tags = map[string]string{"tourism": "attraction"}

	inserted, err := db.UpsertPOI(ctx, poi)
	if err != nil {
		t.Fatal(err)
	}
	if !inserted {
		t.Error("first upsert must report an insert")
	}

	poi.Summary = "A Romanesque church in Zurich."
	inserted, err = db.UpsertPOI(ctx, poi)
	if err != nil {
		t.Fatal(err)
	}
	if inserted {
		t.Error("second upsert must report an update")
	}

	got, err := db.GetPOI(ctx, "osm:100")
	if err != nil {
		t.Fatal(err)
	}
	if got.Summary != "A Romanesque church in Zurich." {
		t.Errorf("summary not updated: %q", got.Summary)
	}
	if got.Tags["tourism"] != "attraction" {
		t.Errorf("tags lost on update: %v", got.Tags)
	}
}

func TestGetPOI_NotFound(t *testing.T) {
	db := newTestDB(t)
	_, err := db.GetPOI(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDedupLookups_PriorityKeys(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	poi := testPOI("osm:200", "Fraumünster", 47.3699, 8.5412)
	poi.WikidataQID = "Q693731"
	poi.WikiTitle = "Fraumünster"
	poi.WikiLang = "en"
	if _, err := db.UpsertPOI(ctx, poi); err != nil {
		t.Fatal(err)
	}

	byQID, err := db.FindByWikidataQID(ctx, "Q693731")
	if err != nil {
		t.Fatal(err)
	}
	if byQID == nil || byQID.ID != "osm:200" {
		t.Errorf("FindByWikidataQID = %+v", byQID)
	}

	byTitle, err := db.FindByWikiTitle(ctx, "en", "Fraumünster")
	if err != nil {
		t.Fatal(err)
	}
	if byTitle == nil || byTitle.ID != "osm:200" {
		t.Errorf("FindByWikiTitle = %+v", byTitle)
	}

	// Exact-name geo match within 15 m, case and whitespace folded
	byName, err := db.FindByNameNear(ctx, "  FRAUMÜNSTER ", 47.36995, 8.54125, 15)
	if err != nil {
		t.Fatal(err)
	}
	if byName == nil || byName.ID != "osm:200" {
		t.Errorf("FindByNameNear = %+v", byName)
	}

	// Outside the match radius: no match
	byName, err = db.FindByNameNear(ctx, "Fraumünster", 47.3710, 8.5412, 15)
	if err != nil {
		t.Fatal(err)
	}
	if byName != nil {
		t.Errorf("FindByNameNear beyond radius should miss, got %+v", byName)
	}

	// Empty keys never match
	if p, _ := db.FindByWikidataQID(ctx, ""); p != nil {
		t.Error("empty QID must not match")
	}
	if p, _ := db.FindByWikiTitle(ctx, "en", ""); p != nil {
		t.Error("empty title must not match")
	}
}

func TestPOIsWithinRadius_OrderAndFilter(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	center := [2]float64{47.3700, 8.5400}
	// ~30m, ~90m, ~400m from center; plus one inactive nearby
	pois := []*models.POI{
		testPOI("far", "Far Cafe", 47.3736, 8.5400),
		testPOI("near", "Near Fountain", 47.37027, 8.5400),
		testPOI("mid", "Mid Chapel", 47.3708, 8.5400),
	}
	inactive := testPOI("ghost", "Closed Kiosk", 47.3701, 8.5400)
	inactive.Active = false

	for _, p := range append(pois, inactive) {
		if _, err := db.UpsertPOI(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	results, err := db.POIsWithinRadius(ctx, center[0], center[1], 120, true, 50)
	if err != nil {
		t.Fatal(err)
	}

	if len(results) != 2 {
		t.Fatalf("expected 2 active POIs within 120m, got %d", len(results))
	}
	if results[0].ID != "near" || results[1].ID != "mid" {
		t.Errorf("order wrong: %s, %s", results[0].ID, results[1].ID)
	}
	if results[0].DistanceM >= results[1].DistanceM {
		t.Errorf("distances not ascending: %f, %f", results[0].DistanceM, results[1].DistanceM)
	}

	// Inactive rows appear when activeOnly is off
	all, err := db.POIsWithinRadius(ctx, center[0], center[1], 120, false, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 POIs including inactive, got %d", len(all))
	}
}

func TestDeactivatePOIsExcept_ScopedToCell(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	keep := testPOI("keep", "Still There", 47.3700, 8.5400)
	gone := testPOI("gone", "Demolished", 47.3702, 8.5400)
	outside := testPOI("outside", "Other Town", 47.4200, 8.5400)
	for _, p := range []*models.POI{keep, gone, outside} {
		if _, err := db.UpsertPOI(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	n, err := db.DeactivatePOIsExcept(ctx, []string{"keep"}, 47.3700, 8.5400, 120)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("deactivated %d rows, want 1", n)
	}

	for id, wantActive := range map[string]bool{"keep": true, "gone": false, "outside": true} {
		p, err := db.GetPOI(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if p.Active != wantActive {
			t.Errorf("%s active = %v, want %v", id, p.Active, wantActive)
		}
	}
}

func TestDocuments_LangPreferredOrdering(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := db.UpsertPOI(ctx, testPOI("osm:300", "Pantheon", 41.8986, 12.4769)); err != nil {
		t.Fatal(err)
	}

	docs := []*models.POIDocument{
		{POIID: "osm:300", Lang: "en", Title: "Pantheon, Rome", Text: "english text", FetchedAt: time.Now().Add(-time.Hour)},
		{POIID: "osm:300", Lang: "it", Title: "Pantheon (Roma)", Text: "testo italiano", FetchedAt: time.Now()},
	}
	for _, d := range docs {
		if err := db.InsertDocument(ctx, d); err != nil {
			t.Fatal(err)
		}
	}

	got, err := db.DocumentsForPOI(ctx, "osm:300", "it")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(got))
	}
	if got[0].Lang != "it" {
		t.Errorf("preferred language should sort first, got %q", got[0].Lang)
	}

	// Re-fetch replaces instead of duplicating
	if err := db.InsertDocument(ctx, &models.POIDocument{
		POIID: "osm:300", Lang: "it", Title: "Pantheon (Roma)", Text: "testo aggiornato",
	}); err != nil {
		t.Fatal(err)
	}
	got, err = db.DocumentsForPOI(ctx, "osm:300", "it")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("re-fetch must replace, got %d documents", len(got))
	}
	if got[0].Text != "testo aggiornato" {
		t.Errorf("replacement text not stored: %q", got[0].Text)
	}
}

func TestContributions_ReviewFlow(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	c := &models.Contribution{POIID: "osm:400", UserSub: "user-1", Kind: "correction", Body: "Name is misspelled"}
	if err := db.InsertContribution(ctx, c); err != nil {
		t.Fatal(err)
	}

	pending, err := db.ListContributions(ctx, models.ContribPending, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Status != models.ContribPending {
		t.Fatalf("pending list = %+v", pending)
	}

	reviewed, err := db.ReviewContribution(ctx, c.ID, models.ContribApproved)
	if err != nil {
		t.Fatal(err)
	}
	if reviewed.Status != models.ContribApproved || reviewed.ReviewedAt == nil {
		t.Errorf("reviewed = %+v", reviewed)
	}

	// Second review of the same contribution fails
	if _, err := db.ReviewContribution(ctx, c.ID, models.ContribRejected); err == nil {
		t.Error("double review must fail")
	}

	// Unknown id yields ErrNotFound
	if _, err := db.ReviewContribution(ctx, "nope", models.ContribApproved); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAppConfig_DefaultAndRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	cfg, err := db.GetAppConfig(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Flags["narration_enabled"] {
		t.Error("default config should enable narration")
	}

	cfg.Flags["narration_enabled"] = false
	cfg.Limits["nearby_max_limit"] = 25
	if err := db.PutAppConfig(ctx, cfg); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetAppConfig(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.Flags["narration_enabled"] || got.Limits["nearby_max_limit"] != 25 {
		t.Errorf("round trip lost changes: %+v", got)
	}
}
