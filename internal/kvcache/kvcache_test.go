// Wayfarer - Location-Based POI Aggregation and Narration
// Copyright 2026 Wayfarer Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wayfarerhq/wayfarer

package kvcache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wayfarerhq/wayfarer/internal/config"
	"github.com/wayfarerhq/wayfarer/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(config.CacheConfig{
		InMemory:     true,
		ThrottleTTL:  100 * time.Millisecond,
		SearchTTL:    time.Hour,
		NarrationTTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAcquire_FirstCallerWins(t *testing.T) {
	s := newTestStore(t)

	ok, err := s.Acquire("47.3769,8.5417,r100")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("first Acquire must succeed")
	}

	ok, err = s.Acquire("47.3769,8.5417,r100")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("second Acquire within TTL must be rejected")
	}

	// Different key is unaffected
	ok, err = s.Acquire("47.3769,8.5417,r200")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("different bucket must acquire independently")
	}
}

func TestAcquire_ExpiresAfterTTL(t *testing.T) {
	s := newTestStore(t)

	if ok, _ := s.Acquire("cell"); !ok {
		t.Fatal("first Acquire must succeed")
	}

	time.Sleep(150 * time.Millisecond)

	ok, err := s.Acquire("cell")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("Acquire after TTL expiry must succeed again")
	}
}

func TestAcquire_ConcurrentAtMostOnce(t *testing.T) {
	s := newTestStore(t)

	const goroutines = 32
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := s.Acquire("contended-cell")
			if err != nil {
				t.Errorf("Acquire error: %v", err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}()
	}

	close(start)
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Errorf("expected exactly 1 winner, got %d", got)
	}
}

func TestSearchMarker_RoundTrip(t *testing.T) {
	s := newTestStore(t)

	if seen, err := s.SearchedRecently("missing"); err != nil || seen {
		t.Fatalf("SearchedRecently(missing) = %v, err %v", seen, err)
	}

	if err := s.MarkSearched("47.3700,8.5400,r100,de"); err != nil {
		t.Fatal(err)
	}

	seen, err := s.SearchedRecently("47.3700,8.5400,r100,de")
	if err != nil {
		t.Fatal(err)
	}
	if !seen {
		t.Fatal("expected marker hit within TTL")
	}

	// A different language variant is a separate key.
	if seen, _ := s.SearchedRecently("47.3700,8.5400,r100,en"); seen {
		t.Error("marker must not bleed across search keys")
	}
}

func TestPutNarrationIfAbsent_FirstWriteWins(t *testing.T) {
	s := newTestStore(t)

	first := &models.Narration{
		POIID: "osm:5", Lang: "en", Style: "guide",
		Text: "first text", Confidence: 0.85, CreatedAt: time.Now(),
	}
	second := &models.Narration{
		POIID: "osm:5", Lang: "en", Style: "guide",
		Text: "second text", Confidence: 0.75, CreatedAt: time.Now(),
	}

	stored, wrote, err := s.PutNarrationIfAbsent(first)
	if err != nil {
		t.Fatal(err)
	}
	if !wrote || stored.Text != "first text" {
		t.Fatalf("first put: wrote=%v text=%q", wrote, stored.Text)
	}

	stored, wrote, err = s.PutNarrationIfAbsent(second)
	if err != nil {
		t.Fatal(err)
	}
	if wrote {
		t.Error("second put must not overwrite")
	}
	if stored.Text != "first text" {
		t.Errorf("racer must observe first writer's text, got %q", stored.Text)
	}

	// Cache probe sees the first value too
	got, found, err := s.GetNarration("osm:5", "en", "guide")
	if err != nil || !found {
		t.Fatalf("GetNarration: found=%v err=%v", found, err)
	}
	if got.Text != "first text" || got.Confidence != 0.85 {
		t.Errorf("unexpected cached narration: %+v", got)
	}
}

func TestNarrationKey_SeparatesStyleAndLang(t *testing.T) {
	s := newTestStore(t)

	base := &models.Narration{POIID: "p", Lang: "en", Style: "guide", Text: "guide text"}
	kids := &models.Narration{POIID: "p", Lang: "en", Style: "kids", Text: "kids text"}
	german := &models.Narration{POIID: "p", Lang: "de", Style: "guide", Text: "german text"}

	for _, n := range []*models.Narration{base, kids, german} {
		if _, _, err := s.PutNarrationIfAbsent(n); err != nil {
			t.Fatal(err)
		}
	}

	got, found, _ := s.GetNarration("p", "en", "kids")
	if !found || got.Text != "kids text" {
		t.Errorf("style variant not isolated: %+v", got)
	}
	got, found, _ = s.GetNarration("p", "de", "guide")
	if !found || got.Text != "german text" {
		t.Errorf("language variant not isolated: %+v", got)
	}
}
