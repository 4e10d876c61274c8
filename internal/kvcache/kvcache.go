// Wayfarer - Location-Based POI Aggregation and Narration
// Copyright 2026 Wayfarer Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wayfarerhq/wayfarer

// Package kvcache provides the Badger-backed TTL caches: the enrichment
// throttle, the nearby-search refresh marker and the narration cache.
//
// All three share one Badger database and are separated by key prefix.
// Badger's transactional writes give the two properties the pipeline
// depends on: the throttle admits at most one caller per key per TTL
// window, and the narration cache keeps the first written value until
// it expires.
package kvcache

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/wayfarerhq/wayfarer/internal/config"
	"github.com/wayfarerhq/wayfarer/internal/metrics"
	"github.com/wayfarerhq/wayfarer/internal/models"
)

// Key prefixes separating the three caches inside one Badger DB.
const (
	prefixThrottle  = "throttle:"
	prefixSearch    = "search:"
	prefixNarration = "narration:"
)

// maxTxnRetries bounds retries on Badger transaction conflicts.
const maxTxnRetries = 3

// Store wraps a Badger database with the three cache surfaces.
type Store struct {
	db *badger.DB

	throttleTTL  time.Duration
	searchTTL    time.Duration
	narrationTTL time.Duration
}

// Open opens (or creates) the Badger database at cfg.Path. With
// cfg.InMemory set, no files are created; tests use this mode.
func Open(cfg config.CacheConfig) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithLogger(nil).
		WithInMemory(cfg.InMemory)
	if cfg.InMemory {
		opts = opts.WithDir("").WithValueDir("")
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	return &Store{
		db:           db,
		throttleTTL:  cfg.ThrottleTTL,
		searchTTL:    cfg.SearchTTL,
		narrationTTL: cfg.NarrationTTL,
	}, nil
}

// Close closes the underlying Badger database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunGC runs one Badger value-log GC cycle. Called periodically by the
// maintenance service; badger.ErrNoRewrite means there was nothing to
// collect and is not an error.
func (s *Store) RunGC() error {
	err := s.db.RunValueLogGC(0.5)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return err
	}
	return nil
}

// Acquire attempts to claim the throttle slot for key. It returns true
// when this caller won the slot and false when another fetch claimed it
// within the TTL window. The check and the write happen in a single
// transaction, so concurrent callers on the same key see exactly one
// true.
func (s *Store) Acquire(key string) (bool, error) {
	fullKey := []byte(prefixThrottle + key)

	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		acquired := false
		err := s.db.Update(func(txn *badger.Txn) error {
			_, err := txn.Get(fullKey)
			if err == nil {
				// Slot already claimed within the TTL window.
				return nil
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}

			entry := badger.NewEntry(fullKey, []byte{1}).WithTTL(s.throttleTTL)
			if err := txn.SetEntry(entry); err != nil {
				return err
			}
			acquired = true
			return nil
		})

		if errors.Is(err, badger.ErrConflict) {
			// A concurrent transaction committed on this key; rerun
			// the check so the next attempt reads the winner's entry.
			continue
		}
		if err != nil {
			return false, fmt.Errorf("throttle acquire failed: %w", err)
		}

		if acquired {
			metrics.CacheOpsTotal.WithLabelValues("throttle", "write").Inc()
		} else {
			metrics.CacheOpsTotal.WithLabelValues("throttle", "hit").Inc()
		}
		return acquired, nil
	}

	// Every attempt conflicted: the key was just written by a racer.
	metrics.CacheOpsTotal.WithLabelValues("throttle", "race_lost").Inc()
	return false, nil
}

// SearchedRecently reports whether a refresh was recorded for this
// search key within the search TTL. The marker carries no payload:
// nearby responses are always built from the POI store, the cache only
// decides whether the cell needs another refresh.
func (s *Store) SearchedRecently(key string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(prefixSearch + key))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		metrics.CacheOpsTotal.WithLabelValues("search", "miss").Inc()
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache read failed: %w", err)
	}
	metrics.CacheOpsTotal.WithLabelValues("search", "hit").Inc()
	return true, nil
}

// MarkSearched records that the cell behind this search key was
// refreshed, with the search TTL.
func (s *Store) MarkSearched(key string) error {
	metrics.CacheOpsTotal.WithLabelValues("search", "write").Inc()
	err := s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(prefixSearch+key), []byte{1}).WithTTL(s.searchTTL)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("cache write failed: %w", err)
	}
	return nil
}

// narrationKey builds the cache key for one (POI, language, style).
func narrationKey(poiID, lang, style string) string {
	return fmt.Sprintf("%s%s|%s|%s", prefixNarration, poiID, lang, style)
}

// GetNarration returns the cached narration, or found=false.
func (s *Store) GetNarration(poiID, lang, style string) (*models.Narration, bool, error) {
	var n models.Narration
	found, err := s.get(narrationKey(poiID, lang, style), &n)
	if err != nil || !found {
		metrics.CacheOpsTotal.WithLabelValues("narration", "miss").Inc()
		return nil, false, err
	}
	metrics.CacheOpsTotal.WithLabelValues("narration", "hit").Inc()
	return &n, true, nil
}

// PutNarrationIfAbsent stores n unless a narration already exists for
// its (POI, language, style). It returns the narration that is in the
// cache after the call and whether this caller wrote it. First write
// wins; racers get the stored value back.
func (s *Store) PutNarrationIfAbsent(n *models.Narration) (*models.Narration, bool, error) {
	key := []byte(narrationKey(n.POIID, n.Lang, n.Style))

	payload, err := json.Marshal(n)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal narration: %w", err)
	}

	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		var existing *models.Narration
		wrote := false

		err := s.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(key)
			if err == nil {
				return item.Value(func(val []byte) error {
					stored := &models.Narration{}
					if err := json.Unmarshal(val, stored); err != nil {
						return fmt.Errorf("failed to unmarshal stored narration: %w", err)
					}
					existing = stored
					return nil
				})
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}

			entry := badger.NewEntry(key, payload).WithTTL(s.narrationTTL)
			if err := txn.SetEntry(entry); err != nil {
				return err
			}
			wrote = true
			return nil
		})

		if errors.Is(err, badger.ErrConflict) {
			// Lost the race; re-read the winner's value.
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("narration cache write failed: %w", err)
		}

		if wrote {
			metrics.CacheOpsTotal.WithLabelValues("narration", "write").Inc()
			return n, true, nil
		}
		metrics.CacheOpsTotal.WithLabelValues("narration", "race_lost").Inc()
		return existing, false, nil
	}

	// Retries exhausted on conflicts; surface whatever is stored now.
	stored, found, err := s.GetNarration(n.POIID, n.Lang, n.Style)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, fmt.Errorf("narration cache write failed: %w", badger.ErrConflict)
	}
	return stored, false, nil
}

// get reads and unmarshals the value at key into out.
func (s *Store) get(key string, out interface{}) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache read failed: %w", err)
	}
	return true, nil
}
