// Wayfarer - Location-Based POI Aggregation and Narration
// Copyright 2026 Wayfarer Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wayfarerhq/wayfarer

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wayfarerhq/wayfarer/internal/models"
)

// InsertDocument stores a fetched source document for a POI. Re-fetches
// of the same (poi, lang, title) replace the previous text.
func (db *DB) InsertDocument(ctx context.Context, doc *models.POIDocument) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.FetchedAt.IsZero() {
		doc.FetchedAt = time.Now()
	}

	// One document per (poi, lang, title); newest fetch wins.
	err := withRetry(ctx, func() error {
		_, err := db.conn.ExecContext(ctx,
			`DELETE FROM poi_documents WHERE poi_id = ? AND lang = ? AND title = ?`,
			doc.POIID, doc.Lang, doc.Title)
		if err != nil {
			return err
		}
		_, err = db.conn.ExecContext(ctx,
			`INSERT INTO poi_documents (id, poi_id, lang, title, text, source_url, license, fetched_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			doc.ID, doc.POIID, doc.Lang, doc.Title, doc.Text,
			nullable(doc.SourceURL), nullable(doc.License), doc.FetchedAt)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

// DocumentsForPOI returns the documents attached to a POI. When lang is
// non-empty, documents in that language sort first; within a language
// the newest fetch sorts first.
func (db *DB) DocumentsForPOI(ctx context.Context, poiID, lang string) ([]models.POIDocument, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, poi_id, lang, title, text, source_url, license, fetched_at
		 FROM poi_documents
		 WHERE poi_id = ?
		 ORDER BY CASE WHEN lang = ? THEN 0 ELSE 1 END, fetched_at DESC`,
		poiID, lang)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []models.POIDocument
	for rows.Next() {
		var doc models.POIDocument
		var sourceURL, license sql.NullString
		if err := rows.Scan(&doc.ID, &doc.POIID, &doc.Lang, &doc.Title, &doc.Text,
			&sourceURL, &license, &doc.FetchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc.SourceURL = sourceURL.String
		doc.License = license.String
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}

	return docs, nil
}
