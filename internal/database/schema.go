// Wayfarer - Location-Based POI Aggregation and Narration
// Copyright 2026 Wayfarer Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wayfarerhq/wayfarer

package database

// getTableCreationQueries returns the schema DDL in creation order.
// Statements are idempotent; the schema is applied on every startup.
func getTableCreationQueries() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS pois (
			id VARCHAR PRIMARY KEY,
			name VARCHAR NOT NULL,
			name_norm VARCHAR NOT NULL,
			latitude DOUBLE NOT NULL,
			longitude DOUBLE NOT NULL,
			wikidata_qid VARCHAR,
			wiki_title VARCHAR,
			wiki_lang VARCHAR,
			summary VARCHAR,
			tags VARCHAR,
			source VARCHAR NOT NULL DEFAULT 'osm',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_pois_coords ON pois (latitude, longitude)`,
		`CREATE INDEX IF NOT EXISTS idx_pois_qid ON pois (wikidata_qid)`,
		`CREATE INDEX IF NOT EXISTS idx_pois_wiki ON pois (wiki_lang, wiki_title)`,
		`CREATE INDEX IF NOT EXISTS idx_pois_name_norm ON pois (name_norm)`,

		`CREATE TABLE IF NOT EXISTS poi_documents (
			id VARCHAR PRIMARY KEY,
			poi_id VARCHAR NOT NULL,
			lang VARCHAR NOT NULL,
			title VARCHAR NOT NULL,
			text VARCHAR NOT NULL,
			source_url VARCHAR,
			license VARCHAR,
			fetched_at TIMESTAMP NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_docs_poi ON poi_documents (poi_id, lang)`,

		`CREATE TABLE IF NOT EXISTS usage_log (
			id VARCHAR PRIMARY KEY,
			user_sub VARCHAR,
			event VARCHAR NOT NULL,
			poi_id VARCHAR,
			lang VARCHAR,
			style VARCHAR,
			created_at TIMESTAMP NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_usage_event ON usage_log (event, created_at)`,

		`CREATE TABLE IF NOT EXISTS contributions (
			id VARCHAR PRIMARY KEY,
			poi_id VARCHAR NOT NULL,
			user_sub VARCHAR,
			kind VARCHAR NOT NULL,
			body VARCHAR NOT NULL,
			status VARCHAR NOT NULL DEFAULT 'pending',
			created_at TIMESTAMP NOT NULL,
			reviewed_at TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_contrib_status ON contributions (status, created_at)`,

		`CREATE TABLE IF NOT EXISTS app_config (
			id INTEGER PRIMARY KEY,
			document VARCHAR NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
	}
}
