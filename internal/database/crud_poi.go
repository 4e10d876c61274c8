// Wayfarer - Location-Based POI Aggregation and Narration
// Copyright 2026 Wayfarer Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wayfarerhq/wayfarer

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/wayfarerhq/wayfarer/internal/geo"
	"github.com/wayfarerhq/wayfarer/internal/match"
	"github.com/wayfarerhq/wayfarer/internal/models"
)

// ErrNotFound is returned by single-row lookups that matched nothing.
var ErrNotFound = errors.New("not found")

// haversineSQL computes the great-circle distance in meters between a
// row's coordinates and the bound (?, ?) = (lat, lon) parameters.
const haversineSQL = `2 * 6371000 * asin(sqrt(
	pow(sin(radians(latitude - ?) / 2), 2) +
	cos(radians(?)) * cos(radians(latitude)) *
	pow(sin(radians(longitude - ?) / 2), 2)))`

// poiColumns is the select list matched by scanPOI.
const poiColumns = `id, name, latitude, longitude, wikidata_qid, wiki_title,
	wiki_lang, summary, tags, source, active, created_at, updated_at`

// POIWithDistance pairs a stored POI with its distance from a query point.
type POIWithDistance struct {
	models.POI
	DistanceM float64
}

// UpsertPOI inserts or updates a POI keyed by id and reports whether a
// new row was created. The existence check and the write run under a
// per-POI lock so concurrent enrichment of overlapping cells cannot
// double-report an insert.
func (db *DB) UpsertPOI(ctx context.Context, poi *models.POI) (bool, error) {
	mu := db.acquirePOILock(poi.ID)
	defer db.releasePOILock(poi.ID, mu)

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	now := time.Now()
	if poi.CreatedAt.IsZero() {
		poi.CreatedAt = now
	}
	poi.UpdatedAt = now

	tagsJSON, err := json.Marshal(poi.Tags)
	if err != nil {
		return false, fmt.Errorf("failed to marshal tags: %w", err)
	}

	var exists bool
	err = db.conn.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM pois WHERE id = ?)`, poi.ID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check poi existence: %w", err)
	}

	query := `INSERT INTO pois (
		id, name, name_norm, latitude, longitude, wikidata_qid, wiki_title,
		wiki_lang, summary, tags, source, active, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		name = EXCLUDED.name,
		name_norm = EXCLUDED.name_norm,
		latitude = EXCLUDED.latitude,
		longitude = EXCLUDED.longitude,
		wikidata_qid = EXCLUDED.wikidata_qid,
		wiki_title = EXCLUDED.wiki_title,
		wiki_lang = EXCLUDED.wiki_lang,
		summary = EXCLUDED.summary,
		tags = EXCLUDED.tags,
		source = EXCLUDED.source,
		active = EXCLUDED.active,
		updated_at = EXCLUDED.updated_at`

	err = withRetry(ctx, func() error {
		_, err := db.conn.ExecContext(ctx, query,
			poi.ID, poi.Name, match.NormalizeName(poi.Name),
			poi.Latitude, poi.Longitude,
			nullable(poi.WikidataQID), nullable(poi.WikiTitle), nullable(poi.WikiLang),
			nullable(poi.Summary), string(tagsJSON), poi.Source, poi.Active,
			poi.CreatedAt, poi.UpdatedAt)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to upsert poi: %w", err)
	}

	return !exists, nil
}

// GetPOI retrieves one POI by id. Returns ErrNotFound when absent.
func (db *DB) GetPOI(ctx context.Context, id string) (*models.POI, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx,
		`SELECT `+poiColumns+` FROM pois WHERE id = ?`, id)
	poi, err := scanPOI(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get poi: %w", err)
	}
	return poi, nil
}

// FindByWikidataQID returns the POI carrying the given Wikidata QID,
// or nil when no POI matches. The strongest dedup key.
func (db *DB) FindByWikidataQID(ctx context.Context, qid string) (*models.POI, error) {
	if qid == "" {
		return nil, nil
	}
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx,
		`SELECT `+poiColumns+` FROM pois WHERE wikidata_qid = ? LIMIT 1`, qid)
	poi, err := scanPOI(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find poi by qid: %w", err)
	}
	return poi, nil
}

// FindByWikiTitle returns the POI whose wiki page in lang has the given
// title, or nil. The second-priority dedup key.
func (db *DB) FindByWikiTitle(ctx context.Context, lang, title string) (*models.POI, error) {
	if lang == "" || title == "" {
		return nil, nil
	}
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx,
		`SELECT `+poiColumns+` FROM pois WHERE wiki_lang = ? AND wiki_title = ? LIMIT 1`,
		lang, title)
	poi, err := scanPOI(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find poi by wiki title: %w", err)
	}
	return poi, nil
}

// FindByNameNear returns the nearest POI within radiusM meters whose
// normalized name equals the normalized input, or nil. The weakest
// dedup key: same place with a differently-spelled name slips through.
func (db *DB) FindByNameNear(ctx context.Context, name string, lat, lon, radiusM float64) (*models.POI, error) {
	nameNorm := match.NormalizeName(name)
	if nameNorm == "" {
		return nil, nil
	}
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	minLat, maxLat, minLon, maxLon := geo.BoundingBox(lat, lon, radiusM)

	query := `SELECT ` + poiColumns + `, ` + haversineSQL + ` AS distance_m
		FROM pois
		WHERE name_norm = ?
		  AND latitude BETWEEN ? AND ?
		  AND longitude BETWEEN ? AND ?
		  AND distance_m <= ?
		ORDER BY distance_m ASC
		LIMIT 1`

	row := db.conn.QueryRowContext(ctx, query,
		lat, lat, lon,
		nameNorm, minLat, maxLat, minLon, maxLon, radiusM)

	var pwd POIWithDistance
	err := scanPOIWithDistance(row, &pwd)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find poi by name near: %w", err)
	}
	return &pwd.POI, nil
}

// POIsWithinRadius returns POIs within radiusM meters of the point,
// ordered by distance ascending. The bounding box prefilter keeps the
// haversine evaluation off most rows.
func (db *DB) POIsWithinRadius(ctx context.Context, lat, lon, radiusM float64, activeOnly bool, limit int) ([]POIWithDistance, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	minLat, maxLat, minLon, maxLon := geo.BoundingBox(lat, lon, radiusM)

	var sb strings.Builder
	sb.WriteString(`SELECT ` + poiColumns + `, ` + haversineSQL + ` AS distance_m
		FROM pois
		WHERE latitude BETWEEN ? AND ?
		  AND longitude BETWEEN ? AND ?
		  AND distance_m <= ?`)
	if activeOnly {
		sb.WriteString(` AND active`)
	}
	sb.WriteString(` ORDER BY distance_m ASC LIMIT ?`)

	rows, err := db.conn.QueryContext(ctx, sb.String(),
		lat, lat, lon,
		minLat, maxLat, minLon, maxLon, radiusM, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pois within radius: %w", err)
	}
	defer rows.Close()

	var results []POIWithDistance
	for rows.Next() {
		var pwd POIWithDistance
		if err := scanPOIWithDistance(rows, &pwd); err != nil {
			return nil, fmt.Errorf("failed to scan poi row: %w", err)
		}
		results = append(results, pwd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating poi rows: %w", err)
	}

	return results, nil
}

// DeactivatePOIsExcept marks inactive every active POI within radiusM
// of the point whose id is not in keepIDs. Only the refreshed cell is
// touched; POIs elsewhere keep their state. Returns the number of
// deactivated rows.
func (db *DB) DeactivatePOIsExcept(ctx context.Context, keepIDs []string, lat, lon, radiusM float64) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	minLat, maxLat, minLon, maxLon := geo.BoundingBox(lat, lon, radiusM)

	var sb strings.Builder
	sb.WriteString(`UPDATE pois SET active = FALSE, updated_at = ?
		WHERE active
		  AND latitude BETWEEN ? AND ?
		  AND longitude BETWEEN ? AND ?
		  AND ` + haversineSQL + ` <= ?`)

	args := []interface{}{
		time.Now(),
		minLat, maxLat, minLon, maxLon,
		lat, lat, lon, radiusM,
	}

	if len(keepIDs) > 0 {
		placeholders, inArgs := buildInClause(keepIDs)
		sb.WriteString(fmt.Sprintf(` AND id NOT IN (%s)`, placeholders))
		args = append(args, inArgs...)
	}

	var affected int64
	err := withRetry(ctx, func() error {
		res, err := db.conn.ExecContext(ctx, sb.String(), args...)
		if err != nil {
			return err
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate pois: %w", err)
	}

	return affected, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanPOI scans the poiColumns select list.
func scanPOI(row rowScanner) (*models.POI, error) {
	var poi models.POI
	var qid, wikiTitle, wikiLang, summary, tags sql.NullString

	err := row.Scan(
		&poi.ID, &poi.Name, &poi.Latitude, &poi.Longitude,
		&qid, &wikiTitle, &wikiLang, &summary, &tags,
		&poi.Source, &poi.Active, &poi.CreatedAt, &poi.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	poi.WikidataQID = qid.String
	poi.WikiTitle = wikiTitle.String
	poi.WikiLang = wikiLang.String
	poi.Summary = summary.String
	if tags.Valid && tags.String != "" && tags.String != "null" {
		if err := json.Unmarshal([]byte(tags.String), &poi.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}

	return &poi, nil
}

// scanPOIWithDistance scans poiColumns plus the trailing distance_m.
func scanPOIWithDistance(row rowScanner, pwd *POIWithDistance) error {
	var qid, wikiTitle, wikiLang, summary, tags sql.NullString

	err := row.Scan(
		&pwd.ID, &pwd.Name, &pwd.Latitude, &pwd.Longitude,
		&qid, &wikiTitle, &wikiLang, &summary, &tags,
		&pwd.Source, &pwd.Active, &pwd.CreatedAt, &pwd.UpdatedAt,
		&pwd.DistanceM,
	)
	if err != nil {
		return err
	}

	pwd.WikidataQID = qid.String
	pwd.WikiTitle = wikiTitle.String
	pwd.WikiLang = wikiLang.String
	pwd.Summary = summary.String
	if tags.Valid && tags.String != "" && tags.String != "null" {
		if err := json.Unmarshal([]byte(tags.String), &pwd.Tags); err != nil {
			return fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}

	return nil
}

// buildInClause builds a parameterized IN clause for the given values.
func buildInClause(values []string) (string, []interface{}) {
	placeholders := make([]string, len(values))
	args := make([]interface{}, len(values))
	for i, v := range values {
		placeholders[i] = "?"
		args[i] = v
	}
	return strings.Join(placeholders, ", "), args
}

// nullable maps empty strings to SQL NULL.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
