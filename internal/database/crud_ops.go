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
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/wayfarerhq/wayfarer/internal/models"
)

// InsertUsageEvent appends one row to the usage log. Failures are the
// caller's to ignore; the log is best-effort telemetry, not billing.
func (db *DB) InsertUsageEvent(ctx context.Context, ev *models.UsageEvent) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO usage_log (id, user_sub, event, poi_id, lang, style, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, nullable(ev.UserSub), ev.Event, nullable(ev.POIID),
		nullable(ev.Lang), nullable(ev.Style), ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert usage event: %w", err)
	}
	return nil
}

// InsertContribution stores a new pending contribution.
func (db *DB) InsertContribution(ctx context.Context, c *models.Contribution) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.Status == "" {
		c.Status = models.ContribPending
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO contributions (id, poi_id, user_sub, kind, body, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.POIID, nullable(c.UserSub), c.Kind, c.Body, c.Status, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert contribution: %w", err)
	}
	return nil
}

// ListContributions returns contributions filtered by status, newest
// first. An empty status returns all.
func (db *DB) ListContributions(ctx context.Context, status string, limit int) ([]models.Contribution, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT id, poi_id, user_sub, kind, body, status, created_at, reviewed_at
		FROM contributions`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query contributions: %w", err)
	}
	defer rows.Close()

	var contribs []models.Contribution
	for rows.Next() {
		var c models.Contribution
		var userSub sql.NullString
		var reviewedAt sql.NullTime
		if err := rows.Scan(&c.ID, &c.POIID, &userSub, &c.Kind, &c.Body,
			&c.Status, &c.CreatedAt, &reviewedAt); err != nil {
			return nil, fmt.Errorf("failed to scan contribution: %w", err)
		}
		c.UserSub = userSub.String
		if reviewedAt.Valid {
			t := reviewedAt.Time
			c.ReviewedAt = &t
		}
		contribs = append(contribs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating contributions: %w", err)
	}

	return contribs, nil
}

// ReviewContribution resolves a pending contribution to approved or
// rejected. Returns ErrNotFound for unknown ids and an error when the
// contribution was already reviewed.
func (db *DB) ReviewContribution(ctx context.Context, id, status string) (*models.Contribution, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	now := time.Now()
	var affected int64
	err := withRetry(ctx, func() error {
		res, err := db.conn.ExecContext(ctx,
			`UPDATE contributions SET status = ?, reviewed_at = ?
			 WHERE id = ? AND status = ?`,
			status, now, id, models.ContribPending)
		if err != nil {
			return err
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to review contribution: %w", err)
	}

	if affected == 0 {
		// Either unknown or already resolved; distinguish for the caller.
		var exists bool
		if err := db.conn.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM contributions WHERE id = ?)`, id).Scan(&exists); err != nil {
			return nil, fmt.Errorf("failed to check contribution: %w", err)
		}
		if !exists {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("contribution %s already reviewed", id)
	}

	contribs, err := db.ListContributions(ctx, status, 1000)
	if err != nil {
		return nil, err
	}
	for i := range contribs {
		if contribs[i].ID == id {
			return &contribs[i], nil
		}
	}
	return nil, ErrNotFound
}

// GetAppConfig returns the stored app config document, or the built-in
// default when none has been stored yet.
func (db *DB) GetAppConfig(ctx context.Context) (*models.AppConfig, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var doc string
	err := db.conn.QueryRowContext(ctx,
		`SELECT document FROM app_config WHERE id = 1`).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		cfg := models.DefaultAppConfig()
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get app config: %w", err)
	}

	var cfg models.AppConfig
	if err := json.Unmarshal([]byte(doc), &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal app config: %w", err)
	}
	return &cfg, nil
}

// PutAppConfig replaces the app config document.
func (db *DB) PutAppConfig(ctx context.Context, cfg *models.AppConfig) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	doc, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal app config: %w", err)
	}

	err = withRetry(ctx, func() error {
		_, err := db.conn.ExecContext(ctx,
			`INSERT INTO app_config (id, document, updated_at) VALUES (1, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET
				document = EXCLUDED.document,
				updated_at = EXCLUDED.updated_at`,
			string(doc), time.Now())
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to put app config: %w", err)
	}
	return nil
}
