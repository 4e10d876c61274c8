// Wayfarer - Location-Based POI Aggregation and Narration
// Copyright 2026 Wayfarer Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wayfarerhq/wayfarer

// Package database implements the durable DuckDB store: POIs, their
// source documents, the usage log, user contributions and the
// client-facing app config document.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // registers the "duckdb" driver

	"github.com/wayfarerhq/wayfarer/internal/config"
	"github.com/wayfarerhq/wayfarer/internal/logging"
)

// defaultQueryTimeout bounds queries whose caller passed a context
// without a deadline.
const defaultQueryTimeout = 30 * time.Second

// DB wraps the DuckDB connection with schema management and the
// per-key write locks that serialize upserts on the same POI.
type DB struct {
	conn *sql.DB

	// poiLocks serializes concurrent upserts per POI id. DuckDB's
	// optimistic concurrency turns same-row races into transaction
	// conflicts; taking the lock first avoids the retry storm.
	poiLocks sync.Map
}

// New opens (or creates) the DuckDB database at cfg.Path and ensures
// the schema exists. Use ":memory:" as path for tests.
func New(cfg config.DatabaseConfig) (*DB, error) {
	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	dsn := cfg.Path
	if dsn != ":memory:" && dsn != "" {
		dsn = fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s",
			cfg.Path, threads, cfg.MaxMemory)
	}

	conn, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.createTables(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logging.Info().Str("path", cfg.Path).Int("threads", threads).Msg("Database ready")
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies the connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// createTables creates all tables if they do not exist.
func (db *DB) createTables() error {
	for _, query := range getTableCreationQueries() {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

// ensureContext returns ctx with a default timeout attached when the
// caller did not set a deadline.
func (db *DB) ensureContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultQueryTimeout)
}

// acquirePOILock locks writes for one POI id.
func (db *DB) acquirePOILock(id string) *sync.Mutex {
	muIface, _ := db.poiLocks.LoadOrStore(id, &sync.Mutex{})
	mu := muIface.(*sync.Mutex)
	mu.Lock()
	return mu
}

// releasePOILock unlocks and drops the per-POI lock.
func (db *DB) releasePOILock(id string, mu *sync.Mutex) {
	mu.Unlock()
	db.poiLocks.Delete(id)
}

// isTransactionConflict reports whether err is a DuckDB optimistic
// concurrency conflict worth retrying.
func isTransactionConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "transactioncontext") ||
		strings.Contains(msg, "conflict") ||
		strings.Contains(msg, "write-write")
}

// withRetry runs fn with exponential backoff on transaction conflicts.
func withRetry(ctx context.Context, fn func() error) error {
	const maxRetries = 3
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return fmt.Errorf("operation timed out or canceled: %w", ctx.Err())
		}
		if !isTransactionConflict(err) {
			return err
		}

		if attempt < maxRetries-1 {
			backoff := time.Millisecond * time.Duration(1<<uint(attempt)) // 1ms, 2ms, 4ms
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}
