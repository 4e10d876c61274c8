// Wayfarer - Location-Based POI Aggregation and Narration
// Copyright 2026 Wayfarer Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wayfarerhq/wayfarer

// Package metrics exposes Prometheus collectors for the HTTP surface,
// the enrichment pipeline, the caches and the upstream clients.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestDuration tracks handler latency by route and status.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "wayfarer",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route, method and status code.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"route", "method", "status"})

	// HTTPRequestsTotal counts requests by route and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wayfarer",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests by route, method and status code.",
	}, []string{"route", "method", "status"})

	// EnrichCellsTotal counts enrichment cell refreshes by outcome
	// (enriched, throttled, upstream_error).
	EnrichCellsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wayfarer",
		Subsystem: "enrich",
		Name:      "cells_total",
		Help:      "Enrichment cell refreshes by outcome.",
	}, []string{"outcome"})

	// EnrichPOIsTotal counts POI writes by action (inserted, updated,
	// deactivated).
	EnrichPOIsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wayfarer",
		Subsystem: "enrich",
		Name:      "pois_total",
		Help:      "POI store writes from the enrichment pipeline by action.",
	}, []string{"action"})

	// EnrichDuration tracks end-to-end cell enrichment latency.
	EnrichDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "wayfarer",
		Subsystem: "enrich",
		Name:      "cell_duration_seconds",
		Help:      "End-to-end enrichment latency per cell.",
		Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	})

	// CacheOpsTotal counts cache operations by cache name and result
	// (hit, miss, write, race_lost).
	CacheOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wayfarer",
		Subsystem: "cache",
		Name:      "ops_total",
		Help:      "Cache operations by cache and result.",
	}, []string{"cache", "result"})

	// UpstreamRequestsTotal counts upstream calls by provider and outcome.
	UpstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wayfarer",
		Subsystem: "upstream",
		Name:      "requests_total",
		Help:      "Upstream provider calls by provider and outcome.",
	}, []string{"provider", "outcome"})

	// UpstreamRequestDuration tracks upstream call latency by provider.
	UpstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "wayfarer",
		Subsystem: "upstream",
		Name:      "request_duration_seconds",
		Help:      "Upstream provider call latency.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"provider"})

	// NarrationsTotal counts narration syntheses by source
	// (cache, llm, fallback).
	NarrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wayfarer",
		Subsystem: "narration",
		Name:      "synthesized_total",
		Help:      "Narrations served by source.",
	}, []string{"source"})

	// QueueMessagesTotal counts enrichment queue messages by result
	// (published, processed, nacked, poisoned).
	QueueMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wayfarer",
		Subsystem: "queue",
		Name:      "messages_total",
		Help:      "Enrichment queue messages by result.",
	}, []string{"result"})
)
