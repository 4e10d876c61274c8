// Wayfarer - Location-Based POI Aggregation and Narration
// Copyright 2026 Wayfarer Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wayfarerhq/wayfarer

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wayfarerhq/wayfarer/internal/auth"
	"github.com/wayfarerhq/wayfarer/internal/config"
)

// Router assembles the HTTP surface.
type Router struct {
	handler    *Handler
	middleware *ChiMiddleware
}

// NewRouter creates the router from its handler and security settings.
func NewRouter(handler *Handler, security config.SecurityConfig) *Router {
	return &Router{
		handler:    handler,
		middleware: NewChiMiddleware(security),
	}
}

// Setup configures all HTTP routes.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to all routes in order.
	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.middleware.CORS())
	r.Use(RequestLogging())
	r.Use(auth.Middleware)

	// Health probes stay outside the rate limit so orchestrators can
	// poll them freely.
	r.Get("/health", router.handler.Health)
	r.Get("/ready", router.handler.Ready)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(router.middleware.RateLimit())
		r.Use(PrometheusMetrics())

		r.Route("/pois", func(r chi.Router) {
			r.Get("/nearby", router.handler.Nearby)
			r.Get("/{id}", router.handler.GetPOI)
			r.Get("/{id}/documents", router.handler.GetPOIDocuments)
			r.Post("/{id}/hydrate", router.handler.HydratePOI)
		})

		r.Route("/narrations", func(r chi.Router) {
			r.Post("/", router.handler.CreateNarration)
			r.Get("/{poiID}", router.handler.GetNarration)
		})

		r.Route("/contributions", func(r chi.Router) {
			r.Post("/", router.handler.CreateContribution)
			r.Get("/", router.handler.ListContributions)
			r.Post("/{id}/review", router.handler.ReviewContribution)
		})

		r.Get("/config", router.handler.GetAppConfig)
	})

	r.Route("/auth", func(r chi.Router) {
		r.Use(router.middleware.RateLimit())
		r.Get("/me", router.handler.AuthMe)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
