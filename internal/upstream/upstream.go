// Wayfarer - Location-Based POI Aggregation and Narration
// Copyright 2026 Wayfarer Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wayfarerhq/wayfarer

// Package upstream wraps outbound HTTP calls to external providers
// (Overpass, Wikipedia, the narration model) with the shared failure
// handling: a circuit breaker per provider, client-side rate limiting
// and uniform metrics.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/wayfarerhq/wayfarer/internal/logging"
	"github.com/wayfarerhq/wayfarer/internal/metrics"
)

// ErrUnavailable marks provider failures the caller should treat as
// transient: network errors, 5xx responses, 429s and an open breaker.
var ErrUnavailable = errors.New("upstream unavailable")

// maxResponseBytes caps response bodies read into memory.
const maxResponseBytes = 8 << 20 // 8MB

// Caller issues requests to one provider through its breaker and limiter.
type Caller struct {
	name      string
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker[[]byte]
	limiter   *rate.Limiter
	userAgent string
}

// Options configures a provider Caller.
type Options struct {
	// Name labels the provider in logs, metrics and breaker state.
	Name string

	// Timeout bounds each HTTP round trip.
	Timeout time.Duration

	// RatePerSecond limits outbound request rate. Zero disables the
	// limiter.
	RatePerSecond float64

	// UserAgent is sent on every request. Overpass and Wikimedia both
	// require an identifying agent.
	UserAgent string
}

// New creates a Caller for one provider.
func New(opts Options) *Caller {
	settings := gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("provider", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Upstream circuit breaker state change")
		},
	}

	var limiter *rate.Limiter
	if opts.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
	}

	return &Caller{
		name:      opts.Name,
		client:    &http.Client{Timeout: opts.Timeout},
		breaker:   gobreaker.NewCircuitBreaker[[]byte](settings),
		limiter:   limiter,
		userAgent: opts.UserAgent,
	}
}

// Do executes the request through the limiter and breaker, returning
// the response body. Transport errors, 5xx and 429 responses come back
// wrapped in ErrUnavailable; other non-2xx statuses are permanent
// errors the breaker ignores for trip accounting purposes.
func (c *Caller) Do(ctx context.Context, req *http.Request) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	body, err := c.breaker.Execute(func() ([]byte, error) {
		resp, err := c.client.Do(req.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, c.name, err)
		}
		defer resp.Body.Close()

		payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: reading response: %v", ErrUnavailable, c.name, err)
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return payload, nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return nil, fmt.Errorf("%w: %s: status %d", ErrUnavailable, c.name, resp.StatusCode)
		default:
			return nil, fmt.Errorf("%s: unexpected status %d", c.name, resp.StatusCode)
		}
	})

	metrics.UpstreamRequestDuration.WithLabelValues(c.name).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.UpstreamRequestsTotal.WithLabelValues(c.name, "error").Inc()
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s: circuit open", ErrUnavailable, c.name)
		}
		return nil, err
	}

	metrics.UpstreamRequestsTotal.WithLabelValues(c.name, "success").Inc()
	return body, nil
}
