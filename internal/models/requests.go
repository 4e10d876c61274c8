// Wayfarer - Location-Based POI Aggregation and Narration
// Copyright 2026 Wayfarer Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wayfarerhq/wayfarer

package models

// NearbyRequest is the typed payload of a nearby-POI search. Populated
// from query parameters by the API layer and validated before use.
type NearbyRequest struct {
	Latitude  float64 `json:"lat" validate:"latitude"`
	Longitude float64 `json:"lon" validate:"longitude"`
	RadiusM   float64 `json:"radius_m" validate:"omitempty,min=1,max=5000"`
	Lang      string  `json:"lang" validate:"omitempty,locale"`
	Limit     int     `json:"limit" validate:"omitempty,min=1,max=100"`

	// Enrich asks for a cell refresh before the radius query. Off by
	// default; plain searches read the store as-is.
	Enrich bool `json:"enrich"`
}

// NarrationRequest asks for a narration of a POI in a language and
// style. Unknown styles fall back to the default style rather than
// failing validation.
type NarrationRequest struct {
	POIID string `json:"poi_id" validate:"required,max=128"`
	Lang  string `json:"lang" validate:"omitempty,locale"`
	Style string `json:"style" validate:"omitempty,max=32"`
}

// ContributionRequest is a user-submitted POI correction or addition.
type ContributionRequest struct {
	POIID string `json:"poi_id" validate:"required,max=128"`
	Kind  string `json:"kind" validate:"required,oneof=correction addition photo_note"`
	Body  string `json:"body" validate:"required,min=3,max=4000"`
}

// ReviewRequest resolves a pending contribution.
type ReviewRequest struct {
	Status string `json:"status" validate:"required,oneof=approved rejected"`
}

// EnrichRequested is the queue payload asking the enrichment worker to
// refresh one cell. Published by the nearby orchestrator, consumed by
// the write-behind worker.
type EnrichRequested struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	RadiusM   float64 `json:"radius_m"`
	Lang      string  `json:"lang,omitempty"`
}
