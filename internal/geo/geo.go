// Wayfarer - Location-Based POI Aggregation and Narration
// Copyright 2026 Wayfarer Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wayfarerhq/wayfarer

// Package geo provides the geodesy primitives shared by the POI store,
// the enrichment pipeline and the cache key builders.
package geo

import (
	"fmt"
	"math"
	"strings"
)

// EarthRadiusM is the mean earth radius in meters used by Haversine.
const EarthRadiusM = 6371000.0

// Haversine returns the great-circle distance in meters between two
// WGS84 coordinates.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const degToRad = math.Pi / 180.0

	phi1 := lat1 * degToRad
	phi2 := lat2 * degToRad
	dPhi := (lat2 - lat1) * degToRad
	dLambda := (lon2 - lon1) * degToRad

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusM * c
}

// ValidateCoordinates checks that latitude and longitude are within
// valid WGS84 ranges.
func ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return fmt.Errorf("coordinates must be finite numbers")
	}
	if lat < -90 || lat > 90 {
		return fmt.Errorf("latitude %f out of range [-90, 90]", lat)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("longitude %f out of range [-180, 180]", lon)
	}
	return nil
}

// RoundCoord rounds a coordinate to the given number of decimal places.
// Four places (~11 m at the equator) is the bucket resolution used by
// the throttle and search caches.
func RoundCoord(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

// BucketRadius rounds a radius in meters to the nearest 50 m bucket,
// with a 50 m floor. Requests for 100 m and 120 m land in the same
// bucket so they share one throttle window.
func BucketRadius(radiusM float64) int {
	b := int(math.Round(radiusM/50.0)) * 50
	if b < 50 {
		b = 50
	}
	return b
}

// CellKey builds the throttle bucket key for an enrichment fetch:
// coordinates rounded to 4 decimals plus the radius bucket.
func CellKey(lat, lon, radiusM float64) string {
	return fmt.Sprintf("%.4f,%.4f,r%d", RoundCoord(lat, 4), RoundCoord(lon, 4), BucketRadius(radiusM))
}

// SearchKey builds the search-cache key for a nearby query.
func SearchKey(lat, lon, radiusM float64, lang string) string {
	return fmt.Sprintf("%.4f,%.4f,r%d,%s", RoundCoord(lat, 4), RoundCoord(lon, 4), BucketRadius(radiusM), lang)
}

// countryLang maps ISO 3166-1 alpha-2 country codes to the Wikipedia
// language edition used for enrichment in that country.
var countryLang = map[string]string{
	"DE": "de",
	"IT": "it",
	"FR": "fr",
	"CH": "de",
}

// LangForCountry returns the enrichment language for a country code,
// defaulting to English for unmapped countries or empty input.
func LangForCountry(cc string) string {
	if lang, ok := countryLang[strings.ToUpper(strings.TrimSpace(cc))]; ok {
		return lang
	}
	return "en"
}

// BoundingBox returns a lat/lon box that fully contains the circle of
// radiusM meters around the center. Used to prefilter SQL radius scans
// before the exact haversine check.
func BoundingBox(lat, lon, radiusM float64) (minLat, maxLat, minLon, maxLon float64) {
	latDelta := radiusM / 111320.0
	lonDelta := latDelta
	if cosLat := math.Cos(lat * math.Pi / 180.0); cosLat > 0.01 {
		lonDelta = radiusM / (111320.0 * cosLat)
	} else {
		// Near the poles every longitude is within reach.
		lonDelta = 180.0
	}

	minLat = math.Max(lat-latDelta, -90)
	maxLat = math.Min(lat+latDelta, 90)
	minLon = math.Max(lon-lonDelta, -180)
	maxLon = math.Min(lon+lonDelta, 180)
	return minLat, maxLat, minLon, maxLon
}
