// Wayfarer - Location-Based POI Aggregation and Narration
// Copyright 2026 Wayfarer Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wayfarerhq/wayfarer

// Package auth extracts an optional caller identity from bearer tokens.
//
// Wayfarer does not gate any endpoint on authentication; tokens are
// issued and verified by the fronting identity provider. The server
// only reads the identity claims out of the token so usage events and
// contributions can carry an attributed subject. A missing or
// unreadable token degrades to the anonymous identity, never to an
// error.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wayfarerhq/wayfarer/internal/models"
)

// ErrNoToken indicates the request carried no bearer token.
var ErrNoToken = errors.New("no bearer token")

type contextKey struct{}

// identityKey stores the caller identity in the request context.
var identityKey = contextKey{}

// tokenClaims is the claim subset Wayfarer reads from ID tokens.
type tokenClaims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// ParseSoft extracts the identity claims from a bearer token without
// verifying its signature. Verification happened at the edge; here the
// claims only attribute usage.
func ParseSoft(token string) (*models.Identity, error) {
	claims := &tokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, jwt.ErrTokenRequiredClaimMissing
	}
	return &models.Identity{
		Subject: claims.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
	}, nil
}

// FromRequest reads the Authorization header and parses the identity.
func FromRequest(r *http.Request) (*models.Identity, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, ErrNoToken
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return nil, ErrNoToken
	}
	return ParseSoft(strings.TrimSpace(token))
}

// Middleware attaches the caller identity to the request context. All
// requests pass through; an unreadable token yields the anonymous
// identity.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := FromRequest(r)
		if err != nil {
			identity = &models.Identity{Anonymous: true}
		}
		ctx := context.WithValue(r.Context(), identityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IdentityFromContext returns the caller identity, anonymous when the
// middleware did not run or found no token.
func IdentityFromContext(ctx context.Context) *models.Identity {
	if identity, ok := ctx.Value(identityKey).(*models.Identity); ok {
		return identity
	}
	return &models.Identity{Anonymous: true}
}
