// Wayfarer - Location-Based POI Aggregation and Narration
// Copyright 2026 Wayfarer Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wayfarerhq/wayfarer

package narration

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/wayfarerhq/wayfarer/internal/config"
	"github.com/wayfarerhq/wayfarer/internal/upstream"
)

// fallbackChars is how much of the prompt tail the deterministic
// fallback returns when no model credentials are configured.
const fallbackChars = 700

// Synthesizer turns a prompt into narration text.
type Synthesizer interface {
	Synthesize(ctx context.Context, prompt string) (string, error)
}

// LLMClient calls an OpenAI-compatible chat completion endpoint. With
// no API key configured it degrades to a deterministic excerpt of the
// prompt so the narration path stays testable offline.
type LLMClient struct {
	endpoint    string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	caller      *upstream.Caller
}

// NewLLMClient creates a narration model client from configuration.
func NewLLMClient(cfg config.LLMConfig) *LLMClient {
	return &LLMClient{
		endpoint:    cfg.Endpoint,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		caller: upstream.New(upstream.Options{
			Name:    "llm",
			Timeout: cfg.Timeout,
		}),
	}
}

// HasCredentials reports whether a real model call is possible.
func (c *LLMClient) HasCredentials() bool {
	return c.apiKey != ""
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Synthesize produces narration text for the prompt. Without
// credentials it returns the deterministic fallback excerpt.
func (c *LLMClient) Synthesize(ctx context.Context, prompt string) (string, error) {
	if !c.HasCredentials() {
		return FallbackText(prompt), nil
	}

	payload, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint,
		bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	body, err := c.caller.Do(ctx, req)
	if err != nil {
		return "", err
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: llm: empty choices", upstream.ErrUnavailable)
	}

	text := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("%w: llm: empty completion", upstream.ErrUnavailable)
	}
	return text, nil
}

// FallbackText returns the tail of the prompt body, the deterministic
// stand-in used when no model credentials are configured.
func FallbackText(prompt string) string {
	runes := []rune(strings.TrimSpace(prompt))
	if len(runes) <= fallbackChars {
		return string(runes)
	}
	return string(runes[len(runes)-fallbackChars:])
}
