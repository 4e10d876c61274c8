// Wayfarer - Location-Based POI Aggregation and Narration
// Copyright 2026 Wayfarer Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wayfarerhq/wayfarer

// Package narration synthesizes short spoken-style texts about POIs
// from their stored source documents.
package narration

import (
	"regexp"
	"strings"
)

// Narration styles. Unknown styles resolve to StyleGuide.
const (
	StyleGuide     = "guide"
	StyleQuick     = "quick"
	StyleKids      = "kids"
	StyleAnecdotes = "anecdotes"
)

// styleAliases maps accepted alternative style names onto canonical ones.
var styleAliases = map[string]string{
	"fun":       StyleAnecdotes,
	"scholarly": StyleGuide,
	"story":     StyleGuide,
	"fast":      StyleQuick,
}

// stylePreambles introduce the synthesis prompt per style.
var stylePreambles = map[string]string{
	StyleGuide:     "You are a knowledgeable local guide. Give an engaging, factual spoken introduction to this place.",
	StyleQuick:     "Give a very short spoken summary of this place, two or three sentences at most.",
	StyleKids:      "Explain this place to a curious child. Use simple words and a friendly tone.",
	StyleAnecdotes: "Share the most surprising and entertaining stories about this place.",
}

// canonicalStyles is the set of styles with their own preamble.
var canonicalStyles = map[string]bool{
	StyleGuide:     true,
	StyleQuick:     true,
	StyleKids:      true,
	StyleAnecdotes: true,
}

// localePattern matches a base language with an optional region subtag.
var localePattern = regexp.MustCompile(`^[a-z]{2}(-[A-Z]{2})?$`)

// tripleNewlines collapses runs of blank lines in source text.
var tripleNewlines = regexp.MustCompile(`\n{3,}`)

// maxCleanChars caps source text before prompt-level truncation.
const maxCleanChars = 4000

// ResolveStyle normalizes a requested style: canonical styles pass
// through, aliases map to their canonical style, everything else
// (including empty) falls back to the guide style.
func ResolveStyle(style string) string {
	s := strings.ToLower(strings.TrimSpace(style))
	if canonicalStyles[s] {
		return s
	}
	if canonical, ok := styleAliases[s]; ok {
		return canonical
	}
	return StyleGuide
}

// ResolveLang folds a locale to its base language. Input the API layer
// did not validate (or empty input) resolves to the fallback.
func ResolveLang(lang, fallback string) string {
	l := strings.TrimSpace(lang)
	if !localePattern.MatchString(l) {
		return fallback
	}
	if i := strings.IndexByte(l, '-'); i > 0 {
		return l[:i]
	}
	return l
}

// cleanText collapses excess blank lines, trims and caps the source
// text so a pathological page cannot blow up the prompt.
func cleanText(s string) string {
	s = tripleNewlines.ReplaceAllString(s, "\n\n")
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) > maxCleanChars {
		return string(runes[:maxCleanChars])
	}
	return s
}

// BuildPrompt assembles the synthesis prompt: the style preamble, the
// POI name, and the cleaned source text truncated to maxSourceChars.
func BuildPrompt(poiName, style, sourceText string, maxSourceChars int) string {
	var sb strings.Builder
	sb.WriteString(stylePreambles[ResolveStyle(style)])
	sb.WriteString("\n\nPlace: ")
	sb.WriteString(poiName)

	src := cleanText(sourceText)
	if src != "" {
		runes := []rune(src)
		if len(runes) > maxSourceChars {
			src = string(runes[:maxSourceChars])
		}
		sb.WriteString("\n\nSource material:\n")
		sb.WriteString(src)
	}

	return sb.String()
}
