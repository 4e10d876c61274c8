// Wayfarer - Location-Based POI Aggregation and Narration
// Copyright 2026 Wayfarer Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wayfarerhq/wayfarer

// Package match implements the fuzzy name matching used for POI
// deduplication, Wikipedia relevance gating and nearby name collapse.
package match

import "strings"

const (
	// DedupThreshold gates whether a Wikipedia title is considered the
	// same place as a POI name.
	DedupThreshold = 0.80

	// CollapseThreshold gates the nearby-result name collapse. Stricter
	// than dedup so distinct neighbors with similar names survive.
	CollapseThreshold = 0.85
)

// NormalizeName lower-cases, trims and collapses internal whitespace.
// All similarity comparisons run on normalized names.
func NormalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Ratio returns a similarity measure in [0, 1] between two strings:
// 2*M/T where M is the number of characters in the longest matching
// blocks and T the total length of both strings. Equivalent to the
// classic sequence-matcher ratio.
func Ratio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 1.0
	}
	matched := matchingBlocks(ra, rb)
	return 2.0 * float64(matched) / float64(total)
}

// matchingBlocks sums the lengths of the recursively-found longest
// common substrings of a and b.
func matchingBlocks(a, b []rune) int {
	type span struct{ alo, ahi, blo, bhi int }
	queue := []span{{0, len(a), 0, len(b)}}
	matched := 0

	for len(queue) > 0 {
		s := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		ai, bi, size := longestMatch(a, b, s.alo, s.ahi, s.blo, s.bhi)
		if size == 0 {
			continue
		}
		matched += size
		queue = append(queue,
			span{s.alo, ai, s.blo, bi},
			span{ai + size, s.ahi, bi + size, s.bhi},
		)
	}
	return matched
}

// longestMatch finds the longest common substring of a[alo:ahi] and
// b[blo:bhi], preferring the earliest occurrence in a on ties.
func longestMatch(a, b []rune, alo, ahi, blo, bhi int) (bestA, bestB, bestSize int) {
	bestA, bestB = alo, blo

	// j2len[j] is the length of the match ending at a[i-1], b[j-1].
	j2len := make(map[int]int)
	for i := alo; i < ahi; i++ {
		newJ2len := make(map[int]int)
		for j := blo; j < bhi; j++ {
			if a[i] != b[j] {
				continue
			}
			k := j2len[j-1] + 1
			newJ2len[j] = k
			if k > bestSize {
				bestA = i - k + 1
				bestB = j - k + 1
				bestSize = k
			}
		}
		j2len = newJ2len
	}
	return bestA, bestB, bestSize
}

// Similar reports whether two names refer to the same place: true when
// either normalized name contains the other, or their ratio meets the
// threshold.
func Similar(a, b string, threshold float64) bool {
	na, nb := NormalizeName(a), NormalizeName(b)
	if na == "" || nb == "" {
		return false
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return true
	}
	return Ratio(na, nb) >= threshold
}
