// Copyright (C) 2025 ScribeWorks AI (oss@scribeworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package partialjson provides best-effort parsing of incomplete JSON.
//
// Assistant backends stream structured instruction payloads token by token,
// so the text in flight is malformed by construction until the stream ends.
// This package attempts a strict parse first and, on failure, applies a
// bounded textual repair pass (stripping dangling fragments, closing
// unterminated strings, balancing brackets) before retrying. Callers always
// receive a well-formed Result describing what could be recovered, how far
// along the payload appears to be, and which top-level keys are visible so
// far.
//
// # Basic Usage
//
//	res := partialjson.Parse(`{"type":"A","x":1,"y":`)
//	// res.Success == true (repaired), res.IsComplete == false
//	// res.AvailableKeys == ["type", "x"]
//
// # Guarantees
//
//   - Parse never returns an error and never panics, including on empty or
//     whitespace-only input.
//   - Result.Success == false implies Result.Parsed == nil.
//   - Result.IsComplete == true implies Result.Success == true and
//     Result.Progress == 100.
//
// The progress estimate is a heuristic, not an exact completion fraction. It
// is monotonically non-decreasing for successive prefixes of a valid
// document, with bounded fluctuation where repair removes trailing content.
package partialjson

import (
	"encoding/json"
	"math"
	"regexp"
	"strings"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// maxRepairIterations bounds the dangling-fragment strip loop. Each
	// iteration removes at most one trailing fragment, and streamed payloads
	// rarely truncate more than one level deep.
	maxRepairIterations = 3

	// MaxAvailableKeys caps the number of keys reported in AvailableKeys.
	// The keys feed a UI progress hint; ten is plenty.
	MaxAvailableKeys = 10

	// progressLengthDivisor scales the length component of the progress
	// heuristic: a 2000-byte buffer contributes the full 20 points.
	progressLengthDivisor = 2000
)

// =============================================================================
// Result Type
// =============================================================================

// Result describes the outcome of a best-effort parse.
//
// # Fields
//
//   - Parsed: The decoded value. Nil whenever Success is false.
//   - Success: True if a strict parse succeeded, possibly after repair.
//   - AvailableKeys: Top-level keys discoverable so far, deduplicated in
//     first-seen order, capped at MaxAvailableKeys.
//   - IsComplete: True only when the original text parsed strictly without
//     any repair.
//   - Progress: Heuristic completeness estimate, 0-100. Fixed at 100 when
//     IsComplete is true and capped at 99 otherwise.
type Result struct {
	Parsed        any      `json:"parsed,omitempty"`
	Success       bool     `json:"success"`
	AvailableKeys []string `json:"available_keys"`
	IsComplete    bool     `json:"is_complete"`
	Progress      int      `json:"progress"`
}

// =============================================================================
// Parsing
// =============================================================================

// Parse attempts to decode text as JSON, repairing truncation if needed.
//
// # Description
//
// The flow is:
//  1. Strict parse. On success the result is complete with progress 100.
//  2. Bounded repair: strip dangling key/value fragments, normalize
//     truncated literals, close an unterminated string, strip a trailing
//     comma, and balance brackets.
//  3. Strict parse of the repaired text. On success the result carries the
//     recovered value with IsComplete=false and a progress estimate over the
//     original text.
//  4. On failure the result carries no value, but AvailableKeys and Progress
//     are still computed from the original text for UI feedback.
//
// # Inputs
//
//   - text: Arbitrary buffer, typically a prefix of a JSON document.
//
// # Outputs
//
//   - Result: Always well-formed. Never panics, never errors.
//
// # Examples
//
//	partialjson.Parse(`{"a":1}`)          // complete
//	partialjson.Parse(`{"a":1,"b":[2,`)   // repaired to {"a":1,"b":[2]}
//	partialjson.Parse(`garbage`)          // Success=false, Progress=0
//
// # Limitations
//
//   - Repair is purely textual; it can drop a trailing fragment that more
//     data would have completed. Callers streaming input should re-Parse the
//     full buffer on every chunk (see Accumulator).
func Parse(text string) Result {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Result{AvailableKeys: []string{}}
	}

	if parsed, ok := strictParse(trimmed); ok {
		return Result{
			Parsed:        parsed,
			Success:       true,
			AvailableKeys: orderedTopKeys(parsed, trimmed),
			IsComplete:    true,
			Progress:      100,
		}
	}

	repaired := repairTruncated(trimmed)
	if parsed, ok := strictParse(repaired); ok {
		return Result{
			Parsed:        parsed,
			Success:       true,
			AvailableKeys: orderedTopKeys(parsed, trimmed),
			IsComplete:    false,
			Progress:      EstimateProgress(text),
		}
	}

	return Result{
		Success:       false,
		AvailableKeys: ExtractTopKeys(text),
		IsComplete:    false,
		Progress:      EstimateProgress(text),
	}
}

// strictParse decodes text with encoding/json, reporting success.
func strictParse(text string) (any, bool) {
	var parsed any
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, false
	}
	return parsed, true
}

// =============================================================================
// Repair Passes
// =============================================================================

var (
	// Dangling fragments at the end of a truncated object, in order of
	// specificity: `,"key":` with no value, `,"key"` with no colon, and
	// `,"partial` with no closing quote.
	danglingKeyColonRe = regexp.MustCompile(`,\s*"(?:[^"\\]|\\.)*"\s*:\s*$`)
	danglingKeyRe      = regexp.MustCompile(`,\s*"(?:[^"\\]|\\.)*"\s*$`)
	danglingPartialRe  = regexp.MustCompile(`,\s*"(?:[^"\\]|\\.)*$`)

	// Truncated literal tails. A value separator or open bracket must
	// precede the tail so that string content is never rewritten.
	truncatedLiteralRe = regexp.MustCompile(`([:,\[\s])(t|tr|tru|f|fa|fal|fals|n|nu|nul)\s*$`)

	trailingCommaRe = regexp.MustCompile(`,\s*$`)

	topKeyRe = regexp.MustCompile(`"((?:[^"\\]|\\.)*)"\s*:`)
)

// repairTruncated applies the full repair sequence to a copy of text.
func repairTruncated(text string) string {
	s := text

	for i := 0; i < maxRepairIterations; i++ {
		next := stripDanglingFragment(s)
		next = truncatedLiteralRe.ReplaceAllString(next, "${1}null")
		if next == s {
			break
		}
		s = next
	}

	s = closeUnterminatedString(s)
	s = strings.TrimRight(s, " \t\r\n")
	s = trailingCommaRe.ReplaceAllString(s, "")
	s = balanceBrackets(s)
	return s
}

// stripDanglingFragment removes one trailing incomplete key/value fragment.
func stripDanglingFragment(s string) string {
	for _, re := range []*regexp.Regexp{danglingKeyColonRe, danglingKeyRe, danglingPartialRe} {
		if loc := re.FindStringIndex(s); loc != nil {
			return s[:loc[0]]
		}
	}
	return s
}

// closeUnterminatedString appends a closing quote when the buffer ends inside
// a string literal. A trailing unescaped backslash is dropped first so the
// appended quote is not itself escaped.
func closeUnterminatedString(s string) string {
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		}
	}
	if !inString {
		return s
	}
	if escaped {
		s = s[:len(s)-1]
	}
	return s + `"`
}

// balanceBrackets appends the closing brackets needed to balance every open
// `{` and `[` outside of string literals, in LIFO order. A trailing comma is
// stripped again before the closers are appended.
func balanceBrackets(s string) string {
	var stack []byte
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if len(stack) == 0 {
		return s
	}

	s = strings.TrimRight(s, " \t\r\n")
	s = trailingCommaRe.ReplaceAllString(s, "")

	var b strings.Builder
	b.WriteString(s)
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String()
}

// =============================================================================
// Heuristics
// =============================================================================

// EstimateProgress computes a 0-100 completeness estimate for text.
//
// # Description
//
// Counts bracket opens and closes outside of string literals. The
// close/open ratio contributes up to 80 points and buffer length (relative
// to progressLengthDivisor bytes) contributes up to 20, capped at 99 so
// only a strictly complete parse reports 100.
//
// This is a display heuristic only: it is non-decreasing as more of a valid
// document streams in, but it is not an exact byte fraction.
func EstimateProgress(text string) int {
	opens := 0
	closes := 0
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			opens++
		case '}', ']':
			closes++
		}
	}

	if opens == 0 {
		return 0
	}

	ratio := float64(closes) / float64(opens)
	lengthFactor := math.Min(float64(len(text))/progressLengthDivisor, 1.0)
	progress := int(math.Round(ratio*80 + lengthFactor*20))
	if progress > 99 {
		progress = 99
	}
	if progress < 0 {
		progress = 0
	}
	return progress
}

// ExtractTopKeys scans text for `"key":` patterns as a best-effort signal of
// which fields have appeared so far.
//
// The scan is not scoped to the top level; nested keys can appear. Keys are
// deduplicated preserving first-seen order and capped at MaxAvailableKeys.
func ExtractTopKeys(text string) []string {
	keys := []string{}
	seen := make(map[string]struct{})

	for _, match := range topKeyRe.FindAllStringSubmatch(text, -1) {
		key := match[1]
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
		if len(keys) >= MaxAvailableKeys {
			break
		}
	}
	return keys
}

// orderedTopKeys returns the top-level keys of a parsed map in the order
// they appear in the source text. Go map iteration is unordered, so the
// textual scan supplies a stable, stream-faithful ordering.
func orderedTopKeys(parsed any, text string) []string {
	obj, ok := parsed.(map[string]any)
	if !ok {
		return []string{}
	}

	keys := []string{}
	for _, candidate := range ExtractTopKeys(text) {
		if _, present := obj[candidate]; present {
			keys = append(keys, candidate)
			if len(keys) >= MaxAvailableKeys {
				return keys
			}
		}
	}
	return keys
}
