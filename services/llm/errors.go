// Copyright (C) 2025 ScribeWorks AI (oss@scribeworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Transport failure taxonomy. A non-2xx response from the assistant backend
// is surfaced as exactly one of these before any frame is read, and is
// terminal for the current stream. Retry is an external policy; clients in
// this package never retry internally.
var (
	// ErrRateLimited indicates the backend rejected the request for rate
	// limiting (HTTP 429).
	ErrRateLimited = errors.New("llm: assistant backend rate limited the request")

	// ErrQuotaExhausted indicates the account or project quota is spent
	// (HTTP 402, or a 4xx body naming quota exhaustion).
	ErrQuotaExhausted = errors.New("llm: assistant backend quota exhausted")

	// ErrUnavailable covers every other non-success transport response.
	ErrUnavailable = errors.New("llm: assistant backend unavailable")
)

// classifyTransportStatus maps a non-2xx response to the taxonomy above.
// The body is consulted because some OpenAI-compatible backends report quota
// exhaustion as 429 with an "insufficient_quota" error code.
func classifyTransportStatus(statusCode int, body string) error {
	lower := strings.ToLower(body)
	quotaHinted := strings.Contains(lower, "insufficient_quota") || strings.Contains(lower, "quota")

	switch {
	case statusCode == http.StatusPaymentRequired:
		return fmt.Errorf("%w: status %d", ErrQuotaExhausted, statusCode)
	case statusCode == http.StatusTooManyRequests && quotaHinted:
		return fmt.Errorf("%w: status %d", ErrQuotaExhausted, statusCode)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", ErrRateLimited, statusCode)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, statusCode, strings.TrimSpace(truncateForError(body)))
	}
}

// truncateForError bounds the response body echoed into error messages.
func truncateForError(body string) string {
	const max = 512
	if len(body) <= max {
		return body
	}
	return body[:max] + "..."
}
