// Copyright (C) 2025 ScribeWorks AI (oss@scribeworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ScribeWorksAI/ScribeWorksFOSS/services/orchestrator/datatypes"
	"github.com/google/uuid"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter defines the contract for writing Server-Sent Events to HTTP
// responses.
//
// # Description
//
// SSEWriter abstracts SSE event serialization and writing, enabling
// testability and separation from HTTP response mechanics. Implementations
// handle the SSE wire format (event: type\ndata: json\n\n) internally.
//
// Each event is automatically assigned:
//   - Id: UUID v4 for ordering and deduplication
//   - CreatedAt: Unix timestamp in milliseconds
//   - Hash: SHA-256 hash of event content for integrity
//   - PrevHash: Hash of previous event for chain verification
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Streaming handlers emit
// events from the backend callback and keep-alives from a ticker goroutine
// concurrently.
//
// # Assumptions
//
//   - Caller has set SSE headers via SetSSEHeaders before the first write
type SSEWriter interface {
	// WriteEvent writes a single SSE event, populating its metadata and
	// advancing the hash chain. Flushes immediately.
	WriteEvent(event *datatypes.StreamEvent) error

	// WriteStatus writes a status event with the given message.
	WriteStatus(message string) error

	// WriteToken writes one display-text delta.
	WriteToken(content string) error

	// WriteParseProgress reports the best-effort parse state of an
	// in-flight instruction payload.
	WriteParseProgress(keys []string, progress int) error

	// WriteInstructionResults reports a batch of applied instructions.
	WriteInstructionResults(results []datatypes.InstructionOutcome) error

	// WriteError writes an error event. The message must already be
	// sanitized; no internal details reach the client.
	WriteError(errMsg string) error

	// WriteDone writes the terminal event carrying the active document id.
	// No events follow it.
	WriteDone(documentID string) error

	// WriteKeepAlive sends an SSE comment to keep the connection alive
	// through load-balancer idle timeouts. Comments are not events and do
	// not advance the hash chain.
	WriteKeepAlive() error
}

// =============================================================================
// Struct Definition
// =============================================================================

// sseWriter implements SSEWriter over an http.ResponseWriter.
//
// The writer maintains a hash chain for integrity verification: each
// event's Hash is SHA-256 of its content and each event's PrevHash links to
// the previous event, giving the client a chain of custody over tokens,
// instruction outcomes, and timestamps.
type sseWriter struct {
	writer   http.ResponseWriter
	flusher  http.Flusher
	prevHash string
	mu       sync.Mutex
}

// NewSSEWriter creates an SSEWriter for the given ResponseWriter. The
// ResponseWriter must support http.Flusher.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

// =============================================================================
// Methods
// =============================================================================

func (w *sseWriter) WriteEvent(event *datatypes.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if event.Id == "" {
		event.Id = uuid.New().String()
	}
	if event.CreatedAt == 0 {
		event.CreatedAt = time.Now().UnixMilli()
	}
	event.PrevHash = w.prevHash
	event.Hash = event.ComputeHash()
	w.prevHash = event.Hash

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	w.flusher.Flush()
	return nil
}

func (w *sseWriter) WriteStatus(message string) error {
	return w.WriteEvent(datatypes.NewStreamEvent("status").WithMessage(message))
}

func (w *sseWriter) WriteToken(content string) error {
	return w.WriteEvent(datatypes.NewStreamEvent("token").WithContent(content))
}

func (w *sseWriter) WriteParseProgress(keys []string, progress int) error {
	return w.WriteEvent(datatypes.NewStreamEvent("parse_progress").WithParseProgress(keys, progress))
}

func (w *sseWriter) WriteInstructionResults(results []datatypes.InstructionOutcome) error {
	return w.WriteEvent(datatypes.NewStreamEvent("instructions").WithResults(results))
}

func (w *sseWriter) WriteError(errMsg string) error {
	return w.WriteEvent(datatypes.NewStreamEvent("error").WithError(errMsg))
}

func (w *sseWriter) WriteDone(documentID string) error {
	return w.WriteEvent(datatypes.NewStreamEvent("done").WithDocumentID(documentID))
}

func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// SSE comment format: colon followed by text, then double newline.
	if _, err := fmt.Fprintf(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetSSEHeaders configures response headers for SSE streaming. Must be
// called before any body write.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ SSEWriter = (*sseWriter)(nil)
