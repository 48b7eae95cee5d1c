// Copyright (C) 2025 ScribeWorks AI (oss@scribeworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ScribeWorksAI/ScribeWorksFOSS/services/orchestrator/datatypes"
)

func TestSSEWriterEventFormat(t *testing.T) {
	t.Parallel()

	recorder := httptest.NewRecorder()
	writer, err := NewSSEWriter(recorder)
	if err != nil {
		t.Fatalf("NewSSEWriter failed: %v", err)
	}

	if err := writer.WriteToken("Hello"); err != nil {
		t.Fatalf("WriteToken failed: %v", err)
	}

	body := recorder.Body.String()
	if !strings.HasPrefix(body, "event: token\ndata: ") {
		t.Fatalf("unexpected SSE framing: %q", body)
	}
	if !strings.HasSuffix(body, "\n\n") {
		t.Errorf("event must end with a blank line: %q", body)
	}

	payload := strings.TrimSuffix(strings.TrimPrefix(body, "event: token\ndata: "), "\n\n")
	var event datatypes.StreamEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		t.Fatalf("event payload is not valid JSON: %v", err)
	}
	if event.Type != "token" || event.Content != "Hello" {
		t.Errorf("unexpected event %+v", event)
	}
	if event.Id == "" || event.CreatedAt == 0 || event.Hash == "" {
		t.Errorf("metadata not populated: %+v", event)
	}
	if event.PrevHash != "" {
		t.Errorf("first event must have an empty prev_hash, got %q", event.PrevHash)
	}
}

func TestSSEWriterHashChain(t *testing.T) {
	t.Parallel()

	recorder := httptest.NewRecorder()
	writer, err := NewSSEWriter(recorder)
	if err != nil {
		t.Fatalf("NewSSEWriter failed: %v", err)
	}

	for _, token := range []string{"one", "two", "three"} {
		if err := writer.WriteToken(token); err != nil {
			t.Fatalf("WriteToken failed: %v", err)
		}
	}

	var events []datatypes.StreamEvent
	for _, block := range strings.Split(strings.TrimSpace(recorder.Body.String()), "\n\n") {
		_, data, found := strings.Cut(block, "\ndata: ")
		if !found {
			t.Fatalf("malformed SSE block: %q", block)
		}
		var event datatypes.StreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		events = append(events, event)
	}

	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].PrevHash != events[i-1].Hash {
			t.Errorf("event %d prev_hash does not chain to event %d hash", i, i-1)
		}
	}
}

func TestSSEWriterKeepAliveIsComment(t *testing.T) {
	t.Parallel()

	recorder := httptest.NewRecorder()
	writer, err := NewSSEWriter(recorder)
	if err != nil {
		t.Fatalf("NewSSEWriter failed: %v", err)
	}

	if err := writer.WriteKeepAlive(); err != nil {
		t.Fatalf("WriteKeepAlive failed: %v", err)
	}
	if got := recorder.Body.String(); got != ": ping\n\n" {
		t.Errorf("unexpected keepalive %q", got)
	}
}

func TestSetSSEHeaders(t *testing.T) {
	t.Parallel()

	recorder := httptest.NewRecorder()
	SetSSEHeaders(recorder)

	if got := recorder.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("unexpected Content-Type %q", got)
	}
	if got := recorder.Header().Get("X-Accel-Buffering"); got != "no" {
		t.Errorf("unexpected X-Accel-Buffering %q", got)
	}
}
