// Copyright (C) 2025 ScribeWorks AI (oss@scribeworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ScribeWorksAI/ScribeWorksFOSS/services/doc_engine"
	"github.com/ScribeWorksAI/ScribeWorksFOSS/services/llm"
	"github.com/ScribeWorksAI/ScribeWorksFOSS/services/orchestrator/datatypes"
)

// fakeAssistantClient replays a scripted event sequence.
type fakeAssistantClient struct {
	events []llm.StreamEvent
	err    error
}

func (f *fakeAssistantClient) AssistStream(
	_ context.Context,
	_ []datatypes.Message,
	_ llm.GenerationParams,
	callback llm.StreamCallback,
) error {
	if f.err != nil {
		return f.err
	}
	for _, event := range f.events {
		if err := callback(event); err != nil {
			return err
		}
	}
	return callback(llm.StreamEvent{Type: llm.StreamEventDone})
}

func newTestDeps(client llm.AssistantClient) (AssistDeps, *doc_engine.MemoryDocumentStore) {
	docs := doc_engine.NewMemoryDocumentStore()
	versions := doc_engine.NewVersionStore(docs)
	return AssistDeps{
		Client:     client,
		Docs:       docs,
		Versions:   versions,
		Dispatcher: doc_engine.NewDispatcher(docs, versions, doc_engine.NewBuiltinTemplates(docs), nil),
	}, docs
}

func assistRequestBody(t *testing.T) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(datatypes.AssistStreamRequest{
		RequestID: uuid.New().String(),
		Timestamp: time.Now().UnixMilli(),
		Messages: []datatypes.Message{
			{Role: "user", Content: "Change the customer name to Acme Corp"},
		},
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return bytes.NewBuffer(body)
}

func performAssist(t *testing.T, deps AssistDeps, body *bytes.Buffer) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/v1/assist/stream", HandleAssistStream(deps))

	req := httptest.NewRequest(http.MethodPost, "/v1/assist/stream", body)
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

// parseSSEEvents decodes every event block in an SSE body.
func parseSSEEvents(t *testing.T, body string) []datatypes.StreamEvent {
	t.Helper()
	var events []datatypes.StreamEvent
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		if strings.HasPrefix(block, ":") {
			continue // keep-alive comment
		}
		_, data, found := strings.Cut(block, "\ndata: ")
		if !found {
			t.Fatalf("malformed SSE block: %q", block)
		}
		var event datatypes.StreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			t.Fatalf("unmarshal SSE event: %v", err)
		}
		events = append(events, event)
	}
	return events
}

func eventsOfType(events []datatypes.StreamEvent, eventType string) []datatypes.StreamEvent {
	var out []datatypes.StreamEvent
	for _, event := range events {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

func TestHandleAssistStreamHappyPath(t *testing.T) {
	t.Setenv("SCRIBEWORKS_INSECURE_MEMORY", "true")

	client := &fakeAssistantClient{events: []llm.StreamEvent{
		{Type: llm.StreamEventToken, Content: "Updating "},
		{Type: llm.StreamEventToken, Content: "the customer name."},
		{Type: llm.StreamEventProgress, AvailableKeys: []string{"field_path"}, Progress: 42},
		{Type: llm.StreamEventInstructions, ToolCalls: []llm.ToolCall{{
			ID:   "tc-1",
			Name: doc_engine.NameUpdateDocumentField,
			Arguments: map[string]any{
				"field_path": "customerName",
				"new_value":  "Acme Corp",
			},
		}}},
	}}
	deps, docs := newTestDeps(client)
	doc := docs.Create(map[string]any{"customerName": "Initech"}, "")

	recorder := performAssist(t, deps, assistRequestBody(t))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	events := parseSSEEvents(t, recorder.Body.String())
	if len(eventsOfType(events, "status")) != 1 {
		t.Error("expected exactly one status event")
	}

	tokens := eventsOfType(events, "token")
	if len(tokens) != 2 || tokens[0].Content != "Updating " {
		t.Errorf("unexpected token events %+v", tokens)
	}

	progress := eventsOfType(events, "parse_progress")
	if len(progress) != 1 || progress[0].Progress != 42 {
		t.Errorf("unexpected progress events %+v", progress)
	}

	instructions := eventsOfType(events, "instructions")
	if len(instructions) != 1 || len(instructions[0].Results) != 1 {
		t.Fatalf("unexpected instruction events %+v", instructions)
	}
	outcome := instructions[0].Results[0]
	if !outcome.Success || outcome.BeforeValue != "Initech" {
		t.Errorf("unexpected outcome %+v", outcome)
	}

	done := eventsOfType(events, "done")
	if len(done) != 1 || done[0].DocumentID != doc.ID {
		t.Fatalf("unexpected done events %+v", done)
	}

	// The document was mutated and the rendered output captured.
	updated, _ := docs.Get(doc.ID)
	if updated.Fields["customerName"] != "Acme Corp" {
		t.Errorf("field not updated: %v", updated.Fields)
	}
	if updated.RenderedOutput != "Updating the customer name." {
		t.Errorf("unexpected rendered output %q", updated.RenderedOutput)
	}

	// Hash chain holds across the whole stream.
	for i := 1; i < len(events); i++ {
		if events[i].PrevHash != events[i-1].Hash {
			t.Errorf("hash chain broken at event %d", i)
		}
	}
}

func TestHandleAssistStreamTransportErrors(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"rate limited", fmt.Errorf("wrapped: %w", llm.ErrRateLimited), http.StatusTooManyRequests},
		{"quota exhausted", fmt.Errorf("wrapped: %w", llm.ErrQuotaExhausted), http.StatusPaymentRequired},
		{"unavailable", fmt.Errorf("wrapped: %w", llm.ErrUnavailable), http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("SCRIBEWORKS_INSECURE_MEMORY", "true")

			deps, _ := newTestDeps(&fakeAssistantClient{err: tc.err})
			recorder := performAssist(t, deps, assistRequestBody(t))

			if recorder.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tc.wantStatus, recorder.Code, recorder.Body.String())
			}
			if ct := recorder.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
				t.Errorf("pre-stream failure should be JSON, got Content-Type %q", ct)
			}
		})
	}
}

func TestHandleAssistStreamValidation(t *testing.T) {
	t.Setenv("SCRIBEWORKS_INSECURE_MEMORY", "true")

	deps, _ := newTestDeps(&fakeAssistantClient{})

	body, _ := json.Marshal(datatypes.AssistStreamRequest{
		RequestID: "not-a-uuid",
		Timestamp: time.Now().UnixMilli(),
		Messages:  []datatypes.Message{{Role: "user", Content: "hi"}},
	})
	recorder := performAssist(t, deps, bytes.NewBuffer(body))
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestHandleAssistStreamUnknownDocument(t *testing.T) {
	t.Setenv("SCRIBEWORKS_INSECURE_MEMORY", "true")

	deps, _ := newTestDeps(&fakeAssistantClient{})

	body, _ := json.Marshal(datatypes.AssistStreamRequest{
		RequestID:  uuid.New().String(),
		Timestamp:  time.Now().UnixMilli(),
		Messages:   []datatypes.Message{{Role: "user", Content: "hi"}},
		DocumentID: "missing-doc",
	})
	recorder := performAssist(t, deps, bytes.NewBuffer(body))
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}

func TestHandleAssistStreamMidStreamFailure(t *testing.T) {
	t.Setenv("SCRIBEWORKS_INSECURE_MEMORY", "true")

	// The client aborts the callback after the first token; the handler
	// has already streamed events, so the failure arrives as an SSE error
	// event with a 200 status line.
	client := &midStreamFailingClient{}
	deps, docs := newTestDeps(client)
	docs.Create(map[string]any{"customerName": "Initech"}, "")

	recorder := performAssist(t, deps, assistRequestBody(t))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 (headers already sent), got %d", recorder.Code)
	}

	events := parseSSEEvents(t, recorder.Body.String())
	errorEvents := eventsOfType(events, "error")
	if len(errorEvents) != 1 {
		t.Fatalf("expected one error event, got %+v", events)
	}
	if len(eventsOfType(events, "done")) != 0 {
		t.Error("a failed stream must not emit done")
	}
}

type midStreamFailingClient struct{}

func (m *midStreamFailingClient) AssistStream(
	_ context.Context,
	_ []datatypes.Message,
	_ llm.GenerationParams,
	callback llm.StreamCallback,
) error {
	if err := callback(llm.StreamEvent{Type: llm.StreamEventToken, Content: "partial"}); err != nil {
		return err
	}
	return fmt.Errorf("stream cut: %w", llm.ErrUnavailable)
}
