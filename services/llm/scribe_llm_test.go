// Copyright (C) 2025 ScribeWorks AI (oss@scribeworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ScribeWorksAI/ScribeWorksFOSS/services/orchestrator/datatypes"
)

func newTestScribeClient(baseURL string) *ScribeClient {
	return &ScribeClient{
		baseURL:    baseURL,
		model:      "test-model",
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func testMessages() []datatypes.Message {
	return []datatypes.Message{
		{Role: "user", Content: "Change the customer name to Acme"},
	}
}

func TestScribeClientStreamsTokensAndInstructions(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/assist" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		frames := []string{
			"data: {\"response\": \"Updating \"}\n",
			"data: {\"response\": \"the name.\"}\n",
			`data: {"tool_calls": [{"id": "tc-1", "name": "update_document_field", ` +
				`"arguments": {"field_path": "customerName", "new_value": "Acme"}}]}` + "\n",
			"data: [DONE]\n",
		}
		for _, f := range frames {
			if _, err := w.Write([]byte(f)); err != nil {
				return
			}
			flusher.Flush()
		}
	}))
	defer server.Close()

	client := newTestScribeClient(server.URL)

	var tokens []string
	var batches [][]ToolCall
	var sawDone bool
	err := client.AssistStream(context.Background(), testMessages(), GenerationParams{},
		func(event StreamEvent) error {
			switch event.Type {
			case StreamEventToken:
				tokens = append(tokens, event.Content)
			case StreamEventInstructions:
				batches = append(batches, event.ToolCalls)
			case StreamEventDone:
				sawDone = true
			}
			return nil
		})
	if err != nil {
		t.Fatalf("AssistStream failed: %v", err)
	}

	if joined := strings.Join(tokens, ""); joined != "Updating the name." {
		t.Errorf("unexpected token text %q", joined)
	}
	if len(batches) != 1 || batches[0][0].Name != "update_document_field" {
		t.Errorf("unexpected instruction batches %v", batches)
	}
	if !sawDone {
		t.Error("expected a terminal done event")
	}
}

func TestScribeClientClassifiesRateLimit(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "slow down"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestScribeClient(server.URL)
	err := client.AssistStream(context.Background(), testMessages(), GenerationParams{},
		func(StreamEvent) error { return nil })
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestScribeClientClassifiesQuota(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"payment required", http.StatusPaymentRequired, `{"error": "payment required"}`},
		{"quota hinted 429", http.StatusTooManyRequests, `{"error": {"code": "insufficient_quota"}}`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, tc.body, tc.status)
			}))
			defer server.Close()

			client := newTestScribeClient(server.URL)
			err := client.AssistStream(context.Background(), testMessages(), GenerationParams{},
				func(StreamEvent) error { return nil })
			if !errors.Is(err, ErrQuotaExhausted) {
				t.Fatalf("expected ErrQuotaExhausted, got %v", err)
			}
		})
	}
}

func TestScribeClientClassifiesServerError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend on fire", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestScribeClient(server.URL)
	err := client.AssistStream(context.Background(), testMessages(), GenerationParams{},
		func(StreamEvent) error { return nil })
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestScribeClientHonorsContextCancel(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		close(started)
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	client := newTestScribeClient(server.URL)
	err := client.AssistStream(ctx, testMessages(), GenerationParams{},
		func(StreamEvent) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
