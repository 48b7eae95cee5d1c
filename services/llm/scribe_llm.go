// Copyright (C) 2025 ScribeWorks AI (oss@scribeworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ScribeWorksAI/ScribeWorksFOSS/pkg/partialjson"
	"github.com/ScribeWorksAI/ScribeWorksFOSS/services/orchestrator/datatypes"
	"github.com/ScribeWorksAI/ScribeWorksFOSS/services/orchestrator/observability"
)

const (
	defaultAssistantURL   = "http://localhost:8001"
	defaultAssistantModel = "scribe-assist-v1"

	// maxErrorBodyBytes bounds how much of a failed response body is read
	// for error classification.
	maxErrorBodyBytes = 4096
)

// ScribeClient streams assistant output from the native ScribeWorks
// assistant service over its line-framed HTTP protocol.
type ScribeClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewScribeClient builds a client from the environment. SCRIBEWORKS_ASSISTANT_URL
// and SCRIBEWORKS_ASSISTANT_MODEL override the defaults.
func NewScribeClient() *ScribeClient {
	baseURL := os.Getenv("SCRIBEWORKS_ASSISTANT_URL")
	if baseURL == "" {
		baseURL = defaultAssistantURL
	}
	model := os.Getenv("SCRIBEWORKS_ASSISTANT_MODEL")
	if model == "" {
		model = defaultAssistantModel
	}
	return &ScribeClient{
		baseURL: baseURL,
		model:   model,
		// No overall timeout: streams are long-lived and bounded by ctx.
		httpClient: &http.Client{},
	}
}

// assistRequest is the native service's request body.
type assistRequest struct {
	Model       string              `json:"model"`
	Messages    []datatypes.Message `json:"messages"`
	Stream      bool                `json:"stream"`
	Temperature *float64            `json:"temperature,omitempty"`
	TopP        *float64            `json:"top_p,omitempty"`
	MaxTokens   *int                `json:"max_tokens,omitempty"`
	Stop        []string            `json:"stop,omitempty"`
}

// AssistStream implements AssistantClient.
//
// Transport-level failures are classified before any frame is read: the
// service's rate-limit and quota responses map to ErrRateLimited and
// ErrQuotaExhausted, and everything else non-2xx maps to ErrUnavailable.
// No retries happen here; pacing decisions belong to the caller.
func (c *ScribeClient) AssistStream(
	ctx context.Context,
	messages []datatypes.Message,
	params GenerationParams,
	callback StreamCallback,
) error {
	tracer := otel.Tracer("scribeworks/llm")
	ctx, span := tracer.Start(ctx, "ScribeClient.AssistStream",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", c.model),
		attribute.Int("llm.message_count", len(messages)),
	)

	body, err := json.Marshal(assistRequest{
		Model:       c.model,
		Messages:    messages,
		Stream:      true,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		MaxTokens:   params.MaxTokens,
		Stop:        params.Stop,
	})
	if err != nil {
		return fmt.Errorf("marshal assist request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/assist", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build assist request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		classified := classifyTransportStatus(resp.StatusCode, string(errBody))
		slog.Warn("assistant stream rejected",
			"status", resp.StatusCode, "error", classified)
		return classified
	}

	decoder := NewFrameDecoder(FrameCallbacks{
		OnDelta: func(delta string) error {
			return callback(StreamEvent{Type: StreamEventToken, Content: delta})
		},
		OnToolCalls: func(calls []ToolCall) error {
			return callback(StreamEvent{Type: StreamEventInstructions, ToolCalls: calls})
		},
		OnProgress: func(res partialjson.Result) error {
			return callback(StreamEvent{
				Type:          StreamEventProgress,
				AvailableKeys: res.AvailableKeys,
				Progress:      res.Progress,
			})
		},
	})

	buf := make([]byte, 4096)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if err := decoder.Feed(string(buf[:n])); err != nil {
				return err
			}
		}
		if decoder.Done() {
			break
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read assist stream: %w", readErr)
		}
	}

	if err := decoder.Flush(); err != nil {
		return err
	}
	if n := decoder.MalformedFrames(); n > 0 {
		slog.Warn("assistant stream completed with dropped frames",
			"malformed_frames", n)
		observability.CountDroppedFrames("scribe_backend", n)
	}
	span.SetAttributes(
		attribute.Int("llm.malformed_frames", decoder.MalformedFrames()),
		attribute.Int64("llm.stream_ms", time.Since(start).Milliseconds()),
	)

	return callback(StreamEvent{Type: StreamEventDone})
}
