// Copyright (C) 2025 ScribeWorks AI (oss@scribeworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm provides assistant-backend clients for ScribeWorks.
//
// An assistant backend streams two kinds of content: display text for the
// user-visible response, and structured instructions (tool calls) that
// mutate the active document. Backends differ in wire protocol — the native
// ScribeWorks backend speaks a line-delimited SSE protocol decoded by
// FrameDecoder, while OpenAI-compatible backends stream tool-call argument
// fragments — but all of them deliver the same StreamEvent sequence to the
// caller.
package llm

import (
	"context"

	"github.com/ScribeWorksAI/ScribeWorksFOSS/services/orchestrator/datatypes"
)

// GenerationParams carries optional sampling parameters for a request.
type GenerationParams struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

// StreamEventType discriminates events delivered during streaming.
type StreamEventType string

const (
	// StreamEventToken carries a display-text delta for the visible response.
	StreamEventToken StreamEventType = "token"

	// StreamEventInstructions carries a batch of fully-parsed tool calls.
	// Partially-streamed instructions are never delivered.
	StreamEventInstructions StreamEventType = "instructions"

	// StreamEventProgress carries a best-effort parse of an in-flight
	// instruction payload (available keys, progress estimate) for UI use.
	StreamEventProgress StreamEventType = "progress"

	// StreamEventDone signals normal stream completion.
	StreamEventDone StreamEventType = "done"
)

// ToolCall is one fully-parsed instruction from the assistant.
//
// A ToolCall exists only once its JSON representation parsed completely;
// the zero Arguments map is valid for instructions with no arguments.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// StreamEvent is one event delivered to a StreamCallback.
//
// # Fields
//
//   - Type: Event discriminator.
//   - Content: Display-text delta (StreamEventToken only).
//   - ToolCalls: Instruction batch (StreamEventInstructions only).
//   - AvailableKeys, Progress: In-flight payload signal
//     (StreamEventProgress only).
type StreamEvent struct {
	Type          StreamEventType `json:"type"`
	Content       string          `json:"content,omitempty"`
	ToolCalls     []ToolCall      `json:"tool_calls,omitempty"`
	AvailableKeys []string        `json:"available_keys,omitempty"`
	Progress      int             `json:"progress,omitempty"`
}

// StreamCallback receives events in stream order. Returning a non-nil error
// aborts the stream (e.g. on client disconnect).
type StreamCallback func(event StreamEvent) error

// AssistantClient defines the standard interface for any assistant backend.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; each AssistStream call
// owns its own decoding state.
//
// # Error Contract
//
// A non-success transport response is reported before any event is
// delivered, as one of ErrRateLimited, ErrQuotaExhausted, or ErrUnavailable.
// Retry is the caller's policy; clients never retry internally.
type AssistantClient interface {
	// AssistStream streams an assistant response for the given conversation.
	// Display deltas, instruction batches, and progress updates are
	// delivered to callback in arrival order. Blocks until the stream ends,
	// the context is cancelled, or the callback aborts.
	AssistStream(ctx context.Context, messages []datatypes.Message,
		params GenerationParams, callback StreamCallback) error
}
