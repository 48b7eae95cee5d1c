// Copyright (C) 2025 ScribeWorks AI (oss@scribeworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides request, response, and event structures for
// the orchestrator service.
package datatypes

import (
	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants for Security Compliance
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single message content.
	MaxMessageContentBytes = 32 * 1024 // 32KB

	// MaxMessagesPerRequest is the maximum number of messages in a request.
	MaxMessagesPerRequest = 100
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// assistValidate is the validator instance for assist datatypes.
// Initialized in init() with custom validators.
var assistValidate *validator.Validate

func init() {
	assistValidate = validator.New()
	_ = assistValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes checks byte length (not rune count) of a string field so
// oversized payloads are rejected before they reach the assistant backend.
func validateMaxBytes(fl validator.FieldLevel) bool {
	content := fl.Field().String()
	return len(content) <= MaxMessageContentBytes
}

// =============================================================================
// Request Types
// =============================================================================

// Message is one turn of the conversation sent to the assistant backend.
type Message struct {
	Role    string `json:"role" validate:"required,oneof=user assistant system"`
	Content string `json:"content" validate:"required,maxbytes"`
}

// AssistStreamRequest is the body for POST /v1/assist/stream.
//
// # Fields
//
//   - RequestID: Required. Client-generated UUID v4 for tracing and audit
//     correlation.
//   - Timestamp: Required. Unix timestamp in milliseconds (UTC).
//   - Messages: Required. Conversation history, 1-100 turns, each content
//     capped at 32KB.
//   - DocumentID: Optional. Switches the active document before streaming;
//     when empty, the current active document (if any) is the target.
//   - Temperature, TopP, MaxTokens: Optional sampling parameters forwarded
//     to the backend.
type AssistStreamRequest struct {
	RequestID   string    `json:"request_id" validate:"required,uuid4"`
	Timestamp   int64     `json:"timestamp" validate:"required,gt=0"`
	Messages    []Message `json:"messages" validate:"required,min=1,max=100,dive"`
	DocumentID  string    `json:"document_id,omitempty"`
	Temperature *float64  `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	TopP        *float64  `json:"top_p,omitempty" validate:"omitempty,gte=0,lte=1"`
	MaxTokens   *int      `json:"max_tokens,omitempty" validate:"omitempty,gt=0"`
}

// Validate runs struct validation over the request.
func (r *AssistStreamRequest) Validate() error {
	return assistValidate.Struct(r)
}
