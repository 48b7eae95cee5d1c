// Copyright (C) 2025 ScribeWorks AI (oss@scribeworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// InstructionOutcome reports what one dispatched instruction did, for the
// client-side activity feed.
type InstructionOutcome struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Success     bool   `json:"success"`
	BeforeValue string `json:"before_value,omitempty"`
	Error       string `json:"error,omitempty"`
}

// StreamEvent is one server-sent event on the assist stream.
//
// # Description
//
// Events carry exactly one kind of payload, discriminated by Type:
//   - "status": human-readable progress message in Message
//   - "token": display-text delta in Content
//   - "parse_progress": AvailableKeys and Progress for an in-flight
//     instruction payload
//   - "instructions": applied instruction outcomes in Results
//   - "error": sanitized failure description in Error
//   - "done": terminal event with DocumentID of the active document
//
// Every event carries integrity metadata: Id (UUID v4), CreatedAt (Unix
// milliseconds), Hash (SHA-256 of content) and PrevHash chaining to the
// previous event, so a client can verify nothing was dropped or reordered
// in transit.
type StreamEvent struct {
	Id        string `json:"id"`
	Type      string `json:"type"`
	CreatedAt int64  `json:"created_at"`

	Message       string               `json:"message,omitempty"`
	Content       string               `json:"content,omitempty"`
	AvailableKeys []string             `json:"available_keys,omitempty"`
	Progress      int                  `json:"progress,omitempty"`
	Results       []InstructionOutcome `json:"results,omitempty"`
	DocumentID    string               `json:"document_id,omitempty"`
	Error         string               `json:"error,omitempty"`

	Hash     string `json:"hash"`
	PrevHash string `json:"prev_hash,omitempty"`
}

// ComputeHash hashes every content field of the event, including PrevHash,
// so the chain breaks if any prior event was altered. Hash itself is
// excluded; writers set it from this value, verifiers recompute and
// compare.
func (e *StreamEvent) ComputeHash() string {
	resultsJSON := ""
	if len(e.Results) > 0 {
		if data, err := json.Marshal(e.Results); err == nil {
			resultsJSON = string(data)
		}
	}

	hashInput := fmt.Sprintf("%s|%s|%d|%s|%s|%s|%s|%d|%s|%s|%s",
		e.Id,
		e.Type,
		e.CreatedAt,
		e.PrevHash,
		e.Content,
		e.Message,
		strings.Join(e.AvailableKeys, ","),
		e.Progress,
		e.Error,
		e.DocumentID,
		resultsJSON,
	)

	hash := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(hash[:])
}

// NewStreamEvent creates an event of the given type with a fresh Id and
// timestamp. Builder methods fill the payload.
func NewStreamEvent(eventType string) *StreamEvent {
	return &StreamEvent{
		Id:        uuid.New().String(),
		Type:      eventType,
		CreatedAt: time.Now().UnixMilli(),
	}
}

func (e *StreamEvent) WithMessage(message string) *StreamEvent {
	e.Message = message
	return e
}

func (e *StreamEvent) WithContent(content string) *StreamEvent {
	e.Content = content
	return e
}

func (e *StreamEvent) WithParseProgress(keys []string, progress int) *StreamEvent {
	e.AvailableKeys = keys
	e.Progress = progress
	return e
}

func (e *StreamEvent) WithResults(results []InstructionOutcome) *StreamEvent {
	e.Results = results
	return e
}

func (e *StreamEvent) WithDocumentID(documentID string) *StreamEvent {
	e.DocumentID = documentID
	return e
}

func (e *StreamEvent) WithError(errMsg string) *StreamEvent {
	e.Error = errMsg
	return e
}
