// Copyright (C) 2025 ScribeWorks AI (oss@scribeworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides client-side stream presentation helpers for the
// ScribeWorks CLI.
//
// This file implements hash chain verification for assist streams. Every
// event the orchestrator emits carries a Hash computed from its content
// and a PrevHash linking to the previous event:
//
//	Event[0] → Event[1] → Event[2] → ... → Event[N]
//
// Modifying, dropping, or reordering any event breaks the chain, so a
// client that records the events can prove the transcript it displays is
// the one the server sent.
package ux

import (
	"crypto/subtle"
	"fmt"

	"github.com/ScribeWorksAI/ScribeWorksFOSS/services/orchestrator/datatypes"
)

// secureHashEqual compares two hash strings in constant time so response
// timing never reveals how many leading characters matched.
func secureHashEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ChainVerifier validates the integrity of a recorded event stream.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type ChainVerifier interface {
	// Verify checks the full chain: every event's stored Hash must match
	// a recomputation from its content, and every PrevHash must equal the
	// previous event's Hash. Returns a detailed result either way.
	Verify(events []datatypes.StreamEvent) *ChainVerificationResult
}

// ChainVerificationResult reports the outcome of a chain verification.
// InvalidEventIndex is -1 when the chain is valid.
type ChainVerificationResult struct {
	Valid             bool   `json:"valid"`
	ChainLength       int    `json:"chain_length"`
	FinalHash         string `json:"final_hash,omitempty"`
	InvalidEventIndex int    `json:"invalid_event_index"`
	ExpectedHash      string `json:"expected_hash,omitempty"`
	ActualHash        string `json:"actual_hash,omitempty"`
	ErrorMessage      string `json:"error_message,omitempty"`
}

type fullChainVerifier struct{}

// NewFullChainVerifier returns a verifier that recomputes every hash.
// Cost is linear in the number of events; assist streams are short enough
// that this is never a concern.
func NewFullChainVerifier() ChainVerifier {
	return &fullChainVerifier{}
}

func (v *fullChainVerifier) Verify(events []datatypes.StreamEvent) *ChainVerificationResult {
	result := &ChainVerificationResult{
		Valid:             true,
		ChainLength:       len(events),
		InvalidEventIndex: -1,
	}

	if len(events) == 0 {
		return result
	}

	if events[0].PrevHash != "" {
		result.Valid = false
		result.InvalidEventIndex = 0
		result.ActualHash = events[0].PrevHash
		result.ErrorMessage = "first event should have empty PrevHash"
		return result
	}

	prevHash := ""
	for i := range events {
		event := events[i]

		if !secureHashEqual(event.PrevHash, prevHash) {
			result.Valid = false
			result.InvalidEventIndex = i
			result.ExpectedHash = prevHash
			result.ActualHash = event.PrevHash
			result.ErrorMessage = fmt.Sprintf(
				"chain broken at event %d: expected PrevHash %s, got %s",
				i, truncateHash(prevHash), truncateHash(event.PrevHash),
			)
			return result
		}

		computedHash := event.ComputeHash()
		if !secureHashEqual(computedHash, event.Hash) {
			result.Valid = false
			result.InvalidEventIndex = i
			result.ExpectedHash = computedHash
			result.ActualHash = event.Hash
			result.ErrorMessage = fmt.Sprintf(
				"hash mismatch at event %d: computed %s, stored %s (content may have been modified)",
				i, truncateHash(computedHash), truncateHash(event.Hash),
			)
			return result
		}

		prevHash = event.Hash
	}

	result.FinalHash = events[len(events)-1].Hash
	return result
}

// truncateHash shortens a hash for display in error messages.
func truncateHash(hash string) string {
	if hash == "" {
		return "(empty)"
	}
	if len(hash) <= 12 {
		return hash
	}
	return hash[:12] + "..."
}

var _ ChainVerifier = (*fullChainVerifier)(nil)
