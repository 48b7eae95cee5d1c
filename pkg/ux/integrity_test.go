// Copyright (C) 2025 ScribeWorks AI (oss@scribeworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"strings"
	"testing"

	"github.com/ScribeWorksAI/ScribeWorksFOSS/services/orchestrator/datatypes"
)

// buildChain creates a valid hash chain from token contents.
func buildChain(contents ...string) []datatypes.StreamEvent {
	events := make([]datatypes.StreamEvent, 0, len(contents))
	prevHash := ""
	for _, content := range contents {
		event := datatypes.NewStreamEvent("token").WithContent(content)
		event.PrevHash = prevHash
		event.Hash = event.ComputeHash()
		prevHash = event.Hash
		events = append(events, *event)
	}
	return events
}

func TestVerifyValidChain(t *testing.T) {
	t.Parallel()
	events := buildChain("The ", "total ", "is 55.")

	result := NewFullChainVerifier().Verify(events)
	if !result.Valid {
		t.Fatalf("valid chain rejected: %s", result.ErrorMessage)
	}
	if result.ChainLength != 3 || result.InvalidEventIndex != -1 {
		t.Errorf("unexpected result %+v", result)
	}
	if result.FinalHash != events[2].Hash {
		t.Errorf("final hash %s does not match last event", result.FinalHash)
	}
}

func TestVerifyEmptyChain(t *testing.T) {
	t.Parallel()
	result := NewFullChainVerifier().Verify(nil)
	if !result.Valid || result.ChainLength != 0 {
		t.Errorf("empty chain should be valid: %+v", result)
	}
}

func TestVerifyDetectsModifiedContent(t *testing.T) {
	t.Parallel()
	events := buildChain("The ", "total ", "is 55.")
	events[1].Content = "total is now 999."

	result := NewFullChainVerifier().Verify(events)
	if result.Valid {
		t.Fatal("modified content not detected")
	}
	if result.InvalidEventIndex != 1 {
		t.Errorf("expected break at index 1, got %d", result.InvalidEventIndex)
	}
	if !strings.Contains(result.ErrorMessage, "hash mismatch") {
		t.Errorf("unexpected error message %q", result.ErrorMessage)
	}
}

func TestVerifyDetectsDroppedEvent(t *testing.T) {
	t.Parallel()
	events := buildChain("a", "b", "c")
	// Remove the middle event; c's PrevHash no longer links to a.
	tampered := []datatypes.StreamEvent{events[0], events[2]}

	result := NewFullChainVerifier().Verify(tampered)
	if result.Valid {
		t.Fatal("dropped event not detected")
	}
	if result.InvalidEventIndex != 1 {
		t.Errorf("expected break at index 1, got %d", result.InvalidEventIndex)
	}
	if !strings.Contains(result.ErrorMessage, "chain broken") {
		t.Errorf("unexpected error message %q", result.ErrorMessage)
	}
}

func TestVerifyDetectsReorderedEvents(t *testing.T) {
	t.Parallel()
	events := buildChain("a", "b", "c")
	events[1], events[2] = events[2], events[1]

	result := NewFullChainVerifier().Verify(events)
	if result.Valid {
		t.Fatal("reordered events not detected")
	}
}

func TestVerifyRejectsNonEmptyFirstPrevHash(t *testing.T) {
	t.Parallel()
	events := buildChain("a")
	events[0].PrevHash = "deadbeef"

	result := NewFullChainVerifier().Verify(events)
	if result.Valid || result.InvalidEventIndex != 0 {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestTruncateHash(t *testing.T) {
	t.Parallel()
	if got := truncateHash(""); got != "(empty)" {
		t.Errorf("truncateHash(\"\") = %q", got)
	}
	if got := truncateHash("abcd"); got != "abcd" {
		t.Errorf("short hash changed: %q", got)
	}
	long := strings.Repeat("a", 64)
	if got := truncateHash(long); got != strings.Repeat("a", 12)+"..." {
		t.Errorf("truncateHash(long) = %q", got)
	}
}
