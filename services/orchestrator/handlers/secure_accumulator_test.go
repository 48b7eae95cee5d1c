// Copyright (C) 2025 ScribeWorks AI (oss@scribeworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

func newAccumulator(t *testing.T) ResponseAccumulator {
	t.Helper()
	t.Setenv("SCRIBEWORKS_INSECURE_MEMORY", "true")
	acc, err := NewResponseAccumulator()
	if err != nil {
		t.Fatalf("NewResponseAccumulator: %v", err)
	}
	return acc
}

func TestAccumulatorWriteAndFinalize(t *testing.T) {
	acc := newAccumulator(t)

	for _, delta := range []string{"The total ", "is now ", "$1,250.00."} {
		if err := acc.Write(delta); err != nil {
			t.Fatalf("Write(%q): %v", delta, err)
		}
	}

	text, hash, err := acc.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	want := "The total is now $1,250.00."
	if text != want {
		t.Errorf("got %q, want %q", text, want)
	}

	sum := sha256.Sum256([]byte(want))
	if hash != hex.EncodeToString(sum[:]) {
		t.Errorf("hash mismatch: %s", hash)
	}
}

func TestAccumulatorRejectsUseAfterFinalize(t *testing.T) {
	acc := newAccumulator(t)
	if _, _, err := acc.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	if err := acc.Write("late"); !errors.Is(err, ErrAccumulatorDestroyed) {
		t.Errorf("Write after Finalize: got %v", err)
	}
	if _, _, err := acc.Finalize(); !errors.Is(err, ErrAccumulatorDestroyed) {
		t.Errorf("double Finalize: got %v", err)
	}
}

func TestAccumulatorRejectsUseAfterDestroy(t *testing.T) {
	acc := newAccumulator(t)
	if err := acc.Write("draft"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	acc.Destroy()
	acc.Destroy() // idempotent

	if err := acc.Write("late"); !errors.Is(err, ErrAccumulatorDestroyed) {
		t.Errorf("Write after Destroy: got %v", err)
	}
}

func TestAccumulatorOverflow(t *testing.T) {
	acc := newAccumulator(t)
	defer acc.Destroy()

	filler := strings.Repeat("x", SecureBufferSize)
	if err := acc.Write(filler); err != nil {
		t.Fatalf("filling to capacity should succeed: %v", err)
	}
	if err := acc.Write("y"); !errors.Is(err, ErrAccumulatorOverflow) {
		t.Errorf("expected overflow, got %v", err)
	}

	// An overflowed accumulator still finalizes what it holds.
	text, _, err := acc.Finalize()
	if err != nil {
		t.Fatalf("Finalize after overflow: %v", err)
	}
	if len(text) != SecureBufferSize {
		t.Errorf("expected %d bytes, got %d", SecureBufferSize, len(text))
	}
}

func TestAccumulatorIDsAreUnique(t *testing.T) {
	a := newAccumulator(t)
	b := newAccumulator(t)
	defer a.Destroy()
	defer b.Destroy()

	if a.ID() == b.ID() {
		t.Errorf("accumulator ids collide: %s", a.ID())
	}
}
