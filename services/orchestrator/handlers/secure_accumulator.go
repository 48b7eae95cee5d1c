// Copyright (C) 2025 ScribeWorks AI (oss@scribeworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

const (
	// SecureBufferSize is the size of the mlocked buffer accumulating the
	// assistant's response text. Business documents routinely carry
	// customer names, pricing, and terms; the full response is treated as
	// sensitive until it lands in the document store.
	SecureBufferSize = 512 * 1024 // 512 KB

	// MinMlockLimitKB is the minimum mlock limit required in kilobytes.
	MinMlockLimitKB = 512
)

var (
	memguardInitOnce sync.Once
	mlockSufficient  bool
	mlockLimitKB     int64
)

var (
	// ErrAccumulatorDestroyed rejects use after Finalize or Destroy.
	ErrAccumulatorDestroyed = errors.New("accumulator already finalized or destroyed")

	// ErrAccumulatorOverflow rejects writes past the fixed buffer size.
	ErrAccumulatorOverflow = errors.New("accumulator buffer capacity exceeded")
)

// =============================================================================
// Interface
// =============================================================================

// ResponseAccumulator collects streamed response text into protected
// memory, hashing incrementally for integrity.
//
// # Thread Safety
//
// Implementations are safe for concurrent use.
//
// # Limitations
//
//   - Buffer size is fixed (cannot grow dynamically)
//   - An accumulator cannot be reused after Finalize() or Destroy()
type ResponseAccumulator interface {
	// Write appends one text delta. Deltas are hashed as they arrive.
	Write(delta string) error

	// Finalize returns the accumulated text and its SHA-256 hex hash, then
	// wipes the buffer. The accumulator is unusable afterwards.
	Finalize() (string, string, error)

	// Destroy wipes the buffer without returning its content. Safe to call
	// after Finalize.
	Destroy()

	// ID identifies this accumulator instance in logs.
	ID() string
}

// =============================================================================
// Secure Implementation
// =============================================================================

// secureResponseAccumulator stores response text in a memguard mlocked
// buffer so it cannot be swapped to disk mid-stream.
type secureResponseAccumulator struct {
	id        string
	createdAt time.Time
	mu        sync.Mutex
	buffer    *memguard.LockedBuffer
	offset    int
	hasher    hash.Hash
	destroyed bool
}

// NewResponseAccumulator allocates a secure accumulator. If the system's
// mlock limit is insufficient, it falls back to standard memory when
// SCRIBEWORKS_INSECURE_MEMORY=true, and fails otherwise.
func NewResponseAccumulator() (ResponseAccumulator, error) {
	memguardInitOnce.Do(func() {
		memguard.CatchInterrupt()
		mlockSufficient, mlockLimitKB = checkMlockLimit()
	})

	if !mlockSufficient {
		if os.Getenv("SCRIBEWORKS_INSECURE_MEMORY") == "true" {
			return newInsecureResponseAccumulator(), nil
		}
		return nil, fmt.Errorf(
			"mlock limit %d KB is below the required %d KB; raise the limit or set SCRIBEWORKS_INSECURE_MEMORY=true",
			mlockLimitKB, MinMlockLimitKB)
	}

	return &secureResponseAccumulator{
		id:        uuid.New().String(),
		createdAt: time.Now(),
		buffer:    memguard.NewBuffer(SecureBufferSize),
		hasher:    sha256.New(),
	}, nil
}

// checkMlockLimit reads RLIMIT_MEMLOCK and reports whether a secure buffer
// fits within it.
func checkMlockLimit() (bool, int64) {
	var limit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &limit); err != nil {
		slog.Warn("could not read mlock limit", "error", err)
		return false, 0
	}
	if limit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}
	limitKB := int64(limit.Cur) / 1024
	return limitKB >= MinMlockLimitKB, limitKB
}

func (a *secureResponseAccumulator) Write(delta string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return ErrAccumulatorDestroyed
	}
	deltaBytes := []byte(delta)
	if a.offset+len(deltaBytes) > a.buffer.Size() {
		return fmt.Errorf("%w: %d bytes accumulated, %d byte delta, capacity %d",
			ErrAccumulatorOverflow, a.offset, len(deltaBytes), a.buffer.Size())
	}

	copy(a.buffer.Bytes()[a.offset:], deltaBytes)
	a.offset += len(deltaBytes)
	a.hasher.Write(deltaBytes)
	return nil
}

func (a *secureResponseAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", ErrAccumulatorDestroyed
	}
	text := string(a.buffer.Bytes()[:a.offset])
	hashStr := hex.EncodeToString(a.hasher.Sum(nil))

	a.buffer.Destroy()
	a.destroyed = true

	slog.Debug("response accumulator finalized",
		"accumulator_id", a.id, "bytes", len(text), "hash", hashStr)
	return text, hashStr, nil
}

func (a *secureResponseAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return
	}
	a.buffer.Destroy()
	a.destroyed = true
}

func (a *secureResponseAccumulator) ID() string {
	return a.id
}

// =============================================================================
// Insecure Fallback
// =============================================================================

// insecureResponseAccumulator is the fallback for systems without adequate
// mlock limits. Same contract, standard Go memory: data may be swapped to
// disk and is not protected by guard pages.
type insecureResponseAccumulator struct {
	id        string
	mu        sync.Mutex
	data      []byte
	hasher    hash.Hash
	destroyed bool
}

func newInsecureResponseAccumulator() ResponseAccumulator {
	accID := uuid.New().String()
	slog.Warn("created INSECURE response accumulator - data may be swapped to disk",
		"accumulator_id", accID)
	return &insecureResponseAccumulator{
		id:     accID,
		data:   make([]byte, 0, SecureBufferSize),
		hasher: sha256.New(),
	}
}

func (a *insecureResponseAccumulator) Write(delta string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return ErrAccumulatorDestroyed
	}
	if len(a.data)+len(delta) > SecureBufferSize {
		return fmt.Errorf("%w: %d bytes accumulated, %d byte delta, capacity %d",
			ErrAccumulatorOverflow, len(a.data), len(delta), SecureBufferSize)
	}
	a.data = append(a.data, delta...)
	a.hasher.Write([]byte(delta))
	return nil
}

func (a *insecureResponseAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", ErrAccumulatorDestroyed
	}
	text := string(a.data)
	hashStr := hex.EncodeToString(a.hasher.Sum(nil))

	a.wipe()
	return text, hashStr, nil
}

func (a *insecureResponseAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.destroyed {
		a.wipe()
	}
}

// wipe zeroes the backing array before releasing it. Best effort only; the
// GC may already have copied the data.
func (a *insecureResponseAccumulator) wipe() {
	for i := range a.data {
		a.data[i] = 0
	}
	a.data = nil
	a.destroyed = true
}

func (a *insecureResponseAccumulator) ID() string {
	return a.id
}

var (
	_ ResponseAccumulator = (*secureResponseAccumulator)(nil)
	_ ResponseAccumulator = (*insecureResponseAccumulator)(nil)
)
