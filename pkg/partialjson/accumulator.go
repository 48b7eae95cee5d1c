// Copyright (C) 2025 ScribeWorks AI (oss@scribeworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package partialjson

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// DefaultMaxBufferBytes is the default ceiling for accumulated payload
	// text. Instruction batches are small; one megabyte indicates a stream
	// that will never terminate or never produce valid JSON.
	DefaultMaxBufferBytes = 1 << 20 // 1 MB
)

// ErrBufferOverflow is returned by Append when the accumulated buffer would
// exceed the configured ceiling. The accumulator refuses further growth
// rather than letting a pathological stream consume memory without limit.
var ErrBufferOverflow = errors.New("partialjson: accumulation buffer limit exceeded")

// =============================================================================
// Accumulator
// =============================================================================

// Accumulator collects streamed text chunks and re-parses the growing buffer.
//
// # Description
//
// Accumulator wraps Parse behind an append/finalize interface. Each Append
// concatenates the chunk onto the internal buffer and re-parses the entire
// buffer, not just the delta: textual repair is not incremental, and
// re-parsing the whole text is what guarantees chunk-split invariance (the
// final value is independent of how the stream was chunked).
//
// # Thread Safety
//
// Not safe for concurrent use. Each streamed payload owns one accumulator on
// a single decode goroutine.
//
// # Examples
//
//	acc := partialjson.NewAccumulator()
//	res, _ := acc.Append(`{"type":"A","x":1,"y":`)
//	// res.AvailableKeys == ["type","x"], res.IsComplete == false
//	res, _ = acc.Append(`2}`)
//	// res.IsComplete == true
//	value := acc.Finalize() // map[type:A x:1 y:2]
type Accumulator struct {
	buf      strings.Builder
	last     Result
	maxBytes int
}

// NewAccumulator creates an Accumulator with the default buffer ceiling.
func NewAccumulator() *Accumulator {
	return NewAccumulatorWithLimit(DefaultMaxBufferBytes)
}

// NewAccumulatorWithLimit creates an Accumulator with an explicit buffer
// ceiling in bytes. A non-positive limit falls back to the default.
func NewAccumulatorWithLimit(maxBytes int) *Accumulator {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBufferBytes
	}
	return &Accumulator{maxBytes: maxBytes}
}

// Append adds a chunk to the buffer and re-parses the whole buffer.
//
// # Inputs
//
//   - chunk: Next piece of streamed payload text. May be empty, may split
//     tokens, strings, or multi-byte runes arbitrarily.
//
// # Outputs
//
//   - Result: Best-effort parse of the full buffer so far. Cached for
//     Finalize fallback.
//   - error: ErrBufferOverflow when the ceiling would be exceeded; the chunk
//     is not appended and the cached result is returned unchanged.
func (a *Accumulator) Append(chunk string) (Result, error) {
	if a.buf.Len()+len(chunk) > a.maxBytes {
		return a.last, fmt.Errorf("%w: %d bytes buffered, %d byte chunk, limit %d",
			ErrBufferOverflow, a.buf.Len(), len(chunk), a.maxBytes)
	}
	a.buf.WriteString(chunk)
	a.last = Parse(a.buf.String())
	return a.last, nil
}

// Finalize attempts a strict parse of the full buffer.
//
// On failure it falls back to the last cached partial result's value, which
// may be nil if nothing was ever recoverable. For a complete valid document
// fed in arbitrarily sized chunks, Finalize is deep-equal to parsing the
// document whole.
func (a *Accumulator) Finalize() any {
	if parsed, ok := strictParse(strings.TrimSpace(a.buf.String())); ok {
		return parsed
	}
	return a.last.Parsed
}

// Last returns the most recent parse result without re-parsing.
func (a *Accumulator) Last() Result {
	return a.last
}

// Len reports the number of buffered bytes.
func (a *Accumulator) Len() int {
	return a.buf.Len()
}

// Reset clears the buffer and the cached result for reuse.
func (a *Accumulator) Reset() {
	a.buf.Reset()
	a.last = Result{}
}
