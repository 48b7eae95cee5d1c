// Copyright (C) 2025 ScribeWorks AI (oss@scribeworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ScribeWorksAI/ScribeWorksFOSS/pkg/partialjson"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// frameTag is the protocol marker carried by every meaningful frame.
	frameTag = "data:"

	// streamEndSentinel is the distinguished payload signaling completion.
	streamEndSentinel = "[DONE]"

	// DefaultMaxPendingBytes bounds the decoder's pending-line buffer. A
	// buffer this large means the transport is emitting either one enormous
	// frame or a payload that will never resolve; failing the stream beats
	// growing without limit.
	DefaultMaxPendingBytes = 1 << 20 // 1 MB
)

// ErrDecoderOverflow is returned by Feed when the pending buffer would
// exceed its ceiling. The error is terminal for the stream.
var ErrDecoderOverflow = errors.New("llm: frame decoder pending buffer limit exceeded")

// errAwaitMore stops line processing after a put-back until more data
// arrives. Internal only; never escapes Feed.
var errAwaitMore = errors.New("llm: awaiting more frame data")

// =============================================================================
// Frame Payload
// =============================================================================

// framePayload is the decoded form of one frame's JSON payload. Exactly one
// of the three content fields is expected; pointer fields distinguish an
// absent field from an empty value.
type framePayload struct {
	// Response is a display-text delta for the external renderer.
	Response *string `json:"response,omitempty"`

	// ToolCalls is a complete instruction batch, self-contained in this
	// frame.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallFragment is a piece of an instruction batch streamed across
	// multiple frames. Fragments are accumulated and dispatched only once
	// the accumulated text parses completely.
	ToolCallFragment *string `json:"tool_call_fragment,omitempty"`
}

// FrameCallbacks receives classified frame content from a FrameDecoder.
// Nil members are skipped. Any returned error aborts decoding and is
// surfaced to the Feed/Flush caller unchanged.
type FrameCallbacks struct {
	// OnDelta receives display-text deltas in arrival order.
	OnDelta func(delta string) error

	// OnToolCalls receives each fully-parsed instruction batch.
	OnToolCalls func(calls []ToolCall) error

	// OnProgress receives the best-effort parse state of an in-flight
	// fragment payload after each fragment arrives.
	OnProgress func(res partialjson.Result) error
}

// =============================================================================
// FrameDecoder
// =============================================================================

// FrameDecoder splits a raw text stream into protocol frames.
//
// # Description
//
// The wire protocol is line-oriented: frames are lines prefixed with
// "data:" and terminated by '\n'. Comment lines (leading ':') and blank
// lines are discarded, as are lines with a different tag. The payload
// "[DONE]" marks stream completion; every other payload must be a
// self-contained JSON object classified by framePayload.
//
// Frame boundaries are defined solely by the line terminator: a payload may
// be cut across chunk boundaries and is not assumed complete until a
// terminator is observed. A line whose payload fails to parse is put back
// at the front of the buffer (re-prefixed with its tag) to wait for more
// data rather than being discarded; if it still fails once the next frame
// boundary arrives (or at stream end), it is counted as malformed and only
// that payload is dropped, so one bad frame cannot take down the stream.
//
// # Thread Safety
//
// Not safe for concurrent use. One decoder per stream, driven by the single
// goroutine that owns the transport reader.
type FrameDecoder struct {
	pending    []byte
	done       bool
	malformed  int
	maxPending int
	// putBack is the payload length of a line waiting for more data, so a
	// regrown line that still fails to parse can be split back at the
	// original boundary instead of absorbing later frames.
	putBack   int
	fragments *partialjson.Accumulator
	cb        FrameCallbacks
}

// NewFrameDecoder creates a decoder with the default buffer ceiling.
func NewFrameDecoder(cb FrameCallbacks) *FrameDecoder {
	return NewFrameDecoderWithLimit(cb, DefaultMaxPendingBytes)
}

// NewFrameDecoderWithLimit creates a decoder with an explicit pending-buffer
// ceiling in bytes. A non-positive limit falls back to the default.
func NewFrameDecoderWithLimit(cb FrameCallbacks, maxPending int) *FrameDecoder {
	if maxPending <= 0 {
		maxPending = DefaultMaxPendingBytes
	}
	return &FrameDecoder{
		maxPending: maxPending,
		fragments:  partialjson.NewAccumulator(),
		cb:         cb,
	}
}

// Feed appends a transport chunk and processes every complete line in the
// buffer. Returns ErrDecoderOverflow when the pending buffer would exceed
// its ceiling, or any error returned by a callback. Chunks fed after the
// stream completed are ignored.
func (d *FrameDecoder) Feed(chunk string) error {
	if d.done {
		return nil
	}
	if len(d.pending)+len(chunk) > d.maxPending {
		return fmt.Errorf("%w: %d bytes pending, %d byte chunk, limit %d",
			ErrDecoderOverflow, len(d.pending), len(chunk), d.maxPending)
	}
	d.pending = append(d.pending, chunk...)

	for !d.done {
		idx := bytes.IndexByte(d.pending, '\n')
		if idx < 0 {
			return nil
		}
		line := string(d.pending[:idx])
		d.pending = d.pending[idx+1:]

		if err := d.processLine(line, false); err != nil {
			if errors.Is(err, errAwaitMore) {
				return nil
			}
			return err
		}
	}
	return nil
}

// Flush handles end of stream: any remaining buffered line is processed
// with the same rules, a final fragment that still fails to parse is
// dropped, and a pending instruction-fragment payload is finalized through
// its accumulator.
func (d *FrameDecoder) Flush() error {
	if len(d.pending) > 0 {
		line := strings.TrimSuffix(string(d.pending), "\n")
		d.pending = nil
		if !d.done {
			if err := d.processLine(line, true); err != nil && !errors.Is(err, errAwaitMore) {
				return err
			}
		}
	}
	return d.finalizeFragments()
}

// Done reports whether the stream-end sentinel was observed.
func (d *FrameDecoder) Done() bool {
	return d.done
}

// MalformedFrames reports how many frame payloads never resolved to valid
// JSON and were dropped.
func (d *FrameDecoder) MalformedFrames() int {
	return d.malformed
}

// =============================================================================
// Internal
// =============================================================================

// processLine classifies one extracted line. atEOF disables put-back: no
// more data is coming, so an unparseable payload is counted and dropped.
func (d *FrameDecoder) processLine(line string, atEOF bool) error {
	line = strings.TrimSuffix(line, "\r")
	if line == "" {
		return nil
	}
	if line[0] == ':' {
		return nil // SSE comment
	}
	if !strings.HasPrefix(line, frameTag) {
		slog.Debug("skipping frame with unexpected tag", "line_prefix", prefixForLog(line))
		return nil
	}

	payload := strings.TrimSpace(line[len(frameTag):])
	if payload == "" {
		return nil
	}
	if payload == streamEndSentinel {
		d.done = true
		return nil
	}

	putBack := d.putBack
	d.putBack = 0

	var frame framePayload
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		if putBack > 0 && putBack < len(payload) {
			// The payload regrew by a full line and still does not parse.
			// A regrown line that starts a frame of its own (or is blank
			// or a comment) means the original payload can never resolve:
			// drop just it and resume at the appended line.
			rest := payload[putBack:]
			if rest == "" || rest[0] == ':' || strings.HasPrefix(rest, frameTag) {
				d.malformed++
				slog.Warn("dropping frame payload that never parsed", "bytes", putBack)
				return d.processLine(rest, atEOF)
			}
		}
		if atEOF {
			d.malformed++
			slog.Warn("dropping frame payload that never parsed", "bytes", len(payload))
			return nil
		}
		// The line terminator likely sits inside a payload spanning several
		// lines: put the line back, re-prefixed with its tag, and wait for
		// more data.
		restored := append([]byte(frameTag+" "+payload), d.pending...)
		d.pending = restored
		d.putBack = len(payload)
		return errAwaitMore
	}

	return d.dispatchFrame(frame)
}

// dispatchFrame routes a parsed payload to the matching callback.
func (d *FrameDecoder) dispatchFrame(frame framePayload) error {
	switch {
	case len(frame.ToolCalls) > 0:
		if d.cb.OnToolCalls != nil {
			return d.cb.OnToolCalls(frame.ToolCalls)
		}
	case frame.ToolCallFragment != nil:
		return d.appendFragment(*frame.ToolCallFragment)
	case frame.Response != nil:
		if d.cb.OnDelta != nil && *frame.Response != "" {
			return d.cb.OnDelta(*frame.Response)
		}
	default:
		slog.Debug("ignoring frame payload with no recognized field")
	}
	return nil
}

// appendFragment feeds one instruction-payload fragment through the
// accumulator and dispatches the batch as soon as the accumulated text
// parses completely.
func (d *FrameDecoder) appendFragment(fragment string) error {
	res, err := d.fragments.Append(fragment)
	if err != nil {
		return err
	}

	if res.IsComplete {
		calls, ok := decodeToolCallBatch(res.Parsed)
		d.fragments.Reset()
		if !ok {
			d.malformed++
			slog.Warn("instruction fragment payload completed with unexpected shape")
			return nil
		}
		if d.cb.OnToolCalls != nil {
			return d.cb.OnToolCalls(calls)
		}
		return nil
	}

	if d.cb.OnProgress != nil {
		return d.cb.OnProgress(res)
	}
	return nil
}

// finalizeFragments resolves any fragment text still buffered at stream end.
func (d *FrameDecoder) finalizeFragments() error {
	if d.fragments.Len() == 0 {
		return nil
	}
	value := d.fragments.Finalize()
	d.fragments.Reset()

	calls, ok := decodeToolCallBatch(value)
	if !ok {
		d.malformed++
		slog.Warn("dropping instruction fragment payload unresolved at stream end")
		return nil
	}
	if d.cb.OnToolCalls != nil {
		return d.cb.OnToolCalls(calls)
	}
	return nil
}

// decodeToolCallBatch converts a recovered JSON value into tool calls. Both
// a bare array and an object carrying a "tool_calls" field are accepted.
func decodeToolCallBatch(value any) ([]ToolCall, bool) {
	if value == nil {
		return nil, false
	}
	if obj, isMap := value.(map[string]any); isMap {
		inner, present := obj["tool_calls"]
		if !present {
			return nil, false
		}
		value = inner
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return nil, false
	}
	var calls []ToolCall
	if err := json.Unmarshal(raw, &calls); err != nil {
		return nil, false
	}
	if len(calls) == 0 {
		return nil, false
	}
	return calls, true
}

// prefixForLog bounds a line echoed into debug logs.
func prefixForLog(line string) string {
	const max = 32
	if len(line) <= max {
		return line
	}
	return line[:max]
}
