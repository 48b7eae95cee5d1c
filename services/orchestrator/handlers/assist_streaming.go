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
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ScribeWorksAI/ScribeWorksFOSS/services/doc_engine"
	"github.com/ScribeWorksAI/ScribeWorksFOSS/services/llm"
	"github.com/ScribeWorksAI/ScribeWorksFOSS/services/orchestrator/datatypes"
	"github.com/ScribeWorksAI/ScribeWorksFOSS/services/orchestrator/observability"
)

// keepAliveInterval paces SSE comments during long assistant pauses. Load
// balancers commonly cut idle connections at 60s; 15s leaves headroom.
const keepAliveInterval = 15 * time.Second

// AssistDeps bundles the collaborators of the assist streaming endpoints.
// One set per document session; the version store's lifetime is tied to it.
type AssistDeps struct {
	Client     llm.AssistantClient
	Docs       *doc_engine.MemoryDocumentStore
	Versions   *doc_engine.VersionStore
	Dispatcher *doc_engine.Dispatcher
}

// HandleAssistStream returns the handler for POST /v1/assist/stream.
//
// # Description
//
// Bridges the assistant backend's frame stream onto an SSE response.
// Display tokens are forwarded as they arrive and mirrored into a secure
// accumulator; completed instruction batches are dispatched against the
// active document and their outcomes streamed back; parse progress of
// in-flight instruction payloads feeds the client's progress UI.
//
// Transport failures from the backend are classified before the SSE stream
// opens and map to HTTP status codes: 429 for rate limiting, 402 for
// exhausted quota, 503 otherwise. Once events have been written the status
// line is gone, so later failures become SSE error events instead.
//
// # Flow
//
//  1. Parse and validate the request body
//  2. Activate the target document if one was named
//  3. Open the backend stream; on the first event, set SSE headers, write
//     a status event, and start the keep-alive ticker
//  4. Forward events until done, dispatching instruction batches in order
//  5. Finalize the accumulator into the document's rendered output and
//     write the terminal done event
func HandleAssistStream(deps AssistDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		tracer := otel.Tracer("scribeworks/orchestrator")
		ctx, span := tracer.Start(c.Request.Context(), "HandleAssistStream",
			trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		var req datatypes.AssistStreamRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			slog.Warn("assist request failed validation", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "request validation failed"})
			return
		}
		span.SetAttributes(
			attribute.String("request.id", req.RequestID),
			attribute.Int("request.messages", len(req.Messages)),
		)

		if req.DocumentID != "" {
			if err := deps.Docs.SetActive(req.DocumentID); err != nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
				return
			}
		}

		accumulator, err := NewResponseAccumulator()
		if err != nil {
			slog.Error("could not allocate response accumulator", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		defer accumulator.Destroy()

		stream := newStreamState(c, "assist_sse")
		defer stream.close()

		start := time.Now()
		var firstToken time.Time
		accumulationFailed := false

		callback := func(event llm.StreamEvent) error {
			if err := c.Request.Context().Err(); err != nil {
				countDisconnect("assist_sse")
				return err
			}

			switch event.Type {
			case llm.StreamEventToken:
				writer, err := stream.ensure()
				if err != nil {
					return err
				}
				if firstToken.IsZero() {
					firstToken = time.Now()
					observeFirstToken("assist_sse", firstToken.Sub(start))
				}
				countToken("assist_sse")
				if !accumulationFailed {
					if accErr := accumulator.Write(event.Content); accErr != nil {
						// Keep streaming to the client; only the stored
						// rendered output is lost.
						slog.Warn("response accumulation stopped", "error", accErr)
						accumulationFailed = true
					}
				}
				return writer.WriteToken(event.Content)

			case llm.StreamEventProgress:
				writer, err := stream.ensure()
				if err != nil {
					return err
				}
				return writer.WriteParseProgress(event.AvailableKeys, event.Progress)

			case llm.StreamEventInstructions:
				writer, err := stream.ensure()
				if err != nil {
					return err
				}
				results := deps.Dispatcher.Dispatch(event.ToolCalls)
				return writer.WriteInstructionResults(toOutcomes(results))

			case llm.StreamEventDone:
				return nil
			}
			return nil
		}

		err = deps.Client.AssistStream(ctx, req.Messages, llm.GenerationParams{
			Temperature: req.Temperature,
			TopP:        req.TopP,
			MaxTokens:   req.MaxTokens,
		}, callback)

		if err != nil {
			handleStreamFailure(c, stream, err)
			return
		}

		docID := ""
		if text, _, finErr := accumulator.Finalize(); finErr == nil && !accumulationFailed {
			if doc, ok := deps.Docs.Active(); ok {
				docID = doc.ID
				if setErr := deps.Docs.SetRenderedOutput(doc.ID, text); setErr != nil {
					slog.Warn("could not store rendered output", "doc_id", doc.ID, "error", setErr)
				}
			}
		} else if doc, ok := deps.Docs.Active(); ok {
			docID = doc.ID
		}

		writer, wErr := stream.ensure()
		if wErr != nil {
			return
		}
		if wErr := writer.WriteDone(docID); wErr != nil {
			slog.Warn("could not write done event", "error", wErr)
		}

		countRequest("assist_sse", "ok")
		observeDuration("assist_sse", time.Since(start))
	}
}

// handleStreamFailure reports a backend failure appropriately for how far
// the response has progressed: HTTP status if nothing was sent, SSE error
// event otherwise.
func handleStreamFailure(c *gin.Context, stream *streamState, err error) {
	status, kind, clientMsg := classifyStreamFailure(err)
	slog.Error("assist stream failed", "kind", kind, "error", err)
	countError("assist_sse", kind)
	countRequest("assist_sse", kind)

	if !stream.started {
		c.JSON(status, gin.H{"error": clientMsg})
		return
	}
	if writer, wErr := stream.ensure(); wErr == nil {
		_ = writer.WriteError(clientMsg)
	}
}

// classifyStreamFailure maps pipeline errors onto an HTTP status, a metric
// label, and a sanitized client message.
func classifyStreamFailure(err error) (int, string, string) {
	switch {
	case errors.Is(err, llm.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited",
			"The assistant is handling too many requests. Try again shortly."
	case errors.Is(err, llm.ErrQuotaExhausted):
		return http.StatusPaymentRequired, "quota_exhausted",
			"The assistant quota is exhausted."
	case errors.Is(err, llm.ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable",
			"The assistant is temporarily unavailable."
	case errors.Is(err, llm.ErrDecoderOverflow):
		return http.StatusBadGateway, "decoder_overflow",
			"The assistant stream could not be decoded."
	default:
		return http.StatusInternalServerError, "error",
			"The assistant stream failed."
	}
}

// =============================================================================
// Stream State
// =============================================================================

// streamState defers SSE setup until the first event so that pre-stream
// failures can still use a proper HTTP status line.
type streamState struct {
	c        *gin.Context
	endpoint string
	started  bool
	writer   SSEWriter
	stop     chan struct{}
}

func newStreamState(c *gin.Context, endpoint string) *streamState {
	return &streamState{c: c, endpoint: endpoint, stop: make(chan struct{})}
}

// ensure sets SSE headers, creates the writer, writes the opening status
// event, and starts the keep-alive ticker. Idempotent.
func (s *streamState) ensure() (SSEWriter, error) {
	if s.started {
		return s.writer, nil
	}

	SetSSEHeaders(s.c.Writer)
	writer, err := NewSSEWriter(s.c.Writer)
	if err != nil {
		return nil, err
	}
	s.writer = writer
	s.started = true
	gaugeStreams(s.endpoint, 1)

	if err := writer.WriteStatus("Connected to assistant"); err != nil {
		return nil, err
	}

	go func() {
		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := writer.WriteKeepAlive(); err != nil {
					return
				}
				countKeepAlive(s.endpoint)
			case <-s.stop:
				return
			case <-s.c.Request.Context().Done():
				return
			}
		}
	}()

	return writer, nil
}

func (s *streamState) close() {
	close(s.stop)
	if s.started {
		gaugeStreams(s.endpoint, -1)
	}
}

// =============================================================================
// Helpers
// =============================================================================

// toOutcomes converts dispatcher results into the client-facing shape and
// records per-instruction metrics.
func toOutcomes(results []doc_engine.Result) []datatypes.InstructionOutcome {
	outcomes := make([]datatypes.InstructionOutcome, 0, len(results))
	for _, result := range results {
		outcome := datatypes.InstructionOutcome{
			Success:     result.Success,
			BeforeValue: result.BeforeValue,
			Error:       result.Error,
		}
		switch result.Instruction.(type) {
		case doc_engine.UpdateFieldInstruction:
			outcome.Name = doc_engine.NameUpdateDocumentField
		case doc_engine.GenerateDocumentInstruction:
			outcome.Name = doc_engine.NameGenerateDocument
		default:
			outcome.Name = "unknown"
		}
		if result.Instruction != nil {
			outcome.Description = result.Instruction.Describe()
		}
		countInstruction(outcome.Name, result.Success)
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// Metric helpers nil-check DefaultMetrics so handlers work in tests that
// skip InitMetrics.

func countRequest(endpoint, status string) {
	if m := observability.DefaultMetrics; m != nil {
		m.RequestsTotal.WithLabelValues(endpoint, status).Inc()
	}
}

func countToken(endpoint string) {
	if m := observability.DefaultMetrics; m != nil {
		m.TokensTotal.WithLabelValues(endpoint).Inc()
	}
}

func countInstruction(name string, success bool) {
	if m := observability.DefaultMetrics; m != nil {
		outcome := "failure"
		if success {
			outcome = "success"
		}
		m.InstructionsTotal.WithLabelValues(name, outcome).Inc()
	}
}

func countError(endpoint, kind string) {
	if m := observability.DefaultMetrics; m != nil {
		m.ErrorsTotal.WithLabelValues(endpoint, kind).Inc()
	}
}

func countKeepAlive(endpoint string) {
	if m := observability.DefaultMetrics; m != nil {
		m.KeepAlivesTotal.WithLabelValues(endpoint).Inc()
	}
}

func countDisconnect(endpoint string) {
	if m := observability.DefaultMetrics; m != nil {
		m.ClientDisconnectsTotal.WithLabelValues(endpoint).Inc()
	}
}

func gaugeStreams(endpoint string, delta float64) {
	if m := observability.DefaultMetrics; m != nil {
		m.ActiveStreams.WithLabelValues(endpoint).Add(delta)
	}
}

func observeFirstToken(endpoint string, d time.Duration) {
	if m := observability.DefaultMetrics; m != nil {
		m.TimeToFirstTokenSeconds.WithLabelValues(endpoint).Observe(d.Seconds())
	}
}

func observeDuration(endpoint string, d time.Duration) {
	if m := observability.DefaultMetrics; m != nil {
		m.StreamDurationSeconds.WithLabelValues(endpoint).Observe(d.Seconds())
	}
}
