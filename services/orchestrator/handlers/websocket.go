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
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ScribeWorksAI/ScribeWorksFOSS/services/llm"
	"github.com/ScribeWorksAI/ScribeWorksFOSS/services/orchestrator/datatypes"
)

// wsWriteTimeout bounds each outbound write so one stuck client cannot pin
// the handler goroutine.
const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		allowed := os.Getenv("SCRIBEWORKS_ALLOWED_ORIGINS")
		if allowed == "" {
			// Same-host tools and curl carry no Origin header.
			return r.Header.Get("Origin") == ""
		}
		origin := r.Header.Get("Origin")
		for _, candidate := range strings.Split(allowed, ",") {
			if strings.TrimSpace(candidate) == origin {
				return true
			}
		}
		return false
	},
}

// wsEventSender serializes stream events onto one websocket connection,
// keeping the same hash chain the SSE writer maintains.
type wsEventSender struct {
	ws       *websocket.Conn
	prevHash string
	mu       sync.Mutex
}

func (s *wsEventSender) send(event *datatypes.StreamEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	event.PrevHash = s.prevHash
	event.Hash = event.ComputeHash()
	s.prevHash = event.Hash

	_ = s.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.ws.WriteJSON(event)
}

// HandleAssistWebSocket returns the handler for GET /v1/assist/ws.
//
// The websocket variant of the assist stream: the client sends one
// AssistStreamRequest JSON message per turn and receives the same event
// sequence the SSE endpoint produces, as JSON messages. The connection
// stays open across turns.
func HandleAssistWebSocket(deps AssistDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("websocket upgrade failed", "error", err)
			return
		}
		defer ws.Close()

		for {
			var req datatypes.AssistStreamRequest
			if err := ws.ReadJSON(&req); err != nil {
				if websocket.IsUnexpectedCloseError(err,
					websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					slog.Warn("websocket closed unexpectedly", "error", err)
					countDisconnect("assist_ws")
				}
				return
			}
			streamOneTurn(c, ws, deps, &req)
		}
	}
}

// streamOneTurn runs one assist stream over an open websocket.
func streamOneTurn(c *gin.Context, ws *websocket.Conn, deps AssistDeps, req *datatypes.AssistStreamRequest) {
	sender := &wsEventSender{ws: ws}

	if err := req.Validate(); err != nil {
		_ = sender.send(datatypes.NewStreamEvent("error").WithError("request validation failed"))
		return
	}
	if req.DocumentID != "" {
		if err := deps.Docs.SetActive(req.DocumentID); err != nil {
			_ = sender.send(datatypes.NewStreamEvent("error").WithError("document not found"))
			return
		}
	}

	accumulator, err := NewResponseAccumulator()
	if err != nil {
		slog.Error("could not allocate response accumulator", "error", err)
		_ = sender.send(datatypes.NewStreamEvent("error").WithError("internal error"))
		return
	}
	defer accumulator.Destroy()

	gaugeStreams("assist_ws", 1)
	defer gaugeStreams("assist_ws", -1)
	start := time.Now()
	accumulationFailed := false

	if err := sender.send(datatypes.NewStreamEvent("status").WithMessage("Connected to assistant")); err != nil {
		return
	}

	err = deps.Client.AssistStream(c.Request.Context(), req.Messages, llm.GenerationParams{
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
	}, func(event llm.StreamEvent) error {
		switch event.Type {
		case llm.StreamEventToken:
			countToken("assist_ws")
			if !accumulationFailed {
				if accErr := accumulator.Write(event.Content); accErr != nil {
					slog.Warn("response accumulation stopped", "error", accErr)
					accumulationFailed = true
				}
			}
			return sender.send(datatypes.NewStreamEvent("token").WithContent(event.Content))
		case llm.StreamEventProgress:
			return sender.send(datatypes.NewStreamEvent("parse_progress").
				WithParseProgress(event.AvailableKeys, event.Progress))
		case llm.StreamEventInstructions:
			results := deps.Dispatcher.Dispatch(event.ToolCalls)
			return sender.send(datatypes.NewStreamEvent("instructions").WithResults(toOutcomes(results)))
		}
		return nil
	})

	if err != nil {
		_, kind, clientMsg := classifyStreamFailure(err)
		slog.Error("websocket assist stream failed", "kind", kind, "error", err)
		countError("assist_ws", kind)
		countRequest("assist_ws", kind)
		_ = sender.send(datatypes.NewStreamEvent("error").WithError(clientMsg))
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

	_ = sender.send(datatypes.NewStreamEvent("done").WithDocumentID(docID))
	countRequest("assist_ws", "ok")
	observeDuration("assist_ws", time.Since(start))
}
