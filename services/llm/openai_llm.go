// Copyright (C) 2025 ScribeWorks AI (oss@scribeworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ScribeWorksAI/ScribeWorksFOSS/pkg/partialjson"
	"github.com/ScribeWorksAI/ScribeWorksFOSS/services/orchestrator/datatypes"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIClient adapts the OpenAI chat-completions streaming API to the
// assistant stream contract. Instruction payloads arrive as tool-call
// argument deltas keyed by index; each index gets its own accumulator so
// interleaved batches reassemble independently.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient builds a client from the environment. OPENAI_API_KEY is
// required; SCRIBEWORKS_OPENAI_MODEL overrides the default model.
func NewOpenAIClient() (*OpenAIClient, error) {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return nil, errors.New("OPENAI_API_KEY is not set")
	}
	model := os.Getenv("SCRIBEWORKS_OPENAI_MODEL")
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIClient{
		client: openai.NewClient(key),
		model:  model,
	}, nil
}

// pendingToolCall collects one tool call's identity and its streamed
// argument text.
type pendingToolCall struct {
	id   string
	name string
	args *partialjson.Accumulator
}

// AssistStream implements AssistantClient.
func (c *OpenAIClient) AssistStream(
	ctx context.Context,
	messages []datatypes.Message,
	params GenerationParams,
	callback StreamCallback,
) error {
	tracer := otel.Tracer("scribeworks/llm")
	ctx, span := tracer.Start(ctx, "OpenAIClient.AssistStream",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", c.model))

	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
		Stream:   true,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	if params.Temperature != nil {
		req.Temperature = float32(*params.Temperature)
	}
	if params.TopP != nil {
		req.TopP = float32(*params.TopP)
	}
	if params.MaxTokens != nil {
		req.MaxTokens = *params.MaxTokens
	}
	req.Stop = params.Stop

	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return classifyOpenAIError(err)
	}
	defer stream.Close()

	pending := make(map[int]*pendingToolCall)

	for {
		resp, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return classifyOpenAIError(recvErr)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]

		if choice.Delta.Content != "" {
			if err := callback(StreamEvent{
				Type:    StreamEventToken,
				Content: choice.Delta.Content,
			}); err != nil {
				return err
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			call, exists := pending[idx]
			if !exists {
				call = &pendingToolCall{args: partialjson.NewAccumulator()}
				pending[idx] = call
			}
			if tc.ID != "" {
				call.id = tc.ID
			}
			if tc.Function.Name != "" {
				call.name = tc.Function.Name
			}
			if tc.Function.Arguments == "" {
				continue
			}
			res, appendErr := call.args.Append(tc.Function.Arguments)
			if appendErr != nil {
				return appendErr
			}
			if err := callback(StreamEvent{
				Type:          StreamEventProgress,
				AvailableKeys: res.AvailableKeys,
				Progress:      res.Progress,
			}); err != nil {
				return err
			}
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			if err := c.emitPending(pending, callback); err != nil {
				return err
			}
			pending = make(map[int]*pendingToolCall)
		}
	}

	// A stream cut short of its finish reason may still hold usable calls.
	if err := c.emitPending(pending, callback); err != nil {
		return err
	}
	return callback(StreamEvent{Type: StreamEventDone})
}

// emitPending finalizes accumulated tool calls in index order and delivers
// them as one instruction batch. Calls whose arguments never recovered into
// an object are dropped with a warning rather than failing the stream.
func (c *OpenAIClient) emitPending(
	pending map[int]*pendingToolCall,
	callback StreamCallback,
) error {
	if len(pending) == 0 {
		return nil
	}
	indices := make([]int, 0, len(pending))
	for idx := range pending {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	calls := make([]ToolCall, 0, len(pending))
	for _, idx := range indices {
		call := pending[idx]
		args, ok := call.args.Finalize().(map[string]any)
		if !ok {
			slog.Warn("dropping tool call with unrecoverable arguments",
				"tool_call_id", call.id, "tool_name", call.name)
			continue
		}
		calls = append(calls, ToolCall{
			ID:        call.id,
			Name:      call.name,
			Arguments: args,
		})
	}
	if len(calls) == 0 {
		return nil
	}
	return callback(StreamEvent{Type: StreamEventInstructions, ToolCalls: calls})
}

// classifyOpenAIError maps API failures onto the transport error taxonomy.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyTransportStatus(apiErr.HTTPStatusCode, apiErr.Message)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
