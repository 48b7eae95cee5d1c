// Copyright (C) 2025 ScribeWorks AI (oss@scribeworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/ScribeWorksAI/ScribeWorksFOSS/pkg/ux"
	"github.com/ScribeWorksAI/ScribeWorksFOSS/services/orchestrator/datatypes"
)

// runAssistCommand sends one prompt to the orchestrator and renders the
// SSE stream: tokens as they arrive, instruction outcomes as they land.
func runAssistCommand(cmd *cobra.Command, args []string) {
	start := time.Now()
	cfg := outputConfigFromFlags()

	prompt, err := readPrompt(args)
	if err != nil {
		os.Exit(OutputResult(cfg, "assist", start, nil, false, err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := streamAssist(ctx, prompt, cfg)
	hasFindings := false
	if result != nil {
		for _, outcome := range result.Instructions {
			if !outcome.Success {
				hasFindings = true
			}
		}
	}
	os.Exit(OutputResult(cfg, "assist", start, result, hasFindings, err))
}

// readPrompt takes the prompt from the arguments, or from stdin when input
// is piped. An interactive terminal with no arguments is an error rather
// than a silent hang.
func readPrompt(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		prompt := strings.TrimSpace(string(data))
		if prompt == "" {
			return "", fmt.Errorf("empty prompt on stdin")
		}
		return prompt, nil
	}
	return "", fmt.Errorf("no prompt given (pass it as an argument or pipe it in)")
}

func streamAssist(ctx context.Context, prompt string, cfg OutputConfig) (*AssistResult, error) {
	reqBody := datatypes.AssistStreamRequest{
		RequestID:  uuid.New().String(),
		Timestamp:  time.Now().UnixMilli(),
		Messages:   []datatypes.Message{{Role: "user", Content: prompt}},
		DocumentID: documentID,
	}
	if temperature > 0 {
		reqBody.Temperature = &temperature
	}
	if topP > 0 {
		reqBody.TopP = &topP
	}
	if maxTokens > 0 {
		reqBody.MaxTokens = &maxTokens
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	url := config.Orchestrator.URL + "/v1/assist/stream"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect to orchestrator at %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("orchestrator returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return renderStream(resp.Body, cfg)
}

// renderStream consumes the SSE body line by line. Tokens print as they
// arrive in text mode; JSON mode stays silent and reports at the end.
func renderStream(body io.Reader, cfg OutputConfig) (*AssistResult, error) {
	result := &AssistResult{}
	var answer strings.Builder
	var events []datatypes.StreamEvent
	textMode := !cfg.JSON && !cfg.Quiet

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var event datatypes.StreamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			continue
		}
		events = append(events, event)

		switch event.Type {
		case "token":
			answer.WriteString(event.Content)
			result.TokenCount++
			if textMode {
				fmt.Print(event.Content)
			}
		case "instructions":
			result.Instructions = append(result.Instructions, event.Results...)
			if textMode {
				for _, outcome := range event.Results {
					printOutcome(outcome)
				}
			}
		case "error":
			result.Answer = answer.String()
			return result, fmt.Errorf("assistant stream failed: %s", event.Error)
		case "done":
			result.DocumentID = event.DocumentID
			if textMode {
				fmt.Println()
				if event.DocumentID != "" {
					fmt.Printf("Document: %s\n", event.DocumentID)
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}

	result.Answer = answer.String()
	result.Integrity = ux.NewFullChainVerifier().Verify(events)
	if !result.Integrity.Valid && textMode {
		fmt.Fprintf(os.Stderr, "Warning: stream integrity check failed: %s\n",
			result.Integrity.ErrorMessage)
	}
	return result, nil
}

func printOutcome(outcome datatypes.InstructionOutcome) {
	if outcome.Success {
		fmt.Printf("\n  [applied] %s\n", outcome.Description)
	} else {
		fmt.Printf("\n  [failed] %s: %s\n", outcome.Description, outcome.Error)
	}
}
