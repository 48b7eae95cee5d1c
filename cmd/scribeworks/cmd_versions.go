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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// runVersionsList prints a document's version history, newest last.
func runVersionsList(cmd *cobra.Command, args []string) {
	start := time.Now()
	cfg := outputConfigFromFlags()
	docID := args[0]

	var listing VersionListResult
	err := getJSON(fmt.Sprintf("%s/v1/documents/%s/versions", config.Orchestrator.URL, docID), &listing)
	if err != nil {
		os.Exit(OutputResult(cfg, "versions list", start, nil, false, err))
	}
	listing.Count = len(listing.Versions)

	if !cfg.JSON && !cfg.Quiet {
		if listing.Count == 0 {
			fmt.Printf("No versions recorded for document %s\n", docID)
		}
		for _, snap := range listing.Versions {
			fmt.Printf("%-10s %s  %s  %s\n",
				snap.Version,
				snap.VersionID,
				snap.CreatedAt.Format(time.RFC3339),
				snap.Reason,
			)
		}
	}
	os.Exit(OutputResult(cfg, "versions list", start, listing, false, nil))
}

// runVersionsRestore rolls a document back to a prior version. The server
// snapshots the current state first, so the restore is itself undoable.
func runVersionsRestore(cmd *cobra.Command, args []string) {
	start := time.Now()
	cfg := outputConfigFromFlags()
	docID, versionID := args[0], args[1]

	url := fmt.Sprintf("%s/v1/documents/%s/versions/%s/restore",
		config.Orchestrator.URL, docID, versionID)
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		os.Exit(OutputResult(cfg, "versions restore", start, nil, false,
			fmt.Errorf("connect to orchestrator: %w", err)))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		os.Exit(OutputResult(cfg, "versions restore", start, nil, false,
			fmt.Errorf("orchestrator returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))))
	}

	result := RestoreResult{DocumentID: docID, VersionID: versionID, Restored: true}
	if !cfg.JSON && !cfg.Quiet {
		fmt.Printf("Restored document %s to version %s\n", docID, versionID)
	}
	os.Exit(OutputResult(cfg, "versions restore", start, result, false, nil))
}

// getJSON fetches a URL and decodes the JSON response into out.
func getJSON(url string, out any) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("connect to orchestrator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("orchestrator returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
