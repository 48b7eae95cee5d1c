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
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	outputJSON    bool
	outputCompact bool
	outputQuiet   bool

	backendType string
	servePort   int

	documentID  string
	temperature float64
	topP        float64
	maxTokens   int

	rootCmd = &cobra.Command{
		Use:   "scribeworks",
		Short: "A cli for the ScribeWorks document assistant",
		Long: `ScribeWorks streams assistant responses that edit and generate
				business documents, with automatic versioning of every change.`,
	}

	// --- Server ---
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the ScribeWorks orchestrator server",
		Run:   runServe, // Defined in cmd_serve.go
	}

	// --- Assistant ---
	assistCmd = &cobra.Command{
		Use:   "assist [prompt]",
		Short: "Send a prompt to the assistant and stream the response",
		Long: `assist streams the assistant's reply to the terminal as it is
				generated. Document edit instructions embedded in the stream
				are applied server-side and reported as they land.

				The prompt is read from the arguments, or from stdin when piped.`,
		Run: runAssistCommand, // Defined in cmd_assist.go
	}

	// --- Versions ---
	versionsCmd = &cobra.Command{
		Use:   "versions",
		Short: "Inspect and restore document version history",
	}
	versionsListCmd = &cobra.Command{
		Use:   "list [document_id]",
		Short: "List all saved versions of a document",
		Args:  cobra.ExactArgs(1),
		Run:   runVersionsList, // Defined in cmd_versions.go
	}
	versionsRestoreCmd = &cobra.Command{
		Use:   "restore [document_id] [version_id]",
		Short: "Restore a document to a prior version",
		Args:  cobra.ExactArgs(2),
		Run:   runVersionsRestore, // Defined in cmd_versions.go
	}
)

// init runs when the Go program starts
func init() {
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output results as JSON")
	rootCmd.PersistentFlags().BoolVar(&outputCompact, "compact", false, "Compact JSON output (no indentation)")
	rootCmd.PersistentFlags().BoolVarP(&outputQuiet, "quiet", "q", false, "Suppress output, exit code only")

	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&backendType, "backend", "",
		"Assistant backend (scribe, openai). Overrides config.yaml.")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port. Overrides config.yaml.")

	rootCmd.AddCommand(assistCmd)
	assistCmd.Flags().StringVarP(&documentID, "document", "d", "",
		"Target document ID to activate before applying instructions")
	assistCmd.Flags().Float64Var(&temperature, "temperature", 0, "Sampling temperature (0 = server default)")
	assistCmd.Flags().Float64Var(&topP, "top-p", 0, "Nucleus sampling cutoff (0 = server default)")
	assistCmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "Response token cap (0 = server default)")

	rootCmd.AddCommand(versionsCmd)
	versionsCmd.AddCommand(versionsListCmd)
	versionsCmd.AddCommand(versionsRestoreCmd)
}
