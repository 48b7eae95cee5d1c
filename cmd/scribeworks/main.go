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
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Config holds CLI settings loaded from config.yaml. Every field has a
// working default so the file is optional.
type Config struct {
	Orchestrator struct {
		// URL of a running orchestrator for the assist and versions
		// commands. Default: http://localhost:12310
		URL string `yaml:"url"`
		// Port the serve command listens on. Default: 12310
		Port int `yaml:"port"`
	} `yaml:"orchestrator"`

	Assistant struct {
		// Backend selects the assistant provider: "scribe" or "openai".
		Backend string `yaml:"backend"`
	} `yaml:"assistant"`

	Logging struct {
		// Level is one of debug, info, warn, error.
		Level string `yaml:"level"`
		// Dir enables file logging when set (supports ~ expansion).
		Dir string `yaml:"dir"`
	} `yaml:"logging"`
}

var config Config

func main() {
	// Execute the root command. Cobra handles parsing the arguments.
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		configPath := "config.yaml"
		yamlFile, err := os.ReadFile(configPath)
		if err != nil {
			// No config file is fine; defaults apply.
			applyConfigDefaults()
			return
		}
		if err := yaml.Unmarshal(yamlFile, &config); err != nil {
			log.Fatalf("Error parsing config.yaml: %v", err)
		}
		applyConfigDefaults()
	}
}

func applyConfigDefaults() {
	if config.Orchestrator.URL == "" {
		config.Orchestrator.URL = "http://localhost:12310"
	}
	if config.Orchestrator.Port == 0 {
		config.Orchestrator.Port = 12310
	}
	if config.Assistant.Backend == "" {
		config.Assistant.Backend = "scribe"
	}
	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
}
