// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command sentinel starts the Aleutian Sentinel healing service.
//
// The sentinel watches a set of configured entities (containers,
// processes, host resources, network endpoints), detects deviations
// from their healthy state, diagnoses the root cause, applies a
// remediation, and verifies the result — escalating to a human with a
// generated report when automatic healing fails.
//
// Usage:
//
//	sentinel serve --entities /etc/sentinel/entities.yaml
//	sentinel serve --port 12300 --poll-interval 15s
//
// Environment:
//
//	SENTINEL_PORT                 API port (default 12300)
//	SENTINEL_ENTITIES_FILE        entity definitions YAML
//	SENTINEL_HISTORY_DIR          BadgerDB directory for history
//	SENTINEL_LOG_DIR              directory for JSON log files (optional)
//	SENTINEL_POLL_INTERVAL        detection interval (e.g. 30s)
//	SENTINEL_SUPPRESSION_WINDOW   cool-down after a resolved fault
//	SENTINEL_ENABLE_PROVIDER      "true" to consult the LLM analyst
//	OPENAI_API_KEY                key for the analysis provider
//	OTEL_EXPORTER_OTLP_ENDPOINT   OTLP gRPC collector address
//
// Example requests:
//
//	# Liveness
//	curl http://localhost:12300/health
//
//	# Inject a drill fault
//	curl -X POST http://localhost:12300/v1/faults/inject \
//	  -H "Content-Type: application/json" \
//	  -d '{"entity_id": "api-server", "fault_type": "crash"}'
//
//	# Healing statistics
//	curl http://localhost:12300/v1/healing/stats | jq
package main

import (
	"log"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sentinel",
	Short: "Aleutian Sentinel: autonomous fault detection and healing",
	Long: "Aleutian Sentinel monitors configured entities, diagnoses faults, " +
		"applies remediations, and verifies recovery, keeping a full history " +
		"of every healing attempt.",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
