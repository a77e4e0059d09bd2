// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analyzer

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianSentinel/services/faults"
)

// =============================================================================
// Deterministic Correlation Rules
// =============================================================================

// ruleResult is the outcome of deterministic correlation before any
// provider consultation.
type ruleResult struct {
	RuleName   string
	RootCause  faults.Type
	Confidence float64
	Rationale  string
}

// rule is one deterministic correlation rule. Rules are evaluated in
// declaration order; the first match wins.
type rule struct {
	name    string
	matches func(c faults.Candidate) bool
	build   func(c faults.Candidate) ruleResult
}

// defaultRules is the ordered rule set. Most-specific evidence first:
// a crash loop in recent events is stronger than a bare stopped
// observation.
var defaultRules = []rule{
	{
		name: "crash_loop",
		matches: func(c faults.Candidate) bool {
			return c.Type == faults.TypeCrash && eventsContain(c.Signals.RecentEvents, "restart", "crash", "exited")
		},
		build: func(c faults.Candidate) ruleResult {
			return ruleResult{
				RuleName:   "crash_loop",
				RootCause:  faults.TypeCrash,
				Confidence: 0.9,
				Rationale:  fmt.Sprintf("entity %s stopped with crash evidence in recent events: %s", c.EntityID, strings.Join(c.Signals.RecentEvents, "; ")),
			}
		},
	},
	{
		name: "entity_stopped",
		matches: func(c faults.Candidate) bool {
			return c.Type == faults.TypeCrash
		},
		build: func(c faults.Candidate) ruleResult {
			return ruleResult{
				RuleName:   "entity_stopped",
				RootCause:  faults.TypeCrash,
				Confidence: 0.75,
				Rationale:  fmt.Sprintf("entity %s observed stopped without corroborating events", c.EntityID),
			}
		},
	},
	{
		name: "disk_threshold",
		matches: func(c faults.Candidate) bool {
			return c.Type == faults.TypeDiskFull
		},
		build: func(c faults.Candidate) ruleResult {
			return ruleResult{
				RuleName:   "disk_threshold",
				RootCause:  faults.TypeDiskFull,
				Confidence: 0.9,
				Rationale:  fmt.Sprintf("disk usage over threshold: %s", metricLine(c, "disk_percent")),
			}
		},
	},
	{
		name: "cpu_threshold",
		matches: func(c faults.Candidate) bool {
			return c.Type == faults.TypeCPUExhaustion
		},
		build: func(c faults.Candidate) ruleResult {
			return ruleResult{
				RuleName:   "cpu_threshold",
				RootCause:  faults.TypeCPUExhaustion,
				Confidence: 0.85,
				Rationale:  fmt.Sprintf("cpu usage over threshold: %s", metricLine(c, "cpu_percent")),
			}
		},
	},
	{
		name: "memory_threshold",
		matches: func(c faults.Candidate) bool {
			return c.Type == faults.TypeMemoryExhaustion
		},
		build: func(c faults.Candidate) ruleResult {
			return ruleResult{
				RuleName:   "memory_threshold",
				RootCause:  faults.TypeMemoryExhaustion,
				Confidence: 0.85,
				Rationale:  fmt.Sprintf("memory usage over threshold: %s", metricLine(c, "memory_percent")),
			}
		},
	},
	{
		name: "endpoint_unreachable",
		matches: func(c faults.Candidate) bool {
			return c.Type == faults.TypeNetworkUnreachable
		},
		build: func(c faults.Candidate) ruleResult {
			return ruleResult{
				RuleName:   "endpoint_unreachable",
				RootCause:  faults.TypeNetworkUnreachable,
				Confidence: 0.8,
				Rationale:  fmt.Sprintf("endpoint probe for %s failed: %s", c.EntityID, strings.Join(c.Signals.RecentEvents, "; ")),
			}
		},
	},
}

// evaluateRules runs the ordered rule set and returns the first match.
// Candidates no rule covers get a low-confidence unknown result so
// there is always something to degrade to.
func evaluateRules(c faults.Candidate) ruleResult {
	for _, r := range defaultRules {
		if r.matches(c) {
			return r.build(c)
		}
	}
	return ruleResult{
		RuleName:   "unmatched",
		RootCause:  faults.TypeUnknown,
		Confidence: 0.3,
		Rationale:  fmt.Sprintf("no correlation rule matched fault type %s on entity %s", c.Type, c.EntityID),
	}
}

func eventsContain(events []string, needles ...string) bool {
	for _, ev := range events {
		lower := strings.ToLower(ev)
		for _, n := range needles {
			if strings.Contains(lower, n) {
				return true
			}
		}
	}
	return false
}

func metricLine(c faults.Candidate, key string) string {
	if v, ok := c.Signals.Metrics[key]; ok {
		return fmt.Sprintf("%s=%.1f", key, v)
	}
	return key + " unavailable"
}
