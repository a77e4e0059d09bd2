// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package healing

import (
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianSentinel/services/faults"
)

// =============================================================================
// Manual Intervention Report
// =============================================================================

// BuildManualReport renders the markdown document attached to a fault
// that exhausted its healing budget. It captures everything the pipeline
// knew so an operator can pick up without re-deriving the evidence.
func BuildManualReport(f *faults.Fault, entity faults.Entity) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Manual Intervention Required: %s\n\n", f.EntityID)
	fmt.Fprintf(&b, "- **Fault ID:** %s\n", f.ID)
	fmt.Fprintf(&b, "- **Fault type:** %s\n", f.Type)
	fmt.Fprintf(&b, "- **Severity:** %s\n", f.Severity)
	fmt.Fprintf(&b, "- **Detected:** %s\n", f.DetectedAt.Format(time.RFC3339))
	if entity.ID != "" {
		fmt.Fprintf(&b, "- **Entity kind:** %s\n", entity.Kind)
		fmt.Fprintf(&b, "- **Health check:** %s %s\n", entity.HealthCheck.Method, entity.HealthCheck.Target)
	}

	b.WriteString("\n## Diagnosis\n\n")
	if d := f.Diagnosis; d != nil {
		fmt.Fprintf(&b, "- **Root cause:** %s (confidence %.2f)\n", d.RootCause, d.Confidence)
		fmt.Fprintf(&b, "- **Rationale:** %s\n", d.Rationale)
		if d.Degraded {
			b.WriteString("- **Note:** diagnosis was produced without the external analysis provider.\n")
		}
	} else {
		b.WriteString("No diagnosis was produced.\n")
	}

	b.WriteString("\n## Evidence\n\n")
	fmt.Fprintf(&b, "- Observation: %s\n", f.Signals.Observation)
	if f.Signals.ContainerStatus != "" {
		fmt.Fprintf(&b, "- Container status: %s\n", f.Signals.ContainerStatus)
	}
	for _, ev := range f.Signals.RecentEvents {
		fmt.Fprintf(&b, "- Event: %s\n", ev)
	}
	for k, v := range f.Signals.Metrics {
		fmt.Fprintf(&b, "- Metric %s: %.1f\n", k, v)
	}

	b.WriteString("\n## Attempted Remediation\n\n")
	if len(f.Actions) == 0 {
		b.WriteString("No healing action was available for this root cause.\n")
	} else {
		b.WriteString("| # | Action | Status | Duration | Result |\n")
		b.WriteString("|---|--------|--------|----------|--------|\n")
		for _, a := range f.Actions {
			fmt.Fprintf(&b, "| %d | %s | %s | %s | %s |\n",
				a.AttemptNumber,
				a.ActionType,
				a.Status,
				a.CompletedAt.Sub(a.StartedAt).Round(time.Millisecond),
				strings.ReplaceAll(a.ResultDetail, "\n", " "),
			)
		}
	}

	b.WriteString("\n## Suggested Next Steps\n\n")
	for _, step := range suggestedSteps(f) {
		fmt.Fprintf(&b, "1. %s\n", step)
	}
	b.WriteString("\nOnce the underlying issue is fixed, re-trigger healing via " +
		"`POST /v1/faults/" + f.ID + "/heal` to clear the suppression.\n")

	return b.String()
}

func suggestedSteps(f *faults.Fault) []string {
	rootCause := f.Type
	if f.Diagnosis != nil && f.Diagnosis.RootCause != faults.TypeUnknown {
		rootCause = f.Diagnosis.RootCause
	}
	switch rootCause {
	case faults.TypeCrash:
		return []string{
			fmt.Sprintf("Inspect the entity logs: `podman logs --tail 200 %s` (or `journalctl -u %s`).", f.EntityID, f.EntityID),
			"Check for a crash loop in the exit codes; repeated 137 indicates the OOM killer.",
			"Confirm the image / binary version deployed matches expectations before restarting by hand.",
		}
	case faults.TypeMemoryExhaustion:
		return []string{
			"Compare current RSS against the configured limit; a slow climb suggests a leak, a spike suggests load.",
			"Capture a heap profile before restarting if the workload supports it.",
			"Consider raising the memory limit or adding horizontal capacity.",
		}
	case faults.TypeCPUExhaustion:
		return []string{
			"Identify the runaway process: `ps -eo pid,pcpu,comm --sort=-pcpu | head`.",
			"Check for a stuck busy-loop or a batch job scheduled at the wrong time.",
		}
	case faults.TypeDiskFull:
		return []string{
			"Find the growth: `du -xh --max-depth=2 / 2>/dev/null | sort -rh | head -20`.",
			"Rotate or truncate oversized logs; automated cleanup only touched /tmp and the journal.",
			"Expand the volume if the usage is legitimate.",
		}
	case faults.TypeNetworkUnreachable:
		return []string{
			"Verify the endpoint is listening: `ss -ltnp`.",
			"Check firewall and routing changes since the fault was detected.",
			"Test reachability from this host with the same probe target.",
		}
	}
	return []string{
		"Root cause is unclassified; review the evidence section above and the entity's recent logs.",
	}
}
