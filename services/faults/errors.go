// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package faults

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Taxonomy
// =============================================================================

// Sentinel errors for the fault-handling pipeline. Components wrap these
// with fmt.Errorf("...: %w", ...) so callers can classify failures with
// errors.Is while keeping the contextual message.
var (
	// ErrProbeFailed marks a transient probe failure (timeout, exec
	// error). Absorbed by the detector and retried next tick.
	ErrProbeFailed = errors.New("probe failed")

	// ErrDiagnosisUnavailable marks an unreachable external analysis
	// provider. The analyzer degrades to its rule-based result.
	ErrDiagnosisUnavailable = errors.New("diagnosis provider unavailable")

	// ErrActionExecution marks a remediation command that ran and
	// failed. Retried up to the attempt budget.
	ErrActionExecution = errors.New("healing action execution failed")

	// ErrActionTimeout marks a remediation command that exceeded its
	// execution deadline. Retried up to the attempt budget.
	ErrActionTimeout = errors.New("healing action timed out")

	// ErrConcurrentHealingRejected marks a single-flight violation
	// attempt: a heal was requested while another was already running
	// for the same fault. Logged and dropped, never retried.
	ErrConcurrentHealingRejected = errors.New("healing already in flight for fault")

	// ErrVerificationTimeout marks a verification window that elapsed
	// without a recovered observation. Treated as STILL_FAULTY.
	ErrVerificationTimeout = errors.New("verification timed out")

	// ErrNoActionForFaultType marks a fault type with no registered
	// remediation action.
	ErrNoActionForFaultType = errors.New("no healing action registered for fault type")

	// ErrFaultNotFound marks a lookup for an unknown fault ID.
	ErrFaultNotFound = errors.New("fault not found")

	// ErrEntityNotFound marks a lookup for an entity the registry does
	// not hold.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrDuplicateFault marks a candidate suppressed because an active
	// fault already covers the same (entity, fault type) pair, or one
	// resolved inside the cool-down window.
	ErrDuplicateFault = errors.New("duplicate fault suppressed")

	// ErrIllegalTransition marks a status change the state machine does
	// not allow.
	ErrIllegalTransition = errors.New("illegal fault status transition")
)

// TransitionError builds an ErrIllegalTransition with both endpoints.
func TransitionError(from, to Status) error {
	return fmt.Errorf("%w: %s → %s", ErrIllegalTransition, from, to)
}
