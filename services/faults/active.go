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
	"sort"
	"sync"
	"time"
)

// =============================================================================
// Active Fault Set
// =============================================================================

// pairKey identifies the suppression unit: one fault at a time per
// (entity, fault type) pair.
type pairKey struct {
	entityID  string
	faultType Type
}

// ActiveSet is the concurrency-safe keyed store of in-flight and
// recently terminal faults.
//
// # Description
//
// ActiveSet is the only shared mutable fault structure in the sentinel.
// All fault mutation goes through its methods under a single mutex, so
// readers (HTTP handlers, the event stream) always observe a consistent
// fault, and the suppression invariant holds without ad hoc locking:
//
//   - a Candidate for a pair with a non-terminal fault is rejected;
//   - a Candidate for a pair whose fault RESOLVED less than the
//     suppression window ago is rejected;
//   - FAILED and MANUAL_REQUIRED faults keep suppressing re-detection
//     until a human (or the manual heal endpoint) clears them, so a
//     broken entity does not spawn an escalation per poll tick.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Accessors return clones;
// internal *Fault values never escape.
type ActiveSet struct {
	mu         sync.RWMutex
	byID       map[string]*Fault
	byPair     map[pairKey]*Fault
	terminalAt map[string]time.Time
}

// NewActiveSet creates an empty active-fault set.
func NewActiveSet() *ActiveSet {
	return &ActiveSet{
		byID:       make(map[string]*Fault),
		byPair:     make(map[pairKey]*Fault),
		terminalAt: make(map[string]time.Time),
	}
}

// Admit mints a Fault from the candidate and registers it, unless the
// suppression rules reject it.
//
// # Inputs
//
//   - c: The candidate fault from the detector (or the inject endpoint).
//   - window: Suppression cool-down after a RESOLVED fault.
//   - now: Admission time, injectable for tests.
//
// # Outputs
//
//   - *Fault: The newly registered fault, nil when suppressed.
//   - error: ErrDuplicateFault when suppressed, nil otherwise.
func (s *ActiveSet) Admit(c Candidate, window time.Duration, now time.Time) (*Fault, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey{entityID: c.EntityID, faultType: c.Type}
	if prev, ok := s.byPair[key]; ok {
		if !prev.Status.Terminal() {
			return nil, ErrDuplicateFault
		}
		if prev.Status != StatusResolved {
			// FAILED / MANUAL_REQUIRED: still waiting on a human.
			return nil, ErrDuplicateFault
		}
		if term, ok := s.terminalAt[prev.ID]; ok && now.Sub(term) < window {
			return nil, ErrDuplicateFault
		}
		// Cool-down elapsed; the old entry gives way to the new fault.
		delete(s.byID, prev.ID)
		delete(s.terminalAt, prev.ID)
	}

	f := NewFault(c)
	s.byID[f.ID] = f
	s.byPair[key] = f
	return f.Clone(), nil
}

// Get returns a clone of the fault with the given ID.
func (s *ActiveSet) Get(id string) (*Fault, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.byID[id]
	if !ok {
		return nil, ErrFaultNotFound
	}
	return f.Clone(), nil
}

// List returns clones of all tracked faults, newest first, capped at
// limit (0 means no cap).
func (s *ActiveSet) List(limit int) []*Fault {
	s.mu.RLock()
	out := make([]*Fault, 0, len(s.byID))
	for _, f := range s.byID {
		out = append(out, f.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].DetectedAt.After(out[j].DetectedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Transition moves the fault to the next status, validating the step
// against the state machine, and returns the updated clone.
func (s *ActiveSet) Transition(id string, next Status, now time.Time) (*Fault, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.byID[id]
	if !ok {
		return nil, ErrFaultNotFound
	}
	if !f.Status.CanTransitionTo(next) {
		return nil, TransitionError(f.Status, next)
	}
	f.Status = next
	if next.Terminal() {
		s.terminalAt[id] = now
		if next == StatusResolved {
			f.ResolvedAt = now
		}
	} else {
		// Re-entering the loop (manual heal) clears terminal bookkeeping.
		delete(s.terminalAt, id)
		f.ResolvedAt = time.Time{}
	}
	return f.Clone(), nil
}

// SetDiagnosis attaches the diagnosis to its fault (latest wins).
func (s *ActiveSet) SetDiagnosis(id string, d Diagnosis) (*Fault, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.byID[id]
	if !ok {
		return nil, ErrFaultNotFound
	}
	f.Diagnosis = &d
	return f.Clone(), nil
}

// AppendAction records a healing attempt on its fault.
func (s *ActiveSet) AppendAction(id string, a HealingAction) (*Fault, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.byID[id]
	if !ok {
		return nil, ErrFaultNotFound
	}
	f.Actions = append(f.Actions, a)
	return f.Clone(), nil
}

// SetManualReport stores the generated manual-instructions document.
func (s *ActiveSet) SetManualReport(id, report string) (*Fault, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.byID[id]
	if !ok {
		return nil, ErrFaultNotFound
	}
	f.ManualReport = report
	return f.Clone(), nil
}

// ResetAttempts clears the recorded action chain ahead of a manual
// re-heal so the attempt budget starts fresh.
func (s *ActiveSet) ResetAttempts(id string) (*Fault, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.byID[id]
	if !ok {
		return nil, ErrFaultNotFound
	}
	f.Actions = nil
	f.ManualReport = ""
	return f.Clone(), nil
}

// ActiveCount returns the number of non-terminal faults.
func (s *ActiveSet) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, f := range s.byID {
		if !f.Status.Terminal() {
			n++
		}
	}
	return n
}

// HasActive reports whether a non-terminal fault exists for the pair.
func (s *ActiveSet) HasActive(entityID string, t Type) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.byPair[pairKey{entityID: entityID, faultType: t}]
	return ok && !f.Status.Terminal()
}
