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
	"sync"
	"testing"
	"time"
)

func candidate(entity string, t Type, at time.Time) Candidate {
	return Candidate{
		EntityID:   entity,
		Type:       t,
		Severity:   SeverityFor(t),
		Signals:    SignalBundle{Observation: StateUnhealthy},
		DetectedAt: at,
	}
}

// TestActiveSet_SuppressesDuplicates verifies that a second candidate
// for the same (entity, fault type) pair never creates a second active
// fault.
func TestActiveSet_SuppressesDuplicates(t *testing.T) {
	set := NewActiveSet()
	now := time.Now()
	window := time.Minute

	f, err := set.Admit(candidate("api-server", TypeCrash, now), window, now)
	if err != nil {
		t.Fatalf("first admit failed: %v", err)
	}

	if _, err := set.Admit(candidate("api-server", TypeCrash, now), window, now); !errors.Is(err, ErrDuplicateFault) {
		t.Fatalf("duplicate admit err = %v, want ErrDuplicateFault", err)
	}

	// A different fault type on the same entity is not a duplicate.
	if _, err := set.Admit(candidate("api-server", TypeDiskFull, now), window, now); err != nil {
		t.Fatalf("distinct-type admit failed: %v", err)
	}

	// A different entity with the same fault type is not a duplicate.
	if _, err := set.Admit(candidate("db", TypeCrash, now), window, now); err != nil {
		t.Fatalf("distinct-entity admit failed: %v", err)
	}

	if set.ActiveCount() != 3 {
		t.Errorf("ActiveCount = %d, want 3", set.ActiveCount())
	}
	if !set.HasActive("api-server", TypeCrash) {
		t.Error("HasActive should report the admitted pair")
	}
	_ = f
}

// TestActiveSet_CoolDownWindow verifies suppression of re-detections
// shortly after resolution, and admission once the window elapses.
func TestActiveSet_CoolDownWindow(t *testing.T) {
	set := NewActiveSet()
	now := time.Now()
	window := time.Minute

	f, err := set.Admit(candidate("api-server", TypeCrash, now), window, now)
	if err != nil {
		t.Fatalf("admit failed: %v", err)
	}
	mustTransition(t, set, f.ID, StatusDiagnosing, now)
	mustTransition(t, set, f.ID, StatusHealing, now)
	mustTransition(t, set, f.ID, StatusVerifying, now)
	mustTransition(t, set, f.ID, StatusResolved, now)

	// Within the cool-down the pair stays suppressed.
	inside := now.Add(30 * time.Second)
	if _, err := set.Admit(candidate("api-server", TypeCrash, inside), window, inside); !errors.Is(err, ErrDuplicateFault) {
		t.Fatalf("cool-down admit err = %v, want ErrDuplicateFault", err)
	}

	// After the cool-down a new fault may be minted.
	after := now.Add(2 * time.Minute)
	f2, err := set.Admit(candidate("api-server", TypeCrash, after), window, after)
	if err != nil {
		t.Fatalf("post-window admit failed: %v", err)
	}
	if f2.ID == f.ID {
		t.Error("post-window admit should mint a fresh fault")
	}
}

// TestActiveSet_ManualRequiredStaysSuppressed verifies that escalated
// faults keep suppressing re-detection until a human clears them.
func TestActiveSet_ManualRequiredStaysSuppressed(t *testing.T) {
	set := NewActiveSet()
	now := time.Now()

	f, _ := set.Admit(candidate("api-server", TypeCrash, now), time.Minute, now)
	mustTransition(t, set, f.ID, StatusDiagnosing, now)
	mustTransition(t, set, f.ID, StatusHealing, now)
	mustTransition(t, set, f.ID, StatusFailed, now)
	mustTransition(t, set, f.ID, StatusManualRequired, now)

	// Long after the cool-down would have elapsed for a resolved fault.
	later := now.Add(time.Hour)
	if _, err := set.Admit(candidate("api-server", TypeCrash, later), time.Minute, later); !errors.Is(err, ErrDuplicateFault) {
		t.Fatalf("escalated pair admit err = %v, want ErrDuplicateFault", err)
	}
}

// TestActiveSet_TransitionValidation verifies illegal steps are refused
// and do not mutate the fault.
func TestActiveSet_TransitionValidation(t *testing.T) {
	set := NewActiveSet()
	now := time.Now()
	f, _ := set.Admit(candidate("api-server", TypeCrash, now), time.Minute, now)

	if _, err := set.Transition(f.ID, StatusHealing, now); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("DETECTED → HEALING err = %v, want ErrIllegalTransition", err)
	}
	got, err := set.Get(f.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusDetected {
		t.Errorf("status mutated by rejected transition: %s", got.Status)
	}

	if _, err := set.Transition("missing", StatusDiagnosing, now); !errors.Is(err, ErrFaultNotFound) {
		t.Errorf("unknown fault err = %v, want ErrFaultNotFound", err)
	}
}

// TestActiveSet_ConcurrentAdmit hammers Admit for one pair from many
// goroutines; exactly one may win.
func TestActiveSet_ConcurrentAdmit(t *testing.T) {
	set := NewActiveSet()
	now := time.Now()

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := set.Admit(candidate("api-server", TypeCrash, now), time.Minute, now); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 1 {
		t.Errorf("admitted = %d, want exactly 1", admitted)
	}
}

// TestActiveSet_List verifies ordering and limit.
func TestActiveSet_List(t *testing.T) {
	set := NewActiveSet()
	base := time.Now()
	for i, entity := range []string{"a", "b", "c"} {
		if _, err := set.Admit(candidate(entity, TypeCrash, base.Add(time.Duration(i)*time.Second)), time.Minute, base); err != nil {
			t.Fatalf("admit %s failed: %v", entity, err)
		}
	}

	all := set.List(0)
	if len(all) != 3 {
		t.Fatalf("List(0) = %d faults, want 3", len(all))
	}
	if all[0].EntityID != "c" {
		t.Errorf("newest first expected, got %s", all[0].EntityID)
	}
	if got := set.List(2); len(got) != 2 {
		t.Errorf("List(2) = %d faults, want 2", len(got))
	}
}

func mustTransition(t *testing.T, set *ActiveSet, id string, next Status, now time.Time) {
	t.Helper()
	if _, err := set.Transition(id, next, now); err != nil {
		t.Fatalf("transition to %s failed: %v", next, err)
	}
}
