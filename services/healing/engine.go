// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package healing executes remediation attempts for diagnosed faults.
//
// The engine owns the attempt loop: pick the action for the diagnosed
// root cause, run it under a timeout, hand the entity to the verifier,
// and either resolve, back off and retry, or exhaust the attempt budget
// and escalate to MANUAL_REQUIRED with a generated operator report.
//
// A per-fault single-flight lock guarantees at most one healing cycle
// per fault at any time; a concurrent request (for example a manual
// heal racing the automatic pipeline) is rejected immediately rather
// than queued.
package healing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianSentinel/services/faults"
	"github.com/AleutianAI/AleutianSentinel/services/registry"
	"github.com/AleutianAI/AleutianSentinel/services/verifier"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds healing engine settings.
type Config struct {
	// MaxAttempts is the per-fault healing attempt budget. Default: 3.
	MaxAttempts int

	// BackoffBase is the delay before the second attempt; it doubles
	// each further attempt. Default: 2s.
	BackoffBase time.Duration

	// BackoffCap bounds the exponential backoff. Default: 30s.
	BackoffCap time.Duration

	// ActionTimeout bounds a single action execution. Default: 20s.
	ActionTimeout time.Duration
}

// DefaultConfig returns production healing defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		BackoffBase:   2 * time.Second,
		BackoffCap:    30 * time.Second,
		ActionTimeout: 20 * time.Second,
	}
}

// Backoff returns the delay to wait before the given attempt number.
// Attempt 1 runs immediately.
func (c Config) Backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := c.BackoffBase << (attempt - 2)
	if d > c.BackoffCap || d <= 0 {
		d = c.BackoffCap
	}
	return d
}

// =============================================================================
// Engine
// =============================================================================

// Checker is the verification surface the engine needs. Satisfied by
// *verifier.Verifier.
type Checker interface {
	CheckOnce(ctx context.Context, entityID string) (verifier.Verdict, error)
	Verify(ctx context.Context, entityID string) (verifier.Verdict, error)
}

// Publisher receives fault snapshots as the engine moves them through
// the status machine. Satisfied by the sentinel event bus; may be nil.
type Publisher interface {
	PublishFaultUpdate(f *faults.Fault)
}

// Engine runs healing cycles against the shared active-fault set.
//
// # Thread Safety
//
// Heal is safe for concurrent use across distinct faults; per fault it
// is single-flight and the loser gets ErrConcurrentHealingRejected.
type Engine struct {
	active   *faults.ActiveSet
	registry *registry.Registry
	checker  Checker
	actions  map[faults.Type]Action
	pub      Publisher
	config   Config

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New creates a healing engine. A nil actions map gets the default
// remediation table; a nil publisher disables event publication.
func New(active *faults.ActiveSet, reg *registry.Registry, checker Checker, actions map[faults.Type]Action, pub Publisher, cfg Config) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultConfig().BackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = DefaultConfig().BackoffCap
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = DefaultConfig().ActionTimeout
	}
	if actions == nil {
		actions = DefaultActions(nil)
	}
	return &Engine{
		active:   active,
		registry: reg,
		checker:  checker,
		actions:  actions,
		pub:      pub,
		config:   cfg,
		inflight: make(map[string]struct{}),
	}
}

// acquire takes the single-flight slot for the fault.
func (e *Engine) acquire(faultID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inflight[faultID]; busy {
		return false
	}
	e.inflight[faultID] = struct{}{}
	return true
}

func (e *Engine) release(faultID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, faultID)
}

func (e *Engine) publish(f *faults.Fault) {
	if e.pub != nil && f != nil {
		e.pub.PublishFaultUpdate(f)
	}
}

// Heal runs the full healing cycle for a fault currently in HEALING and
// returns its final snapshot.
//
// # Inputs
//
//   - ctx: Cancelling it aborts between steps; the fault is then
//     escalated to MANUAL_REQUIRED so it is never stranded mid-cycle.
//   - faultID: Must identify a fault in the active set.
//
// # Outputs
//
//   - *Fault: The fault after the cycle (RESOLVED or MANUAL_REQUIRED).
//   - error: ErrConcurrentHealingRejected when another cycle holds the
//     fault, ErrFaultNotFound, or ErrNoActionForFaultType when the
//     diagnosis maps to no remediation.
func (e *Engine) Heal(ctx context.Context, faultID string) (*faults.Fault, error) {
	if !e.acquire(faultID) {
		return nil, faults.ErrConcurrentHealingRejected
	}
	defer e.release(faultID)

	f, err := e.active.Get(faultID)
	if err != nil {
		return nil, err
	}
	if f.Status != faults.StatusHealing {
		return nil, fmt.Errorf("fault %s is %s, not %s: %w",
			faultID, f.Status, faults.StatusHealing, faults.ErrIllegalTransition)
	}

	entity, ok := e.registry.Get(f.EntityID)
	if !ok {
		slog.Error("healing aborted, entity missing from registry",
			"fault_id", faultID, "entity_id", f.EntityID)
		return e.escalate(faultID, entity)
	}

	// Self-recovery short-circuit: crashed-and-restarted entities often
	// come back between detection and healing. A single probe is cheaper
	// than a remediation.
	if verdict, cerr := e.checker.CheckOnce(ctx, f.EntityID); cerr == nil && verdict == verifier.VerdictRecovered {
		slog.Info("entity recovered on its own, skipping remediation",
			"fault_id", faultID, "entity_id", f.EntityID)
		if f, err = e.active.Transition(faultID, faults.StatusVerifying, time.Now()); err != nil {
			return nil, err
		}
		e.publish(f)
		if f, err = e.active.Transition(faultID, faults.StatusResolved, time.Now()); err != nil {
			return nil, err
		}
		e.publish(f)
		return f, nil
	}

	rootCause := f.Type
	if f.Diagnosis != nil && f.Diagnosis.RootCause != faults.TypeUnknown {
		rootCause = f.Diagnosis.RootCause
	}
	action, ok := e.actions[rootCause]
	if !ok {
		slog.Warn("no remediation for root cause, escalating",
			"fault_id", faultID, "root_cause", rootCause)
		f, err = e.escalate(faultID, entity)
		if err != nil {
			return nil, err
		}
		return f, fmt.Errorf("%w: %s", faults.ErrNoActionForFaultType, rootCause)
	}

	for attempt := 1; attempt <= e.config.MaxAttempts; attempt++ {
		if delay := e.config.Backoff(attempt); delay > 0 {
			slog.Debug("backing off before retry",
				"fault_id", faultID, "attempt", attempt, "delay", delay.String())
			select {
			case <-ctx.Done():
				return e.escalate(faultID, entity)
			case <-time.After(delay):
			}
		}

		record := e.runAction(ctx, action, f, entity, attempt)
		f, err = e.active.AppendAction(faultID, record)
		if err != nil {
			return nil, err
		}
		e.publish(f)

		if record.Status != faults.ActionSucceeded {
			slog.Warn("healing action failed",
				"fault_id", faultID,
				"action", record.ActionType,
				"attempt", attempt,
				"detail", record.ResultDetail,
			)
			continue
		}

		if f, err = e.active.Transition(faultID, faults.StatusVerifying, time.Now()); err != nil {
			return nil, err
		}
		e.publish(f)

		verdict, verr := e.checker.Verify(ctx, f.EntityID)
		if verdict == verifier.VerdictRecovered {
			if f, err = e.active.Transition(faultID, faults.StatusResolved, time.Now()); err != nil {
				return nil, err
			}
			slog.Info("fault resolved",
				"fault_id", faultID,
				"entity_id", f.EntityID,
				"attempts", attempt,
			)
			e.publish(f)
			return f, nil
		}
		slog.Warn("verification failed after action",
			"fault_id", faultID, "attempt", attempt, "error", verr)

		if attempt < e.config.MaxAttempts {
			if f, err = e.active.Transition(faultID, faults.StatusHealing, time.Now()); err != nil {
				return nil, err
			}
			e.publish(f)
		}
	}

	return e.escalate(faultID, entity)
}

// runAction executes one attempt under the action timeout and returns
// its record.
func (e *Engine) runAction(ctx context.Context, action Action, f *faults.Fault, entity faults.Entity, attempt int) faults.HealingAction {
	record := faults.HealingAction{
		ID:            uuid.New().String(),
		FaultID:       f.ID,
		ActionType:    action.Type(),
		AttemptNumber: attempt,
		Status:        faults.ActionRunning,
		StartedAt:     time.Now(),
	}
	slog.Info("executing healing action",
		"fault_id", f.ID,
		"action", record.ActionType,
		"attempt", attempt,
	)

	actx, cancel := context.WithTimeout(ctx, e.config.ActionTimeout)
	detail, err := action.Execute(actx, f, entity)
	cancel()

	record.CompletedAt = time.Now()
	if err != nil {
		record.Status = faults.ActionFailed
		record.ResultDetail = err.Error()
		if detail != "" {
			record.ResultDetail = detail + ": " + err.Error()
		}
		return record
	}
	record.Status = faults.ActionSucceeded
	record.ResultDetail = detail
	return record
}

// escalate moves an exhausted fault to MANUAL_REQUIRED and attaches the
// operator report.
func (e *Engine) escalate(faultID string, entity faults.Entity) (*faults.Fault, error) {
	f, err := e.active.Transition(faultID, faults.StatusFailed, time.Now())
	if err != nil {
		return nil, err
	}
	e.publish(f)

	if _, err := e.active.SetManualReport(faultID, BuildManualReport(f, entity)); err != nil {
		return nil, err
	}
	f, err = e.active.Transition(faultID, faults.StatusManualRequired, time.Now())
	if err != nil {
		return nil, err
	}
	slog.Error("healing exhausted, manual intervention required",
		"fault_id", faultID,
		"entity_id", f.EntityID,
		"attempts", len(f.Actions),
	)
	e.publish(f)
	return f, nil
}
