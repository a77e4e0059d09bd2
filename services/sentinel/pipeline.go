// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sentinel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/AleutianSentinel/services/analyzer"
	"github.com/AleutianAI/AleutianSentinel/services/faults"
	"github.com/AleutianAI/AleutianSentinel/services/healing"
	"github.com/AleutianAI/AleutianSentinel/services/history"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/events"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/observability"
)

// =============================================================================
// Pipeline
// =============================================================================

// PipelineConfig holds orchestration settings.
type PipelineConfig struct {
	// SuppressionWindow is the cool-down after a RESOLVED fault.
	// Default: 60s.
	SuppressionWindow time.Duration

	// MaxConcurrentHealing bounds how many faults heal at once; further
	// admitted faults wait for a slot. Default: 4.
	MaxConcurrentHealing int
}

// DefaultPipelineConfig returns production orchestration defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		SuppressionWindow:    60 * time.Second,
		MaxConcurrentHealing: 4,
	}
}

// Pipeline drives admitted faults through diagnose → heal → verify and
// records terminal outcomes. It is the detector's sink and the backend
// of the inject and manual-heal endpoints.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Fault state lives in the
// ActiveSet; the pipeline goroutines only move faults through it.
type Pipeline struct {
	active   *faults.ActiveSet
	analyzer *analyzer.Analyzer
	engine   *healing.Engine
	store    *history.Store
	bus      *events.Bus
	metrics  *observability.Metrics
	config   PipelineConfig

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	mu  sync.Mutex
	ctx context.Context
}

// NewPipeline wires the healing pipeline. The store may be nil to skip
// history recording (tests).
func NewPipeline(active *faults.ActiveSet, anlz *analyzer.Analyzer, engine *healing.Engine,
	store *history.Store, bus *events.Bus, metrics *observability.Metrics, cfg PipelineConfig) *Pipeline {

	if cfg.SuppressionWindow <= 0 {
		cfg.SuppressionWindow = DefaultPipelineConfig().SuppressionWindow
	}
	if cfg.MaxConcurrentHealing <= 0 {
		cfg.MaxConcurrentHealing = DefaultPipelineConfig().MaxConcurrentHealing
	}
	return &Pipeline{
		active:   active,
		analyzer: anlz,
		engine:   engine,
		store:    store,
		bus:      bus,
		metrics:  metrics,
		config:   cfg,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrentHealing)),
		ctx:      context.Background(),
	}
}

// Start sets the base context for asynchronous fault processing. Work
// spawned afterwards stops when ctx is cancelled.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ctx = ctx
}

// Wait blocks until all in-flight fault processing finishes.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) baseContext() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ctx
}

func (p *Pipeline) publish(f *faults.Fault) {
	if p.bus != nil && f != nil {
		p.bus.PublishFaultUpdate(f)
	}
	if p.metrics != nil {
		p.metrics.ActiveFaults.Set(float64(p.active.ActiveCount()))
	}
}

// HandleCandidate implements detector.Sink: admit the candidate and
// process it asynchronously. Suppressed candidates are dropped here.
func (p *Pipeline) HandleCandidate(ctx context.Context, c faults.Candidate) {
	if _, err := p.admit(c); err != nil {
		slog.Debug("candidate suppressed",
			"entity_id", c.EntityID,
			"fault_type", c.Type,
			"error", err,
		)
	}
}

// Inject admits a synthetic candidate from the inject endpoint and
// processes it exactly like a detected one.
func (p *Pipeline) Inject(ctx context.Context, c faults.Candidate) (*faults.Fault, error) {
	if c.DetectedAt.IsZero() {
		c.DetectedAt = time.Now()
	}
	if c.Severity == "" {
		c.Severity = faults.SeverityFor(c.Type)
	}
	if c.Signals.Observation == "" {
		c.Signals.Observation = faults.StateUnhealthy
	}
	return p.admit(c)
}

// admit registers the candidate and spawns its processing goroutine.
func (p *Pipeline) admit(c faults.Candidate) (*faults.Fault, error) {
	f, err := p.active.Admit(c, p.config.SuppressionWindow, time.Now())
	if err != nil {
		if p.metrics != nil {
			p.metrics.FaultsSuppressedTotal.WithLabelValues(string(c.Type)).Inc()
		}
		return nil, err
	}
	slog.Info("fault admitted",
		"fault_id", f.ID,
		"entity_id", f.EntityID,
		"fault_type", f.Type,
		"severity", f.Severity,
	)
	if p.metrics != nil {
		p.metrics.FaultsDetectedTotal.WithLabelValues(string(f.Type), string(f.Severity)).Inc()
	}
	p.publish(f)

	p.wg.Add(1)
	go p.process(f.ID, true)
	return f, nil
}

// TriggerManualHeal re-enters the loop for a fault stuck in
// MANUAL_REQUIRED. The attempt budget starts over and the fault is
// re-diagnosed against its original evidence.
func (p *Pipeline) TriggerManualHeal(ctx context.Context, faultID string) (*faults.Fault, error) {
	f, err := p.active.Get(faultID)
	if err != nil {
		return nil, err
	}
	if f.Status != faults.StatusManualRequired {
		return nil, fmt.Errorf("fault %s is %s; manual heal applies to %s faults: %w",
			faultID, f.Status, faults.StatusManualRequired, faults.ErrIllegalTransition)
	}
	if _, err := p.active.ResetAttempts(faultID); err != nil {
		return nil, err
	}
	f, err = p.active.Transition(faultID, faults.StatusDiagnosing, time.Now())
	if err != nil {
		return nil, err
	}
	slog.Info("manual heal triggered", "fault_id", faultID, "entity_id", f.EntityID)
	p.publish(f)

	p.wg.Add(1)
	go p.process(faultID, false)
	return f, nil
}

// process runs one fault through diagnosis and healing under the
// concurrency budget. needsDiagnosingTransition is false when the
// caller already moved the fault to DIAGNOSING (manual heal).
func (p *Pipeline) process(faultID string, needsDiagnosingTransition bool) {
	defer p.wg.Done()
	ctx := p.baseContext()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer p.sem.Release(1)

	var f *faults.Fault
	var err error
	if needsDiagnosingTransition {
		if f, err = p.active.Transition(faultID, faults.StatusDiagnosing, time.Now()); err != nil {
			slog.Error("pipeline cannot start diagnosis", "fault_id", faultID, "error", err)
			return
		}
		p.publish(f)
	} else if f, err = p.active.Get(faultID); err != nil {
		slog.Error("pipeline lost its fault", "fault_id", faultID, "error", err)
		return
	}

	d := p.analyzer.Diagnose(ctx, faultID, faults.Candidate{
		EntityID:   f.EntityID,
		Type:       f.Type,
		Severity:   f.Severity,
		Signals:    f.Signals,
		DetectedAt: f.DetectedAt,
	})
	if f, err = p.active.SetDiagnosis(faultID, d); err != nil {
		slog.Error("pipeline cannot attach diagnosis", "fault_id", faultID, "error", err)
		return
	}
	if p.metrics != nil {
		source := d.Source
		if d.Degraded {
			source = "degraded"
		}
		p.metrics.DiagnosesTotal.WithLabelValues(source).Inc()
	}

	if f, err = p.active.Transition(faultID, faults.StatusHealing, time.Now()); err != nil {
		slog.Error("pipeline cannot enter healing", "fault_id", faultID, "error", err)
		return
	}
	p.publish(f)

	f, err = p.engine.Heal(ctx, faultID)
	if err != nil && !errors.Is(err, faults.ErrNoActionForFaultType) {
		slog.Error("healing cycle aborted", "fault_id", faultID, "error", err)
		return
	}
	p.finalize(ctx, f)
}

// finalize records metrics and history for a terminal fault.
func (p *Pipeline) finalize(ctx context.Context, f *faults.Fault) {
	if f == nil || !f.Status.Terminal() {
		return
	}
	if p.metrics != nil {
		for _, a := range f.Actions {
			p.metrics.HealingActionsTotal.WithLabelValues(a.ActionType, string(a.Status)).Inc()
		}
		p.metrics.HealingDurationSeconds.
			WithLabelValues(string(f.Type), string(f.Status)).
			Observe(time.Since(f.DetectedAt).Seconds())
		p.metrics.ActiveFaults.Set(float64(p.active.ActiveCount()))
	}
	if p.store == nil {
		return
	}
	if err := p.store.Record(ctx, faults.ProjectHistory(f)); err != nil {
		if errors.Is(err, faults.ErrDuplicateFault) {
			// A manually re-healed fault was already recorded at its
			// first terminal state; the history stays append-only.
			slog.Debug("history already holds this fault", "fault_id", f.ID)
			return
		}
		slog.Error("failed to record fault history", "fault_id", f.ID, "error", err)
	}
}
