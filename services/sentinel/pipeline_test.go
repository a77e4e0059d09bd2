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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianSentinel/services/analyzer"
	"github.com/AleutianAI/AleutianSentinel/services/faults"
	"github.com/AleutianAI/AleutianSentinel/services/healing"
	"github.com/AleutianAI/AleutianSentinel/services/history"
	"github.com/AleutianAI/AleutianSentinel/services/registry"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/events"
	"github.com/AleutianAI/AleutianSentinel/services/verifier"
)

// scriptedChecker scripts verification results for the engine.
type scriptedChecker struct {
	mu       sync.Mutex
	verdicts []verifier.Verdict
	calls    int
}

func (c *scriptedChecker) CheckOnce(ctx context.Context, entityID string) (verifier.Verdict, error) {
	return verifier.VerdictStillFaulty, nil
}

func (c *scriptedChecker) Verify(ctx context.Context, entityID string) (verifier.Verdict, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.calls
	c.calls++
	if i >= len(c.verdicts) {
		i = len(c.verdicts) - 1
	}
	v := c.verdicts[i]
	if v != verifier.VerdictRecovered {
		return v, faults.ErrVerificationTimeout
	}
	return v, nil
}

// countAction succeeds and counts executions.
type countAction struct {
	mu    sync.Mutex
	calls int
}

func (a *countAction) Type() string { return "restart_entity" }

func (a *countAction) Execute(ctx context.Context, f *faults.Fault, e faults.Entity) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return "restarted " + e.ID, nil
}

func newTestPipeline(t *testing.T, verdicts []verifier.Verdict) (*Pipeline, *faults.ActiveSet, *history.Store, *events.Bus) {
	t.Helper()

	reg := registry.New()
	require.NoError(t, reg.Apply([]faults.Entity{{
		ID:          "api-server",
		Kind:        faults.KindContainer,
		HealthCheck: faults.HealthCheck{Method: "command", Target: "podman healthcheck run api-server"},
	}}))

	active := faults.NewActiveSet()
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	store, err := history.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	checker := &scriptedChecker{verdicts: verdicts}
	actions := map[faults.Type]healing.Action{faults.TypeCrash: &countAction{}}
	engine := healing.New(active, reg, checker, actions, bus, healing.Config{
		MaxAttempts:   3,
		BackoffBase:   time.Millisecond,
		BackoffCap:    2 * time.Millisecond,
		ActionTimeout: time.Second,
	})
	anlz := analyzer.New(nil, analyzer.DefaultConfig())

	p := NewPipeline(active, anlz, engine, store, bus, nil, PipelineConfig{
		SuppressionWindow:    time.Minute,
		MaxConcurrentHealing: 2,
	})
	p.Start(context.Background())
	return p, active, store, bus
}

func crashCandidate() faults.Candidate {
	return faults.Candidate{
		EntityID: "api-server",
		Type:     faults.TypeCrash,
		Severity: faults.SeverityCritical,
		Signals: faults.SignalBundle{
			Observation:  faults.StateUnhealthy,
			RecentEvents: []string{"container exited (137)"},
		},
		DetectedAt: time.Now(),
	}
}

// TestPipeline_EndToEndResolution drives a candidate from admission to
// RESOLVED and checks the history record.
func TestPipeline_EndToEndResolution(t *testing.T) {
	p, active, store, _ := newTestPipeline(t, []verifier.Verdict{verifier.VerdictRecovered})

	f, err := p.Inject(context.Background(), crashCandidate())
	require.NoError(t, err)
	p.Wait()

	final, err := active.Get(f.ID)
	require.NoError(t, err)
	assert.Equal(t, faults.StatusResolved, final.Status)
	require.NotNil(t, final.Diagnosis)
	assert.Equal(t, faults.TypeCrash, final.Diagnosis.RootCause)
	assert.Equal(t, "rules", final.Diagnosis.Source)

	records, err := store.Query(context.Background(), history.Filter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, f.ID, records[0].FaultID)
	assert.Equal(t, faults.StatusResolved, records[0].FinalStatus)
	assert.Greater(t, records[0].TimeToHeal(), time.Duration(0))
}

// TestPipeline_DuplicateInjectionSuppressed verifies the second inject
// for the same pair is rejected while the first is in flight or
// cooling down.
func TestPipeline_DuplicateInjectionSuppressed(t *testing.T) {
	p, _, _, _ := newTestPipeline(t, []verifier.Verdict{verifier.VerdictRecovered})

	_, err := p.Inject(context.Background(), crashCandidate())
	require.NoError(t, err)
	_, err = p.Inject(context.Background(), crashCandidate())
	assert.ErrorIs(t, err, faults.ErrDuplicateFault)
	p.Wait()

	// Cool-down still running after resolution.
	_, err = p.Inject(context.Background(), crashCandidate())
	assert.ErrorIs(t, err, faults.ErrDuplicateFault)
}

// TestPipeline_ExhaustionThenManualHeal walks the full escalation and
// recovery arc: exhaust attempts, end MANUAL_REQUIRED, re-trigger via
// manual heal, resolve.
func TestPipeline_ExhaustionThenManualHeal(t *testing.T) {
	p, active, store, _ := newTestPipeline(t, []verifier.Verdict{
		verifier.VerdictStillFaulty,
		verifier.VerdictStillFaulty,
		verifier.VerdictStillFaulty,
		verifier.VerdictRecovered,
	})

	f, err := p.Inject(context.Background(), crashCandidate())
	require.NoError(t, err)
	p.Wait()

	stuck, err := active.Get(f.ID)
	require.NoError(t, err)
	require.Equal(t, faults.StatusManualRequired, stuck.Status)
	assert.Len(t, stuck.Actions, 3)
	assert.NotEmpty(t, stuck.ManualReport)

	// While MANUAL_REQUIRED, re-detection stays suppressed.
	_, err = p.Inject(context.Background(), crashCandidate())
	assert.ErrorIs(t, err, faults.ErrDuplicateFault)

	accepted, err := p.TriggerManualHeal(context.Background(), f.ID)
	require.NoError(t, err)
	assert.Equal(t, faults.StatusDiagnosing, accepted.Status)

	// A second trigger races the first and must fail cleanly.
	_, err = p.TriggerManualHeal(context.Background(), f.ID)
	assert.Error(t, err)

	p.Wait()
	final, err := active.Get(f.ID)
	require.NoError(t, err)
	assert.Equal(t, faults.StatusResolved, final.Status)
	assert.Len(t, final.Actions, 1, "manual heal restarts the attempt budget")
	assert.Empty(t, final.ManualReport)

	// History stays append-only: the first terminal outcome is the one
	// recorded.
	records, err := store.Query(context.Background(), history.Filter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, faults.StatusManualRequired, records[0].FinalStatus)
}

// TestPipeline_ManualHealRequiresManualStatus verifies manual heal is
// rejected for non-terminal faults.
func TestPipeline_ManualHealRequiresManualStatus(t *testing.T) {
	p, _, _, _ := newTestPipeline(t, []verifier.Verdict{verifier.VerdictRecovered})

	_, err := p.TriggerManualHeal(context.Background(), "nope")
	assert.ErrorIs(t, err, faults.ErrFaultNotFound)

	f, err := p.Inject(context.Background(), crashCandidate())
	require.NoError(t, err)
	p.Wait()

	// RESOLVED is terminal but not manually healable.
	_, err = p.TriggerManualHeal(context.Background(), f.ID)
	assert.ErrorIs(t, err, faults.ErrIllegalTransition)
}

// TestPipeline_EventsPublished verifies subscribers observe the
// lifecycle, ending in a fault_update for RESOLVED.
func TestPipeline_EventsPublished(t *testing.T) {
	p, _, _, bus := newTestPipeline(t, []verifier.Verdict{verifier.VerdictRecovered})
	sub, cancel := bus.Subscribe()
	defer cancel()

	_, err := p.Inject(context.Background(), crashCandidate())
	require.NoError(t, err)
	p.Wait()

	var kinds []events.Kind
	var sawResolved bool
	for {
		select {
		case ev := <-sub:
			kinds = append(kinds, ev.Kind)
			if ev.Fault.Status == faults.StatusResolved {
				sawResolved = true
			}
		default:
			assert.True(t, sawResolved, "expected a RESOLVED event, saw kinds %v", kinds)
			assert.Contains(t, kinds, events.KindHealingUpdate)
			return
		}
	}
}
