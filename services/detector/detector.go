// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package detector runs the periodic fault-detection loop.
//
// On every tick the detector probes each active entity, updates its
// last-known state in the registry, classifies deviations into fault
// types, and hands candidate faults to its sink (the sentinel pipeline).
// Probe failures are absorbed as an "unknown" observation and retried
// next tick; the detector never escalates a failed probe directly.
//
// Duplicate suppression is authoritative in the ActiveSet; the detector
// only pre-filters pairs it already knows are in flight to avoid
// churning the pipeline every tick.
package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianSentinel/services/faults"
	"github.com/AleutianAI/AleutianSentinel/services/probes"
	"github.com/AleutianAI/AleutianSentinel/services/registry"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds detection loop settings. The poll interval and the
// suppression window are deliberately explicit configuration, not
// constants; deployments tune them per environment.
type Config struct {
	// Interval between detection cycles. Default: 30s.
	Interval time.Duration

	// SuppressionWindow is the cool-down after a RESOLVED fault during
	// which re-detections of the same (entity, fault type) pair are
	// dropped. Default: 60s.
	SuppressionWindow time.Duration

	// ProbesPerSecond rate-limits probe execution across entities so a
	// large registry does not stampede the host. Default: 20.
	ProbesPerSecond float64

	// ProbeBurst is the rate limiter burst size. Default: 5.
	ProbeBurst int
}

// DefaultConfig returns production defaults for the detection loop.
func DefaultConfig() Config {
	return Config{
		Interval:          30 * time.Second,
		SuppressionWindow: 60 * time.Second,
		ProbesPerSecond:   20,
		ProbeBurst:        5,
	}
}

// =============================================================================
// Detector
// =============================================================================

// Sink receives candidate faults the moment the detector emits them.
type Sink interface {
	HandleCandidate(ctx context.Context, c faults.Candidate)
}

// Detector polls entities on a fixed interval and emits candidate
// faults.
//
// # Thread Safety
//
// Start/Stop/RunNow are safe for concurrent use; the poll loop itself
// runs in a single goroutine.
type Detector struct {
	registry *registry.Registry
	prober   probes.Prober
	active   *faults.ActiveSet
	sink     Sink
	limiter  *rate.Limiter
	config   Config

	mu      sync.Mutex
	done    chan struct{}
	running bool
}

// New creates a detector. The sink must not be nil; the detector has no
// use for candidates it cannot deliver.
func New(reg *registry.Registry, prober probes.Prober, active *faults.ActiveSet, sink Sink, cfg Config) *Detector {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.SuppressionWindow <= 0 {
		cfg.SuppressionWindow = DefaultConfig().SuppressionWindow
	}
	if cfg.ProbesPerSecond <= 0 {
		cfg.ProbesPerSecond = DefaultConfig().ProbesPerSecond
	}
	if cfg.ProbeBurst <= 0 {
		cfg.ProbeBurst = DefaultConfig().ProbeBurst
	}
	return &Detector{
		registry: reg,
		prober:   prober,
		active:   active,
		sink:     sink,
		limiter:  rate.NewLimiter(rate.Limit(cfg.ProbesPerSecond), cfg.ProbeBurst),
		config:   cfg,
		done:     make(chan struct{}),
	}
}

// Config returns the effective detector configuration.
func (d *Detector) Config() Config {
	return d.config
}

// Start launches the detection loop goroutine. Returns an error if the
// loop is already running.
func (d *Detector) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("detector is already running")
	}
	d.running = true
	done := make(chan struct{})
	d.done = done
	d.mu.Unlock()

	slog.Info("fault detector starting",
		"interval", d.config.Interval.String(),
		"suppression_window", d.config.SuppressionWindow.String(),
	)

	go d.runLoop(ctx, done)
	return nil
}

// Stop signals the detection loop to exit. Safe to call repeatedly.
func (d *Detector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return
	}
	slog.Info("fault detector stopping")
	close(d.done)
	d.running = false
}

// RunNow executes one detection cycle immediately and returns the
// number of candidates emitted. Used by tests and does not disturb the
// scheduled cadence.
func (d *Detector) RunNow(ctx context.Context) int {
	return d.poll(ctx)
}

// runLoop drives detection cycles until stopped. It watches only the
// done channel it was started with; Stop followed by Start replaces
// d.done, and the old loop must not see the replacement.
func (d *Detector) runLoop(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	// First cycle right away so a freshly started sentinel sees faults
	// without waiting a full interval.
	d.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("fault detector stopped (context cancelled)")
			return
		case <-done:
			slog.Info("fault detector stopped (stop requested)")
			return
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

// =============================================================================
// Detection Cycle
// =============================================================================

// poll probes every active entity once and emits candidates for
// observed deviations. Always updates entity last-state, even when a
// fault is suppressed.
func (d *Detector) poll(ctx context.Context) int {
	entities := d.registry.List(true)
	emitted := 0

	for _, e := range entities {
		if ctx.Err() != nil {
			return emitted
		}
		if err := d.limiter.Wait(ctx); err != nil {
			return emitted
		}

		now := time.Now()
		obs, err := d.prober.Check(ctx, e)
		d.registry.RecordObservation(e.ID, obs.State, now)

		if err != nil {
			if !errors.Is(err, faults.ErrProbeFailed) {
				slog.Error("unexpected probe error", "entity_id", e.ID, "error", err)
			} else {
				slog.Debug("probe failed, retrying next tick", "entity_id", e.ID, "error", err)
			}
			continue
		}
		if obs.State != faults.StateUnhealthy {
			continue
		}

		faultType := Classify(e, obs)
		if d.active.HasActive(e.ID, faultType) {
			slog.Debug("candidate suppressed, fault already in flight",
				"entity_id", e.ID, "fault_type", faultType)
			continue
		}

		c := faults.Candidate{
			EntityID:   e.ID,
			Type:       faultType,
			Severity:   faults.SeverityFor(faultType),
			Signals:    buildSignals(e, obs),
			DetectedAt: now,
		}
		slog.Info("candidate fault detected",
			"entity_id", e.ID,
			"fault_type", faultType,
			"severity", c.Severity,
		)
		d.sink.HandleCandidate(ctx, c)
		emitted++
	}
	return emitted
}

// Classify maps an unhealthy observation to a fault type based on what
// kind of entity was probed and how.
func Classify(e faults.Entity, obs probes.Observation) faults.Type {
	switch e.HealthCheck.Method {
	case "resource":
		switch e.HealthCheck.Target {
		case "cpu_percent":
			return faults.TypeCPUExhaustion
		case "memory_percent":
			return faults.TypeMemoryExhaustion
		case "disk_percent":
			return faults.TypeDiskFull
		}
		return faults.TypeUnknown
	case "http", "tcp":
		return faults.TypeNetworkUnreachable
	case "command":
		switch e.Kind {
		case faults.KindContainer, faults.KindProcess:
			return faults.TypeCrash
		}
		return faults.TypeUnknown
	}
	return faults.TypeUnknown
}

// buildSignals snapshots the evidence the analyzer will correlate.
func buildSignals(e faults.Entity, obs probes.Observation) faults.SignalBundle {
	s := faults.SignalBundle{
		Observation: obs.State,
		Metrics:     obs.Metrics,
	}
	if obs.Detail != "" {
		s.RecentEvents = []string{obs.Detail}
		if e.Kind == faults.KindContainer {
			s.ContainerStatus = obs.Detail
		}
	}
	return s
}
