// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package verifier confirms healing outcomes by re-probing entities.
//
// Verification reuses the same probe that detected the fault, so
// "recovered" means the original detection signal is gone, not that
// some unrelated check passes. The verdict is conservative: if the
// probe never produces a definitive observation before the timeout,
// the entity is treated as still faulty and the healing engine keeps
// retrying or escalates.
package verifier

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianSentinel/services/faults"
	"github.com/AleutianAI/AleutianSentinel/services/probes"
	"github.com/AleutianAI/AleutianSentinel/services/registry"
)

// Verdict is the outcome of a verification pass.
type Verdict string

const (
	VerdictRecovered   Verdict = "RECOVERED"
	VerdictStillFaulty Verdict = "STILL_FAULTY"
	VerdictUnknown     Verdict = "UNKNOWN"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds verification settings.
type Config struct {
	// Timeout bounds one full verification pass. Default: 45s.
	Timeout time.Duration

	// PollInterval is the delay between probe attempts within a pass.
	// Default: 3s.
	PollInterval time.Duration
}

// DefaultConfig returns production verification defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:      45 * time.Second,
		PollInterval: 3 * time.Second,
	}
}

// =============================================================================
// Verifier
// =============================================================================

// Verifier re-probes an entity after a healing action.
type Verifier struct {
	registry *registry.Registry
	prober   probes.Prober
	config   Config
}

// New creates a verifier sharing the detector's registry and prober.
func New(reg *registry.Registry, prober probes.Prober, cfg Config) *Verifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	return &Verifier{registry: reg, prober: prober, config: cfg}
}

// CheckOnce probes the entity a single time. Used for the self-recovery
// short-circuit before the first healing attempt.
func (v *Verifier) CheckOnce(ctx context.Context, entityID string) (Verdict, error) {
	e, ok := v.registry.Get(entityID)
	if !ok {
		return VerdictUnknown, fmt.Errorf("%w: %s", faults.ErrEntityNotFound, entityID)
	}
	now := time.Now()
	obs, err := v.prober.Check(ctx, e)
	v.registry.RecordObservation(entityID, obs.State, now)
	if err != nil {
		return VerdictUnknown, err
	}
	switch obs.State {
	case faults.StateHealthy:
		return VerdictRecovered, nil
	case faults.StateUnhealthy:
		return VerdictStillFaulty, nil
	}
	return VerdictUnknown, nil
}

// Verify polls the entity's probe until it reports healthy or the
// verification timeout elapses.
//
// # Outputs
//
//   - Verdict: RECOVERED on a healthy observation; STILL_FAULTY on
//     timeout. A pass that saw only probe failures also returns
//     STILL_FAULTY so an unobservable entity is never declared healed.
//   - error: faults.ErrVerificationTimeout alongside STILL_FAULTY,
//     context errors when cancelled mid-pass.
func (v *Verifier) Verify(ctx context.Context, entityID string) (Verdict, error) {
	vctx, cancel := context.WithTimeout(ctx, v.config.Timeout)
	defer cancel()

	sawDefinitive := false
	for {
		verdict, err := v.CheckOnce(vctx, entityID)
		switch verdict {
		case VerdictRecovered:
			slog.Info("verification passed", "entity_id", entityID)
			return VerdictRecovered, nil
		case VerdictStillFaulty:
			sawDefinitive = true
		case VerdictUnknown:
			slog.Debug("verification probe inconclusive", "entity_id", entityID, "error", err)
		}

		select {
		case <-vctx.Done():
			if ctx.Err() != nil {
				return VerdictStillFaulty, ctx.Err()
			}
			if !sawDefinitive {
				slog.Warn("verification saw no definitive observation, treating as still faulty",
					"entity_id", entityID)
			}
			return VerdictStillFaulty, faults.ErrVerificationTimeout
		case <-time.After(v.config.PollInterval):
		}
	}
}
