// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analyzer classifies candidate faults into diagnoses.
//
// Deterministic correlation rules run first. Only when no rule reaches
// the confidence threshold is the external analysis provider consulted,
// and a provider failure degrades back to the best rule match with a
// confidence penalty rather than stalling the pipeline. A diagnosis is
// therefore always produced.
package analyzer

import (
	"context"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianSentinel/services/faults"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds analyzer tuning knobs.
type Config struct {
	// RuleConfidenceThreshold is the minimum rule confidence that
	// skips the external provider. Default: 0.6.
	RuleConfidenceThreshold float64

	// DegradedPenalty is subtracted from the rule confidence when the
	// provider was needed but unavailable. Default: 0.2.
	DegradedPenalty float64

	// ProviderTimeout bounds a single provider call. Default: 10s.
	ProviderTimeout time.Duration
}

// DefaultConfig returns production analyzer defaults.
func DefaultConfig() Config {
	return Config{
		RuleConfidenceThreshold: 0.6,
		DegradedPenalty:         0.2,
		ProviderTimeout:         10 * time.Second,
	}
}

// =============================================================================
// Analyzer
// =============================================================================

// Analyzer produces one Diagnosis per candidate fault.
type Analyzer struct {
	provider Provider
	config   Config
}

// New creates an analyzer. The provider may be nil, in which case
// low-confidence candidates go straight to the degraded rule result.
func New(provider Provider, cfg Config) *Analyzer {
	if cfg.RuleConfidenceThreshold <= 0 {
		cfg.RuleConfidenceThreshold = DefaultConfig().RuleConfidenceThreshold
	}
	if cfg.DegradedPenalty <= 0 {
		cfg.DegradedPenalty = DefaultConfig().DegradedPenalty
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = DefaultConfig().ProviderTimeout
	}
	return &Analyzer{provider: provider, config: cfg}
}

// Diagnose classifies the candidate and returns a diagnosis for the
// given fault ID. Never returns an error: an unreachable provider
// yields a degraded rule-based diagnosis instead.
func (a *Analyzer) Diagnose(ctx context.Context, faultID string, c faults.Candidate) faults.Diagnosis {
	best := evaluateRules(c)

	if best.Confidence >= a.config.RuleConfidenceThreshold {
		slog.Debug("rule diagnosis accepted",
			"fault_id", faultID,
			"rule", best.RuleName,
			"confidence", best.Confidence,
		)
		return faults.Diagnosis{
			FaultID:     faultID,
			RootCause:   best.RootCause,
			Confidence:  best.Confidence,
			Rationale:   best.Rationale,
			Source:      "rules",
			DiagnosedAt: time.Now(),
		}
	}

	if a.provider != nil {
		pctx, cancel := context.WithTimeout(ctx, a.config.ProviderTimeout)
		defer cancel()

		result, err := a.provider.Analyze(pctx, c)
		if err == nil {
			slog.Info("provider diagnosis accepted",
				"fault_id", faultID,
				"root_cause", result.RootCause,
				"confidence", result.Confidence,
			)
			return faults.Diagnosis{
				FaultID:     faultID,
				RootCause:   result.RootCause,
				Confidence:  result.Confidence,
				Rationale:   result.Rationale,
				Source:      "provider",
				DiagnosedAt: time.Now(),
			}
		}
		slog.Warn("analysis provider unavailable, degrading to rule diagnosis",
			"fault_id", faultID,
			"error", err,
		)
	}

	confidence := best.Confidence - a.config.DegradedPenalty
	if confidence < 0 {
		confidence = 0
	}
	return faults.Diagnosis{
		FaultID:     faultID,
		RootCause:   best.RootCause,
		Confidence:  confidence,
		Rationale:   best.Rationale + " (degraded: external analysis unavailable)",
		Source:      "rules",
		Degraded:    true,
		DiagnosedAt: time.Now(),
	}
}
