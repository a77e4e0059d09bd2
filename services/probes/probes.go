// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package probes executes entity health checks.
//
// A probe answers one question: is this entity currently healthy? The
// detector and the verifier share the same probe implementations, so a
// recovery is confirmed with exactly the check that detected the fault.
//
// Probe failures (timeout, exec error) are distinct from unhealthy
// observations: an unreachable endpoint is StateUnhealthy, while a probe
// that could not run at all returns StateUnknown plus an error wrapping
// faults.ErrProbeFailed. Callers treat unknown conservatively.
package probes

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianSentinel/services/faults"
)

// DefaultTimeout bounds a single probe execution when the entity's
// health check does not set its own.
const DefaultTimeout = 5 * time.Second

// Observation is the outcome of one probe execution.
type Observation struct {
	State   faults.EntityState
	Detail  string
	Metrics map[string]float64
}

// Prober runs the health check of a single entity.
type Prober interface {
	Check(ctx context.Context, e faults.Entity) (Observation, error)
}

// =============================================================================
// Dispatcher
// =============================================================================

// Runner dispatches entities to the probe matching their health-check
// method. The zero value is not usable; construct with NewRunner.
type Runner struct {
	http     Prober
	tcp      Prober
	command  Prober
	resource Prober
}

// NewRunner builds a Runner with the production probe set.
func NewRunner() *Runner {
	return &Runner{
		http:     &HTTPProbe{Client: &http.Client{}},
		tcp:      &TCPProbe{},
		command:  &CommandProbe{},
		resource: &ResourceProbe{Sample: SampleHostMetrics},
	}
}

// Check runs the probe selected by the entity's health-check method.
func (r *Runner) Check(ctx context.Context, e faults.Entity) (Observation, error) {
	timeout := e.HealthCheck.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch e.HealthCheck.Method {
	case "http":
		return r.http.Check(ctx, e)
	case "tcp":
		return r.tcp.Check(ctx, e)
	case "command":
		return r.command.Check(ctx, e)
	case "resource":
		return r.resource.Check(ctx, e)
	default:
		return Observation{State: faults.StateUnknown},
			fmt.Errorf("%w: unsupported health check method %q", faults.ErrProbeFailed, e.HealthCheck.Method)
	}
}

// =============================================================================
// HTTP Probe
// =============================================================================

// HTTPProbe treats any 2xx response within the deadline as healthy.
type HTTPProbe struct {
	Client *http.Client
}

func (p *HTTPProbe) Check(ctx context.Context, e faults.Entity) (Observation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.HealthCheck.Target, nil)
	if err != nil {
		return Observation{State: faults.StateUnknown},
			fmt.Errorf("%w: build request for %s: %v", faults.ErrProbeFailed, e.ID, err)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Observation{State: faults.StateUnknown},
				fmt.Errorf("%w: http probe timed out for %s", faults.ErrProbeFailed, e.ID)
		}
		// Connection refused / DNS failure is the unhealthy signal a
		// network_endpoint entity exists to catch.
		return Observation{
			State:  faults.StateUnhealthy,
			Detail: fmt.Sprintf("request failed: %v", err),
		}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Observation{State: faults.StateHealthy, Detail: resp.Status}, nil
	}
	return Observation{State: faults.StateUnhealthy, Detail: resp.Status}, nil
}

// =============================================================================
// TCP Probe
// =============================================================================

// TCPProbe treats a successful dial of host:port as healthy.
type TCPProbe struct{}

func (p *TCPProbe) Check(ctx context.Context, e faults.Entity) (Observation, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", e.HealthCheck.Target)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Observation{State: faults.StateUnknown},
				fmt.Errorf("%w: tcp probe timed out for %s", faults.ErrProbeFailed, e.ID)
		}
		return Observation{
			State:  faults.StateUnhealthy,
			Detail: fmt.Sprintf("dial failed: %v", err),
		}, nil
	}
	_ = conn.Close()
	return Observation{State: faults.StateHealthy, Detail: "dial ok"}, nil
}

// =============================================================================
// Command Probe
// =============================================================================

// CommandProbe runs a shell command; exit code 0 is healthy. Container
// and process entities use this (e.g. "podman healthcheck run api" or
// "pgrep -x nginx").
type CommandProbe struct{}

func (p *CommandProbe) Check(ctx context.Context, e faults.Entity) (Observation, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", e.HealthCheck.Target)
	out, err := cmd.CombinedOutput()
	detail := strings.TrimSpace(string(out))

	if ctx.Err() != nil {
		return Observation{State: faults.StateUnknown},
			fmt.Errorf("%w: command probe timed out for %s", faults.ErrProbeFailed, e.ID)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Observation{
				State:  faults.StateUnhealthy,
				Detail: fmt.Sprintf("exit %d: %s", exitErr.ExitCode(), detail),
			}, nil
		}
		// The command could not be started at all.
		return Observation{State: faults.StateUnknown},
			fmt.Errorf("%w: command probe for %s: %v", faults.ErrProbeFailed, e.ID, err)
	}
	return Observation{State: faults.StateHealthy, Detail: detail}, nil
}

// =============================================================================
// Resource Probe
// =============================================================================

// SampleFunc produces current host metric values keyed by metric name
// (cpu_percent, memory_percent, disk_percent).
type SampleFunc func(ctx context.Context) (map[string]float64, error)

// ResourceProbe compares a sampled host metric against the entity's
// threshold. The sampler is injectable for tests.
type ResourceProbe struct {
	Sample SampleFunc
}

func (p *ResourceProbe) Check(ctx context.Context, e faults.Entity) (Observation, error) {
	metrics, err := p.Sample(ctx)
	if err != nil {
		return Observation{State: faults.StateUnknown},
			fmt.Errorf("%w: sample host metrics for %s: %v", faults.ErrProbeFailed, e.ID, err)
	}

	value, ok := metrics[e.HealthCheck.Target]
	if !ok {
		return Observation{State: faults.StateUnknown},
			fmt.Errorf("%w: unknown resource metric %q for %s", faults.ErrProbeFailed, e.HealthCheck.Target, e.ID)
	}

	obs := Observation{
		Detail:  fmt.Sprintf("%s=%.1f threshold=%.1f", e.HealthCheck.Target, value, e.HealthCheck.Threshold),
		Metrics: metrics,
	}
	if value >= e.HealthCheck.Threshold {
		obs.State = faults.StateUnhealthy
	} else {
		obs.State = faults.StateHealthy
	}
	return obs, nil
}
