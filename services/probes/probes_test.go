// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package probes

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianSentinel/services/faults"
)

func httpEntity(target string) faults.Entity {
	return faults.Entity{
		ID:   "endpoint",
		Kind: faults.KindNetworkEndpoint,
		HealthCheck: faults.HealthCheck{
			Method:  "http",
			Target:  target,
			Timeout: 2 * time.Second,
		},
	}
}

func TestHTTPProbe_Healthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	obs, err := NewRunner().Check(context.Background(), httpEntity(srv.URL))
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if obs.State != faults.StateHealthy {
		t.Errorf("state = %s, want healthy", obs.State)
	}
}

func TestHTTPProbe_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	obs, err := NewRunner().Check(context.Background(), httpEntity(srv.URL))
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if obs.State != faults.StateUnhealthy {
		t.Errorf("state = %s, want unhealthy", obs.State)
	}
}

func TestHTTPProbe_ConnectionRefused(t *testing.T) {
	// A server we immediately close gives a port nothing listens on.
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	obs, err := NewRunner().Check(context.Background(), httpEntity(url))
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if obs.State != faults.StateUnhealthy {
		t.Errorf("state = %s, want unhealthy for refused connection", obs.State)
	}
}

func TestTCPProbe(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	e := faults.Entity{
		ID: "tcp-endpoint",
		HealthCheck: faults.HealthCheck{
			Method:  "tcp",
			Target:  srv.Listener.Addr().String(),
			Timeout: 2 * time.Second,
		},
	}
	obs, err := NewRunner().Check(context.Background(), e)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if obs.State != faults.StateHealthy {
		t.Errorf("state = %s, want healthy", obs.State)
	}
}

func TestCommandProbe_ExitCodes(t *testing.T) {
	runner := NewRunner()

	healthy := faults.Entity{
		ID:          "proc",
		HealthCheck: faults.HealthCheck{Method: "command", Target: "true"},
	}
	obs, err := runner.Check(context.Background(), healthy)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if obs.State != faults.StateHealthy {
		t.Errorf("state = %s, want healthy for exit 0", obs.State)
	}

	unhealthy := faults.Entity{
		ID:          "proc",
		HealthCheck: faults.HealthCheck{Method: "command", Target: "exit 3"},
	}
	obs, err = runner.Check(context.Background(), unhealthy)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if obs.State != faults.StateUnhealthy {
		t.Errorf("state = %s, want unhealthy for exit 3", obs.State)
	}
}

func TestCommandProbe_Timeout(t *testing.T) {
	e := faults.Entity{
		ID: "slow",
		HealthCheck: faults.HealthCheck{
			Method:  "command",
			Target:  "sleep 5",
			Timeout: 100 * time.Millisecond,
		},
	}
	obs, err := NewRunner().Check(context.Background(), e)
	if !errors.Is(err, faults.ErrProbeFailed) {
		t.Fatalf("err = %v, want ErrProbeFailed", err)
	}
	if obs.State != faults.StateUnknown {
		t.Errorf("state = %s, want unknown on probe timeout", obs.State)
	}
}

func TestResourceProbe_Threshold(t *testing.T) {
	probe := &ResourceProbe{
		Sample: func(ctx context.Context) (map[string]float64, error) {
			return map[string]float64{"cpu_percent": 92.5}, nil
		},
	}
	e := faults.Entity{
		ID:   "host-cpu",
		Kind: faults.KindResource,
		HealthCheck: faults.HealthCheck{
			Method:    "resource",
			Target:    "cpu_percent",
			Threshold: 90,
		},
	}

	obs, err := probe.Check(context.Background(), e)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if obs.State != faults.StateUnhealthy {
		t.Errorf("state = %s, want unhealthy at 92.5%% >= 90%%", obs.State)
	}
	if obs.Metrics["cpu_percent"] != 92.5 {
		t.Errorf("metrics not propagated: %v", obs.Metrics)
	}

	e.HealthCheck.Threshold = 95
	obs, err = probe.Check(context.Background(), e)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if obs.State != faults.StateHealthy {
		t.Errorf("state = %s, want healthy under threshold", obs.State)
	}
}

func TestResourceProbe_UnknownMetric(t *testing.T) {
	probe := &ResourceProbe{
		Sample: func(ctx context.Context) (map[string]float64, error) {
			return map[string]float64{}, nil
		},
	}
	e := faults.Entity{
		ID:          "host",
		HealthCheck: faults.HealthCheck{Method: "resource", Target: "gpu_percent"},
	}
	_, err := probe.Check(context.Background(), e)
	if !errors.Is(err, faults.ErrProbeFailed) {
		t.Errorf("err = %v, want ErrProbeFailed for unknown metric", err)
	}
}

func TestRunner_UnsupportedMethod(t *testing.T) {
	e := faults.Entity{
		ID:          "weird",
		HealthCheck: faults.HealthCheck{Method: "carrier-pigeon"},
	}
	_, err := NewRunner().Check(context.Background(), e)
	if !errors.Is(err, faults.ErrProbeFailed) {
		t.Errorf("err = %v, want ErrProbeFailed", err)
	}
}
