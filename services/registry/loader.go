// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianSentinel/services/faults"
)

// definitionsFile is the on-disk shape of the entity definitions file:
//
//	entities:
//	  - id: api-server
//	    kind: container
//	    health_check:
//	      method: command
//	      target: "podman healthcheck run api-server"
//	      timeout: 5s
//	  - id: host-disk
//	    kind: resource
//	    health_check:
//	      method: resource
//	      target: disk_percent
//	      threshold: 90
type definitionsFile struct {
	Entities []entityDef `yaml:"entities"`
}

type entityDef struct {
	ID          string         `yaml:"id"`
	Kind        string         `yaml:"kind"`
	HealthCheck healthCheckDef `yaml:"health_check"`
}

type healthCheckDef struct {
	Method    string  `yaml:"method"`
	Target    string  `yaml:"target"`
	Threshold float64 `yaml:"threshold"`
	Timeout   string  `yaml:"timeout"`
}

// LoadFile parses the YAML definitions file and reconciles the registry
// against it.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read entity definitions %s: %w", path, err)
	}
	defs, err := parseDefinitions(data)
	if err != nil {
		return fmt.Errorf("parse entity definitions %s: %w", path, err)
	}
	return r.Apply(defs)
}

func parseDefinitions(data []byte) ([]faults.Entity, error) {
	var file definitionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	out := make([]faults.Entity, 0, len(file.Entities))
	for _, def := range file.Entities {
		var timeout time.Duration
		if def.HealthCheck.Timeout != "" {
			var err error
			timeout, err = time.ParseDuration(def.HealthCheck.Timeout)
			if err != nil {
				return nil, fmt.Errorf("entity %s: bad timeout %q: %w", def.ID, def.HealthCheck.Timeout, err)
			}
		}
		out = append(out, faults.Entity{
			ID:   def.ID,
			Kind: faults.EntityKind(def.Kind),
			HealthCheck: faults.HealthCheck{
				Method:    def.HealthCheck.Method,
				Target:    def.HealthCheck.Target,
				Threshold: def.HealthCheck.Threshold,
				Timeout:   timeout,
			},
		})
	}
	return out, nil
}
