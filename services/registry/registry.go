// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package registry holds the set of monitored entities and their
// last-known state.
//
// Entities enter the registry from a YAML definitions file at startup
// and on hot reload (fsnotify). An entity removed from the file is
// marked inactive, never deleted, so faults recorded against it stay
// attributable for the rest of the run.
//
// The registry is the leaf dependency of the detector and verifier; it
// never calls out to any other component.
package registry

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianSentinel/services/faults"
)

// Registry is the concurrency-safe store of monitored entities.
type Registry struct {
	mu       sync.RWMutex
	entities map[string]*faults.Entity
	order    []string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entities: make(map[string]*faults.Entity),
	}
}

// Apply reconciles the registry against a full set of entity
// definitions: new entities are added, existing ones updated in place,
// and entities absent from defs are marked inactive.
//
// # Inputs
//
//   - defs: The complete desired entity set (typically a parsed
//     definitions file).
//
// # Outputs
//
//   - error: Non-nil if any definition is invalid. Validation runs
//     before mutation, so a rejected set leaves the registry unchanged.
func (r *Registry) Apply(defs []faults.Entity) error {
	seen := make(map[string]bool, len(defs))
	for _, def := range defs {
		if def.ID == "" {
			return fmt.Errorf("entity definition missing id")
		}
		if def.HealthCheck.Method == "" {
			return fmt.Errorf("entity %s missing health check method", def.ID)
		}
		seen[def.ID] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, def := range defs {
		if existing, ok := r.entities[def.ID]; ok {
			existing.Kind = def.Kind
			existing.HealthCheck = def.HealthCheck
			if !existing.Active {
				slog.Info("entity reactivated", "entity_id", def.ID)
				existing.Active = true
			}
			continue
		}

		e := def
		e.Active = true
		e.LastState = faults.StateUnknown
		r.entities[def.ID] = &e
		r.order = append(r.order, def.ID)
		slog.Info("entity registered", "entity_id", def.ID, "kind", def.Kind)
	}

	for id, e := range r.entities {
		if !seen[id] && e.Active {
			e.Active = false
			slog.Info("entity marked inactive", "entity_id", id)
		}
	}
	return nil
}

// Get returns a copy of the entity with the given ID.
func (r *Registry) Get(id string) (faults.Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[id]
	if !ok {
		return faults.Entity{}, false
	}
	return *e, true
}

// List returns copies of all entities in registration order. When
// activeOnly is set, inactive entities are skipped.
func (r *Registry) List(activeOnly bool) []faults.Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]faults.Entity, 0, len(r.order))
	for _, id := range r.order {
		e := r.entities[id]
		if activeOnly && !e.Active {
			continue
		}
		out = append(out, *e)
	}
	return out
}

// RecordObservation updates an entity's last-known state after a probe.
// Unknown IDs are ignored; the entity may have been registered through
// a definitions file that has since been replaced.
func (r *Registry) RecordObservation(id string, state faults.EntityState, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entities[id]
	if !ok {
		return
	}
	e.LastState = state
	e.LastChecked = at
}
