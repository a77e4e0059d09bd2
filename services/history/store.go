// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history persists terminal fault records in BadgerDB.
//
// The store is append-only: a record is written exactly once, when its
// fault reaches a terminal status, and is never mutated afterwards.
// Records are keyed by detection time so queries iterate newest-first
// without an in-memory index.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianSentinel/services/faults"
)

// Key layout:
//
//	rec:<detected-unix-nano, zero padded>:<fault-id> -> HistoryRecord JSON
//	id:<fault-id>                                    -> rec key (dedup index)
const (
	recPrefix = "rec:"
	idPrefix  = "id:"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds configuration for the history store's BadgerDB instance.
type Config struct {
	// Path is the directory for database files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	// Default: true for production, false for testing.
	SyncWrites bool

	// Logger is the logger for BadgerDB operations.
	// If nil, BadgerDB's internal logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns production defaults for the given path.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: true,
	}
}

// InMemoryConfig returns configuration optimized for testing.
func InMemoryConfig() Config {
	return Config{
		InMemory:   true,
		SyncWrites: false,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// =============================================================================
// Store
// =============================================================================

// Store is the append-only healing history backed by BadgerDB.
//
// Thread Safety: Safe for concurrent use; Badger transactions provide
// the isolation.
type Store struct {
	db *badger.DB
}

// Open creates and opens a history store with the given configuration.
//
// # Outputs
//
//   - *Store: The opened store. Caller must call Close() when done.
//   - error: Non-nil if the path is invalid or the database cannot open.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent history store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create history directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory is a convenience constructor for tests.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig())
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func recKey(r faults.HistoryRecord) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", recPrefix, r.DetectedAt.UTC().UnixNano(), r.FaultID))
}

// Record appends a terminal fault record.
//
// # Inputs
//
//   - ctx: Cancellation guard; checked before the transaction starts.
//   - r: The record. FinalStatus must be terminal, FaultID unique.
//
// # Outputs
//
//   - error: faults.ErrDuplicateFault when the fault was already
//     recorded; validation or storage errors otherwise.
func (s *Store) Record(ctx context.Context, r faults.HistoryRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	if r.FaultID == "" {
		return errors.New("history record requires a fault ID")
	}
	if !r.FinalStatus.Terminal() {
		return fmt.Errorf("history records only terminal faults, got %s", r.FinalStatus)
	}

	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal history record: %w", err)
	}
	idKey := []byte(idPrefix + r.FaultID)
	key := recKey(r)

	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(idKey); err == nil {
			return faults.ErrDuplicateFault
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(key, payload); err != nil {
			return err
		}
		return txn.Set(idKey, key)
	})
	if err != nil {
		if errors.Is(err, faults.ErrDuplicateFault) {
			return err
		}
		return fmt.Errorf("record fault %s: %w", r.FaultID, err)
	}
	slog.Debug("history record written",
		"fault_id", r.FaultID,
		"final_status", r.FinalStatus,
	)
	return nil
}

// Filter narrows a history query. Zero values match everything.
type Filter struct {
	EntityID    string
	Type        faults.Type
	FinalStatus faults.Status
	Limit       int
}

func (f Filter) matches(r faults.HistoryRecord) bool {
	if f.EntityID != "" && r.EntityID != f.EntityID {
		return false
	}
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	if f.FinalStatus != "" && r.FinalStatus != f.FinalStatus {
		return false
	}
	return true
}

// Query returns matching records newest-first.
func (s *Store) Query(ctx context.Context, f Filter) ([]faults.HistoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	out := make([]faults.HistoryRecord, 0, 16)
	prefix := []byte(recPrefix)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts past the last key of the prefix.
		seek := append(append([]byte{}, prefix...), 0xff)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			var r faults.HistoryRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				return fmt.Errorf("decode record %s: %w", it.Item().Key(), err)
			}
			if !f.matches(r) {
				continue
			}
			out = append(out, r)
			if f.Limit > 0 && len(out) >= f.Limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// Statistics
// =============================================================================

// Stats summarizes the recorded healing outcomes.
type Stats struct {
	TotalFaults    int `json:"total_faults"`
	Resolved       int `json:"resolved"`
	Failed         int `json:"failed"`
	ManualRequired int `json:"manual_required"`

	// SuccessRate is resolved over all terminal records, in [0, 1].
	SuccessRate float64 `json:"success_rate"`

	// MeanTimeToHeal averages detection-to-resolution over resolved
	// faults only.
	MeanTimeToHeal time.Duration `json:"mean_time_to_heal_ns"`

	MostCommonFaultType faults.Type         `json:"most_common_fault_type,omitempty"`
	FaultTypeCounts     map[faults.Type]int `json:"fault_type_counts"`
}

// Stats computes aggregate statistics over the full history.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	records, err := s.Query(ctx, Filter{})
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{FaultTypeCounts: make(map[faults.Type]int)}
	var healTotal time.Duration
	for _, r := range records {
		stats.TotalFaults++
		stats.FaultTypeCounts[r.Type]++
		switch r.FinalStatus {
		case faults.StatusResolved:
			stats.Resolved++
			healTotal += r.TimeToHeal()
		case faults.StatusFailed:
			stats.Failed++
		case faults.StatusManualRequired:
			stats.ManualRequired++
		}
	}
	if stats.TotalFaults > 0 {
		stats.SuccessRate = float64(stats.Resolved) / float64(stats.TotalFaults)
	}
	if stats.Resolved > 0 {
		stats.MeanTimeToHeal = healTotal / time.Duration(stats.Resolved)
	}
	best := 0
	for t, n := range stats.FaultTypeCounts {
		if n > best || (n == best && t < stats.MostCommonFaultType) {
			best = n
			stats.MostCommonFaultType = t
		}
	}
	return stats, nil
}
