// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events fans fault lifecycle updates out to live subscribers.
//
// The bus decouples the pipeline from the websocket stream: publishers
// never block on a slow client, and a subscriber that cannot keep up
// loses events rather than stalling healing.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianSentinel/services/faults"
)

// Kind labels an event on the stream.
type Kind string

const (
	KindFaultUpdate   Kind = "fault_update"
	KindHealingUpdate Kind = "healing_update"
)

// Event is one entry on the live stream. Fault is always a private
// clone; subscribers may retain it.
type Event struct {
	Kind      Kind          `json:"kind"`
	Timestamp time.Time     `json:"timestamp"`
	Fault     *faults.Fault `json:"fault"`
}

// subscriberBuffer bounds how far a subscriber may lag before events
// are dropped for it.
const subscriberBuffer = 32

// Bus is an in-process publish/subscribe fan-out.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a listener and returns its channel plus a cancel
// function. The channel is closed on cancel or bus shutdown.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

// PublishFaultUpdate broadcasts a fault snapshot. Mid-heal snapshots
// (HEALING, VERIFYING) are labelled healing_update; everything else is
// fault_update.
func (b *Bus) PublishFaultUpdate(f *faults.Fault) {
	if f == nil {
		return
	}
	kind := KindFaultUpdate
	if f.Status == faults.StatusHealing || f.Status == faults.StatusVerifying {
		kind = KindHealingUpdate
	}
	ev := Event{Kind: kind, Timestamp: time.Now(), Fault: f.Clone()}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			slog.Warn("event subscriber lagging, dropping event",
				"subscriber", id,
				"kind", kind,
				"fault_id", f.ID,
			)
		}
	}
}

// SubscriberCount returns the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close shuts the bus down and closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
