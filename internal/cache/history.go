// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

// Package cache provides the in-memory recent-sample history kept alongside
// the durable store. The history backs the status endpoint and is bounded
// both by entry count and by age.
package cache

import (
	"sync"
	"time"

	"github.com/crewmint/shiftbeacon/internal/models"
)

// historyEntry is a node in the doubly-linked recency list.
type historyEntry struct {
	sample    models.LocationSample
	prev      *historyEntry
	next      *historyEntry
	expiresAt time.Time
}

// History is a thread-safe bounded buffer of recently accepted samples,
// newest first. Recording past capacity discards the oldest sample; the
// cleanup loop removes entries older than the TTL.
//
// A doubly-linked list with sentinel nodes keeps Record and eviction O(1);
// the map gives O(1) removal by sample ID.
type History struct {
	mu sync.RWMutex

	// capacity is the maximum number of retained samples
	capacity int

	// ttl is the maximum age of a retained sample
	ttl time.Duration

	// items maps sample IDs to list nodes
	items map[string]*historyEntry

	// head and tail are sentinel nodes; head.next is the newest sample,
	// tail.prev the oldest
	head *historyEntry
	tail *historyEntry
}

// NewHistory creates a history bounded by capacity entries and ttl age.
func NewHistory(capacity int, ttl time.Duration) *History {
	if capacity <= 0 {
		capacity = 100
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	h := &History{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*historyEntry, capacity),
		head:     &historyEntry{},
		tail:     &historyEntry{},
	}
	h.head.next = h.tail
	h.tail.prev = h.head
	return h
}

// Record adds a sample at the front of the history, evicting the oldest
// entries if the history is at capacity. Re-recording a sample ID refreshes
// its position and expiry.
func (h *History) Record(sample models.LocationSample) {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := sample.ID.String()
	expiresAt := time.Now().Add(h.ttl)

	if entry, exists := h.items[key]; exists {
		entry.sample = sample
		entry.expiresAt = expiresAt
		h.moveToFront(entry)
		return
	}

	entry := &historyEntry{sample: sample, expiresAt: expiresAt}
	h.addToFront(entry)
	h.items[key] = entry

	for len(h.items) > h.capacity {
		h.evictOldest()
	}
}

// Recent returns up to n samples, newest first. Expired entries are skipped
// but left for CleanupExpired to remove.
func (h *History) Recent(n int) []models.LocationSample {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || n > len(h.items) {
		n = len(h.items)
	}

	now := time.Now()
	out := make([]models.LocationSample, 0, n)
	for entry := h.head.next; entry != h.tail && len(out) < n; entry = entry.next {
		if now.After(entry.expiresAt) {
			continue
		}
		out = append(out, entry.sample)
	}
	return out
}

// Len returns the current number of retained samples, expired or not.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.items)
}

// CleanupExpired removes all entries older than the TTL and returns how many
// were removed. Called from the periodic cleanup loop.
func (h *History) CleanupExpired() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	removed := 0

	// Walk from tail (oldest) to head (newest)
	for entry := h.tail.prev; entry != h.head; {
		prev := entry.prev
		if now.After(entry.expiresAt) {
			h.removeEntry(entry)
			removed++
		}
		entry = prev
	}
	return removed
}

// Clear removes all entries.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.items = make(map[string]*historyEntry, h.capacity)
	h.head.next = h.tail
	h.tail.prev = h.head
}

// Internal methods (must be called with lock held)

func (h *History) addToFront(entry *historyEntry) {
	entry.prev = h.head
	entry.next = h.head.next
	h.head.next.prev = entry
	h.head.next = entry
}

func (h *History) moveToFront(entry *historyEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	h.addToFront(entry)
}

func (h *History) removeEntry(entry *historyEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	delete(h.items, entry.sample.ID.String())
}

func (h *History) evictOldest() {
	oldest := h.tail.prev
	if oldest == h.head {
		return
	}
	h.removeEntry(oldest)
}
