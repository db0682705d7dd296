// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

// Package queue implements the durable offline delivery queue.
//
// Samples that cannot be delivered are persisted to the shared BadgerDB
// store before the delivery attempt is abandoned, so a crash or restart
// never loses a queued sample. The queue is bounded: when full, the oldest
// entry is evicted to make room, on the grounds that a fresh position is
// worth more than a stale one. Entries checked out for delivery carry a
// lease; an entry whose process crashed mid-delivery becomes visible again
// once its lease expires, giving at-least-once delivery.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/crewmint/shiftbeacon/internal/logging"
	"github.com/crewmint/shiftbeacon/internal/metrics"
	"github.com/crewmint/shiftbeacon/internal/models"
	"github.com/crewmint/shiftbeacon/internal/storage"
)

// Errors
var (
	// ErrEntryNotFound is returned when the addressed entry no longer exists.
	ErrEntryNotFound = fmt.Errorf("queue entry not found")
)

// Key layout. Entry keys embed a zero-padded monotonic sequence number so
// that lexicographic iteration order is insertion order. The sequence
// counter lives outside the entry prefix so prefix scans never see it.
const (
	entryPrefix = "queue:entry:"
	seqKey      = "queue:seq"
)

// Options configures the offline queue.
type Options struct {
	// MaxDepth is the maximum number of queued samples. Enqueueing onto a
	// full queue evicts the oldest entry.
	MaxDepth int

	// MaxAge is how long an entry may wait before the cleanup pass discards
	// it as stale.
	MaxAge time.Duration

	// LeaseDuration is how long a dequeued entry stays invisible while a
	// delivery attempt is in flight. Must comfortably exceed the delivery
	// timeout so a live attempt is never handed out twice.
	LeaseDuration time.Duration
}

// DefaultOptions returns the production queue settings.
func DefaultOptions() Options {
	return Options{
		MaxDepth:      10,
		MaxAge:        24 * time.Hour,
		LeaseDuration: 2 * time.Minute,
	}
}

// Validate checks that the options are usable.
func (o *Options) Validate() error {
	if o.MaxDepth < 1 {
		return fmt.Errorf("queue options: max depth must be at least 1")
	}
	if o.MaxAge < time.Minute {
		return fmt.Errorf("queue options: max age must be at least 1 minute")
	}
	if o.LeaseDuration < time.Second {
		return fmt.Errorf("queue options: lease duration must be at least 1 second")
	}
	return nil
}

// Queue is the durable bounded FIFO queue of undelivered samples.
//
// Mutating operations are serialized with a mutex: the capacity check,
// eviction, and insert in Enqueue must be atomic with respect to other
// producers, and serializing is simpler than retrying BadgerDB commit
// conflicts.
type Queue struct {
	store *storage.Store
	seq   *badger.Sequence
	opts  Options

	mu sync.Mutex

	// now is the clock; replaced in tests to control lease expiry and age.
	now func() time.Time
}

// New opens the queue on top of the shared store.
func New(store *storage.Store, opts Options) (*Queue, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	seq, err := store.Sequence([]byte(seqKey), 16)
	if err != nil {
		return nil, fmt.Errorf("open queue sequence: %w", err)
	}

	return &Queue{
		store: store,
		seq:   seq,
		opts:  opts,
		now:   time.Now,
	}, nil
}

// Close releases the sequence counter. The shared store is closed by its
// owner, not here.
func (q *Queue) Close() error {
	return q.seq.Release()
}

// Enqueue persists a sample at the tail of the queue, evicting the oldest
// entries first if the queue is at capacity. Returns the storage key of the
// new entry.
func (q *Queue) Enqueue(ctx context.Context, sample models.LocationSample) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n, err := q.seq.Next()
	if err != nil {
		return "", fmt.Errorf("next queue sequence: %w", err)
	}
	key := fmt.Sprintf("%s%020d:%s", entryPrefix, n, sample.ID)

	entry := models.QueueEntry{
		Key:      key,
		Sample:   sample,
		SampleID: sample.ID,
		QueuedAt: q.now().UTC(),
	}
	data, err := json.Marshal(&entry)
	if err != nil {
		return "", fmt.Errorf("marshal queue entry: %w", err)
	}

	var depth int
	err = q.store.Update(func(txn *badger.Txn) error {
		keys, err := collectKeys(ctx, txn)
		if err != nil {
			return err
		}

		// Make room: evict oldest entries until one slot is free.
		for len(keys) >= q.opts.MaxDepth {
			oldest := keys[0]
			if err := txn.Delete([]byte(oldest)); err != nil {
				return fmt.Errorf("evict oldest entry: %w", err)
			}
			keys = keys[1:]
			metrics.QueueEvictions.Inc()
			logging.Warn().
				Str("evicted_key", oldest).
				Int("max_depth", q.opts.MaxDepth).
				Msg("Offline queue full, evicting oldest entry")
		}

		depth = len(keys) + 1
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return "", err
	}

	metrics.QueueDepth.Set(float64(depth))
	return key, nil
}

// Dequeue checks out up to max entries in FIFO order, skipping entries whose
// delivery lease is still active. Each returned entry is leased until
// LeaseDuration from now; the caller must either Ack it on confirmed
// delivery or Fail it to make it immediately available again.
func (q *Queue) Dequeue(ctx context.Context, max int) ([]*models.QueueEntry, error) {
	if max < 1 {
		return nil, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now().UTC()
	leaseExpiry := now.Add(q.opts.LeaseDuration)

	var out []*models.QueueEntry
	err := q.store.Update(func(txn *badger.Txn) error {
		// Collect candidates first; the iterator must be closed before the
		// transaction is written to.
		picked, err := collectUnleased(ctx, txn, now, max)
		if err != nil {
			return err
		}

		for _, entry := range picked {
			expiry := leaseExpiry
			entry.LeaseExpiry = &expiry
			data, err := json.Marshal(entry)
			if err != nil {
				return fmt.Errorf("marshal leased entry: %w", err)
			}
			if err := txn.Set([]byte(entry.Key), data); err != nil {
				return fmt.Errorf("lease entry: %w", err)
			}

			entry.Sample.ID = entry.SampleID
			out = append(out, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// collectUnleased returns up to max entries in FIFO order whose lease is
// absent or expired. The iterator is closed before returning.
func collectUnleased(ctx context.Context, txn *badger.Txn, now time.Time, max int) ([]*models.QueueEntry, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = true
	it := txn.NewIterator(opts)
	defer it.Close()

	var picked []*models.QueueEntry
	prefix := []byte(entryPrefix)
	for it.Seek(prefix); it.ValidForPrefix(prefix) && len(picked) < max; it.Next() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		item := it.Item()

		var entry models.QueueEntry
		err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
		if err != nil {
			logging.Warn().Err(err).Str("key", string(item.Key())).Msg("Queue entry unreadable, skipping")
			continue
		}

		if entry.Leased(now) {
			continue
		}
		picked = append(picked, &entry)
	}
	return picked, nil
}

// Ack removes an entry after its sample was confirmed delivered.
func (q *Queue) Ack(ctx context.Context, key string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	err := q.store.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err == badger.ErrKeyNotFound {
			return ErrEntryNotFound
		}
		if err != nil {
			return fmt.Errorf("get entry: %w", err)
		}
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return err
	}

	q.publishDepth(ctx)
	return nil
}

// Fail records a failed delivery attempt and clears the entry's lease so the
// next drain can retry it immediately.
func (q *Queue) Fail(ctx context.Context, key string, cause string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now().UTC()
	return q.store.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err == badger.ErrKeyNotFound {
			return ErrEntryNotFound
		}
		if err != nil {
			return fmt.Errorf("get entry: %w", err)
		}

		var entry models.QueueEntry
		err = item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
		if err != nil {
			return fmt.Errorf("unmarshal entry: %w", err)
		}

		entry.Attempts++
		entry.LastAttemptAt = &now
		entry.LastError = cause
		entry.LeaseExpiry = nil

		data, err := json.Marshal(&entry)
		if err != nil {
			return fmt.Errorf("marshal entry: %w", err)
		}
		return txn.Set([]byte(key), data)
	})
}

// PurgeExpired discards entries that have waited longer than MaxAge and
// returns how many were removed. Unreadable entries are discarded too; they
// can never be delivered.
func (q *Queue) PurgeExpired(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.now().UTC().Add(-q.opts.MaxAge)

	var purged int
	err := q.store.Update(func(txn *badger.Txn) error {
		stale, err := collectStale(ctx, txn, cutoff)
		if err != nil {
			return err
		}

		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return fmt.Errorf("purge entry: %w", err)
			}
		}
		purged = len(stale)
		return nil
	})
	if err != nil {
		return 0, err
	}

	if purged > 0 {
		metrics.QueuePurged.Add(float64(purged))
		logging.Info().
			Int("purged", purged).
			Dur("max_age", q.opts.MaxAge).
			Msg("Purged stale entries from offline queue")
	}
	q.publishDepth(ctx)
	return purged, nil
}

// Depth returns the number of queued entries, leased or not.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	var count int
	err := q.store.View(func(txn *badger.Txn) error {
		keys, err := collectKeys(ctx, txn)
		if err != nil {
			return err
		}
		count = len(keys)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// publishDepth refreshes the depth gauge; failures are ignored since the
// gauge is advisory.
func (q *Queue) publishDepth(ctx context.Context) {
	var count int
	err := q.store.View(func(txn *badger.Txn) error {
		keys, err := collectKeys(ctx, txn)
		if err != nil {
			return err
		}
		count = len(keys)
		return nil
	})
	if err == nil {
		metrics.QueueDepth.Set(float64(count))
	}
}

// collectStale returns the keys of entries queued before cutoff, plus any
// unreadable entries. The iterator is closed before returning.
func collectStale(ctx context.Context, txn *badger.Txn, cutoff time.Time) ([][]byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = true
	it := txn.NewIterator(opts)
	defer it.Close()

	var stale [][]byte
	prefix := []byte(entryPrefix)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		item := it.Item()

		var entry models.QueueEntry
		err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
		if err != nil || entry.QueuedAt.Before(cutoff) {
			stale = append(stale, item.KeyCopy(nil))
		}
	}
	return stale, nil
}

// collectKeys returns all entry keys in FIFO order.
func collectKeys(ctx context.Context, txn *badger.Txn) ([]string, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys []string
	prefix := []byte(entryPrefix)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		keys = append(keys, string(it.Item().KeyCopy(nil)))
	}
	return keys, nil
}
