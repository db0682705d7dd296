// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

// Package storage provides the agent's single durable store, backed by
// BadgerDB. The offline delivery queue and the persisted agent state share
// one database instance; this package owns opening, closing, and transaction
// access so the two consumers cannot disagree about lifecycle.
package storage

import (
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/crewmint/shiftbeacon/internal/logging"
)

// Errors
var (
	// ErrClosed is returned when the store has been closed.
	ErrClosed = fmt.Errorf("store is closed")
)

// Config holds the durable store configuration.
//
// SyncWrites defaults to true: queued samples must survive power loss, and
// the write rate of a location agent is far below anything fsync throughput
// matters for.
type Config struct {
	// Path is the directory where BadgerDB stores its files.
	// Should be on a durable filesystem (not tmpfs).
	Path string

	// SyncWrites forces fsync after every write for maximum durability.
	SyncWrites bool

	// MemTableSize is the size of each memtable in bytes.
	MemTableSize int64

	// ValueLogFileSize is the size of each value log file in bytes.
	ValueLogFileSize int64

	// NumCompactors is the number of compaction workers.
	NumCompactors int

	// GCRatio is the ratio for value log garbage collection.
	GCRatio float64

	// CloseTimeout is the maximum time to wait for graceful shutdown.
	CloseTimeout time.Duration
}

// DefaultConfig returns a Config sized for an agent's workload: a handful of
// small JSON values, written one at a time.
func DefaultConfig() Config {
	return Config{
		Path:             "/data/shiftbeacon",
		SyncWrites:       true,
		MemTableSize:     8 * 1024 * 1024,
		ValueLogFileSize: 16 * 1024 * 1024,
		NumCompactors:    2,
		GCRatio:          0.5,
		CloseTimeout:     30 * time.Second,
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("storage config: path is required")
	}
	if c.MemTableSize < 1024*1024 {
		return fmt.Errorf("storage config: memtable size must be at least 1MB")
	}
	if c.ValueLogFileSize < 1024*1024 {
		return fmt.Errorf("storage config: value log file size must be at least 1MB")
	}
	if c.NumCompactors < 2 {
		return fmt.Errorf("storage config: at least 2 compactors required by BadgerDB")
	}
	return nil
}

// Store wraps a shared BadgerDB instance. All reads and writes go through
// View and Update, which refuse work after Close so a late caller gets
// ErrClosed instead of a BadgerDB panic.
type Store struct {
	db     *badger.DB
	config Config

	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) the store at the configured path.
func Open(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(cfg.Path)
	opts.SyncWrites = cfg.SyncWrites
	opts.MemTableSize = cfg.MemTableSize
	opts.ValueLogFileSize = cfg.ValueLogFileSize
	opts.NumCompactors = cfg.NumCompactors

	// Reduce logging verbosity
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("sync_writes", cfg.SyncWrites).
		Msg("Durable store opened")

	return &Store{db: db, config: cfg}, nil
}

// View runs fn inside a read-only transaction.
func (s *Store) View(fn func(txn *badger.Txn) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	s.mu.RUnlock()

	return s.db.View(fn)
}

// Update runs fn inside a read-write transaction.
func (s *Store) Update(fn func(txn *badger.Txn) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	s.mu.RUnlock()

	return s.db.Update(fn)
}

// Sequence returns a monotonic sequence stored under key. The caller owns
// releasing it before the store closes.
func (s *Store) Sequence(key []byte, bandwidth uint64) (*badger.Sequence, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrClosed
	}
	s.mu.RUnlock()

	return s.db.GetSequence(key, bandwidth)
}

// RunGC triggers BadgerDB value log garbage collection.
// Called periodically by the cleanup loop to reclaim space.
func (s *Store) RunGC() error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	s.mu.RUnlock()

	for {
		err := s.db.RunValueLogGC(s.config.GCRatio)
		if err == badger.ErrNoRewrite {
			return nil
		}
		if err != nil {
			return fmt.Errorf("run GC: %w", err)
		}
	}
}

// Close gracefully shuts down the store with a configurable timeout.
// If BadgerDB doesn't close within CloseTimeout, Close returns an error
// to prevent indefinite shutdown hangs.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	timeout := s.config.CloseTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	s.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- s.db.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("close BadgerDB: %w", err)
		}
		logging.Info().Msg("Durable store closed")
		return nil
	case <-time.After(timeout):
		logging.Warn().Dur("timeout", timeout).Msg("BadgerDB close timed out")
		return fmt.Errorf("badgerdb close timeout after %v", timeout)
	}
}
