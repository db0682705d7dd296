// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

// Package state persists the small set of agent facts that must survive a
// process restart: the last delivered position, the last accepted update
// time, the active tracking configuration, the tracking status, and the
// restart budget counter. Values are stored as JSON in the shared BadgerDB
// store under a dedicated key prefix.
package state

import (
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/crewmint/shiftbeacon/internal/models"
	"github.com/crewmint/shiftbeacon/internal/storage"
)

// Errors
var (
	// ErrNotSet is returned when a state value has never been written.
	ErrNotSet = fmt.Errorf("state value not set")
)

// Storage keys. All live under the state: prefix so they never collide with
// queue entries in the shared store.
const (
	keyLastDelivered  = "state:last_delivered"
	keyLastUpdate     = "state:last_update"
	keyTrackingConfig = "state:tracking_config"
	keyStatus         = "state:status"
	keyRestartCounter = "state:restart_counter"
)

// deliveredPoint pairs the last delivered position with its delivery time.
type deliveredPoint struct {
	Location models.Coordinate `json:"location"`
	At       time.Time         `json:"at"`
}

// Store provides typed accessors over the persisted agent state.
type Store struct {
	store *storage.Store
}

// New wraps the shared store.
func New(store *storage.Store) *Store {
	return &Store{store: store}
}

// SaveLastDelivered records the position and time of the most recent
// confirmed delivery. Significance checks measure from this point, and the
// health monitor watches its age.
func (s *Store) SaveLastDelivered(loc models.Coordinate, at time.Time) error {
	return s.put(keyLastDelivered, deliveredPoint{Location: loc, At: at.UTC()})
}

// LastDelivered returns the most recently delivered position and its
// delivery time, or ErrNotSet when nothing has been delivered yet.
func (s *Store) LastDelivered() (models.Coordinate, time.Time, error) {
	var p deliveredPoint
	if err := s.get(keyLastDelivered, &p); err != nil {
		return models.Coordinate{}, time.Time{}, err
	}
	return p.Location, p.At, nil
}

// SaveLastUpdateTime records when a fix last passed the rate limiter.
func (s *Store) SaveLastUpdateTime(at time.Time) error {
	return s.put(keyLastUpdate, at.UTC())
}

// LastUpdateTime returns when a fix last passed the rate limiter, or
// ErrNotSet when none has.
func (s *Store) LastUpdateTime() (time.Time, error) {
	var at time.Time
	if err := s.get(keyLastUpdate, &at); err != nil {
		return time.Time{}, err
	}
	return at, nil
}

// SaveTrackingConfig persists the active tracking configuration so the agent
// resumes with the same cadence after a restart.
func (s *Store) SaveTrackingConfig(cfg models.TrackingConfig) error {
	return s.put(keyTrackingConfig, cfg)
}

// TrackingConfig returns the persisted tracking configuration, or ErrNotSet.
func (s *Store) TrackingConfig() (models.TrackingConfig, error) {
	var cfg models.TrackingConfig
	if err := s.get(keyTrackingConfig, &cfg); err != nil {
		return models.TrackingConfig{}, err
	}
	return cfg, nil
}

// SaveStatus persists a tracking status transition.
func (s *Store) SaveStatus(status models.TrackingStatus) error {
	if !status.Valid() {
		return fmt.Errorf("save status: invalid status %q", status)
	}
	return s.put(keyStatus, status)
}

// Status returns the persisted tracking status, or ErrNotSet.
func (s *Store) Status() (models.TrackingStatus, error) {
	var status models.TrackingStatus
	if err := s.get(keyStatus, &status); err != nil {
		return "", err
	}
	return status, nil
}

// SaveRestartCounter persists the rolling restart budget counter.
func (s *Store) SaveRestartCounter(c models.RestartAttemptCounter) error {
	return s.put(keyRestartCounter, c)
}

// RestartCounter returns the persisted restart counter, or ErrNotSet.
func (s *Store) RestartCounter() (models.RestartAttemptCounter, error) {
	var c models.RestartAttemptCounter
	if err := s.get(keyRestartCounter, &c); err != nil {
		return models.RestartAttemptCounter{}, err
	}
	return c, nil
}

func (s *Store) put(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.store.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

func (s *Store) get(key string, out interface{}) error {
	return s.store.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err == badger.ErrKeyNotFound {
			return ErrNotSet
		}
		if err != nil {
			return fmt.Errorf("get %s: %w", key, err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
}
