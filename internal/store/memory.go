// Package store provides a minimal in-memory implementation of the
// trigger.Repository and trigger.SignalStore contracts, so the
// composition root has something concrete to wire without depending on a
// real database. Persistence schema is left at the store's discretion;
// swapping this for a durable store means implementing the same two
// interfaces.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"oisentry/internal/model"
)

// MemoryTriggerStore implements trigger.Repository in process memory. Not
// durable across restarts.
type MemoryTriggerStore struct {
	mu       sync.RWMutex
	triggers map[string]model.Trigger
}

// NewMemoryTriggerStore builds an empty trigger store.
func NewMemoryTriggerStore() *MemoryTriggerStore {
	return &MemoryTriggerStore{triggers: make(map[string]model.Trigger)}
}

func (m *MemoryTriggerStore) Init(ctx context.Context) error { return nil }

func (m *MemoryTriggerStore) GetAllActive(ctx context.Context) ([]model.Trigger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Trigger, 0, len(m.triggers))
	for _, t := range m.triggers {
		if t.IsActive {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MemoryTriggerStore) Save(ctx context.Context, spec model.Trigger) (model.Trigger, error) {
	if spec.ID == "" {
		spec.ID = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggers[spec.ID] = spec
	return spec, nil
}

func (m *MemoryTriggerStore) Remove(ctx context.Context, id, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.triggers[id]
	if !ok || t.UserID != userID {
		return false, nil
	}
	delete(m.triggers, id)
	return true, nil
}

// FindByUser is part of the broader trigger-persistence contract (not
// required by trigger.Repository, which only needs the four registry
// operations).
func (m *MemoryTriggerStore) FindByUser(ctx context.Context, userID string) ([]model.Trigger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Trigger
	for _, t := range m.triggers {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

// MemorySignalStore implements trigger.SignalStore in process memory.
type MemorySignalStore struct {
	mu      sync.RWMutex
	signals []model.Signal
}

// NewMemorySignalStore builds an empty signal store.
func NewMemorySignalStore() *MemorySignalStore {
	return &MemorySignalStore{}
}

func (m *MemorySignalStore) Save(ctx context.Context, signal model.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals = append(m.signals, signal)
	return nil
}

func (m *MemorySignalStore) Count24h(ctx context.Context, triggerID, symbol string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cutoff := time.Now().Add(-24 * time.Hour)
	count := 0
	for _, s := range m.signals {
		if s.TriggerID == triggerID && s.Symbol == symbol && s.CreatedAt.After(cutoff) {
			count++
		}
	}
	return count, nil
}

// Count24hByUserSymbol is part of the broader signal-persistence contract
// (not required by trigger.SignalStore).
func (m *MemorySignalStore) Count24hByUserSymbol(ctx context.Context, userID, symbol string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cutoff := time.Now().Add(-24 * time.Hour)
	count := 0
	for _, s := range m.signals {
		if s.UserID == userID && s.Symbol == symbol && s.CreatedAt.After(cutoff) {
			count++
		}
	}
	return count, nil
}

// RecentBySymbol is part of the broader signal-persistence contract (not
// required by trigger.SignalStore).
func (m *MemorySignalStore) RecentBySymbol(ctx context.Context, symbol string, hours int) ([]model.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cutoff := time.Now().Add(-time.Duration(hours) * time.Hour)
	var out []model.Signal
	for _, s := range m.signals {
		if s.Symbol == symbol && s.CreatedAt.After(cutoff) {
			out = append(out, s)
		}
	}
	return out, nil
}
