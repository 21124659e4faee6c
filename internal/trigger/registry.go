// Package trigger implements the Trigger Registry and Trigger Evaluator:
// an in-memory cache of active user alerts backed by an external store,
// and the debounced push-evaluation loop that fires them against
// aggregated metrics.
package trigger

import (
	"context"
	"sync"

	"oisentry/internal/model"
)

// Repository is the external trigger-persistence contract: persistence is
// the caller's concern, the registry only needs these four operations.
type Repository interface {
	Init(ctx context.Context) error
	GetAllActive(ctx context.Context) ([]model.Trigger, error)
	Save(ctx context.Context, spec model.Trigger) (model.Trigger, error)
	Remove(ctx context.Context, id, userID string) (bool, error)
}

// Registry caches active triggers in memory, refreshed from Repository at
// startup and on every create/remove. getAllActive is a shallow-read
// snapshot so the Evaluator's read-once-per-flush pass never blocks on
// registry mutation.
type Registry struct {
	repo Repository

	mu     sync.RWMutex
	active map[string]model.Trigger // keyed by Trigger.ID
}

// NewRegistry builds a Registry over repo.
func NewRegistry(repo Repository) *Registry {
	return &Registry{repo: repo, active: make(map[string]model.Trigger)}
}

// Init loads every active trigger from the backing store.
func (r *Registry) Init(ctx context.Context) error {
	if err := r.repo.Init(ctx); err != nil {
		return err
	}
	triggers, err := r.repo.GetAllActive(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = make(map[string]model.Trigger, len(triggers))
	for _, t := range triggers {
		r.active[t.ID] = t
	}
	return nil
}

// GetAllActive returns a shallow-copied snapshot of every active trigger.
func (r *Registry) GetAllActive() []model.Trigger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Trigger, 0, len(r.active))
	for _, t := range r.active {
		out = append(out, t)
	}
	return out
}

// Save persists spec through the repository and updates the in-memory
// cache accordingly (removing it if the saved trigger is no longer active).
func (r *Registry) Save(ctx context.Context, spec model.Trigger) (model.Trigger, error) {
	saved, err := r.repo.Save(ctx, spec)
	if err != nil {
		return model.Trigger{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if saved.IsActive {
		r.active[saved.ID] = saved
	} else {
		delete(r.active, saved.ID)
	}
	return saved, nil
}

// Remove deletes a trigger through the repository and evicts it from the
// in-memory cache.
func (r *Registry) Remove(ctx context.Context, id, userID string) (bool, error) {
	ok, err := r.repo.Remove(ctx, id, userID)
	if err != nil {
		return false, err
	}
	if ok {
		r.mu.Lock()
		delete(r.active, id)
		r.mu.Unlock()
	}
	return ok, nil
}
