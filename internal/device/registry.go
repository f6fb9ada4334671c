package device

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the entity cache. It wraps a Repository with an in-memory
// copy that is loaded by RefreshCache and kept in step by Save and Delete.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Entity
	cacheMu sync.RWMutex
	logger  Logger
}

// NewRegistry creates a registry over repo.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Entity),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads every entity from the repository.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	entities, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading entities: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Entity, len(entities))
	for i := range entities {
		r.cache[entities[i].ID] = entities[i].DeepCopy()
	}

	r.logger.Info("entity cache refreshed", "count", len(entities))
	return nil
}

// Get returns a copy of the cached entity.
// Returns ErrEntityNotFound if it is not cached.
func (r *Registry) Get(id string) (*Entity, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	e, ok := r.cache[id]
	if !ok {
		return nil, ErrEntityNotFound
	}
	return e.DeepCopy(), nil
}

// List returns copies of all cached entities ordered by name, then ID.
func (r *Registry) List() []Entity {
	r.cacheMu.RLock()
	entities := make([]Entity, 0, len(r.cache))
	for _, e := range r.cache {
		entities = append(entities, *e.DeepCopy())
	}
	r.cacheMu.RUnlock()

	sort.Slice(entities, func(i, j int) bool {
		if entities[i].Name != entities[j].Name {
			return entities[i].Name < entities[j].Name
		}
		return entities[i].ID < entities[j].ID
	})
	return entities
}

// Save validates and persists entities in one batch, then updates the
// cache. Nothing is cached if any entity is invalid or the write fails.
func (r *Registry) Save(ctx context.Context, entities ...*Entity) error {
	if len(entities) == 0 {
		return nil
	}
	for _, e := range entities {
		if err := e.Validate(); err != nil {
			return err
		}
	}

	if err := r.repo.SaveBatch(ctx, entities); err != nil {
		return err
	}

	r.cacheMu.Lock()
	for _, e := range entities {
		r.cache[e.ID] = e.DeepCopy()
	}
	r.cacheMu.Unlock()

	r.logger.Debug("entities saved", "count", len(entities))
	return nil
}

// Delete removes entities in one batch. Unknown IDs are ignored.
func (r *Registry) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := r.repo.DeleteBatch(ctx, ids); err != nil {
		return err
	}

	r.cacheMu.Lock()
	for _, id := range ids {
		delete(r.cache, id)
	}
	r.cacheMu.Unlock()

	r.logger.Debug("entities deleted", "count", len(ids))
	return nil
}

// Count returns the number of cached entities.
func (r *Registry) Count() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}
