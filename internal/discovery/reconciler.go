package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/petlibro-bridge/internal/device"
	"github.com/nerrad567/petlibro-bridge/internal/driver"
	"github.com/nerrad567/petlibro-bridge/internal/petlibro"
)

// Logger is the logging interface used by the Reconciler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Session is the credential check run before each pass.
type Session interface {
	EnsureValid(ctx context.Context) error
}

// Inventory lists the account's devices.
type Inventory interface {
	ListDevices(ctx context.Context) ([]petlibro.RemoteDevice, error)
}

// DriverFactory builds the driver for an entity. prev is the driver being
// replaced, or nil for a new entity.
type DriverFactory interface {
	New(e *device.Entity, prev driver.Driver) (driver.Driver, error)
}

// Host receives batched entity lifecycle notifications.
type Host interface {
	RegisterEntities(ctx context.Context, entities []*LocalEntity) error
	UpdateEntities(ctx context.Context, entities []*LocalEntity) error
	UnregisterEntities(ctx context.Context, entities []*LocalEntity) error
}

// LocalEntity is an entity with its live driver. It is never modified
// after construction; a pass that updates an entity replaces it.
type LocalEntity struct {
	Entity *device.Entity
	Driver driver.Driver
}

// Result lists the entity IDs a pass touched. Created and Updated follow
// the device list order; Removed is sorted.
type Result struct {
	Created []string `json:"created"`
	Updated []string `json:"updated"`
	Removed []string `json:"removed"`
}

// Config holds the Reconciler's collaborators.
type Config struct {
	Session   Session
	Inventory Inventory
	Factory   DriverFactory
	Host      Host
	Logger    Logger
}

// Reconciler owns the local entity set.
//
// Thread Safety:
//   - Passes, restores and Close are serialized.
//   - Entities and Entity may be called at any time.
type Reconciler struct {
	session   Session
	inventory Inventory
	factory   DriverFactory
	host      Host
	logger    Logger

	passMu sync.Mutex
	closed bool

	mu       sync.RWMutex
	entities map[string]*LocalEntity
}

// NewReconciler creates a Reconciler with an empty entity set.
func NewReconciler(cfg Config) *Reconciler {
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Reconciler{
		session:   cfg.Session,
		inventory: cfg.Inventory,
		factory:   cfg.Factory,
		host:      cfg.Host,
		logger:    logger,
		entities:  make(map[string]*LocalEntity),
	}
}

// Restore adds a cached entity before discovery has run and starts its
// driver, so cached devices stay usable when the first pass fails. The
// host already knows the entity and is not notified.
func (r *Reconciler) Restore(e device.Entity) (*LocalEntity, error) {
	r.passMu.Lock()
	defer r.passMu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}

	r.mu.RLock()
	prev := r.entities[e.ID]
	r.mu.RUnlock()

	local, err := r.bind(&e, prev)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.entities[e.ID] = local
	r.mu.Unlock()
	if prev != nil {
		prev.Driver.Stop()
	}

	r.logger.Debug("restored entity from cache", "entity_id", e.ID, "kind", e.Kind, "name", e.Name)
	return local, nil
}

// Reconcile runs one discovery pass.
//
// Errors from the session or the device list abort the pass before any
// change. Host notification errors are returned after the local set has
// been updated.
func (r *Reconciler) Reconcile(ctx context.Context) (Result, error) {
	r.passMu.Lock()
	defer r.passMu.Unlock()
	if r.closed {
		return Result{}, ErrClosed
	}

	if err := r.session.EnsureValid(ctx); err != nil {
		return Result{}, fmt.Errorf("authenticating: %w", err)
	}
	remotes, err := r.inventory.ListDevices(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("listing devices: %w", err)
	}

	r.mu.RLock()
	known := make(map[string]*LocalEntity, len(r.entities))
	for id, le := range r.entities {
		known[id] = le
	}
	r.mu.RUnlock()

	var (
		res      Result
		seen     = make(map[string]bool, len(remotes))
		next     = make(map[string]*LocalEntity, len(remotes))
		created  []*LocalEntity
		updated  []*LocalEntity
		replaced []driver.Driver
	)

	for _, remote := range remotes {
		if remote.Serial == "" {
			r.logger.Warn("skipping device without serial", "name", remote.DisplayName())
			continue
		}
		kind := device.Classify(remote.ProductName, remote.Serial)
		id := device.IdentityFor(kind, remote.Serial)
		if seen[id] {
			r.logger.Warn("skipping duplicate device in list", "entity_id", id, "serial", remote.Serial)
			continue
		}
		seen[id] = true

		var entity *device.Entity
		prev, exists := known[id]
		if exists {
			entity = prev.Entity.DeepCopy()
			entity.ApplySnapshot(remote)
		} else {
			entity, err = device.NewEntity(remote)
			if err != nil {
				r.logger.Warn("skipping invalid device", "serial", remote.Serial, "error", err)
				continue
			}
		}

		local, err := r.bind(entity, prev)
		if err != nil {
			r.logger.Error("failed to create driver", "entity_id", id, "kind", kind, "error", err)
			if exists {
				next[id] = prev
			}
			continue
		}
		next[id] = local

		if exists {
			replaced = append(replaced, prev.Driver)
			updated = append(updated, local)
			res.Updated = append(res.Updated, id)
			r.logger.Debug("updated entity", "entity_id", id, "name", entity.Name)
		} else {
			created = append(created, local)
			res.Created = append(res.Created, id)
			r.logger.Info("discovered new device",
				"entity_id", id, "kind", kind, "name", entity.Name, "model", remote.Model(), "serial", entity.Serial)
		}
	}

	var removed []*LocalEntity
	for id, le := range known {
		if !seen[id] {
			removed = append(removed, le)
			res.Removed = append(res.Removed, id)
		}
	}
	sort.Strings(res.Removed)
	sort.Slice(removed, func(i, j int) bool { return removed[i].Entity.ID < removed[j].Entity.ID })

	r.mu.Lock()
	r.entities = next
	r.mu.Unlock()

	for _, d := range replaced {
		d.Stop()
	}
	for _, le := range removed {
		le.Driver.Stop()
		r.logger.Info("removing device no longer in account", "entity_id", le.Entity.ID, "name", le.Entity.Name)
	}

	var errs []error
	if len(created) > 0 {
		if err := r.host.RegisterEntities(ctx, created); err != nil {
			errs = append(errs, fmt.Errorf("registering entities: %w", err))
		}
	}
	if len(updated) > 0 {
		if err := r.host.UpdateEntities(ctx, updated); err != nil {
			errs = append(errs, fmt.Errorf("updating entities: %w", err))
		}
	}
	if len(removed) > 0 {
		if err := r.host.UnregisterEntities(ctx, removed); err != nil {
			errs = append(errs, fmt.Errorf("unregistering entities: %w", err))
		}
	}

	return res, errors.Join(errs...)
}

// bind builds and starts the driver for e, carrying state over from prev
// when it is not nil.
func (r *Reconciler) bind(e *device.Entity, prev *LocalEntity) (*LocalEntity, error) {
	var old driver.Driver
	if prev != nil {
		old = prev.Driver
	}
	drv, err := r.factory.New(e, old)
	if err != nil {
		return nil, err
	}
	drv.Start()
	return &LocalEntity{Entity: e, Driver: drv}, nil
}

// Trigger runs a pass and logs the outcome. It never fails; the next
// trigger simply tries again.
func (r *Reconciler) Trigger(ctx context.Context) {
	res, err := r.Reconcile(ctx)

	var authErr *petlibro.AuthError
	switch {
	case err == nil:
		r.logger.Info("discovery complete",
			"created", len(res.Created), "updated", len(res.Updated), "removed", len(res.Removed))
	case errors.Is(err, ErrClosed), errors.Is(err, context.Canceled):
		r.logger.Debug("discovery skipped", "reason", err)
	case errors.Is(err, petlibro.ErrMissingCredentials):
		r.logger.Error("PetLibro email and password are required; discovery skipped")
	case errors.As(err, &authErr):
		r.logger.Error("PetLibro login rejected; discovery skipped", "code", authErr.Code, "message", authErr.Message)
	default:
		r.logger.Error("discovery failed", "error", err)
	}
}

// Run triggers a pass immediately and then every interval until ctx is
// done. A non-positive interval runs exactly one pass.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	r.Trigger(ctx)
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Trigger(ctx)
		}
	}
}

// Entities returns the current entities ordered by name, then ID.
func (r *Reconciler) Entities() []*LocalEntity {
	r.mu.RLock()
	out := make([]*LocalEntity, 0, len(r.entities))
	for _, le := range r.entities {
		out = append(out, le)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Entity.Name != out[j].Entity.Name {
			return out[i].Entity.Name < out[j].Entity.Name
		}
		return out[i].Entity.ID < out[j].Entity.ID
	})
	return out
}

// Entity returns one entity by ID.
func (r *Reconciler) Entity(id string) (*LocalEntity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	le, ok := r.entities[id]
	return le, ok
}

// Close stops every driver. Later passes return ErrClosed. Idempotent.
func (r *Reconciler) Close() {
	r.passMu.Lock()
	defer r.passMu.Unlock()
	if r.closed {
		return
	}
	r.closed = true

	r.mu.Lock()
	entities := r.entities
	r.entities = make(map[string]*LocalEntity)
	r.mu.Unlock()

	for _, le := range entities {
		le.Driver.Stop()
	}
	r.logger.Info("reconciler closed", "drivers_stopped", len(entities))
}
