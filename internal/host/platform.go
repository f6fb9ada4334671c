package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/petlibro-bridge/internal/device"
	"github.com/nerrad567/petlibro-bridge/internal/discovery"
	"github.com/nerrad567/petlibro-bridge/internal/driver"
	"github.com/nerrad567/petlibro-bridge/internal/infrastructure/mqtt"
)

// WebSocket event channels.
const (
	EventRegistered   = "entity.registered"
	EventRemoved      = "entity.removed"
	EventStateChanged = "entity.state_changed"
)

// ErrClosed is returned for commands received after Close.
var ErrClosed = errors.New("host: platform closed")

// setTimeout bounds a characteristic write received over MQTT. It covers
// a feed request plus a possible re-login.
const setTimeout = 30 * time.Second

// Logger is the logging interface used by the Platform.
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

// Store persists entities. *device.Registry implements it.
type Store interface {
	Save(ctx context.Context, entities ...*device.Entity) error
	Delete(ctx context.Context, ids ...string) error
	List() []device.Entity
}

// Publisher is the MQTT surface the Platform uses. *mqtt.Client implements it.
type Publisher interface {
	PublishJSON(topic string, v any) error
	ClearRetained(topic string) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Broadcaster pushes events to WebSocket clients. *api.Hub implements it.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// Restorer recreates a cached entity's driver. *discovery.Reconciler
// implements it.
type Restorer interface {
	Restore(e device.Entity) (*discovery.LocalEntity, error)
}

// Config holds the Platform's collaborators. MQTT and WebSocket are optional.
type Config struct {
	Store     Store
	MQTT      Publisher
	WebSocket Broadcaster
	QoS       byte
	Logger    Logger
}

// Descriptor is the retained entity config payload.
type Descriptor struct {
	ID              string              `json:"id"`
	Name            string              `json:"name"`
	Kind            device.Kind         `json:"kind"`
	Info            device.Info         `json:"info"`
	Characteristics []driver.Descriptor `json:"characteristics"`
}

// StateEvent is published whenever a characteristic value changes.
type StateEvent struct {
	EntityID       string `json:"entity_id"`
	Characteristic string `json:"characteristic"`
	Value          any    `json:"value"`
}

// binding is a hosted entity and its observer cancel functions.
type binding struct {
	local   *discovery.LocalEntity
	cancels []func()
}

func (b *binding) release() {
	for _, cancel := range b.cancels {
		cancel()
	}
	b.cancels = nil
}

// Platform hosts entities for consumers.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Characteristic writes from MQTT run on their own goroutines; Close
//     cancels and waits for them.
type Platform struct {
	store  Store
	mqtt   Publisher
	ws     Broadcaster
	qos    byte
	logger Logger
	topics mqtt.Topics

	mu       sync.RWMutex
	bindings map[string]*binding
	// unpersisted holds IDs whose cache deletion failed. They are retried
	// on every later batch.
	unpersisted map[string]struct{}

	ctx      context.Context
	cancel   context.CancelFunc
	commands sync.WaitGroup
}

// New creates a Platform.
func New(cfg Config) *Platform {
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Platform{
		store:       cfg.Store,
		mqtt:        cfg.MQTT,
		ws:          cfg.WebSocket,
		qos:         cfg.QoS,
		logger:      logger,
		bindings:    make(map[string]*binding),
		unpersisted: make(map[string]struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start subscribes to characteristic writes. Without MQTT it does nothing.
func (p *Platform) Start() error {
	if p.mqtt == nil {
		return nil
	}
	if err := p.mqtt.Subscribe(p.topics.AllEntitySets(), p.qos, p.handleSet); err != nil {
		return fmt.Errorf("subscribing to entity commands: %w", err)
	}
	return nil
}

// Restore hands every cached entity to r and hosts the result. An entity
// that cannot be restored is logged and skipped. It returns how many were
// restored.
func (p *Platform) Restore(ctx context.Context, r Restorer) int {
	cached := p.store.List()
	restored := 0
	for _, e := range cached {
		if ctx.Err() != nil {
			break
		}
		local, err := r.Restore(e)
		if err != nil {
			p.logger.Warn("failed to restore cached entity", "entity_id", e.ID, "error", err)
			continue
		}
		p.host(local)
		restored++
	}
	p.logger.Info("restored cached entities", "count", restored, "cached", len(cached))
	return restored
}

// RegisterEntities persists and exposes newly discovered entities.
func (p *Platform) RegisterEntities(ctx context.Context, entities []*discovery.LocalEntity) error {
	p.keep(entities)
	if err := p.store.Save(ctx, entitiesOf(entities)...); err != nil {
		return fmt.Errorf("persisting entities: %w", err)
	}
	for _, le := range entities {
		p.host(le)
		p.broadcast(EventRegistered, p.descriptor(le))
	}
	return p.deleteUnpersisted(ctx)
}

// UpdateEntities persists new snapshots and rebinds to the new drivers.
func (p *Platform) UpdateEntities(ctx context.Context, entities []*discovery.LocalEntity) error {
	p.keep(entities)
	if err := p.store.Save(ctx, entitiesOf(entities)...); err != nil {
		return fmt.Errorf("persisting entities: %w", err)
	}
	for _, le := range entities {
		p.host(le)
	}
	return p.deleteUnpersisted(ctx)
}

// UnregisterEntities withdraws entities and deletes them from the cache.
// Entities are always withdrawn; a failed deletion is returned and retried
// with the next batch.
func (p *Platform) UnregisterEntities(ctx context.Context, entities []*discovery.LocalEntity) error {
	for _, le := range entities {
		id := le.Entity.ID
		p.mu.Lock()
		b := p.bindings[id]
		delete(p.bindings, id)
		p.unpersisted[id] = struct{}{}
		p.mu.Unlock()
		if b != nil {
			b.release()
		}

		p.withdraw(le)
		p.broadcast(EventRemoved, map[string]string{"id": id})
	}
	return p.deleteUnpersisted(ctx)
}

// keep drops entities that are hosted again from the pending deletions.
func (p *Platform) keep(entities []*discovery.LocalEntity) {
	p.mu.Lock()
	for _, le := range entities {
		delete(p.unpersisted, le.Entity.ID)
	}
	p.mu.Unlock()
}

// deleteUnpersisted removes withdrawn entities from the cache.
func (p *Platform) deleteUnpersisted(ctx context.Context) error {
	p.mu.RLock()
	ids := slices.Sorted(maps.Keys(p.unpersisted))
	p.mu.RUnlock()
	if len(ids) == 0 {
		return nil
	}

	if err := p.store.Delete(ctx, ids...); err != nil {
		p.logger.Warn("failed to delete withdrawn entities; will retry", "count", len(ids), "error", err)
		return fmt.Errorf("deleting entities: %w", err)
	}

	p.mu.Lock()
	for _, id := range ids {
		delete(p.unpersisted, id)
	}
	p.mu.Unlock()
	return nil
}

// Republish sends every hosted entity's descriptor and values again. It is
// wired to the MQTT reconnect callback.
func (p *Platform) Republish() {
	p.mu.RLock()
	locals := make([]*discovery.LocalEntity, 0, len(p.bindings))
	for _, b := range p.bindings {
		locals = append(locals, b.local)
	}
	p.mu.RUnlock()

	for _, le := range locals {
		p.publishEntity(le)
	}
}

// Close releases observers and the command subscription, then cancels and
// waits for in-flight commands. Retained topics stay in place; the bridge
// status LWT marks them stale.
func (p *Platform) Close() {
	p.mu.Lock()
	bindings := p.bindings
	p.bindings = make(map[string]*binding)
	p.cancel()
	p.mu.Unlock()

	for _, b := range bindings {
		b.release()
	}
	if p.mqtt != nil {
		if err := p.mqtt.Unsubscribe(p.topics.AllEntitySets()); err != nil && !errors.Is(err, mqtt.ErrNotConnected) {
			p.logger.Warn("failed to unsubscribe from entity commands", "error", err)
		}
	}
	p.commands.Wait()
}

// Count returns the number of hosted entities.
func (p *Platform) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.bindings)
}

// host binds observers to le's characteristics, replacing any previous
// binding for the same ID, and publishes the entity.
func (p *Platform) host(le *discovery.LocalEntity) {
	b := &binding{local: le}
	id := le.Entity.ID
	for _, c := range le.Driver.Characteristics() {
		name := c.Name()
		b.cancels = append(b.cancels, c.Observe(func(v any) {
			p.onStateChange(id, name, v)
		}))
	}

	p.mu.Lock()
	prev := p.bindings[id]
	p.bindings[id] = b
	p.mu.Unlock()
	if prev != nil {
		prev.release()
	}

	p.publishEntity(le)
}

func (p *Platform) onStateChange(id, characteristic string, v any) {
	if p.mqtt != nil {
		if err := p.mqtt.PublishJSON(p.topics.EntityState(id, characteristic), v); err != nil {
			p.logger.Debug("failed to publish state", "entity_id", id, "characteristic", characteristic, "error", err)
		}
	}
	p.broadcast(EventStateChanged, StateEvent{EntityID: id, Characteristic: characteristic, Value: v})
}

func (p *Platform) publishEntity(le *discovery.LocalEntity) {
	if p.mqtt == nil {
		return
	}
	id := le.Entity.ID
	if err := p.mqtt.PublishJSON(p.topics.EntityConfig(id), p.descriptor(le)); err != nil {
		p.logger.Warn("failed to publish entity config", "entity_id", id, "error", err)
		return
	}
	for _, c := range le.Driver.Characteristics() {
		if err := p.mqtt.PublishJSON(p.topics.EntityState(id, c.Name()), c.Value()); err != nil {
			p.logger.Warn("failed to publish entity state", "entity_id", id, "characteristic", c.Name(), "error", err)
		}
	}
}

func (p *Platform) withdraw(le *discovery.LocalEntity) {
	if p.mqtt == nil {
		return
	}
	id := le.Entity.ID
	topics := []string{p.topics.EntityConfig(id)}
	for _, c := range le.Driver.Characteristics() {
		topics = append(topics, p.topics.EntityState(id, c.Name()))
	}
	for _, t := range topics {
		if err := p.mqtt.ClearRetained(t); err != nil {
			p.logger.Warn("failed to clear retained topic", "topic", t, "error", err)
		}
	}
}

func (p *Platform) broadcast(channel string, payload any) {
	if p.ws != nil {
		p.ws.Broadcast(channel, payload)
	}
}

func (p *Platform) descriptor(le *discovery.LocalEntity) Descriptor {
	chars := le.Driver.Characteristics()
	descs := make([]driver.Descriptor, len(chars))
	for i, c := range chars {
		descs[i] = c.Descriptor()
	}
	return Descriptor{
		ID:              le.Entity.ID,
		Name:            le.Entity.Name,
		Kind:            le.Entity.Kind,
		Info:            le.Entity.Info(),
		Characteristics: descs,
	}
}

// handleSet validates a write received on an entity's set topic and applies
// it in the background. A feed can take as long as a re-login plus the feed
// request, and paho delivers messages one at a time.
func (p *Platform) handleSet(topic string, payload []byte) error {
	id, name, ok := p.topics.ParseEntitySet(topic)
	if !ok {
		return fmt.Errorf("unexpected command topic %q", topic)
	}

	p.mu.RLock()
	b := p.bindings[id]
	p.mu.RUnlock()
	if b == nil {
		return fmt.Errorf("command for unknown entity %s", id)
	}
	c, ok := b.local.Driver.Characteristic(name)
	if !ok {
		return fmt.Errorf("entity %s has no characteristic %q", id, name)
	}

	value, err := DecodeValue(c.Descriptor().Format, payload)
	if err != nil {
		return fmt.Errorf("decoding %s/%s command: %w", id, name, err)
	}

	p.mu.RLock()
	if p.ctx.Err() != nil {
		p.mu.RUnlock()
		return fmt.Errorf("dropping %s/%s command: %w", id, name, ErrClosed)
	}
	p.commands.Add(1)
	p.mu.RUnlock()

	go func() {
		defer p.commands.Done()
		ctx, cancel := context.WithTimeout(p.ctx, setTimeout)
		defer cancel()
		if err := c.Set(ctx, value); err != nil {
			p.logger.Error("failed to apply command", "entity_id", id, "characteristic", name, "error", err)
			return
		}
		p.logger.Debug("applied command", "entity_id", id, "characteristic", name)
	}()
	return nil
}

// DecodeValue parses a command payload for a characteristic format.
// Booleans also accept ON/OFF and 1/0.
func DecodeValue(format driver.Format, payload []byte) (any, error) {
	text := strings.TrimSpace(string(payload))
	switch format {
	case driver.FormatBool:
		switch strings.ToLower(text) {
		case "true", "on", "1", `"on"`, `"true"`:
			return true, nil
		case "false", "off", "0", `"off"`, `"false"`:
			return false, nil
		}
		return nil, fmt.Errorf("%w: %q is not a boolean", driver.ErrInvalidValue, text)
	case driver.FormatFloat:
		var f float64
		if err := json.Unmarshal([]byte(text), &f); err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", driver.ErrInvalidValue, text)
		}
		return f, nil
	default:
		var v any
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			return nil, fmt.Errorf("%w: %w", driver.ErrInvalidValue, err)
		}
		return v, nil
	}
}

// entitiesOf returns copies; the store stamps timestamps on what it saves
// and hosted entities are shared with readers.
func entitiesOf(locals []*discovery.LocalEntity) []*device.Entity {
	out := make([]*device.Entity, len(locals))
	for i, le := range locals {
		out[i] = le.Entity.DeepCopy()
	}
	return out
}
