package driver

import (
	"context"
	"slices"
	"sync"
)

// Format is the value type a characteristic carries.
type Format string

const (
	FormatBool  Format = "bool"
	FormatFloat Format = "float"
)

// ReadFunc produces the current value on demand.
type ReadFunc func(ctx context.Context) (any, error)

// WriteFunc handles a write from the host.
type WriteFunc func(ctx context.Context, value any) error

// Descriptor describes a characteristic to a host.
type Descriptor struct {
	Name     string   `json:"name"`
	Label    string   `json:"label,omitempty"`
	Format   Format   `json:"format"`
	Unit     string   `json:"unit,omitempty"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	Writable bool     `json:"writable"`
}

// Characteristic is one readable, optionally writable, observable value
// of a device.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Observers are called outside the lock, in registration order.
type Characteristic struct {
	desc    Descriptor
	onRead  ReadFunc
	onWrite WriteFunc

	mu        sync.RWMutex
	value     any
	observers map[int]func(any)
	nextID    int
}

// NewCharacteristic creates a characteristic with an initial value.
// A nil onWrite makes it read-only; a nil onRead serves the cached value.
func NewCharacteristic(desc Descriptor, initial any, onRead ReadFunc, onWrite WriteFunc) *Characteristic {
	desc.Writable = onWrite != nil
	return &Characteristic{
		desc:      desc,
		onRead:    onRead,
		onWrite:   onWrite,
		value:     initial,
		observers: make(map[int]func(any)),
	}
}

// Name returns the characteristic name.
func (c *Characteristic) Name() string { return c.desc.Name }

// Descriptor returns the characteristic's metadata.
func (c *Characteristic) Descriptor() Descriptor { return c.desc }

// Get returns the current value through the read handler, if any.
func (c *Characteristic) Get(ctx context.Context) (any, error) {
	if c.onRead != nil {
		return c.onRead(ctx)
	}
	return c.Value(), nil
}

// Set passes a host write to the write handler.
func (c *Characteristic) Set(ctx context.Context, value any) error {
	if c.onWrite == nil {
		return ErrReadOnly
	}
	return c.onWrite(ctx, value)
}

// Value returns the cached value.
func (c *Characteristic) Value() any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// UpdateValue stores v and notifies observers.
func (c *Characteristic) UpdateValue(v any) {
	c.mu.Lock()
	c.value = v
	ids := make([]int, 0, len(c.observers))
	for id := range c.observers {
		ids = append(ids, id)
	}
	fns := make([]func(any), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, c.observers[id])
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Observe registers fn to be called with every pushed value. The returned
// function removes it.
func (c *Characteristic) Observe(fn func(any)) (cancel func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.observers[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.observers, id)
			c.mu.Unlock()
		})
	}
}
