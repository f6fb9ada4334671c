package device

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/petlibro-bridge/internal/petlibro"
)

// Manufacturer is reported for every entity.
const Manufacturer = "PetLibro"

// UnknownSerial is reported when an entity has no serial.
const UnknownSerial = "Unknown"

// Entity is one locally cached device.
//
// Snapshot is the last vendor record seen for the device and is replaced
// wholesale on every discovery pass.
type Entity struct {
	ID        string                `json:"id"`
	Kind      Kind                  `json:"kind"`
	Serial    string                `json:"serial"`
	Name      string                `json:"name"`
	Snapshot  petlibro.RemoteDevice `json:"snapshot"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// NewEntity builds an entity from a vendor record. The record must carry a
// serial.
func NewEntity(remote petlibro.RemoteDevice) (*Entity, error) {
	if remote.Serial == "" {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEntity, petlibro.ErrNoSerial)
	}
	kind := Classify(remote.ProductName, remote.Serial)
	return &Entity{
		ID:       IdentityFor(kind, remote.Serial),
		Kind:     kind,
		Serial:   remote.Serial,
		Name:     remote.DisplayName(),
		Snapshot: remote,
	}, nil
}

// ApplySnapshot replaces the stored record and the name derived from it.
func (e *Entity) ApplySnapshot(remote petlibro.RemoteDevice) {
	e.Snapshot = remote
	e.Name = remote.DisplayName()
}

// Info is the descriptive metadata a host shows for the entity.
type Info struct {
	Name         string `json:"name"`
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	Serial       string `json:"serial"`
	Firmware     string `json:"firmware"`
}

// Info returns the entity's descriptive metadata. A missing name or model
// falls back to the default for the entity's kind.
func (e *Entity) Info() Info {
	serial := e.Serial
	if serial == "" {
		serial = UnknownSerial
	}
	defaults := kindDefaults[e.Kind]
	name, model := e.Snapshot.Name, e.Snapshot.ProductName
	if name == "" {
		name = defaults.name
	}
	if model == "" {
		model = defaults.model
	}
	return Info{
		Name:         name,
		Manufacturer: Manufacturer,
		Model:        model,
		Serial:       serial,
		Firmware:     e.Snapshot.FirmwareVersion(),
	}
}

// Validate checks the fields the cache relies on.
func (e *Entity) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidEntity)
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrInvalidEntity, ErrInvalidKind, e.Kind)
	}
	if e.Serial == "" {
		return fmt.Errorf("%w: serial is required", ErrInvalidEntity)
	}
	if e.ID != IdentityFor(e.Kind, e.Serial) {
		return fmt.Errorf("%w: id does not match kind and serial", ErrInvalidEntity)
	}
	return nil
}

// DeepCopy returns a copy that shares no memory with e.
func (e *Entity) DeepCopy() *Entity {
	if e == nil {
		return nil
	}
	cp := *e
	if e.Snapshot.Raw != nil {
		cp.Snapshot.Raw = append(json.RawMessage(nil), e.Snapshot.Raw...)
	}
	return &cp
}
