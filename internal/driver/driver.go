package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/petlibro-bridge/internal/device"
	"github.com/nerrad567/petlibro-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/petlibro-bridge/internal/petlibro"
)

// Characteristic names.
const (
	CharOn         = "on"
	CharWaterLevel = "water_level"
)

// Defaults applied by Factory.
const (
	DefaultPortions     = 1
	DefaultPollInterval = 300 * time.Second
)

// Driver is the live behaviour behind one entity.
type Driver interface {
	// Kind returns the device kind this driver serves.
	Kind() device.Kind

	// Characteristics returns the exposed characteristics in a fixed order.
	Characteristics() []*Characteristic

	// Characteristic looks up one characteristic by name.
	Characteristic(name string) (*Characteristic, bool)

	// Start begins background work, if the driver has any.
	Start()

	// Stop ends background work and waits for it. Idempotent.
	Stop()
}

// Logger is the logging interface used by drivers.
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

// Vendor is the subset of the PetLibro client drivers call.
type Vendor interface {
	ManualFeed(ctx context.Context, serial string, portions int) error
	FetchTelemetry(ctx context.Context, serial string) (petlibro.Telemetry, bool)
}

// MetricWriter records device history. *influxdb.Client implements it.
type MetricWriter interface {
	WriteDeviceMetric(device influxdb.DeviceTags, measurement string, value float64)
	WriteFeedEvent(device influxdb.DeviceTags, portions int, accepted bool)
}

// Factory creates drivers. It is the only place that dispatches on kind.
type Factory struct {
	Vendor       Vendor
	Portions     int
	PollInterval time.Duration

	// Metrics is optional.
	Metrics MetricWriter
	Logger  Logger
}

// New creates an unstarted driver for e. The driver keeps its own copy of
// the fields it needs, so e may be modified afterwards.
//
// prev is the driver being replaced, or nil. A fountain replacing a
// fountain starts from its last reading instead of an empty level.
func (f *Factory) New(e *device.Entity, prev Driver) (Driver, error) {
	logger := f.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	b := base{
		id:      e.ID,
		name:    e.Info().Name,
		serial:  e.Serial,
		tags:    influxdb.DeviceTags{EntityID: e.ID, Kind: string(e.Kind), Serial: e.Serial},
		vendor:  f.Vendor,
		metrics: f.Metrics,
		logger:  logger,
	}

	switch e.Kind {
	case device.KindFeeder:
		portions := f.Portions
		if portions < 1 {
			portions = DefaultPortions
		}
		return newFeeder(b, portions), nil
	case device.KindFountain:
		interval := f.PollInterval
		if interval <= 0 {
			interval = DefaultPollInterval
		}
		fountain := newFountain(b, interval)
		if old, ok := prev.(*Fountain); ok {
			fountain.seed(old.State())
		}
		return fountain, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
}

// base holds what every variant shares.
type base struct {
	id      string
	name    string
	serial  string
	tags    influxdb.DeviceTags
	vendor  Vendor
	metrics MetricWriter
	logger  Logger
}
