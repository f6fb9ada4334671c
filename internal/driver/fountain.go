package driver

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/petlibro-bridge/internal/device"
	"github.com/nerrad567/petlibro-bridge/internal/infrastructure/influxdb"
)

// Water level bounds, in percent.
const (
	minWaterLevel = 0.0
	maxWaterLevel = 100.0
)

// FountainState is the fountain's last known reading.
type FountainState struct {
	WaterLevel float64
	UpdatedAt  time.Time
}

// Fountain drives a water fountain. Its read-only water_level is refreshed
// by one background poller that fetches on Start and then every interval.
type Fountain struct {
	base
	interval time.Duration
	level    *Characteristic

	mu    sync.RWMutex
	state FountainState

	startOnce sync.Once
	stopOnce  sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func newFountain(b base, interval time.Duration) *Fountain {
	ctx, cancel := context.WithCancel(context.Background())
	f := &Fountain{
		base:     b,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
	lo, hi := minWaterLevel, maxWaterLevel
	f.level = NewCharacteristic(
		Descriptor{Name: CharWaterLevel, Label: b.name + " Water Level", Format: FormatFloat, Unit: "%", Min: &lo, Max: &hi},
		0.0,
		nil,
		nil,
	)
	return f
}

// Kind implements Driver.
func (f *Fountain) Kind() device.Kind { return device.KindFountain }

// Characteristics implements Driver.
func (f *Fountain) Characteristics() []*Characteristic { return []*Characteristic{f.level} }

// Characteristic implements Driver.
func (f *Fountain) Characteristic(name string) (*Characteristic, bool) {
	if name == CharWaterLevel {
		return f.level, true
	}
	return nil, false
}

// State returns the last reading.
func (f *Fountain) State() FountainState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

// seed installs a previous reading before Start. A zero state is ignored.
func (f *Fountain) seed(st FountainState) {
	if st.UpdatedAt.IsZero() {
		return
	}
	f.mu.Lock()
	f.state = st
	f.mu.Unlock()
	f.level.UpdateValue(st.WaterLevel)
}

// Start launches the poller. Later calls, and calls after Stop, do nothing.
func (f *Fountain) Start() {
	f.startOnce.Do(func() {
		if f.ctx.Err() != nil {
			return
		}
		f.wg.Add(1)
		go f.poll()
	})
}

// Stop cancels any in-flight fetch and waits for the poller to exit.
func (f *Fountain) Stop() {
	f.stopOnce.Do(func() {
		f.cancel()
		f.wg.Wait()
	})
}

func (f *Fountain) poll() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	f.refresh()
	for {
		select {
		case <-f.ctx.Done():
			return
		case <-ticker.C:
			f.refresh()
		}
	}
}

// refresh fetches telemetry once. Missing or non-numeric data leaves the
// last reading in place.
func (f *Fountain) refresh() {
	if f.ctx.Err() != nil {
		return
	}
	tel, ok := f.vendor.FetchTelemetry(f.ctx, f.serial)
	if !ok || f.ctx.Err() != nil {
		return
	}
	raw, ok := tel.WaterLevel()
	if !ok {
		f.logger.Debug("telemetry has no numeric water level", "entity_id", f.id)
		return
	}

	level := clampLevel(raw)
	f.mu.Lock()
	f.state = FountainState{WaterLevel: level, UpdatedAt: time.Now()}
	f.mu.Unlock()

	f.level.UpdateValue(level)
	if f.metrics != nil {
		f.metrics.WriteDeviceMetric(f.tags, influxdb.MeasurementWaterLevel, level)
	}
	f.logger.Debug("water level updated", "entity_id", f.id, "level", level)
}

func clampLevel(v float64) float64 {
	return min(max(v, minWaterLevel), maxWaterLevel)
}
