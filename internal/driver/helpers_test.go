package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/nerrad567/petlibro-bridge/internal/device"
	"github.com/nerrad567/petlibro-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/petlibro-bridge/internal/petlibro"
)

// fakeVendor records feed calls and serves scripted telemetry.
type fakeVendor struct {
	mu        sync.Mutex
	feeds     []feedCall
	feedErr   error
	telemetry []string // realInfo data objects served in order; "" means unavailable
	fetches   int
	fetched   chan struct{}
}

type feedCall struct {
	serial   string
	portions int
}

func newFakeVendor(telemetry ...string) *fakeVendor {
	return &fakeVendor{telemetry: telemetry, fetched: make(chan struct{}, 64)}
}

func (v *fakeVendor) ManualFeed(_ context.Context, serial string, portions int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.feeds = append(v.feeds, feedCall{serial: serial, portions: portions})
	return v.feedErr
}

func (v *fakeVendor) FetchTelemetry(_ context.Context, _ string) (petlibro.Telemetry, bool) {
	v.mu.Lock()
	var data string
	if v.fetches < len(v.telemetry) {
		data = v.telemetry[v.fetches]
	}
	v.fetches++
	v.mu.Unlock()
	defer func() {
		select {
		case v.fetched <- struct{}{}:
		default:
		}
	}()

	if data == "" {
		return petlibro.Telemetry{}, false
	}
	var tel petlibro.Telemetry
	if err := json.Unmarshal([]byte(data), &tel); err != nil {
		panic(fmt.Sprintf("bad test telemetry %q: %v", data, err))
	}
	return tel, true
}

func (v *fakeVendor) feedCalls() []feedCall {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]feedCall(nil), v.feeds...)
}

func (v *fakeVendor) fetchCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.fetches
}

// fakeMetrics records metric writes.
type fakeMetrics struct {
	mu     sync.Mutex
	levels []float64
	feeds  []bool
}

func (m *fakeMetrics) WriteDeviceMetric(_ influxdb.DeviceTags, measurement string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if measurement == influxdb.MeasurementWaterLevel {
		m.levels = append(m.levels, value)
	}
}

func (m *fakeMetrics) WriteFeedEvent(_ influxdb.DeviceTags, _ int, accepted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feeds = append(m.feeds, accepted)
}

func testEntity(t *testing.T, kind device.Kind, serial string) *device.Entity {
	t.Helper()
	return &device.Entity{
		ID:     device.IdentityFor(kind, serial),
		Kind:   kind,
		Serial: serial,
		Name:   "Test",
	}
}
