package driver

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/petlibro-bridge/internal/device"
)

// Revert delays for the feeder's momentary switch.
const (
	revertAfterSuccess = time.Second
	revertAfterFailure = 100 * time.Millisecond
)

// Feeder drives a food dispenser through a momentary "on" switch.
// Reads always report off. Writing true sends one feed command and the
// switch reverts to off shortly after, whatever the outcome.
type Feeder struct {
	base
	portions int
	on       *Characteristic

	successDelay time.Duration
	failureDelay time.Duration

	mu      sync.Mutex
	revert  *time.Timer
	stopped bool
}

func newFeeder(b base, portions int) *Feeder {
	f := &Feeder{
		base:         b,
		portions:     portions,
		successDelay: revertAfterSuccess,
		failureDelay: revertAfterFailure,
	}
	f.on = NewCharacteristic(
		Descriptor{Name: CharOn, Label: b.name, Format: FormatBool},
		false,
		func(context.Context) (any, error) { return false, nil },
		f.set,
	)
	return f
}

// Kind implements Driver.
func (f *Feeder) Kind() device.Kind { return device.KindFeeder }

// Characteristics implements Driver.
func (f *Feeder) Characteristics() []*Characteristic { return []*Characteristic{f.on} }

// Characteristic implements Driver.
func (f *Feeder) Characteristic(name string) (*Characteristic, bool) {
	if name == CharOn {
		return f.on, true
	}
	return nil, false
}

// Start implements Driver. A feeder has no background work.
func (f *Feeder) Start() {}

// Stop cancels a pending revert and forces the switch off.
func (f *Feeder) Stop() {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.stopped = true
	if f.revert != nil {
		f.revert.Stop()
		f.revert = nil
	}
	f.mu.Unlock()

	f.on.UpdateValue(false)
}

// set handles a host write. Feed failures are logged, never returned.
func (f *Feeder) set(ctx context.Context, value any) error {
	on, ok := value.(bool)
	if !ok {
		return ErrInvalidValue
	}
	if !on {
		return nil
	}

	f.mu.Lock()
	stopped := f.stopped
	f.mu.Unlock()
	if stopped {
		f.logger.Debug("ignoring feed on stopped driver", "entity_id", f.id)
		return nil
	}

	f.on.UpdateValue(true)

	err := f.vendor.ManualFeed(ctx, f.serial, f.portions)
	delay := f.successDelay
	if err != nil {
		delay = f.failureDelay
		f.logger.Error("manual feed failed", "entity_id", f.id, "serial", f.serial, "error", err)
	} else {
		f.logger.Info("manual feed triggered", "entity_id", f.id, "portions", f.portions)
	}
	if f.metrics != nil {
		f.metrics.WriteFeedEvent(f.tags, f.portions, err == nil)
	}

	f.scheduleRevert(delay)
	return nil
}

func (f *Feeder) scheduleRevert(delay time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stopped {
		return
	}
	if f.revert != nil {
		f.revert.Stop()
	}
	f.revert = time.AfterFunc(delay, func() {
		f.on.UpdateValue(false)
	})
}
