// Package driver binds cached entities to live device behaviour.
//
// Each entity kind has one driver variant, chosen by Factory.New:
//   - feeder: a momentary "on" switch; turning it on dispenses the
//     configured portions once and the switch falls back to off
//   - fountain: a read-only "water_level" percentage refreshed by a
//     background poller
//
// Drivers expose their state as Characteristics, which the host reads,
// writes and observes without knowing the device kind.
//
// # Lifecycle
//
//	drv, err := factory.New(entity, nil)
//	drv.Start()
//	defer drv.Stop()
//
// Stop is idempotent. After it returns a driver makes no further vendor
// calls.
package driver
