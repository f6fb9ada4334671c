// Package discovery reconciles the PetLibro account's device list with the
// bridge's local entity set.
//
// A pass lists the account's devices and diffs them against the entities it
// already knows. New devices are created and registered with the host in
// one batch. Known devices get the new snapshot and a fresh driver. Devices
// that disappeared are stopped and unregistered in one batch. A pass that
// cannot authenticate or list devices changes nothing, so a transient
// outage never removes entities.
//
// Running a pass twice against an unchanged account creates and removes
// nothing.
package discovery
