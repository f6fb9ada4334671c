// Package device holds the bridge's entity model: the classifier that turns
// a vendor record into a device kind, the stable entity identity, and the
// SQLite-backed entity cache the host restores from at startup.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────┐
//	│                      Entity Cache                        │
//	│                                                          │
//	│  ┌──────────────────┐        ┌──────────────────┐        │
//	│  │     Registry     │        │    Repository    │        │
//	│  │   (registry.go)  │───────▶│  (repository.go) │        │
//	│  │                  │        │                  │        │
//	│  │ • batch save     │        │ • SQLite queries │        │
//	│  │ • in-memory cache│        │ • transactions   │        │
//	│  └──────────────────┘        └──────────────────┘        │
//	│                                                          │
//	│  Classify (kind.go)          IdentityFor (identity.go)   │
//	└──────────────────────────────────────────────────────────┘
//
// # Identity
//
// An entity's ID is a name-based UUID over its kind and serial, so the same
// physical device keeps its ID across restarts. A device whose kind changes
// gets a new ID; the old entity is removed and a new one created.
//
// # Thread Safety
//
// Registry methods are safe for concurrent use. Returned entities are deep
// copies.
package device
