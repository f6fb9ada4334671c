// Package host is the runtime that hosts the bridge's entities.
//
// The Platform receives batched entity lifecycle calls from the discovery
// reconciler and makes each entity visible to consumers:
//   - persisted in the SQLite entity cache, so the next start can restore it
//   - published over MQTT as a retained descriptor plus one retained topic
//     per characteristic, with writes accepted on .../set topics
//   - pushed to WebSocket clients as entity events
//
// MQTT and WebSocket exposure are optional; persistence is not.
package host
