// Package api implements the HTTP REST API and WebSocket server for the
// PetLibro bridge.
//
// This package provides:
//   - REST endpoints listing hosted entities and reading or writing their
//     characteristics
//   - An endpoint that runs a discovery pass on demand
//   - WebSocket hub for real-time characteristic broadcasts
//   - Optional HS256 bearer-token authentication
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Architecture
//
// The API reads the live entity set from the discovery reconciler. Writes
// go straight to the entity's driver, the same path an MQTT set command
// takes, so a feed started here is logged and recorded like any other.
//
// # Security
//
// When security.jwt.secret is set, every route except /health requires
// an "Authorization: Bearer" token signed with that secret. Browsers
// cannot set headers on a WebSocket handshake, so /ws also accepts the
// token as an access_token query parameter. Tokens are minted offline
// with IssueToken (petlibro-bridge -issue-token).
//
// # Graceful Degradation
//
// The server runs without MQTT or InfluxDB; it only needs the reconciler.
package api
