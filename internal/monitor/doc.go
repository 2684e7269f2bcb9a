// Package monitor serves the replay's live status over HTTP.
//
// Endpoints:
//   - GET /health: liveness and current run id
//   - GET /stats: the scheduler's running Summary
//   - GET /version: build information
//   - GET /ws: websocket stream of terminal emission events
//
// The scheduler hands events to the Server through Observe, which only pushes
// onto an in-memory queue. A hub goroutine drains the queue and fans events out
// to websocket clients, dropping clients that cannot keep up.
package monitor
