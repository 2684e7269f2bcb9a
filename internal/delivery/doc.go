// Package delivery sends emission events to a line-protocol HTTP write endpoint
// such as Telegraf's http_listener_v2 (/write) or InfluxDB (/api/v2/write).
//
// Each event is one point: measurement, sorted tag set, field set and the
// rebased emit timestamp in nanoseconds. Delivery is at-most-once and
// best-effort:
//   - 2xx: sent
//   - 4xx other than 408/429, or an unencodable point: dropped, never retried
//   - network errors, timeouts, 5xx, 408, 429: retried with exponential backoff,
//     failed once attempts are exhausted
package delivery
