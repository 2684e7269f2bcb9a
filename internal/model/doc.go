// Package model defines the data types shared by the replay pipeline.
//
// Records flow through three stages:
//   - HistoricalRecord: one parsed dataset row, immutable after load
//   - EmissionEvent: a record paired with its rebased emit time and delivery status
//   - Fields: derived values (indicators) attached to an event before delivery
//
// Timestamps are time.Time in UTC. Prices and volumes are decimal.Decimal.
package model
