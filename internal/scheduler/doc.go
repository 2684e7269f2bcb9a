// Package scheduler paces a dataset replay against the wall clock.
//
// A Scheduler runs on a single goroutine and keeps exactly one record in
// flight. For each record it computes the emit time from the simulation clock,
// applies the fall-behind policy when the record is already too late, waits
// until the emit time (never earlier), delivers synchronously and records the
// terminal status before moving on.
//
// In loop mode the source is reopened at end of file and the clock is rebased
// so the first record of the new pass is due immediately.
package scheduler
