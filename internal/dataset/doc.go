// Package dataset loads the historical price CSV into HistoricalRecords.
//
// Columns are described by an explicit Schema: a required timestamp column, a
// required price column, optional OHLCV columns and optional extra numeric
// columns. Rows that fail to parse are skipped and counted; when the skip
// ratio exceeds the configured threshold the read fails with
// *DatasetCorruptError.
//
// A Source is restartable: every Open starts a new pass over the file, which is
// how loop mode replays the dataset indefinitely.
package dataset
