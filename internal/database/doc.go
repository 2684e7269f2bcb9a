// Package database provides the PostgreSQL (or TimescaleDB) connection pool
// used by the postgres checkpoint backend.
//
// The replayer only keeps a small checkpoint table in the database; the
// replayed points themselves go to the ingestion endpoint.
package database
