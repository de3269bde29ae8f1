// Package db provides the SQLite persistence layer for notebridge.
// It stores forwarded exchanges, backend runs and logs, and implements the
// repository interfaces defined in the domain package.
//
// This package is responsible for:
// - Opening the database and applying the embedded goose migrations (`db.go`).
// - Mapping domain structs to table rows, using `sql.Null*` types for optional columns.
// - Providing the JSON backed Metadata column type (`types.go`).
package db
