// Package db provides the SQLite storage backend for the mimic proxy.
// It implements domain.BlobRepository over a single "blob" table so that the
// mapping index and the content artifacts can live in one database file instead
// of a directory of files.
//
// This package is responsible for:
// - Establishing the database connection and applying migrations (`db.go`, `migrations/`).
// - Reading, writing and deleting named blobs (`blob_repo.go`).
package db
