package service

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tfkr-ae/mimic/db"
	"github.com/tfkr-ae/mimic/domain"
	"github.com/tfkr-ae/mimic/filestore"
	"github.com/tfkr-ae/mimic/store"
)

// Storage backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// SQLiteFile is the database file name of the sqlite backend inside the storage dir.
const SQLiteFile = "mimic.db"

// Open builds a MappingService over the named backend in dir and loads the persisted
// mappings. A corrupt index surfaces as domain.ErrStorageCorrupt. The returned close
// function releases the backend and is never nil. options are applied after WithLogger.
func Open(dir, backend string, logger *slog.Logger, options ...func(*MappingService) error) (*MappingService, func() error, error) {
	noop := func() error { return nil }
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var (
		blobs   domain.BlobRepository
		closeFn = noop
	)
	switch backend {
	case BackendFile, "":
		dirBlobs, err := filestore.New(dir)
		if err != nil {
			return nil, noop, fmt.Errorf("opening file storage : %w", err)
		}
		blobs = dirBlobs
	case BackendSQLite:
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, noop, fmt.Errorf("creating storage dir : %w", err)
		}
		repo, err := db.Open(filepath.Join(dir, SQLiteFile))
		if err != nil {
			return nil, noop, fmt.Errorf("opening sqlite storage : %w", err)
		}
		blobs = repo
		closeFn = repo.Close
	default:
		return nil, noop, fmt.Errorf("unknown storage backend %q", backend)
	}

	mappings, err := store.New(blobs, store.WithLogger(logger))
	if err != nil {
		closeFn()
		return nil, noop, err
	}
	if err := mappings.Load(); err != nil {
		closeFn()
		return nil, noop, err
	}

	service, err := New(mappings, append([]func(*MappingService) error{WithLogger(logger)}, options...)...)
	if err != nil {
		closeFn()
		return nil, noop, err
	}
	logger.Info("mappings loaded", "backend", backend, "dir", dir, "count", mappings.Len())
	return service, closeFn, nil
}
