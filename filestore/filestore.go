// Package filestore implements domain.BlobRepository on top of a single directory.
// Each blob is one file named after the blob, written through a temporary file and
// renamed into place so that readers never observe a partial index.
package filestore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/tfkr-ae/mimic/domain"
)

var _ domain.BlobRepository = (*Dir)(nil)

// ErrInvalidName is returned for blob names that would escape the directory.
var ErrInvalidName = errors.New("invalid blob name")

// Dir is a directory-scoped blob repository.
type Dir struct {
	path string
}

// New ensures the directory exists and returns a repository rooted at it.
func New(dir string) (*Dir, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving storage dir %s : %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0700); err != nil {
		return nil, fmt.Errorf("creating storage dir %s : %w", abs, err)
	}
	return &Dir{path: abs}, nil
}

// Path returns the absolute directory path.
func (d *Dir) Path() string {
	return d.path
}

func (d *Dir) blobPath(name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w : %q", ErrInvalidName, name)
	}
	return filepath.Join(d.path, name), nil
}

// ReadBlob reads the named file.
func (d *Dir) ReadBlob(name string) ([]byte, error) {
	path, err := d.blobPath(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w : %s", domain.ErrBlobNotFound, name)
		}
		return nil, fmt.Errorf("reading %s : %w", path, err)
	}
	return data, nil
}

// WriteBlob writes data to a temporary file in the same directory and renames it over the named file.
func (d *Dir) WriteBlob(name string, data []byte) error {
	path, err := d.blobPath(name)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(d.path, "."+name+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file for %s : %w", name, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %s : %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing %s : %w", name, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming %s into place : %w", name, err)
	}
	return nil
}

// DeleteBlob removes the named file.
func (d *Dir) DeleteBlob(name string) error {
	path, err := d.blobPath(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w : %s", domain.ErrBlobNotFound, name)
		}
		return fmt.Errorf("removing %s : %w", path, err)
	}
	return nil
}
