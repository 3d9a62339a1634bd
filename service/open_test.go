package service

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tfkr-ae/mimic/domain"
)

func TestOpen(t *testing.T) {
	for _, backend := range []string{BackendFile, BackendSQLite} {
		t.Run("should persist mappings across reopen with the "+backend+" backend", func(t *testing.T) {
			dir := t.TempDir()

			service, closeFn, err := Open(dir, backend, nil)
			if err != nil {
				t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
			}
			mapping, err := service.CreateOrOverwrite(CreateRequest{Pattern: "https://cdn.example.com/*.js"})
			if err != nil {
				t.Fatalf("CreateOrOverwrite() failed: %v", err)
			}
			if _, err := service.SetContent(mapping.ID, []byte("console.log(1)")); err != nil {
				t.Fatalf("SetContent() failed: %v", err)
			}
			if err := closeFn(); err != nil {
				t.Fatalf("closing: %v", err)
			}

			reopened, closeFn, err := Open(dir, backend, nil)
			if err != nil {
				t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
			}
			defer closeFn()

			got, ok := reopened.FindMatch("https://cdn.example.com/app.js", true)
			if !ok {
				t.Fatalf("\nwanted:\nmatch\ngot:\nnone")
			}
			if got.ID != mapping.ID || string(got.Content) != "console.log(1)" {
				t.Fatalf("\nwanted:\n%v console.log(1)\ngot:\n%v %s", mapping.ID, got.ID, got.Content)
			}
		})
	}

	t.Run("should create the sqlite database in the storage dir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested")
		_, closeFn, err := Open(dir, BackendSQLite, nil)
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}
		defer closeFn()

		if _, err := os.Stat(filepath.Join(dir, SQLiteFile)); err != nil {
			t.Fatalf("\nwanted:\ndatabase file\ngot:\n%v", err)
		}
	})

	t.Run("should reject an unknown backend", func(t *testing.T) {
		_, closeFn, err := Open(t.TempDir(), "redis", nil)
		if err == nil {
			t.Fatalf("\nwanted:\nerror\ngot:\nnil")
		}
		if closeFn == nil {
			t.Fatalf("\nwanted:\nnon nil close function\ngot:\nnil")
		}
	})

	t.Run("should report a corrupt index", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, "index.json"), []byte("{not json"), 0600); err != nil {
			t.Fatalf("writing index: %v", err)
		}

		_, _, err := Open(dir, BackendFile, nil)
		if !errors.Is(err, domain.ErrStorageCorrupt) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", domain.ErrStorageCorrupt, err)
		}
	})
}
