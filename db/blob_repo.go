package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/tfkr-ae/mimic/domain"
)

var _ domain.BlobRepository = (*Repository)(nil)

// ReadBlob retrieves the data of the named blob.
func (repo *Repository) ReadBlob(name string) ([]byte, error) {
	var data []byte
	query := `SELECT data FROM blob WHERE name = ?`

	err := repo.dbConn.Get(&data, query, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w : %s", domain.ErrBlobNotFound, name)
		}
		return nil, fmt.Errorf("reading blob %s : %w", name, err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// WriteBlob creates the named blob or replaces its data.
func (repo *Repository) WriteBlob(name string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	query := `INSERT INTO blob(name, data, updated_at)
		      VALUES (?, ?, CURRENT_TIMESTAMP)
		      ON CONFLICT(name) DO UPDATE SET data=excluded.data, updated_at=excluded.updated_at`

	_, err := repo.dbConn.Exec(query, name, data)
	if err != nil {
		return fmt.Errorf("writing blob %s : %w", name, err)
	}
	return nil
}

// DeleteBlob removes the named blob.
func (repo *Repository) DeleteBlob(name string) error {
	query := `DELETE FROM blob WHERE name = ?`

	result, err := repo.dbConn.Exec(query, name)
	if err != nil {
		return fmt.Errorf("deleting blob %s : %w", name, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking deletion rows affected for %s : %w", name, err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%w : %s", domain.ErrBlobNotFound, name)
	}
	return nil
}
