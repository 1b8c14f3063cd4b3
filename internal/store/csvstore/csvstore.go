// Package csvstore implements the CSV-backed user store. This is the default
// backend and matches the interchange format used by the HR side of the house:
// a header row followed by user_id,full_name,department,role,status records.
// Saves go through a temp file and rename so a failed write never leaves a
// half-written store behind.
package csvstore

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ajayirepos/EchelonID/internal/directory"
	"github.com/ajayirepos/EchelonID/internal/store"
)

var header = []string{"user_id", "full_name", "department", "role", "status"}

// Store is a CSV-file user store.
type Store struct {
	path string
}

// New creates a store reading and writing the CSV file at path.
func New(path string) *Store {
	return &Store{path: path}
}

// Load reads the full store into a directory. Row order is preserved. A
// duplicate user_id in the source file is a load error, not a fail-soft skip:
// the store is the system of record and must be internally consistent before
// any stage runs.
func (s *Store) Load(ctx context.Context) (*directory.Directory, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", store.ErrNotFound, s.path)
		}
		return nil, fmt.Errorf("open user store: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(header)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read user store %s: %w", s.path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("user store %s: missing header row", s.path)
	}
	for i, col := range header {
		if rows[0][i] != col {
			return nil, fmt.Errorf("user store %s: column %d is %q, want %q", s.path, i, rows[0][i], col)
		}
	}

	dir := directory.New()
	for i, row := range rows[1:] {
		status := directory.Status(row[4])
		if !status.Valid() {
			return nil, fmt.Errorf("user store %s: row %d: unknown status %q", s.path, i+1, row[4])
		}
		rec := &directory.UserRecord{
			UserID:     row[0],
			FullName:   row[1],
			Department: row[2],
			Role:       row[3],
			Status:     status,
		}
		if err := dir.Append(rec); err != nil {
			return nil, fmt.Errorf("user store %s: row %d: %w", s.path, i+1, err)
		}
	}
	return dir, nil
}

// Save overwrites the store with the directory's records in order. The write
// lands in a temp file in the same directory and is renamed into place, so a
// crash or I/O error mid-write leaves the previous store untouched.
func (s *Store) Save(ctx context.Context, dir *directory.Directory) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".users-*.csv")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmp.Name()

	w := csv.NewWriter(tmp)
	rows := [][]string{header}
	for _, rec := range dir.Records() {
		rows = append(rows, []string{rec.UserID, rec.FullName, rec.Department, rec.Role, string(rec.Status)})
	}
	err = w.WriteAll(rows)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("write user store: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace user store: %w", err)
	}
	return nil
}
