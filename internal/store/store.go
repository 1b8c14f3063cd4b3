// Package store defines the durable user store behind the in-memory
// directory. A store is read once at run start and overwritten wholesale at
// run end — there is no incremental write path, because the run's contract is
// "either every accumulated mutation persists or none do".
package store

import (
	"context"
	"errors"

	"github.com/ajayirepos/EchelonID/internal/directory"
)

// ErrNotFound indicates the user store does not exist at the configured
// location. Unlike a missing policy catalog this is fatal: a run without a
// directory has nothing to operate on.
var ErrNotFound = errors.New("user store not found")

// UserStore loads and persists the full user directory.
type UserStore interface {
	// Load reads the entire store into a directory.
	Load(ctx context.Context) (*directory.Directory, error)

	// Save replaces the store's contents with the directory. The write must
	// be all-or-nothing; a failure must leave the previous contents intact.
	Save(ctx context.Context, dir *directory.Directory) error
}
