// Package directory holds the in-memory user directory that a run operates on.
// The directory is loaded from the user store at run start, mutated in place by
// the lifecycle engine, and written back wholesale at run end. Records are never
// physically deleted — termination is a status flag, which is what makes the
// access-review export a complete historical snapshot rather than a view of
// currently-enabled accounts.
package directory

import "fmt"

// Status is the lifecycle state of a user account.
type Status string

const (
	StatusActive     Status = "Active"
	StatusTerminated Status = "Terminated"
)

// Valid reports whether s is one of the known account statuses.
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusTerminated
}

// UserRecord represents one user account in the directory.
type UserRecord struct {
	UserID     string
	FullName   string
	Department string
	Role       string
	Status     Status
}

// Directory is an insertion-ordered collection of user records keyed by
// user ID. Ordering matters because the access-review report must reproduce
// the store's row order plus appended joiners; the index exists so lifecycle
// lookups don't scan.
//
// Mutation rights belong exclusively to the lifecycle engine; the alignment
// evaluator and deprovisioning enforcer only read.
type Directory struct {
	records []*UserRecord
	index   map[string]*UserRecord
}

// New creates an empty directory.
func New() *Directory {
	return &Directory{index: make(map[string]*UserRecord)}
}

// ErrDuplicateUser is returned when appending a record whose user ID already
// exists in the directory.
var ErrDuplicateUser = fmt.Errorf("duplicate user id")

// Append adds a record to the end of the directory. The record's user ID must
// be unique; duplicates are rejected rather than silently stacked, since two
// rows with the same ID would make every downstream report ambiguous about
// which row is the account of record.
func (d *Directory) Append(rec *UserRecord) error {
	if _, exists := d.index[rec.UserID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateUser, rec.UserID)
	}
	d.records = append(d.records, rec)
	d.index[rec.UserID] = rec
	return nil
}

// Lookup returns the record for userID, or nil if no such user exists.
func (d *Directory) Lookup(userID string) *UserRecord {
	return d.index[userID]
}

// Records returns the directory's records in insertion order. The slice is
// shared with the directory; callers must treat it as read-only.
func (d *Directory) Records() []*UserRecord {
	return d.records
}

// Len returns the number of records in the directory.
func (d *Directory) Len() int {
	return len(d.records)
}

// CountByStatus returns the number of active and terminated users.
func (d *Directory) CountByStatus() (active, terminated int) {
	for _, rec := range d.records {
		switch rec.Status {
		case StatusTerminated:
			terminated++
		default:
			active++
		}
	}
	return active, terminated
}
