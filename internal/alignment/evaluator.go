// Package alignment computes policy-expected entitlements for the active
// population. The evaluator is a pure function of the current directory and
// catalog: it reads, never mutates, and its output is recomputed wholesale
// each run rather than incrementally maintained — recomputation is what makes
// the alignment report trustworthy as a point-in-time compliance artifact.
package alignment

import (
	"strings"

	"github.com/ajayirepos/EchelonID/internal/directory"
	"github.com/ajayirepos/EchelonID/internal/policy"
)

// Delimiter joins entitlement names at the report boundary. Internally the
// sequence stays a slice.
const Delimiter = ";"

// Record is one active user's policy-expected entitlements.
type Record struct {
	UserID               string
	FullName             string
	Department           string
	Role                 string
	ExpectedEntitlements []string
}

// JoinedEntitlements renders the entitlement sequence for tabular output.
func (r Record) JoinedEntitlements() string {
	return strings.Join(r.ExpectedEntitlements, Delimiter)
}

// Align produces one record per active user, in directory order. Terminated
// users are excluded entirely — not flagged, not emitted. A user matching
// zero catalog rules still gets a record, with an empty entitlement sequence;
// absence of a record and absence of entitlements mean different things to a
// reviewer.
func Align(dir *directory.Directory, catalog *policy.Catalog) []Record {
	records := []Record{}
	for _, user := range dir.Records() {
		if user.Status != directory.StatusActive {
			continue
		}
		records = append(records, Record{
			UserID:               user.UserID,
			FullName:             user.FullName,
			Department:           user.Department,
			Role:                 user.Role,
			ExpectedEntitlements: catalog.Entitlements(user.Department, user.Role),
		})
	}
	return records
}
