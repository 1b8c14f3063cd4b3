// Package deprovision emits the deprovisioning records for terminated users.
// Deprovisioning here is a derived snapshot, not a one-time trigger: the
// enforcer has no memory of previous runs, so re-running against an unchanged
// directory re-emits the same records. That idempotence is deliberate — the
// report answers "whose access should be gone right now", and the audit trail
// re-attests it every run.
package deprovision

import (
	"github.com/ajayirepos/EchelonID/internal/audit"
	"github.com/ajayirepos/EchelonID/internal/directory"
)

// Action is the fixed marker carried by every deprovisioning record.
const Action = "All entitlements revoked"

// Record is one terminated user's deprovisioning entry.
type Record struct {
	UserID     string
	FullName   string
	Department string
	Role       string
	Status     directory.Status
	Action     string
}

// Deprovision scans the directory and emits one record plus one audit event
// per terminated user, in directory order. When nothing is terminated it logs
// a single informational line instead, so the trail distinguishes "stage ran,
// nothing to do" from "stage skipped".
func Deprovision(dir *directory.Directory, rec *audit.Recorder) ([]Record, error) {
	records := []Record{}
	for _, user := range dir.Records() {
		if user.Status != directory.StatusTerminated {
			continue
		}
		records = append(records, Record{
			UserID:     user.UserID,
			FullName:   user.FullName,
			Department: user.Department,
			Role:       user.Role,
			Status:     user.Status,
			Action:     Action,
		})
		if err := rec.Recordf("DEPROVISION: Removed access for %s", user.UserID); err != nil {
			return nil, err
		}
	}
	if len(records) == 0 {
		if err := rec.Record("DEPROVISION: No terminated users found"); err != nil {
			return nil, err
		}
	}
	return records, nil
}
