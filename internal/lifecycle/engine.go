// Package lifecycle implements the identity lifecycle engine: the only
// component with mutation rights over the user directory. Joiner creates an
// account, mover changes a role, leaver terminates an account. Every operation
// is atomic with respect to the directory and emits one audit trail event.
//
// The engine is fail-soft by design: HR feeds routinely reference stale or
// unknown identifiers, and a batch run must never abort because one event
// named a user that doesn't exist. Unknown-user movers and leavers are logged
// no-ops; a duplicate joiner is rejected and logged but the batch continues.
// Only an audit sink failure propagates as fatal, because a run whose trail
// has gaps is not auditable.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/ajayirepos/EchelonID/internal/audit"
	"github.com/ajayirepos/EchelonID/internal/directory"
	"github.com/ajayirepos/EchelonID/internal/telemetry"
)

// Engine applies lifecycle operations to a directory, recording each to the
// audit trail.
type Engine struct {
	dir *directory.Directory
	rec *audit.Recorder
}

// NewEngine creates an engine over the given directory and recorder.
func NewEngine(dir *directory.Directory, rec *audit.Recorder) *Engine {
	return &Engine{dir: dir, rec: rec}
}

// Joiner creates a new active account. A duplicate user ID is rejected with
// directory.ErrDuplicateUser after logging — the original feed silently
// stacked a second row, which left every downstream report ambiguous about
// the account of record.
func (e *Engine) Joiner(userID, fullName, department, role string) error {
	rec := &directory.UserRecord{
		UserID:     userID,
		FullName:   fullName,
		Department: department,
		Role:       role,
		Status:     directory.StatusActive,
	}
	if err := e.dir.Append(rec); err != nil {
		if errors.Is(err, directory.ErrDuplicateUser) {
			telemetry.LifecycleEventsTotal.WithLabelValues("joiner", telemetry.OutcomeDuplicate).Inc()
			if aerr := e.rec.Recordf("JOINER: Duplicate user %s, account not created", userID); aerr != nil {
				return aerr
			}
			return err
		}
		return fmt.Errorf("joiner %s: %w", userID, err)
	}
	telemetry.LifecycleEventsTotal.WithLabelValues("joiner", telemetry.OutcomeApplied).Inc()
	return e.rec.Recordf("JOINER: Created account for %s (%s) in %s with role %s",
		fullName, userID, department, role)
}

// Mover updates a user's role. An unknown user is a logged no-op, not an
// error.
func (e *Engine) Mover(userID, newRole string) error {
	rec := e.dir.Lookup(userID)
	if rec == nil {
		telemetry.LifecycleEventsTotal.WithLabelValues("mover", telemetry.OutcomeNotFound).Inc()
		return e.rec.Recordf("MOVER: User %s not found", userID)
	}
	oldRole := rec.Role
	rec.Role = newRole
	telemetry.LifecycleEventsTotal.WithLabelValues("mover", telemetry.OutcomeApplied).Inc()
	return e.rec.Recordf("MOVER: Updated %s role from %s -> %s", userID, oldRole, newRole)
}

// Leaver terminates a user's account, leaving the role untouched. Reapplying
// a leaver to an already-terminated user is a state no-op but still re-logs —
// the trail records what the feed asked for, not just what changed. An
// unknown user is a logged no-op.
func (e *Engine) Leaver(userID string) error {
	rec := e.dir.Lookup(userID)
	if rec == nil {
		telemetry.LifecycleEventsTotal.WithLabelValues("leaver", telemetry.OutcomeNotFound).Inc()
		return e.rec.Recordf("LEAVER: User %s not found", userID)
	}
	rec.Status = directory.StatusTerminated
	telemetry.LifecycleEventsTotal.WithLabelValues("leaver", telemetry.OutcomeApplied).Inc()
	return e.rec.Recordf("LEAVER: Disabled access for %s", userID)
}

// Apply dispatches one feed event to the matching operation. Recoverable
// per-user conditions (duplicate joiner) are swallowed here after the engine
// has logged them, keeping the batch loop in the orchestrator free of
// per-event error triage.
func (e *Engine) Apply(ev Event) error {
	var err error
	switch ev.Op {
	case OpJoiner:
		err = e.Joiner(ev.UserID, ev.FullName, ev.Department, ev.Role)
		if errors.Is(err, directory.ErrDuplicateUser) {
			err = nil
		}
	case OpMover:
		err = e.Mover(ev.UserID, ev.Role)
	case OpLeaver:
		err = e.Leaver(ev.UserID)
	default:
		return fmt.Errorf("unknown lifecycle op %q", ev.Op)
	}
	return err
}
