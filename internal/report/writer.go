// Package report renders a run's derived tables into the output directory and
// serves them as an HTML page. Reports are pure functions of the run's final
// state, recomputed and rewritten wholesale every run — there is no diffing or
// incremental maintenance, which keeps every artifact independently auditable
// against the store snapshot it was generated from.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ajayirepos/EchelonID/internal/alignment"
	"github.com/ajayirepos/EchelonID/internal/certs"
	"github.com/ajayirepos/EchelonID/internal/deprovision"
	"github.com/ajayirepos/EchelonID/internal/directory"
	"github.com/ajayirepos/EchelonID/internal/telemetry"
)

// Report artifact file names. These are contract, not convention: the audit
// summary lists them, the export stage copies them by name, and the report
// server maps them to page sections.
const (
	AccessReviewArtifact = "access_review_report.csv"
	AlignmentArtifact    = "policy_alignment_report.csv"
	DeprovisionArtifact  = "deprovisioned_users_report.csv"
	AuditSummaryArtifact = "audit_summary.json"
	CertExpiryArtifact   = "expired_certs_report.csv"
)

// Writer renders report artifacts into one output directory.
type Writer struct {
	dir string
}

// NewWriter creates a writer rooted at dir, creating the directory if needed.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return &Writer{dir: dir}, nil
}

// Dir returns the output directory.
func (w *Writer) Dir() string {
	return w.dir
}

// Path returns the on-disk path of a named artifact.
func (w *Writer) Path(artifact string) string {
	return filepath.Join(w.dir, artifact)
}

func (w *Writer) writeCSV(artifact string, rows [][]string) error {
	f, err := os.Create(w.Path(artifact))
	if err != nil {
		return fmt.Errorf("create %s: %w", artifact, err)
	}
	cw := csv.NewWriter(f)
	err = cw.WriteAll(rows)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", artifact, err)
	}
	telemetry.ReportArtifactsTotal.WithLabelValues(artifact).Inc()
	return nil
}

// WriteAccessReview writes the full directory snapshot, one row per user in
// directory order, same columns as the store.
func (w *Writer) WriteAccessReview(dir *directory.Directory) (string, error) {
	rows := [][]string{{"user_id", "full_name", "department", "role", "status"}}
	for _, rec := range dir.Records() {
		rows = append(rows, []string{rec.UserID, rec.FullName, rec.Department, rec.Role, string(rec.Status)})
	}
	return AccessReviewArtifact, w.writeCSV(AccessReviewArtifact, rows)
}

// WriteAlignment writes the policy alignment table, one row per active user,
// entitlements joined with the report delimiter.
func (w *Writer) WriteAlignment(records []alignment.Record) (string, error) {
	rows := [][]string{{"user_id", "full_name", "department", "role", "expected_entitlements"}}
	for _, rec := range records {
		rows = append(rows, []string{rec.UserID, rec.FullName, rec.Department, rec.Role, rec.JoinedEntitlements()})
	}
	return AlignmentArtifact, w.writeCSV(AlignmentArtifact, rows)
}

// WriteDeprovision writes the deprovisioned users table, one row per
// terminated user.
func (w *Writer) WriteDeprovision(records []deprovision.Record) (string, error) {
	rows := [][]string{{"user_id", "full_name", "department", "role", "status", "action"}}
	for _, rec := range records {
		rows = append(rows, []string{rec.UserID, rec.FullName, rec.Department, rec.Role, string(rec.Status), rec.Action})
	}
	return DeprovisionArtifact, w.writeCSV(DeprovisionArtifact, rows)
}

// WriteCertExpiry writes the PKI expiry table, one row per issued certificate.
func (w *Writer) WriteCertExpiry(statuses []certs.Status) (string, error) {
	rows := [][]string{{"user", "expiry_date", "days_left"}}
	for _, s := range statuses {
		rows = append(rows, []string{s.User, s.Expiry.Format("2006-01-02"), strconv.Itoa(s.DaysLeft)})
	}
	return CertExpiryArtifact, w.writeCSV(CertExpiryArtifact, rows)
}

// Summary is the run's audit summary document.
type Summary struct {
	RunID           string    `json:"run_id"`
	TotalUsers      int       `json:"total_users"`
	ActiveUsers     int       `json:"active_users"`
	TerminatedUsers int       `json:"terminated_users"`
	// Artifacts lists the report files actually produced this run — skipped
	// stages leave no entry here.
	Artifacts   []string  `json:"artifacts"`
	GeneratedAt time.Time `json:"generated_at"`
}

// WriteSummary writes the audit summary document.
func (w *Writer) WriteSummary(s Summary) (string, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return AuditSummaryArtifact, fmt.Errorf("marshal audit summary: %w", err)
	}
	if err := os.WriteFile(w.Path(AuditSummaryArtifact), append(data, '\n'), 0o640); err != nil {
		return AuditSummaryArtifact, fmt.Errorf("write audit summary: %w", err)
	}
	telemetry.ReportArtifactsTotal.WithLabelValues(AuditSummaryArtifact).Inc()
	return AuditSummaryArtifact, nil
}
