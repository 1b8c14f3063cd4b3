package run

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ajayirepos/EchelonID/internal/audit"
	"github.com/ajayirepos/EchelonID/internal/config"
	"github.com/ajayirepos/EchelonID/internal/directory"
	"github.com/ajayirepos/EchelonID/internal/export"
	"github.com/ajayirepos/EchelonID/internal/report"
	"github.com/ajayirepos/EchelonID/internal/store/csvstore"
)

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

const usersCSV = `user_id,full_name,department,role,status
U001,Alice Johnson,Finance,Analyst,Active
U002,Bob Smith,Engineering,Developer,Active
U003,Carol White,HR,Recruiter,Active
`

const feedCSV = `op,user_id,full_name,department,role
joiner,U004,John Taylor,IT,DevOps
mover,U002,,,Analyst
leaver,U003,,,
`

const rolesYAML = `rules:
  - department: Finance
    role: Analyst
    entitlements: [VPN, ERP]
  - department: IT
    role: DevOps
    entitlements: [VPN, CI]
`

type testRun struct {
	cfg      *config.Config
	store    *csvstore.Store
	exported map[string][]byte
	echo     *bytes.Buffer
}

type mapExporter struct {
	objects map[string][]byte
}

func (m *mapExporter) Put(_ context.Context, name string, data []byte) error {
	m.objects[name] = append([]byte(nil), data...)
	return nil
}

// setup lays out a workspace with store, feed, and catalog fixtures, any of
// which can be removed or rewritten by the test before running.
func setup(t *testing.T) *testRun {
	t.Helper()
	dir := t.TempDir()

	write := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o640); err != nil {
			t.Fatal(err)
		}
	}
	write("users.csv", usersCSV)
	write("hr_events.csv", feedCSV)
	write("roles.yaml", rolesYAML)

	cfg := &config.Config{}
	cfg.Store.Backend = "csv"
	cfg.Store.CSV.Path = filepath.Join(dir, "users.csv")
	cfg.Catalog.Path = filepath.Join(dir, "roles.yaml")
	cfg.Feed.Path = filepath.Join(dir, "hr_events.csv")
	cfg.Output.Dir = filepath.Join(dir, "output")
	cfg.Output.AuditLog = filepath.Join(dir, "output", "lifecycle_log.txt")
	cfg.Export.Backend = "local"

	return &testRun{
		cfg:      cfg,
		store:    csvstore.New(cfg.Store.CSV.Path),
		exported: map[string][]byte{},
		echo:     &bytes.Buffer{},
	}
}

func (tr *testRun) run(t *testing.T, stages Stages) (*Result, error) {
	t.Helper()
	o := New(tr.cfg, tr.store, stages,
		WithRunID(func() string { return "test-run" }),
		WithExporterFactory(func(*config.Config) (export.Exporter, error) {
			return &mapExporter{objects: tr.exported}, nil
		}),
		WithAuditOptions(
			audit.WithEcho(tr.echo),
			audit.WithClock(func() time.Time {
				return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
			}),
		),
	)
	return o.Run(context.Background())
}

func (tr *testRun) auditLines(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(tr.cfg.Output.AuditLog)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

// ---------------------------------------------------------------------------
// Full run
// ---------------------------------------------------------------------------

func TestRun_AllStages(t *testing.T) {
	tr := setup(t)
	res, err := tr.run(t, Stages{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != StateDone {
		t.Errorf("state = %s, want Done", res.State)
	}

	// Joiner added, mover retitled, leaver terminated.
	if res.Directory.Len() != 4 {
		t.Errorf("directory has %d users, want 4", res.Directory.Len())
	}
	if u := res.Directory.Lookup("U002"); u == nil || u.Role != "Analyst" {
		t.Errorf("U002 = %+v", u)
	}
	if u := res.Directory.Lookup("U003"); u == nil || u.Status != directory.StatusTerminated {
		t.Errorf("U003 = %+v", u)
	}

	wantArtifacts := []string{
		report.AlignmentArtifact,
		report.DeprovisionArtifact,
		report.AccessReviewArtifact,
		report.AuditSummaryArtifact,
	}
	if len(res.Artifacts) != len(wantArtifacts) {
		t.Fatalf("artifacts = %v", res.Artifacts)
	}
	for i, want := range wantArtifacts {
		if res.Artifacts[i] != want {
			t.Errorf("artifacts[%d] = %s, want %s", i, res.Artifacts[i], want)
		}
	}

	// Every artifact reached the export sink.
	for _, a := range wantArtifacts {
		if _, ok := tr.exported[a]; !ok {
			t.Errorf("artifact %s not exported", a)
		}
	}

	// Mutations were persisted wholesale at Done.
	persisted, err := tr.store.Load(context.Background())
	if err != nil {
		t.Fatalf("reload store: %v", err)
	}
	if persisted.Len() != 4 {
		t.Errorf("persisted store has %d users", persisted.Len())
	}
	if u := persisted.Lookup("U004"); u == nil || u.Status != directory.StatusActive {
		t.Errorf("persisted U004 = %+v", u)
	}
}

func TestRun_AuditTrailOrderAndFormat(t *testing.T) {
	tr := setup(t)
	res, err := tr.run(t, Stages{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{
		"[2026-03-14 09:30:00] JOINER: Created account for John Taylor (U004) in IT with role DevOps",
		"[2026-03-14 09:30:00] MOVER: Updated U002 role from Developer -> Analyst",
		"[2026-03-14 09:30:00] LEAVER: Disabled access for U003",
		"[2026-03-14 09:30:00] DEPROVISION: Removed access for U003",
	}
	lines := tr.auditLines(t)
	if len(lines) != len(want) {
		t.Fatalf("audit log has %d lines, want %d:\n%s", len(lines), len(want), strings.Join(lines, "\n"))
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
	if res.Events != len(want) {
		t.Errorf("Events = %d, want %d", res.Events, len(want))
	}

	// The bare messages were echoed to the operator channel in the same order.
	echo := strings.TrimRight(tr.echo.String(), "\n")
	if !strings.HasPrefix(echo, "JOINER: Created account for John Taylor") {
		t.Errorf("echo = %q", echo)
	}
}

// ---------------------------------------------------------------------------
// Catalog edge cases
// ---------------------------------------------------------------------------

func TestRun_CatalogAbsentSkipsPolicyStage(t *testing.T) {
	tr := setup(t)
	tr.cfg.Catalog.Path = filepath.Join(t.TempDir(), "nope.yaml")

	res, err := tr.run(t, Stages{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, a := range res.Artifacts {
		if a == report.AlignmentArtifact {
			t.Error("alignment artifact produced without a catalog")
		}
	}
	if _, err := os.Stat(filepath.Join(tr.cfg.Output.Dir, report.AlignmentArtifact)); !os.IsNotExist(err) {
		t.Error("alignment report file exists on disk")
	}

	found := false
	for _, line := range tr.auditLines(t) {
		if strings.Contains(line, "POLICY: Catalog not found, policy evaluation skipped") {
			found = true
		}
	}
	if !found {
		t.Error("no policy skip line in audit trail")
	}
}

func TestRun_EmptyCatalogSkipsPolicyStage(t *testing.T) {
	tr := setup(t)
	if err := os.WriteFile(tr.cfg.Catalog.Path, []byte("rules: []\n"), 0o640); err != nil {
		t.Fatal(err)
	}

	res, err := tr.run(t, Stages{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, a := range res.Artifacts {
		if a == report.AlignmentArtifact {
			t.Error("alignment artifact produced from an empty catalog")
		}
	}
}

func TestRun_MalformedCatalogIsFatalBeforeStages(t *testing.T) {
	tr := setup(t)
	if err := os.WriteFile(tr.cfg.Catalog.Path, []byte("rules:\n  - role: Analyst\n"), 0o640); err != nil {
		t.Fatal(err)
	}

	_, err := tr.run(t, Stages{})
	if err == nil {
		t.Fatal("expected fatal error for malformed catalog")
	}

	// No stage ran: the store is byte-identical to the fixture.
	data, rerr := os.ReadFile(tr.cfg.Store.CSV.Path)
	if rerr != nil {
		t.Fatal(rerr)
	}
	if string(data) != usersCSV {
		t.Error("store modified despite fatal catalog error")
	}
}

// ---------------------------------------------------------------------------
// Stage selection
// ---------------------------------------------------------------------------

func TestRun_LifecycleOnlyStillPersists(t *testing.T) {
	tr := setup(t)
	res, err := tr.run(t, Stages{Lifecycle: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != StateDone {
		t.Errorf("state = %s", res.State)
	}
	if len(res.Artifacts) != 0 {
		t.Errorf("artifacts = %v, want none", res.Artifacts)
	}
	if len(tr.exported) != 0 {
		t.Errorf("exported = %v, want none", tr.exported)
	}

	persisted, err := tr.store.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if persisted.Lookup("U004") == nil {
		t.Error("joiner not persisted by lifecycle-only run")
	}
}

func TestRun_AuditOnlySkipsLifecycle(t *testing.T) {
	tr := setup(t)
	res, err := tr.run(t, Stages{Audit: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Feed untouched: directory is the original three active users, so
	// deprovision has nothing to do and emits the informational line instead
	// of a report.
	if res.Directory.Lookup("U004") != nil {
		t.Error("lifecycle ran despite not being selected")
	}
	for _, a := range res.Artifacts {
		if a == report.DeprovisionArtifact {
			t.Error("deprovision artifact produced with nothing terminated")
		}
	}

	found := false
	for _, line := range tr.auditLines(t) {
		if strings.Contains(line, "DEPROVISION: No terminated users found") {
			found = true
		}
	}
	if !found {
		t.Error("missing no-terminated-users audit line")
	}
}

// ---------------------------------------------------------------------------
// Feed and store edge cases
// ---------------------------------------------------------------------------

func TestRun_MissingFeedAppliesZeroEvents(t *testing.T) {
	tr := setup(t)
	tr.cfg.Feed.Path = filepath.Join(t.TempDir(), "nope.csv")

	res, err := tr.run(t, Stages{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Directory.Len() != 3 {
		t.Errorf("directory has %d users, want the original 3", res.Directory.Len())
	}
	if res.State != StateDone {
		t.Errorf("state = %s", res.State)
	}
}

func TestRun_MalformedFeedRowIsSkippedAndLogged(t *testing.T) {
	tr := setup(t)
	feed := "op,user_id,full_name,department,role\nteleport,U001,,,\nleaver,U001,,,\n"
	if err := os.WriteFile(tr.cfg.Feed.Path, []byte(feed), 0o640); err != nil {
		t.Fatal(err)
	}

	res, err := tr.run(t, Stages{Lifecycle: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if u := res.Directory.Lookup("U001"); u == nil || u.Status != directory.StatusTerminated {
		t.Errorf("valid row after malformed row not applied: %+v", u)
	}

	found := false
	for _, line := range tr.auditLines(t) {
		if strings.Contains(line, `LIFECYCLE: Skipped feed row 2: unknown op "teleport"`) {
			found = true
		}
	}
	if !found {
		t.Errorf("missing skipped-row audit line:\n%s", strings.Join(tr.auditLines(t), "\n"))
	}
}

func TestRun_StoreLoadFailureIsFatal(t *testing.T) {
	tr := setup(t)
	tr.cfg.Store.CSV.Path = filepath.Join(t.TempDir(), "nope.csv")
	tr.store = csvstore.New(tr.cfg.Store.CSV.Path)

	_, err := tr.run(t, Stages{})
	if err == nil {
		t.Fatal("expected fatal error for missing store")
	}
}

func TestRun_ExportFailureAbortsRun(t *testing.T) {
	tr := setup(t)
	o := New(tr.cfg, tr.store, Stages{},
		WithExporterFactory(func(*config.Config) (export.Exporter, error) {
			return nil, errors.New("bucket unreachable")
		}),
		WithAuditOptions(audit.WithEcho(&bytes.Buffer{})),
	)

	_, err := o.Run(context.Background())
	if err == nil {
		t.Fatal("expected fatal error from export stage")
	}
	if !strings.Contains(err.Error(), "create export sink") {
		t.Errorf("err = %v", err)
	}
}
