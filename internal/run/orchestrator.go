// Package run drives one EchelonID run through its stage state machine:
//
//	Idle → DirectoryLoaded → LifecycleApplied → PolicyEvaluated →
//	Deprovisioned → Summarized → Exported → Done
//
// Transitions are strictly sequential and single-writer; there is no internal
// parallelism and no retry. Stages are independently selectable so the same
// binary can act as a lifecycle job, a policy job, an audit job, or an export
// job against one shared directory snapshot — a deselected stage is skipped
// without error but its state transition still occurs, so Done is reached on
// every successful run. Done always persists the directory, even when every
// optional stage was skipped: lifecycle mutations must never be lost because a
// later job was not scheduled.
package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/ajayirepos/EchelonID/internal/alignment"
	"github.com/ajayirepos/EchelonID/internal/audit"
	"github.com/ajayirepos/EchelonID/internal/config"
	"github.com/ajayirepos/EchelonID/internal/deprovision"
	"github.com/ajayirepos/EchelonID/internal/directory"
	"github.com/ajayirepos/EchelonID/internal/export"
	"github.com/ajayirepos/EchelonID/internal/lifecycle"
	"github.com/ajayirepos/EchelonID/internal/policy"
	"github.com/ajayirepos/EchelonID/internal/report"
	"github.com/ajayirepos/EchelonID/internal/store"
	"github.com/ajayirepos/EchelonID/internal/telemetry"
)

// State names the orchestrator's position in the run.
type State string

const (
	StateIdle             State = "Idle"
	StateDirectoryLoaded  State = "DirectoryLoaded"
	StateLifecycleApplied State = "LifecycleApplied"
	StatePolicyEvaluated  State = "PolicyEvaluated"
	StateDeprovisioned    State = "Deprovisioned"
	StateSummarized       State = "Summarized"
	StateExported         State = "Exported"
	StateDone             State = "Done"
)

// Stages selects which jobs a run executes. The zero value means "no explicit
// selection", which runs everything in the fixed order.
type Stages struct {
	Lifecycle bool
	Policy    bool
	Audit     bool
	Export    bool
}

func (s Stages) none() bool {
	return !s.Lifecycle && !s.Policy && !s.Audit && !s.Export
}

// normalized maps the empty selection to all stages.
func (s Stages) normalized() Stages {
	if s.none() {
		return Stages{Lifecycle: true, Policy: true, Audit: true, Export: true}
	}
	return s
}

// Orchestrator executes one run against a user store.
type Orchestrator struct {
	cfg    *config.Config
	store  store.UserStore
	stages Stages
	logger *slog.Logger

	newExporter func(*config.Config) (export.Exporter, error)
	newRunID    func() string
	auditOpts   []audit.Option
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the operational logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithExporterFactory overrides how the export sink is constructed. Used by
// tests to avoid touching registered backends.
func WithExporterFactory(f func(*config.Config) (export.Exporter, error)) Option {
	return func(o *Orchestrator) { o.newExporter = f }
}

// WithRunID overrides run ID generation. Used by tests.
func WithRunID(f func() string) Option {
	return func(o *Orchestrator) { o.newRunID = f }
}

// WithAuditOptions passes options through to the run's audit recorder. Used by
// tests to pin the clock and capture the echo channel.
func WithAuditOptions(opts ...audit.Option) Option {
	return func(o *Orchestrator) { o.auditOpts = opts }
}

// New creates an orchestrator over the given store and stage selection.
func New(cfg *config.Config, st store.UserStore, stages Stages, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:         cfg,
		store:       st,
		stages:      stages,
		logger:      slog.Default(),
		newExporter: export.New,
		newRunID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Result describes a completed run.
type Result struct {
	RunID     string
	State     State
	Artifacts []string
	Events    int
	Directory *directory.Directory
}

// Run executes the selected stages. Any returned error means the run aborted:
// the directory was not persisted and in-memory mutations are discarded. The
// audit sink is opened once here and closed on every exit path.
func (o *Orchestrator) Run(ctx context.Context) (result *Result, err error) {
	stages := o.stages.normalized()
	runID := o.newRunID()
	state := StateIdle
	log := o.logger.With("run_id", runID)

	writer, err := report.NewWriter(o.cfg.Output.Dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(o.cfg.Output.AuditLog), 0o750); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	sink, err := audit.NewFileSink(o.cfg.Output.AuditLog)
	if err != nil {
		return nil, err
	}
	rec := audit.NewRecorder(sink, o.auditOpts...)
	defer func() {
		if cerr := rec.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close audit sink: %w", cerr)
		}
	}()

	// A fatal error still lands on the audit/console channel before the run
	// aborts; the trail records that the run died and why.
	abort := func(cause error) error {
		log.Error("run aborted", "state", string(state), "error", cause)
		if aerr := rec.Recordf("RUN: Fatal: %v", cause); aerr != nil {
			log.Error("could not record fatal event", "error", aerr)
		}
		return cause
	}

	// The catalog is validated up front: a present-but-malformed document must
	// fail before any stage runs, not midway through a half-applied run.
	catalog, catErr := policy.Load(o.cfg.Catalog.Path)
	if catErr != nil && !errors.Is(catErr, policy.ErrNotFound) {
		return nil, abort(catErr)
	}

	start := time.Now()
	dir, err := o.store.Load(ctx)
	if err != nil {
		return nil, abort(fmt.Errorf("load user store: %w", err))
	}
	telemetry.ObserveStage("load", start)
	state = StateDirectoryLoaded
	log.Info("directory loaded", "users", dir.Len())

	artifacts := []string{}

	if stages.Lifecycle {
		start = time.Now()
		if err := o.runLifecycle(dir, rec, log); err != nil {
			return nil, abort(err)
		}
		telemetry.ObserveStage("lifecycle", start)
	}
	state = StateLifecycleApplied

	if stages.Policy {
		start = time.Now()
		artifact, err := o.runPolicy(dir, catalog, catErr, writer, rec, log)
		if err != nil {
			return nil, abort(err)
		}
		if artifact != "" {
			artifacts = append(artifacts, artifact)
		}
		telemetry.ObserveStage("policy", start)
	}
	state = StatePolicyEvaluated

	if stages.Audit {
		start = time.Now()
		depRecords, err := deprovision.Deprovision(dir, rec)
		if err != nil {
			return nil, abort(err)
		}
		state = StateDeprovisioned
		if len(depRecords) > 0 {
			artifact, err := writer.WriteDeprovision(depRecords)
			if err != nil {
				return nil, abort(err)
			}
			artifacts = append(artifacts, artifact)
		}

		artifact, err := writer.WriteAccessReview(dir)
		if err != nil {
			return nil, abort(err)
		}
		artifacts = append(artifacts, artifact)

		active, terminated := dir.CountByStatus()
		summaryArtifact, err := writer.WriteSummary(report.Summary{
			RunID:           runID,
			TotalUsers:      dir.Len(),
			ActiveUsers:     active,
			TerminatedUsers: terminated,
			Artifacts:       artifacts,
			GeneratedAt:     time.Now().UTC(),
		})
		if err != nil {
			return nil, abort(err)
		}
		// The summary document itself is exported alongside the reports it
		// describes, but it never lists itself.
		artifacts = append(artifacts, summaryArtifact)
		telemetry.ObserveStage("audit", start)
	} else {
		state = StateDeprovisioned
	}
	state = StateSummarized

	if stages.Export && len(artifacts) > 0 {
		start = time.Now()
		if err := o.runExport(ctx, writer, artifacts, log); err != nil {
			return nil, abort(err)
		}
		telemetry.ObserveStage("export", start)
	}
	state = StateExported

	start = time.Now()
	if err := o.store.Save(ctx, dir); err != nil {
		return nil, abort(fmt.Errorf("persist user store: %w", err))
	}
	telemetry.ObserveStage("persist", start)
	state = StateDone

	active, terminated := dir.CountByStatus()
	telemetry.DirectoryUsers.WithLabelValues(string(directory.StatusActive)).Set(float64(active))
	telemetry.DirectoryUsers.WithLabelValues(string(directory.StatusTerminated)).Set(float64(terminated))

	log.Info("run complete",
		"state", string(state),
		"users", dir.Len(),
		"artifacts", len(artifacts),
		"audit_events", rec.Emitted())

	return &Result{
		RunID:     runID,
		State:     state,
		Artifacts: artifacts,
		Events:    rec.Emitted(),
		Directory: dir,
	}, nil
}

// runLifecycle replays the HR events feed through the engine. A missing feed
// means zero events and is not an error; malformed rows are skipped with an
// audit line each so the trail shows what the batch ignored.
func (o *Orchestrator) runLifecycle(dir *directory.Directory, rec *audit.Recorder, log *slog.Logger) error {
	events, rowErrs, err := lifecycle.ReadFeed(o.cfg.Feed.Path)
	if err != nil {
		if errors.Is(err, lifecycle.ErrFeedNotFound) {
			log.Info("no events feed, lifecycle stage applies zero events", "path", o.cfg.Feed.Path)
			return nil
		}
		return err
	}
	for _, rowErr := range rowErrs {
		if err := rec.Recordf("LIFECYCLE: Skipped feed row %d: %s", rowErr.Row, rowErr.Reason); err != nil {
			return err
		}
	}

	engine := lifecycle.NewEngine(dir, rec)
	for _, ev := range events {
		if err := engine.Apply(ev); err != nil {
			return err
		}
	}
	log.Info("lifecycle applied", "events", len(events), "skipped_rows", len(rowErrs))
	return nil
}

// runPolicy evaluates alignment and writes the report. An absent or empty
// catalog skips the stage with one audit line and produces no artifact; the
// returned artifact name is empty in that case.
func (o *Orchestrator) runPolicy(dir *directory.Directory, catalog *policy.Catalog, catErr error,
	writer *report.Writer, rec *audit.Recorder, log *slog.Logger) (string, error) {

	if catErr != nil {
		log.Info("policy catalog absent, policy stage skipped", "path", o.cfg.Catalog.Path)
		return "", rec.Record("POLICY: Catalog not found, policy evaluation skipped")
	}
	if catalog.Empty() {
		log.Info("policy catalog empty, policy stage skipped", "path", o.cfg.Catalog.Path)
		return "", rec.Record("POLICY: Catalog empty, policy evaluation skipped")
	}

	records := alignment.Align(dir, catalog)
	artifact, err := writer.WriteAlignment(records)
	if err != nil {
		return "", err
	}
	log.Info("policy alignment evaluated", "rules", catalog.Len(), "active_users", len(records))
	return artifact, nil
}

// runExport copies every produced artifact into the export sink.
func (o *Orchestrator) runExport(ctx context.Context, writer *report.Writer, artifacts []string, log *slog.Logger) error {
	exporter, err := o.newExporter(o.cfg)
	if err != nil {
		return fmt.Errorf("create export sink: %w", err)
	}
	for _, artifact := range artifacts {
		data, err := os.ReadFile(writer.Path(artifact))
		if err != nil {
			return fmt.Errorf("read artifact %s for export: %w", artifact, err)
		}
		if err := exporter.Put(ctx, artifact, data); err != nil {
			return fmt.Errorf("export artifact %s: %w", artifact, err)
		}
	}
	log.Info("artifacts exported", "backend", o.cfg.Export.Backend, "count", len(artifacts))
	return nil
}
