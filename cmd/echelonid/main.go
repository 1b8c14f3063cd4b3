// Package main is the entry point for the EchelonID binary. It dispatches the
// subcommands — run, serve, ldap-dump, certs, migrate, and version — via a
// simple switch on os.Args so the binary's full CLI surface is readable in one
// place without requiring a cobra dependency. The run command is the batch
// job; serve hosts the read-only report page over whatever the last run
// produced.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ajayirepos/EchelonID/internal/certs"
	"github.com/ajayirepos/EchelonID/internal/config"
	"github.com/ajayirepos/EchelonID/internal/ldapstub"
	"github.com/ajayirepos/EchelonID/internal/report"
	"github.com/ajayirepos/EchelonID/internal/run"
	"github.com/ajayirepos/EchelonID/internal/store"
	"github.com/ajayirepos/EchelonID/internal/store/csvstore"
	"github.com/ajayirepos/EchelonID/internal/store/postgres"
	"github.com/ajayirepos/EchelonID/internal/telemetry"

	// Register export backends.
	_ "github.com/ajayirepos/EchelonID/internal/export/azure"
	_ "github.com/ajayirepos/EchelonID/internal/export/gcs"
	_ "github.com/ajayirepos/EchelonID/internal/export/local"
	_ "github.com/ajayirepos/EchelonID/internal/export/s3"
)

const version = "0.1.0"

func main() {
	if err := realMain(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func realMain() error {
	command := "run"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialise structured logging as early as possible so all subsequent
	// output uses the configured format and level.
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	switch command {
	case "run":
		return runBatch(cfg, os.Args[2:])
	case "serve":
		return serveReports(cfg)
	case "ldap-dump":
		return dumpLDAP(cfg)
	case "certs":
		return runCerts(cfg)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2])
	case "version":
		fmt.Printf("EchelonID v%s\n", version)
		return nil
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: run, serve, ldap-dump, certs, migrate, version", command)
	}
}

// newStore builds the configured user store. The returned cleanup closes the
// database pool for the postgres backend and is a no-op for csv.
func newStore(cfg *config.Config) (store.UserStore, func(), error) {
	switch cfg.Store.Backend {
	case "csv":
		return csvstore.New(cfg.Store.CSV.Path), func() {}, nil
	case "postgres":
		db, err := postgres.Connect(cfg.Store.Postgres.GetDSN(),
			cfg.Store.Postgres.MaxConnections, cfg.Store.Postgres.MinIdleConnections)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		// Auto-migrate so a freshly provisioned database never needs a
		// separate migration step before the first run.
		if err := postgres.RunMigrations(db.DB, "up"); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		return postgres.New(db), func() { db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend: %s", cfg.Store.Backend)
	}
}

// runBatch executes one orchestrated run. Stage flags are independent; no
// flags selected means all stages in the fixed order.
func runBatch(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	var stages run.Stages
	fs.BoolVar(&stages.Lifecycle, "lifecycle", false, "apply the HR events feed")
	fs.BoolVar(&stages.Policy, "policy-alignment", false, "evaluate policy alignment for active users")
	fs.BoolVar(&stages.Audit, "audit-summary", false, "deprovision terminated users and write the audit summary")
	fs.BoolVar(&stages.Export, "export", false, "copy produced artifacts to the export sink")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if cfg.Telemetry.MetricsEnabled {
		telemetry.ServeMetrics(cfg.Telemetry.MetricsAddr)
	}

	st, cleanup, err := newStore(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := run.New(cfg, st, stages).Run(context.Background())
	if err != nil {
		return err
	}
	slog.Info("run finished",
		"run_id", result.RunID,
		"state", string(result.State),
		"audit_events", result.Events,
		"artifacts", result.Artifacts)
	return nil
}

// serveReports hosts the HTML report page until interrupted.
func serveReports(cfg *config.Config) error {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if cfg.Telemetry.MetricsEnabled {
		telemetry.ServeMetrics(cfg.Telemetry.MetricsAddr)
	}

	server := &http.Server{
		Addr:         cfg.Reports.GetAddress(),
		Handler:      report.NewServer(cfg.Output.Dir),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("starting report server", "addr", cfg.Reports.GetAddress(), "output_dir", cfg.Output.Dir)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start report server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down report server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("report server forced to shutdown: %w", err)
	}
	return nil
}

// dumpLDAP prints the store's LDAP projection as LDIF on stdout.
func dumpLDAP(cfg *config.Config) error {
	st, cleanup, err := newStore(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	dir, err := st.Load(context.Background())
	if err != nil {
		return err
	}
	return ldapstub.FromDirectory(dir).Dump(os.Stdout)
}

// runCerts issues demo certificates for the active population and writes the
// PKI expiry report.
func runCerts(cfg *config.Config) error {
	st, cleanup, err := newStore(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	dir, err := st.Load(context.Background())
	if err != nil {
		return err
	}

	statuses, err := certs.NewMonitor().IssueForDirectory(dir)
	if err != nil {
		return err
	}

	writer, err := report.NewWriter(cfg.Output.Dir)
	if err != nil {
		return err
	}
	artifact, err := writer.WriteCertExpiry(statuses)
	if err != nil {
		return err
	}

	for _, s := range statuses {
		fmt.Printf("%s,%s,%d\n", s.User, s.Expiry.Format("2006-01-02"), s.DaysLeft)
	}
	slog.Info("PKI report written", "path", writer.Path(artifact), "certificates", len(statuses))
	return nil
}

func runMigrations(cfg *config.Config, direction string) error {
	if cfg.Store.Backend != "postgres" {
		return fmt.Errorf("migrate requires the postgres store backend, configured backend is %s", cfg.Store.Backend)
	}

	db, err := postgres.Connect(cfg.Store.Postgres.GetDSN(),
		cfg.Store.Postgres.MaxConnections, cfg.Store.Postgres.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	slog.Info("running migrations", "direction", direction)
	if err := postgres.RunMigrations(db.DB, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	slog.Info("migration completed successfully")
	return nil
}
