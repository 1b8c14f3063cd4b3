// Package config loads and validates the EchelonID configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the EID_ prefix (e.g., EID_STORE_BACKEND
// overrides store.backend in the YAML). This layering lets the same binary run
// with a config.yaml on a workstation and with pure environment variables in a
// scheduled container job — no recompilation or different binaries needed.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Store     StoreConfig     `mapstructure:"store"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Output    OutputConfig    `mapstructure:"output"`
	Export    ExportConfig    `mapstructure:"export"`
	Reports   ReportsConfig   `mapstructure:"reports"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// StoreConfig selects and configures the user store backend
type StoreConfig struct {
	// Backend is "csv" or "postgres"
	Backend  string         `mapstructure:"backend"`
	CSV      CSVStoreConfig `mapstructure:"csv"`
	Postgres DatabaseConfig `mapstructure:"postgres"`
}

// CSVStoreConfig holds the flat-file store location
type CSVStoreConfig struct {
	Path string `mapstructure:"path"`
}

// DatabaseConfig holds PostgreSQL store connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// CatalogConfig locates the policy catalog document
type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

// FeedConfig locates the HR events feed driving the lifecycle stage
type FeedConfig struct {
	Path string `mapstructure:"path"`
}

// OutputConfig holds report and audit trail destinations
type OutputConfig struct {
	// Dir receives every report artifact and the audit summary
	Dir string `mapstructure:"dir"`
	// AuditLog is the append-only trail file
	AuditLog string `mapstructure:"audit_log"`
}

// ExportConfig selects and configures the export sink backend
type ExportConfig struct {
	// Backend is "local", "s3", "azure", or "gcs"
	Backend string            `mapstructure:"backend"`
	Local   LocalExportConfig `mapstructure:"local"`
	S3      S3ExportConfig    `mapstructure:"s3"`
	Azure   AzureExportConfig `mapstructure:"azure"`
	GCS     GCSExportConfig   `mapstructure:"gcs"`
}

// LocalExportConfig holds the local export destination directory
type LocalExportConfig struct {
	Dir string `mapstructure:"dir"`
}

// S3ExportConfig holds S3-compatible export configuration
type S3ExportConfig struct {
	// Endpoint is the S3-compatible endpoint URL (optional, for MinIO etc.)
	Endpoint string `mapstructure:"endpoint"`
	Region   string `mapstructure:"region"`
	Bucket   string `mapstructure:"bucket"`
	// Prefix namespaces this installation's artifacts within the bucket
	Prefix string `mapstructure:"prefix"`
	// Static credentials; when empty the AWS default credential chain is used
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// AzureExportConfig holds Azure Blob Storage export configuration
type AzureExportConfig struct {
	AccountName   string `mapstructure:"account_name"`
	AccountKey    string `mapstructure:"account_key"`
	ContainerName string `mapstructure:"container_name"`
	Prefix        string `mapstructure:"prefix"`
}

// GCSExportConfig holds Google Cloud Storage export configuration
type GCSExportConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
	// CredentialsFile is a service account key path; empty means Application
	// Default Credentials
	CredentialsFile string `mapstructure:"credentials_file"`
	// Endpoint overrides the GCS endpoint, for emulators
	Endpoint string `mapstructure:"endpoint"`
}

// ReportsConfig holds the HTML report server configuration
type ReportsConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// LoggingConfig holds operational logging configuration
type LoggingConfig struct {
	// Format is "json" or "text"
	Format string `mapstructure:"format"`
	// Level is "debug", "info", "warn", or "error"
	Level string `mapstructure:"level"`
}

// TelemetryConfig holds the Prometheus side-channel configuration
type TelemetryConfig struct {
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	MetricsAddr    string `mapstructure:"metrics_addr"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested structs during Unmarshal.
// viper.BindEnv only errors when called with zero keys; since every key here is a non-empty
// hardcoded string, any error indicates a programming bug and is surfaced to the caller.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Store
		"store.backend",
		"store.csv.path",
		"store.postgres.host",
		"store.postgres.port",
		"store.postgres.name",
		"store.postgres.user",
		"store.postgres.password",
		"store.postgres.ssl_mode",
		"store.postgres.max_connections",
		"store.postgres.min_idle_connections",

		// Inputs
		"catalog.path",
		"feed.path",

		// Outputs
		"output.dir",
		"output.audit_log",

		// Export
		"export.backend",
		"export.local.dir",
		"export.s3.endpoint",
		"export.s3.region",
		"export.s3.bucket",
		"export.s3.prefix",
		"export.s3.access_key_id",
		"export.s3.secret_access_key",
		"export.azure.account_name",
		"export.azure.account_key",
		"export.azure.container_name",
		"export.azure.prefix",
		"export.gcs.bucket",
		"export.gcs.prefix",
		"export.gcs.credentials_file",
		"export.gcs.endpoint",

		// Report server
		"reports.host",
		"reports.port",

		// Logging
		"logging.format",
		"logging.level",

		// Telemetry
		"telemetry.metrics_enabled",
		"telemetry.metrics_addr",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

// Load reads configuration from defaults, an optional YAML file, and EID_*
// environment variables, then validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/echelonid")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	v.SetEnvPrefix("EID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields so secrets can be
	// injected by tooling that only knows generic variable names.
	cfg.Store.Postgres.Password = os.ExpandEnv(cfg.Store.Postgres.Password)
	cfg.Export.S3.AccessKeyID = os.ExpandEnv(cfg.Export.S3.AccessKeyID)
	cfg.Export.S3.SecretAccessKey = os.ExpandEnv(cfg.Export.S3.SecretAccessKey)
	cfg.Export.Azure.AccountKey = os.ExpandEnv(cfg.Export.Azure.AccountKey)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Store defaults
	v.SetDefault("store.backend", "csv")
	v.SetDefault("store.csv.path", "users.csv")
	v.SetDefault("store.postgres.host", "localhost")
	v.SetDefault("store.postgres.port", 5432)
	v.SetDefault("store.postgres.name", "echelonid")
	v.SetDefault("store.postgres.user", "echelonid")
	v.SetDefault("store.postgres.ssl_mode", "require")
	v.SetDefault("store.postgres.max_connections", 5)
	v.SetDefault("store.postgres.min_idle_connections", 1)

	// Input defaults
	v.SetDefault("catalog.path", "roles.yaml")
	v.SetDefault("feed.path", "hr_events.csv")

	// Output defaults
	v.SetDefault("output.dir", "output")
	v.SetDefault("output.audit_log", "output/lifecycle_log.txt")

	// Export defaults
	v.SetDefault("export.backend", "local")
	v.SetDefault("export.local.dir", "export")

	// Report server defaults
	v.SetDefault("reports.host", "127.0.0.1")
	v.SetDefault("reports.port", 8080)

	// Logging defaults
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.level", "info")

	// Telemetry defaults
	v.SetDefault("telemetry.metrics_enabled", false)
	v.SetDefault("telemetry.metrics_addr", "127.0.0.1:9090")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate store backend
	switch c.Store.Backend {
	case "csv":
		if c.Store.CSV.Path == "" {
			return fmt.Errorf("store.csv.path is required when using the csv backend")
		}
	case "postgres":
		if c.Store.Postgres.Host == "" {
			return fmt.Errorf("store.postgres.host is required when using the postgres backend")
		}
		if c.Store.Postgres.Name == "" {
			return fmt.Errorf("store.postgres.name is required when using the postgres backend")
		}
		if c.Store.Postgres.User == "" {
			return fmt.Errorf("store.postgres.user is required when using the postgres backend")
		}
	default:
		return fmt.Errorf("invalid store backend: %s (must be csv or postgres)", c.Store.Backend)
	}

	// Validate outputs
	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir is required")
	}
	if c.Output.AuditLog == "" {
		return fmt.Errorf("output.audit_log is required")
	}

	// Validate export backend
	switch c.Export.Backend {
	case "local":
		if c.Export.Local.Dir == "" {
			return fmt.Errorf("export.local.dir is required when using the local backend")
		}
	case "s3":
		if c.Export.S3.Bucket == "" {
			return fmt.Errorf("export.s3.bucket is required when using the s3 backend")
		}
		if c.Export.S3.Region == "" {
			return fmt.Errorf("export.s3.region is required when using the s3 backend")
		}
	case "azure":
		if c.Export.Azure.AccountName == "" {
			return fmt.Errorf("export.azure.account_name is required when using the azure backend")
		}
		if c.Export.Azure.AccountKey == "" {
			return fmt.Errorf("export.azure.account_key is required when using the azure backend")
		}
		if c.Export.Azure.ContainerName == "" {
			return fmt.Errorf("export.azure.container_name is required when using the azure backend")
		}
	case "gcs":
		if c.Export.GCS.Bucket == "" {
			return fmt.Errorf("export.gcs.bucket is required when using the gcs backend")
		}
	default:
		return fmt.Errorf("invalid export backend: %s (must be local, s3, azure, or gcs)", c.Export.Backend)
	}

	// Validate report server
	if c.Reports.Port < 1 || c.Reports.Port > 65535 {
		return fmt.Errorf("invalid reports port: %d", c.Reports.Port)
	}

	// Validate logging level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress returns the report server address in host:port format
func (c *ReportsConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
