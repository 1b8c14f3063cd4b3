// Package gcs implements the Google Cloud Storage export backend. With no
// service account key configured it uses Application Default Credentials,
// which covers GCE/GKE metadata credentials and local gcloud logins.
package gcs

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	appconfig "github.com/ajayirepos/EchelonID/internal/config"
	"github.com/ajayirepos/EchelonID/internal/export"
)

func init() {
	// Register GCS export backend
	export.Register("gcs", func(cfg *appconfig.Config) (export.Exporter, error) {
		return New(&cfg.Export.GCS)
	})
}

// GCSExporter delivers artifacts to a GCS bucket.
type GCSExporter struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS exporter from configuration.
func New(cfg *appconfig.GCSExportConfig) (*GCSExporter, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket name is required")
	}

	ctx := context.Background()
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}

	return &GCSExporter{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Put uploads the artifact to the bucket under the configured prefix.
func (e *GCSExporter) Put(ctx context.Context, name string, data []byte) error {
	object := name
	if e.prefix != "" {
		object = strings.TrimSuffix(e.prefix, "/") + "/" + name
	}
	w := e.client.Bucket(e.bucket).Object(object).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("export %s to gs://%s/%s: %w", name, e.bucket, object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("export %s to gs://%s/%s: %w", name, e.bucket, object, err)
	}
	return nil
}
