// Package azure implements the Azure Blob Storage export backend using shared
// key authentication.
package azure

import (
	"context"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/ajayirepos/EchelonID/internal/config"
	"github.com/ajayirepos/EchelonID/internal/export"
)

func init() {
	// Register Azure export backend
	export.Register("azure", func(cfg *config.Config) (export.Exporter, error) {
		return New(&cfg.Export.Azure)
	})
}

// AzureExporter delivers artifacts to a blob container.
type AzureExporter struct {
	client    *azblob.Client
	container string
	prefix    string
}

// New creates an Azure exporter from configuration.
func New(cfg *config.AzureExportConfig) (*AzureExporter, error) {
	if cfg.AccountName == "" {
		return nil, fmt.Errorf("azure storage account name is required")
	}
	if cfg.AccountKey == "" {
		return nil, fmt.Errorf("azure storage account key is required")
	}
	if cfg.ContainerName == "" {
		return nil, fmt.Errorf("azure storage container name is required")
	}

	credential, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("create Azure credential: %w", err)
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("create Azure client: %w", err)
	}

	return &AzureExporter{client: client, container: cfg.ContainerName, prefix: cfg.Prefix}, nil
}

// Put uploads the artifact into the container under the configured prefix.
func (e *AzureExporter) Put(ctx context.Context, name string, data []byte) error {
	blobName := name
	if e.prefix != "" {
		blobName = strings.TrimSuffix(e.prefix, "/") + "/" + name
	}
	_, err := e.client.UploadBuffer(ctx, e.container, blobName, data, &azblob.UploadBufferOptions{})
	if err != nil {
		return fmt.Errorf("export %s to azure container %s: %w", name, e.container, err)
	}
	return nil
}
