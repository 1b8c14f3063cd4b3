// Package local implements the local filesystem export backend. This is the
// default and models the common small-shop setup where "off-system delivery"
// is a directory that another process (or person) collects from.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ajayirepos/EchelonID/internal/config"
	"github.com/ajayirepos/EchelonID/internal/export"
)

func init() {
	// Register local export backend
	export.Register("local", func(cfg *config.Config) (export.Exporter, error) {
		return New(cfg.Export.Local.Dir)
	})
}

// LocalExporter copies artifacts into a destination directory.
type LocalExporter struct {
	dir string
}

// New creates a local exporter rooted at dir, creating it if needed.
func New(dir string) (*LocalExporter, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create export directory: %w", err)
	}
	return &LocalExporter{dir: dir}, nil
}

// Put writes the artifact under the export directory, replacing any previous
// copy.
func (e *LocalExporter) Put(ctx context.Context, name string, data []byte) error {
	path := filepath.Join(e.dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create export subdirectory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("export %s: %w", name, err)
	}
	return nil
}
