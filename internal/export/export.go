// Package export defines the Exporter interface and backend factory for the
// run's export stage: after a run produces its report artifacts, each one is
// copied into a separate destination namespace, simulating delivery to an
// off-system consumer (a GRC tool, an auditor's drop zone).
//
// New backends are added by implementing the Exporter interface and
// registering with the factory via an init() function in the backend's own
// package; main imports each backend with a blank import to trigger init().
// Adding a backend therefore requires no changes to the factory or the run
// orchestrator.
package export

import (
	"context"
	"fmt"

	"github.com/ajayirepos/EchelonID/internal/config"
)

// Exporter delivers one named artifact to the destination namespace.
type Exporter interface {
	// Put writes data under name in the destination, overwriting any
	// previous copy of the same artifact.
	Put(ctx context.Context, name string, data []byte) error
}

// FactoryFunc creates an exporter from application configuration.
type FactoryFunc func(*config.Config) (Exporter, error)

var factories = make(map[string]FactoryFunc)

// Register registers an exporter factory under a backend name.
func Register(name string, factory FactoryFunc) {
	factories[name] = factory
}

// New creates the exporter selected by cfg.Export.Backend.
func New(cfg *config.Config) (Exporter, error) {
	factory, ok := factories[cfg.Export.Backend]
	if !ok {
		return nil, fmt.Errorf("unsupported export backend: %s (must be 'local', 's3', 'azure', or 'gcs')", cfg.Export.Backend)
	}
	return factory(cfg)
}
