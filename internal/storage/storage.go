// Package storage persists ingested batches and serves the recent history
// to viewers and the HTTP API.
package storage

import (
	"context"

	"github.com/tracksynth/tracksynth/pkg/core"
)

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// StoreBatch persists every record of a flushed batch.
	StoreBatch(ctx context.Context, b core.Batch) error

	// Recent returns up to n of the most recently stored records, oldest first.
	Recent(ctx context.Context, n int) ([]map[string]any, error)

	// History returns up to n of the most recent records of one entity,
	// oldest first.
	History(ctx context.Context, entityID string, n int) ([]map[string]any, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int64, error)
}

// Exporter is an optional interface for backends that can write their
// content as a dataset file.
type Exporter interface {
	Export(path string, compress bool) error
}
