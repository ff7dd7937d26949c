// Package storage persists a write-only journal of finished probes.
// The prober never reads it back; it exists for operators and the history API.
package storage

import (
	"context"

	"github.com/gateway-fm/txprober/pkg/types"
)

// Storage defines the persistence interface for probe history.
type Storage interface {
	RecordProbe(ctx context.Context, rec *types.ProbeRecord) error
	ListProbes(ctx context.Context, limit, offset int) (*types.PaginatedProbes, error)

	// Lifecycle
	Close() error
}
