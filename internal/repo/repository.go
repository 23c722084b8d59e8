package repo

import (
	"context"

	"github.com/hamed0406/statusgrid/internal/domain"
)

// SnapshotStore holds the current ordered result set. Writers replace the
// whole set at once; readers always see one complete set.
type SnapshotStore interface {
	// Replace swaps in results and returns the new version.
	Replace(ctx context.Context, results []domain.Result) (uint64, error)
	// Snapshot returns a copy of the current set and its version.
	Snapshot(ctx context.Context) ([]domain.Result, uint64, error)
}
