package memory

import (
	"context"
	"sync"

	"github.com/hamed0406/statusgrid/internal/domain"
	"github.com/hamed0406/statusgrid/internal/repo"
)

var _ repo.SnapshotStore = (*Store)(nil)

// Store keeps the result set in process memory. Nothing survives a restart.
type Store struct {
	mu      sync.RWMutex
	results []domain.Result
	version uint64
}

func New() *Store {
	return &Store{}
}

func (m *Store) Replace(ctx context.Context, results []domain.Result) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	cp := make([]domain.Result, len(results))
	copy(cp, results)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = cp
	m.version++
	return m.version, nil
}

func (m *Store) Snapshot(ctx context.Context) ([]domain.Result, uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Result, len(m.results))
	copy(out, m.results)
	return out, m.version, nil
}
