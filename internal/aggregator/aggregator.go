// Package aggregator runs refresh cycles over the endpoint registry: it
// probes every endpoint concurrently, joins the results in registry order
// and swaps them into the snapshot store in one step.
//
// At most one refresh runs at a time. While it runs the store holds the
// pending set, so readers can show a "checking" state.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hamed0406/statusgrid/internal/domain"
	"github.com/hamed0406/statusgrid/internal/probe"
	"github.com/hamed0406/statusgrid/internal/repo"
)

// ErrRefreshInProgress is returned by RefreshAll while another refresh runs.
var ErrRefreshInProgress = errors.New("refresh in progress")

// Snapshot is the consumer view of the aggregator at one point in time.
type Snapshot struct {
	Version    uint64            `json:"version"`
	Refreshing bool              `json:"refreshing"`
	Endpoints  []domain.Endpoint `json:"-"`
	Results    []domain.Result   `json:"results"`
	Summary    domain.Summary    `json:"summary"`
}

type Aggregator struct {
	logger    *zap.Logger
	endpoints []domain.Endpoint
	checker   probe.Checker
	store     repo.SnapshotStore

	refreshing atomic.Bool

	subMu sync.Mutex
	subs  map[chan Snapshot]struct{}
}

// New seeds store with one pending result per endpoint.
func New(
	logger *zap.Logger,
	endpoints []domain.Endpoint,
	checker probe.Checker,
	store repo.SnapshotStore,
) (*Aggregator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if checker == nil {
		return nil, errors.New("aggregator: checker is required")
	}
	if store == nil {
		return nil, errors.New("aggregator: store is required")
	}
	eps := make([]domain.Endpoint, len(endpoints))
	copy(eps, endpoints)

	a := &Aggregator{
		logger:    logger,
		endpoints: eps,
		checker:   checker,
		store:     store,
		subs:      make(map[chan Snapshot]struct{}),
	}
	if _, err := store.Replace(context.Background(), domain.PendingAll(eps)); err != nil {
		return nil, fmt.Errorf("aggregator: seed results: %w", err)
	}
	return a, nil
}

// Endpoints returns a copy of the registry the aggregator probes.
func (a *Aggregator) Endpoints() []domain.Endpoint {
	out := make([]domain.Endpoint, len(a.endpoints))
	copy(out, a.endpoints)
	return out
}

func (a *Aggregator) IsRefreshing() bool { return a.refreshing.Load() }

// RefreshAll probes every endpoint and replaces the result set. The returned
// slice is index-aligned with Endpoints.
//
// If ctx is cancelled before every probe finished, the previous result set
// is put back and the error is returned; the result set never carries it.
func (a *Aggregator) RefreshAll(ctx context.Context) ([]domain.Result, error) {
	if !a.refreshing.CompareAndSwap(false, true) {
		return nil, ErrRefreshInProgress
	}
	return a.refresh(ctx)
}

// Start claims the refresh slot and runs the cycle in the background. It
// fails with ErrRefreshInProgress without starting anything when a refresh
// is already running. The returned channel receives the cycle's error (nil
// on success) and is then closed.
func (a *Aggregator) Start(ctx context.Context) (<-chan error, error) {
	if !a.refreshing.CompareAndSwap(false, true) {
		return nil, ErrRefreshInProgress
	}
	done := make(chan error, 1)
	go func() {
		defer close(done)
		_, err := a.refresh(ctx)
		done <- err
	}()
	return done, nil
}

// refresh runs one cycle; the caller holds the refresh slot.
func (a *Aggregator) refresh(ctx context.Context) ([]domain.Result, error) {
	defer func() {
		a.refreshing.Store(false)
		a.publish()
	}()

	prev, _, err := a.store.Snapshot(ctx)
	if err != nil {
		a.logger.Warn("refresh_read_error", zap.Error(err))
		return nil, fmt.Errorf("read results: %w", err)
	}
	if err := a.replace(ctx, domain.PendingAll(a.endpoints)); err != nil {
		a.logger.Warn("refresh_pending_error", zap.Error(err))
		return nil, fmt.Errorf("mark pending: %w", err)
	}

	start := time.Now()
	a.logger.Info("refresh_started", zap.Int("endpoints", len(a.endpoints)))

	results := make([]domain.Result, len(a.endpoints))
	var g errgroup.Group
	for i, ep := range a.endpoints {
		g.Go(func() error {
			results[i] = a.probeOne(ctx, ep)
			return nil
		})
	}
	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		a.logger.Warn("refresh_aborted",
			zap.Error(err),
			zap.Duration("elapsed", time.Since(start)),
		)
		if rerr := a.replace(context.WithoutCancel(ctx), prev); rerr != nil {
			a.logger.Error("refresh_restore_error", zap.Error(rerr))
		}
		return nil, fmt.Errorf("refresh aborted: %w", err)
	}

	if err := a.replace(context.WithoutCancel(ctx), results); err != nil {
		a.logger.Warn("refresh_store_error", zap.Error(err))
		return nil, fmt.Errorf("store results: %w", err)
	}

	sum := domain.Summarize(a.endpoints, results)
	a.logger.Info("refresh_done",
		zap.Int("online", sum.All.Online),
		zap.Int("total", sum.All.Total),
		zap.Int("prod_online", sum.Prod.Online),
		zap.Int("stage_online", sum.Stage.Online),
		zap.Duration("elapsed", time.Since(start)),
	)

	out := make([]domain.Result, len(results))
	copy(out, results)
	return out, nil
}

// probeOne contains every failure of a single probe, panics included.
func (a *Aggregator) probeOne(ctx context.Context, ep domain.Endpoint) (res domain.Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("probe_panic", zap.String("url", ep.URL), zap.Any("panic", r))
			res = domain.Completed(ep, domain.StatusFailure, fmt.Sprintf("probe panic: %v", r), time.Since(start), time.Now())
		}
	}()

	res = a.checker.Check(ctx, ep)
	res.URL, res.Name = ep.URL, ep.Name
	if res.Status == domain.StatusPending || !res.Valid() {
		res = domain.Completed(ep, domain.StatusFailure, "invalid probe result", time.Since(start), time.Now())
	}

	a.logger.Debug("probe_done",
		zap.String("url", ep.URL),
		zap.String("name", ep.Name),
		zap.String("environment", string(ep.Environment)),
		zap.String("status", string(res.Status)),
		zap.Int64p("response_time_ms", res.ResponseTimeMS),
	)
	return res
}

func (a *Aggregator) replace(ctx context.Context, results []domain.Result) error {
	if _, err := a.store.Replace(ctx, results); err != nil {
		return err
	}
	a.publish()
	return nil
}

// Snapshot returns the current results, counts and refresh flag.
func (a *Aggregator) Snapshot(ctx context.Context) (Snapshot, error) {
	results, version, err := a.store.Snapshot(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read results: %w", err)
	}
	return Snapshot{
		Version:    version,
		Refreshing: a.IsRefreshing(),
		Endpoints:  a.Endpoints(),
		Results:    results,
		Summary:    domain.Summarize(a.endpoints, results),
	}, nil
}

// Results returns the current ordered result set.
func (a *Aggregator) Results(ctx context.Context) ([]domain.Result, error) {
	results, _, err := a.store.Snapshot(ctx)
	return results, err
}

// Summary recomputes the counts from the current result set.
func (a *Aggregator) Summary(ctx context.Context) (domain.Summary, error) {
	results, _, err := a.store.Snapshot(ctx)
	if err != nil {
		return domain.Summary{}, err
	}
	return domain.Summarize(a.endpoints, results), nil
}
