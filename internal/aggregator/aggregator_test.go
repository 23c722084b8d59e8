package aggregator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hamed0406/statusgrid/internal/domain"
	"github.com/hamed0406/statusgrid/internal/probe"
	"github.com/hamed0406/statusgrid/internal/repo/memory"
)

// --- helpers ---

func endpoints(n int, env domain.Environment) []domain.Endpoint {
	out := make([]domain.Endpoint, n)
	for i := range out {
		out[i] = domain.Endpoint{
			URL:         fmt.Sprintf("https://%s-%d.example/health", env, i),
			Name:        fmt.Sprintf("svc-%d", i),
			Environment: env,
		}
	}
	return out
}

func okResult(ep domain.Endpoint) domain.Result {
	return domain.Completed(ep, domain.StatusSuccess, "ok", time.Millisecond, time.Now())
}

func failResult(ep domain.Endpoint) domain.Result {
	return domain.Completed(ep, domain.StatusFailure, "HTTP 503 - Service Unavailable", time.Millisecond, time.Now())
}

// outcomeChecker answers from a url->online table.
func outcomeChecker(online map[string]bool) probe.Checker {
	return probe.CheckerFunc(func(_ context.Context, ep domain.Endpoint) domain.Result {
		if online[ep.URL] {
			return okResult(ep)
		}
		return failResult(ep)
	})
}

func newAggregator(t *testing.T, eps []domain.Endpoint, chk probe.Checker) *Aggregator {
	t.Helper()
	a, err := New(zap.NewNop(), eps, chk, memory.New())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

// --- tests ---

func TestNew_SeedsPendingResults(t *testing.T) {
	g := NewWithT(t)
	eps := endpoints(3, domain.Prod)
	a := newAggregator(t, eps, outcomeChecker(nil))

	snap, err := a.Snapshot(context.Background())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(snap.Results).To(HaveLen(3))
	for i, r := range snap.Results {
		g.Expect(r.Status).To(Equal(domain.StatusPending))
		g.Expect(r.URL).To(Equal(eps[i].URL))
		g.Expect(r.Valid()).To(BeTrue())
	}
	g.Expect(snap.Refreshing).To(BeFalse())
	g.Expect(snap.Summary.All).To(Equal(domain.Counts{Online: 0, Total: 3}))
}

func TestNew_RequiresCheckerAndStore(t *testing.T) {
	if _, err := New(nil, nil, nil, memory.New()); err == nil {
		t.Fatalf("want error without checker")
	}
	if _, err := New(nil, nil, outcomeChecker(nil), nil); err == nil {
		t.Fatalf("want error without store")
	}
}

func TestRefreshAll_ResultCountMatchesRegistry(t *testing.T) {
	for _, n := range []int{0, 1, 7, 50} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			g := NewWithT(t)
			eps := endpoints(n, domain.Stage)
			a := newAggregator(t, eps, outcomeChecker(nil))

			got, err := a.RefreshAll(context.Background())
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(got).To(HaveLen(n))
			for i := range got {
				g.Expect(got[i].URL).To(Equal(eps[i].URL))
			}
		})
	}
}

func TestRefreshAll_PreservesRegistryOrder(t *testing.T) {
	g := NewWithT(t)
	eps := endpoints(8, domain.Prod)
	index := make(map[string]int, len(eps))
	for i, ep := range eps {
		index[ep.URL] = i
	}
	// earlier endpoints finish later
	chk := probe.CheckerFunc(func(_ context.Context, ep domain.Endpoint) domain.Result {
		time.Sleep(time.Duration(len(eps)-index[ep.URL]) * 5 * time.Millisecond)
		return okResult(ep)
	})
	a := newAggregator(t, eps, chk)

	got, err := a.RefreshAll(context.Background())
	g.Expect(err).NotTo(HaveOccurred())
	urls := make([]string, len(got))
	for i, r := range got {
		urls[i] = r.URL
	}
	want := make([]string, len(eps))
	for i, ep := range eps {
		want[i] = ep.URL
	}
	g.Expect(urls).To(Equal(want))
}

func TestRefreshAll_ProbesConcurrently(t *testing.T) {
	eps := endpoints(10, domain.Prod)
	chk := probe.CheckerFunc(func(_ context.Context, ep domain.Endpoint) domain.Result {
		time.Sleep(100 * time.Millisecond)
		return okResult(ep)
	})
	a := newAggregator(t, eps, chk)

	start := time.Now()
	if _, err := a.RefreshAll(context.Background()); err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}
	if el := time.Since(start); el > 600*time.Millisecond {
		t.Fatalf("probes look sequential: took %v", el)
	}
}

func TestRefreshAll_AggregateCounts(t *testing.T) {
	g := NewWithT(t)
	prod := endpoints(4, domain.Prod)
	stage := endpoints(4, domain.Stage)
	eps := append(append([]domain.Endpoint{}, prod...), stage...)
	online := map[string]bool{
		prod[0].URL: true, prod[1].URL: true, prod[3].URL: true,
		stage[1].URL: true, stage[2].URL: true,
	}
	a := newAggregator(t, eps, outcomeChecker(online))

	_, err := a.RefreshAll(context.Background())
	g.Expect(err).NotTo(HaveOccurred())

	sum, err := a.Summary(context.Background())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(sum.Prod).To(Equal(domain.Counts{Online: 3, Total: 4}))
	g.Expect(sum.Stage).To(Equal(domain.Counts{Online: 2, Total: 4}))
	g.Expect(sum.All).To(Equal(domain.Counts{Online: 5, Total: 8}))
}

func TestRefreshAll_IsIdempotentAgainstStableEndpoints(t *testing.T) {
	g := NewWithT(t)
	okSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`"ok"`))
	}))
	defer okSrv.Close()
	downSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"detail":"db down"}`))
	}))
	defer downSrv.Close()

	eps := []domain.Endpoint{
		{URL: okSrv.URL, Name: "ok", Environment: domain.Prod},
		{URL: downSrv.URL, Name: "down", Environment: domain.Stage},
	}
	chk, err := probe.NewHTTPChecker(probe.WithTimeout(2 * time.Second))
	g.Expect(err).NotTo(HaveOccurred())
	a := newAggregator(t, eps, chk)

	first, err := a.RefreshAll(context.Background())
	g.Expect(err).NotTo(HaveOccurred())
	second, err := a.RefreshAll(context.Background())
	g.Expect(err).NotTo(HaveOccurred())

	for i := range first {
		g.Expect(second[i].Status).To(Equal(first[i].Status))
		g.Expect(second[i].MessageText()).To(Equal(first[i].MessageText()))
	}
	g.Expect(first[0].Status).To(Equal(domain.StatusSuccess))
	g.Expect(first[0].MessageText()).To(Equal("ok"))
	g.Expect(first[1].Status).To(Equal(domain.StatusFailure))
	g.Expect(first[1].MessageText()).To(Equal("HTTP 503 - Service Unavailable"))
}

func TestRefreshAll_SingleFlight(t *testing.T) {
	g := NewWithT(t)
	eps := endpoints(3, domain.Prod)
	release := make(chan struct{})
	started := make(chan struct{}, len(eps))
	chk := probe.CheckerFunc(func(_ context.Context, ep domain.Endpoint) domain.Result {
		started <- struct{}{}
		<-release
		return okResult(ep)
	})
	a := newAggregator(t, eps, chk)

	done := make(chan error, 1)
	go func() {
		_, err := a.RefreshAll(context.Background())
		done <- err
	}()
	for range eps {
		<-started
	}

	g.Expect(a.IsRefreshing()).To(BeTrue())

	// the in-flight cycle is visible as pending
	snap, err := a.Snapshot(context.Background())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(snap.Refreshing).To(BeTrue())
	for _, r := range snap.Results {
		g.Expect(r.Status).To(Equal(domain.StatusPending))
	}

	_, err = a.RefreshAll(context.Background())
	g.Expect(errors.Is(err, ErrRefreshInProgress)).To(BeTrue())

	close(release)
	g.Expect(<-done).To(Succeed())
	g.Expect(a.IsRefreshing()).To(BeFalse())

	// a new refresh is allowed once the first one finished
	_, err = a.RefreshAll(context.Background())
	g.Expect(err).NotTo(HaveOccurred())
}

func TestStart_ClaimsSlotBeforeReturning(t *testing.T) {
	g := NewWithT(t)
	eps := endpoints(2, domain.Stage)
	release := make(chan struct{})
	chk := probe.CheckerFunc(func(_ context.Context, ep domain.Endpoint) domain.Result {
		<-release
		return okResult(ep)
	})
	a := newAggregator(t, eps, chk)

	done, err := a.Start(context.Background())
	g.Expect(err).NotTo(HaveOccurred())
	// no waiting: the slot is taken as soon as Start returns
	g.Expect(a.IsRefreshing()).To(BeTrue())

	const racers = 8
	errs := make(chan error, racers)
	for i := 0; i < racers; i++ {
		go func() {
			_, err := a.Start(context.Background())
			errs <- err
		}()
	}
	for i := 0; i < racers; i++ {
		g.Expect(errors.Is(<-errs, ErrRefreshInProgress)).To(BeTrue())
	}
	_, err = a.RefreshAll(context.Background())
	g.Expect(errors.Is(err, ErrRefreshInProgress)).To(BeTrue())

	close(release)
	g.Expect(<-done).To(Succeed())
	_, open := <-done
	g.Expect(open).To(BeFalse())
	g.Expect(a.IsRefreshing()).To(BeFalse())

	sum, err := a.Summary(context.Background())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(sum.Stage).To(Equal(domain.Counts{Online: 2, Total: 2}))
}

func TestRefreshAll_CancelledKeepsPreviousResults(t *testing.T) {
	g := NewWithT(t)
	eps := endpoints(2, domain.Prod)
	var block atomic.Bool
	chk := probe.CheckerFunc(func(ctx context.Context, ep domain.Endpoint) domain.Result {
		if block.Load() {
			<-ctx.Done()
			return domain.Completed(ep, domain.StatusFailure, ctx.Err().Error(), 0, time.Now())
		}
		return okResult(ep)
	})
	a := newAggregator(t, eps, chk)

	good, err := a.RefreshAll(context.Background())
	g.Expect(err).NotTo(HaveOccurred())

	block.Store(true)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = a.RefreshAll(ctx)
	g.Expect(err).To(MatchError(context.DeadlineExceeded))

	after, err := a.Results(context.Background())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(after).To(Equal(good))
	g.Expect(a.IsRefreshing()).To(BeFalse())
}

func TestRefreshAll_ContainsPanicsAndInvalidResults(t *testing.T) {
	g := NewWithT(t)
	eps := endpoints(3, domain.Stage)
	chk := probe.CheckerFunc(func(_ context.Context, ep domain.Endpoint) domain.Result {
		switch ep.URL {
		case eps[0].URL:
			panic("boom")
		case eps[1].URL:
			return domain.Pending(ep)
		}
		return okResult(ep)
	})
	a := newAggregator(t, eps, chk)

	got, err := a.RefreshAll(context.Background())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(got[0].Status).To(Equal(domain.StatusFailure))
	g.Expect(got[0].MessageText()).To(ContainSubstring("boom"))
	g.Expect(got[1].Status).To(Equal(domain.StatusFailure))
	g.Expect(got[1].MessageText()).To(Equal("invalid probe result"))
	g.Expect(got[2].Status).To(Equal(domain.StatusSuccess))
	for _, r := range got {
		g.Expect(r.Valid()).To(BeTrue())
	}
}

func TestRefreshAll_LogsCycle(t *testing.T) {
	g := NewWithT(t)
	core, logs := observer.New(zapcore.DebugLevel)
	eps := endpoints(2, domain.Prod)
	a, err := New(zap.New(core), eps, outcomeChecker(map[string]bool{eps[0].URL: true}), memory.New())
	g.Expect(err).NotTo(HaveOccurred())

	_, err = a.RefreshAll(context.Background())
	g.Expect(err).NotTo(HaveOccurred())

	g.Expect(logs.FilterMessage("refresh_started").Len()).To(Equal(1))
	g.Expect(logs.FilterMessage("probe_done").Len()).To(Equal(2))
	done := logs.FilterMessage("refresh_done").All()
	g.Expect(done).To(HaveLen(1))
	g.Expect(done[0].ContextMap()).To(HaveKeyWithValue("online", int64(1)))
	g.Expect(done[0].ContextMap()).To(HaveKeyWithValue("total", int64(2)))
}

func TestSubscribe_SeesPendingThenFinal(t *testing.T) {
	g := NewWithT(t)
	eps := endpoints(2, domain.Prod)
	release := make(chan struct{})
	chk := probe.CheckerFunc(func(_ context.Context, ep domain.Endpoint) domain.Result {
		<-release
		return okResult(ep)
	})
	a := newAggregator(t, eps, chk)
	ch, cancel := a.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = a.RefreshAll(context.Background())
	}()

	var snap Snapshot
	g.Eventually(ch).Should(Receive(&snap))
	g.Expect(snap.Refreshing).To(BeTrue())
	g.Expect(snap.Results[0].Status).To(Equal(domain.StatusPending))

	close(release)
	<-done

	g.Eventually(ch).Should(Receive(&snap))
	g.Expect(snap.Refreshing).To(BeFalse())
	g.Expect(snap.Summary.All).To(Equal(domain.Counts{Online: 2, Total: 2}))

	cancel()
	g.Eventually(ch).Should(BeClosed())
}
