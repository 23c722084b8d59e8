package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hamed0406/statusgrid/internal/aggregator"
	"github.com/hamed0406/statusgrid/internal/domain"
	apimw "github.com/hamed0406/statusgrid/internal/httpapi/middleware"
	"github.com/hamed0406/statusgrid/internal/metrics"
)

// Aggregator is the consumer interface of the probe aggregator.
type Aggregator interface {
	Endpoints() []domain.Endpoint
	IsRefreshing() bool
	RefreshAll(ctx context.Context) ([]domain.Result, error)
	Start(ctx context.Context) (<-chan error, error)
	Snapshot(ctx context.Context) (aggregator.Snapshot, error)
}

type Options struct {
	AllowedOrigins []string
	AdminKeys      []string
	RateLimitRPM   int
	RateLimitBurst int
}

type Server struct {
	Logger *zap.Logger
	Agg    Aggregator
	Hub    http.Handler // serves /ws; optional
	Opts   Options

	// background refreshes started by POST /api/refresh run under baseCtx
	baseCtx context.Context
	wg      sync.WaitGroup
}

func NewServer(ctx context.Context, l *zap.Logger, agg Aggregator, hub http.Handler, opts Options) *Server {
	return &Server{Logger: l, Agg: agg, Hub: hub, Opts: opts, baseCtx: ctx}
}

// Wait blocks until background refreshes have returned.
func (s *Server) Wait() { s.wg.Wait() }

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.Opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		MaxAge:         300,
	}))
	r.Use(apimw.RateLimit(s.Opts.RateLimitRPM, s.Opts.RateLimitBurst))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler(s.Agg, s.Logger))

	r.Route("/api", func(r chi.Router) {
		r.Get("/endpoints", s.handleListEndpoints)
		r.Get("/status", s.handleStatus)
		r.With(apimw.RequireAdmin(s.Opts.AdminKeys)).Post("/refresh", s.handleRefresh)
	})

	if s.Hub != nil {
		r.Handle("/ws", s.Hub)
	}
	return r
}

func (s *Server) handleListEndpoints(w http.ResponseWriter, r *http.Request) {
	eps := s.Agg.Endpoints()
	if env := r.URL.Query().Get("environment"); env != "" {
		e, err := domain.ParseEnvironment(env)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filtered := eps[:0]
		for _, ep := range eps {
			if ep.Environment == e {
				filtered = append(filtered, ep)
			}
		}
		eps = filtered
	}
	writeJSON(w, http.StatusOK, eps)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Agg.Snapshot(r.Context())
	if err != nil {
		s.Logger.Warn("status_snapshot_error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "snapshot error")
		return
	}
	view := NewStatusView(snap)
	if env := r.URL.Query().Get("environment"); env != "" {
		e, err := domain.ParseEnvironment(env)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		view = view.Only(e)
	}
	writeJSON(w, http.StatusOK, view)
}

// handleRefresh starts a refresh cycle. By default it returns 202 at once
// and the cycle runs in the background; with ?wait=true it answers with
// the finished snapshot.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))

	if wait {
		_, err := s.Agg.RefreshAll(r.Context())
		if errors.Is(err, aggregator.ErrRefreshInProgress) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		if err != nil {
			s.Logger.Warn("refresh_error", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "refresh aborted")
			return
		}
		s.handleStatus(w, r)
		return
	}

	done, err := s.Agg.Start(s.baseCtx)
	if errors.Is(err, aggregator.ErrRefreshInProgress) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.Logger.Warn("refresh_start_error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "refresh not started")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := <-done; err != nil {
			s.Logger.Warn("background_refresh_error", zap.Error(err))
		}
	}()
	s.Logger.Info("refresh_requested", zap.String("remote", r.RemoteAddr))

	snap, err := s.Agg.Snapshot(r.Context())
	if err != nil {
		writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
		return
	}
	writeJSON(w, http.StatusAccepted, NewStatusView(snap))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
