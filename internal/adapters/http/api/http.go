// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	service "github.com/okian/medrank/internal/app"
	"github.com/okian/medrank/internal/domain/model"
	"github.com/okian/medrank/internal/domain/recommend"
	"github.com/okian/medrank/internal/domain/scoring"
	"github.com/okian/medrank/pkg/logger"
)

// Dependencies required by HTTP handlers.
type Dependencies interface {
	Refresh(ctx context.Context, periods ...model.Period) ([]service.Report, error)
	EnqueueRefresh(ctx context.Context, reason string, periods ...model.Period) (string, error)

	Recommend(ctx context.Context, q recommend.Query) (recommend.Recommendation, error)
	Hospital(ctx context.Context, id int64) (recommend.Card, error)
	Dashboard(ctx context.Context, period model.Period) (recommend.Dashboard, error)

	Prior(ctx context.Context) (model.GlobalPrior, error)
	RecomputePrior(ctx context.Context) (model.GlobalPrior, error)
	Simulate(ctx context.Context, globalRate, m *float64) ([]scoring.Outcome, error)

	GetStats(ctx context.Context) (service.Stats, error)
}

// Mounter attaches extra routes, such as the API docs, to the router.
type Mounter interface {
	Register(r chi.Router)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler    *HealthHandler
	statsHandler     *StatsHandler
	recommendHandler *RecommendHandler
	priorHandler     *PriorHandler
	refreshHandler   *RefreshHandler
	mounts           []Mounter
	log              logger.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used for handler failures.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMount adds routes owned by another package.
func WithMount(m Mounter) Option {
	return func(s *Server) {
		if m != nil {
			s.mounts = append(s.mounts, m)
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{log: logger.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	s.healthHandler = NewHealthHandler()
	s.statsHandler = NewStatsHandler(deps, s.log)
	s.recommendHandler = NewRecommendHandler(deps, s.log)
	s.priorHandler = NewPriorHandler(deps, s.log)
	s.refreshHandler = NewRefreshHandler(deps, s.log)
	return s
}

// Routes builds the router serving every endpoint.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(Metrics)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.healthHandler.HandleHealth)
	r.Get("/stats", s.statsHandler.HandleStats)

	r.Get("/recommendations", s.recommendHandler.HandleRecommend)
	r.Get("/hospitals/{id}", s.recommendHandler.HandleHospital)
	r.Get("/dashboard", s.recommendHandler.HandleDashboard)

	r.Get("/prior", s.priorHandler.HandleGetPrior)
	r.Post("/prior/recompute", s.priorHandler.HandleRecompute)
	r.Get("/simulate", s.priorHandler.HandleSimulate)

	r.Post("/refresh", s.refreshHandler.HandleRefresh)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
	})

	for _, m := range s.mounts {
		m.Register(r)
	}
	return r
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeJSON encodes before writing the header so an unencodable body becomes
// a 500 instead of an empty 200.
func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body, _ = json.Marshal(errorResponse{Code: "encode", Message: err.Error()})
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeInternal logs err and answers 500 unless the client went away.
func writeInternal(ctx context.Context, log logger.Logger, w http.ResponseWriter, op string, err error) {
	if errors.Is(err, context.Canceled) {
		writeError(w, statusClientClosed, "cancelled", err)
		return
	}
	log.Error(ctx, "request failed", logger.String("op", op), logger.Error(err))
	writeError(w, http.StatusInternalServerError, "internal", err)
}
