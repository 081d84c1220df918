package api

import (
	"errors"
	"net/http"

	"github.com/okian/medrank/internal/domain/prior"
	"github.com/okian/medrank/internal/domain/scoring"
	"github.com/okian/medrank/internal/domain/types"
	"github.com/okian/medrank/pkg/logger"
)

// PriorHandler serves the global prior and the shrinkage simulator.
type PriorHandler struct {
	deps Dependencies
	log  logger.Logger
}

// NewPriorHandler creates a new prior handler.
func NewPriorHandler(deps Dependencies, log logger.Logger) *PriorHandler {
	return &PriorHandler{deps: deps, log: log}
}

// HandleGetPrior handles GET /prior.
func (h *PriorHandler) HandleGetPrior(w http.ResponseWriter, r *http.Request) {
	const op = "prior"
	p, err := h.deps.Prior(r.Context())
	switch {
	case errors.Is(err, prior.ErrNoPrior):
		writeError(w, http.StatusNotFound, "not_found", err)
		return
	case err != nil:
		writeInternal(r.Context(), h.log, w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, types.FromPrior(p))
}

// HandleRecompute handles POST /prior/recompute.
func (h *PriorHandler) HandleRecompute(w http.ResponseWriter, r *http.Request) {
	const op = "prior_recompute"
	p, err := h.deps.RecomputePrior(r.Context())
	switch {
	case errors.Is(err, prior.ErrInsufficientData):
		writeError(w, http.StatusUnprocessableEntity, "insufficient_data", err)
		return
	case err != nil:
		writeInternal(r.Context(), h.log, w, op, err)
		return
	}
	h.log.Info(r.Context(), "global prior recomputed",
		logger.Int64("version", p.Version),
		logger.Float64("booking_rate", p.BookingRate))
	writeJSON(w, http.StatusOK, types.FromPrior(p))
}

// HandleSimulate handles GET /simulate.
func (h *PriorHandler) HandleSimulate(w http.ResponseWriter, r *http.Request) {
	const op = "simulate"
	p, err := parseSimulate(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}

	out, err := h.deps.Simulate(r.Context(), p.GlobalRate, p.M)
	switch {
	case errors.Is(err, scoring.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	case err != nil:
		writeInternal(r.Context(), h.log, w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, types.Simulation{Scenarios: out})
}
