package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/okian/medrank/internal/domain/model"
	"github.com/okian/medrank/internal/domain/recommend"
	"github.com/okian/medrank/internal/domain/types"
	"github.com/okian/medrank/pkg/logger"
)

// RecommendHandler serves the read side: recommendations, cards and the dashboard.
type RecommendHandler struct {
	deps Dependencies
	log  logger.Logger
}

// NewRecommendHandler creates a new recommendation handler.
func NewRecommendHandler(deps Dependencies, log logger.Logger) *RecommendHandler {
	return &RecommendHandler{deps: deps, log: log}
}

// HandleRecommend handles GET /recommendations.
func (h *RecommendHandler) HandleRecommend(w http.ResponseWriter, r *http.Request) {
	const op = "recommend"
	p, err := parseRecommend(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}

	rec, err := h.deps.Recommend(r.Context(), recommend.Query{
		Filter:        model.Filter{TreatmentID: p.TreatmentID, Country: p.Country, Language: p.Language},
		Limit:         p.Limit,
		MinScore:      p.MinScore,
		MinSampleSize: p.MinSampleSize,
	})
	if err != nil {
		writeInternal(r.Context(), h.log, w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, types.FromRecommendation(rec))
}

// HandleHospital handles GET /hospitals/{id}.
func (h *RecommendHandler) HandleHospital(w http.ResponseWriter, r *http.Request) {
	const op = "hospital"
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "bad_request", errors.New("hospital id must be a positive integer"))
		return
	}

	card, err := h.deps.Hospital(r.Context(), id)
	switch {
	case errors.Is(err, recommend.ErrHospitalNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
		return
	case err != nil:
		writeInternal(r.Context(), h.log, w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, types.FromCard(card))
}

// HandleDashboard handles GET /dashboard.
func (h *RecommendHandler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	const op = "dashboard"
	p, err := parsePeriod(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	period := model.RecommendPeriod
	if p.Period != "" {
		period = model.Period(p.Period)
	}

	d, err := h.deps.Dashboard(r.Context(), period)
	if err != nil {
		writeInternal(r.Context(), h.log, w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, types.FromDashboard(d))
}
