package api

import (
	"net/http"

	"github.com/okian/medrank/internal/domain/types"
	"github.com/okian/medrank/pkg/logger"
)

// StatsHandler handles stats requests.
type StatsHandler struct {
	deps Dependencies
	log  logger.Logger
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(deps Dependencies, log logger.Logger) *StatsHandler {
	return &StatsHandler{deps: deps, log: log}
}

// HandleStats handles GET /stats requests.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	const op = "stats"
	st, err := h.deps.GetStats(r.Context())
	if err != nil {
		writeInternal(r.Context(), h.log, w, op, err)
		return
	}

	out := types.Stats{
		Periods:       make([]types.PeriodSummary, 0, len(st.Periods)),
		QueueLength:   st.QueueLength,
		QueueCapacity: st.QueueCapacity,
		Workers:       st.Workers,
		PriorStrength: st.PriorStrength,
	}
	for _, p := range st.Periods {
		out.Periods = append(out.Periods, types.PeriodSummary{
			Period:     p.Period.String(),
			Rows:       p.Rows,
			Hospitals:  p.Hospitals,
			ComputedAt: p.ComputedAt,
		})
	}
	if st.Prior != nil {
		p := types.FromPrior(*st.Prior)
		out.Prior = &p
	}
	writeJSON(w, http.StatusOK, out)
}
