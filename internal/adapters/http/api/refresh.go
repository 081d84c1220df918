package api

import (
	"errors"
	"net/http"

	service "github.com/okian/medrank/internal/app"
	"github.com/okian/medrank/internal/domain/model"
	"github.com/okian/medrank/internal/domain/types"
	"github.com/okian/medrank/pkg/logger"
)

const defaultRefreshReason = "api"

// RefreshHandler triggers snapshot refreshes.
type RefreshHandler struct {
	deps Dependencies
	log  logger.Logger
}

// NewRefreshHandler creates a new refresh handler.
func NewRefreshHandler(deps Dependencies, log logger.Logger) *RefreshHandler {
	return &RefreshHandler{deps: deps, log: log}
}

// HandleRefresh handles POST /refresh. Without a period every configured
// period is rebuilt; async=true queues the request and answers 202.
func (h *RefreshHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	const op = "refresh"
	p, err := parseRefresh(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	var periods []model.Period
	if p.Period != "" {
		periods = []model.Period{model.Period(p.Period)}
	}

	if p.Async {
		reason := p.Reason
		if reason == "" {
			reason = defaultRefreshReason
		}
		id, err := h.deps.EnqueueRefresh(r.Context(), reason, periods...)
		switch {
		case errors.Is(err, service.ErrRefreshPending):
			writeJSON(w, http.StatusAccepted, types.RefreshResponse{Status: "already_queued"})
			return
		case errors.Is(err, service.ErrQueueFull):
			writeError(w, http.StatusTooManyRequests, "backpressure", err)
			return
		case errors.Is(err, service.ErrNotStarted):
			writeError(w, http.StatusServiceUnavailable, "unavailable", err)
			return
		case err != nil:
			writeInternal(r.Context(), h.log, w, op, err)
			return
		}
		writeJSON(w, http.StatusAccepted, types.RefreshResponse{Status: "queued", RequestID: id})
		return
	}

	reports, err := h.deps.Refresh(r.Context(), periods...)
	switch {
	case err == nil:
	case len(reports) > 0:
		// Committed periods stay committed; report them with the failures.
	case errors.Is(err, service.ErrRefreshInProgress):
		writeError(w, http.StatusConflict, "refresh_in_progress", err)
		return
	default:
		writeInternal(r.Context(), h.log, w, op, err)
		return
	}

	out := types.RefreshResponse{Status: "completed", Reports: make([]types.RefreshReport, 0, len(reports))}
	for _, rep := range reports {
		out.Reports = append(out.Reports, toReport(rep))
	}
	if err != nil {
		out.Status = "partial"
		out.Errors = h.refreshErrors(r, err)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *RefreshHandler) refreshErrors(r *http.Request, err error) []types.RefreshError {
	failed := service.PeriodErrors(err)
	out := make([]types.RefreshError, 0, len(failed))
	for _, pe := range failed {
		re := types.RefreshError{Period: pe.Period.String(), Code: "internal", Message: "refresh failed"}
		if errors.Is(pe.Err, service.ErrRefreshInProgress) {
			re.Code, re.Message = "refresh_in_progress", pe.Err.Error()
		} else {
			h.log.Error(r.Context(), "period refresh failed",
				logger.String("period", re.Period), logger.Error(pe.Err))
		}
		out = append(out, re)
	}
	return out
}

func toReport(rep service.Report) types.RefreshReport {
	failed := make([]string, 0, len(rep.Failures))
	for _, f := range rep.Failures {
		failed = append(failed, f.Key.String())
	}
	return types.RefreshReport{
		RunID:          rep.RunID,
		Period:         rep.Period.String(),
		PriorVersion:   rep.Prior.Version,
		Scanned:        rep.Scanned,
		Segments:       rep.Segments,
		Dropped:        rep.Dropped,
		FailedSegments: failed,
		DurationMs:     rep.Duration.Milliseconds(),
		CompletedAt:    rep.CompletedAt,
	}
}
