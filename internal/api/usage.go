package api

import (
	"net/http"
	"time"

	"github.com/nugget/refine/internal/usage"
)

const defaultUsageWindow = 24 * time.Hour

// UsageResponse is the body of GET /v1/usage: the ledger report for the
// window plus counters for this process.
type UsageResponse struct {
	*usage.Report
	Session SessionStatsSnapshot `json:"session"`
}

// handleUsage reports ledger totals for a trailing window.
// GET /v1/usage?since=72h
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "unavailable", "usage ledger is disabled")
		return
	}

	window := defaultUsageWindow
	if v := r.URL.Query().Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			s.errorResponse(w, http.StatusBadRequest, "invalid_request", "since must be a positive duration such as 24h")
			return
		}
		window = d
	}

	until := time.Now().Add(time.Second)
	rep, err := s.usage.Report(r.Context(), until.Add(-window), until)
	if err != nil {
		s.logger.Error("usage query failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "internal", "usage query failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, UsageResponse{Report: rep, Session: s.stats.Snapshot()}, s.logger)
}
