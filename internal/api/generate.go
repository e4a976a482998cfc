package api

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strings"

	"github.com/nugget/refine/internal/generator"
	"github.com/nugget/refine/internal/usage"
	"github.com/nugget/refine/internal/web"
)

// maxRequestBytes bounds a generate request body.
const maxRequestBytes = 256 << 10

// GenerateRequest is the body of POST /v1/generate.
type GenerateRequest struct {
	WorkItem    string `json:"work_item"`
	TeamContext string `json:"team_context,omitempty"`

	// APIKey is honored only when user keys are allowed.
	APIKey string `json:"api_key,omitempty"`
}

// GenerateResponse is the success body of POST /v1/generate.
type GenerateResponse struct {
	Markdown        string   `json:"markdown"`
	Model           string   `json:"model"`
	InputTokens     int      `json:"input_tokens"`
	OutputTokens    int      `json:"output_tokens"`
	DurationMS      int64    `json:"duration_ms"`
	MissingSections []string `json:"missing_sections"`
	Filename        string   `json:"filename"`
}

// statusFor maps a generation outcome to an HTTP status.
func statusFor(kind generator.Kind) int {
	switch kind {
	case generator.KindOK:
		return http.StatusOK
	case generator.KindAuthenticationFailure:
		return http.StatusUnauthorized
	case generator.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		// MissingCredential is a deployment problem, not a client one.
		return http.StatusInternalServerError
	}
}

// handleGenerate converts one work item.
// POST /v1/generate {"work_item": "Fix the slow dashboard"}
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.errorResponse(w, http.StatusRequestEntityTooLarge, "invalid_request", "request body too large")
			return
		}
		s.errorResponse(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if strings.TrimSpace(req.WorkItem) == "" {
		s.errorResponse(w, http.StatusBadRequest, "invalid_request", "Work item is required")
		return
	}

	credential := s.cfg.Credential
	if s.cfg.AllowUserKey && strings.TrimSpace(req.APIKey) != "" {
		credential = req.APIKey
	}

	res := s.gen.Generate(r.Context(), generator.Request{
		WorkItem:    req.WorkItem,
		TeamContext: req.TeamContext,
		Credential:  credential,
	})
	s.record(r.Context(), usage.SurfaceAPI, res)

	if !res.OK() {
		s.errorResponse(w, statusFor(res.Kind), res.Kind.String(), res.Message())
		return
	}

	if wantsMarkdown(r) {
		web.ServeDownload(w, res.Markdown)
		return
	}

	missing := res.MissingSections
	if missing == nil {
		missing = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, GenerateResponse{
		Markdown:        res.Markdown,
		Model:           res.Model,
		InputTokens:     res.InputTokens,
		OutputTokens:    res.OutputTokens,
		DurationMS:      res.Duration.Milliseconds(),
		MissingSections: missing,
		Filename:        generator.DownloadFilename,
	}, s.logger)
}

// wantsMarkdown reports whether the client asked for the download
// artifact instead of JSON.
func wantsMarkdown(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mt, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err == nil && mt == generator.DownloadContentType {
			return true
		}
	}
	return false
}

// record updates session stats and the usage ledger for one attempt.
// Ledger failures are logged and never fail the request.
func (s *Server) record(ctx context.Context, surface string, res generator.Result) {
	cost := usage.ComputeCost(res.Model, res.InputTokens, res.OutputTokens, s.cfg.Pricing)
	s.stats.Record(res.Kind, res.InputTokens, res.OutputTokens, cost)

	if s.usage == nil {
		return
	}
	err := s.usage.Record(context.WithoutCancel(ctx), usage.Record{
		RequestID:    RequestID(ctx),
		Model:        res.Model,
		Provider:     s.cfg.Provider,
		Surface:      surface,
		Outcome:      res.Kind.String(),
		InputTokens:  res.InputTokens,
		OutputTokens: res.OutputTokens,
		Duration:     res.Duration,
		CostUSD:      cost,
	})
	if err != nil {
		s.logger.Warn("failed to record usage", "error", err)
	}
}
