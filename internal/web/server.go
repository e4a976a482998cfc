// Package web provides the form interface for Refine: paste a work item,
// get an agile description back, download it as markdown.
//
// The page holds its own state. The last output travels in the form as a
// hidden field, so the server keeps no session between requests.
package web

import (
	"context"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/refine/internal/buildinfo"
	"github.com/nugget/refine/internal/generator"
)

// maxFormBytes bounds a posted form: work item, context and the echoed
// markdown together.
const maxFormBytes = 1 << 20

// Generator is the part of *generator.Generator the web UI needs.
type Generator interface {
	Generate(ctx context.Context, req generator.Request) generator.Result
}

// Config holds the dependencies for the web server.
type Config struct {
	Generator Generator

	// Credential is the deployment's configured key. It may be empty
	// when AllowUserKey is set.
	Credential string

	// AllowUserKey shows an API key field whose value, when non-empty,
	// is used instead of Credential for that request.
	AllowUserKey bool

	BrandName string

	// Observe, if set, is called after every generation attempt.
	Observe func(r *http.Request, res generator.Result)

	Logger *slog.Logger
}

// WebServer serves the form UI.
type WebServer struct {
	gen          Generator
	credential   string
	allowUserKey bool
	brandName    string
	observe      func(r *http.Request, res generator.Result)
	page         *template.Template
	logger       *slog.Logger
}

// NewWebServer creates a web server from cfg.
func NewWebServer(cfg Config) *WebServer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	brand := cfg.BrandName
	if brand == "" {
		brand = "Agile Work Item Converter"
	}
	return &WebServer{
		gen:          cfg.Generator,
		credential:   cfg.Credential,
		allowUserKey: cfg.AllowUserKey,
		brandName:    brand,
		observe:      cfg.Observe,
		page:         parsePage(),
		logger:       logger.With("component", "web"),
	}
}

// RegisterRoutes adds the UI routes to mux.
func (s *WebServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /generate", s.handleGenerate)
	mux.HandleFunc("POST /download", s.handleDownload)
	mux.HandleFunc("GET /clear", s.handleClear)
}

// PageData is the template context for the form page.
type PageData struct {
	BrandName    string
	Version      string
	AllowUserKey bool

	// NeedsKey is set when no configured key exists and the user has
	// to provide one.
	NeedsKey bool

	WorkItem    string
	TeamContext string

	// Notice is a validation message shown above the form.
	Notice string

	// Output is nil until something has been generated.
	Output *Output
}

// Output is one generation result as the page shows it.
type Output struct {
	OK              bool
	Markdown        string
	HTML            template.HTML
	Message         string
	MissingSections []string
	Model           string
	InputTokens     int
	OutputTokens    int
	Duration        time.Duration
}

// blankPage is the form with no input or output.
func (s *WebServer) blankPage() PageData {
	return PageData{
		BrandName:    s.brandName,
		Version:      buildinfo.Version,
		AllowUserKey: s.allowUserKey,
		NeedsKey:     s.allowUserKey && strings.TrimSpace(s.credential) == "",
	}
}

func (s *WebServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, s.blankPage())
}

func (s *WebServer) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("HX-Request") == "true" {
		s.render(w, r, http.StatusOK, s.blankPage())
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *WebServer) handleGenerate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	data := s.blankPage()
	data.WorkItem = r.PostFormValue("work_item")
	data.TeamContext = r.PostFormValue("team_context")
	if strings.TrimSpace(data.WorkItem) == "" {
		data.Notice = "Please enter a work item to convert."
		s.render(w, r, http.StatusOK, data)
		return
	}

	// A user key is used for this request only and is never rendered
	// back into the page.
	credential := s.credential
	if key := r.PostFormValue("api_key"); s.allowUserKey && strings.TrimSpace(key) != "" {
		credential = key
	}

	res := s.gen.Generate(r.Context(), generator.Request{
		WorkItem:    data.WorkItem,
		TeamContext: data.TeamContext,
		Credential:  credential,
	})
	if s.observe != nil {
		s.observe(r, res)
	}

	data.Output = s.output(res)
	s.render(w, r, http.StatusOK, data)
}

func (s *WebServer) output(res generator.Result) *Output {
	out := &Output{
		OK:              res.OK(),
		Message:         res.Text(),
		MissingSections: res.MissingSections,
		Model:           res.Model,
		InputTokens:     res.InputTokens,
		OutputTokens:    res.OutputTokens,
		Duration:        res.Duration,
	}
	if res.OK() {
		out.Markdown = res.Markdown
	}
	// Failure messages are markdown too ("**Error:** ...").
	html, err := renderMarkdown(out.Message)
	if err != nil {
		s.logger.Warn("markdown render failed, showing source", "error", err)
		html = template.HTML("<pre>" + template.HTMLEscapeString(out.Message) + "</pre>")
	}
	out.HTML = html
	return out
}

func (s *WebServer) handleDownload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	markdown := r.PostFormValue("markdown")
	if markdown == "" {
		http.Error(w, "nothing to download", http.StatusBadRequest)
		return
	}
	ServeDownload(w, markdown)
}

// ServeDownload writes markdown as the agile_description.md attachment.
func ServeDownload(w http.ResponseWriter, markdown string) {
	w.Header().Set("Content-Type", generator.DownloadContentType+"; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+generator.DownloadFilename+`"`)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(markdown))
}
