package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

//go:embed templates/*.html
var templateFiles embed.FS

// md renders generated descriptions. GFM covers the task-list checkboxes
// in acceptance criteria. Raw HTML in model output is never passed
// through (goldmark's default).
var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

// templateFuncs provides helper functions available in all templates.
var templateFuncs = template.FuncMap{
	"formatDuration": formatDuration,
	"formatTokens":   formatTokens,
}

// parsePage parses the layout together with the form page, which fills
// the layout's "content" block. Syntax errors panic at startup.
func parsePage() *template.Template {
	return template.Must(template.New("layout.html").Funcs(templateFuncs).
		ParseFS(templateFiles, "templates/layout.html", "templates/index.html"))
}

// render writes the page with the given status. An htmx request
// (HX-Request: true) gets only the "content" block so it can be swapped
// into the existing page.
func (s *WebServer) render(w http.ResponseWriter, r *http.Request, status int, data PageData) {
	name := "layout.html"
	if r.Header.Get("HX-Request") == "true" {
		name = "content"
	}

	var buf bytes.Buffer
	if err := s.page.ExecuteTemplate(&buf, name, data); err != nil {
		s.logger.Error("page render failed", "template", name, "error", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// renderMarkdown converts generated markdown to HTML for display.
func renderMarkdown(src string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("convert markdown: %w", err)
	}
	return template.HTML(buf.String()), nil
}

// formatDuration renders a generation time, e.g. "850ms" or "12.4s".
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
}

// formatTokens renders a token count compactly.
func formatTokens(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1_000_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
}
