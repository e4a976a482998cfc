package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
)

const sampleTemplate = `## Title
Speed up dashboard load

## User Story
As an analyst, I want the dashboard to load quickly, so that I can review metrics without waiting.

## Description
The main dashboard takes over ten seconds to render.

## Acceptance Criteria
- [ ] Dashboard loads in under 2 seconds

## Technical Notes
Profile the aggregation queries first.

## Definition of Done
- Code complete and reviewed

## Suggested Story Points
5`

// fakeAnthropic serves the Messages API with a fixed status and text,
// recording each request body.
type fakeAnthropic struct {
	status int
	text   string

	mu     sync.Mutex
	bodies []map[string]any
}

func (f *fakeAnthropic) start(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.bodies = append(f.bodies, body)
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.status)
		if f.status != http.StatusOK {
			fmt.Fprintf(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"role":        "assistant",
			"model":       "claude-sonnet-4-20250514",
			"content":     []map[string]string{{"type": "text", "text": f.text}},
			"stop_reason": "end_turn",
			"usage":       map[string]int{"input_tokens": 500, "output_tokens": 200},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakeAnthropic) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bodies)
}

// userMessage returns the content of the single user turn of request i.
func (f *fakeAnthropic) userMessage(t *testing.T, i int) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs, _ := f.bodies[i]["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("request %d carried %d messages, want 1", i, len(msgs))
	}
	m, _ := msgs[0].(map[string]any)
	content, _ := m["content"].(string)
	return content
}

// writeConfig writes a config pointing the anthropic provider at baseURL.
func writeConfig(t *testing.T, baseURL, apiKey, extra string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := fmt.Sprintf("provider: anthropic\nanthropic:\n  api_key: %q\n  base_url: %q\nusage:\n  enabled: false\n%s", apiKey, baseURL, extra)
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func runCmd(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), strings.NewReader(stdin), &stdout, &stderr, args)
	return stdout.String(), stderr.String(), err
}

func TestRun_Version(t *testing.T) {
	out, _, err := runCmd(t, "", "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "Refine ") || !strings.Contains(out, "go_version:") {
		t.Errorf("version output = %q", out)
	}

	out, _, err = runCmd(t, "", "-o", "json", "version")
	if err != nil {
		t.Fatalf("version json: %v", err)
	}
	var info map[string]string
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("version json output not JSON: %v", err)
	}
	if info["version"] == "" {
		t.Error("version field missing")
	}
}

func TestRun_UsageAndErrors(t *testing.T) {
	out, _, err := runCmd(t, "")
	if err != nil || !strings.Contains(out, "Usage: refine") {
		t.Errorf("no args: err=%v out=%q", err, out)
	}
	if _, _, err := runCmd(t, "", "bogus"); err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("bogus command err = %v", err)
	}
	if _, _, err := runCmd(t, "", "-o", "yaml", "version"); err == nil {
		t.Error("expected error for unknown output format")
	}
	if _, _, err := runCmd(t, "", "-nope"); err == nil {
		t.Error("expected error for unknown flag")
	}
}

func TestParseGenerateArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    generateOptions
		wantErr bool
	}{
		{
			name: "words joined",
			args: []string{"Fix", "the", "slow", "dashboard"},
			want: generateOptions{workItem: "Fix the slow dashboard"},
		},
		{
			name: "all options",
			args: []string{"-context", "Data team", "-key=sk-x", "-save", "Add SSO"},
			want: generateOptions{workItem: "Add SSO", context: "Data team", key: "sk-x", save: true},
		},
		{
			name: "context file",
			args: []string{"-context-file", "ctx.md", "item"},
			want: generateOptions{workItem: "item", contextFile: "ctx.md"},
		},
		{
			name: "double dash keeps dashes",
			args: []string{"--", "-fix", "flags"},
			want: generateOptions{workItem: "-fix flags"},
		},
		{
			name: "empty means stdin",
			args: nil,
			want: generateOptions{},
		},
		{
			name:    "unknown flag",
			args:    []string{"-verbose", "x"},
			wantErr: true,
		},
		{
			name:    "both context sources",
			args:    []string{"-context", "a", "-context-file", "b", "x"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseGenerateArgs(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestGenerate_EndToEnd(t *testing.T) {
	fake := &fakeAnthropic{status: http.StatusOK, text: sampleTemplate}
	srv := fake.start(t)
	cfg := writeConfig(t, srv.URL, "sk-test", "")

	out, stderr, err := runCmd(t, "", "-config", cfg, "generate", "Fix", "the", "slow", "dashboard")
	if err != nil {
		t.Fatalf("generate: %v (stderr: %s)", err, stderr)
	}
	if out != sampleTemplate+"\n" {
		t.Errorf("stdout = %q, want the provider text unchanged", out)
	}
	if strings.Contains(stderr, "missing sections") {
		t.Errorf("unexpected section warning: %s", stderr)
	}
	if got := fake.userMessage(t, 0); got != "Work Item:\nFix the slow dashboard" {
		t.Errorf("user message = %q", got)
	}
	if mt, _ := fake.bodies[0]["max_tokens"].(float64); mt != 2048 {
		t.Errorf("max_tokens = %v", fake.bodies[0]["max_tokens"])
	}
}

func TestGenerate_StdinAndContextFile(t *testing.T) {
	fake := &fakeAnthropic{status: http.StatusOK, text: "## Title\nFoo"}
	srv := fake.start(t)
	cfg := writeConfig(t, srv.URL, "sk-test", "")

	ctxFile := filepath.Join(t.TempDir(), "team.md")
	if err := os.WriteFile(ctxFile, []byte("Healthcare data team"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, stderr, err := runCmd(t, "Add ICD-10 validation\n", "-config", cfg, "generate", "-context-file", ctxFile)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != "## Title\nFoo\n" {
		t.Errorf("stdout = %q", out)
	}
	want := "Team/Project Context:\nHealthcare data team\n\nWork Item:\nAdd ICD-10 validation"
	if got := fake.userMessage(t, 0); got != want {
		t.Errorf("user message = %q, want %q", got, want)
	}
	if !strings.Contains(stderr, "missing sections: User Story") {
		t.Errorf("stderr should flag missing sections, got %q", stderr)
	}
}

func TestGenerate_Save(t *testing.T) {
	fake := &fakeAnthropic{status: http.StatusOK, text: sampleTemplate}
	srv := fake.start(t)
	cfg := writeConfig(t, srv.URL, "sk-test", "")
	dir := t.TempDir()
	t.Chdir(dir)

	out, stderr, err := runCmd(t, "", "-config", cfg, "generate", "-save", "Fix the slow dashboard")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != "" {
		t.Errorf("stdout = %q, want nothing when saving", out)
	}
	if !strings.Contains(stderr, "Saved agile_description.md") {
		t.Errorf("stderr = %q", stderr)
	}
	data, err := os.ReadFile(filepath.Join(dir, "agile_description.md"))
	if err != nil {
		t.Fatalf("read saved file: %v", err)
	}
	if string(data) != sampleTemplate {
		t.Error("saved file should hold the exact output")
	}
}

func TestGenerate_JSONOutput(t *testing.T) {
	fake := &fakeAnthropic{status: http.StatusOK, text: sampleTemplate}
	srv := fake.start(t)
	cfg := writeConfig(t, srv.URL, "sk-test", "")

	out, _, err := runCmd(t, "", "-config", cfg, "-o", "json", "generate", "x")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	var got generateOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Kind != "ok" || got.Markdown != sampleTemplate || got.InputTokens != 500 || got.OutputTokens != 200 {
		t.Errorf("output = %+v", got)
	}
}

func TestGenerate_MissingCredential(t *testing.T) {
	fake := &fakeAnthropic{status: http.StatusOK, text: "unused"}
	srv := fake.start(t)
	cfg := writeConfig(t, srv.URL, "", "")

	out, stderr, err := runCmd(t, "", "-config", cfg, "generate", "x")
	if err == nil || !strings.Contains(err.Error(), "missing_credential") {
		t.Errorf("err = %v", err)
	}
	if out != "" {
		t.Errorf("stdout = %q, want empty", out)
	}
	if !strings.Contains(stderr, "**Error:** API key not found.") {
		t.Errorf("stderr = %q", stderr)
	}
	if fake.calls() != 0 {
		t.Errorf("provider called %d times, want 0", fake.calls())
	}
}

func TestGenerate_KeyFlagOverrides(t *testing.T) {
	fake := &fakeAnthropic{status: http.StatusOK, text: "ok"}
	srv := fake.start(t)
	cfg := writeConfig(t, srv.URL, "", "")

	if _, _, err := runCmd(t, "", "-config", cfg, "generate", "-key", "sk-flag", "x"); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if fake.calls() != 1 {
		t.Errorf("provider called %d times, want 1", fake.calls())
	}
}

func TestGenerate_AuthenticationFailure(t *testing.T) {
	fake := &fakeAnthropic{status: http.StatusUnauthorized}
	srv := fake.start(t)
	cfg := writeConfig(t, srv.URL, "sk-bad", "")

	_, stderr, err := runCmd(t, "", "-config", cfg, "generate", "x")
	if err == nil || !strings.Contains(err.Error(), "authentication_failure") {
		t.Errorf("err = %v", err)
	}
	if !strings.Contains(stderr, "**Error:** Invalid API key. Check your API key and try again.") {
		t.Errorf("stderr = %q", stderr)
	}
	if fake.calls() != 1 {
		t.Errorf("provider called %d times, want exactly 1", fake.calls())
	}
}

func TestGenerate_RecordsUsage(t *testing.T) {
	fake := &fakeAnthropic{status: http.StatusOK, text: sampleTemplate}
	srv := fake.start(t)
	dataDir := filepath.Join(t.TempDir(), "data")
	cfg := filepath.Join(t.TempDir(), "config.yaml")
	yaml := fmt.Sprintf("anthropic:\n  api_key: sk-test\n  base_url: %q\nusage:\n  enabled: true\ndata_dir: %q\n", srv.URL, dataDir)
	if err := os.WriteFile(cfg, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, _, err := runCmd(t, "", "-config", cfg, "generate", "x"); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dataDir, "usage.db")); err != nil {
		t.Errorf("usage ledger not created: %v", err)
	}
}

func TestCheck(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		fake := &fakeAnthropic{status: http.StatusOK, text: "pong"}
		srv := fake.start(t)
		cfg := writeConfig(t, srv.URL, "sk-test", "")

		out, _, err := runCmd(t, "", "-config", cfg, "check")
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		if !strings.Contains(out, "ok: anthropic accepted the API key") {
			t.Errorf("stdout = %q", out)
		}
	})

	t.Run("rejected", func(t *testing.T) {
		fake := &fakeAnthropic{status: http.StatusUnauthorized}
		srv := fake.start(t)
		cfg := writeConfig(t, srv.URL, "sk-bad", "")

		_, stderr, err := runCmd(t, "", "-config", cfg, "check")
		if err == nil {
			t.Fatal("expected error")
		}
		if !strings.Contains(stderr, "Invalid API key") {
			t.Errorf("stderr = %q", stderr)
		}
	})

	t.Run("no key", func(t *testing.T) {
		fake := &fakeAnthropic{status: http.StatusOK}
		srv := fake.start(t)
		cfg := writeConfig(t, srv.URL, "", "")

		_, stderr, err := runCmd(t, "", "-config", cfg, "check")
		if err == nil || !strings.Contains(stderr, "API key not found") {
			t.Errorf("err = %v, stderr = %q", err, stderr)
		}
		if fake.calls() != 0 {
			t.Errorf("provider called %d times, want 0", fake.calls())
		}
	})
}

func TestLoadConfig_FallsBackToDefault(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("ANTHROPIC_API_KEY", "sk-env")

	if _, err := os.Stat("/etc/refine/config.yaml"); err == nil {
		t.Skip("system config present")
	}

	cfg, path, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if path != "" {
		t.Errorf("path = %q, want empty for defaults", path)
	}
	if cfg.Credential() != "sk-env" {
		t.Errorf("credential = %q, want env fallback", cfg.Credential())
	}

	if _, _, err := loadConfig("/does/not/exist.yaml"); err == nil {
		t.Error("explicit missing config should fail")
	}
}

// clearUmask sets the process umask to 0 so file permission assertions
// are deterministic.
func clearUmask(t *testing.T) {
	t.Helper()
	old := syscall.Umask(0)
	t.Cleanup(func() { syscall.Umask(old) })
}

func TestRunInit(t *testing.T) {
	clearUmask(t)
	dir := filepath.Join(t.TempDir(), "refine")
	var buf bytes.Buffer

	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("config.yaml not created: %v", err)
	}
	if got := info.Mode().Perm(); got != 0o600 {
		t.Errorf("config.yaml permissions = %o, want 0600", got)
	}
	if st, err := os.Stat(filepath.Join(dir, "db")); err != nil || !st.IsDir() {
		t.Errorf("db directory not created: %v", err)
	}
	if !strings.Contains(buf.String(), "✓") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestRunInit_PreservesExisting(t *testing.T) {
	dir := t.TempDir()
	sentinel := []byte("provider: openai\n")
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), sentinel, 0o600); err != nil {
		t.Fatal(err)
	}

	if err := runInit(io.Discard, dir); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, sentinel) {
		t.Error("existing config.yaml was overwritten")
	}
}
