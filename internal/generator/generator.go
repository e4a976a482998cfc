// Package generator turns a work item into an agile description with a
// single LLM call and reports the outcome as a Result.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/refine/internal/llm"
	"github.com/nugget/refine/internal/prompts"
)

// Defaults applied by New for zero-valued Options.
const (
	DefaultModel     = "claude-sonnet-4-20250514"
	DefaultMaxTokens = 2048
	DefaultTimeout   = 120 * time.Second
)

// ClientFactory returns a provider client bound to one credential. It is
// called once per Generate that gets past the credential check.
type ClientFactory func(credential string) llm.Client

// Options configures a Generator.
type Options struct {
	Model     string
	MaxTokens int
	Timeout   time.Duration

	// CheckSections fills Result.MissingSections on success.
	CheckSections bool

	Logger *slog.Logger
}

// Request is one work item to convert.
type Request struct {
	WorkItem    string
	TeamContext string
	Credential  string
}

// Generator converts work items. It holds no per-call state and is safe
// for concurrent use.
type Generator struct {
	factory ClientFactory
	opts    Options
	logger  *slog.Logger
}

// New creates a Generator.
func New(factory ClientFactory, opts Options) *Generator {
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		factory: factory,
		opts:    opts,
		logger:  logger.With("component", "generator"),
	}
}

// Model returns the model identifier sent with every request.
func (g *Generator) Model() string {
	return g.opts.Model
}

// Generate makes at most one provider call for req. A blank credential or
// work item fails without touching the network.
func (g *Generator) Generate(ctx context.Context, req Request) Result {
	if strings.TrimSpace(req.Credential) == "" {
		g.logger.Warn("generation skipped", "kind", KindMissingCredential.String())
		return Result{Kind: KindMissingCredential, Model: g.opts.Model}
	}
	if strings.TrimSpace(req.WorkItem) == "" {
		return Result{Kind: KindUnknownFailure, Detail: "work item is required", Model: g.opts.Model}
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: prompts.AgileCoachSystem},
		{Role: llm.RoleUser, Content: prompts.WorkItemMessage(req.WorkItem, req.TeamContext)},
	}

	callCtx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.factory(req.Credential).Chat(callCtx, g.opts.Model, messages, g.opts.MaxTokens)
	elapsed := time.Since(start)

	if err != nil {
		res := classify(err, g.opts.Timeout)
		res.Model = g.opts.Model
		res.Duration = elapsed
		g.logger.Warn("generation failed",
			"kind", res.Kind.String(),
			"model", res.Model,
			"duration", elapsed.Round(time.Millisecond),
			"error", err,
		)
		return res
	}

	res := Result{
		Kind:         KindOK,
		Markdown:     resp.Message.Content,
		Model:        resp.Model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		Duration:     elapsed,
	}
	if res.Model == "" {
		res.Model = g.opts.Model
	}
	if resp.Truncated() {
		g.logger.Warn("response hit max tokens", "max_tokens", g.opts.MaxTokens, "stop_reason", resp.StopReason)
	}
	if g.opts.CheckSections {
		res.MissingSections = CheckSections(res.Markdown)
		if len(res.MissingSections) > 0 {
			g.logger.Warn("response missing sections", "missing", res.MissingSections)
		}
	}

	g.logger.Info("generation complete",
		"kind", res.Kind.String(),
		"model", res.Model,
		"input_tokens", res.InputTokens,
		"output_tokens", res.OutputTokens,
		"duration", elapsed.Round(time.Millisecond),
	)
	return res
}

// Classify maps a provider error to a failure Result. It is what
// Generate uses, exposed for callers that talk to an llm.Client directly.
func Classify(err error) Result {
	return classify(err, 0)
}

func classify(err error, timeout time.Duration) Result {
	switch {
	case errors.Is(err, llm.ErrAuthentication):
		return Result{Kind: KindAuthenticationFailure, Err: err}
	case errors.Is(err, llm.ErrRateLimited):
		return Result{Kind: KindRateLimited, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		detail := "request timed out: " + err.Error()
		if timeout > 0 {
			detail = fmt.Sprintf("request timed out after %s: %v", timeout, err)
		}
		return Result{Kind: KindUnknownFailure, Err: err, Detail: detail}
	case errors.Is(err, context.Canceled):
		return Result{Kind: KindUnknownFailure, Err: err, Detail: "request canceled: " + err.Error()}
	default:
		return Result{Kind: KindUnknownFailure, Err: err, Detail: err.Error()}
	}
}
