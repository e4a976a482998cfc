package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nugget/refine/internal/config"
	"github.com/nugget/refine/internal/generator"
	"github.com/nugget/refine/internal/usage"
)

// generateOptions are the generate subcommand's arguments.
type generateOptions struct {
	workItem    string
	context     string
	contextFile string
	key         string
	save        bool
}

func parseGenerateArgs(args []string) (generateOptions, error) {
	var opts generateOptions
	var words []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-context" && i+1 < len(args):
			opts.context = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-context="):
			opts.context = strings.TrimPrefix(args[i], "-context=")
		case args[i] == "-context-file" && i+1 < len(args):
			opts.contextFile = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-context-file="):
			opts.contextFile = strings.TrimPrefix(args[i], "-context-file=")
		case args[i] == "-key" && i+1 < len(args):
			opts.key = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-key="):
			opts.key = strings.TrimPrefix(args[i], "-key=")
		case args[i] == "-save":
			opts.save = true
		case args[i] == "--":
			words = append(words, args[i+1:]...)
			i = len(args)
		case strings.HasPrefix(args[i], "-"):
			return opts, fmt.Errorf("unknown generate flag: %s", args[i])
		default:
			words = append(words, args[i])
		}
	}

	if opts.context != "" && opts.contextFile != "" {
		return opts, fmt.Errorf("use -context or -context-file, not both")
	}
	opts.workItem = strings.Join(words, " ")
	return opts, nil
}

// generateOutput is the -o json form of a generate result.
type generateOutput struct {
	Kind            string   `json:"kind"`
	Markdown        string   `json:"markdown,omitempty"`
	Message         string   `json:"message,omitempty"`
	Model           string   `json:"model"`
	InputTokens     int      `json:"input_tokens"`
	OutputTokens    int      `json:"output_tokens"`
	DurationMS      int64    `json:"duration_ms"`
	MissingSections []string `json:"missing_sections,omitempty"`
	SavedTo         string   `json:"saved_to,omitempty"`
}

// runGenerate converts one work item. Logs go to stderr so stdout
// carries only the description.
func runGenerate(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, configPath, outputFmt string, opts generateOptions) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := cliLogger(stderr, cfg)

	workItem := opts.workItem
	if strings.TrimSpace(workItem) == "" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return fmt.Errorf("read work item from stdin: %w", err)
		}
		workItem = strings.TrimSpace(string(data))
	}
	if strings.TrimSpace(workItem) == "" {
		return fmt.Errorf("usage: refine generate [-context text] <work item...>")
	}

	teamContext := opts.context
	if opts.contextFile != "" {
		data, err := os.ReadFile(opts.contextFile)
		if err != nil {
			return fmt.Errorf("read context file: %w", err)
		}
		teamContext = string(data)
	}

	credential := cfg.Credential()
	if opts.key != "" {
		credential = opts.key
	}

	ctx, cancel := signalContext(ctx)
	defer cancel()

	res := newGenerator(cfg, logger).Generate(ctx, generator.Request{
		WorkItem:    workItem,
		TeamContext: teamContext,
		Credential:  credential,
	})
	recordCLIUsage(cfg, logger, res)

	out := generateOutput{
		Kind:            res.Kind.String(),
		Message:         res.Message(),
		Model:           res.Model,
		InputTokens:     res.InputTokens,
		OutputTokens:    res.OutputTokens,
		DurationMS:      res.Duration.Milliseconds(),
		MissingSections: res.MissingSections,
	}

	if res.OK() && opts.save {
		if err := os.WriteFile(generator.DownloadFilename, []byte(res.Markdown), 0o644); err != nil {
			return fmt.Errorf("save %s: %w", generator.DownloadFilename, err)
		}
		out.SavedTo = generator.DownloadFilename
	} else if res.OK() {
		out.Markdown = res.Markdown
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}
	} else {
		switch {
		case !res.OK():
			fmt.Fprintln(stderr, res.Text())
		case out.SavedTo != "":
			fmt.Fprintf(stderr, "Saved %s\n", out.SavedTo)
		default:
			fmt.Fprintln(stdout, res.Markdown)
		}
		if len(res.MissingSections) > 0 {
			fmt.Fprintf(stderr, "warning: output is missing sections: %s\n", strings.Join(res.MissingSections, ", "))
		}
	}

	if !res.OK() {
		return fmt.Errorf("generation failed: %s", res.Kind)
	}
	return nil
}

// runCheck pings the provider with the configured (or -key) credential
// and reports the classified outcome.
func runCheck(ctx context.Context, stdout, stderr io.Writer, configPath string, args []string) error {
	var key string
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-key" && i+1 < len(args):
			key = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-key="):
			key = strings.TrimPrefix(args[i], "-key=")
		default:
			return fmt.Errorf("unknown check argument: %s", args[i])
		}
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := cliLogger(stderr, cfg)

	credential := cfg.Credential()
	if key != "" {
		credential = key
	}
	credential = strings.TrimSpace(credential)
	if credential == "" {
		fmt.Fprintln(stderr, generator.ErrorMarker+generator.MsgMissingCredential)
		return fmt.Errorf("check failed: %s", generator.KindMissingCredential)
	}

	ctx, cancel := signalContext(ctx)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, cfg.Generator.Timeout())
	defer cancelTimeout()

	client := newClientFactory(cfg, logger)(credential)
	if err := client.Ping(ctx); err != nil {
		res := generator.Classify(err)
		fmt.Fprintln(stderr, res.Text())
		return fmt.Errorf("check failed: %s", res.Kind)
	}

	fmt.Fprintf(stdout, "ok: %s accepted the API key\n", cfg.Provider)
	return nil
}

// cliLogger logs to w at the configured level, defaulting to warn so
// one-shot commands stay quiet.
func cliLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level := slog.LevelWarn
	if cfg.LogLevel != "" {
		level, _ = config.ParseLogLevel(cfg.LogLevel)
	}
	return config.NewLogger(w, level, cfg.LogFormat)
}

// recordCLIUsage appends the attempt to the ledger when it is enabled.
// Failures are logged and never fail the command.
func recordCLIUsage(cfg *config.Config, logger *slog.Logger, res generator.Result) {
	store, err := openUsageStore(cfg, logger)
	if err != nil {
		logger.Warn("usage ledger unavailable", "error", err)
		return
	}
	if store == nil {
		return
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = store.Record(ctx, usage.Record{
		RequestID:    uuid.NewString(),
		Model:        res.Model,
		Provider:     cfg.Provider,
		Surface:      usage.SurfaceCLI,
		Outcome:      res.Kind.String(),
		InputTokens:  res.InputTokens,
		OutputTokens: res.OutputTokens,
		Duration:     res.Duration,
		CostUSD:      usage.ComputeCost(res.Model, res.InputTokens, res.OutputTokens, cfg.Pricing),
	})
	if err != nil {
		logger.Warn("failed to record usage", "error", err)
	}
}
