// Refine converts rough work items into structured agile descriptions.
//
// It serves a web form and a JSON API, and offers a one-shot CLI for
// scripting. Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]); without one, the
// generate and check commands fall back to ANTHROPIC_API_KEY.
//
// Usage:
//
//	refine serve                     Start the web UI and API server
//	refine generate <work item...>   Convert one work item (stdin if omitted)
//	refine check                     Verify the configured API key
//	refine init [dir]                Write an example config.yaml
//	refine version                   Print version and build information
//	refine -o json version           Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/nugget/refine/internal/api"
	"github.com/nugget/refine/internal/buildinfo"
	"github.com/nugget/refine/internal/config"
	"github.com/nugget/refine/internal/generator"
	"github.com/nugget/refine/internal/llm"
	"github.com/nugget/refine/internal/usage"
)

// main constructs the OS-level environment and delegates to [run], which
// keeps os.Exit and the standard streams out of application logic.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand so run can
// be called concurrently from tests without flag package globals.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case command == "" && (args[i] == "-h" || args[i] == "-help" || args[i] == "--help"):
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "generate":
		opts, err := parseGenerateArgs(cmdArgs)
		if err != nil {
			return err
		}
		return runGenerate(ctx, stdin, stdout, stderr, configPath, outputFmt, opts)
	case "check":
		return runCheck(ctx, stdout, stderr, configPath, cmdArgs)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.BuildInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Refine - Agile Work Item Converter")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: refine [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                 Start the web UI and API server")
	fmt.Fprintln(w, "  generate [opts] item  Convert one work item (reads stdin if no item given)")
	fmt.Fprintln(w, "  check [-key k]        Verify the API key against the provider")
	fmt.Fprintln(w, "  init [dir]            Write an example config.yaml (default: .)")
	fmt.Fprintln(w, "  version               Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Generate options:")
	fmt.Fprintln(w, "  -context <text>       Team/project context")
	fmt.Fprintln(w, "  -context-file <path>  Read team/project context from a file")
	fmt.Fprintln(w, "  -key <key>            API key to use instead of the configured one")
	fmt.Fprintln(w, "  -save                 Write "+generator.DownloadFilename+" instead of printing")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	for _, p := range config.DefaultSearchPaths() {
		fmt.Fprintf(w, "  %s\n", p)
	}
	return nil
}

// runServe starts the HTTP server and blocks until SIGINT/SIGTERM or
// ctx cancellation, then shuts down gracefully.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := config.NewLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting Refine", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger = configuredLogger(stdout, cfg)
	logger.Info("config loaded",
		"path", cfgPath,
		"provider", cfg.Provider,
		"model", cfg.Generator.Model,
		"port", cfg.Listen.Port,
		"user_keys", cfg.Web.AllowUserKey,
	)
	if cfg.Credential() == "" && !cfg.Web.AllowUserKey {
		logger.Warn("no API key configured and user keys disabled; every generation will fail")
	}

	store, err := openUsageStore(cfg, logger)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	server := api.NewServer(api.Config{
		Address:      cfg.Listen.Address,
		Port:         cfg.Listen.Port,
		Generator:    newGenerator(cfg, logger),
		Provider:     cfg.Provider,
		Credential:   cfg.Credential(),
		AllowUserKey: cfg.Web.AllowUserKey,
		BrandName:    cfg.Web.BrandName,
		Usage:        store,
		Pricing:      cfg.Pricing,
		Logger:       logger,
	})

	ctx, cancel := signalContext(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("Refine stopped")
	return nil
}

// signalContext cancels on SIGINT or SIGTERM so in-flight work stops
// through the same ctx used everywhere else.
func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
}

// configuredLogger builds the logger described by cfg. The level was
// already validated by config.Validate.
func configuredLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.LogLevel != "" {
		level, _ = config.ParseLogLevel(cfg.LogLevel)
	}
	return config.NewLogger(w, level, cfg.LogFormat)
}

// loadConfig finds and loads the config file. With no explicit path and
// nothing found on the search path, it returns config.Default() and an
// empty path.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		return config.Default(), "", nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// newClientFactory returns a factory for the configured provider.
func newClientFactory(cfg *config.Config, logger *slog.Logger) generator.ClientFactory {
	baseURL := cfg.ProviderSettings().BaseURL
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return func(credential string) llm.Client {
			return llm.NewOpenAIClient(credential, baseURL, logger)
		}
	default:
		return func(credential string) llm.Client {
			return llm.NewAnthropicClient(credential, baseURL, logger)
		}
	}
}

func newGenerator(cfg *config.Config, logger *slog.Logger) *generator.Generator {
	return generator.New(newClientFactory(cfg, logger), generator.Options{
		Model:         cfg.Generator.Model,
		MaxTokens:     cfg.Generator.MaxTokens,
		Timeout:       cfg.Generator.Timeout(),
		CheckSections: cfg.Generator.SectionCheckEnabled(),
		Logger:        logger,
	})
}

// openUsageStore opens the ledger under data_dir, or returns nil when
// the ledger is disabled.
func openUsageStore(cfg *config.Config, logger *slog.Logger) (*usage.Store, error) {
	if !cfg.Usage.Enabled {
		return nil, nil
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(cfg.DataDir, "usage.db")
	store, err := usage.NewStore(path)
	if err != nil {
		return nil, err
	}
	logger.Debug("usage ledger opened", "path", path)
	return store, nil
}
