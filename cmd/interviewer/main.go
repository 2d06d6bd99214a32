// Interviewer conducts resume interviews.
//
// It walks a subject through a question catalog, either one question at
// a time or as a free-form conversation with a tool-calling model, and
// renders the collected profile as a resume. The service is exposed over
// HTTP and WebSocket. Configuration is loaded from a single YAML file
// discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	interviewer serve                Start the API server
//	interviewer init [dir]           Write an example config and catalog
//	interviewer schema [catalog]     Print the question catalog
//	interviewer next <subject>       Print the next question for a subject
//	interviewer version              Print version and build information
//	interviewer -o json version      Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/nugget/resume-interviewer/internal/agent"
	"github.com/nugget/resume-interviewer/internal/api"
	"github.com/nugget/resume-interviewer/internal/buildinfo"
	"github.com/nugget/resume-interviewer/internal/config"
	"github.com/nugget/resume-interviewer/internal/connwatch"
	"github.com/nugget/resume-interviewer/internal/dialog"
	"github.com/nugget/resume-interviewer/internal/events"
	"github.com/nugget/resume-interviewer/internal/guard"
	"github.com/nugget/resume-interviewer/internal/interview"
	"github.com/nugget/resume-interviewer/internal/llm"
	"github.com/nugget/resume-interviewer/internal/mqtt"
	"github.com/nugget/resume-interviewer/internal/profile"
	"github.com/nugget/resume-interviewer/internal/schema"
	"github.com/nugget/resume-interviewer/internal/selector"
	"github.com/nugget/resume-interviewer/internal/store"
	"github.com/nugget/resume-interviewer/internal/tools"
)

// main constructs the OS-level environment and delegates to [run], so
// the whole lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. ctx controls the process lifetime, logs
// go to stdout, and args is os.Args[1:]. Arguments are parsed by hand
// because the flag package's globals get in the way of parallel tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
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
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
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
		return runServe(ctx, stdout, stderr, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "schema":
		return runSchema(stdout, configPath, outputFmt, cmdArgs)
	case "next":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: interviewer next <subject>")
		}
		return runNext(stdout, configPath, outputFmt, cmdArgs[0])
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
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Interviewer - conversational resume builder")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: interviewer [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve              Start the API server")
	fmt.Fprintln(w, "  init [dir]         Write an example config and catalog (default: .)")
	fmt.Fprintln(w, "  schema [catalog]   Print the question catalog")
	fmt.Fprintln(w, "  next <subject>     Print the next question for a subject")
	fmt.Fprintln(w, "  version            Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>     Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt   Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/resume-interviewer/config.yaml,")
	fmt.Fprintln(w, "  /etc/resume-interviewer/config.yaml")
	return nil
}

// loadConfig locates and parses the configuration file. Returns the
// parsed config and the path that was loaded.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

// runSchema prints the catalog. An explicit catalog path skips the
// config file entirely.
func runSchema(w io.Writer, configPath, outputFmt string, args []string) error {
	var path string
	if len(args) > 0 {
		path = args[0]
	} else {
		cfg, _, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		path = cfg.Schema.Path
	}

	s, err := schema.LoadFile(path)
	if err != nil {
		return err
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s.Descriptor())
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PRIORITY\tFIELD\tGROUP\tLABEL")
	for _, f := range s.Fields() {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", f.Priority, f.Name, f.GroupID, f.DisplayLabel())
	}
	return tw.Flush()
}

// runNext prints the question the subject would be asked next, without
// changing any state.
func runNext(w io.Writer, configPath, outputFmt, subject string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	s, err := schema.LoadFile(cfg.Schema.Path)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	p, err := st.ActiveProfile(subject)
	if errors.Is(err, store.ErrNotFound) {
		p = profile.New(subject)
	} else if err != nil {
		return err
	}

	cand, ok := selector.Next(s, p)
	remaining := selector.Remaining(s, p)

	if outputFmt == "json" {
		out := map[string]any{"subject": subject, "remaining": remaining, "complete": !ok}
		if ok {
			out["path"] = cand.Path
			out["field"] = cand.Field.Name
			out["question"] = schema.PlainText(cand.Question)
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if !ok {
		fmt.Fprintf(w, "%s: interview complete\n", subject)
		return nil
	}
	fmt.Fprintf(w, "%s (%d remaining)\n  %s\n", cand.Path, remaining, schema.PlainText(cand.Question))
	return nil
}

// runServe wires every component and serves until ctx is cancelled or
// SIGINT/SIGTERM arrives.
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger, _ := config.NewLogger(stdout, "info", "text")
	logger.Info("starting interviewer", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Level and format were validated by config.Load.
	if logger, err = config.NewLogger(stdout, cfg.LogLevel, cfg.LogFormat); err != nil {
		return err
	}
	logger.Info("config loaded",
		"path", cfgPath,
		"listen", cfg.Listen.Addr(),
		"chat_model", cfg.Models.Chat,
		"precise_model", cfg.Models.Precise,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Data directory and store ---
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}
	st, err := store.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()
	logger.Info("store opened", "driver", cfg.Store.Driver, "path", cfg.Store.Path)

	bus := events.New()

	// --- Question catalog ---
	source, err := schema.NewSource(cfg.Schema.Path, logger)
	if err != nil {
		return err
	}
	source.OnReload = func(s *schema.Schema) {
		bus.Emit(events.SourceSchema, events.KindSchemaReloaded, "", map[string]any{
			"fields": len(s.Fields()),
			"groups": len(s.GroupIDs()),
		})
	}
	if cfg.Schema.Watch {
		go func() {
			if err := source.Watch(ctx); err != nil {
				logger.Error("catalog watcher stopped", "error", err)
			}
		}()
	}

	// --- Model providers ---
	client, providers, err := newLLMClient(ctx, cfg, logger)
	if err != nil {
		return err
	}
	monitor := connwatch.NewMonitor(logger)
	for name, c := range providers {
		monitor.Watch(ctx, name, c.Ping, connwatch.DefaultBackoff())
	}

	// --- Interview engines ---
	registry := tools.NewRegistry(logger)
	tools.RegisterProfileTools(registry, source)

	graph := agent.New(client, guard.New(client, cfg.Models.Guard, logger), registry, agent.Config{
		Model:         cfg.Models.Chat,
		PreciseModel:  cfg.Models.Precise,
		Temperature:   cfg.Models.Temperature,
		MaxIterations: cfg.Agent.MaxIterations,
	}, bus, logger)

	engine := dialog.New(source, nil, logger)

	svc := interview.New(st, source, engine, graph, client, bus, interview.Config{
		HistoryLimit: cfg.Agent.HistoryLimit,
		PreciseModel: cfg.Models.Precise,
		CarryOver:    cfg.Agent.CarryOver,
	}, logger)

	// --- API server ---
	server := api.NewServer(cfg.Listen.Addr(), svc, source, bus, logger)
	server.SetHealth(monitor)
	if cfg.SMTP.Configured() {
		server.SetMailer(cfg.SMTP, nil)
		logger.Info("resume email enabled", "host", cfg.SMTP.Host, "from", cfg.SMTP.From)
	}

	// --- MQTT relay ---
	var relay *mqtt.Relay
	if cfg.MQTT.Configured() {
		instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("load mqtt instance id: %w", err)
		}
		relay = mqtt.New(cfg.MQTT, instanceID, bus, logger)
		go func() {
			if err := relay.Start(ctx); err != nil {
				logger.Error("mqtt relay failed", "error", err)
			}
		}()
		monitor.Watch(ctx, "mqtt", func(pCtx context.Context) error {
			awaitCtx, awaitCancel := context.WithTimeout(pCtx, 2*time.Second)
			defer awaitCancel()
			return relay.AwaitConnection(awaitCtx)
		}, connwatch.DefaultBackoff())
		logger.Info("mqtt relay enabled", "broker", cfg.MQTT.Broker, "device_name", cfg.MQTT.DeviceName)
	} else {
		logger.Info("mqtt relay disabled (not configured)")
	}

	// --- Shutdown ---
	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		if relay != nil {
			offlineCtx, offlineCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer offlineCancel()
			if err := relay.Stop(offlineCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("api shutdown failed", "error", err)
		}
	}()

	err = server.Start(ctx)
	cancel()
	monitor.Wait()
	if err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("interviewer stopped")
	return nil
}

// newLLMClient builds the provider router. Each configured provider is
// registered under its name, models are mapped per models.providers, and
// unmapped models go to the default provider (or the first configured
// one of anthropic, gemini, ollama).
func newLLMClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*llm.Router, map[string]llm.Client, error) {
	providers := make(map[string]llm.Client)

	if cfg.Anthropic.Configured() {
		providers["anthropic"] = llm.NewAnthropicClient(cfg.Anthropic.APIKey, cfg.Anthropic.BaseURL, logger)
	}
	if cfg.Gemini.Configured() {
		g, err := llm.NewGeminiClient(ctx, llm.GeminiConfig{
			Keys:      llm.ParseKeys(cfg.Gemini.APIKeys),
			BaseURL:   cfg.Gemini.BaseURL,
			PingModel: geminiPingModel(cfg),
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("gemini client: %w", err)
		}
		providers["gemini"] = g
	}
	if cfg.Ollama.Configured() {
		providers["ollama"] = llm.NewOllamaClient(cfg.Ollama.URL, logger)
	}

	def := cfg.Models.DefaultProvider
	if def == "" {
		for _, name := range []string{"anthropic", "gemini", "ollama"} {
			if _, ok := providers[name]; ok {
				def = name
				break
			}
		}
	}

	router := llm.NewRouter(providers[def])
	for name, c := range providers {
		router.AddProvider(name, c)
	}
	for model, provider := range cfg.Models.Providers {
		router.AddModel(model, provider)
	}

	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	logger.Info("model providers configured", "providers", names, "default", def)
	return router, providers, nil
}

// geminiPingModel picks a model Gemini actually serves for health probes.
func geminiPingModel(cfg *config.Config) string {
	for model, provider := range cfg.Models.Providers {
		if provider == "gemini" {
			return model
		}
	}
	return cfg.Models.Chat
}
