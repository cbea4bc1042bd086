// Command knowledgeminer ingests audio/video recordings, transcribes them,
// and mines them into a structured knowledge base of claims, jargon,
// people, and mental models with timestamped evidence.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/knowledgeminer/knowledgeminer/internal/app"
	"github.com/knowledgeminer/knowledgeminer/internal/config"
	"github.com/knowledgeminer/knowledgeminer/internal/observe"
	"github.com/knowledgeminer/knowledgeminer/internal/store"
	"github.com/knowledgeminer/knowledgeminer/pkg/provider/llm"
	"github.com/knowledgeminer/knowledgeminer/pkg/provider/llm/anyllm"
	"github.com/knowledgeminer/knowledgeminer/pkg/provider/stt"
	"github.com/knowledgeminer/knowledgeminer/pkg/provider/stt/whisper"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run dispatches to one of the knowledgeminer subcommands. "serve" is the
// default when none is named, mirroring the teacher's single-mode
// cmd/glyphoxa/main.go while leaving room for the one-shot operator
// commands the pipeline needs that a voice server never did.
func run(args []string) int {
	cmd := "serve"
	if len(args) > 0 && args[0][0] != '-' {
		cmd = args[0]
		args = args[1:]
	}

	switch cmd {
	case "serve":
		return runServe(args)
	case "resume":
		return runResume(args)
	case "export":
		return runExport(args)
	default:
		fmt.Fprintf(os.Stderr, "knowledgeminer: unknown subcommand %q (want serve, resume, or export)\n", cmd)
		return 2
	}
}

// ── serve ────────────────────────────────────────────────────────────────────

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	fs.Parse(args)

	cfg, logger, err := loadAndLog(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg, logger)

	providers, err := buildProviders(cfg, reg, logger)
	if err != nil {
		logger.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg, providers)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		logger.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown error", "err", err)
		}
	}()

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		logger.Error("failed to initialise application", "err", err)
		return 1
	}

	logger.Info("knowledgeminer ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("run error", "err", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	logger.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "err", err)
		return 1
	}
	logger.Info("goodbye")
	return 0
}

// ── resume ───────────────────────────────────────────────────────────────────

// runResume drains the retry queue for one job type, or for every type when
// -job-type is empty: every job left in a
// failed state is requeued for another attempt, per spec §4.11's
// resume_failed_jobs operation. It is a one-shot command — no sweep loop,
// no HTTP server — for operators who want to force a drain outside the
// serve process's own periodic sweep.
func runResume(args []string) int {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	jobType := fs.String("job-type", "", "job type to resume (download, transcribe, mine, evaluate, upload, pipeline); empty resumes every type")
	fs.Parse(args)

	cfg, logger, err := loadAndLog(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg, logger)
	providers, err := buildProviders(cfg, reg, logger)
	if err != nil {
		logger.Error("failed to build providers", "err", err)
		return 1
	}

	ctx := context.Background()
	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		logger.Error("failed to initialise application", "err", err)
		return 1
	}
	defer application.Shutdown(ctx)

	types := allJobTypes
	if *jobType != "" {
		types = []store.JobType{store.JobType(*jobType)}
	}

	total := 0
	for _, t := range types {
		n, err := application.Orchestrator().ResumeFailedJobs(ctx, t)
		if err != nil {
			logger.Error("resume failed jobs", "job_type", t, "err", err)
			return 1
		}
		if n > 0 {
			logger.Info("requeued failed jobs", "job_type", t, "count", n)
		}
		total += n
	}
	logger.Info("resume complete", "requeued", total)
	return 0
}

var allJobTypes = []store.JobType{
	store.JobDownload, store.JobTranscribe, store.JobMine, store.JobEvaluate, store.JobUpload, store.JobPipeline,
}

// ── export ───────────────────────────────────────────────────────────────────

// runExport builds one source's export envelope (spec §6.4) and either
// prints it to stdout or uploads it, depending on whether -upload is set
// and the config names an export endpoint.
func runExport(args []string) int {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	sourceID := fs.String("source", "", "source ID to export (required)")
	upload := fs.Bool("upload", false, "upload the envelope instead of printing it to stdout")
	fs.Parse(args)

	if *sourceID == "" {
		fmt.Fprintln(os.Stderr, "knowledgeminer: export requires -source")
		return 2
	}

	cfg, logger, err := loadAndLog(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg, logger)
	providers, err := buildProviders(cfg, reg, logger)
	if err != nil {
		logger.Error("failed to build providers", "err", err)
		return 1
	}

	ctx := context.Background()
	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		logger.Error("failed to initialise application", "err", err)
		return 1
	}
	defer application.Shutdown(ctx)

	envelope, err := application.ExportBuilder().BuildEnvelope(ctx, *sourceID)
	if err != nil {
		logger.Error("build envelope", "source_id", *sourceID, "err", err)
		return 1
	}

	if *upload {
		uploader := application.Uploader()
		if uploader == nil {
			fmt.Fprintln(os.Stderr, "knowledgeminer: -upload requires export.endpoint to be set in config")
			return 1
		}
		if err := uploader.Upload(ctx, *sourceID, envelope); err != nil {
			logger.Error("upload", "source_id", *sourceID, "err", err)
			return 1
		}
		logger.Info("uploaded export envelope", "source_id", *sourceID)
		return 0
	}

	var pretty map[string]any
	if err := json.Unmarshal(envelope, &pretty); err == nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(pretty)
	} else {
		os.Stdout.Write(envelope)
	}
	return 0
}

// ── Shared setup ─────────────────────────────────────────────────────────────

func loadAndLog(configPath string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("knowledgeminer: config file %q not found — create one to get started", configPath)
		}
		return nil, nil, fmt.Errorf("knowledgeminer: %w", err)
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders registers every any-llm-go backend and the
// native whisper.cpp STT provider with reg. Unlike the teacher's full
// llm/stt/tts/s2s/embeddings/vad/audio surface, this pipeline only ever
// instantiates two provider kinds (config.Registry's own doc comment).
func registerBuiltinProviders(reg *config.Registry, logger *slog.Logger) {
	for _, name := range []string{"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"} {
		name := name
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			return nil, fmt.Errorf("whisper provider requires a model path")
		}
		return whisper.NewNative(modelPath)
	})

	logger.Debug("registered providers", "llm", reg.LLMNames(), "stt", reg.STTNames())
}

// buildProviders instantiates the LLM and STT providers named in cfg using
// the registry and returns them in an [app.Providers] struct.
func buildProviders(cfg *config.Config, reg *config.Registry, logger *slog.Logger) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.LLM.Provider; name != "" {
		entry, ok := cfg.LLM.Providers[name]
		if !ok {
			entry = config.ProviderEntry{Name: name, Model: cfg.LLM.Model}
		}
		if entry.Name == "" {
			entry.Name = name
		}
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		}
		ps.LLM = p
		logger.Info("provider created", "kind", "llm", "name", name, "model", entry.Model)

		// Every other named provider in LLM.Providers becomes an automatic
		// failover target (internal/resilience.LLMFallback, wired in
		// internal/app's initAdapter) — an outage on the active provider
		// falls through to these in map-iteration order rather than
		// stalling the whole pipeline.
		for fbName, fbEntry := range cfg.LLM.Providers {
			if fbName == name {
				continue
			}
			if fbEntry.Name == "" {
				fbEntry.Name = fbName
			}
			fp, err := reg.CreateLLM(fbEntry)
			if err != nil {
				logger.Warn("skipping llm fallback provider", "name", fbName, "err", err)
				continue
			}
			ps.LLMFallbacks = append(ps.LLMFallbacks, app.NamedLLMProvider{Name: fbName, Provider: fp})
			logger.Info("fallback provider created", "kind", "llm", "name", fbName, "model", fbEntry.Model)
		}
	}

	if cfg.Transcription.WhisperModel != "" {
		entry := config.ProviderEntry{Name: "whisper", Model: cfg.Transcription.WhisperModel}
		p, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", entry.Name, err)
		}
		ps.STT = p
		logger.Info("provider created", "kind", "stt", "name", entry.Name, "model", entry.Model)
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, providers *app.Providers) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║     Knowledge Miner — startup summary ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printField("LLM provider", cfg.LLM.Provider)
	printField("LLM model", cfg.LLM.Model)
	printField("STT model", cfg.Transcription.WhisperModel)
	printField("DB path", cfg.Storage.DBPath)
	printField("Output dir", cfg.Storage.OutputDir)
	if cfg.Server.ListenAddr != "" {
		printField("Listen addr", cfg.Server.ListenAddr)
	}
	if providers.LLM == nil {
		fmt.Println("║  WARNING: no LLM provider configured  ║")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printField(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
