// Package app wires every Knowledge Miner subsystem into a running
// application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the background sweep loop, and Shutdown tears
// everything down.
//
// For testing, inject test doubles via functional options (WithStore,
// WithAdapter, etc.). When an option is not provided, New creates a real
// implementation from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/knowledgeminer/knowledgeminer/internal/acquisition"
	"github.com/knowledgeminer/knowledgeminer/internal/audio"
	"github.com/knowledgeminer/knowledgeminer/internal/config"
	"github.com/knowledgeminer/knowledgeminer/internal/evaluate"
	"github.com/knowledgeminer/knowledgeminer/internal/export"
	"github.com/knowledgeminer/knowledgeminer/internal/health"
	"github.com/knowledgeminer/knowledgeminer/internal/llmadapter"
	"github.com/knowledgeminer/knowledgeminer/internal/markdown"
	"github.com/knowledgeminer/knowledgeminer/internal/mining"
	"github.com/knowledgeminer/knowledgeminer/internal/observe"
	"github.com/knowledgeminer/knowledgeminer/internal/orchestrator"
	"github.com/knowledgeminer/knowledgeminer/internal/orchestrator/events"
	"github.com/knowledgeminer/knowledgeminer/internal/resilience"
	"github.com/knowledgeminer/knowledgeminer/internal/segment"
	"github.com/knowledgeminer/knowledgeminer/internal/store"
	"github.com/knowledgeminer/knowledgeminer/internal/transcribe"
	"github.com/knowledgeminer/knowledgeminer/pkg/provider/llm"
	"github.com/knowledgeminer/knowledgeminer/pkg/provider/stt"
	"github.com/knowledgeminer/knowledgeminer/pkg/types"
	"go.opentelemetry.io/otel/metric"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config
// registry. Unlike the teacher's conversational stack (llm/stt/tts/s2s/
// embeddings/vad/audio), the mining pipeline only ever drives two provider
// kinds (config.Registry's own doc comment).
type Providers struct {
	LLM llm.Provider
	STT stt.Provider

	// LLMFallbacks and STTFallbacks are additional named providers tried,
	// in order, when the primary LLM/STT provider fails or its circuit
	// breaker is open (internal/resilience). main.go fills LLMFallbacks
	// from any config.LLMConfig.Providers entries beyond the active one and
	// leaves STTFallbacks empty; both are empty by default.
	LLMFallbacks []NamedLLMProvider
	STTFallbacks []NamedSTTProvider
}

// NamedLLMProvider pairs an llm.Provider with the name its circuit breaker
// and fallback logs should use.
type NamedLLMProvider struct {
	Name     string
	Provider llm.Provider
}

// NamedSTTProvider pairs an stt.Provider with the name its circuit breaker
// and fallback logs should use.
type NamedSTTProvider struct {
	Name     string
	Provider stt.Provider
}

// App owns all subsystem lifetimes and drives the Knowledge Miner pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems — initialised in New, torn down in Shutdown.
	store        *store.Store
	adapter      *llmadapter.Adapter
	bus          *events.Bus
	orchestrator *orchestrator.Orchestrator
	scheduler    *acquisition.Scheduler
	normalizer   *audio.Normalizer
	transcriber  *transcribe.Transcriber
	miner        *mining.Miner
	windowOpts   segment.Options
	evaluator    *evaluate.Evaluator
	exportBuild  *export.Builder
	uploader     *export.Uploader
	health       *health.Handler
	httpServer   *http.Server
	metrics      *observe.Metrics

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once

	logger *slog.Logger
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a Media/Claim Store instead of opening one from config.
func WithStore(s *store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithAdapter injects an LLM Adapter instead of building one from config.
func WithAdapter(adapter *llmadapter.Adapter) Option {
	return func(a *App) { a.adapter = adapter }
}

// WithScheduler injects an Acquisition Scheduler instead of building one
// from config.
func WithScheduler(s *acquisition.Scheduler) Option {
	return func(a *App) { a.scheduler = s }
}

// New creates an App by wiring all subsystems together. The providers
// struct comes from main.go (populated via the config registry). Use
// Option functions to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: store open, LLM adapter
// construction, acquisition/transcription/mining/evaluation wiring, event
// bus + orchestrator assembly, and the health HTTP server.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
		logger:    slog.Default().With("component", "app"),
		metrics:   observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Claim Store ───────────────────────────────────────────────────
	if err := a.initStore(); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. LLM Adapter ───────────────────────────────────────────────────
	if err := a.initAdapter(); err != nil {
		return nil, fmt.Errorf("app: init adapter: %w", err)
	}

	// ── 3. Acquisition ───────────────────────────────────────────────────
	if err := a.initAcquisition(); err != nil {
		return nil, fmt.Errorf("app: init acquisition: %w", err)
	}

	// ── 4. Transcription ─────────────────────────────────────────────────
	a.initTranscription()

	// ── 5. Mining + evaluation ───────────────────────────────────────────
	a.initMiningAndEvaluation()

	// ── 6. Export ─────────────────────────────────────────────────────────
	a.initExport()

	// ── 7. Event bus + orchestrator ──────────────────────────────────────
	a.initOrchestrator()

	// ── 8. Health HTTP server ────────────────────────────────────────────
	a.initHealth()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────

// initStore opens the SQLite-backed Claim Store unless one was injected.
func (a *App) initStore() error {
	if a.store != nil {
		return nil
	}
	cfg := store.DefaultConfig()
	if a.cfg.Storage.DBPath != "" {
		cfg.Path = a.cfg.Storage.DBPath
	}
	s, err := store.New(cfg)
	if err != nil {
		return err
	}
	a.store = s
	a.closers = append(a.closers, s.Close)
	return nil
}

// initAdapter builds the LLM Adapter from the configured providers unless
// one was injected. Only the hosted backend is configured, and it drives
// mining/evaluation; no local backend is set, so a call for the local
// target fails.
//
// The hosted provider is wrapped in a resilience.LLMFallback, a circuit
// breaker per entry plus automatic failover to any additional named
// providers main.go supplied (spec's ambient resilience requirement —
// an LLM outage must not silently stall every queued job).
func (a *App) initAdapter() error {
	if a.adapter != nil {
		return nil
	}
	if a.providers == nil || a.providers.LLM == nil {
		return fmt.Errorf("no LLM provider configured")
	}

	hostedName := a.cfg.LLM.Provider
	if hostedName == "" {
		hostedName = "hosted"
	}
	hostedFallback := resilience.NewLLMFallback(a.providers.LLM, hostedName, resilience.FallbackConfig{})
	for _, f := range a.providers.LLMFallbacks {
		hostedFallback.AddFallback(f.Name, f.Provider)
	}

	adapterCfg := llmadapter.Config{
		Store:  a.store,
		Hosted: llmadapter.Backend{Provider: hostedFallback, Name: hostedName, Model: a.cfg.LLM.Model},
	}
	adapter, err := llmadapter.New(adapterCfg)
	if err != nil {
		return err
	}
	a.adapter = adapter
	return nil
}

// initAcquisition builds the Acquisition Scheduler unless one was injected.
// A fresh identity pool and on-disk archive are always constructed here;
// neither is the kind of thing a test double usually replaces (tests
// inject the Scheduler itself instead, via WithScheduler).
func (a *App) initAcquisition() error {
	if a.scheduler != nil {
		return nil
	}

	archivePath := a.cfg.Storage.OutputDir + "/download_archive.txt"
	archive, err := acquisition.LoadArchive(archivePath)
	if err != nil {
		return fmt.Errorf("load download archive: %w", err)
	}

	pool := acquisition.NewIdentityPool(nil)

	a.scheduler = acquisition.New(acquisition.Config{
		OutputDir:     a.cfg.Storage.OutputDir,
		ArchivePath:   archivePath,
		FailedURLsDir: a.cfg.Storage.OutputDir,
		DelayMin:      time.Duration(a.cfg.YouTube.SequentialDownloadDelayMinSeconds) * time.Second,
		DelayMax:      time.Duration(a.cfg.YouTube.SequentialDownloadDelayMaxSeconds) * time.Second,
		JitterPercent: a.cfg.YouTube.DelayRandomizationPercent,
		Sleep: acquisition.SleepWindow{
			Enabled:   a.cfg.YouTube.EnableSleepPeriod,
			StartHour: a.cfg.YouTube.SleepStartHour,
			EndHour:   a.cfg.YouTube.SleepEndHour,
		},
		RequireIdentities: a.cfg.Proxy.StrictMode,
	}, pool, archive, a.store)
	return nil
}

// initTranscription builds the audio Normalizer and Transcriber. Both are
// cheap value-holders with no resources to close, so there is no injection
// hook or closer for them yet; add one if a test ever needs to stub the
// STT provider independent of Providers.STT.
//
// The STT provider is wrapped in a resilience.STTFallback the same way the
// hosted LLM backend is — a circuit breaker even with zero configured
// fallbacks still stops a wedged transcription backend from being hammered
// by every queued transcribe job.
func (a *App) initTranscription() {
	a.normalizer = audio.New(audio.Config{OutputDir: a.cfg.Storage.OutputDir})
	if a.providers != nil && a.providers.STT != nil {
		sttFallback := resilience.NewSTTFallback(a.providers.STT, "primary", resilience.FallbackConfig{})
		for _, f := range a.providers.STTFallbacks {
			sttFallback.AddFallback(f.Name, f.Provider)
		}
		a.transcriber = transcribe.New(sttFallback)
	}
}

// initMiningAndEvaluation builds the Unified Miner and Flagship/Entity
// Evaluators against the shared LLM Adapter, and records the window
// options the mine stage partitions transcripts with (windowing itself
// lives in internal/segment, a pure-arithmetic caller concern, not
// something the Miner owns).
func (a *App) initMiningAndEvaluation() {
	a.windowOpts = segment.Options{
		WindowSeconds:  a.cfg.Mining.WindowSeconds,
		OverlapSeconds: a.cfg.Mining.OverlapSeconds,
	}
	a.miner = mining.New(mining.Config{Adapter: a.adapter})
	a.evaluator = evaluate.New(evaluate.Config{Adapter: a.adapter})
}

// initExport builds the export envelope Builder and, if an endpoint is
// configured, the device-token Uploader (spec §6.4). A deployment that
// never exports leaves Export.Endpoint empty; a.uploader stays nil and
// the upload stage reports that explicitly rather than silently no-op'ing.
func (a *App) initExport() {
	a.exportBuild = export.New(a.store)
	if a.cfg.Export.Endpoint != "" {
		a.uploader = export.NewUploader(export.Config{
			Endpoint:    a.cfg.Export.Endpoint,
			DeviceToken: a.cfg.Export.DeviceToken,
		})
	}
}

// initOrchestrator builds the event bus and the Job Orchestrator, wiring
// every StageFunc the auto_process chain drives (spec §4.11). Each stage is
// wrapped with instrumentStage so per-stage latency and pipeline error
// counts (internal/observe) are recorded without the stage bodies
// themselves needing to know about metrics.
func (a *App) initOrchestrator() {
	a.bus = events.NewBus()
	a.orchestrator = orchestrator.New(orchestrator.Config{
		Store: a.store,
		Bus:   a.bus,
		Stages: map[store.JobType]orchestrator.StageFunc{
			store.JobDownload:   a.instrumentStage("download", a.metrics.AcquisitionDuration, a.downloadStage),
			store.JobTranscribe: a.instrumentStage("transcribe", a.metrics.TranscribeDuration, a.transcribeStage),
			store.JobMine:       a.instrumentStage("mine", a.metrics.MineDuration, a.mineStage),
			store.JobEvaluate:   a.instrumentStage("evaluate", a.metrics.EvaluateDuration, a.evaluateStage),
		},
		SweepInterval: "*/5 * * * *",
		SnapshotTTL:   2 * time.Second,
	})
}

// instrumentStage wraps fn with stage-latency and pipeline-error
// recording, per internal/observe's per-stage histogram/counter
// convention.
func (a *App) instrumentStage(stage string, hist metric.Float64Histogram, fn orchestrator.StageFunc) orchestrator.StageFunc {
	return func(ctx context.Context, sourceID string, checkpoint map[string]any) (map[string]any, error) {
		start := time.Now()
		next, err := fn(ctx, sourceID, checkpoint)
		hist.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			a.metrics.RecordPipelineError(ctx, stage, "stage_error")
		}
		return next, err
	}
}

// initHealth wires the /healthz and /readyz HTTP server.
func (a *App) initHealth() {
	a.health = health.New(
		health.Checker{Name: "store", Check: a.store.Ping},
	)
	if a.cfg.Server.ListenAddr == "" {
		return
	}
	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	a.httpServer = &http.Server{Addr: a.cfg.Server.ListenAddr, Handler: mux}
}

// Store returns the Claim Store, for one-shot subcommands (resume, export)
// that need store access without running the full sweep loop.
func (a *App) Store() *store.Store { return a.store }

// Orchestrator returns the Job Orchestrator, for one-shot subcommands that
// drive it directly instead of through Run's sweep loop.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orchestrator }

// ExportBuilder returns the export envelope Builder.
func (a *App) ExportBuilder() *export.Builder { return a.exportBuild }

// Uploader returns the configured device-token Uploader, or nil if no
// export endpoint was configured.
func (a *App) Uploader() *export.Uploader { return a.uploader }

// ─── Stage wiring ──────────────────────────────────────────────────────────

// downloadStage implements the download job type by driving the
// Acquisition Scheduler over the single URL a caller seeded into the
// job's config under "url" (orchestrator.ProcessJob carries job.Config
// forward as the initial checkpoint).
func (a *App) downloadStage(ctx context.Context, sourceID string, checkpoint map[string]any) (map[string]any, error) {
	url, _ := checkpoint["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("download stage: no url in job config for source %s", sourceID)
	}
	batch, err := a.scheduler.DownloadBatch(ctx, []string{url})
	if err != nil {
		return nil, err
	}
	if len(batch.Results) == 0 {
		return nil, fmt.Errorf("download stage: no result for %s", url)
	}
	res := batch.Results[0]
	if res.Outcome == acquisition.OutcomeFailed {
		return nil, fmt.Errorf("download stage: %s", res.Reason)
	}
	return checkpoint, nil
}

// transcribeStage normalizes the source's downloaded audio and runs the
// Transcriber over it, persisting the ordered segment sequence.
func (a *App) transcribeStage(ctx context.Context, sourceID string, checkpoint map[string]any) (map[string]any, error) {
	if a.transcriber == nil {
		return nil, fmt.Errorf("transcribe stage: no STT provider configured")
	}
	src, err := a.store.GetSource(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("transcribe stage: %w", err)
	}

	norm, err := a.normalizer.Normalize(ctx, src.AudioFilePath)
	if err != nil {
		return nil, fmt.Errorf("transcribe stage: normalize: %w", err)
	}

	result, err := a.transcriber.Transcribe(ctx, transcribe.Request{
		AudioPath:     norm.Path,
		InitialPrompt: src.Title,
	})
	if err != nil {
		return nil, fmt.Errorf("transcribe stage: %w", err)
	}

	segments := make([]store.Segment, 0, len(result.Segments))
	for i, s := range result.Segments {
		segments = append(segments, store.Segment{
			SourceID:  sourceID,
			SegmentID: fmt.Sprintf("%s-%04d", sourceID, i),
			T0:        s.T0,
			T1:        s.T1,
			Text:      s.Text,
		})
	}
	if err := a.store.WriteSegments(ctx, sourceID, segments); err != nil {
		return nil, fmt.Errorf("transcribe stage: write segments: %w", err)
	}
	return checkpoint, nil
}

// mineStage segments the transcript into mining windows and runs the
// Unified Miner over each one, persisting every result as it completes.
func (a *App) mineStage(ctx context.Context, sourceID string, checkpoint map[string]any) (map[string]any, error) {
	runID, ok := orchestrator.RunIDFromContext(ctx)
	if !ok {
		runID = uuid.NewString()
	}

	segs, err := a.store.GetSegments(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("mine stage: %w", err)
	}

	sttSegs := make([]stt.Segment, len(segs))
	for i, s := range segs {
		sttSegs[i] = stt.Segment{T0: s.T0, T1: s.T1, Text: s.Text}
	}
	windows := segment.Windows(sttSegs, a.windowOpts)

	contentType := mining.ContentTranscriptOwn
	if ct, _ := checkpoint["content_type"].(string); ct != "" {
		contentType = mining.ContentType(ct)
	}

	for _, win := range windows {
		result, err := a.miner.Mine(ctx, runID, sourceID, win, contentType)
		if err != nil {
			return nil, fmt.Errorf("mine stage: window %d: %w", win.Index, err)
		}
		if err := a.store.SaveMinedResult(ctx, *result); err != nil {
			return nil, fmt.Errorf("mine stage: save window %d: %w", win.Index, err)
		}
		a.metrics.ClaimsExtracted.Add(ctx, int64(len(result.Claims)))
	}
	return checkpoint, nil
}

// evaluateStage runs the Flagship and Entity Evaluators over everything
// mined for sourceID, then renders and persists the transcript/summary
// Markdown artifacts (spec §6.2) as the final disposition of this stage.
func (a *App) evaluateStage(ctx context.Context, sourceID string, checkpoint map[string]any) (map[string]any, error) {
	runID, ok := orchestrator.RunIDFromContext(ctx)
	if !ok {
		runID = uuid.NewString()
	}

	claims, err := a.store.GetClaims(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("evaluate stage: %w", err)
	}
	if len(claims) > 0 {
		if err := a.evaluator.EvaluateClaims(ctx, runID, claims); err != nil {
			return nil, fmt.Errorf("evaluate stage: claims: %w", err)
		}
		// EvaluateClaims only scores its argument slice in memory; write the
		// resulting dimensions/importance/tier back before anything downstream
		// (Markdown rendering, export) re-reads claims from the store.
		if err := a.store.UpdateClaimScores(ctx, claims); err != nil {
			return nil, fmt.Errorf("evaluate stage: persist claim scores: %w", err)
		}
	}

	for _, et := range []store.EntityType{store.EntityJargon, store.EntityPerson, store.EntityMentalModel} {
		entities, err := a.store.GetEntities(ctx, sourceID, et)
		if err != nil {
			return nil, fmt.Errorf("evaluate stage: get entities %s: %w", et, err)
		}
		if len(entities) == 0 {
			continue
		}
		if err := a.evaluator.EvaluateEntities(ctx, runID, entities); err != nil {
			return nil, fmt.Errorf("evaluate stage: entities %s: %w", et, err)
		}
		if err := a.store.UpdateEntityScores(ctx, entities); err != nil {
			return nil, fmt.Errorf("evaluate stage: persist entity scores %s: %w", et, err)
		}
	}

	if err := a.renderAndStoreMarkdown(ctx, runID, sourceID); err != nil {
		return nil, fmt.Errorf("evaluate stage: markdown: %w", err)
	}

	if a.uploader != nil {
		envelope, err := a.exportBuild.BuildEnvelope(ctx, sourceID)
		if err != nil {
			return nil, fmt.Errorf("evaluate stage: build export: %w", err)
		}
		if err := a.uploader.Upload(ctx, sourceID, envelope); err != nil {
			a.logger.Warn("export upload failed", "source_id", sourceID, "err", err)
		}
	}

	return checkpoint, nil
}

// renderAndStoreMarkdown builds transcript.md and summary.md for sourceID
// and records them via store.RecordGeneratedFile. The short/long summary
// text is generated here, through the same LLM Adapter used for mining
// and evaluation, since internal/markdown itself stays a pure renderer
// (see DESIGN.md's Open Question decision on this split).
func (a *App) renderAndStoreMarkdown(ctx context.Context, runID, sourceID string) error {
	src, err := a.store.GetSource(ctx, sourceID)
	if err != nil {
		return err
	}
	segs, err := a.store.GetSegments(ctx, sourceID)
	if err != nil {
		return err
	}
	claims, err := a.store.GetClaims(ctx, sourceID)
	if err != nil {
		return err
	}

	transcriptMD, err := markdown.RenderTranscript(*src, segs, claims)
	if err != nil {
		return fmt.Errorf("render transcript: %w", err)
	}
	transcriptPath, err := a.writeGeneratedFile(sourceID, "transcript.md", transcriptMD)
	if err != nil {
		return err
	}
	if err := a.store.RecordGeneratedFile(ctx, store.GeneratedFile{
		SourceID: sourceID,
		FileType: store.FileTranscriptMarkdown,
		Path:     transcriptPath,
	}); err != nil {
		return fmt.Errorf("record transcript markdown: %w", err)
	}

	short, long, err := a.summarize(ctx, runID, claims)
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}
	summaryMD, err := markdown.RenderSummary(markdown.SummaryData{Source: *src, Short: short, Long: long, Claims: claims})
	if err != nil {
		return fmt.Errorf("render summary: %w", err)
	}
	summaryPath, err := a.writeGeneratedFile(sourceID, "summary.md", summaryMD)
	if err != nil {
		return err
	}
	if err := a.store.RecordGeneratedFile(ctx, store.GeneratedFile{
		SourceID: sourceID,
		FileType: store.FileSummaryMarkdown,
		Path:     summaryPath,
	}); err != nil {
		return fmt.Errorf("record summary markdown: %w", err)
	}
	return nil
}

// writeGeneratedFile writes content under OutputDir/sourceID/name, per
// spec §6.2's per-source Markdown output layout.
func (a *App) writeGeneratedFile(sourceID, name, content string) (string, error) {
	dir := filepath.Join(a.cfg.Storage.OutputDir, sourceID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return path, nil
}

// summarize asks the hosted LLM backend for a short and long prose
// summary of sourceID's claims, one completion call each.
func (a *App) summarize(ctx context.Context, runID string, claims []store.Claim) (short, long string, err error) {
	if len(claims) == 0 {
		return "", "", nil
	}
	var b []byte
	for _, c := range claims {
		b = append(b, []byte(c.CanonicalText+"\n")...)
	}

	shortResp, err := a.adapter.Complete(ctx, llmadapter.TargetHosted, runID, llm.CompletionRequest{
		SystemPrompt: "Write a two-sentence summary of the following claims extracted from a recording.",
		Messages:     []types.Message{{Role: "user", Content: string(b)}},
	})
	if err != nil {
		return "", "", err
	}
	longResp, err := a.adapter.Complete(ctx, llmadapter.TargetHosted, runID, llm.CompletionRequest{
		SystemPrompt: "Write a detailed multi-paragraph summary of the following claims extracted from a recording.",
		Messages:     []types.Message{{Role: "user", Content: string(b)}},
	})
	if err != nil {
		return "", "", err
	}
	return shortResp.Content, longResp.Content, nil
}

// ─── Run ────────────────────────────────────────────────────────────────

// Run starts the periodic resume_failed_jobs sweep and blocks until ctx is
// cancelled, also serving the health HTTP server if one was configured.
func (a *App) Run(ctx context.Context) error {
	if err := a.orchestrator.StartSweep(ctx); err != nil {
		return fmt.Errorf("app: start sweep: %w", err)
	}

	var wg sync.WaitGroup
	if a.httpServer != nil {
		wg.Go(func() {
			a.logger.Info("health server listening", "addr", a.httpServer.Addr)
			if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.logger.Error("health server failed", "err", err)
			}
		})
	}

	a.logger.Info("app running")
	<-ctx.Done()

	if a.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.httpServer.Shutdown(shutdownCtx)
		cancel()
	}
	wg.Wait()
	return ctx.Err()
}

// ─── Shutdown ──────────────────────────────────────────────────────────────

// Shutdown tears down every subsystem exactly once. Closers run in the
// order they were registered during New — acquisition's init order never
// introduces a dependency a reverse order would be needed for, so forward
// order (rather than the strict "reverse of init" a layered system would
// want) is what this actually does.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "closers", len(a.closers))

		a.orchestrator.StopSweep()
		if a.httpServer != nil {
			if err := a.httpServer.Shutdown(ctx); err != nil {
				a.logger.Warn("health server shutdown error", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.logger.Warn("closer error", "index", i, "err", err)
			}
		}

		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}
