// Package config provides the configuration schema, loader, provider
// registry, and hot-reload watcher for the knowledge-mining pipeline.
package config

// Config is the root configuration structure, loaded from a YAML file via
// [Load] or [LoadFromReader]. Every option named in spec §6.5 is a field
// here.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	LLM           LLMConfig           `yaml:"llm"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	YouTube       YouTubeConfig       `yaml:"youtube"`
	Proxy         ProxyConfig         `yaml:"proxy"`
	Export        ExportConfig        `yaml:"export"`
	Mining        MiningConfig        `yaml:"mining"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the health/readiness server listens on
	// (e.g. ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Valid values: "debug", "info", "warn", "error".
	LogLevel LogLevel `yaml:"log_level"`
}

// LogLevel enumerates the slog levels this config schema accepts.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognized log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// StorageConfig configures the SQLite-backed Media/Claim Store (spec §6.1).
type StorageConfig struct {
	// DBPath is the filesystem path to the SQLite database file.
	DBPath string `yaml:"db_path"`

	// OutputDir is where generated transcript.md/summary.md files are
	// written (spec §6.2).
	OutputDir string `yaml:"output_dir"`
}

// LLMConfig selects default LLM providers/models and their concurrency caps
// (spec §6.5: llm.*).
type LLMConfig struct {
	// Provider is the default cloud LLM provider name, looked up in the
	// [Registry] (e.g. "openai", "anthropic", "gemini").
	Provider string `yaml:"provider"`

	// Model is the default model for Provider.
	Model string `yaml:"model"`

	// LocalModel is the default model name for a local/offline backend
	// (e.g. an Ollama or llama.cpp model tag).
	LocalModel string `yaml:"local_model"`

	// MaxConcurrentCloud overrides the hardware-tier default concurrency
	// for cloud LLM calls. Zero means "use the hardware-tier default".
	MaxConcurrentCloud int `yaml:"max_concurrent_cloud"`

	// MaxConcurrentLocal overrides the hardware-tier default concurrency
	// for local LLM calls. Zero means "use the hardware-tier default".
	MaxConcurrentLocal int `yaml:"max_concurrent_local"`

	// Providers lists every named provider entry available to the
	// [Registry], keyed by the same name referenced in Provider above.
	Providers map[string]ProviderEntry `yaml:"providers"`
}

// TranscriptionConfig configures the Transcriber (C4, spec §4.4/§6.5).
type TranscriptionConfig struct {
	// WhisperModel is handed to the whisper.cpp provider as the path of its
	// model file. No default is applied when it is empty.
	WhisperModel string `yaml:"whisper_model"`

	// UseGPU selects the GPU inference path when true; false forces CPU.
	UseGPU bool `yaml:"use_gpu"`
}

// YouTubeConfig configures the Acquisition Scheduler's YouTube pacing and
// archive behavior (spec §4.2/§6.5).
type YouTubeConfig struct {
	// UseDownloadArchive enables archive-file deduplication.
	UseDownloadArchive bool `yaml:"use_download_archive"`

	// EnableSleepPeriod turns on the quiet-hours window below.
	EnableSleepPeriod bool `yaml:"enable_sleep_period"`

	// SleepStartHour/SleepEndHour are local hours in [0,23] bounding the
	// quiet-hours window. A window that wraps past midnight (start > end)
	// is valid and spans to the next day.
	SleepStartHour int    `yaml:"sleep_start_hour"`
	SleepEndHour   int    `yaml:"sleep_end_hour"`
	SleepTimezone  string `yaml:"sleep_timezone"`

	// SequentialDownloadDelayMinSeconds/MaxSeconds bound the per-identity
	// pacing delay between downloads.
	SequentialDownloadDelayMinSeconds int `yaml:"sequential_download_delay_min"`
	SequentialDownloadDelayMaxSeconds int `yaml:"sequential_download_delay_max"`

	// DelayRandomizationPercent jitters the delay by this percentage.
	DelayRandomizationPercent int `yaml:"delay_randomization_percent"`
}

// ProxyConfig configures identity/proxy selection for acquisition (spec §6.5).
type ProxyConfig struct {
	// Provider names the configured proxy/identity pool provider.
	Provider string `yaml:"provider"`

	// StrictMode, when true, makes acquisition require a proxy identity: a
	// download batch with no available identity is refused as a whole with
	// an error, and none of its URLs is downloaded directly.
	StrictMode bool `yaml:"strict_mode"`
}

// ExportConfig configures the device-token HTTP exporter (spec §6.4).
type ExportConfig struct {
	Endpoint    string `yaml:"endpoint"`
	DeviceToken string `yaml:"device_token"`
}

// MiningConfig configures the Segmenter (C5) and Unified Miner (C6), spec
// §4.5/§4.6.
type MiningConfig struct {
	// WindowSeconds is the target mining window length. Zero uses the
	// spec default of 180s (within the 2-4 minute band).
	WindowSeconds int `yaml:"window_seconds"`

	// OverlapSeconds, when > 0, makes consecutive windows overlap by this
	// many seconds for entity-continuity; downstream mining dedups.
	OverlapSeconds int `yaml:"overlap_seconds"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. Name selects the constructor registered in the [Registry].
type ProviderEntry struct {
	Name    string         `yaml:"name"`
	APIKey  string         `yaml:"api_key"`
	BaseURL string         `yaml:"base_url"`
	Model   string         `yaml:"model"`
	Options map[string]any `yaml:"options"`
}
