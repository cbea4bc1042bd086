package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every validation failure found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.YouTube.SleepStartHour < 0 || cfg.YouTube.SleepStartHour > 23 {
		errs = append(errs, fmt.Errorf("youtube.sleep_start_hour %d out of range [0,23]", cfg.YouTube.SleepStartHour))
	}
	if cfg.YouTube.SleepEndHour < 0 || cfg.YouTube.SleepEndHour > 23 {
		errs = append(errs, fmt.Errorf("youtube.sleep_end_hour %d out of range [0,23]", cfg.YouTube.SleepEndHour))
	}
	if cfg.YouTube.DelayRandomizationPercent < 0 || cfg.YouTube.DelayRandomizationPercent > 100 {
		errs = append(errs, fmt.Errorf("youtube.delay_randomization_percent %d out of range [0,100]", cfg.YouTube.DelayRandomizationPercent))
	}
	if cfg.YouTube.SequentialDownloadDelayMinSeconds > 0 && cfg.YouTube.SequentialDownloadDelayMaxSeconds > 0 &&
		cfg.YouTube.SequentialDownloadDelayMinSeconds > cfg.YouTube.SequentialDownloadDelayMaxSeconds {
		errs = append(errs, fmt.Errorf("youtube.sequential_download_delay_min (%d) exceeds delay_max (%d)",
			cfg.YouTube.SequentialDownloadDelayMinSeconds, cfg.YouTube.SequentialDownloadDelayMaxSeconds))
	}

	if cfg.LLM.MaxConcurrentCloud < 0 {
		errs = append(errs, fmt.Errorf("llm.max_concurrent_cloud must be >= 0, got %d", cfg.LLM.MaxConcurrentCloud))
	}
	if cfg.LLM.MaxConcurrentLocal < 0 {
		errs = append(errs, fmt.Errorf("llm.max_concurrent_local must be >= 0, got %d", cfg.LLM.MaxConcurrentLocal))
	}

	if cfg.LLM.Provider != "" {
		if _, ok := cfg.LLM.Providers[cfg.LLM.Provider]; !ok {
			slog.Warn("llm.provider is not present in llm.providers — Registry.CreateLLM will fail at startup",
				"provider", cfg.LLM.Provider)
		}
	}

	if cfg.Proxy.StrictMode && cfg.Proxy.Provider == "" {
		slog.Warn("proxy.strict_mode is set but proxy.provider is empty — every download batch will be refused")
	}

	if cfg.Storage.DBPath == "" {
		errs = append(errs, errors.New("storage.db_path is required"))
	}

	if cfg.Mining.WindowSeconds < 0 {
		errs = append(errs, fmt.Errorf("mining.window_seconds must be >= 0, got %d", cfg.Mining.WindowSeconds))
	}
	if cfg.Mining.OverlapSeconds < 0 {
		errs = append(errs, fmt.Errorf("mining.overlap_seconds must be >= 0, got %d", cfg.Mining.OverlapSeconds))
	}
	if cfg.Mining.OverlapSeconds > 0 && cfg.Mining.WindowSeconds > 0 && cfg.Mining.OverlapSeconds >= cfg.Mining.WindowSeconds {
		errs = append(errs, fmt.Errorf("mining.overlap_seconds (%d) must be less than window_seconds (%d)",
			cfg.Mining.OverlapSeconds, cfg.Mining.WindowSeconds))
	}

	return errors.Join(errs...)
}
