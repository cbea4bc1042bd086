package config

// ConfigDiff describes what changed between two configs. Only fields that
// are safe to apply without restarting the process are tracked: storage
// paths and the export endpoint require a restart (open DB handles, wired
// HTTP clients), so they are deliberately excluded here.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	LLMConcurrencyChanged bool
	YouTubePacingChanged  bool
	ProxyChanged          bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.LLM.MaxConcurrentCloud != new.LLM.MaxConcurrentCloud ||
		old.LLM.MaxConcurrentLocal != new.LLM.MaxConcurrentLocal {
		d.LLMConcurrencyChanged = true
	}

	if old.YouTube != new.YouTube {
		d.YouTubePacingChanged = true
	}

	if old.Proxy != new.Proxy {
		d.ProxyChanged = true
	}

	return d
}
