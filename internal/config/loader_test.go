package config_test

import (
	"strings"
	"testing"

	"github.com/knowledgeminer/knowledgeminer/internal/config"
)

func TestValidate_JoinsMultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
storage:
  db_path: data/db.sqlite
server:
  log_level: verbose
youtube:
  sleep_start_hour: 30
  sleep_end_hour: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
	if !strings.Contains(errStr, "sleep_start_hour") {
		t.Errorf("error should mention sleep_start_hour, got: %v", err)
	}
	if !strings.Contains(errStr, "sleep_end_hour") {
		t.Errorf("error should mention sleep_end_hour, got: %v", err)
	}
}

func TestValidate_DelayRandomizationOutOfRange(t *testing.T) {
	t.Parallel()
	yaml := `
storage:
  db_path: data/db.sqlite
youtube:
  delay_randomization_percent: 150
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for delay_randomization_percent out of range, got nil")
	}
	if !strings.Contains(err.Error(), "delay_randomization_percent") {
		t.Errorf("error should mention delay_randomization_percent, got: %v", err)
	}
}

func TestValidate_LLMProviderNotInMapIsWarningNotError(t *testing.T) {
	t.Parallel()
	// spec §6.5: llm.provider referencing a name absent from llm.providers
	// logs a warning at startup (CreateLLM will fail then), but does not
	// fail config validation itself.
	yaml := `
storage:
  db_path: data/db.sqlite
llm:
  provider: missing-provider
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_ProxyStrictModeWithoutProviderIsWarningNotError(t *testing.T) {
	t.Parallel()
	yaml := `
storage:
  db_path: data/db.sqlite
proxy:
  strict_mode: true
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_ValidSleepWindowWrappingMidnight(t *testing.T) {
	t.Parallel()
	// A window where start > end wraps past midnight and is valid (spec §4.2).
	yaml := `
storage:
  db_path: data/db.sqlite
youtube:
  enable_sleep_period: true
  sleep_start_hour: 22
  sleep_end_hour: 6
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_EqualDelayMinMaxIsValid(t *testing.T) {
	t.Parallel()
	yaml := `
storage:
  db_path: data/db.sqlite
youtube:
  sequential_download_delay_min: 200
  sequential_download_delay_max: 200
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
