package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load with defaults failed: %v", err)
	}

	if cfg.Scheduler.Interval != 5*time.Minute {
		t.Fatalf("expected 5m default interval, got %s", cfg.Scheduler.Interval)
	}
	if cfg.Monitor.DefaultThresholdPct != 15 {
		t.Fatalf("expected default threshold 15, got %v", cfg.Monitor.DefaultThresholdPct)
	}
	if cfg.Monitor.VariationThresholdPct != 1 {
		t.Fatalf("expected variation threshold 1, got %v", cfg.Monitor.VariationThresholdPct)
	}
	if cfg.Monitor.ReminderAfter != time.Hour {
		t.Fatalf("expected 1h reminder window, got %s", cfg.Monitor.ReminderAfter)
	}
	if cfg.Monitor.AssetDelay != time.Second {
		t.Fatalf("expected 1s asset delay, got %s", cfg.Monitor.AssetDelay)
	}
	if cfg.Notify.Expo.PushURL == "" {
		t.Fatal("expo push url default missing")
	}
}

func validConfig() *Config {
	return &Config{
		Scheduler: SchedulerConfig{Interval: 5 * time.Minute},
		Monitor: MonitorConfig{
			DefaultThresholdPct:   15,
			VariationThresholdPct: 1,
			ReminderAfter:         time.Hour,
		},
		Export: ExportConfig{MaxDataPoints: 1000},
	}
}

func TestValidateRejectsUnknownAssetClass(t *testing.T) {
	cfg := validConfig()
	cfg.Assets = []AssetConfig{{Symbol: "GOLD", Class: "COMMODITY"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown asset class should be rejected")
	}
}

func TestValidateRejectsDuplicateSymbols(t *testing.T) {
	cfg := validConfig()
	cfg.Assets = []AssetConfig{
		{Symbol: "BTC", Class: "CRYPTO"},
		{Symbol: "BTC", Class: "CRYPTO"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("duplicate symbols should be rejected")
	}
}

func TestValidateRejectsPositiveLadderLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Ladders = map[string][]Ladder{
		"ETF": {{Level: 5, Percentage: 30}},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("positive ladder level should be rejected")
	}
}

func TestValidateRequiresTelegramCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.Notify.Telegram.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("enabled telegram without credentials should be rejected")
	}
}

func TestValidateRequiresScheduleSource(t *testing.T) {
	cfg := validConfig()
	cfg.Scheduler.Interval = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("no interval and no cron spec should be rejected")
	}

	cfg.Scheduler.CronSpec = "*/5 * * * *"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("cron spec alone should be valid: %v", err)
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := validConfig()
	if got := cfg.ResolveMaxPoints(0); got != 1000 {
		t.Fatalf("expected config default 1000, got %d", got)
	}
	if got := cfg.ResolveMaxPoints(50); got != 50 {
		t.Fatalf("expected override 50, got %d", got)
	}
}
