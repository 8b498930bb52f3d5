package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != DriverFile || cfg.Storage.AdvisoryLockKey != 0x72657665 {
		t.Fatalf("unexpected storage defaults %+v", cfg.Storage)
	}
	if cfg.Scheduler.Interval != time.Hour || cfg.Server.RequestTimeout != time.Minute {
		t.Fatalf("unexpected durations %v %v", cfg.Scheduler.Interval, cfg.Server.RequestTimeout)
	}
	if cfg.Attribution.DefaultModel != "linear" || cfg.Forecasting.MinSeasonalityPeriods != 12 {
		t.Fatalf("unexpected engine defaults %+v %+v", cfg.Attribution, cfg.Forecasting)
	}
	if len(cfg.Alerting.Channels) != 1 || cfg.Alerting.Channels[0] != "log" {
		t.Fatalf("unexpected alert channels %v", cfg.Alerting.Channels)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := writeConfig(t, `
storage:
  driver: memory
forecasting:
  window_size: 6
monitor:
  z_threshold: 3
`)
	t.Setenv("REVENUE_MONITOR_Z_THRESHOLD", "2.5")
	t.Setenv("REVENUE_SCHEDULER_INTERVAL", "15m")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != DriverMemory || cfg.Forecasting.WindowSize != 6 {
		t.Fatalf("file values not applied: %+v %+v", cfg.Storage, cfg.Forecasting)
	}
	if cfg.Monitor.ZThreshold != 2.5 {
		t.Fatalf("expected env override, got %v", cfg.Monitor.ZThreshold)
	}
	if cfg.Scheduler.Interval != 15*time.Minute {
		t.Fatalf("expected 15m interval, got %v", cfg.Scheduler.Interval)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"driver":    "storage:\n  driver: mongo\n",
		"alpha":     "forecasting:\n  alpha: 1.5\n",
		"ratio":     "monitor:\n  underperform_ratio: 0\n",
		"telegram":  "alerting:\n  telegram:\n    enabled: true\n",
		"postgres":  "storage:\n  driver: postgres\n",
		"window":    "forecasting:\n  window_size: 0\n",
		"deviation": "monitor:\n  deviation_pct: -1\n",
		"lock key":  "storage:\n  driver: postgres\n  dsn: postgres://localhost/revenue\n  advisory_lock_key: 4294967296\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadAcceptsPostgresLockKeyInRange(t *testing.T) {
	cfg, err := Load(writeConfig(t, "storage:\n  driver: postgres\n  dsn: postgres://localhost/revenue\n  advisory_lock_key: -2147483648\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.AdvisoryLockKey != -2147483648 {
		t.Fatalf("unexpected lock key %d", cfg.Storage.AdvisoryLockKey)
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 500}}
	if got := cfg.ResolveMaxPoints(0); got != 500 {
		t.Fatalf("expected config default, got %d", got)
	}
	if got := cfg.ResolveMaxPoints(50); got != 50 {
		t.Fatalf("expected override, got %d", got)
	}
}
