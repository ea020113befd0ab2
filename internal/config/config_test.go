package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/lockwatch/internal/secret"
)

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != DefaultListen || cfg.RestartDelay != time.Second || cfg.MinResetInterval != 15*time.Minute {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.SecretScheme != secret.SchemePlain {
		t.Fatalf("scheme = %q, want plain", cfg.SecretScheme)
	}
}

func TestLoadOverridesOnlyNamedFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lockwatch.yaml")
	writeConfig(t, path, `
state_dir: /var/lib/lockwatch
reset_interval: 30m
ignore:
  - com.android.systemui
attempts:
  per_minute: 5
  burst: 3
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ResetInterval != 30*time.Minute {
		t.Errorf("reset_interval = %v", cfg.ResetInterval)
	}
	if len(cfg.Ignore) != 1 || cfg.Ignore[0] != "com.android.systemui" {
		t.Errorf("ignore = %v", cfg.Ignore)
	}
	if cfg.Attempts.PerMinute != 5 || cfg.Attempts.Burst != 3 {
		t.Errorf("attempts = %+v", cfg.Attempts)
	}
	if cfg.Listen != DefaultListen {
		t.Errorf("listen should keep default, got %q", cfg.Listen)
	}
	if got := cfg.DatabasePath(); got != "/var/lib/lockwatch/lockwatch.db" {
		t.Errorf("DatabasePath = %q", got)
	}
	if got := cfg.AuditLogPath(); got != "/var/lib/lockwatch/audit.jsonl" {
		t.Errorf("AuditLogPath = %q", got)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"bad yaml":     "listen: [",
		"bad scheme":   "secret_scheme: rot13",
		"negative":     "reset_interval: -5m",
		"bad ignore":   "ignore: [\"\"]",
		"bad level":    "log_level: loud",
		"bad attempts": "attempts: {per_minute: -1}",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "lockwatch.yaml")
			writeConfig(t, path, body)
			if _, err := Load(path); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestReloaderAppliesChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lockwatch.yaml")
	writeConfig(t, path, "reset_interval: 20m\n")

	applied := make(chan *Config, 4)
	r, err := NewReloader(path, func(c *Config) { applied <- c }, nil)
	if err != nil {
		t.Fatalf("NewReloader: %v", err)
	}
	r.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	// Give the watcher a moment before writing.
	time.Sleep(50 * time.Millisecond)
	writeConfig(t, path, "reset_interval: 45m\n")

	select {
	case cfg := <-applied:
		if cfg.ResetInterval != 45*time.Minute {
			t.Fatalf("reset_interval = %v, want 45m", cfg.ResetInterval)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("reload not applied")
	}
}
