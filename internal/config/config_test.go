package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sample = `
data_dir: /tmp/eventfeeds
log_level: debug
refresh: "0 * * * *"
refresh_timeout: 90s
scrape:
  concurrency: 2
  retries: 0
  request_timeout: 5s
feeds:
  - name: openlands
    adapter: Openlands
    endpoint: https://www.cervistech.com/acts/webreg/eventwebreglist.php?org_id=0254
notify:
  dry_run: true
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.DataDir != "/tmp/eventfeeds" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.Listen != DefaultListen {
		t.Errorf("Listen = %q, want default %q", cfg.Listen, DefaultListen)
	}
	if time.Duration(cfg.RefreshTimeout) != 90*time.Second {
		t.Errorf("RefreshTimeout = %v", time.Duration(cfg.RefreshTimeout))
	}
	if len(cfg.Feeds) != 1 {
		t.Fatalf("got %d feeds, want 1", len(cfg.Feeds))
	}
	f := cfg.Feeds[0]
	if f.Adapter != "openlands" {
		t.Errorf("Adapter = %q, want lowercased", f.Adapter)
	}
	if f.TimeZone != "America/Chicago" {
		t.Errorf("TimeZone = %q, want default", f.TimeZone)
	}
	if !cfg.Notify.DryRun {
		t.Error("DryRun should be set")
	}

	sc := cfg.ScraperConfig()
	if sc.Concurrency != 2 || sc.Retries != 0 || sc.RequestTimeout != 5*time.Second {
		t.Errorf("ScraperConfig() = %+v", sc)
	}
	if sc.RatePerSecond != 2 || sc.Burst != 4 {
		t.Errorf("rate defaults not applied: %+v", sc)
	}
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(nil) error = %v", err)
	}
	if cfg.Refresh != DefaultRefresh {
		t.Errorf("Refresh = %q", cfg.Refresh)
	}
	if cfg.ScraperConfig().Retries != 2 {
		t.Errorf("Retries = %d, want default 2", cfg.ScraperConfig().Retries)
	}
}

func TestParse_RateLimit(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want float64
	}{
		{"default", "", 2},
		{"explicit", "scrape:\n  rate_per_second: 0.5\n", 0.5},
		{"disabled", "scrape:\n  rate_per_second: 0\n", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.yaml))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if got := cfg.ScraperConfig().RatePerSecond; got != tt.want {
				t.Errorf("RatePerSecond = %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := Parse([]byte("scrape:\n  rate_per_second: -1\n")); err == nil {
		t.Error("a negative rate should be rejected")
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad duration", "refresh_timeout: soon\n", "invalid duration"},
		{"unknown key", "refersh: '* * * * *'\n", "refersh"},
		{"bad cron", "refresh: every hour\n", "refresh"},
		{"bad level", "log_level: loud\n", "unknown log level"},
		{"unknown adapter", "feeds:\n  - name: x\n    adapter: eventbrite\n    endpoint: https://example.com/\n", "unknown adapter"},
		{"relative endpoint", "feeds:\n  - name: x\n    adapter: cervis\n    endpoint: /list.php\n", "absolute URL"},
		{"bad zone", "feeds:\n  - name: x\n    adapter: cervis\n    endpoint: https://example.com/\n    time_zone: Mars/Olympus\n", "time zone"},
		{
			"duplicate feed",
			"feeds:\n  - {name: x, adapter: cervis, endpoint: 'https://a.example/'}\n  - {name: x, adapter: cervis, endpoint: 'https://b.example/'}\n",
			"duplicate name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Parse() should fail")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad_Missing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() of a missing file should fail")
	}
	if _, err := Load(""); err == nil {
		t.Error("Load(\"\") should fail")
	}
}

func TestTwitterConfigured(t *testing.T) {
	var missing *Twitter
	if missing.Configured() {
		t.Error("nil credentials are not configured")
	}
	partial := &Twitter{APIKey: "k", APISecret: "s"}
	if partial.Configured() {
		t.Error("partial credentials are not configured")
	}
	full := &Twitter{APIKey: "k", APISecret: "s", AccessToken: "t", AccessTokenSecret: "ts"}
	if !full.Configured() {
		t.Error("full credentials should be configured")
	}
}

func TestWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eventfeeds.yaml")
	if err := os.WriteFile(path, []byte("log_level: info\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, func(c *Config) { changes <- c }) }()

	// give the watcher time to register before editing
	time.Sleep(100 * time.Millisecond)

	// an invalid edit is ignored
	if err := os.WriteFile(path, []byte("log_level: loud\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * settle)

	if err := os.WriteFile(path, []byte("log_level: warn\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-changes:
		if cfg.LogLevel != "warn" {
			t.Errorf("LogLevel = %q, want warn", cfg.LogLevel)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after a valid edit")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch() error = %v", err)
	}
}

func TestTelegramConfigured(t *testing.T) {
	var missing *Telegram
	if missing.Configured() {
		t.Error("nil telegram config reported as configured")
	}
	if (&Telegram{BotToken: "token"}).Configured() {
		t.Error("telegram config without chat reported as configured")
	}
	if !(&Telegram{BotToken: "token", ChatID: "42"}).Configured() {
		t.Error("complete telegram config reported as not configured")
	}
}

func TestNotifySecrets(t *testing.T) {
	n := Notify{
		Twitter:  &Twitter{APIKey: "k", APISecret: "s", AccessToken: "t", AccessTokenSecret: "ts"},
		Telegram: &Telegram{BotToken: "enc:abc", ChatID: "42"},
	}
	secrets := n.Secrets()
	if len(secrets) != 5 {
		t.Fatalf("Secrets() returned %d values, want 5", len(secrets))
	}
	*secrets[4] = "opened"
	if n.Telegram.BotToken != "opened" {
		t.Error("Secrets() does not point into the config")
	}
	if len((&Notify{}).Secrets()) != 0 {
		t.Error("empty notify config has secrets")
	}
}
