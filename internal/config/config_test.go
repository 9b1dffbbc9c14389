package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer os.Chdir(wd)

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.MaxRetries != 5 || cfg.RetryDelay != 5*time.Second {
		t.Fatalf("unexpected retry defaults: %d %s", cfg.MaxRetries, cfg.RetryDelay)
	}
	if cfg.HealthInterval != 30*time.Second || cfg.ReplayBlocks != 100 {
		t.Fatalf("unexpected connection defaults: %s %d", cfg.HealthInterval, cfg.ReplayBlocks)
	}
	if cfg.AIModel != "gemini-2.5-flash" || cfg.AITimeout != 15*time.Second {
		t.Fatalf("unexpected ai defaults: %s %s", cfg.AIModel, cfg.AITimeout)
	}
	if cfg.EnforceRateLimit {
		t.Fatalf("rate limit must be off by default")
	}
}

func TestLoadFileAndFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pingme.yaml")
	content := []byte(`
rpc: ws://file:8546
max-retries: 3
importance:
  Mint: high
handlers:
  Sync: record
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("rpc", "", "")
	if err := flags.Parse([]string{"--rpc", "ws://flag:8546"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load(path, flags)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.RPCURL != "ws://flag:8546" {
		t.Fatalf("flag should override file, got %s", cfg.RPCURL)
	}
	if cfg.MaxRetries != 3 {
		t.Fatalf("expected max-retries from file, got %d", cfg.MaxRetries)
	}
	if cfg.Importance["mint"] != "high" {
		t.Fatalf("expected importance override, got %v", cfg.Importance)
	}
	if cfg.Handlers["sync"] != "record" {
		t.Fatalf("expected handler override, got %v", cfg.Handlers)
	}
}
