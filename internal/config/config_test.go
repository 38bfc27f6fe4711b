package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(configPathEnv, "")
	t.Setenv(thresholdEnv, "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Dedup.SimilarityThreshold != 0.92 {
		t.Fatalf("unexpected default threshold: %v", cfg.Dedup.SimilarityThreshold)
	}
	if cfg.AI.Model != "gpt-4o" {
		t.Fatalf("unexpected default model: %s", cfg.AI.Model)
	}
	if rates := cfg.AI.Pricing["gpt-4o"]; rates.Input != 2.50 || rates.Output != 10.00 {
		t.Fatalf("unexpected gpt-4o rates: %+v", rates)
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "newsdesk.yaml")
	raw := `
database:
  driver: sqlite
  dsn: file:test.db
dedup:
  similarityThreshold: 0.85
scheduler:
  defaultScrapeInterval: 45m
sources:
  - name: World Nuclear News
    slug: wnn
    url: https://example.org
    adapter: feed
    options:
      feed_url: https://example.org/rss
  - name: Agency
    slug: agency
    adapter: browser
    scrapeInterval: 10m
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv(configPathEnv, path)
	t.Setenv(thresholdEnv, "0.9")
	t.Setenv(aiModelEnv, "claude-3-5-haiku-20241022")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Database.Driver != "sqlite" {
		t.Fatalf("unexpected driver: %s", cfg.Database.Driver)
	}
	if cfg.Dedup.SimilarityThreshold != 0.9 {
		t.Fatalf("env override not applied, threshold=%v", cfg.Dedup.SimilarityThreshold)
	}
	if cfg.AI.Model != "claude-3-5-haiku-20241022" {
		t.Fatalf("unexpected model: %s", cfg.AI.Model)
	}
	if len(cfg.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(cfg.Sources))
	}
	if cfg.Sources[0].ScrapeInterval != 45*time.Minute {
		t.Fatalf("default interval not applied: %v", cfg.Sources[0].ScrapeInterval)
	}
	if cfg.Sources[1].ScrapeInterval != 10*time.Minute {
		t.Fatalf("explicit interval lost: %v", cfg.Sources[1].ScrapeInterval)
	}
	if cfg.Sources[0].Options["feed_url"] != "https://example.org/rss" {
		t.Fatalf("options not parsed: %v", cfg.Sources[0].Options)
	}
	if cfg.Scheduler.ScrapeWorkers != 4 {
		t.Fatalf("defaults lost while merging file: %d", cfg.Scheduler.ScrapeWorkers)
	}
}

func TestValidateRejectsThresholdOutOfRange(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.Dedup.SimilarityThreshold = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for threshold 1.5")
	}
}

func TestValidateRequiresDefaultPricing(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.AI.DefaultPricing = "unknown-model"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for default pricing without rates")
	}
}
