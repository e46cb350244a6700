package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Admin.Listen != ":8090" {
		t.Errorf("expected :8090, got %s", cfg.Admin.Listen)
	}
	if cfg.Cache.AnswerTTL != time.Hour {
		t.Errorf("expected 1h answer TTL, got %v", cfg.Cache.AnswerTTL)
	}
	if len(cfg.Assessment.Tiers) != 4 {
		t.Fatalf("expected 4 tiers, got %d", len(cfg.Assessment.Tiers))
	}
	if cfg.Assessment.Tiers[0].MinPercent != 90 {
		t.Errorf("expected top tier at 90, got %d", cfg.Assessment.Tiers[0].MinPercent)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_GEMINI_KEY", "AIza-test-123")

	content := `
telegram:
  token: "123:abc"
gemini:
  keys:
    - ${TEST_GEMINI_KEY}
    - AIza-second
  model: gemini-2.0-flash
cache:
  enabled: true
  max_entries: 100
  answer_ttl: 30m
quota:
  enabled: true
  policies:
    - user_id: "*"
      max_events: 200
      period: daily
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Telegram.Token != "123:abc" {
		t.Errorf("expected telegram token, got %s", cfg.Telegram.Token)
	}
	if len(cfg.Gemini.Keys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(cfg.Gemini.Keys))
	}
	if cfg.Gemini.Keys[0] != "AIza-test-123" {
		t.Errorf("env var not expanded: got %s", cfg.Gemini.Keys[0])
	}
	if cfg.Cache.AnswerTTL != 30*time.Minute {
		t.Errorf("expected 30m answer TTL, got %v", cfg.Cache.AnswerTTL)
	}
	if cfg.Cache.MaxEntries != 100 {
		t.Errorf("expected 100 max entries, got %d", cfg.Cache.MaxEntries)
	}
	if !cfg.Quota.Enabled {
		t.Error("expected quota enabled")
	}
	if cfg.Quota.Policies[0].MaxEvents != 200 {
		t.Errorf("expected 200 max events, got %d", cfg.Quota.Policies[0].MaxEvents)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}
