package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	// We pass nil for cmd to skip flags
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Port != DefaultServerPort {
		t.Errorf("Expected default port %d, got %d", DefaultServerPort, cfg.Server.Port)
	}
	if cfg.Cache.MaxAge != DefaultCacheMaxAge {
		t.Errorf("Expected default cache max age %s, got %s", DefaultCacheMaxAge, cfg.Cache.MaxAge)
	}
	if cfg.Cache.RevalidateAfter != DefaultCacheRevalidateAfter {
		t.Errorf("Expected default revalidate after %s, got %s", DefaultCacheRevalidateAfter, cfg.Cache.RevalidateAfter)
	}
	if !cfg.Cache.BackgroundRevalidation {
		t.Errorf("Expected background revalidation enabled by default")
	}
	if cfg.Cache.Strategy != DefaultCacheStrategy {
		t.Errorf("Expected default strategy %s, got %s", DefaultCacheStrategy, cfg.Cache.Strategy)
	}
	if cfg.Reference.Timeout != DefaultReferenceTimeout {
		t.Errorf("Expected default reference timeout %s, got %s", DefaultReferenceTimeout, cfg.Reference.Timeout)
	}
	if cfg.Reference.MaxRetries != DefaultReferenceMaxRetries {
		t.Errorf("Expected default reference retries %d, got %d", DefaultReferenceMaxRetries, cfg.Reference.MaxRetries)
	}
	if cfg.Reconciler.SnapshotTTL != DefaultReconcilerSnapshotTTL {
		t.Errorf("Expected default snapshot ttl %s, got %s", DefaultReconcilerSnapshotTTL, cfg.Reconciler.SnapshotTTL)
	}
	if cfg.Navigation.MaxRedirectAttempts != DefaultNavigationMaxRedirects {
		t.Errorf("Expected default max redirects %d, got %d", DefaultNavigationMaxRedirects, cfg.Navigation.MaxRedirectAttempts)
	}
	if cfg.Janitor.Schedule != DefaultJanitorSchedule {
		t.Errorf("Expected default janitor schedule %s, got %s", DefaultJanitorSchedule, cfg.Janitor.Schedule)
	}

	home, _ := os.UserHomeDir()
	if want := filepath.Join(home, ".etat", "data"); cfg.Store.DataDir != want {
		t.Errorf("Expected data dir %s, got %s", want, cfg.Store.DataDir)
	}
}

func TestLoadWithConfigFlag(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	content := []byte(`
server:
  port: 9191
cache:
  max_age: 12h
  strategy: network-first
reference:
  base_url: https://inspections.example.com/api
navigation:
  max_redirect_attempts: 5
`)
	if err := os.WriteFile(configPath, content, 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("config", "", "")
	if err := cmd.Flags().Set("config", configPath); err != nil {
		t.Fatalf("set flag: %v", err)
	}

	cfg, err := Load(cmd)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Port != 9191 {
		t.Errorf("Expected port 9191, got %d", cfg.Server.Port)
	}
	if cfg.Cache.MaxAge != "12h" {
		t.Errorf("Expected max age 12h, got %s", cfg.Cache.MaxAge)
	}
	if cfg.Cache.Strategy != "network-first" {
		t.Errorf("Expected network-first, got %s", cfg.Cache.Strategy)
	}
	if cfg.Reference.BaseURL != "https://inspections.example.com/api" {
		t.Errorf("Unexpected base url %s", cfg.Reference.BaseURL)
	}
	if cfg.Navigation.MaxRedirectAttempts != 5 {
		t.Errorf("Expected 5 redirect attempts, got %d", cfg.Navigation.MaxRedirectAttempts)
	}
	// untouched keys keep their defaults
	if cfg.Cache.RevalidateAfter != DefaultCacheRevalidateAfter {
		t.Errorf("Expected default revalidate after, got %s", cfg.Cache.RevalidateAfter)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("ETAT_CACHE_MAX_AGE", "6h")
	t.Setenv("ETAT_REFERENCE_BASE_URL", "http://ref.local")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Cache.MaxAge != "6h" {
		t.Errorf("Expected env max age 6h, got %s", cfg.Cache.MaxAge)
	}
	if cfg.Reference.BaseURL != "http://ref.local" {
		t.Errorf("Expected env base url, got %s", cfg.Reference.BaseURL)
	}
}

func TestDurationOrDefault(t *testing.T) {
	d, err := DurationOrDefault("", "24h")
	if err != nil || d != 24*time.Hour {
		t.Fatalf("expected 24h, got %v (%v)", d, err)
	}
	if _, err := DurationOrDefault("bogus", "1h"); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := PositiveDurationOrDefault("0s", "1s"); err == nil {
		t.Fatal("expected zero interval to be rejected")
	}
}
