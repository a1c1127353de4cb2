package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harunnryd/etat/internal/config"

	"github.com/spf13/cobra"
)

func TestConfigInitCmd(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	home, _ := os.UserHomeDir()

	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)

	if err := configInitCmd.RunE(cmd, nil); err != nil {
		t.Fatalf("Config init failed: %v", err)
	}

	configPath := filepath.Join(home, ".etat", "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Config file not created at %s: %v", configPath, err)
	}
	if !strings.Contains(string(data), "strategy: cache-first") {
		t.Errorf("unexpected config template:\n%s", data)
	}

	out.Reset()
	if err := configInitCmd.RunE(cmd, nil); err != nil {
		t.Errorf("Config init should succeed when config exists: %v", err)
	}
	if !strings.Contains(out.String(), "already exists") {
		t.Errorf("second init output = %q", out.String())
	}
}

func TestConfigInitTemplateLoads(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	if err := configInitCmd.RunE(&cobra.Command{}, nil); err != nil {
		t.Fatalf("Config init failed: %v", err)
	}

	loaded, err := config.Load(nil)
	if err != nil {
		t.Fatalf("load generated config: %v", err)
	}
	if loaded.Cache.Strategy != "cache-first" || loaded.Navigation.MaxRedirectAttempts != 3 {
		t.Errorf("generated config did not round trip: %+v", loaded)
	}
	if !strings.HasSuffix(loaded.Store.DataDir, filepath.Join(".etat", "data")) {
		t.Errorf("data dir = %s, want expanded ~/.etat/data", loaded.Store.DataDir)
	}
}

func TestConfigViewRedactsWebhook(t *testing.T) {
	prev := cfg
	t.Cleanup(func() { cfg = prev })
	cfg = &config.Config{Report: config.ReportConfig{SlackWebhookURL: "https://hooks.slack.com/services/T000/B000/XXXXSECRET"}}

	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)
	if err := configViewCmd.RunE(cmd, nil); err != nil {
		t.Fatalf("Config view failed: %v", err)
	}
	if strings.Contains(out.String(), "XXXXSECRET") {
		t.Errorf("webhook secret leaked:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "hooks.slack.com") {
		t.Errorf("webhook host should stay visible:\n%s", out.String())
	}
}

func TestMaskSecret(t *testing.T) {
	tests := map[string]string{
		"":           "",
		"abc":        "****",
		"abcdefgh":   "ab****gh",
		"sk-1234567": "sk******67",
	}
	for in, want := range tests {
		if got := maskSecret(in); got != want {
			t.Errorf("maskSecret(%q) = %q, want %q", in, got, want)
		}
	}
}
