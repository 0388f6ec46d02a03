package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultsAreValid(t *testing.T) {
	if err := Validate(Defaults()); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	raw := `{
		"backend": {"baseUrl": "http://backend:9000"},
		"sync": {"pollIntervalSeconds": 10},
		"rooms": {"monitored": ["123", 456]}
	}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.BaseURL != "http://backend:9000" {
		t.Errorf("BaseURL = %q", cfg.Backend.BaseURL)
	}
	if cfg.Sync.PollIntervalSeconds != 10 {
		t.Errorf("PollIntervalSeconds = %d", cfg.Sync.PollIntervalSeconds)
	}
	// Untouched keys keep their defaults.
	if cfg.Sync.ReconnectBaseDelayMs != 1000 {
		t.Errorf("ReconnectBaseDelayMs = %d", cfg.Sync.ReconnectBaseDelayMs)
	}
	if cfg.Alerts.MaxEscalationLevel != 3 {
		t.Errorf("MaxEscalationLevel = %d", cfg.Alerts.MaxEscalationLevel)
	}
	// Numeric room ids are coerced to strings.
	if got := []string(cfg.Rooms.Monitored); len(got) != 2 || got[0] != "123" || got[1] != "456" {
		t.Errorf("Monitored = %v", got)
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("DASH_TOKEN", "secret-token")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	raw := `{"backend": {"token": "${DASH_TOKEN}", "wsUrl": "${DASH_WS:-ws://fallback/ws}"}}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.Token != "secret-token" {
		t.Errorf("Token = %q", cfg.Backend.Token)
	}
	if cfg.Backend.WSURL != "ws://fallback/ws" {
		t.Errorf("WSURL = %q", cfg.Backend.WSURL)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Defaults()
	cfg.Backend.BaseURL = ""
	cfg.Sync.PollIntervalSeconds = 0
	cfg.Notify.Telegram.Enabled = true

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"backend.baseUrl", "sync.pollIntervalSeconds", "notify.telegram.token"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.json")
	cfg := Defaults()
	cfg.Backend.BaseURL = "http://example:8000"

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Backend.BaseURL != "http://example:8000" {
		t.Errorf("BaseURL = %q", loaded.Backend.BaseURL)
	}
}

func TestFlexStringListMixedTypes(t *testing.T) {
	var f FlexStringList
	if err := json.Unmarshal([]byte(`["a", 12, "c"]`), &f); err != nil {
		t.Fatal(err)
	}
	if len(f) != 3 || f[0] != "a" || f[1] != "12" || f[2] != "c" {
		t.Errorf("got %v", f)
	}
}

func TestLoadRulesFallsBackToDefaults(t *testing.T) {
	rules, err := LoadRules("")
	if err != nil {
		t.Fatal(err)
	}
	if len(rules.Categories["projects"]) == 0 {
		t.Error("built-in projects keywords missing")
	}
}

func TestLoadRulesOverridesPerCategory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	raw := "categories:\n  projects:\n    - apollo\n    - zeus\n"
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	rules, err := LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if got := rules.Categories["projects"]; len(got) != 2 || got[0] != "apollo" {
		t.Errorf("projects = %v", got)
	}
	// Other categories keep the built-ins.
	if len(rules.Categories["meetings"]) == 0 {
		t.Error("meetings defaults lost")
	}
}
