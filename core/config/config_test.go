package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.ini")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultsWithoutFile(t *testing.T) {
	conf, err := Load(filepath.Join(t.TempDir(), "missing.ini"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if got := conf.GetString("DefaultQuality"); got != "standard" {
		t.Errorf("DefaultQuality = %q, want standard", got)
	}
	if got := conf.GetInt("MediaSourceRetries"); got != 1 {
		t.Errorf("MediaSourceRetries = %d, want 1", got)
	}
	if got := conf.GetString("PlayErrorPolicy"); got != "skip" {
		t.Errorf("PlayErrorPolicy = %q, want skip", got)
	}
}

func TestLoadINIOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `DefaultQuality = high
WhenQualityMissing = higher
MPDPort = 6601
`)
	conf, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if got := conf.GetString("DefaultQuality"); got != "high" {
		t.Errorf("DefaultQuality = %q, want high", got)
	}
	if got := conf.GetInt("MPDPort"); got != 6601 {
		t.Errorf("MPDPort = %d, want 6601", got)
	}
}

func TestPluginSections(t *testing.T) {
	path := writeConfig(t, `LogLevel = debug

[plugins.demo]
token = abc
page_size = 30
enabled = true

[plugins.broken]
enabled = false
`)
	conf, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	names := conf.PluginNames()
	if len(names) != 2 || names[0] != "broken" || names[1] != "demo" {
		t.Fatalf("PluginNames() = %v", names)
	}
	if !conf.PluginEnabled("demo") {
		t.Error("expected demo enabled")
	}
	if conf.PluginEnabled("broken") {
		t.Error("expected broken disabled")
	}
	if !conf.PluginEnabled("unknown") {
		t.Error("expected plugins without a section to be enabled")
	}
	if got := conf.GetPluginInt("demo", "page_size"); got != 30 {
		t.Errorf("GetPluginInt = %d, want 30", got)
	}

	vars := conf.PluginUserVariables("demo")
	if len(vars) != 2 || vars["token"] != "abc" || vars["page_size"] != "30" {
		t.Errorf("PluginUserVariables = %v", vars)
	}
	if _, ok := vars["enabled"]; ok {
		t.Error("enabled must not leak into user variables")
	}
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("MUSICPLAYER_LANG", "en-US")
	conf, err := Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if got := conf.GetString("Lang"); got != "en-US" {
		t.Errorf("Lang = %q, want en-US", got)
	}
}
