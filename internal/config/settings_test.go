package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadSettingsReturnsDefaultsWhenMissing(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RESTRUN_CONFIG_DIR", dir)

	settings, handle, err := LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings returned error: %v", err)
	}
	expectedPath := filepath.Join(dir, "settings.toml")
	if handle.Path != expectedPath {
		t.Fatalf("expected handle path %q, got %q", expectedPath, handle.Path)
	}
	if handle.Format != SettingsFormatTOML {
		t.Fatalf("expected format %q, got %q", SettingsFormatTOML, handle.Format)
	}
	if settings.Scripts.Timeout.Std() != DefaultScriptTimeout {
		t.Fatalf("expected script timeout %v, got %v", DefaultScriptTimeout, settings.Scripts.Timeout.Std())
	}
	if settings.History.MaxEntries != DefaultHistoryMaxEntries {
		t.Fatalf("expected history size %d, got %d", DefaultHistoryMaxEntries, settings.History.MaxEntries)
	}
}

func TestLoadSettingsTOMLWithDurations(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RESTRUN_CONFIG_DIR", dir)

	doc := `
[http]
timeout = "5s"
proxy = "http://proxy:3128"

[scripts]
timeout = "500ms"

[runner]
delay = "250ms"

[log]
level = "DEBUG"
format = "json"
`
	if err := os.WriteFile(filepath.Join(dir, "settings.toml"), []byte(doc), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}

	got, _, err := LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if got.HTTP.Timeout.Std() != 5*time.Second {
		t.Fatalf("expected http timeout 5s, got %v", got.HTTP.Timeout.Std())
	}
	if got.Scripts.Timeout.Std() != 500*time.Millisecond {
		t.Fatalf("expected script timeout 500ms, got %v", got.Scripts.Timeout.Std())
	}
	if got.Runner.Delay.Std() != 250*time.Millisecond {
		t.Fatalf("expected delay 250ms, got %v", got.Runner.Delay.Std())
	}
	if got.HTTP.Proxy != "http://proxy:3128" {
		t.Fatalf("unexpected proxy %q", got.HTTP.Proxy)
	}
	if got.Log.Level != "debug" || got.Log.Format != "json" {
		t.Fatalf("unexpected log settings %+v", got.Log)
	}
}

func TestLoadSettingsKeepsDefaultsForMissingKeys(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RESTRUN_CONFIG_DIR", dir)
	if err := os.WriteFile(filepath.Join(dir, "settings.toml"), []byte("[http]\ninsecure = true\n"), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}

	got, _, err := LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if !got.HTTP.Insecure {
		t.Fatalf("expected insecure to be read from file")
	}
	if !got.HTTP.FollowRedirects {
		t.Fatalf("expected redirects to stay enabled by default")
	}
	if got.HTTP.Timeout.Std() != DefaultHTTPTimeout {
		t.Fatalf("expected default http timeout, got %v", got.HTTP.Timeout.Std())
	}
}

func TestLoadSettingsRejectsBadDuration(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RESTRUN_CONFIG_DIR", dir)
	if err := os.WriteFile(filepath.Join(dir, "settings.toml"), []byte("[scripts]\ntimeout = \"soon\"\n"), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	if _, _, err := LoadSettings(); err == nil {
		t.Fatalf("expected parse error for invalid duration")
	}
}

func TestSaveAndLoadSettingsTOML(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RESTRUN_CONFIG_DIR", dir)

	want := DefaultSettings()
	want.Runner.Delay = Duration(time.Second)
	want.Telemetry.Endpoint = "localhost:4317"
	if err := SaveSettings(want, SettingsHandle{}); err != nil {
		t.Fatalf("SaveSettings failed: %v", err)
	}

	got, handle, err := LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if got.Runner.Delay != want.Runner.Delay {
		t.Fatalf("expected delay %v, got %v", want.Runner.Delay.Std(), got.Runner.Delay.Std())
	}
	if got.Telemetry.Endpoint != "localhost:4317" {
		t.Fatalf("expected telemetry endpoint, got %q", got.Telemetry.Endpoint)
	}
	if handle.Format != SettingsFormatTOML {
		t.Fatalf("expected format %q after save, got %q", SettingsFormatTOML, handle.Format)
	}
}

func TestLoadSettingsJSON(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RESTRUN_CONFIG_DIR", dir)

	payload := DefaultSettings()
	payload.History.MaxEntries = 50
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		t.Fatalf("marshal json: %v", err)
	}
	path := filepath.Join(dir, "settings.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write json settings: %v", err)
	}

	got, handle, err := LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if got.History.MaxEntries != 50 {
		t.Fatalf("expected 50 history entries, got %d", got.History.MaxEntries)
	}
	if handle.Format != SettingsFormatJSON {
		t.Fatalf("expected json format, got %q", handle.Format)
	}
	if handle.Path != path {
		t.Fatalf("expected handle path %q, got %q", path, handle.Path)
	}
}

func TestPathsFollowConfigDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RESTRUN_CONFIG_DIR", dir)
	if DBPath() != filepath.Join(dir, "restrun.db") {
		t.Fatalf("unexpected db path %q", DBPath())
	}
	if HistoryPath() != filepath.Join(dir, "history.json") {
		t.Fatalf("unexpected history path %q", HistoryPath())
	}
}

func TestLogSettingsLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := LogSettings{Level: "info", Format: "json"}.Logger(&buf)
	if err != nil {
		t.Fatalf("Logger failed: %v", err)
	}
	log.Debug("hidden")
	log.Info("shown", "k", "v")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line should be filtered: %s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Fatalf("expected json record, got %s", out)
	}

	if _, err := (LogSettings{Level: "loud"}).Logger(&buf); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
