package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestLoad_DefaultWhenMissing(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DayThreshold != DefaultDayThreshold {
		t.Fatalf("DayThreshold = %d, want %d", cfg.DayThreshold, DefaultDayThreshold)
	}
	if len(cfg.Analyzers) != 3 || cfg.Analyzers[0] != AnalyzerOllama {
		t.Fatalf("Analyzers = %v, want default order", cfg.Analyzers)
	}
}

func TestLoad_OverridesFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	data := `{"day_threshold": 3, "analyzers": ["rules"], "openai_model": "gpt-4.1"}`
	if err := os.WriteFile(configPath, []byte(data), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DayThreshold != 3 {
		t.Errorf("DayThreshold = %d, want 3", cfg.DayThreshold)
	}
	if len(cfg.Analyzers) != 1 || cfg.Analyzers[0] != AnalyzerRules {
		t.Errorf("Analyzers = %v, want [rules]", cfg.Analyzers)
	}
	if cfg.OpenAIModel != "gpt-4.1" {
		t.Errorf("OpenAIModel = %q, want gpt-4.1", cfg.OpenAIModel)
	}
	if cfg.OllamaModel != DefaultConfig().OllamaModel {
		t.Errorf("OllamaModel = %q, want default", cfg.OllamaModel)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{not json}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := Load(tmpDir); err == nil {
		t.Fatalf("Load() expected error, got nil")
	}
}

func TestMerge_NonPositiveThresholdKeepsBase(t *testing.T) {
	cfg := Merge(DefaultConfig(), &Config{DayThreshold: -1})
	if cfg.DayThreshold != DefaultDayThreshold {
		t.Errorf("DayThreshold = %d, want %d", cfg.DayThreshold, DefaultDayThreshold)
	}
}

func TestMerge_DisabledListsDeduplicated(t *testing.T) {
	base := &Config{DisabledTools: []string{"episode_delete", " episode_import "}}
	overlay := &Config{DisabledTools: []string{"episode_import", "", "episode_export"}}

	cfg := Merge(base, overlay)

	want := []string{"episode_delete", "episode_import", "episode_export"}
	if len(cfg.DisabledTools) != len(want) {
		t.Fatalf("DisabledTools = %v, want %v", cfg.DisabledTools, want)
	}
	for i := range want {
		if cfg.DisabledTools[i] != want[i] {
			t.Errorf("DisabledTools[%d] = %q, want %q", i, cfg.DisabledTools[i], want[i])
		}
	}
}

func TestMerge_AllowedPaths(t *testing.T) {
	base := &Config{AllowedPaths: []string{"/srv/backups"}}
	overlay := &Config{AllowedPaths: []string{"/srv/backups", "/mnt/usb"}, AllowUnsafePaths: true}

	cfg := Merge(base, overlay)

	if len(cfg.AllowedPaths) != 2 || cfg.AllowedPaths[1] != "/mnt/usb" {
		t.Fatalf("AllowedPaths = %v, want [/srv/backups /mnt/usb]", cfg.AllowedPaths)
	}
	if !cfg.AllowUnsafePaths {
		t.Error("AllowUnsafePaths = false, want true")
	}
	if Merge(DefaultConfig(), &Config{}).AllowUnsafePaths {
		t.Error("AllowUnsafePaths should default to false")
	}
}

func TestMerge_EmptyListsStayNil(t *testing.T) {
	cfg := Merge(&Config{}, &Config{})
	if cfg.DisabledTypes != nil {
		t.Errorf("DisabledTypes = %v, want nil", cfg.DisabledTypes)
	}
	if cfg.Analyzers != nil {
		t.Errorf("Analyzers = %v, want nil", cfg.Analyzers)
	}
}

func TestResolveLogFile(t *testing.T) {
	cfg := &Config{LogFile: "malaise.log"}
	if got := cfg.ResolveLogFile("/tmp/base"); got != filepath.Join("/tmp/base", "malaise.log") {
		t.Errorf("ResolveLogFile() = %q", got)
	}

	cfg.LogFile = "/var/log/malaise.log"
	if got := cfg.ResolveLogFile("/tmp/base"); got != "/var/log/malaise.log" {
		t.Errorf("ResolveLogFile() = %q, want absolute path unchanged", got)
	}
}

func TestDeviceID_CreatedOnceAndReused(t *testing.T) {
	tmpDir := t.TempDir()

	first, err := DeviceID(tmpDir)
	if err != nil {
		t.Fatalf("DeviceID() error = %v", err)
	}
	if _, err := uuid.Parse(first); err != nil {
		t.Fatalf("DeviceID() = %q, not a UUID: %v", first, err)
	}

	second, err := DeviceID(tmpDir)
	if err != nil {
		t.Fatalf("DeviceID() error = %v", err)
	}
	if first != second {
		t.Errorf("DeviceID() changed between calls: %q != %q", first, second)
	}
}

func TestDeviceID_KeepsExistingFile(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "device_id"), []byte("my-laptop\n"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	id, err := DeviceID(tmpDir)
	if err != nil {
		t.Fatalf("DeviceID() error = %v", err)
	}
	if id != "my-laptop" {
		t.Errorf("DeviceID() = %q, want %q", id, "my-laptop")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetupLoggerWithWriters_FansOut(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Info("episode created", "episode_id", "01HX")
	logger.Debug("dropped")

	if !strings.Contains(stderr.String(), "episode created") {
		t.Errorf("stderr missing message: %q", stderr.String())
	}
	if !strings.Contains(file.String(), `"episode_id":"01HX"`) {
		t.Errorf("file missing JSON attr: %q", file.String())
	}
	if strings.Contains(stderr.String(), "dropped") {
		t.Error("debug message should be filtered at info level")
	}
}

func TestSetupLogger_WritesFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "malaise.log")

	logger, cleanup := SetupLogger(logPath, slog.LevelInfo)
	logger.Info("hello")
	if err := cleanup(); err != nil {
		t.Fatalf("cleanup() error = %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), `"msg":"hello"`) {
		t.Errorf("log file = %q, want JSON record", string(data))
	}
}
