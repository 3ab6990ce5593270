package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// Known analyzer names, in the order they are tried by default.
const (
	AnalyzerOllama = "ollama"
	AnalyzerOpenAI = "openai"
	AnalyzerRules  = "rules"
)

// DefaultDayThreshold is the maximum gap in days between two entries of one episode.
const DefaultDayThreshold = 2

// Config holds application configuration.
type Config struct {
	// DayThreshold is the maximum day gap for a new entry to join an active episode.
	DayThreshold int `json:"day_threshold"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty"`

	// LogFile receives JSON logs in addition to stderr.
	// Relative paths are resolved against the base directory.
	LogFile string `json:"log_file,omitempty"`

	// Analyzers is the ordered list of analyzers to try for each submission.
	// The first that succeeds wins. Unknown names are logged and skipped.
	Analyzers []string `json:"analyzers,omitempty"`

	// OllamaHost is the server URL of the local Ollama instance.
	OllamaHost string `json:"ollama_host,omitempty"`

	// OllamaModel is the local model name.
	OllamaModel string `json:"ollama_model,omitempty"`

	// OpenAIModel is the remote fallback model. The API key is read from OPENAI_API_KEY.
	OpenAIModel string `json:"openai_model,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// AllowedPaths lists extra absolute directories that export and import
	// files may live in, besides <base>/exports.
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths disables the directory restriction for export/import paths.
	// Symlinks are still rejected.
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// DisabledTypes is a list of type names to disable entirely.
	// Known types: "episode".
	DisabledTypes []string `json:"disabled_types,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DayThreshold: DefaultDayThreshold,
		LogLevel:     "info",
		LogFile:      "malaise.log",
		Analyzers:    []string{AnalyzerOllama, AnalyzerOpenAI, AnalyzerRules},
		OllamaHost:   "http://localhost:11434",
		OllamaModel:  "llama3.2",
		OpenAIModel:  "gpt-4o-mini",
	}
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.malaise.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFileRaw(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars and for the analyzer order;
// the disable lists are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.DayThreshold = overlay.DayThreshold
	if result.DayThreshold <= 0 {
		result.DayThreshold = base.DayThreshold
	}

	result.LogLevel = firstNonEmpty(overlay.LogLevel, base.LogLevel)
	result.LogFile = firstNonEmpty(overlay.LogFile, base.LogFile)
	result.OllamaHost = firstNonEmpty(overlay.OllamaHost, base.OllamaHost)
	result.OllamaModel = firstNonEmpty(overlay.OllamaModel, base.OllamaModel)
	result.OpenAIModel = firstNonEmpty(overlay.OpenAIModel, base.OpenAIModel)

	result.DBMaxOpenConns = overlay.DBMaxOpenConns
	if result.DBMaxOpenConns == 0 {
		result.DBMaxOpenConns = base.DBMaxOpenConns
	}

	result.DBMaxIdleConns = overlay.DBMaxIdleConns
	if result.DBMaxIdleConns == 0 {
		result.DBMaxIdleConns = base.DBMaxIdleConns
	}

	// Order matters for analyzers, so the overlay replaces rather than merges.
	analyzers := mergeStringSlice(nil, overlay.Analyzers)
	if len(analyzers) == 0 {
		analyzers = mergeStringSlice(nil, base.Analyzers)
	}
	result.Analyzers = analyzers

	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)
	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths

	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)
	result.DisabledTypes = mergeStringSlice(base.DisabledTypes, overlay.DisabledTypes)

	return result
}

// ResolveLogFile returns the absolute log file path for baseDir.
func (c *Config) ResolveLogFile(baseDir string) string {
	if c.LogFile == "" || filepath.IsAbs(c.LogFile) {
		return c.LogFile
	}
	return filepath.Join(baseDir, c.LogFile)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range append(append([]string{}, a...), b...) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
