// Package config loads askyd's YAML configuration file: read, expand
// environment references, strict-decode with yaml.v3, layer in defaults,
// then validate. Every component reads its tunables from here rather than
// from hardcoded constants.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/evrenesat/asky/pkg/models"
)

// Config is askyd's top-level configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	LLM       LLMConfig       `yaml:"llm"`
	Limits    LimitsConfig    `yaml:"limits"`
	Research  ResearchConfig  `yaml:"research"`
	Session   SessionConfig   `yaml:"session"`
	Preload   PreloadConfig   `yaml:"preload"`
	Daemon    DaemonConfig    `yaml:"daemon"`
	Plugins   PluginsConfig   `yaml:"plugins"`
	Logging   LoggingConfig   `yaml:"logging"`
	Compactor CompactorConfig `yaml:"compactor"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// TracingConfig configures the OTLP trace exporter. An empty Endpoint
// disables export; spans are still created but never leave the process.
type TracingConfig struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// MetricsConfig configures the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// DatabaseConfig points at the history store's SQLite file.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// LLMConfig names the models the orchestrator addresses by role:
// default, summarization, and the narrow interface model.
type LLMConfig struct {
	DefaultModel       string `yaml:"default_model"`
	SummarizationModel string `yaml:"summarization_model"`
	InterfaceModel     string `yaml:"interface_model"`
}

// LimitsConfig bounds turn count, external-call timeouts, retry behavior,
// and input sizes.
type LimitsConfig struct {
	MaxTurns               int           `yaml:"max_turns"`
	SearchTimeout          time.Duration `yaml:"search_timeout"`
	FetchTimeout           time.Duration `yaml:"fetch_timeout"`
	LLMTimeout             time.Duration `yaml:"llm_timeout"`
	MaxRetries             int           `yaml:"max_retries"`
	InitialBackoff         time.Duration `yaml:"initial_backoff"`
	MaxBackoff             time.Duration `yaml:"max_backoff"`
	MaxURLDetailLinks      int           `yaml:"max_url_detail_links"`
	SearchSnippetMaxChars  int           `yaml:"search_snippet_max_chars"`
	MaxPromptFileSize      int64         `yaml:"max_prompt_file_size"`
	MaxShortlistCandidates int           `yaml:"max_shortlist_candidates"`
}

// ResearchConfig carries the default research posture new sessions inherit.
type ResearchConfig struct {
	DefaultSourceMode string `yaml:"default_source_mode"`
}

// SessionConfig configures session resolution and the shell-sticky lock.
type SessionConfig struct {
	ResearchSourceMode string `yaml:"research_source_mode"`
	LockDir            string `yaml:"lock_dir"`
}

// PreloadConfig configures the RAG pipeline.
type PreloadConfig struct {
	LocalDocumentRoots         []string `yaml:"local_document_roots"`
	OneShotDocumentThreshold   int      `yaml:"one_shot_document_threshold"`
	EvidenceExtractionEnabled  bool     `yaml:"evidence_extraction_enabled"`
	QueryClassificationEnabled bool     `yaml:"query_classification_enabled"`
}

// DaemonConfig carries the daemon.* keys.
type DaemonConfig struct {
	AllowedSenders          []string          `yaml:"allowed_senders"`
	CommandPrefix           string            `yaml:"command_prefix"`
	ResponseChunkChars      int               `yaml:"response_chunk_chars"`
	TranscriptMaxPerSession int               `yaml:"transcript_max_per_session"`
	Presets                 map[string]string `yaml:"presets"`
}

// PluginsConfig points at manifests and their per-plugin data root.
type PluginsConfig struct {
	ManifestPath string `yaml:"manifest_path"`
	DataRoot     string `yaml:"data_root"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// CompactorConfig drives threshold-triggered compaction and the background
// session-expiry sweep.
type CompactorConfig struct {
	Strategy      string        `yaml:"strategy"`  // "summary_concat" or "llm_summary"
	Threshold     float64       `yaml:"threshold"` // share of the context window that triggers compaction
	ContextWindow int           `yaml:"context_window"`
	Sweep         string        `yaml:"sweep"` // cron expression
	MaxAge        time.Duration `yaml:"max_age"`
}

// Load reads path, expands ${VAR} references against the process
// environment, strict-decodes as YAML, layers in defaults, applies env
// overrides, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := decoder.Decode(new(struct{})); err != io.EOF {
		return nil, fmt.Errorf("parse config: expected a single YAML document")
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "asky.db"
	}
	if cfg.Limits.MaxTurns <= 0 {
		cfg.Limits.MaxTurns = 30
	}
	if cfg.Limits.SearchTimeout <= 0 {
		cfg.Limits.SearchTimeout = 30 * time.Second
	}
	if cfg.Limits.FetchTimeout <= 0 {
		cfg.Limits.FetchTimeout = 30 * time.Second
	}
	if cfg.Limits.LLMTimeout <= 0 {
		cfg.Limits.LLMTimeout = 2 * time.Minute
	}
	if cfg.Limits.MaxRetries <= 0 {
		cfg.Limits.MaxRetries = 4
	}
	if cfg.Limits.InitialBackoff <= 0 {
		cfg.Limits.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.Limits.MaxBackoff <= 0 {
		cfg.Limits.MaxBackoff = 30 * time.Second
	}
	if cfg.Limits.MaxURLDetailLinks <= 0 {
		cfg.Limits.MaxURLDetailLinks = 50
	}
	if cfg.Limits.SearchSnippetMaxChars <= 0 {
		cfg.Limits.SearchSnippetMaxChars = 2000
	}
	if cfg.Limits.MaxPromptFileSize <= 0 {
		cfg.Limits.MaxPromptFileSize = 10 << 20
	}
	if cfg.Limits.MaxShortlistCandidates <= 0 {
		cfg.Limits.MaxShortlistCandidates = 20
	}
	if cfg.Preload.OneShotDocumentThreshold <= 0 {
		cfg.Preload.OneShotDocumentThreshold = 10
	}
	if cfg.Research.DefaultSourceMode == "" {
		cfg.Research.DefaultSourceMode = string(models.ResearchSourceMixed)
	}
	if cfg.Session.ResearchSourceMode == "" {
		cfg.Session.ResearchSourceMode = cfg.Research.DefaultSourceMode
	}
	if cfg.Session.LockDir == "" {
		cfg.Session.LockDir = os.TempDir()
	}
	if cfg.Daemon.ResponseChunkChars <= 0 {
		cfg.Daemon.ResponseChunkChars = 2000
	}
	if cfg.Daemon.TranscriptMaxPerSession <= 0 {
		cfg.Daemon.TranscriptMaxPerSession = 50
	}
	if cfg.Plugins.DataRoot == "" {
		cfg.Plugins.DataRoot = "./plugin-data"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Compactor.Strategy == "" {
		cfg.Compactor.Strategy = "summary_concat"
	}
	if cfg.Compactor.Threshold <= 0 {
		cfg.Compactor.Threshold = 0.80
	}
	if cfg.Compactor.ContextWindow <= 0 {
		cfg.Compactor.ContextWindow = 100000
	}
	if cfg.Compactor.Sweep == "" {
		cfg.Compactor.Sweep = "@every 15m"
	}
	if cfg.Compactor.MaxAge <= 0 {
		cfg.Compactor.MaxAge = 720 * time.Hour
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("ASKY_DATABASE_DSN")); v != "" {
		cfg.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("ASKY_LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("ASKY_MAX_TURNS")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Limits.MaxTurns = parsed
		}
	}
}

// ValidationError collects every configuration problem found, so a
// deployment sees all of them at once instead of fixing one at a time.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Issues, "; ")
}

func validate(cfg *Config) error {
	var issues []string
	switch models.ResearchSourceMode(cfg.Session.ResearchSourceMode) {
	case models.ResearchSourceWebOnly, models.ResearchSourceLocalOnly, models.ResearchSourceMixed, models.ResearchSourceNone:
	default:
		issues = append(issues, fmt.Sprintf("session.research_source_mode: invalid value %q", cfg.Session.ResearchSourceMode))
	}
	switch cfg.Compactor.Strategy {
	case "summary_concat", "llm_summary":
	default:
		issues = append(issues, fmt.Sprintf("compactor.strategy: invalid value %q", cfg.Compactor.Strategy))
	}
	if cfg.Limits.MaxTurns <= 0 {
		issues = append(issues, "limits.max_turns: must be positive")
	}
	if cfg.Compactor.Threshold > 1 {
		issues = append(issues, fmt.Sprintf("compactor.threshold: must be a ratio in (0,1], got %v", cfg.Compactor.Threshold))
	}
	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
