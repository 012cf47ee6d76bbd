package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "askyd.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "llm:\n  default_model: claude\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Limits.MaxTurns != 30 {
		t.Errorf("MaxTurns = %d, want default 30", cfg.Limits.MaxTurns)
	}
	if cfg.Compactor.Threshold != 0.80 {
		t.Errorf("Compactor.Threshold = %v, want default 0.80", cfg.Compactor.Threshold)
	}
	if cfg.Limits.FetchTimeout != 30*time.Second {
		t.Errorf("FetchTimeout = %v, want default 30s", cfg.Limits.FetchTimeout)
	}
	if cfg.Compactor.Strategy != "summary_concat" {
		t.Errorf("Strategy = %q, want default summary_concat", cfg.Compactor.Strategy)
	}
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, "no_such_section:\n  x: 1\n"))
	if err == nil {
		t.Fatal("expected strict decoding to reject an unknown key")
	}
}

func TestLoad_CollectsAllValidationIssues(t *testing.T) {
	_, err := Load(writeConfig(t, strings.Join([]string{
		"session:",
		"  research_source_mode: bogus",
		"compactor:",
		"  strategy: bogus",
	}, "\n")))
	if err == nil {
		t.Fatal("expected validation failure")
	}
	verr, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T: %v", err, err)
	}
	if len(verr.Issues) != 2 {
		t.Errorf("expected both issues collected, got %v", verr.Issues)
	}
}

func TestLoad_ExpandsEnvironmentReferences(t *testing.T) {
	t.Setenv("ASKY_TEST_DSN", "from-env.db")
	cfg, err := Load(writeConfig(t, "database:\n  dsn: ${ASKY_TEST_DSN}\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.DSN != "from-env.db" {
		t.Errorf("DSN = %q, want expanded env value", cfg.Database.DSN)
	}
}

func TestLoad_EnvOverrideWinsOverFile(t *testing.T) {
	t.Setenv("ASKY_MAX_TURNS", "7")
	cfg, err := Load(writeConfig(t, "limits:\n  max_turns: 12\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Limits.MaxTurns != 7 {
		t.Errorf("MaxTurns = %d, want env override 7", cfg.Limits.MaxTurns)
	}
}
