package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Workspace.Root != "./workspace" {
		t.Errorf("Workspace.Root = %q", cfg.Workspace.Root)
	}
	if len(cfg.Workspace.DeniedPrefixes) != 1 || cfg.Workspace.DeniedPrefixes[0] != "profile-images" {
		t.Errorf("DeniedPrefixes = %v", cfg.Workspace.DeniedPrefixes)
	}
	if cfg.Server.Addr != ":8787" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
	if cfg.Orchestrator.MaxTurns != 25 {
		t.Errorf("MaxTurns = %d", cfg.Orchestrator.MaxTurns)
	}
	if cfg.Orchestrator.SystemPrompt == "" {
		t.Error("SystemPrompt is empty")
	}
}

func TestLoadFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
anthropic:
  model: claude-sonnet-4-5-20250929
workspace:
  root: /srv/scribe/workspace
  denied_prefixes:
    - profile-images
    - internal
skills:
  dir: /srv/scribe/skills
server:
  addr: ":9000"
  bearer_token: sekrit
orchestrator:
  max_turns: 10
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}

	if cfg.Anthropic.Model != "claude-sonnet-4-5-20250929" {
		t.Errorf("Model = %q", cfg.Anthropic.Model)
	}
	if cfg.Workspace.Root != "/srv/scribe/workspace" {
		t.Errorf("Workspace.Root = %q", cfg.Workspace.Root)
	}
	if len(cfg.Workspace.DeniedPrefixes) != 2 {
		t.Errorf("DeniedPrefixes = %v", cfg.Workspace.DeniedPrefixes)
	}
	if cfg.Server.Addr != ":9000" || cfg.Server.BearerToken != "sekrit" {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Orchestrator.MaxTurns != 10 {
		t.Errorf("MaxTurns = %d", cfg.Orchestrator.MaxTurns)
	}
	// Unset values keep their defaults.
	if cfg.Orchestrator.MaxConcurrentTools != 4 {
		t.Errorf("MaxConcurrentTools = %d, want default 4", cfg.Orchestrator.MaxConcurrentTools)
	}
}

func TestLoadFromPathExpandsEnvInAPIKey(t *testing.T) {
	t.Setenv("TEST_SCRIBE_KEY", "sk-ant-test12345678901234")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("anthropic:\n  api_key: ${TEST_SCRIBE_KEY}\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if cfg.Anthropic.APIKey != "sk-ant-test12345678901234" {
		t.Errorf("APIKey = %q", cfg.Anthropic.APIKey)
	}
}

func TestLoadFromPathMissingFile(t *testing.T) {
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestGetAPIKey(t *testing.T) {
	t.Run("environment wins", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "sk-ant-fromenv123456789012")
		cfg := &Config{Anthropic: AnthropicConfig{APIKey: "sk-ant-fromcfg123456789012"}}

		key, err := GetAPIKey(cfg)
		if err != nil {
			t.Fatalf("GetAPIKey: %v", err)
		}
		if key != "sk-ant-fromenv123456789012" {
			t.Errorf("key = %q", key)
		}
	})

	t.Run("config fallback", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")
		cfg := &Config{Anthropic: AnthropicConfig{APIKey: "sk-ant-fromcfg123456789012"}}

		key, err := GetAPIKey(cfg)
		if err != nil {
			t.Fatalf("GetAPIKey: %v", err)
		}
		if key != "sk-ant-fromcfg123456789012" {
			t.Errorf("key = %q", key)
		}
	})

	t.Run("none configured", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")
		if _, err := GetAPIKey(&Config{}); err != ErrNoAPIKey {
			t.Errorf("err = %v, want ErrNoAPIKey", err)
		}
	})
}

func TestMaskAPIKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"", "(not set)"},
		{"short", "***"},
		{"sk-ant-REDACTED", "sk-ant-...1234"},
	}
	for _, tt := range tests {
		if got := MaskAPIKey(tt.key); got != tt.want {
			t.Errorf("MaskAPIKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}
