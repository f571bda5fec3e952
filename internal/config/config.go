// Package config handles configuration loading for scribe. It layers
// built-in defaults, the XDG user config, a project-level override
// file, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds all configuration for scribe.
type Config struct {
	Anthropic    AnthropicConfig    `mapstructure:"anthropic"`
	Workspace    WorkspaceConfig    `mapstructure:"workspace"`
	Skills       SkillsConfig       `mapstructure:"skills"`
	Server       ServerConfig       `mapstructure:"server"`
	Audit        AuditConfig        `mapstructure:"audit"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
}

// AnthropicConfig holds model API settings.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// WorkspaceConfig holds the skill sandbox filesystem settings.
type WorkspaceConfig struct {
	// Root is the directory all skill filesystem access is confined to.
	Root string `mapstructure:"root"`
	// DeniedPrefixes are workspace-relative paths skills may never touch.
	DeniedPrefixes []string `mapstructure:"denied_prefixes"`
}

// SkillsConfig holds skill registry settings.
type SkillsConfig struct {
	// Dir is the directory scanned for skill manifests.
	Dir string `mapstructure:"dir"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// BearerToken, when set, is required on the streaming endpoint.
	BearerToken string `mapstructure:"bearer_token"`
}

// AuditConfig holds audit store settings.
type AuditConfig struct {
	// DBPath is the SQLite database path. Empty means the default
	// XDG data location.
	DBPath string `mapstructure:"db_path"`
}

// OrchestratorConfig holds conversation loop settings.
type OrchestratorConfig struct {
	SystemPrompt       string `mapstructure:"system_prompt"`
	MaxTurns           int    `mapstructure:"max_turns"`
	MaxConcurrentTools int    `mapstructure:"max_concurrent_tools"`
}

// DefaultSystemPrompt is used when no prompt is configured.
const DefaultSystemPrompt = "You are a personal knowledge assistant. You can read and write files " +
	"in the user's workspace, manage their notes and scratchpad, and save websites for them. " +
	"Use the available tools; never invent tool results."

// Load loads configuration from XDG paths, project overrides, and
// environment variables. Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, SCRIBE_*)
// 2. Project config (.scribe.yaml in current directory or a parent)
// 3. User config (~/.config/scribe/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("workspace.root", "SCRIBE_WORKSPACE")
	v.BindEnv("skills.dir", "SCRIBE_SKILLS_DIR")
	v.BindEnv("server.bearer_token", "SCRIBE_BEARER_TOKEN")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	return cfg, nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "")
	v.SetDefault("anthropic.use_bedrock", false)

	v.SetDefault("workspace.root", "./workspace")
	v.SetDefault("workspace.denied_prefixes", []string{"profile-images"})

	v.SetDefault("skills.dir", "./skills")

	v.SetDefault("server.addr", ":8787")
	v.SetDefault("server.bearer_token", "")

	v.SetDefault("audit.db_path", "")

	v.SetDefault("orchestrator.system_prompt", DefaultSystemPrompt)
	v.SetDefault("orchestrator.max_turns", 25)
	v.SetDefault("orchestrator.max_concurrent_tools", 4)
}

// getUserConfigDir returns the XDG config directory for scribe.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "scribe")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "scribe")
	}
	return filepath.Join(home, ".config", "scribe")
}

// findProjectConfig searches for .scribe.yaml in the current directory
// and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".scribe.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with built-in default values.
func Default() *Config {
	return &Config{
		Workspace: WorkspaceConfig{
			Root:           "./workspace",
			DeniedPrefixes: []string{"profile-images"},
		},
		Skills: SkillsConfig{Dir: "./skills"},
		Server: ServerConfig{Addr: ":8787"},
		Orchestrator: OrchestratorConfig{
			SystemPrompt:       DefaultSystemPrompt,
			MaxTurns:           25,
			MaxConcurrentTools: 4,
		},
	}
}
