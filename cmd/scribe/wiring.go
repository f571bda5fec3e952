package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/scribe-notes/scribe/internal/audit"
	"github.com/scribe-notes/scribe/internal/claude"
	"github.com/scribe-notes/scribe/internal/config"
	"github.com/scribe-notes/scribe/internal/executor"
	"github.com/scribe-notes/scribe/internal/skills"
	"github.com/scribe-notes/scribe/internal/tools"
	"github.com/scribe-notes/scribe/internal/workspace"
)

// runtime holds the wired components shared by the serve and chat
// commands.
type runtime struct {
	cfg      *config.Config
	root     string
	registry *skills.Registry
	mapper   *tools.Mapper
	store    *audit.SQLiteStore
	exec     *executor.Executor
}

// buildRuntime wires the workspace validator, tool mapper, skill
// registry, audit store, and executor from configuration. Registry load
// failures are fatal: a service with a partial skill catalog is worse
// than one that refuses to start.
func buildRuntime(cfg *config.Config) (*runtime, error) {
	root, err := filepath.Abs(cfg.Workspace.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}

	validator, err := workspace.NewValidator(root, cfg.Workspace.DeniedPrefixes...)
	if err != nil {
		return nil, fmt.Errorf("workspace validator: %w", err)
	}
	mapper, err := tools.NewMapper(validator)
	if err != nil {
		return nil, fmt.Errorf("tool mapper: %w", err)
	}

	registry, err := skills.Load(cfg.Skills.Dir)
	if err != nil {
		return nil, err
	}

	store, err := audit.OpenSQLite(auditDBPath(cfg))
	if err != nil {
		return nil, err
	}

	return &runtime{
		cfg:      cfg,
		root:     root,
		registry: registry,
		mapper:   mapper,
		store:    store,
		exec:     executor.New(root, store),
	}, nil
}

func (r *runtime) Close() {
	if err := r.store.Close(); err != nil {
		log.Printf("[scribe] close audit store: %v", err)
	}
}

func auditDBPath(cfg *config.Config) string {
	if cfg.Audit.DBPath != "" {
		return cfg.Audit.DBPath
	}
	return audit.DefaultDBPath()
}

// newModelClient builds the Claude client. The API key comes from the
// environment or config unless Bedrock carries the credentials.
func newModelClient(cfg *config.Config) (*claude.Client, error) {
	var apiKey string
	if !cfg.Anthropic.UseBedrock {
		key, err := config.GetAPIKey(cfg)
		if err != nil {
			return nil, err
		}
		apiKey = key
	}

	return claude.NewClient(claude.ClientConfig{
		Model:         anthropic.Model(cfg.Anthropic.Model),
		APIKey:        apiKey,
		UseAWSBedrock: cfg.Anthropic.UseBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	})
}
