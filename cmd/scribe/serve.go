package main

import (
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/scribe-notes/scribe/internal/server"
	"github.com/scribe-notes/scribe/internal/skills"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the streaming chat server",
	Long: `Starts the HTTP server with the SSE chat endpoint, the skill
catalog endpoint, and a health check. Shuts down gracefully on SIGINT
or SIGTERM.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	client, err := newModelClient(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The registry is immutable after load; the watcher only reports
	// drift so the operator knows a restart is due.
	watcher, err := skills.NewWatcher(rt.registry)
	if err != nil {
		log.Printf("[scribe] skill watcher unavailable: %v", err)
	} else {
		defer watcher.Close()
		go func() {
			for ev := range watcher.Events() {
				log.Printf("[scribe] skill drift: %s %s (restart to reload)", ev.Op, ev.Path)
			}
		}()
	}

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	srv := server.New(server.Config{
		Addr:               addr,
		BearerToken:        cfg.Server.BearerToken,
		SystemPrompt:       cfg.Orchestrator.SystemPrompt,
		MaxTurns:           cfg.Orchestrator.MaxTurns,
		MaxConcurrentTools: cfg.Orchestrator.MaxConcurrentTools,
	}, client, rt.mapper, rt.exec, rt.registry)

	log.Printf("[scribe] model=%s skills=%d workspace=%s audit=%s",
		client.Model(), rt.registry.Len(), rt.root, rt.store.Path())

	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
