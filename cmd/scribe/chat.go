package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/scribe-notes/scribe/internal/orchestrator"
)

var chatShowUsage bool

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Send one message to the assistant and stream the reply",
	Args:  cobra.ExactArgs(1),
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().BoolVar(&chatShowUsage, "usage", false, "print token usage after the reply")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
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

	orch := orchestrator.New(orchestrator.Config{
		Completer:          client,
		Mapper:             rt.mapper,
		Runner:             rt.exec,
		Registry:           rt.registry,
		SystemPrompt:       cfg.Orchestrator.SystemPrompt,
		MaxTurns:           cfg.Orchestrator.MaxTurns,
		MaxConcurrentTools: cfg.Orchestrator.MaxConcurrentTools,
	})

	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)

	var runErr error
	for ev := range orch.Run(ctx, args[0], nil) {
		switch ev.Type {
		case orchestrator.EventToken:
			fmt.Print(ev.Token)
		case orchestrator.EventToolCall:
			cyan.Fprintf(os.Stderr, "\n[%s] %s %s\n", ev.ToolCall.Name, ev.ToolCall.ID, ev.ToolCall.Parameters)
		case orchestrator.EventToolResult:
			if ev.Result.OK {
				green.Fprintf(os.Stderr, "[%s] ok\n", ev.ToolCall.ID)
			} else {
				red.Fprintf(os.Stderr, "[%s] %s: %s\n", ev.ToolCall.ID, ev.Result.ErrorKind, ev.Result.ErrorMessage)
			}
		case orchestrator.EventDomain:
			yellow.Fprintf(os.Stderr, "[%s] %s\n", ev.Domain.Type, ev.Domain.Payload)
		case orchestrator.EventComplete:
			fmt.Println()
		case orchestrator.EventError:
			runErr = fmt.Errorf("%s", ev.Err)
		}
	}

	if chatShowUsage {
		input, output := client.Tracker().Total()
		fmt.Fprintf(os.Stderr, "tokens: %d in, %d out over %d calls\n", input, output, client.Tracker().Calls())
	}
	return runErr
}
