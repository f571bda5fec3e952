package main

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/scribe-notes/scribe/internal/skills"
)

var skillsCmd = &cobra.Command{
	Use:   "skills",
	Short: "Inspect the skill catalog",
}

var skillsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List loaded skills and their scripts",
	RunE:  runSkillsList,
}

var skillsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate every skill manifest, exiting non-zero on the first error",
	RunE:  runSkillsCheck,
}

var skillsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Report manifest and script changes until interrupted",
	RunE:  runSkillsWatch,
}

func init() {
	skillsCmd.AddCommand(skillsListCmd, skillsCheckCmd, skillsWatchCmd)
	rootCmd.AddCommand(skillsCmd)
}

func loadRegistry() (*skills.Registry, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return skills.Load(cfg.Skills.Dir)
}

func runSkillsList(cmd *cobra.Command, args []string) error {
	registry, err := loadRegistry()
	if err != nil {
		return err
	}

	bold := color.New(color.Bold)
	for _, desc := range registry.All() {
		bold.Printf("%s", desc.ID)
		if desc.Description != "" {
			fmt.Printf("  %s", desc.Description)
		}
		fmt.Printf("  (timeout %s, output cap %d bytes)\n", desc.Timeout, desc.MaxOutputBytes)

		scripts := desc.Scripts()
		sort.Slice(scripts, func(i, j int) bool { return scripts[i].Name < scripts[j].Name })
		for _, script := range scripts {
			fmt.Printf("  %-20s %s\n", script.Name, script.Description)
		}
	}
	return nil
}

func runSkillsCheck(cmd *cobra.Command, args []string) error {
	registry, err := loadRegistry()
	if err != nil {
		return err
	}
	color.New(color.FgGreen).Printf("ok: %d skills loaded\n", registry.Len())
	return nil
}

func runSkillsWatch(cmd *cobra.Command, args []string) error {
	registry, err := loadRegistry()
	if err != nil {
		return err
	}

	watcher, err := skills.NewWatcher(registry)
	if err != nil {
		return err
	}
	defer watcher.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("watching %s for drift (ctrl-c to stop)\n", registry.Dir())
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events():
			if !ok {
				return nil
			}
			color.New(color.FgYellow).Printf("%-8s %s\n", ev.Op, ev.Path)
		}
	}
}
