package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/scribe-notes/scribe/internal/audit"
)

var (
	auditTailCount int
	auditJSON      bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the skill execution log",
}

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show the most recent executions, newest first",
	RunE:  runAuditTail,
}

var auditShowCmd = &cobra.Command{
	Use:   "show <conversation-id>",
	Short: "Show every execution of one conversation, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditShow,
}

func init() {
	auditTailCmd.Flags().IntVarP(&auditTailCount, "count", "n", 20, "number of records")
	auditCmd.PersistentFlags().BoolVar(&auditJSON, "json", false, "output records as JSON")
	auditCmd.AddCommand(auditTailCmd, auditShowCmd)
	rootCmd.AddCommand(auditCmd)
}

func openAuditStore() (*audit.SQLiteStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return audit.OpenSQLite(auditDBPath(cfg))
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	store, err := openAuditStore()
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.Tail(cmd.Context(), auditTailCount)
	if err != nil {
		return err
	}
	return printRecords(records)
}

func runAuditShow(cmd *cobra.Command, args []string) error {
	store, err := openAuditStore()
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.ByConversation(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("no executions recorded for conversation %s", args[0])
	}
	return printRecords(records)
}

func printRecords(records []audit.Record) error {
	if auditJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	for _, rec := range records {
		outcomeColor(rec.Outcome).Printf("%-10s", rec.Outcome)
		fmt.Printf(" %s  %s/%s  exit=%d  %dms  conv=%s\n",
			rec.Timestamp.Local().Format(time.DateTime),
			rec.SkillID, rec.Script, rec.ExitCode, rec.DurationMs, rec.ConversationID)
		fmt.Printf("           argv: %s\n", strings.Join(rec.Argv, " "))
	}
	return nil
}

func outcomeColor(outcome audit.Outcome) *color.Color {
	switch outcome {
	case audit.OutcomeOK:
		return color.New(color.FgGreen)
	case audit.OutcomeFailed, audit.OutcomeSpawnError, audit.OutcomeRejected:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgYellow)
	}
}
