package main

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Lightming99/RaSa-Metaconverse/internal/client"
	"github.com/Lightming99/RaSa-Metaconverse/internal/operations"
)

var (
	opsLimit     int
	pruneKeep    int
	historyLimit int
)

var opsCmd = &cobra.Command{
	Use:   "ops",
	Short: "Inspect recent learning cycles and training runs",
}

var opsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent operations, newest first",
	Args:  cobra.NoArgs,
	RunE:  runOpsList,
}

var opsGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Show one operation",
	Args:  cobra.ExactArgs(1),
	RunE:  runOpsGet,
}

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "Manage knowledge-base backups",
}

var backupsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups, newest first",
	Args:  cobra.NoArgs,
	RunE:  runBackupsList,
}

var backupsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete all but the newest --keep backups",
	Args:  cobra.NoArgs,
	RunE:  runBackupsPrune,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show knowledge-base commits, newest first",
	Long: `Show the git history the daemon records after each merge and restore.
Requires kb.history to be enabled on the daemon.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	opsListCmd.Flags().IntVar(&opsLimit, "limit", 20, "maximum number of operations")
	opsCmd.AddCommand(opsListCmd, opsGetCmd)

	backupsPruneCmd.Flags().IntVar(&pruneKeep, "keep", 10, "number of backups to keep")
	backupsCmd.AddCommand(backupsListCmd, backupsPruneCmd)

	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of commits")

	rootCmd.AddCommand(opsCmd, backupsCmd, historyCmd)
}

func runOpsList(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := quick(cmd)
	defer cancel()

	ops, err := c.Operations(ctx, opsLimit)
	if err != nil {
		return fmt.Errorf("failed to list operations: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd, ops)
	}
	rows := make([][]string, 0, len(ops))
	for _, op := range ops {
		rows = append(rows, []string{
			shortID(op.ID),
			op.Kind,
			renderOpStatus(op.Status),
			formatTime(&op.CreatedAt),
			truncate(op.Error, 40),
		})
	}
	printTable(cmd, []string{"ID", "Kind", "Status", "Created", "Error"}, rows)
	return nil
}

func runOpsGet(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := quick(cmd)
	defer cancel()

	op, err := c.Operation(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to get operation: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd, op)
	}
	printField(cmd, "ID", op.ID)
	printField(cmd, "Kind", op.Kind)
	printField(cmd, "Status", renderOpStatus(op.Status))
	printField(cmd, "Created", formatTime(&op.CreatedAt))
	printField(cmd, "Finished", formatTime(op.FinishedAt))
	if op.TraceID != "" {
		printField(cmd, "Trace", op.TraceID)
	}
	if op.Error != "" {
		printField(cmd, "Error", errStyle.Render(op.Error))
	}
	if op.Result != nil {
		cmd.Println()
		return printJSON(cmd, op.Result)
	}
	return nil
}

func renderOpStatus(s operations.Status) string {
	switch s {
	case operations.StatusCompleted:
		return okStyle.Render(string(s))
	case operations.StatusFailed:
		return errStyle.Render(string(s))
	case operations.StatusRunning:
		return warnStyle.Render(string(s))
	default:
		return dimStyle.Render(string(s))
	}
}

func runBackupsList(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := quick(cmd)
	defer cancel()

	backups, err := c.Backups(ctx)
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd, backups)
	}
	rows := make([][]string, 0, len(backups))
	for _, b := range backups {
		created := b.CreatedAt
		rows = append(rows, []string{
			b.ID,
			strconv.Itoa(b.Sequence),
			formatTime(&created),
			strconv.Itoa(len(b.Files)),
			b.Reason,
		})
	}
	printTable(cmd, []string{"ID", "Seq", "Created", "Files", "Reason"}, rows)
	return nil
}

func runBackupsPrune(cmd *cobra.Command, args []string) error {
	if pruneKeep < 0 {
		return fmt.Errorf("--keep must not be negative")
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := quick(cmd)
	defer cancel()

	resp, err := c.PruneBackups(ctx, pruneKeep)
	if err != nil {
		return fmt.Errorf("failed to prune backups: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd, resp)
	}
	cmd.Printf("Kept %d backup(s), removed %d\n", resp.Kept, len(resp.Removed))
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := quick(cmd)
	defer cancel()

	entries, err := c.History(ctx, historyLimit)
	if client.IsStatus(err, http.StatusNotFound) {
		return fmt.Errorf("knowledge-base history is disabled on the daemon (kb.history)")
	}
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd, entries)
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		when := e.When
		subject, _, _ := strings.Cut(e.Message, "\n")
		rows = append(rows, []string{shortID(e.Hash), formatTime(&when), e.Author, truncate(subject, 60)})
	}
	printTable(cmd, []string{"Commit", "When", "Author", "Message"}, rows)
	return nil
}
