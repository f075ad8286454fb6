package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Lightming99/RaSa-Metaconverse/internal/feedback"
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Inspect disposition records",
	Long: `Disposition records describe what happened to each feedback item:
processed, rejected after exhausting its retries, or archived after training.`,
}

var recordsListCmd = &cobra.Command{
	Use:       "list STATE",
	Short:     "List processed, rejected or removable records",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(feedback.StatusProcessed), string(feedback.StatusRejected), string(feedback.StatusRemovable)},
	RunE:      runRecordsList,
}

var recordsClearCmd = &cobra.Command{
	Use:   "clear STATE",
	Short: "Empty one disposition set",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecordsClear,
}

var recordsRetryCmd = &cobra.Command{
	Use:   "retry [ID...]",
	Short: "Return rejected items to the queue",
	Long: `Reset rejected items to unprocessed with a fresh retry budget and queue a
learning cycle. Without IDs every rejected item is retried.`,
	RunE: runRecordsRetry,
}

func init() {
	recordsCmd.AddCommand(recordsListCmd, recordsClearCmd, recordsRetryCmd)
	rootCmd.AddCommand(recordsCmd)
}

func runRecordsList(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := quick(cmd)
	defer cancel()

	resp, err := c.Records(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to list records: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd, resp)
	}

	rows := make([][]string, 0, len(resp.Records))
	for _, r := range resp.Records {
		when := r.ProcessedAt
		detail := ""
		switch r.State {
		case feedback.StatusRejected:
			when = r.RejectedAt
			detail = r.Reason
		case feedback.StatusRemovable:
			when = r.ArchivedAt
			if r.TrainingCompleted {
				detail = "trained"
			}
		}
		rows = append(rows, []string{
			shortID(r.ID),
			truncate(r.UserQuery, 40),
			string(r.Sentiment),
			strconv.Itoa(r.RetryCount),
			formatTime(when),
			truncate(detail, 40),
		})
	}
	cmd.Printf("%s records: %d\n", resp.State, resp.Count)
	printTable(cmd, []string{"ID", "Query", "Type", "Retries", "When", "Detail"}, rows)
	return nil
}

func runRecordsClear(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := quick(cmd)
	defer cancel()

	resp, err := c.ClearRecords(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to clear records: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd, resp)
	}
	cmd.Printf("Cleared %d %s record(s)\n", resp.Cleared, resp.State)
	return nil
}

func runRecordsRetry(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := quick(cmd)
	defer cancel()

	resp, err := c.RetryRejected(ctx, args)
	if err != nil {
		return fmt.Errorf("failed to retry rejected items: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd, resp)
	}
	cmd.Printf("Reset %d item(s)\n", len(resp.Reset))
	for _, id := range resp.Reset {
		cmd.Println("  " + id)
	}
	if resp.Triggered {
		cmd.Println(okStyle.Render("learning cycle queued"))
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
