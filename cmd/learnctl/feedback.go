package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Lightming99/RaSa-Metaconverse/internal/feedback"
	apihttp "github.com/Lightming99/RaSa-Metaconverse/internal/http"
)

var (
	feedbackQuery    string
	feedbackResponse string
	feedbackSource   string
	feedbackType     string
	feedbackIssue    string
	feedbackExpected string
	feedbackIndex    int
	cleanupDays      int
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Submit and maintain feedback",
}

var feedbackAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Record feedback about an assistant answer",
	Long: `Record one piece of feedback. Negative feedback with an expected answer
is turned into knowledge-base additions by the next learning cycle, which
this command also queues.

Examples:
  learnctl feedback add --query "My screen flickers" \
    --response "Sorry, I didn't get that." --type negative \
    --expected "Update the display driver from the Software Center."`,
	Args: cobra.NoArgs,
	RunE: runFeedbackAdd,
}

var feedbackCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete archived feedback older than --days",
	Args:  cobra.NoArgs,
	RunE:  runFeedbackCleanup,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show feedback ledger statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	feedbackAddCmd.Flags().StringVar(&feedbackQuery, "query", "", "the user's question (required)")
	feedbackAddCmd.Flags().StringVar(&feedbackResponse, "response", "", "the answer the assistant gave")
	feedbackAddCmd.Flags().StringVar(&feedbackSource, "source", "rasa", "which model produced the answer")
	feedbackAddCmd.Flags().StringVar(&feedbackType, "type", string(feedback.SentimentNegative), "positive or negative")
	feedbackAddCmd.Flags().StringVar(&feedbackIssue, "issue", "", "what was wrong with the answer")
	feedbackAddCmd.Flags().StringVar(&feedbackExpected, "expected", "", "the answer the user expected")
	feedbackAddCmd.Flags().IntVar(&feedbackIndex, "index", 0, "message index within the conversation")
	_ = feedbackAddCmd.MarkFlagRequired("query")

	feedbackCleanupCmd.Flags().IntVar(&cleanupDays, "days", 30, "minimum age in days")

	feedbackCmd.AddCommand(feedbackAddCmd, feedbackCleanupCmd)
	rootCmd.AddCommand(feedbackCmd, statsCmd)
}

func runFeedbackAdd(cmd *cobra.Command, args []string) error {
	sentiment := feedback.Sentiment(feedbackType)
	if sentiment != feedback.SentimentPositive && sentiment != feedback.SentimentNegative {
		return fmt.Errorf("invalid --type %q: must be positive or negative", feedbackType)
	}

	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := quick(cmd)
	defer cancel()

	resp, err := c.SubmitFeedback(ctx, apihttp.FeedbackRequest{
		MessageIndex:     feedbackIndex,
		UserQuery:        feedbackQuery,
		BotResponse:      feedbackResponse,
		ModelSource:      feedbackSource,
		FeedbackType:     sentiment,
		IssueDescription: feedbackIssue,
		ExpectedAnswer:   feedbackExpected,
	})
	if err != nil {
		return fmt.Errorf("failed to submit feedback: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd, resp)
	}
	printField(cmd, "Recorded", resp.ID)
	if resp.Triggered {
		printField(cmd, "Learning cycle", okStyle.Render("queued"))
	} else {
		printField(cmd, "Learning cycle", dimStyle.Render("already pending"))
	}
	return nil
}

func runFeedbackCleanup(cmd *cobra.Command, args []string) error {
	if cleanupDays < 0 {
		return fmt.Errorf("--days must not be negative")
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := quick(cmd)
	defer cancel()

	resp, err := c.Cleanup(ctx, cleanupDays)
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd, resp)
	}
	cmd.Printf("Deleted %d archived item(s) older than %d day(s)\n", resp.Deleted, resp.Days)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := quick(cmd)
	defer cancel()

	s, err := c.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch stats: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd, s)
	}
	printTable(cmd, []string{"Ledger", "Count"}, [][]string{
		{"total", fmt.Sprint(s.Total)},
		{"unprocessed", fmt.Sprint(s.Unprocessed)},
		{"processed", fmt.Sprint(s.Processed)},
		{"rejected", fmt.Sprint(s.Rejected)},
		{"archived", fmt.Sprint(s.Removable)},
		{"positive", fmt.Sprint(s.Positive)},
		{"negative", fmt.Sprint(s.Negative)},
	})
	printTable(cmd, []string{"Records", "Count"}, [][]string{
		{"processed", fmt.Sprint(s.ProcessedRecords)},
		{"rejected", fmt.Sprint(s.RejectedRecords)},
		{"archived", fmt.Sprint(s.RemovableRecords)},
	})
	return nil
}
