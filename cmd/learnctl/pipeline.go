package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Lightming99/RaSa-Metaconverse/internal/pipeline"
)

var thresholdCmd = &cobra.Command{
	Use:   "threshold",
	Short: "Show or set the training threshold",
	Long: `The threshold is the number of processed feedback items that triggers
training.

Examples:
  learnctl threshold get
  learnctl threshold set 25`,
}

var thresholdGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the training threshold",
	Args:  cobra.NoArgs,
	RunE:  runThreshold,
}

var thresholdSetCmd = &cobra.Command{
	Use:   "set N",
	Short: "Set the training threshold",
	Args:  cobra.ExactArgs(1),
	RunE:  runThreshold,
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run a learning cycle now and wait for it",
	Long: `Run one learning cycle inline: pending feedback is drafted, validated and
merged into the knowledge base, and training runs if the threshold is met.

The command waits up to --wait for the cycle to finish.`,
	Args: cobra.NoArgs,
	RunE: runProcess,
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Build and reload the assistant now",
	Args:  cobra.NoArgs,
	RunE:  runTrain,
}

func init() {
	thresholdCmd.AddCommand(thresholdGetCmd, thresholdSetCmd)
	rootCmd.AddCommand(thresholdCmd, processCmd, trainCmd)
}

func runThreshold(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := quick(cmd)
	defer cancel()

	if len(args) == 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("threshold must be a positive integer, got %q", args[0])
		}
		if err := c.SetThreshold(ctx, n); err != nil {
			return fmt.Errorf("failed to set threshold: %w", err)
		}
	}

	n, err := c.Threshold(ctx)
	if err != nil {
		return fmt.Errorf("failed to read threshold: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd, map[string]int{"threshold": n})
	}
	printField(cmd, "Threshold", strconv.Itoa(n))
	return nil
}

func runProcess(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), waitTimeout)
	defer cancel()

	res, err := c.Process(ctx)
	if err != nil {
		return fmt.Errorf("learning cycle failed: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd, res)
	}
	printCycle(cmd, res)
	return nil
}

func printCycle(cmd *cobra.Command, res *pipeline.CycleResult) {
	if res.PassResult == nil {
		cmd.Println(dimStyle.Render("nothing to process"))
		return
	}
	printField(cmd, "Cycle", res.ID)
	printField(cmd, "Duration", res.Duration.String())
	printField(cmd, "Candidates", strconv.Itoa(res.Candidates))
	printField(cmd, "Processed", fmt.Sprintf("%d (%d duplicate)", len(res.Processed), res.Duplicates))
	rejected := strconv.Itoa(len(res.Rejected))
	if len(res.Rejected) > 0 {
		rejected = warnStyle.Render(rejected)
	}
	printField(cmd, "Rejected", rejected)
	printField(cmd, "Failed attempts", strconv.Itoa(res.Failed))
	if res.RolledBack > 0 {
		printField(cmd, "Rolled back", warnStyle.Render(strconv.Itoa(res.RolledBack)))
	}
	printField(cmd, "Added", fmt.Sprintf("%d intents, %d responses, %d stories, %d rules",
		res.Added.Intents, res.Added.Responses, res.Added.Flows, res.Added.Rules))
	printField(cmd, "Threshold", strconv.Itoa(res.Threshold))
	if res.Training != nil {
		printTraining(cmd, res.Training)
	}
}

func runTrain(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), waitTimeout)
	defer cancel()

	res, err := c.Train(ctx)
	if res != nil {
		if jsonOutput {
			if perr := printJSON(cmd, res); perr != nil {
				return perr
			}
		} else {
			printTraining(cmd, res)
		}
	}
	if err != nil {
		return fmt.Errorf("training failed: %w", err)
	}
	return nil
}

func printTraining(cmd *cobra.Command, res *pipeline.TrainResult) {
	printField(cmd, "Training", statusText(res.Success, map[bool]string{true: "succeeded", false: "failed"}[res.Success]))
	printField(cmd, "Trigger", res.Trigger)
	printField(cmd, "Duration", res.Duration.String())
	if len(res.Archived) > 0 {
		printField(cmd, "Archived", strconv.Itoa(len(res.Archived)))
	}
	if res.Success {
		reload := okStyle.Render("yes")
		if !res.Reloaded {
			reload = warnStyle.Render("no")
			if res.ReloadError != "" {
				reload += " " + dimStyle.Render(res.ReloadError)
			}
		}
		printField(cmd, "Reloaded", reload)
	}
	if res.Error != "" {
		printField(cmd, "Error", errStyle.Render(res.Error))
	}
	if !res.Success && res.Output != nil && res.Output.Log != "" {
		cmd.Println()
		cmd.Println(dimStyle.Render(lastLines(res.Output.Log, 20)))
	}
}

// lastLines returns the final n lines of s.
func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
