package main

import (
	"fmt"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Lightming99/RaSa-Metaconverse/internal/client"
	"github.com/Lightming99/RaSa-Metaconverse/internal/monitor"
)

var watchInterval time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live dashboard of the learning daemon",
	Long: `Open a terminal dashboard that polls learnd for ledger counts, progress
toward the training threshold, queue depth and recent runs.

Press q to quit and r to refresh immediately.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 5*time.Second, "refresh interval")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if watchInterval <= 0 {
		return fmt.Errorf("--interval must be positive")
	}
	// Polls are bounded by the HTTP client since the dashboard owns its
	// request contexts.
	c, err := client.New(serverURL, client.WithHTTPClient(&http.Client{Timeout: requestTimeout}))
	if err != nil {
		return err
	}

	p := tea.NewProgram(
		monitor.NewModel(c, watchInterval),
		tea.WithAltScreen(),
		tea.WithContext(cmd.Context()),
	)
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("dashboard failed: %w", err)
	}
	return nil
}
