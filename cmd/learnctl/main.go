// Package main implements learnctl, the operator CLI for the learning daemon.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Lightming99/RaSa-Metaconverse/internal/client"
)

const defaultServer = "http://127.0.0.1:8088"

var (
	// serverURL is the base URL of the learnd HTTP API
	serverURL string
	// jsonOutput prints raw API responses instead of formatted text
	jsonOutput bool
	// requestTimeout bounds quick requests
	requestTimeout time.Duration
	// waitTimeout bounds process and train, which run pipeline work inline
	waitTimeout time.Duration
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "learnctl",
	Short: "Operate the continuous-learning daemon",
	Long: `learnctl is a command-line interface for the learnd HTTP API.

It submits feedback, inspects the ledger and disposition records, runs
learning cycles and training on demand, and manages knowledge-base backups.

The server address defaults to ` + defaultServer + ` and can be set with
--server or the LEARNCTL_SERVER environment variable.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	def := defaultServer
	if env := os.Getenv("LEARNCTL_SERVER"); env != "" {
		def = env
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", def, "learnd server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print raw JSON responses")
	rootCmd.PersistentFlags().DurationVar(&requestTimeout, "timeout", client.DefaultTimeout, "timeout for quick requests")
	rootCmd.PersistentFlags().DurationVar(&waitTimeout, "wait", 30*time.Minute, "timeout for process and train")
	rootCmd.AddCommand(healthCmd)
}

// newClient builds an API client. Deadlines come from the per-command
// context rather than the HTTP client.
func newClient() (*client.Client, error) {
	return client.New(serverURL, client.WithHTTPClient(&http.Client{}))
}

// quick returns a context for a request that does not wait on pipeline work.
func quick(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), requestTimeout)
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check learnd health",
	Long: `Check the health status of the learnd HTTP server.

Examples:
  # Check health
  learnctl health

  # Check health on a different server
  learnctl health --server http://bot-host:8088`,
	Args: cobra.NoArgs,
	RunE: runHealth,
}

func runHealth(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := quick(cmd)
	defer cancel()

	h, err := c.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", c.BaseURL(), err)
	}
	if jsonOutput {
		return printJSON(cmd, h)
	}
	printField(cmd, "Status", statusText(h.Status == "ok", h.Status))
	printField(cmd, "Queue depth", fmt.Sprint(h.QueueDepth))
	printField(cmd, "Server", c.BaseURL())
	return nil
}
