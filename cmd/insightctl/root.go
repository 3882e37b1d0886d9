package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/accordly/case-insight/pkg/client"
)

var (
	// Global flags
	serverURL string
	apiKey    string
	output    string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "insightctl",
	Short: "Case analysis pipeline CLI",
	Long: `insightctl drives the case-insight analysis service.

Core Commands:
  analyze      Run the staged analysis pipeline over a case transcript
  runs         Inspect recorded analysis runs
  version      Show version information

A run executes the reasoning stages in order and streams progress as it
goes. A failed run keeps the outputs of every stage that completed; rerun
with 'analyze --resume-from <stage>' to pick up where it stopped.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServer(), "Base URL of the analysis service (default: INSIGHT_SERVER env)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("INSIGHT_API_KEY"), "API key (default: INSIGHT_API_KEY env)")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "text", "Output format (text, json)")
}

func defaultServer() string {
	if url := os.Getenv("INSIGHT_SERVER"); url != "" {
		return url
	}
	return "http://localhost:8080"
}

// newClient builds an API client from the global flags.
func newClient() *client.Client {
	var opts []client.ClientOption
	if apiKey != "" {
		opts = append(opts, client.WithAPIKey(apiKey))
	}
	return client.NewClient(serverURL, opts...)
}
