package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/accordly/case-insight/pkg/client"
)

var runsSubject string

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect recorded analysis runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the runs recorded for a subject",
	Example: `  insightctl runs list --subject case-42
  insightctl runs list --subject case-42 -o json`,
	RunE: runRunsList,
}

var runsGetCmd = &cobra.Command{
	Use:   "get <run-id>",
	Short: "Show one run and its stage progress",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsGet,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsGetCmd)
	runsListCmd.Flags().StringVar(&runsSubject, "subject", "", "Subject (case) identifier")
	runsListCmd.MarkFlagRequired("subject")
}

func runRunsList(cmd *cobra.Command, args []string) error {
	runs, err := newClient().ListRuns(cmd.Context(), runsSubject)
	if err != nil {
		return err
	}

	if output == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}

	if len(runs) == 0 {
		fmt.Printf("No runs recorded for %s\n", runsSubject)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tFAILED AT\tCREATED")
	for _, run := range runs {
		failedAt := run.FailureStage
		if failedAt == "" {
			failedAt = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			run.ID, run.Status, failedAt, run.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runRunsGet(cmd *cobra.Command, args []string) error {
	run, err := newClient().GetRun(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if output == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	}

	fmt.Printf("Run:       %s\n", run.ID)
	fmt.Printf("Subject:   %s\n", run.SubjectID)
	fmt.Printf("Status:    %s\n", run.Status)
	fmt.Printf("Stages:    %d/%d completed\n", len(run.CompletedStages), run.TotalStages)
	if len(run.CompletedStages) > 0 {
		fmt.Printf("Completed: %s\n", strings.Join(run.CompletedStages, ", "))
	}
	fmt.Printf("Created:   %s\n", run.CreatedAt.Format(time.RFC3339))
	if run.CompletedAt != nil {
		fmt.Printf("Finished:  %s\n", run.CompletedAt.Format(time.RFC3339))
	}
	if run.FailureStage != "" {
		fmt.Printf("Failed at: %s (%s)\n", run.FailureStage, run.FailureReason)
		fmt.Printf("\nResume with: insightctl analyze --subject %s --input <file> --resume-from %s\n",
			run.SubjectID, run.FailureStage)
	}
	return nil
}
