package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/accordly/case-insight/pkg/client"
)

var (
	analyzeSubject string
	analyzeInput   string
	analyzeResume  string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run the analysis pipeline over a case transcript",
	Long: `Run the staged analysis pipeline over a case transcript.

The input file carries the transcript and surrounding case context as JSON:

  {
    "messages":      [{"id": "m1", "senderId": "p1", "body": "..."}],
    "participants":  [{"id": "p1", "displayName": "Dana", "role": "tenant"}],
    "agreements":    [],
    "trackedIssues": [],
    "guidance":      "optional analyst guidance"
  }

Progress prints as stages finish. When a stage fails, the outputs of every
completed stage stay recorded on the server; rerun with --resume-from to
continue from the failed stage without repeating the earlier ones.

Examples:
  insightctl analyze --subject case-42 --input case.json
  insightctl analyze --subject case-42 --input case.json --resume-from issue_linking
  insightctl analyze --subject case-42 --input case.json -o json`,
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().StringVar(&analyzeSubject, "subject", "", "Subject (case) identifier")
	analyzeCmd.Flags().StringVar(&analyzeInput, "input", "", "Path to the case context JSON file")
	analyzeCmd.Flags().StringVar(&analyzeResume, "resume-from", "", "Stage id to resume a failed run from")
	analyzeCmd.MarkFlagRequired("subject")
	analyzeCmd.MarkFlagRequired("input")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(analyzeInput)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	var req client.RunRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("parse input %s: %w", analyzeInput, err)
	}
	req.SubjectID = analyzeSubject
	req.ResumeFromStage = analyzeResume

	c := newClient()
	return c.Consume(cmd.Context(), &req, client.Callbacks{
		OnProgress: func(p client.StageStartPayload) {
			fmt.Printf("[%d/%d] %s\n", p.StageNumber, p.TotalStages, p.StageName)
		},
		OnStageComplete: func(p client.StageCompletePayload) {
			fmt.Printf("      done in %s\n", time.Duration(p.DurationMs)*time.Millisecond)
		},
		OnComplete: printResult,
		OnError: func(f *client.RunFailure) {
			if f.Stage == "" {
				return
			}
			fmt.Fprintf(os.Stderr, "\ncompleted stages: %s\n", strings.Join(f.CompletedStages, ", "))
			fmt.Fprintf(os.Stderr, "resume with: insightctl analyze --subject %s --input %s --resume-from %s\n",
				analyzeSubject, analyzeInput, f.Stage)
		},
	})
}

func printResult(result *client.Result) {
	if output == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(result)
		return
	}

	fmt.Println("\nAnalysis complete.")
	if result == nil {
		return
	}
	fmt.Printf("\nSummary: %s\n", result.Summary)
	fmt.Printf("Overall tone: %s\n", result.OverallTone)
	state := result.ConversationState.Status
	if result.ConversationState.PendingResponder != "" {
		state += ", awaiting " + result.ConversationState.PendingResponder
	}
	fmt.Printf("Conversation state: %s\n", state)
	fmt.Printf("Findings: %d topics, %d verified claims, %d issue actions, %d violations, %d annotated messages\n",
		len(result.Topics), len(result.VerifiedClaims), len(result.IssueActions),
		len(result.Violations), len(result.Annotations))
	fmt.Println("\nUse -o json for the full result.")
}
