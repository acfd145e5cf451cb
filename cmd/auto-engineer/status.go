package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/autoeng/auto-engineer/internal/config"
	"github.com/autoeng/auto-engineer/internal/identifier"
	"github.com/autoeng/auto-engineer/internal/state"
	"github.com/autoeng/auto-engineer/internal/store"
)

func statusCmd() *cobra.Command {
	var repo string
	var issueArg string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check status of issues being processed",
		Long: `Check the current status of issues being processed by Auto Engineer.

If --issue is specified, shows detailed status for that issue.
Otherwise, lists all issues with the trigger label.

Example:
  auto-engineer status --repo owner/repo
  auto-engineer status --repo owner/repo --issue 123`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if repo == "" {
				return fmt.Errorf("--repo is required")
			}

			if issueArg != "" {
				id, err := identifier.Parse(issueArg)
				if err != nil {
					return err
				}
				return showIssueStatus(repo, id)
			}
			return listIssues(repo)
		},
	}

	cmd.Flags().StringVar(&repo, "repo", "", "Repository (owner/repo)")
	cmd.Flags().StringVar(&issueArg, "issue", "", "Specific issue identifier (optional, e.g. 123 or PROJ-45)")
	cmd.MarkFlagRequired("repo")

	return cmd
}

func listIssues(repo string) error {
	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Create provider
	provider, err := createProvider(cfg)
	if err != nil {
		return fmt.Errorf("failed to create provider: %w", err)
	}

	ctx := context.Background()

	// Get issues with trigger label
	issues, err := provider.ListIssuesWithLabel(ctx, repo, cfg.TriggerLabel)
	if err != nil {
		return fmt.Errorf("failed to list issues: %w", err)
	}

	if len(issues) == 0 {
		fmt.Printf("No issues found with label '%s'\n", cfg.TriggerLabel)
		return nil
	}

	stateStore := store.New(cfg.Defaults.StateDir)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ISSUE\tTITLE\tPHASE\tSTATUS\tAUTHOR")
	fmt.Fprintln(w, "-----\t-----\t-----\t------\t------")

	for _, issue := range issues {
		phase := state.ParsePhaseFromLabels(issue.Labels)
		title := issue.Title
		if len(title) > 50 {
			title = title[:47] + "..."
		}
		pipelineStatus := "-"
		if rec, err := stateStore.Load("#" + fmt.Sprint(issue.Number)); err == nil {
			pipelineStatus = rec.Status
		}
		fmt.Fprintf(w, "#%d\t%s\t%s\t%s\t%s\n", issue.Number, title, phase, pipelineStatus, issue.Author)
	}

	w.Flush()
	return nil
}

func showIssueStatus(repo string, id identifier.Identifier) error {
	if id.Provider != identifier.ProviderGitHub {
		return fmt.Errorf("identifier %s: provider %q is not yet wired to a tracker client", id, id.Provider)
	}

	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Create provider
	provider, err := createProvider(cfg)
	if err != nil {
		return fmt.Errorf("failed to create provider: %w", err)
	}

	ctx := context.Background()

	issueNum, err := githubIssueNumber(id)
	if err != nil {
		return err
	}

	// Get issue
	issue, err := provider.GetIssue(ctx, repo, issueNum)
	if err != nil {
		return fmt.Errorf("failed to get issue: %w", err)
	}

	// Get comments to find state
	comments, err := provider.GetComments(ctx, repo, issueNum)
	if err != nil {
		return fmt.Errorf("failed to get comments: %w", err)
	}

	// Parse state from comments
	var commentBodies []string
	for _, c := range comments {
		commentBodies = append(commentBodies, c.Body)
	}
	st, _ := state.ParseFromComments(commentBodies)

	// Display status
	fmt.Printf("Issue #%d: %s\n", issue.Number, issue.Title)
	fmt.Printf("Author: %s\n", issue.Author)
	fmt.Printf("State: %s\n", issue.State)
	fmt.Println()

	phase := state.ParsePhaseFromLabels(issue.Labels)
	fmt.Printf("Processing Phase: %s\n", phase)

	// Surface the file-based state store's record, the durable source of
	// truth for pipeline/ai status and the review cycle (§3, §4.7).
	rec, recErr := store.New(cfg.Defaults.StateDir).Load(id.ID)
	if recErr == nil {
		fmt.Printf("Pipeline Status: %s\n", rec.Status)
		fmt.Printf("AI Status: %s\n", rec.AIStatus)
		if rec.ReviewCycle != nil {
			fmt.Printf("Review Cycle: %s (iteration %d/%d)\n", rec.ReviewCycle.Status, rec.ReviewCycle.Iteration, rec.ReviewCycle.MaxIterations)
		}
	}

	if st != nil {
		fmt.Printf("Q&A Rounds: %d\n", st.QARound)
		fmt.Printf("Plan Version: %d\n", st.PlanVersion)
		fmt.Printf("Review Iteration: %d\n", st.ReviewIteration)
		if st.PRNumber > 0 {
			fmt.Printf("PR Number: #%d\n", st.PRNumber)
		}
		if st.BranchName != "" {
			fmt.Printf("Branch: %s\n", st.BranchName)
		}
		if st.Error != "" {
			fmt.Printf("Error: %s\n", st.Error)
		}
		fmt.Printf("Last Updated: %s\n", st.LastUpdated.Format("2006-01-02 15:04:05"))
	} else {
		fmt.Println("(No processing state found)")
	}

	return nil
}

// githubIssueNumber resolves a GitHub-provider identifier back to the bare
// integer the provider clients key on.
func githubIssueNumber(id identifier.Identifier) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(id.ID, "#"))
	if err != nil {
		return 0, fmt.Errorf("identifier %s: %w", id, err)
	}
	return n, nil
}
