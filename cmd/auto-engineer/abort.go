package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/autoeng/auto-engineer/internal/apperrors"
	"github.com/autoeng/auto-engineer/internal/config"
	"github.com/autoeng/auto-engineer/internal/identifier"
	"github.com/autoeng/auto-engineer/internal/state"
	"github.com/autoeng/auto-engineer/internal/store"
)

func abortCmd() *cobra.Command {
	var repo string
	var issueArg string

	cmd := &cobra.Command{
		Use:   "abort",
		Short: "Abort processing of an issue",
		Long: `Abort processing of an issue by adding the abort label.

This will stop any ongoing processing and mark the issue as failed.

Example:
  auto-engineer abort --repo owner/repo --issue 123`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if repo == "" {
				return fmt.Errorf("--repo is required")
			}
			if issueArg == "" {
				return fmt.Errorf("--issue is required")
			}

			id, err := identifier.Parse(issueArg)
			if err != nil {
				return err
			}

			return abortIssue(repo, id)
		},
	}

	cmd.Flags().StringVar(&repo, "repo", "", "Repository (owner/repo)")
	cmd.Flags().StringVar(&issueArg, "issue", "", "Issue identifier (e.g. 123, #123, PROJ-45)")
	cmd.MarkFlagRequired("repo")
	cmd.MarkFlagRequired("issue")

	return cmd
}

func abortIssue(repo string, id identifier.Identifier) error {
	if id.Provider != identifier.ProviderGitHub {
		return fmt.Errorf("identifier %s: provider %q is not yet wired to a tracker client", id, id.Provider)
	}
	issueNum, err := githubIssueNumber(id)
	if err != nil {
		return err
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

	// Add abort label
	if err := provider.AddLabel(ctx, repo, issueNum, "abort"); err != nil {
		return fmt.Errorf("failed to add abort label: %w", err)
	}

	// Post abort comment
	comment := "**Processing aborted** via CLI command."
	if err := provider.CreateComment(ctx, repo, issueNum, comment); err != nil {
		return fmt.Errorf("failed to post abort comment: %w", err)
	}

	// Update phase label
	if err := provider.AddLabel(ctx, repo, issueNum, state.PhaseFailed.Label()); err != nil {
		return fmt.Errorf("failed to add failed label: %w", err)
	}

	// Remove trigger label (best-effort, don't fail if it doesn't exist)
	if err := provider.RemoveLabel(ctx, repo, issueNum, cfg.TriggerLabel); err != nil {
		// Log but don't fail - the abort was still successful
		fmt.Fprintf(os.Stderr, "Warning: failed to remove trigger label: %v\n", err)
	}

	// Mark the state-store record failed, the durable source of truth for
	// pipeline status (§3), even when no record exists yet for this issue.
	stateStore := store.New(cfg.Defaults.StateDir)
	rec, loadErr := stateStore.Load(id.ID)
	if loadErr != nil {
		if !errors.Is(loadErr, apperrors.ErrNotFound) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load state-store record: %v\n", loadErr)
		}
		owner, name, _ := strings.Cut(repo, "/")
		rec = store.NewRecord(id.ID, store.Repository{Owner: owner, Name: name})
	}
	rec.Status = store.StatusFailed
	rec.AIStatus = store.AIStatusFailed
	if err := stateStore.Save(rec); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to persist state-store record: %v\n", err)
	}

	fmt.Printf("Aborted processing of issue #%d\n", issueNum)
	return nil
}
