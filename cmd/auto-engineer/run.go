package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/autoeng/auto-engineer/internal/config"
	"github.com/autoeng/auto-engineer/internal/identifier"
	"github.com/autoeng/auto-engineer/internal/orchestrator"
)

func runCmd() *cobra.Command {
	var repo string
	var issueArg string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process a single issue",
		Long: `Process a single issue through the workflow.

This runs a single pass through the state machine. If the issue
requires user input (e.g., answering questions, approving plan),
it will post the request and exit. Run again after providing input.

--issue takes "123" or "#123" for a GitHub/Gitea issue number. A Linear
issue key such as "PROJ-45" is recognized but rejected with an error,
since no Linear tracker client exists.

Example:
  auto-engineer run --repo owner/repo --issue 123`,
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

			return runSingle(repo, id)
		},
	}

	cmd.Flags().StringVar(&repo, "repo", "", "Repository (owner/repo)")
	cmd.Flags().StringVar(&issueArg, "issue", "", "Issue identifier (e.g. 123, #123, PROJ-45)")
	cmd.MarkFlagRequired("repo")
	cmd.MarkFlagRequired("issue")

	return cmd
}

func runSingle(repo string, id identifier.Identifier) error {
	if id.Provider != identifier.ProviderGitHub {
		return fmt.Errorf("identifier %s: provider %q is not yet wired to a tracker client", id, id.Provider)
	}
	issueNum, err := strconv.Atoi(strings.TrimPrefix(id.ID, "#"))
	if err != nil {
		return fmt.Errorf("identifier %s: %w", id, err)
	}

	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Create logger
	logger := log.New(os.Stdout, "[auto-engineer] ", log.LstdFlags)
	if verbose {
		logger.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	// Create provider
	provider, err := createProvider(cfg)
	if err != nil {
		return fmt.Errorf("failed to create provider: %w", err)
	}

	// Create daemon (reuse for single run)
	daemon := orchestrator.NewDaemon(cfg, provider, logger)

	// Set up signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		logger.Println("Received shutdown signal")
		cancel()
	}()

	// Run single issue
	return daemon.RunOnce(ctx, repo, issueNum)
}
