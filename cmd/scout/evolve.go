package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"scout/internal/config"
	"scout/internal/knowledge"
)

func newEvolveCommand() *cobra.Command {
	var (
		projectKey  string
		projectRoot string
		syncDocs    bool
	)

	cmd := &cobra.Command{
		Use:   "evolve",
		Short: "Run one evolution cycle for a project and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if projectKey == "" || projectRoot == "" {
				return fmt.Errorf("--project-key and --project-root are required")
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			c, err := buildCore(cfg)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if syncDocs {
				if err := syncProjectDocs(ctx, c, projectKey, projectRoot); err != nil {
					return err
				}
			}

			evolver, err := buildEvolver(c, projectKey)
			if err != nil {
				return err
			}
			return evolver.RunCycle(ctx, projectKey, projectRoot)
		},
	}

	cmd.Flags().StringVar(&projectKey, "project-key", "", "project to evolve")
	cmd.Flags().StringVar(&projectRoot, "project-root", "", "filesystem root of the project")
	cmd.Flags().BoolVar(&syncDocs, "sync-docs", true, "re-index the project's markdown docs first")
	return cmd
}

// syncProjectDocs refreshes the markdown knowledge index before the cycle so
// generated questions can lean on up-to-date docs.
func syncProjectDocs(ctx context.Context, c *core, projectKey, projectRoot string) error {
	embedder, err := c.newEmbedder()
	if err != nil {
		return err
	}
	indexer, err := knowledge.NewIndexer(knowledge.IndexerConfig{
		ProjectDir: c.config.ProjectDir(projectKey),
	}, embedder)
	if err != nil {
		return err
	}
	indexed, removed, err := indexer.Sync(ctx, projectRoot)
	if err != nil {
		return err
	}
	fmt.Printf("docs index: %d files re-indexed, %d removed\n", indexed, removed)
	return nil
}
