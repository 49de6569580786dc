package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"scout/internal/config"
	"scout/internal/evolve"
	"scout/internal/knowledge"
	"scout/internal/server"
	"scout/internal/vector"
)

func newServeCommand() *cobra.Command {
	var (
		host        string
		port        int
		projectKey  string
		projectRoot string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the channel server (and the evolution loop when enabled)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if host != "" {
				cfg.Server.Host = host
			}
			if port != 0 {
				cfg.Server.Port = port
			}

			c, err := buildCore(cfg)
			if err != nil {
				return err
			}
			channel := server.New(cfg.Server, c.runner, c.sessions, c.dispatcher)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			group, ctx := errgroup.WithContext(ctx)
			group.Go(func() error { return channel.Run(ctx) })

			if cfg.Evolve.Enabled && projectKey != "" {
				evolver, err := buildEvolver(c, projectKey)
				if err != nil {
					return err
				}
				group.Go(func() error {
					err := evolver.Run(ctx, projectKey, projectRoot)
					if ctx.Err() != nil {
						return nil
					}
					return err
				})
			}
			return group.Wait()
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "bind address (overrides config)")
	cmd.Flags().IntVar(&port, "port", 0, "bind port (overrides config)")
	cmd.Flags().StringVar(&projectKey, "project-key", "", "project to evolve in the background")
	cmd.Flags().StringVar(&projectRoot, "project-root", "", "filesystem root of the evolved project")
	return cmd
}

// buildEvolver assembles the per-project evolution plane. A failing embedder
// configuration degrades to relational-only learning rather than aborting.
func buildEvolver(c *core, projectKey string) (*evolve.Evolver, error) {
	store, err := c.openVectorStore(projectKey)
	if err != nil {
		return nil, err
	}
	embedder, err := c.newEmbedder()
	if err != nil {
		embedder = nil
	}
	locks := vector.NewClassLocks()
	evolver := evolve.NewEvolver(c.config.Evolve, c.memory,
		evolve.NewGenerator(c.gateway, c.memory),
		evolve.NewGuard(c.config.Evolve, c.memory, store, embedder, locks),
		evolve.NewRecorder(c.gateway, c.memory, store, embedder, locks),
		c.runner)
	if embedder != nil {
		index, err := knowledge.NewIndexer(knowledge.IndexerConfig{
			ProjectDir: c.config.ProjectDir(projectKey),
		}, embedder)
		if err != nil {
			return nil, err
		}
		evolver.SetDocsIndex(index)
	}
	return evolver, nil
}
